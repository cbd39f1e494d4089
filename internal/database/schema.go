package database

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strconv"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	migratepgx "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/rs/zerolog"
)

const migrationsTable = "schema_migrations"

// Migrate applies every pending migration in fsys, a directory of
// {version}_{name}.up.sql / .down.sql files. A failure returns
// *MigrationError; the engine's queries depend on the schema, so callers
// treat it as fatal.
func (db *DB) Migrate(ctx context.Context, fsys fs.FS) error {
	src, err := iofs.New(fsys, ".")
	if err != nil {
		return fmt.Errorf("migration source: %w", err)
	}
	conn := stdlib.OpenDB(*db.Pool.Config().ConnConfig)
	driver, err := migratepgx.WithInstance(conn, &migratepgx.Config{MigrationsTable: migrationsTable})
	if err != nil {
		conn.Close()
		return fmt.Errorf("migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "pgx5", driver)
	if err != nil {
		conn.Close()
		return fmt.Errorf("migrate: %w", err)
	}
	defer m.Close()
	m.Log = migrateLog{db.log}

	stop := context.AfterFunc(ctx, func() {
		select {
		case m.GracefulStop <- true:
		default:
		}
	})
	defer stop()

	err = m.Up()
	if errors.Is(err, migrate.ErrNoChange) {
		return nil
	}
	if err != nil {
		version, dirty, _ := m.Version()
		first := version + 1
		if dirty {
			first = version
		}
		pending, _ := pendingMigrations(fsys, first)
		return &MigrationError{Version: first, pending: pending, err: err}
	}
	if version, _, err := m.Version(); err == nil {
		db.log.Info().Uint("version", version).Msg("schema up to date")
	}
	return nil
}

// migrateLog routes golang-migrate's progress lines into zerolog.
type migrateLog struct{ log zerolog.Logger }

func (l migrateLog) Printf(format string, v ...any) {
	l.log.Info().Msg(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func (l migrateLog) Verbose() bool { return false }

type migrationFile struct {
	version uint
	name    string
	sql     string
}

// pendingMigrations returns the up migrations in fsys numbered first or
// later, in order.
func pendingMigrations(fsys fs.FS, first uint) ([]migrationFile, error) {
	names, err := fs.Glob(fsys, "*.up.sql")
	if err != nil {
		return nil, err
	}
	var out []migrationFile
	for _, name := range names {
		prefix, _, ok := strings.Cut(path.Base(name), "_")
		if !ok {
			continue
		}
		v, err := strconv.ParseUint(prefix, 10, 64)
		if err != nil || uint(v) < first {
			continue
		}
		body, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, err
		}
		out = append(out, migrationFile{version: uint(v), name: name, sql: strings.TrimSpace(string(body))})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].version < out[j].version })
	return out, nil
}

// MigrationError reports a failed migration together with the SQL an
// operator can run by hand, typically when the engine's role lacks DDL rights.
type MigrationError struct {
	Version uint
	pending []migrationFile
	err     error
}

func (e *MigrationError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "schema migration %d failed: %v\n\nApply manually as a privileged role:\n\n", e.Version, e.err)
	last := e.Version
	for _, m := range e.pending {
		fmt.Fprintf(&b, "  -- %s\n  %s\n", m.name, m.sql)
		last = m.version
	}
	fmt.Fprintf(&b, "\nthen record it and restart:\n\n  UPDATE %s SET version = %d, dirty = false;\n", migrationsTable, last)
	return b.String()
}

func (e *MigrationError) Unwrap() error { return e.err }
