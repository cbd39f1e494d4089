package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ErrNotArchived is returned by Open when no backend holds the key.
var ErrNotArchived = errors.New("transcript not archived")

const tempPattern = ".transcript-*.tmp"

// LocalStore keeps transcripts as plain files under a root directory, laid
// out as {root}/{video_id}/{lang}/{source}.txt.
type LocalStore struct {
	root string
}

func NewLocalStore(root string) *LocalStore {
	return &LocalStore{root: root}
}

func (s *LocalStore) path(key string) string {
	return filepath.Join(s.root, filepath.FromSlash(key))
}

// Save replaces the file for key. Readers never observe a partial transcript.
func (s *LocalStore) Save(_ context.Context, key string, data []byte, _ string) error {
	return writeAtomic(s.path(key), data)
}

func writeAtomic(dst string, data []byte) (err error) {
	dir := filepath.Dir(dst)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}
	f, err := os.CreateTemp(dir, tempPattern)
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	defer func() {
		if err != nil {
			os.Remove(f.Name())
		}
	}()
	if _, err = f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", dst, err)
	}
	if err = f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", dst, err)
	}
	if err = os.Rename(f.Name(), dst); err != nil {
		return fmt.Errorf("rename %s: %w", dst, err)
	}
	return nil
}

func (s *LocalStore) LocalPath(key string) string {
	p := s.path(key)
	if info, err := os.Stat(p); err == nil && info.Mode().IsRegular() {
		return p
	}
	return ""
}

// URL is always empty; local transcripts are served from LocalPath.
func (s *LocalStore) URL(context.Context, string) (string, error) { return "", nil }

func (s *LocalStore) Open(_ context.Context, key string) (io.ReadCloser, error) {
	f, err := os.Open(s.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", key, ErrNotArchived)
	}
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (s *LocalStore) Exists(_ context.Context, key string) bool {
	return s.LocalPath(key) != ""
}

func (s *LocalStore) Type() string { return "local" }

// walk calls fn for every archived transcript modified at or after since.
// In-flight temp files are skipped.
func (s *LocalStore) walk(since time.Time, fn func(key string)) error {
	return filepath.WalkDir(s.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == s.root && errors.Is(err, fs.ErrNotExist) {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || strings.HasSuffix(d.Name(), ".tmp") {
			return nil
		}
		info, err := d.Info()
		if err != nil || info.ModTime().Before(since) {
			return nil
		}
		rel, err := filepath.Rel(s.root, p)
		if err != nil {
			return nil
		}
		fn(filepath.ToSlash(rel))
		return nil
	})
}
