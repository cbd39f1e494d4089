package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// ErrNotFound is returned when no row matches a lookup.
var ErrNotFound = errors.New("not found")

// TranscriptRow is the input for recording a served transcript.
type TranscriptRow struct {
	VideoID    string
	Lang       string
	Source     string // "primary" or "job"
	Stream     string // "regular" or "live"
	Model      string
	JobID      string
	SessionID  string
	RequestID  string
	Text       string
	DurationMs int
}

// TranscriptAPI is the transcript representation for API responses.
type TranscriptAPI struct {
	ID         int64     `json:"id"`
	VideoID    string    `json:"video_id"`
	Lang       string    `json:"lang"`
	Source     string    `json:"source"`
	Stream     string    `json:"stream"`
	Model      string    `json:"model,omitempty"`
	JobID      string    `json:"job_id,omitempty"`
	Text       string    `json:"text"`
	CharCount  int       `json:"char_count"`
	DurationMs int       `json:"duration_ms"`
	CreatedAt  time.Time `json:"created_at"`
}

// TranscriptFilter narrows ListTranscripts. Zero values disable a filter.
type TranscriptFilter struct {
	VideoID string
	Lang    string
	Source  string
	Limit   int
	Offset  int
}

// InsertTranscript records a transcript and returns its id.
func (db *DB) InsertTranscript(ctx context.Context, row *TranscriptRow) (int64, error) {
	var id int64
	err := db.Pool.QueryRow(ctx, `
		INSERT INTO transcripts (
			video_id, lang, source, stream, model, job_id,
			session_id, request_id, text, char_count, duration_ms
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id
	`,
		row.VideoID, row.Lang, row.Source, row.Stream, nullable(row.Model), nullable(row.JobID),
		nullable(row.SessionID), nullable(row.RequestID), row.Text, len(row.Text), row.DurationMs,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert transcript: %w", err)
	}
	return id, nil
}

const transcriptColumns = `
	id, video_id, lang, source, stream, COALESCE(model, ''), COALESCE(job_id, ''),
	text, char_count, duration_ms, created_at`

func scanTranscript(row pgx.Row) (*TranscriptAPI, error) {
	var t TranscriptAPI
	err := row.Scan(
		&t.ID, &t.VideoID, &t.Lang, &t.Source, &t.Stream, &t.Model, &t.JobID,
		&t.Text, &t.CharCount, &t.DurationMs, &t.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// GetLatestTranscript returns the newest transcript for a video. An empty
// lang matches any language.
func (db *DB) GetLatestTranscript(ctx context.Context, videoID, lang string) (*TranscriptAPI, error) {
	t, err := scanTranscript(db.Pool.QueryRow(ctx, `
		SELECT `+transcriptColumns+`
		FROM transcripts
		WHERE video_id = $1 AND ($2::text IS NULL OR lang = $2)
		ORDER BY created_at DESC
		LIMIT 1
	`, videoID, nullable(lang)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get transcript: %w", err)
	}
	return t, nil
}

// ListTranscripts returns matching transcripts, newest first, and the total
// match count.
func (db *DB) ListTranscripts(ctx context.Context, f TranscriptFilter) ([]TranscriptAPI, int, error) {
	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	const where = `
		WHERE ($1::text IS NULL OR video_id = $1)
		  AND ($2::text IS NULL OR lang = $2)
		  AND ($3::text IS NULL OR source = $3)`
	args := []any{nullable(f.VideoID), nullable(f.Lang), nullable(f.Source)}

	var total int
	if err := db.Pool.QueryRow(ctx, `SELECT count(*) FROM transcripts`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count transcripts: %w", err)
	}

	rows, err := db.Pool.Query(ctx, `
		SELECT `+transcriptColumns+`
		FROM transcripts`+where+`
		ORDER BY created_at DESC
		LIMIT $4 OFFSET $5
	`, append(args, limit, f.Offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("list transcripts: %w", err)
	}
	defer rows.Close()

	var out []TranscriptAPI
	for rows.Next() {
		t, err := scanTranscript(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan transcript: %w", err)
		}
		out = append(out, *t)
	}
	return out, total, rows.Err()
}

// PurgeTranscriptsOlderThan deletes transcripts older than retention.
func (db *DB) PurgeTranscriptsOlderThan(ctx context.Context, retention time.Duration) (int64, error) {
	tag, err := db.Pool.Exec(ctx,
		`DELETE FROM transcripts WHERE created_at < now() - $1::interval`,
		retention.String(),
	)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// nullable maps "" to NULL, which the ($n::text IS NULL OR col = $n) filters
// read as "any".
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
