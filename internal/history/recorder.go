package history

import (
	"context"
	"errors"
	"time"

	"github.com/quam/quam-engine/internal/database"
	"github.com/quam/quam-engine/internal/storage"
	"github.com/quam/quam-engine/internal/transcript"
	"github.com/quam/quam-engine/internal/video"
	"github.com/rs/zerolog"
)

// Store persists transcript rows.
type Store interface {
	InsertTranscript(ctx context.Context, row *database.TranscriptRow) (int64, error)
}

// Entry describes one completed request.
type Entry struct {
	SessionID string
	RequestID string
	Ref       video.Reference
	Lang      string
	Model     string
	Result    *transcript.Result
	Elapsed   time.Duration
}

// Recorder writes finished transcripts to the database and the archive.
// Either backend may be nil.
type Recorder struct {
	store   Store
	archive storage.Archive
	timeout time.Duration
	log     zerolog.Logger
}

// NewRecorder creates a recorder.
func NewRecorder(store Store, archive storage.Archive, log zerolog.Logger) *Recorder {
	return &Recorder{
		store:   store,
		archive: archive,
		timeout: 10 * time.Second,
		log:     log.With().Str("component", "history").Logger(),
	}
}

// Enabled reports whether any backend is configured.
func (r *Recorder) Enabled() bool {
	return r != nil && (r.store != nil || r.archive != nil)
}

// Record stores e if it carries a completed transcript. Cancelled and empty
// results are skipped. The write is bounded by its own timeout so it still
// happens when the flow's context has been cancelled.
func (r *Recorder) Record(e Entry) error {
	if !r.Enabled() || e.Result == nil || e.Result.Status != transcript.StatusDone || e.Result.Text == "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	lang := e.Lang
	source := string(e.Result.Source)
	log := r.log.With().Str("video_id", e.Ref.ID).Str("lang", lang).Str("source", source).Logger()

	var errs []error
	if r.store != nil {
		id, err := r.store.InsertTranscript(ctx, &database.TranscriptRow{
			VideoID:    e.Ref.ID,
			Lang:       lang,
			Source:     source,
			Stream:     string(e.Ref.Stream),
			Model:      e.Model,
			JobID:      e.Result.JobID,
			SessionID:  e.SessionID,
			RequestID:  e.RequestID,
			Text:       e.Result.Text,
			DurationMs: int(e.Elapsed.Milliseconds()),
		})
		if err != nil {
			log.Warn().Err(err).Msg("transcript not saved to database")
			errs = append(errs, err)
		} else {
			log.Debug().Int64("id", id).Msg("transcript saved")
		}
	}

	if r.archive != nil {
		key, err := storage.SaveText(ctx, r.archive, e.Ref.ID, lang, source, e.Result.Text)
		if err != nil {
			log.Warn().Err(err).Msg("transcript not archived")
			errs = append(errs, err)
		} else {
			log.Debug().Str("key", key).Str("backend", r.archive.Type()).Msg("transcript archived")
		}
	}
	return errors.Join(errs...)
}
