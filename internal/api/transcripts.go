package api

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/quam/quam-engine/internal/database"
	"github.com/quam/quam-engine/internal/storage"
	"github.com/rs/zerolog/hlog"
)

// TranscriptStore reads transcript history.
type TranscriptStore interface {
	GetLatestTranscript(ctx context.Context, videoID, lang string) (*database.TranscriptAPI, error)
	ListTranscripts(ctx context.Context, f database.TranscriptFilter) ([]database.TranscriptAPI, int, error)
}

type TranscriptsHandler struct {
	store   TranscriptStore
	archive storage.Archive
}

func NewTranscriptsHandler(store TranscriptStore, archive storage.Archive) *TranscriptsHandler {
	return &TranscriptsHandler{store: store, archive: archive}
}

type transcriptListResponse struct {
	Transcripts []database.TranscriptAPI `json:"transcripts"`
	Total       int                      `json:"total"`
	Limit       int                      `json:"limit"`
	Offset      int                      `json:"offset"`
}

// ListTranscripts returns stored transcripts, newest first.
func (h *TranscriptsHandler) ListTranscripts(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		WriteError(w, http.StatusServiceUnavailable, "transcript history not configured")
		return
	}
	p, err := ParsePagination(r)
	if err != nil {
		WriteErrorDetail(w, http.StatusBadRequest, "invalid pagination", err.Error())
		return
	}
	q := r.URL.Query()
	f := database.TranscriptFilter{
		VideoID: q.Get("video_id"),
		Lang:    q.Get("lang"),
		Source:  q.Get("source"),
		Limit:   p.Limit,
		Offset:  p.Offset,
	}

	rows, total, err := h.store.ListTranscripts(r.Context(), f)
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("list transcripts failed")
		WriteError(w, http.StatusInternalServerError, "failed to list transcripts")
		return
	}
	if rows == nil {
		rows = []database.TranscriptAPI{}
	}
	WriteJSON(w, http.StatusOK, transcriptListResponse{
		Transcripts: rows,
		Total:       total,
		Limit:       p.Limit,
		Offset:      p.Offset,
	})
}

// GetTranscript returns the newest stored transcript for a video. ?lang=
// narrows the lookup to one language.
func (h *TranscriptsHandler) GetTranscript(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		WriteError(w, http.StatusServiceUnavailable, "transcript history not configured")
		return
	}
	videoID := chi.URLParam(r, "video_id")
	lang := r.URL.Query().Get("lang")

	t, err := h.store.GetLatestTranscript(r.Context(), videoID, lang)
	if errors.Is(err, database.ErrNotFound) {
		WriteError(w, http.StatusNotFound, "transcript not found")
		return
	}
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Str("video_id", videoID).Msg("transcript lookup failed")
		WriteError(w, http.StatusInternalServerError, "failed to get transcript")
		return
	}
	WriteJSON(w, http.StatusOK, t)
}

// GetArchived serves an archived transcript file. S3-backed archives
// redirect to a presigned URL when the file is not cached locally.
func (h *TranscriptsHandler) GetArchived(w http.ResponseWriter, r *http.Request) {
	if h.archive == nil {
		WriteError(w, http.StatusServiceUnavailable, "transcript archive not configured")
		return
	}
	key := storage.Key(chi.URLParam(r, "video_id"), chi.URLParam(r, "lang"), chi.URLParam(r, "source"))
	ctx := r.Context()

	if p := h.archive.LocalPath(key); p != "" {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		http.ServeFile(w, r, p)
		return
	}
	if !h.archive.Exists(ctx, key) {
		WriteError(w, http.StatusNotFound, "transcript not archived")
		return
	}
	if u, err := h.archive.URL(ctx, key); err == nil && u != "" {
		http.Redirect(w, r, u, http.StatusFound)
		return
	}

	rc, err := h.archive.Open(ctx, key)
	if errors.Is(err, storage.ErrNotArchived) {
		WriteError(w, http.StatusNotFound, "transcript not archived")
		return
	}
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Str("key", key).Msg("archive open failed")
		WriteError(w, http.StatusInternalServerError, "failed to read transcript")
		return
	}
	defer rc.Close()
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	io.Copy(w, rc)
}

// Routes registers transcript history routes on the given router.
func (h *TranscriptsHandler) Routes(r chi.Router) {
	r.Get("/transcripts", h.ListTranscripts)
	r.Get("/transcripts/{video_id}", h.GetTranscript)
	r.Get("/transcripts/{video_id}/archive/{lang}/{source}", h.GetArchived)
}
