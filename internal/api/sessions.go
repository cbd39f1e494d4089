package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/quam/quam-engine/internal/events"
	"github.com/quam/quam-engine/internal/history"
	"github.com/quam/quam-engine/internal/session"
	"github.com/quam/quam-engine/internal/transcript"
	"github.com/quam/quam-engine/internal/video"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
)

// defaultLang is used when a request names no language.
const defaultLang = "en"

// Transcriber runs the primary-then-job fallback policy for one request.
type Transcriber interface {
	Transcribe(ctx context.Context, reg *transcript.Registry, req transcript.Request, sink transcript.Sink) (*transcript.Result, error)
}

type SessionsOptions struct {
	Sessions     *session.Manager
	Transcriber  Transcriber
	Bus          *events.Bus
	History      *history.Recorder // may be nil
	DefaultModel string
	Log          zerolog.Logger
}

// SessionsHandler serves transcript requests, their event streams and
// session teardown.
type SessionsHandler struct {
	sessions     *session.Manager
	transcriber  Transcriber
	bus          *events.Bus
	history      *history.Recorder
	defaultModel string
	log          zerolog.Logger
}

func NewSessionsHandler(opts SessionsOptions) *SessionsHandler {
	return &SessionsHandler{
		sessions:     opts.Sessions,
		transcriber:  opts.Transcriber,
		bus:          opts.Bus,
		history:      opts.History,
		defaultModel: opts.DefaultModel,
		log:          opts.Log.With().Str("component", "flow").Logger(),
	}
}

// CreateTranscriptRequest is the body of POST /sessions/{session}/transcripts.
type CreateTranscriptRequest struct {
	URL   string `json:"url"`
	Lang  string `json:"lang"`
	Model string `json:"model"`
	Live  bool   `json:"live"`
}

type CreateTranscriptResponse struct {
	RequestID string       `json:"request_id"`
	VideoID   string       `json:"video_id"`
	Stream    video.Stream `json:"stream"`
}

// CreateTranscript starts a transcript flow, superseding any flow already
// running in the session. Progress is delivered on the session's event stream.
func (h *SessionsHandler) CreateTranscript(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session")

	var body CreateTranscriptRequest
	if err := DecodeJSON(w, r, &body); err != nil {
		WriteErrorDetail(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	ref, err := video.Parse(body.URL, body.Live)
	if err != nil {
		h.bus.Publish(sessionID, "", events.TypeNotice, transcript.Notice{
			Level:   transcript.NoticeError,
			Message: "Invalid YouTube URL.",
			Reason:  "invalid_reference",
		})
		WriteErrorDetail(w, http.StatusBadRequest, "Invalid YouTube URL.", err.Error())
		return
	}

	req := transcript.Request{
		Ref:   ref,
		Lang:  strings.TrimSpace(body.Lang),
		Model: strings.TrimSpace(body.Model),
	}
	if req.Lang == "" {
		req.Lang = defaultLang
	}

	requestID := h.sessions.Start(sessionID, h.flow(sessionID, req))
	hlog.FromRequest(r).Info().
		Str("session", sessionID).
		Str("request_id", requestID).
		Str("video_id", ref.ID).
		Str("stream", string(ref.Stream)).
		Msg("transcript requested")

	WriteJSON(w, http.StatusAccepted, CreateTranscriptResponse{
		RequestID: requestID,
		VideoID:   ref.ID,
		Stream:    ref.Stream,
	})
}

// flow runs on the session manager's goroutine.
func (h *SessionsHandler) flow(sessionID string, req transcript.Request) session.FlowFunc {
	return func(ctx context.Context, reg *transcript.Registry, requestID string) {
		log := h.log.With().
			Str("session", sessionID).
			Str("request_id", requestID).
			Str("video_id", req.Ref.ID).
			Logger()

		sink := h.bus.Sink(sessionID, requestID)
		start := time.Now()
		res, err := h.transcriber.Transcribe(ctx, reg, req, sink)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				log.Warn().Err(err).Str("reason", transcript.Reason(err)).Msg("transcript request failed")
			}
			return
		}
		sink.Result(res)
		log.Info().
			Str("source", string(res.Source)).
			Str("status", string(res.Status)).
			Dur("elapsed", time.Since(start)).
			Msg("transcript request finished")

		model := ""
		if res.Source == transcript.SourceJob {
			model = req.Model
			if model == "" {
				model = h.defaultModel
			}
		}
		if err := h.history.Record(history.Entry{
			SessionID: sessionID,
			RequestID: requestID,
			Ref:       req.Ref,
			Lang:      req.Lang,
			Model:     model,
			Result:    res,
			Elapsed:   time.Since(start),
		}); err != nil {
			log.Warn().Err(err).Msg("transcript history incomplete")
		}
	}
}

// Teardown ends the session. The current job, if any, is cancelled on the
// job service without waiting for the response.
func (h *SessionsHandler) Teardown(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session")
	if h.sessions.Teardown(sessionID) {
		hlog.FromRequest(r).Info().Str("session", sessionID).Msg("session torn down")
	}
	w.WriteHeader(http.StatusNoContent)
}

// Routes registers session routes on the given router. limit guards
// transcript creation.
func (h *SessionsHandler) Routes(r chi.Router, limit func(http.Handler) http.Handler) {
	r.Route("/sessions/{session}", func(r chi.Router) {
		r.With(limit).Post("/transcripts", h.CreateTranscript)
		r.Get("/events", h.StreamEvents)
		r.Get("/ws", h.StreamEventsWS)
		r.Delete("/", h.Teardown)
	})
}
