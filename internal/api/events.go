package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/quam/quam-engine/internal/events"
	"github.com/rs/zerolog/hlog"
)

const keepaliveInterval = 15 * time.Second

func writeEvent(w http.ResponseWriter, e events.Event) {
	fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", e.ID, e.Type, e.Data)
}

// StreamEvents opens an SSE connection and pushes the session's events.
func (h *SessionsHandler) StreamEvents(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session")

	flusher, ok := w.(http.Flusher)
	if !ok {
		WriteError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	h.sessions.Touch(sessionID)

	// Set SSE headers
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	// Subscribe before replaying so nothing published in between is lost.
	ch, cancel := h.bus.Subscribe(sessionID)
	defer cancel()

	// Replay missed events if Last-Event-ID is provided
	var replayed map[string]struct{}
	if lastEventID := r.Header.Get("Last-Event-ID"); lastEventID != "" {
		missed := h.bus.ReplaySince(sessionID, lastEventID)
		replayed = make(map[string]struct{}, len(missed))
		for _, e := range missed {
			writeEvent(w, e)
			replayed[e.ID] = struct{}{}
		}
	}
	flusher.Flush()

	keepalive := time.NewTicker(keepaliveInterval)
	defer keepalive.Stop()

	log := hlog.FromRequest(r).With().Str("session", sessionID).Logger()
	log.Info().Msg("SSE client connected")

	for {
		select {
		case <-r.Context().Done():
			log.Info().Msg("SSE client disconnected")
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			// Skip events already sent during replay.
			if _, dup := replayed[e.ID]; dup {
				continue
			}
			writeEvent(w, e)
			flusher.Flush()
			h.sessions.Touch(sessionID)
		case <-keepalive.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		}
	}
}
