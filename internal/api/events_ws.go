package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/hlog"
)

const (
	wsWriteWait = 10 * time.Second
	wsPongWait  = 2 * keepaliveInterval
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Same policy as CORS: any origin, gated by the bearer token.
	CheckOrigin: func(*http.Request) bool { return true },
}

// StreamEventsWS pushes the session's events as JSON text frames over a
// websocket. ?last_event_id= (or Last-Event-ID) replays missed events first.
func (h *SessionsHandler) StreamEventsWS(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session")
	log := hlog.FromRequest(r).With().Str("session", sessionID).Logger()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response.
		log.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	h.sessions.Touch(sessionID)
	ch, cancel := h.bus.Subscribe(sessionID)
	defer cancel()

	write := func(v any) error {
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		return conn.WriteJSON(v)
	}

	lastEventID := r.URL.Query().Get("last_event_id")
	if lastEventID == "" {
		lastEventID = r.Header.Get("Last-Event-ID")
	}
	var replayed map[string]struct{}
	if lastEventID != "" {
		missed := h.bus.ReplaySince(sessionID, lastEventID)
		replayed = make(map[string]struct{}, len(missed))
		for _, e := range missed {
			if err := write(e); err != nil {
				return
			}
			replayed[e.ID] = struct{}{}
		}
	}

	// The read loop only handles control frames and notices the close.
	closed := make(chan struct{})
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(keepaliveInterval)
	defer ping.Stop()

	log.Info().Msg("websocket client connected")
	for {
		select {
		case <-closed:
			log.Info().Msg("websocket client disconnected")
			return
		case <-r.Context().Done():
			return
		case e, ok := <-ch:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(wsWriteWait))
				return
			}
			if _, dup := replayed[e.ID]; dup {
				continue
			}
			if err := write(e); err != nil {
				log.Debug().Err(err).Msg("websocket write failed")
				return
			}
			h.sessions.Touch(sessionID)
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		}
	}
}
