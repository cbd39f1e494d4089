package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/quam/quam-engine/internal/config"
	"github.com/quam/quam-engine/internal/events"
	"github.com/quam/quam-engine/internal/history"
	"github.com/quam/quam-engine/internal/metrics"
	"github.com/quam/quam-engine/internal/session"
	"github.com/quam/quam-engine/internal/storage"
	"github.com/rs/zerolog"
)

// ServerOptions wires the HTTP surface to the engine. Store, Archive, DB and
// MQTT may be nil when the matching backend is disabled.
type ServerOptions struct {
	Config      *config.Config
	Sessions    *session.Manager
	Transcriber Transcriber
	Bus         *events.Bus
	History     *history.Recorder
	Store       TranscriptStore
	Archive     storage.Archive
	DB          Pinger
	MQTT        ConnChecker
	Keys        KeyCounter
	Version     string
	StartTime   time.Time
	Log         zerolog.Logger
}

type Server struct {
	http *http.Server
	log  zerolog.Logger
}

// NewRouter builds the route tree. It is split from NewServer so tests can
// drive it through httptest.
func NewRouter(opts ServerOptions) http.Handler {
	cfg := opts.Config
	r := chi.NewRouter()

	// Global middleware
	r.Use(StreamDeadline)
	r.Use(RequestID)
	r.Use(Recoverer)
	r.Use(Logger(opts.Log))
	r.Use(CORS)
	r.Use(metrics.InstrumentHandler)

	health := NewHealthHandler(opts.DB, opts.MQTT, opts.Keys, opts.Version, opts.StartTime)
	r.Handle("/metrics", promhttp.Handler())

	sessions := NewSessionsHandler(SessionsOptions{
		Sessions:     opts.Sessions,
		Transcriber:  opts.Transcriber,
		Bus:          opts.Bus,
		History:      opts.History,
		DefaultModel: cfg.JobDefaultModel,
		Log:          opts.Log,
	})
	transcripts := NewTranscriptsHandler(opts.Store, opts.Archive)
	limit := RateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst, SessionKey)

	r.Route("/api/v1", func(r chi.Router) {
		// Health endpoint, no auth
		r.Get("/health", health.ServeHTTP)

		// Authenticated routes
		r.Group(func(r chi.Router) {
			r.Use(BearerAuth(cfg.AuthToken))
			sessions.Routes(r, limit)
			transcripts.Routes(r)
		})
	})
	return r
}

func NewServer(opts ServerOptions) *Server {
	cfg := opts.Config
	return &Server{
		http: &http.Server{
			Addr:         cfg.HTTPAddr,
			Handler:      NewRouter(opts),
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  cfg.IdleTimeout,
		},
		log: opts.Log,
	}
}

func (s *Server) Start() error {
	s.log.Info().Str("addr", s.http.Addr).Msg("http server starting")
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("http server shutting down")
	return s.http.Shutdown(ctx)
}
