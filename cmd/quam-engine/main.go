package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	quamengine "github.com/quam/quam-engine"
	"github.com/quam/quam-engine/internal/api"
	"github.com/quam/quam-engine/internal/config"
	"github.com/quam/quam-engine/internal/database"
	"github.com/quam/quam-engine/internal/events"
	"github.com/quam/quam-engine/internal/history"
	"github.com/quam/quam-engine/internal/keyring"
	"github.com/quam/quam-engine/internal/metrics"
	"github.com/quam/quam-engine/internal/mqttclient"
	"github.com/quam/quam-engine/internal/session"
	"github.com/quam/quam-engine/internal/storage"
	"github.com/quam/quam-engine/internal/transcript"
	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
)

// service is anything with a background loop to stop on shutdown.
type service interface {
	Start()
	Stop()
}

func main() {
	startTime := time.Now()

	var overrides config.Overrides
	flag.StringVar(&overrides.EnvFile, "env-file", "", "path to .env file (default .env)")
	flag.StringVar(&overrides.HTTPAddr, "listen", "", "HTTP listen address (overrides HTTP_ADDR)")
	flag.StringVar(&overrides.LogLevel, "log-level", "", "log level (overrides LOG_LEVEL)")
	flag.StringVar(&overrides.DatabaseURL, "database-url", "", "PostgreSQL URL (overrides DATABASE_URL)")
	flag.StringVar(&overrides.JobServiceURL, "job-service-url", "", "job service base URL (overrides JOB_SERVICE_URL)")
	flag.StringVar(&overrides.KeysFile, "keys-file", "", "primary API key file (overrides PRIMARY_API_KEYS_FILE)")
	flag.StringVar(&overrides.ArchiveDir, "archive-dir", "", "transcript archive directory (overrides ARCHIVE_DIR)")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	fullVersion := fmt.Sprintf("%s (commit=%s, built=%s)", version, commit, buildTime)
	if *showVersion {
		fmt.Println("quam-engine", fullVersion)
		return
	}

	// Config
	cfg, err := config.Load(overrides)
	if err != nil {
		early := zerolog.New(os.Stderr).With().Timestamp().Logger()
		early.Fatal().Err(err).Msg("failed to load config")
	}

	// Logger
	log := newLogger(cfg)
	log.Info().Str("version", fullVersion).Msg("quam-engine starting")

	// Context for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var services []service

	// Primary API keys
	keys, keyFile := loadKeys(ctx, cfg, log)
	if keyFile != nil {
		defer keyFile.Stop()
	}
	if keys.Len() == 0 {
		log.Warn().Msg("no primary API keys configured, every request goes to the job service")
	}

	// Backends
	jobs := transcript.NewJobClient(transcript.JobClientOptions{
		BaseURL: cfg.JobServiceURL,
		Timeout: cfg.JobRequestTimeout,
		Log:     log.With().Str("component", "job-client").Logger(),
	})
	fetcher := transcript.NewFetcher(transcript.FetcherOptions{
		BaseURL:   cfg.PrimaryAPIURL,
		Host:      cfg.PrimaryAPIHost,
		LangRemap: cfg.PrimaryLangRemap,
		Timeout:   cfg.PrimaryTimeout,
		Log:       log.With().Str("component", "primary-api").Logger(),
	})
	orchestrator := transcript.NewOrchestrator(transcript.OrchestratorOptions{
		Jobs:            jobs,
		PollInterval:    cfg.PollInterval,
		MaxAttempts:     cfg.PollMaxAttempts,
		MaxAttemptsLive: cfg.PollMaxAttemptsLive,
		DefaultModel:    cfg.JobDefaultModel,
		Log:             log.With().Str("component", "orchestrator").Logger(),
	})
	coordinator := transcript.NewCoordinator(fetcher, keys, orchestrator, log.With().Str("component", "coordinator").Logger())

	// Database (optional)
	var (
		db     *database.DB
		pool   *pgxpool.Pool
		store  api.TranscriptStore
		pinger api.Pinger
		rows   history.Store
	)
	if cfg.DatabaseURL != "" {
		dbLog := log.With().Str("component", "database").Logger()
		db, err = database.Connect(ctx, cfg.DatabaseURL, dbLog)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer db.Close()

		if err := db.Migrate(ctx, quamengine.Migrations()); err != nil {
			var merr *database.MigrationError
			if errors.As(err, &merr) {
				log.Fatal().Msg(merr.Error())
			}
			log.Fatal().Err(err).Msg("failed to run migrations")
		}
		pool, store, pinger, rows = db.Pool, db, db, db

		if cfg.HistoryRetention > 0 {
			services = append(services, database.NewHistoryPruner(db, cfg.HistoryRetention, log))
		}
	} else {
		log.Info().Msg("DATABASE_URL not set, transcript history disabled")
	}

	// Archive (optional)
	archive, archiveServices, err := storage.New(cfg.S3, cfg.ArchiveDir, log.With().Str("component", "storage").Logger())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize transcript archive")
	}
	for _, s := range archiveServices {
		services = append(services, s)
	}
	if archive != nil {
		log.Info().Str("backend", archive.Type()).Msg("transcript archive enabled")
	}
	recorder := history.NewRecorder(rows, archive, log)

	// Sessions
	sessions := session.NewManager(session.Options{
		Jobs:        jobs,
		Keys:        keys,
		IdleTimeout: cfg.SessionIdleTimeout,
		Log:         log,
	})
	if cfg.SessionIdleTimeout > 0 {
		services = append(services, session.NewReaper(sessions, cfg.SessionIdleTimeout/4, log))
	}

	// Events, with optional MQTT fan-out
	bus := events.NewBus(cfg.EventRingSize, log.With().Str("component", "events").Logger())
	var broker api.ConnChecker
	if cfg.MQTTBrokerURL != "" {
		mqtt, forwarder := connectBroker(cfg, sessions, log)
		defer mqtt.Close()
		bus.AddForwarder(forwarder)
		services = append(services, forwarder)
		broker = mqtt
	}

	backlog, _ := archive.(metrics.UploadBacklog)
	prometheus.MustRegister(metrics.NewCollector(pool, sessions, backlog))

	for _, s := range services {
		s.Start()
	}

	// HTTP Server
	srv := api.NewServer(api.ServerOptions{
		Config:      cfg,
		Sessions:    sessions,
		Transcriber: coordinator,
		Bus:         bus,
		History:     recorder,
		Store:       store,
		Archive:     archive,
		DB:          pinger,
		MQTT:        broker,
		Keys:        keys,
		Version:     fullVersion,
		StartTime:   startTime,
		Log:         log.With().Str("component", "http").Logger(),
	})

	// Start HTTP server in background
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	// Wait for shutdown signal or server error
	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("http server error")
		}
	}

	// Graceful shutdown with 10s timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown error")
	}
	if err := sessions.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("transcript flows still running at exit")
	}
	for i := len(services) - 1; i >= 0; i-- {
		services[i].Stop()
	}

	log.Info().Msg("quam-engine stopped")
}

func newLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	var out io.Writer = os.Stdout
	if cfg.LogFile != "" {
		out = zerolog.MultiLevelWriter(os.Stdout, &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    cfg.LogMaxSizeMB,
			MaxBackups: cfg.LogMaxBackups,
			MaxAge:     cfg.LogMaxAgeDays,
			Compress:   true,
		})
	}
	return zerolog.New(out).With().Timestamp().Logger().Level(level)
}

// loadKeys combines PRIMARY_API_KEYS with the hot-reloaded key file, if any.
func loadKeys(ctx context.Context, cfg *config.Config, log zerolog.Logger) (keyring.Source, *keyring.File) {
	static := keyring.NewStatic(cfg.PrimaryAPIKeys)
	if cfg.PrimaryAPIKeysFile == "" {
		return static, nil
	}
	file, err := keyring.NewFile(cfg.PrimaryAPIKeysFile, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load primary API key file")
	}
	if err := file.Start(ctx); err != nil {
		log.Warn().Err(err).Msg("key file watch failed, keys will not hot-reload")
	}
	log.Info().Int("static", static.Len()).Int("file", file.Len()).Msg("primary API keys loaded")
	return keyring.Chain{static, file}, file
}

// connectBroker connects to MQTT, forwards events to it and, when enabled,
// tears sessions down on {prefix}/{session}/teardown.
func connectBroker(cfg *config.Config, sessions *session.Manager, log zerolog.Logger) (*mqttclient.Client, *events.BrokerForwarder) {
	mqttLog := log.With().Str("component", "mqtt").Logger()
	opts := mqttclient.Options{
		BrokerURL:   cfg.MQTTBrokerURL,
		ClientID:    cfg.MQTTClientID,
		Username:    cfg.MQTTUsername,
		Password:    cfg.MQTTPassword,
		QoS:         1,
		StatusTopic: cfg.MQTTTopicPrefix + "/status",
		Log:         mqttLog,
	}
	if cfg.MQTTControl {
		opts.Subscriptions = map[string]mqttclient.MessageHandler{
			cfg.MQTTTopicPrefix + "/+/teardown": func(topic string, _ []byte) {
				id, ok := mqttclient.SessionFromTopic(cfg.MQTTTopicPrefix, topic, "teardown")
				if !ok {
					return
				}
				if sessions.Teardown(id) {
					mqttLog.Info().Str("session", id).Msg("session torn down via broker")
				}
			},
		}
	}
	mqtt, err := mqttclient.Connect(opts)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to mqtt broker")
	}
	return mqtt, events.NewBrokerForwarder(mqtt, cfg.MQTTTopicPrefix, 256, log)
}
