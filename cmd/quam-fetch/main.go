// Command quam-fetch transcribes one video and writes the transcript to
// stdout as it arrives.
//
// Usage:
//
//	quam-fetch [-lang en] [-model small] [-live] <url>
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/quam/quam-engine/internal/config"
	"github.com/quam/quam-engine/internal/keyring"
	"github.com/quam/quam-engine/internal/transcript"
	"github.com/quam/quam-engine/internal/video"
	"github.com/rs/zerolog"
)

func main() {
	var overrides config.Overrides
	flag.StringVar(&overrides.EnvFile, "env-file", "", "path to .env file (default .env)")
	flag.StringVar(&overrides.LogLevel, "log-level", "", "log level (overrides LOG_LEVEL)")
	flag.StringVar(&overrides.JobServiceURL, "job-service-url", "", "job service base URL (overrides JOB_SERVICE_URL)")
	flag.StringVar(&overrides.KeysFile, "keys-file", "", "primary API key file (overrides PRIMARY_API_KEYS_FILE)")
	lang := flag.String("lang", "en", "transcript language")
	model := flag.String("model", "", "job service model (default JOB_DEFAULT_MODEL)")
	live := flag.Bool("live", false, "treat the video as a live broadcast")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: %s [flags] <url>\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load(overrides)
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}).With().Timestamp().Logger()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		log = log.Level(level)
	}

	ref, err := video.Parse(flag.Arg(0), *live)
	if err != nil {
		log.Fatal().Str("url", flag.Arg(0)).Msg("Invalid YouTube URL.")
	}

	os.Exit(run(cfg, ref, *lang, *model, log))
}

func run(cfg *config.Config, ref video.Reference, lang, model string, log zerolog.Logger) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var keys keyring.Source = keyring.NewStatic(cfg.PrimaryAPIKeys)
	if cfg.PrimaryAPIKeysFile != "" {
		file, err := keyring.LoadFile(cfg.PrimaryAPIKeysFile)
		if err != nil {
			log.Error().Err(err).Msg("failed to load primary API key file")
			return 1
		}
		keys = keyring.Chain{keys, keyring.NewStatic(file)}
	}

	jobs := transcript.NewJobClient(transcript.JobClientOptions{
		BaseURL: cfg.JobServiceURL,
		Timeout: cfg.JobRequestTimeout,
		Log:     log,
	})
	coordinator := transcript.NewCoordinator(
		transcript.NewFetcher(transcript.FetcherOptions{
			BaseURL:   cfg.PrimaryAPIURL,
			Host:      cfg.PrimaryAPIHost,
			LangRemap: cfg.PrimaryLangRemap,
			Timeout:   cfg.PrimaryTimeout,
			Log:       log,
		}),
		keys,
		transcript.NewOrchestrator(transcript.OrchestratorOptions{
			Jobs:            jobs,
			PollInterval:    cfg.PollInterval,
			MaxAttempts:     cfg.PollMaxAttempts,
			MaxAttemptsLive: cfg.PollMaxAttemptsLive,
			DefaultModel:    cfg.JobDefaultModel,
			Log:             log,
		}),
		log,
	)

	reg := transcript.NewRegistry(jobs, log)
	sink := newWriterSink(os.Stdout, log)
	res, err := coordinator.Transcribe(ctx, reg, transcript.Request{Ref: ref, Lang: lang, Model: model}, sink)
	sink.finish()
	if err != nil {
		if errors.Is(err, transcript.ErrTimeout) {
			return 3
		}
		return 1
	}

	if res.Status == transcript.StatusCancelled {
		// The process is about to exit, so wait for the cancel instead of
		// firing and forgetting it.
		if id := reg.Current(); id != "" {
			cctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := jobs.Cancel(cctx, id); err != nil {
				log.Warn().Err(err).Str("job_id", id).Msg("job cancel failed")
			}
		}
		return 130
	}
	return 0
}
