package transcript

import (
	"context"
	"errors"

	"github.com/quam/quam-engine/internal/metrics"
	"github.com/quam/quam-engine/internal/video"
	"github.com/rs/zerolog"
)

// Source records which backend produced a transcript.
type Source string

const (
	SourcePrimary Source = "primary"
	SourceJob     Source = "job"
)

// Request is one transcript request. Lang is kept as the caller gave it;
// the primary fetcher remaps its own copy.
type Request struct {
	Ref   video.Reference
	Lang  string
	Model string
}

// Result is the outcome of a successful or cancelled request.
type Result struct {
	Text   string    `json:"text"`
	Source Source    `json:"source"`
	JobID  string    `json:"job_id,omitempty"`
	Status JobStatus `json:"status"`
}

// PrimaryFetcher is the primary transcript API.
type PrimaryFetcher interface {
	Fetch(ctx context.Context, videoID, lang string, keys KeyPool) ([]Segment, error)
}

// KeySource hands out a snapshot of the current key pool.
type KeySource interface {
	Keys() KeyPool
}

// StaticKeys is a KeySource over a fixed pool.
type StaticKeys KeyPool

func (s StaticKeys) Keys() KeyPool { return KeyPool(s) }

// Coordinator picks the backend for each request: the primary API first,
// the job service on any primary failure, and the job service directly for
// live broadcasts.
type Coordinator struct {
	primary PrimaryFetcher
	keys    KeySource
	jobs    *Orchestrator
	log     zerolog.Logger
}

// NewCoordinator wires the two backends together.
func NewCoordinator(primary PrimaryFetcher, keys KeySource, jobs *Orchestrator, log zerolog.Logger) *Coordinator {
	return &Coordinator{primary: primary, keys: keys, jobs: jobs, log: log}
}

// TranscribeURL parses rawURL and runs Transcribe. An unparseable URL is
// reported to sink and returned without touching either backend.
func (c *Coordinator) TranscribeURL(ctx context.Context, reg *Registry, rawURL, lang, model string, forceLive bool, sink Sink) (*Result, error) {
	ref, err := video.Parse(rawURL, forceLive)
	if err != nil {
		sink.Notify(Notice{Level: NoticeError, Message: "Invalid YouTube URL.", Reason: "invalid_reference"})
		return nil, err
	}
	return c.Transcribe(ctx, reg, Request{Ref: ref, Lang: lang, Model: model}, sink)
}

// Transcribe runs the fallback policy for req.
func (c *Coordinator) Transcribe(ctx context.Context, reg *Registry, req Request, sink Sink) (*Result, error) {
	if req.Ref.ID == "" {
		sink.Notify(Notice{Level: NoticeError, Message: "Invalid YouTube URL.", Reason: "invalid_reference"})
		return nil, video.ErrInvalidReference
	}

	sink.Loading(true)
	defer sink.Loading(false)

	log := c.log.With().Str("video_id", req.Ref.ID).Str("lang", req.Lang).Logger()

	if req.Ref.IsLive() {
		metrics.FallbacksTotal.WithLabelValues("live").Inc()
		log.Info().Msg("live stream, skipping primary API")
		return c.runJob(ctx, reg, req, sink)
	}

	// The job of a superseded flow would otherwise run on until the next
	// submit or teardown.
	reg.Supersede()

	segments, err := c.primary.Fetch(ctx, req.Ref.ID, req.Lang, c.keys.Keys())
	if ctx.Err() != nil {
		sink.Notify(Notice{Level: NoticeInfo, Message: "Transcription cancelled.", Reason: "cancelled"})
		return &Result{Source: SourcePrimary, Status: StatusCancelled}, nil
	}
	if err == nil && !ValidPayload(segments) {
		err = ErrEmptyResult
	}
	if err == nil {
		text := segments[0].Text
		sink.Final(text)
		log.Info().Int("chars", len(text)).Msg("transcript served by primary API")
		return &Result{Text: text, Source: SourcePrimary, Status: StatusDone}, nil
	}

	reason := Reason(err)
	metrics.FallbacksTotal.WithLabelValues(reason).Inc()
	log.Warn().Err(err).Str("reason", reason).Msg("primary API unusable, falling back to job service")
	return c.runJob(ctx, reg, req, sink)
}

func (c *Coordinator) runJob(ctx context.Context, reg *Registry, req Request, sink Sink) (*Result, error) {
	res, err := c.jobs.Run(ctx, reg, req, sink)
	if err != nil {
		sink.Clear()
		sink.Notify(Notice{Level: NoticeError, Message: UserMessage(err), Reason: Reason(err)})
		return nil, err
	}
	if res.Status == StatusCancelled {
		sink.Notify(Notice{Level: NoticeInfo, Message: "Transcription cancelled.", Reason: "cancelled"})
	}
	return res, nil
}

// UserMessage renders a job-path failure for display.
func UserMessage(err error) string {
	var jobErr *JobError
	switch {
	case errors.Is(err, ErrTimeout):
		return "Whisper transcription timed out."
	case errors.As(err, &jobErr):
		return "Whisper error: " + jobErr.Message
	case errors.Is(err, video.ErrInvalidReference):
		return "Invalid YouTube URL."
	default:
		return "Whisper error: " + err.Error()
	}
}
