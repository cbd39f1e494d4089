package transcript

import (
	"context"
	"time"

	"github.com/quam/quam-engine/internal/metrics"
	"github.com/rs/zerolog"
)

const (
	// ProvenanceMarker is appended once to every job-produced transcript.
	ProvenanceMarker = "\n\n(Transcribed by Whisper)"

	// EmptyJobTranscript replaces a finished job's empty transcript.
	EmptyJobTranscript = "No transcript found in audio."

	jobWorkingMessage = "Transcribing audio with Whisper... (this may take a while)"
)

// OrchestratorOptions configures job submission and polling.
type OrchestratorOptions struct {
	Jobs            JobService
	PollInterval    time.Duration // delay before every status query
	MaxAttempts     int           // poll budget for regular videos
	MaxAttemptsLive int           // poll budget for live broadcasts
	DefaultModel    string
	Log             zerolog.Logger
}

// Orchestrator drives one job from submission to a terminal status.
type Orchestrator struct {
	jobs     JobService
	interval time.Duration
	budget   int
	live     int
	model    string
	log      zerolog.Logger
}

// NewOrchestrator creates a job orchestrator.
func NewOrchestrator(opts OrchestratorOptions) *Orchestrator {
	live := opts.MaxAttemptsLive
	if live <= 0 {
		live = opts.MaxAttempts
	}
	return &Orchestrator{
		jobs:     opts.Jobs,
		interval: opts.PollInterval,
		budget:   opts.MaxAttempts,
		live:     live,
		model:    opts.DefaultModel,
		log:      opts.Log,
	}
}

// Budget returns the poll attempt budget for req.
func (o *Orchestrator) Budget(req Request) int {
	if req.Ref.IsLive() {
		return o.live
	}
	return o.budget
}

// Run submits req through reg and polls it until a terminal status or until
// the attempt budget runs out. Cancellation of ctx is observed on every
// iteration and yields a Cancelled result that keeps the partial transcript.
func (o *Orchestrator) Run(ctx context.Context, reg *Registry, req Request, sink Sink) (*Result, error) {
	model := req.Model
	if model == "" {
		model = o.model
	}
	log := o.log.With().Str("video_id", req.Ref.ID).Str("stream", string(req.Ref.Stream)).Logger()

	if ctx.Err() != nil {
		return o.cancelled(log, NewJobHandle(""), sink), nil
	}
	sink.Progress(jobWorkingMessage)

	jobID, err := reg.Submit(ctx, func(ctx context.Context) (string, error) {
		return o.jobs.Submit(ctx, JobRequest{URL: req.Ref.URL, Lang: req.Lang, Model: model})
	})
	if err != nil && ctx.Err() != nil {
		return o.cancelled(log, NewJobHandle(""), sink), nil
	}
	if err != nil {
		metrics.JobsTotal.WithLabelValues("submission_error").Inc()
		return nil, &SubmissionError{Err: err}
	}
	log = log.With().Str("job_id", jobID).Logger()
	log.Info().Str("model", model).Msg("transcription job submitted")

	h := NewJobHandle(jobID)
	budget := o.Budget(req)

	timer := time.NewTimer(o.interval)
	defer timer.Stop()

	for attempt := 1; attempt <= budget; attempt++ {
		if attempt > 1 {
			timer.Reset(o.interval)
		}
		select {
		case <-ctx.Done():
			return o.cancelled(log, h, sink), nil
		case <-timer.C:
		}

		resp, err := o.jobs.Status(ctx, jobID)
		metrics.PollAttemptsTotal.Inc()
		if err != nil {
			if ctx.Err() != nil {
				return o.cancelled(log, h, sink), nil
			}
			o.fail(h, err.Error())
			reg.Abandon(jobID)
			metrics.JobsTotal.WithLabelValues("poll_error").Inc()
			return nil, &PollError{JobID: jobID, Attempt: attempt, Err: err}
		}

		h.CurrentChunk = resp.CurrentChunk
		h.TotalChunks = resp.TotalChunks

		switch mapStatus(resp.Status) {
		case StatusDone:
			res, err := o.finish(h, resp.Transcript, sink)
			if err != nil {
				reg.Release(jobID)
				metrics.JobsTotal.WithLabelValues("consistency_error").Inc()
				return nil, err
			}
			reg.Release(jobID)
			metrics.JobsTotal.WithLabelValues(string(StatusDone)).Inc()
			log.Info().Int("attempts", attempt).Int("chars", len(res.Text)).Msg("transcription job done")
			return res, nil

		case StatusError:
			msg := resp.Error
			if msg == "" {
				msg = "Unknown error"
			}
			o.fail(h, msg)
			reg.Release(jobID)
			metrics.JobsTotal.WithLabelValues(string(StatusError)).Inc()
			log.Warn().Str("error", msg).Msg("transcription job failed")
			return nil, &JobError{JobID: jobID, Message: msg}

		case StatusCancelled:
			delta, err := h.Advance(resp.Transcript)
			if err != nil {
				log.Warn().Err(err).Msg("cancelled job returned a transcript that does not extend the delivered one, keeping delivered text")
			} else if delta != "" {
				sink.Append(delta)
			}
			reg.Release(jobID)
			return o.cancelled(log, h, sink), nil

		default:
			if err := h.Transition(StatusPolling); err != nil {
				return nil, err
			}
			delta, err := h.Advance(resp.Transcript)
			if err != nil {
				o.fail(h, err.Error())
				reg.Abandon(jobID)
				metrics.JobsTotal.WithLabelValues("consistency_error").Inc()
				return nil, err
			}
			if delta != "" {
				sink.Append(delta)
			}
			if p := h.Progress(); p != "" {
				sink.Progress(p)
			}
		}
	}

	h.discard()
	_ = h.Transition(StatusTimedOut)
	reg.Abandon(jobID)
	metrics.JobsTotal.WithLabelValues(string(StatusTimedOut)).Inc()
	log.Warn().Int("attempts", budget).Msg("transcription job timed out")
	return nil, ErrTimeout
}

// finish folds the final transcript, appends the provenance marker once and
// freezes the handle.
func (o *Orchestrator) finish(h *JobHandle, final string, sink Sink) (*Result, error) {
	delta, err := h.Advance(final)
	if err != nil {
		o.fail(h, err.Error())
		return nil, err
	}
	if delta != "" {
		sink.Append(delta)
	}
	if h.Transcript() == "" {
		h.appendFinal(EmptyJobTranscript)
		sink.Append(EmptyJobTranscript)
	}
	h.appendFinal(ProvenanceMarker)
	sink.Append(ProvenanceMarker)
	if err := h.Transition(StatusDone); err != nil {
		return nil, err
	}
	sink.Final(h.Transcript())
	return &Result{Text: h.Transcript(), Source: SourceJob, JobID: h.ID, Status: StatusDone}, nil
}

func (o *Orchestrator) fail(h *JobHandle, msg string) {
	h.discard()
	h.ErrMessage = msg
	_ = h.Transition(StatusError)
}

func (o *Orchestrator) cancelled(log zerolog.Logger, h *JobHandle, sink Sink) *Result {
	_ = h.Transition(StatusCancelled)
	metrics.JobsTotal.WithLabelValues(string(StatusCancelled)).Inc()
	log.Info().Int("partial_chars", len(h.Transcript())).Msg("transcription job cancelled")
	return &Result{Text: h.Transcript(), Source: SourceJob, JobID: h.ID, Status: StatusCancelled}
}
