package transcript

import (
	"context"
	"sync"
	"time"

	"github.com/quam/quam-engine/internal/metrics"
	"github.com/rs/zerolog"
)

// cancelTimeout bounds the cancel sent for a superseded job. It runs on a
// context detached from the superseding flow so a flow cancelled in the
// meantime still delivers it.
const cancelTimeout = 5 * time.Second

// Registry holds the one job id that is current for a session. Every
// read-then-update of that id happens under a single lock, so a cancel can
// never target an id that has already been superseded.
type Registry struct {
	mu      sync.Mutex
	current string
	jobs    JobService
	log     zerolog.Logger
}

// NewRegistry creates an empty registry bound to a job service.
func NewRegistry(jobs JobService, log zerolog.Logger) *Registry {
	return &Registry{jobs: jobs, log: log}
}

// Current returns the current job id, or "".
func (r *Registry) Current() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

// Submit supersedes any current job and records the id returned by submit.
// The prior job is cancelled (best-effort) before submit runs. When ctx ends
// before or during submit, nothing is recorded: a job the service created
// anyway is told to stop and ctx's error is returned.
func (r *Registry) Submit(ctx context.Context, submit func(context.Context) (string, error)) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev := r.current; prev != "" {
		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cancelTimeout)
		err := r.jobs.Cancel(cctx, prev)
		cancel()
		if err != nil {
			r.log.Warn().Err(err).Str("job_id", prev).Msg("cancel of superseded job failed")
		} else {
			r.log.Info().Str("job_id", prev).Msg("superseded job cancelled")
		}
		metrics.SupersessionsTotal.Inc()
		r.current = ""
	}

	if err := ctx.Err(); err != nil {
		return "", err
	}
	id, err := submit(ctx)
	if err != nil {
		return "", err
	}
	if ctx.Err() != nil {
		r.jobs.NotifyCancel(id)
		r.log.Info().Str("job_id", id).Msg("job submitted by a superseded flow, cancel sent")
		return "", ctx.Err()
	}
	r.current = id
	return id, nil
}

// Supersede drops the current job, if any, with a fire-and-forget cancel.
// A flow that never reaches Submit calls it so the job of the flow it
// replaced does not outlive it.
func (r *Registry) Supersede() string {
	r.mu.Lock()
	id := r.current
	r.current = ""
	r.mu.Unlock()

	if id != "" {
		r.jobs.NotifyCancel(id)
		metrics.SupersessionsTotal.Inc()
		r.log.Info().Str("job_id", id).Msg("superseded job cancel sent")
	}
	return id
}

// Release clears id if it is still current. Called once the job service has
// reported a terminal status.
func (r *Registry) Release(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current == id {
		r.current = ""
	}
}

// Abandon clears id if current and tells the service to stop it without
// waiting. Used when the client gives up on a job that may still be running.
func (r *Registry) Abandon(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current != id {
		return
	}
	r.current = ""
	r.jobs.NotifyCancel(id)
}

// Teardown clears the current job and sends a fire-and-forget cancellation.
// It never waits on the network. Returns the id that was cleared, if any.
func (r *Registry) Teardown() string {
	r.mu.Lock()
	id := r.current
	r.current = ""
	r.mu.Unlock()

	if id != "" {
		r.jobs.NotifyCancel(id)
		r.log.Info().Str("job_id", id).Msg("teardown cancel sent")
	}
	return id
}
