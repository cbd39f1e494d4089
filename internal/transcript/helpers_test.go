package transcript

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// fakeJobs is an in-memory JobService with scripted status responses.
type fakeJobs struct {
	mu        sync.Mutex
	calls     []string
	submitted []JobRequest
	polls     int
	nextID    int
	submitErr error
	cancelErr error

	// onSubmit, when set, runs before every submit; a non-nil error fails it.
	onSubmit func(ctx context.Context) error

	// status returns the response for the n-th poll (1-based).
	status func(n int) (*JobStatusResponse, error)

	notified chan string
}

func newFakeJobs(status func(n int) (*JobStatusResponse, error)) *fakeJobs {
	return &fakeJobs{status: status, notified: make(chan string, 16)}
}

func (f *fakeJobs) Submit(ctx context.Context, req JobRequest) (string, error) {
	if f.onSubmit != nil {
		if err := f.onSubmit(ctx); err != nil {
			return "", err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitErr != nil {
		f.calls = append(f.calls, "submit:error")
		return "", f.submitErr
	}
	f.nextID++
	id := fmt.Sprintf("job-%d", f.nextID)
	f.calls = append(f.calls, "submit:"+id)
	f.submitted = append(f.submitted, req)
	return id, nil
}

func (f *fakeJobs) Status(ctx context.Context, jobID string) (*JobStatusResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.polls++
	n := f.polls
	f.calls = append(f.calls, "status:"+jobID)
	f.mu.Unlock()
	return f.status(n)
}

func (f *fakeJobs) Cancel(ctx context.Context, jobID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "cancel:"+jobID)
	return f.cancelErr
}

func (f *fakeJobs) NotifyCancel(jobID string) {
	f.mu.Lock()
	f.calls = append(f.calls, "notify:"+jobID)
	f.mu.Unlock()
	f.notified <- jobID
}

func (f *fakeJobs) pollCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.polls
}

func (f *fakeJobs) callLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// script returns a status func that walks through responses and repeats the last.
func script(responses ...*JobStatusResponse) func(int) (*JobStatusResponse, error) {
	return func(n int) (*JobStatusResponse, error) {
		if n > len(responses) {
			n = len(responses)
		}
		r := *responses[n-1]
		return &r, nil
	}
}

func running(text string) *JobStatusResponse {
	return &JobStatusResponse{Status: "running", Transcript: text}
}

// recordingSink captures every presentation update.
type recordingSink struct {
	mu       sync.Mutex
	loading  []bool
	appends  []string
	finals   []string
	progress []string
	clears   int
	notices  []Notice
}

func (s *recordingSink) Loading(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loading = append(s.loading, on)
}

func (s *recordingSink) Append(delta string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appends = append(s.appends, delta)
}

func (s *recordingSink) Final(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finals = append(s.finals, text)
}

func (s *recordingSink) Progress(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.progress = append(s.progress, msg)
}

func (s *recordingSink) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clears++
}

func (s *recordingSink) Notify(n Notice) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notices = append(s.notices, n)
}

func newTestOrchestrator(jobs JobService, budget, liveBudget int) *Orchestrator {
	return NewOrchestrator(OrchestratorOptions{
		Jobs:            jobs,
		PollInterval:    time.Millisecond,
		MaxAttempts:     budget,
		MaxAttemptsLive: liveBudget,
		DefaultModel:    "small",
		Log:             zerolog.Nop(),
	})
}
