package transcript

import (
	"fmt"
	"strings"
)

// JobStatus is the orchestrator's view of a job.
type JobStatus string

const (
	StatusSubmitted JobStatus = "submitted"
	StatusPolling   JobStatus = "polling"
	StatusDone      JobStatus = "done"
	StatusError     JobStatus = "error"
	StatusCancelled JobStatus = "cancelled"
	StatusTimedOut  JobStatus = "timed_out"
)

// IsTerminal reports whether no further transition can leave s.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case StatusDone, StatusError, StatusCancelled, StatusTimedOut:
		return true
	default:
		return false
	}
}

func isValidTransition(from, to JobStatus) bool {
	switch from {
	case StatusSubmitted:
		return to == StatusPolling || to.IsTerminal()
	case StatusPolling:
		return to.IsTerminal()
	default:
		return false
	}
}

// Delta returns the part of current that follows previous. previous must be
// a prefix of current; otherwise a *ConsistencyError is returned.
func Delta(previous, current string) (string, error) {
	if !strings.HasPrefix(current, previous) {
		return "", &ConsistencyError{Delivered: len(previous), Received: len(current)}
	}
	return current[len(previous):], nil
}

// JobHandle tracks one submitted job. The transcript accumulator only grows
// while the status is non-terminal and is frozen afterwards.
type JobHandle struct {
	ID           string
	Status       JobStatus
	CurrentChunk int
	TotalChunks  int
	ErrMessage   string

	text strings.Builder
}

// NewJobHandle returns a handle in the Submitted state.
func NewJobHandle(id string) *JobHandle {
	return &JobHandle{ID: id, Status: StatusSubmitted}
}

// Transcript returns the accumulated text.
func (h *JobHandle) Transcript() string { return h.text.String() }

// Transition moves the handle to status. Re-entering the current
// non-terminal status is a no-op.
func (h *JobHandle) Transition(status JobStatus) error {
	if status == h.Status && !status.IsTerminal() {
		return nil
	}
	if !isValidTransition(h.Status, status) {
		return fmt.Errorf("invalid job transition: %s -> %s", h.Status, status)
	}
	h.Status = status
	return nil
}

// Advance folds a cumulative transcript into the accumulator and returns
// the newly appended suffix.
func (h *JobHandle) Advance(cumulative string) (string, error) {
	if h.Status.IsTerminal() {
		return "", fmt.Errorf("job %s is %s; transcript is frozen", h.ID, h.Status)
	}
	delta, err := Delta(h.text.String(), cumulative)
	if err != nil {
		return "", err
	}
	h.text.WriteString(delta)
	return delta, nil
}

// appendFinal adds text at the moment of finalization, before the terminal
// transition freezes the accumulator.
func (h *JobHandle) appendFinal(s string) {
	h.text.WriteString(s)
}

// discard drops the accumulated text. Used when the outcome is a failure.
func (h *JobHandle) discard() {
	h.text.Reset()
}

// Progress formats chunk counters, or "" when the job reports none.
func (h *JobHandle) Progress() string {
	if h.TotalChunks <= 0 {
		return ""
	}
	pct := h.CurrentChunk * 100 / h.TotalChunks
	return fmt.Sprintf("Transcribing chunk %d/%d (%d%%)", h.CurrentChunk, h.TotalChunks, pct)
}
