package transcript

import (
	"errors"
	"fmt"
)

// Primary-path outcomes. These never reach the user: the coordinator
// recovers from all of them by falling back to the job service.
var (
	// ErrKeysExhausted means every key in the pool was rate-limited.
	ErrKeysExhausted = errors.New("all primary API keys rate-limited")

	// ErrEmptyResult means the primary API answered but carried no usable text.
	ErrEmptyResult = errors.New("primary API returned no transcript")
)

// ErrTimeout means the poll attempt budget ran out before the job reached a
// terminal status.
var ErrTimeout = errors.New("transcription job timed out")

// PrimaryAPIError is a non-rate-limit failure from the primary transcript API.
// It stops key rotation immediately.
type PrimaryAPIError struct {
	StatusCode int // 0 for transport or decode failures
	Body       string
	Err        error
}

func (e *PrimaryAPIError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("primary API error (status %d): %s", e.StatusCode, e.Body)
	}
	return fmt.Sprintf("primary API error: %v", e.Err)
}

func (e *PrimaryAPIError) Unwrap() error { return e.Err }

// SubmissionError means the job service did not acknowledge a submission.
type SubmissionError struct {
	Err error
}

func (e *SubmissionError) Error() string { return fmt.Sprintf("job submission failed: %v", e.Err) }
func (e *SubmissionError) Unwrap() error { return e.Err }

// PollError is a failed status query. Polling stops on the first one.
type PollError struct {
	JobID   string
	Attempt int
	Err     error
}

func (e *PollError) Error() string {
	return fmt.Sprintf("poll job %s (attempt %d): %v", e.JobID, e.Attempt, e.Err)
}

func (e *PollError) Unwrap() error { return e.Err }

// JobError is a failure reported by the job service itself.
type JobError struct {
	JobID   string
	Message string
}

func (e *JobError) Error() string {
	return fmt.Sprintf("job %s failed: %s", e.JobID, e.Message)
}

// ConsistencyError means a poll response no longer starts with text that was
// already delivered to the consumer.
type ConsistencyError struct {
	Delivered int // length of text already delivered
	Received  int // length of the new cumulative transcript
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("transcript is not an extension of delivered text (delivered %d bytes, received %d bytes)",
		e.Delivered, e.Received)
}

// ServerStatusError is an unexpected HTTP status from a backend.
type ServerStatusError struct {
	StatusCode int
	Body       string
}

func (e *ServerStatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Body)
}

// IsPrimaryFailure reports whether err belongs to the primary path and should
// trigger fallback.
func IsPrimaryFailure(err error) bool {
	var apiErr *PrimaryAPIError
	return errors.Is(err, ErrKeysExhausted) || errors.Is(err, ErrEmptyResult) || errors.As(err, &apiErr)
}

// Reason returns a short label for err, used in metrics and notifications.
func Reason(err error) string {
	var (
		apiErr  *PrimaryAPIError
		subErr  *SubmissionError
		pollErr *PollError
		jobErr  *JobError
		conErr  *ConsistencyError
	)
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrKeysExhausted):
		return "keys_exhausted"
	case errors.Is(err, ErrEmptyResult):
		return "empty_result"
	case errors.As(err, &apiErr):
		return "primary_api_error"
	case errors.As(err, &subErr):
		return "submission_error"
	case errors.As(err, &pollErr):
		return "poll_error"
	case errors.As(err, &jobErr):
		return "job_error"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.As(err, &conErr):
		return "consistency_error"
	default:
		return "other"
	}
}
