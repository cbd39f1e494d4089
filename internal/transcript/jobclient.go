package transcript

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// JobService is the asynchronous transcription backend's contract.
type JobService interface {
	Submit(ctx context.Context, req JobRequest) (string, error)
	Status(ctx context.Context, jobID string) (*JobStatusResponse, error)
	Cancel(ctx context.Context, jobID string) error
	// NotifyCancel sends a cancellation without waiting for a response.
	NotifyCancel(jobID string)
}

// JobRequest is the submit body.
type JobRequest struct {
	URL   string `json:"url"`
	Lang  string `json:"lang"`
	Model string `json:"model,omitempty"`
}

// JobStatusResponse is the status body. Transcript is cumulative.
type JobStatusResponse struct {
	Status       string `json:"status"`
	Transcript   string `json:"transcript"`
	CurrentChunk int    `json:"current_chunk"`
	TotalChunks  int    `json:"total_chunks"`
	Error        string `json:"error"`
}

// mapStatus translates a job service status onto the orchestrator's states.
// Unknown values ("queued", "processing", anything new) count as in progress.
func mapStatus(s string) JobStatus {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "done", "completed":
		return StatusDone
	case "error", "failed":
		return StatusError
	case "cancelled", "canceled":
		return StatusCancelled
	default:
		return StatusPolling
	}
}

// JobClientOptions configures the job service HTTP client.
type JobClientOptions struct {
	BaseURL       string
	Timeout       time.Duration
	NotifyTimeout time.Duration // bound for fire-and-forget cancels
	Log           zerolog.Logger
}

// JobClient talks to the job service over HTTP. Implements JobService.
type JobClient struct {
	baseURL       string
	client        *http.Client
	notifyTimeout time.Duration
	log           zerolog.Logger
}

// NewJobClient creates a job service client.
func NewJobClient(opts JobClientOptions) *JobClient {
	notify := opts.NotifyTimeout
	if notify <= 0 {
		notify = 5 * time.Second
	}
	return &JobClient{
		baseURL:       strings.TrimRight(opts.BaseURL, "/"),
		client:        &http.Client{Timeout: opts.Timeout},
		notifyTimeout: notify,
		log:           opts.Log,
	}
}

// Submit posts a job and returns its id.
func (c *JobClient) Submit(ctx context.Context, jr JobRequest) (string, error) {
	payload, err := json.Marshal(jr)
	if err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/transcribe-job", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	body, err := c.do(req)
	if err != nil {
		return "", err
	}

	var result struct {
		JobID string `json:"job_id"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if result.JobID == "" {
		return "", fmt.Errorf("response carried no job_id")
	}
	return result.JobID, nil
}

// Status fetches the job's current state.
func (c *JobClient) Status(ctx context.Context, jobID string) (*JobStatusResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.jobURL(jobID), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	body, err := c.do(req)
	if err != nil {
		return nil, err
	}

	var result JobStatusResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &result, nil
}

// Cancel asks the service to stop the job. The service may ignore it.
func (c *JobClient) Cancel(ctx context.Context, jobID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.jobURL(jobID)+"/cancel", nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	_, err = c.do(req)
	return err
}

// NotifyCancel fires a cancel in the background and returns immediately.
// The request is detached from any caller context so teardown never waits.
func (c *JobClient) NotifyCancel(jobID string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.notifyTimeout)
		defer cancel()
		if err := c.Cancel(ctx, jobID); err != nil {
			c.log.Debug().Err(err).Str("job_id", jobID).Msg("cancel notification not delivered")
		}
	}()
}

func (c *JobClient) jobURL(jobID string) string {
	return c.baseURL + "/transcribe-job/" + url.PathEscape(jobID)
}

func (c *JobClient) do(req *http.Request) ([]byte, error) {
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("job service request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &ServerStatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	return body, nil
}
