package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sablesec/strikepoint/internal/scans"
)

// WorkerClient submits externally-routed jobs to a scan worker service and
// can ask it to terminate a running one.
type WorkerClient interface {
	Submit(ctx context.Context, job *scans.Job) error
	Cancel(ctx context.Context, jobID string) error
}

// SubmitRequest is the wire body of POST /api/scan/{tool}.
type SubmitRequest struct {
	JobID     string            `json:"job_id"`
	JourneyID string            `json:"journey_id"`
	Targets   []string          `json:"targets"`
	Options   map[string]string `json:"options,omitempty"`
	Deadline  time.Time         `json:"deadline"`
}

// SubmitResponse is the 202 body returned by the worker.
type SubmitResponse struct {
	ScanID    string    `json:"scanId"`
	JourneyID string    `json:"journeyId"`
	Timestamp time.Time `json:"timestamp"`
}

// HTTPWorkerClient talks to the external scan worker over its HTTP API,
// authenticated with a shared API key.
type HTTPWorkerClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewHTTPWorkerClient(baseURL, apiKey string) *HTTPWorkerClient {
	return &HTTPWorkerClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

func (c *HTTPWorkerClient) Submit(ctx context.Context, job *scans.Job) error {
	body, err := json.Marshal(SubmitRequest{
		JobID:     job.JobID,
		JourneyID: job.JourneyID,
		Targets:   job.Targets,
		Options:   job.Options,
		Deadline:  job.Deadline,
	})
	if err != nil {
		return fmt.Errorf("marshal submit request: %w", err)
	}

	url := fmt.Sprintf("%s/api/scan/%s", c.baseURL, job.Tool)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build submit request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("submit job %s: %w", job.JobID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("worker rejected job %s: status %d: %s", job.JobID, resp.StatusCode, msg)
	}
	return nil
}

func (c *HTTPWorkerClient) Cancel(ctx context.Context, jobID string) error {
	url := fmt.Sprintf("%s/api/scan/%s", c.baseURL, jobID)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, url, nil)
	if err != nil {
		return fmt.Errorf("build cancel request: %w", err)
	}
	req.Header.Set("X-API-Key", c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("cancel job %s: %w", jobID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNotFound {
		return fmt.Errorf("worker refused cancel for job %s: status %d", jobID, resp.StatusCode)
	}
	return nil
}
