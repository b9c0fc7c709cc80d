package scanworker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sablesec/strikepoint/internal/metrics"
	"github.com/sablesec/strikepoint/internal/scans"
)

// ResultSource identifies this worker in callback payloads.
const ResultSource = "external-scanner"

const (
	callbackMaxRetries      = 5
	callbackInitialInterval = 500 * time.Millisecond
	callbackMaxInterval     = 30 * time.Second
)

// CallbackPayload is the wire body of POST /api/journeys/{id}/results.
type CallbackPayload struct {
	Source  string        `json:"source"`
	JobID   string        `json:"job_id"`
	Results *scans.Result `json:"results"`
}

// CallbackClient delivers job results to the central API with bounded
// exponential backoff. Without the retry a single failed POST would silently
// lose the result.
type CallbackClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewCallbackClient(baseURL, apiKey string) *CallbackClient {
	return &CallbackClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

// Deliver posts the result, retrying transient failures. Exhausting the
// retries is logged by the caller with journeyId/jobId for operator
// visibility; there is nothing more a worker can do at that point.
func (c *CallbackClient) Deliver(ctx context.Context, result *scans.Result) error {
	body, err := json.Marshal(CallbackPayload{
		Source:  ResultSource,
		JobID:   result.JobID,
		Results: result,
	})
	if err != nil {
		return fmt.Errorf("marshal callback payload: %w", err)
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = callbackInitialInterval
	policy.MaxInterval = callbackMaxInterval

	attempt := 0
	operation := func() error {
		attempt++
		if attempt > 1 {
			metrics.CallbackRetries.Inc()
		}
		return c.post(ctx, result.JourneyID, body)
	}

	err = backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(policy, callbackMaxRetries), ctx))
	if err != nil {
		metrics.CallbackFailures.Inc()
		return fmt.Errorf("callback for journey %s job %s: %w", result.JourneyID, result.JobID, err)
	}
	return nil
}

func (c *CallbackClient) post(ctx context.Context, journeyID string, body []byte) error {
	url := fmt.Sprintf("%s/api/journeys/%s/results", c.baseURL, journeyID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		// The API rejected the payload; retrying the same body cannot help.
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return backoff.Permanent(fmt.Errorf("callback rejected: status %d: %s", resp.StatusCode, msg))
	default:
		return fmt.Errorf("callback failed: status %d", resp.StatusCode)
	}
}
