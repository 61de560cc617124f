package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/3leaps/golumen/pkg/poller"
)

// Sentinel errors for analysis service calls.
var (
	// ErrServiceUnavailable indicates the analysis service is unreachable
	// or returned a server error.
	ErrServiceUnavailable = errors.New("analysis service unavailable")

	// ErrThrottled indicates the analysis service rate limited the request.
	ErrThrottled = errors.New("analysis request throttled")

	// ErrRejected indicates the analysis service rejected the request.
	ErrRejected = errors.New("analysis request rejected")

	// ErrJobNotFound indicates the external job is unknown to the service.
	ErrJobNotFound = errors.New("analysis job not found")
)

// IsTransient reports whether an analysis service error is worth retrying.
func IsTransient(err error) bool {
	return errors.Is(err, ErrThrottled) || errors.Is(err, ErrServiceUnavailable)
}

// SubmitRequest describes one analysis submission.
type SubmitRequest struct {
	// FileID is the library file ID, echoed back by the service.
	FileID string `json:"file_id"`

	// Path is the source path of the media file.
	Path string `json:"path"`

	// Kind is the analysis to run.
	Kind Kind `json:"kind"`

	// SizeBytes is the file size, used by the service for scheduling.
	SizeBytes int64 `json:"size_bytes"`
}

// Client talks to the external analysis service.
type Client interface {
	// Submit starts an analysis and returns the external job ID.
	Submit(ctx context.Context, req SubmitRequest) (string, error)

	// Poll fetches the current status of an external job.
	Poll(ctx context.Context, externalJobID string) (poller.Status, error)
}

// Terminal states reported by the analysis service.
const (
	StateQueued    = "queued"
	StateRunning   = "running"
	StateCompleted = "completed"
	StateFailed    = "failed"
)

// HTTPClient is the JSON-over-HTTP implementation of Client.
type HTTPClient struct {
	baseURL string
	httpc   *http.Client
}

var _ Client = (*HTTPClient)(nil)

// NewHTTPClient creates a client for the analysis service at baseURL.
func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPClient{
		baseURL: baseURL,
		httpc:   &http.Client{Timeout: timeout},
	}
}

type submitResponse struct {
	JobID string `json:"job_id"`
}

// Submit starts an analysis and returns the external job ID.
func (c *HTTPClient) Submit(ctx context.Context, req SubmitRequest) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshal submit request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/v1/analyses", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build submit request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("submit analysis: %w: %w", ErrServiceUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if err := c.checkStatus(resp); err != nil {
		return "", fmt.Errorf("submit analysis: %w", err)
	}

	var out submitResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode submit response: %w", err)
	}
	if out.JobID == "" {
		return "", fmt.Errorf("submit response missing job_id")
	}
	return out.JobID, nil
}

type statusResponse struct {
	State string `json:"state"`
}

// Poll fetches the current status of an external job.
//
// The full response body is preserved as the status payload so result
// fields the service adds later survive untouched.
func (c *HTTPClient) Poll(ctx context.Context, externalJobID string) (poller.Status, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/v1/analyses/"+externalJobID, nil)
	if err != nil {
		return poller.Status{}, fmt.Errorf("build poll request: %w", err)
	}

	resp, err := c.httpc.Do(httpReq)
	if err != nil {
		return poller.Status{}, fmt.Errorf("poll analysis: %w: %w", ErrServiceUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return poller.Status{}, fmt.Errorf("poll analysis %s: %w", externalJobID, ErrJobNotFound)
	}
	if err := c.checkStatus(resp); err != nil {
		return poller.Status{}, fmt.Errorf("poll analysis: %w", err)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return poller.Status{}, fmt.Errorf("read poll response: %w", err)
	}

	var st statusResponse
	if err := json.Unmarshal(body, &st); err != nil {
		return poller.Status{}, fmt.Errorf("decode poll response: %w", err)
	}
	if st.State == "" {
		return poller.Status{}, fmt.Errorf("poll response missing state")
	}

	return poller.Status{
		State:    st.State,
		Terminal: st.State == StateCompleted || st.State == StateFailed,
		Payload:  json.RawMessage(body),
	}, nil
}

func (c *HTTPClient) checkStatus(resp *http.Response) error {
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w (status %d)", ErrThrottled, resp.StatusCode)
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w (status %d)", ErrServiceUnavailable, resp.StatusCode)
	default:
		return fmt.Errorf("%w (status %d)", ErrRejected, resp.StatusCode)
	}
}
