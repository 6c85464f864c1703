package compute

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/xraph/gpuflow"
)

// DefaultBaseURL is the provider's serverless API root.
const DefaultBaseURL = "https://api.runpod.ai/v2"

// defaultTimeout bounds a single API call. Run submission on a cold
// endpoint can take tens of seconds before the backend acknowledges.
const defaultTimeout = 60 * time.Second

// HTTPClient implements Client against the provider's serverless
// endpoint HTTP API.
type HTTPClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
	logger  *slog.Logger
}

// HTTPOption configures an HTTPClient.
type HTTPOption func(*HTTPClient)

// WithBaseURL overrides the API root (used by tests and self-hosted
// gateways).
func WithBaseURL(u string) HTTPOption {
	return func(c *HTTPClient) { c.baseURL = u }
}

// WithHTTPClient sets a custom underlying http.Client.
func WithHTTPClient(hc *http.Client) HTTPOption {
	return func(c *HTTPClient) { c.client = hc }
}

// WithLogger sets the structured logger for the client.
func WithLogger(l *slog.Logger) HTTPOption {
	return func(c *HTTPClient) { c.logger = l }
}

// NewHTTPClient creates a client authenticated with the given API key.
func NewHTTPClient(apiKey string, opts ...HTTPOption) *HTTPClient {
	c := &HTTPClient{
		baseURL: DefaultBaseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: defaultTimeout},
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// runRequest is the submission envelope the serverless API expects.
type runRequest struct {
	Input json.RawMessage `json:"input"`
}

// runResponse is the acknowledgment returned by /run and the payload
// returned by /status.
type runResponse struct {
	ID          string          `json:"id"`
	Status      RemoteStatus    `json:"status"`
	Output      json.RawMessage `json:"output,omitempty"`
	Error       string          `json:"error,omitempty"`
	ExecutionMs int64           `json:"executionTime,omitempty"`
}

// SubmitRun implements Client.
func (c *HTTPClient) SubmitRun(ctx context.Context, endpointID string, input json.RawMessage) (string, error) {
	body, err := json.Marshal(runRequest{Input: input})
	if err != nil {
		return "", fmt.Errorf("gpuflow/compute: marshal run request: %w", err)
	}

	var resp runResponse
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("%s/%s/run", c.baseURL, endpointID), body, &resp); err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", fmt.Errorf("%w: empty run id from endpoint %s", gpuflow.ErrDispatchRejected, endpointID)
	}

	c.logger.Debug("run submitted",
		slog.String("endpoint_id", endpointID),
		slog.String("remote_job_id", resp.ID),
	)
	return resp.ID, nil
}

// RunStatus implements Client.
func (c *HTTPClient) RunStatus(ctx context.Context, endpointID, remoteJobID string) (*RunState, error) {
	var resp runResponse
	url := fmt.Sprintf("%s/%s/status/%s", c.baseURL, endpointID, remoteJobID)
	if err := c.do(ctx, http.MethodGet, url, nil, &resp); err != nil {
		return nil, err
	}

	return &RunState{
		Status:      resp.Status,
		Output:      resp.Output,
		Error:       resp.Error,
		ExecutionMs: resp.ExecutionMs,
	}, nil
}

// CancelRun implements Client.
func (c *HTTPClient) CancelRun(ctx context.Context, endpointID, remoteJobID string) error {
	url := fmt.Sprintf("%s/%s/cancel/%s", c.baseURL, endpointID, remoteJobID)
	return c.do(ctx, http.MethodPost, url, nil, nil)
}

// do performs one authenticated API call and decodes the JSON response
// into out when out is non-nil.
func (c *HTTPClient) do(ctx context.Context, method, url string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("gpuflow/compute: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("gpuflow/compute: %s %s: %w", method, url, err)
	}
	defer resp.Body.Close() //nolint:errcheck // read-only body

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Bounded read keeps a misbehaving backend from ballooning the
		// error message.
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512)) //nolint:errcheck // best-effort detail
		return fmt.Errorf("gpuflow/compute: %s %s: status %d: %s", method, url, resp.StatusCode, msg)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("gpuflow/compute: decode response: %w", err)
	}
	return nil
}
