package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/xraph/gpuflow/job"
	"github.com/xraph/gpuflow/sched"
)

// SubmitResult contains the outcome of a Submit call. When Deduplicated is
// true, Job is an existing job that matched the input hash.
type SubmitResult struct {
	Job          *job.Job `json:"job"`
	Deduplicated bool     `json:"deduplicated"`
}

// SubmitOption configures a Submit call.
type SubmitOption func(*submitRequest)

type submitRequest struct {
	EndpointID        string          `json:"endpoint_id"`
	Input             json.RawMessage `json:"input"`
	SkipDeduplication bool            `json:"skip_deduplication,omitempty"`
	MaxAttempts       int             `json:"max_attempts,omitempty"`
}

// WithSkipDeduplication forces a fresh job even when an identical input is
// already live or completed.
func WithSkipDeduplication() SubmitOption {
	return func(r *submitRequest) { r.SkipDeduplication = true }
}

// WithMaxAttempts overrides the daemon's retry budget for this job.
func WithMaxAttempts(n int) SubmitOption {
	return func(r *submitRequest) { r.MaxAttempts = n }
}

// Submit submits input to the named endpoint for asynchronous execution.
func (c *Client) Submit(ctx context.Context, endpointID string, input any, opts ...SubmitOption) (*SubmitResult, error) {
	raw, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("gpuflow/client: marshal input: %w", err)
	}

	req := submitRequest{EndpointID: endpointID, Input: raw}
	for _, opt := range opts {
		opt(&req)
	}

	var result SubmitResult
	if err := c.do(ctx, http.MethodPost, "/v1/jobs", nil, req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetJob retrieves a job by ID.
func (c *Client) GetJob(ctx context.Context, jobID string) (*job.Job, error) {
	var j job.Job
	if err := c.do(ctx, http.MethodGet, "/v1/jobs/"+url.PathEscape(jobID), nil, nil, &j); err != nil {
		return nil, err
	}
	return &j, nil
}

// ListJobs lists jobs newest-first, filtered by opts.
func (c *Client) ListJobs(ctx context.Context, opts job.ListOpts) ([]*job.Job, error) {
	query := url.Values{}
	if opts.Status != "" {
		query.Set("status", string(opts.Status))
	}
	if opts.EndpointID != "" {
		query.Set("endpoint_id", opts.EndpointID)
	}
	if opts.Limit > 0 {
		query.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Offset > 0 {
		query.Set("offset", strconv.Itoa(opts.Offset))
	}

	var jobs []*job.Job
	if err := c.do(ctx, http.MethodGet, "/v1/jobs", query, nil, &jobs); err != nil {
		return nil, err
	}
	return jobs, nil
}

// CancelJob cancels a job by ID and returns its final state.
func (c *Client) CancelJob(ctx context.Context, jobID string) (*job.Job, error) {
	var j job.Job
	if err := c.do(ctx, http.MethodPost, "/v1/jobs/"+url.PathEscape(jobID)+"/cancel", nil, nil, &j); err != nil {
		return nil, err
	}
	return &j, nil
}

// Stats retrieves scheduler statistics from the daemon.
func (c *Client) Stats(ctx context.Context) (*sched.Stats, error) {
	var stats sched.Stats
	if err := c.do(ctx, http.MethodGet, "/v1/stats", nil, nil, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}
