package client

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/xraph/gpuflow/dlq"
	"github.com/xraph/gpuflow/job"
)

// ListDLQ lists dead-letter entries newest-first.
func (c *Client) ListDLQ(ctx context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	query := url.Values{}
	if opts.EndpointID != "" {
		query.Set("endpoint_id", opts.EndpointID)
	}
	if opts.Limit > 0 {
		query.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Offset > 0 {
		query.Set("offset", strconv.Itoa(opts.Offset))
	}

	var entries []*dlq.Entry
	if err := c.do(ctx, http.MethodGet, "/v1/dlq", query, nil, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// GetDLQ retrieves a dead-letter entry by ID.
func (c *Client) GetDLQ(ctx context.Context, entryID string) (*dlq.Entry, error) {
	var entry dlq.Entry
	if err := c.do(ctx, http.MethodGet, "/v1/dlq/"+url.PathEscape(entryID), nil, nil, &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

// RetryDLQ resubmits a dead-lettered job and returns the fresh job.
func (c *Client) RetryDLQ(ctx context.Context, entryID string) (*job.Job, error) {
	var j job.Job
	if err := c.do(ctx, http.MethodPost, "/v1/dlq/"+url.PathEscape(entryID)+"/retry", nil, nil, &j); err != nil {
		return nil, err
	}
	return &j, nil
}

// PurgeDLQ removes aged dead-letter entries and reports how many were purged.
func (c *Client) PurgeDLQ(ctx context.Context) (int64, error) {
	var resp struct {
		Purged int64 `json:"purged"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/dlq/purge", nil, nil, &resp); err != nil {
		return 0, err
	}
	return resp.Purged, nil
}

// CountDLQ reports the dead-letter queue size.
func (c *Client) CountDLQ(ctx context.Context) (int64, error) {
	var resp struct {
		Count int64 `json:"count"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/dlq/count", nil, nil, &resp); err != nil {
		return 0, err
	}
	return resp.Count, nil
}
