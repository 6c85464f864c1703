package api

import (
	"encoding/json"
	"errors"

	"github.com/xraph/forge"

	"github.com/xraph/gpuflow"
	"github.com/xraph/gpuflow/job"
)

// maxPageSize caps list responses when the caller does not set a limit.
const maxPageSize = 100

// ── Job requests ──

// SubmitJobRequest is the body of POST /v1/jobs.
type SubmitJobRequest struct {
	// EndpointID selects the compute endpoint the job runs on.
	EndpointID string `json:"endpoint_id"`
	// Input is the opaque payload forwarded to the endpoint.
	Input json.RawMessage `json:"input"`
	// SkipDeduplication forces a fresh job even when an identical input
	// is already live or completed.
	SkipDeduplication bool `json:"skip_deduplication,omitempty"`
	// MaxAttempts overrides the configured retry budget when positive.
	MaxAttempts int `json:"max_attempts,omitempty"`
}

// SubmitJobResponse wraps the accepted (or reused) job.
type SubmitJobResponse struct {
	Job          *job.Job `json:"job"`
	Deduplicated bool     `json:"deduplicated"`
}

// ListJobsRequest carries query parameters for GET /v1/jobs.
type ListJobsRequest struct {
	Status     string `query:"status"`
	EndpointID string `query:"endpoint_id"`
	Limit      int    `query:"limit"`
	Offset     int    `query:"offset"`
}

// GetJobRequest is the (empty) request for GET /v1/jobs/:jobId.
type GetJobRequest struct{}

// CancelJobRequest is the (empty) request for POST /v1/jobs/:jobId/cancel.
type CancelJobRequest struct{}

// ── DLQ requests ──

// ListDLQRequest carries query parameters for GET /v1/dlq.
type ListDLQRequest struct {
	EndpointID string `query:"endpoint_id"`
	Limit      int    `query:"limit"`
	Offset     int    `query:"offset"`
}

// GetDLQRequest is the (empty) request for GET /v1/dlq/:entryId.
type GetDLQRequest struct{}

// RetryDLQRequest is the (empty) request for POST /v1/dlq/:entryId/retry.
type RetryDLQRequest struct{}

// PurgeDLQResponse reports how many entries a purge removed.
type PurgeDLQResponse struct {
	Purged int64 `json:"purged"`
}

// DLQCountResponse reports the DLQ size.
type DLQCountResponse struct {
	Count int64 `json:"count"`
}

// ── Helpers ──

// defaultLimit clamps a requested page size into (0, maxPageSize].
func defaultLimit(limit int) int {
	if limit <= 0 || limit > maxPageSize {
		return maxPageSize
	}
	return limit
}

// mapStoreError converts gpuflow sentinel errors to forge HTTP errors.
func mapStoreError(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, gpuflow.ErrJobNotFound), errors.Is(err, gpuflow.ErrDLQNotFound):
		return forge.NotFound(err.Error())
	case errors.Is(err, gpuflow.ErrBudgetExceeded):
		return forge.BadRequest(err.Error())
	default:
		return err
	}
}
