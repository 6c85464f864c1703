package job

import (
	"context"
	"time"

	"github.com/xraph/gpuflow/id"
)

// ListOpts controls pagination and filtering for job list queries.
type ListOpts struct {
	// Limit is the maximum number of jobs to return. Zero means no limit.
	Limit int
	// Offset is the number of jobs to skip.
	Offset int
	// Status filters by job status. Empty means all statuses.
	Status Status
	// EndpointID filters by target endpoint. Empty means all endpoints.
	EndpointID string
}

// Stats holds aggregate job counts grouped by status.
type Stats struct {
	Pending   int64 `json:"pending"`
	Running   int64 `json:"running"`
	InQueue   int64 `json:"in_queue"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Cancelled int64 `json:"cancelled"`
	Total     int64 `json:"total"`
}

// Store defines the persistence contract for jobs.
type Store interface {
	// CreateJob persists a new job. Returns gpuflow.ErrJobAlreadyExists
	// if the ID is taken.
	CreateJob(ctx context.Context, j *Job) error

	// UpdateJob persists changes to an existing job.
	UpdateJob(ctx context.Context, j *Job) error

	// GetJob retrieves a job by ID.
	GetJob(ctx context.Context, jobID id.JobID) (*Job, error)

	// GetJobByHash returns the most recently created job with the given
	// input hash whose status is pending, running, in_queue, or
	// completed. Returns gpuflow.ErrJobNotFound if no such job exists.
	// This is the deduplication lookup: terminal failures and
	// cancellations do not block resubmission.
	GetJobByHash(ctx context.Context, hash string) (*Job, error)

	// PendingJobs returns up to limit pending jobs whose NotBefore time
	// has passed (or is zero), ordered by creation time ascending.
	PendingJobs(ctx context.Context, limit int, now time.Time) ([]*Job, error)

	// ActiveJobs returns jobs in running or in_queue status that carry a
	// remote handle. Used to rebuild the in-memory dispatch table after
	// a restart.
	ActiveJobs(ctx context.Context) ([]*Job, error)

	// ListJobs returns jobs matching the given options, newest first.
	ListJobs(ctx context.Context, opts ListOpts) ([]*Job, error)

	// JobStats returns aggregate job counts by status.
	JobStats(ctx context.Context) (*Stats, error)
}
