package job

import (
	"encoding/json"
	"time"

	"github.com/xraph/gpuflow"
	"github.com/xraph/gpuflow/id"
)

// Status represents the lifecycle state of a job.
type Status string

const (
	// StatusPending means the job is waiting to be picked up by the
	// dispatch loop (either freshly created or requeued for retry).
	StatusPending Status = "pending"
	// StatusRunning means the dispatch loop has claimed the job and is
	// submitting it to the remote backend.
	StatusRunning Status = "running"
	// StatusInQueue means the remote backend accepted the job and
	// returned a handle; the job is awaiting remote completion.
	StatusInQueue Status = "in_queue"
	// StatusCompleted means the remote backend reported success.
	StatusCompleted Status = "completed"
	// StatusFailed means the job failed terminally (retries exhausted
	// or the backend reported a terminal failure).
	StatusFailed Status = "failed"
	// StatusCancelled means the job was explicitly cancelled.
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether s is a terminal status.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// Job represents a unit of work submitted to a remote compute endpoint.
type Job struct {
	gpuflow.Entity

	ID          id.JobID        `json:"id"`
	EndpointID  string          `json:"endpoint_id"`
	InputHash   string          `json:"input_hash"`
	Input       json.RawMessage `json:"input"`
	Status      Status          `json:"status"`
	Attempts    int             `json:"attempts"`
	MaxAttempts int             `json:"max_attempts"`
	RemoteJobID string          `json:"remote_job_id,omitempty"`
	Output      json.RawMessage `json:"output,omitempty"`
	LastError   string          `json:"last_error,omitempty"`
	DurationMs  int64           `json:"duration_ms,omitempty"`
	NotBefore   time.Time       `json:"not_before,omitzero"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

// Active reports whether the job currently occupies a remote dispatch
// slot: it has been accepted by the backend and is not yet terminal.
func (j *Job) Active() bool {
	return (j.Status == StatusInQueue || j.Status == StatusRunning) && j.RemoteJobID != ""
}
