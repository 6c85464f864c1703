package dlq

import (
	"encoding/json"
	"time"

	"github.com/xraph/gpuflow/id"
)

// Entry represents a job that has exhausted its retry budget and been
// moved to the dead letter queue for inspection or operator retry.
type Entry struct {
	ID         id.DLQID        `json:"id"`
	JobID      id.JobID        `json:"job_id"`
	EndpointID string          `json:"endpoint_id"`
	Input      json.RawMessage `json:"input"`
	Error      string          `json:"error"`
	Attempts   int             `json:"attempts"`
	FailedAt   time.Time       `json:"failed_at"`
	ReplayedAt *time.Time      `json:"replayed_at,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}
