package bunstore

import (
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/xraph/gpuflow"
	"github.com/xraph/gpuflow/dlq"
	"github.com/xraph/gpuflow/id"
	"github.com/xraph/gpuflow/job"
)

// ── Job model ─────────────────────────────────────────────────────

type jobModel struct {
	bun.BaseModel `bun:"table:gpuflow_jobs"`

	ID          string     `bun:"id,pk"`
	EndpointID  string     `bun:"endpoint_id,notnull"`
	InputHash   string     `bun:"input_hash,notnull"`
	Input       []byte     `bun:"input,notnull,type:jsonb"`
	Status      string     `bun:"status,notnull,default:'pending'"`
	Attempts    int        `bun:"attempts,notnull,default:0"`
	MaxAttempts int        `bun:"max_attempts,notnull,default:3"`
	RemoteJobID string     `bun:"remote_job_id"`
	Output      []byte     `bun:"output,type:jsonb"`
	LastError   string     `bun:"last_error"`
	DurationMs  int64      `bun:"duration_ms,notnull,default:0"`
	NotBefore   *time.Time `bun:"not_before"`
	StartedAt   *time.Time `bun:"started_at"`
	CompletedAt *time.Time `bun:"completed_at"`
	CreatedAt   time.Time  `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt   time.Time  `bun:"updated_at,notnull,default:current_timestamp"`
}

func toJobModel(j *job.Job) *jobModel {
	m := &jobModel{
		ID:          j.ID.String(),
		EndpointID:  j.EndpointID,
		InputHash:   j.InputHash,
		Input:       j.Input,
		Status:      string(j.Status),
		Attempts:    j.Attempts,
		MaxAttempts: j.MaxAttempts,
		RemoteJobID: j.RemoteJobID,
		Output:      j.Output,
		LastError:   j.LastError,
		DurationMs:  j.DurationMs,
		StartedAt:   j.StartedAt,
		CompletedAt: j.CompletedAt,
		CreatedAt:   j.CreatedAt,
		UpdatedAt:   j.UpdatedAt,
	}
	if !j.NotBefore.IsZero() {
		nb := j.NotBefore
		m.NotBefore = &nb
	}
	return m
}

func fromJobModel(m *jobModel) (*job.Job, error) {
	parsedID, err := id.ParseJobID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("gpuflow/bun: parse job id %q: %w", m.ID, err)
	}

	j := &job.Job{
		Entity: gpuflow.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:          parsedID,
		EndpointID:  m.EndpointID,
		InputHash:   m.InputHash,
		Input:       m.Input,
		Status:      job.Status(m.Status),
		Attempts:    m.Attempts,
		MaxAttempts: m.MaxAttempts,
		RemoteJobID: m.RemoteJobID,
		Output:      m.Output,
		LastError:   m.LastError,
		DurationMs:  m.DurationMs,
		StartedAt:   m.StartedAt,
		CompletedAt: m.CompletedAt,
	}
	if m.NotBefore != nil {
		j.NotBefore = *m.NotBefore
	}
	return j, nil
}

// ── DLQ entry model ───────────────────────────────────────────────

type dlqEntryModel struct {
	bun.BaseModel `bun:"table:gpuflow_dlq"`

	ID         string     `bun:"id,pk"`
	JobID      string     `bun:"job_id,notnull"`
	EndpointID string     `bun:"endpoint_id,notnull"`
	Input      []byte     `bun:"input,type:jsonb"`
	Error      string     `bun:"error,notnull"`
	Attempts   int        `bun:"attempts,notnull,default:0"`
	FailedAt   time.Time  `bun:"failed_at,notnull"`
	ReplayedAt *time.Time `bun:"replayed_at"`
	CreatedAt  time.Time  `bun:"created_at,notnull,default:current_timestamp"`
}

func toDLQModel(e *dlq.Entry) *dlqEntryModel {
	return &dlqEntryModel{
		ID:         e.ID.String(),
		JobID:      e.JobID.String(),
		EndpointID: e.EndpointID,
		Input:      e.Input,
		Error:      e.Error,
		Attempts:   e.Attempts,
		FailedAt:   e.FailedAt,
		ReplayedAt: e.ReplayedAt,
		CreatedAt:  e.CreatedAt,
	}
}

func fromDLQModel(m *dlqEntryModel) (*dlq.Entry, error) {
	parsedID, err := id.ParseDLQID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("gpuflow/bun: parse dlq id %q: %w", m.ID, err)
	}
	parsedJobID, err := id.ParseJobID(m.JobID)
	if err != nil {
		return nil, fmt.Errorf("gpuflow/bun: parse dlq job id %q: %w", m.JobID, err)
	}

	return &dlq.Entry{
		ID:         parsedID,
		JobID:      parsedJobID,
		EndpointID: m.EndpointID,
		Input:      m.Input,
		Error:      m.Error,
		Attempts:   m.Attempts,
		FailedAt:   m.FailedAt,
		ReplayedAt: m.ReplayedAt,
		CreatedAt:  m.CreatedAt,
	}, nil
}

// ── Spend record model ────────────────────────────────────────────

type spendModel struct {
	bun.BaseModel `bun:"table:gpuflow_spend"`

	ID         int64     `bun:"id,pk,autoincrement"`
	EndpointID string    `bun:"endpoint_id,notnull"`
	Amount     float64   `bun:"amount,notnull"`
	SpentAt    time.Time `bun:"spent_at,notnull"`
}
