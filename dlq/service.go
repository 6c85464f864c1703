package dlq

import (
	"context"
	"time"

	"github.com/xraph/gpuflow/id"
	"github.com/xraph/gpuflow/job"
)

// Service provides high-level DLQ operations over a Store.
type Service struct {
	store Store
}

// NewService creates a DLQ service.
func NewService(store Store) *Service {
	return &Service{store: store}
}

// Push builds a DLQ Entry from a terminally failed job and persists it.
// The error string is captured from the final dispatch error.
func (s *Service) Push(ctx context.Context, j *job.Job, jobErr error) (*Entry, error) {
	now := time.Now().UTC()
	entry := &Entry{
		ID:         id.NewDLQID(),
		JobID:      j.ID,
		EndpointID: j.EndpointID,
		Input:      j.Input,
		Error:      jobErr.Error(),
		Attempts:   j.Attempts,
		FailedAt:   now,
		CreatedAt:  now,
	}
	if err := s.store.PushDLQ(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// Get retrieves a single entry by ID.
func (s *Service) Get(ctx context.Context, entryID id.DLQID) (*Entry, error) {
	return s.store.GetDLQ(ctx, entryID)
}

// List returns entries matching opts, newest first.
func (s *Service) List(ctx context.Context, opts ListOpts) ([]*Entry, error) {
	return s.store.ListDLQ(ctx, opts)
}

// MarkReplayed stamps ReplayedAt on an entry after an operator retry.
func (s *Service) MarkReplayed(ctx context.Context, entryID id.DLQID) error {
	return s.store.MarkReplayed(ctx, entryID)
}

// Count returns the number of entries in the queue.
func (s *Service) Count(ctx context.Context) (int64, error) {
	return s.store.CountDLQ(ctx)
}

// Store returns the underlying DLQ store for direct access.
func (s *Service) Store() Store {
	return s.store
}
