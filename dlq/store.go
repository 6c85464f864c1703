package dlq

import (
	"context"
	"time"

	"github.com/xraph/gpuflow/id"
)

// ListOpts controls pagination and filtering for DLQ list queries.
type ListOpts struct {
	// Limit is the maximum number of entries to return. Zero means no limit.
	Limit int
	// Offset is the number of entries to skip.
	Offset int
	// EndpointID filters by target endpoint. Empty means all endpoints.
	EndpointID string
}

// Store defines the persistence contract for the dead letter queue.
type Store interface {
	// PushDLQ appends a failed job snapshot to the dead letter queue.
	PushDLQ(ctx context.Context, entry *Entry) error

	// GetDLQ retrieves a DLQ entry by ID. Returns gpuflow.ErrDLQNotFound
	// if absent.
	GetDLQ(ctx context.Context, entryID id.DLQID) (*Entry, error)

	// ListDLQ returns DLQ entries matching the given options, newest first.
	ListDLQ(ctx context.Context, opts ListOpts) ([]*Entry, error)

	// MarkReplayed stamps ReplayedAt on an entry. The entry itself is
	// never deleted by a replay.
	MarkReplayed(ctx context.Context, entryID id.DLQID) error

	// PurgeDLQ removes entries with FailedAt before the given time.
	// Returns the number of entries removed.
	PurgeDLQ(ctx context.Context, before time.Time) (int64, error)

	// CountDLQ returns the total number of entries in the dead letter queue.
	CountDLQ(ctx context.Context) (int64, error)
}
