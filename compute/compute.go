// Package compute defines the contract for the remote execution backend
// and an HTTP client implementing it against the provider's serverless
// endpoint API.
//
// The backend is opaque to the scheduler: calls may be slow (seconds to
// tens of seconds), fail, or time out, and its own queueing is not
// modeled here. Every method takes a context and must be treated as a
// true suspension point.
package compute

import (
	"context"
	"encoding/json"
)

// RemoteStatus is the backend's view of a submitted run.
type RemoteStatus string

const (
	RemoteInQueue    RemoteStatus = "IN_QUEUE"
	RemoteInProgress RemoteStatus = "IN_PROGRESS"
	RemoteCompleted  RemoteStatus = "COMPLETED"
	RemoteFailed     RemoteStatus = "FAILED"
	RemoteCancelled  RemoteStatus = "CANCELLED"
	RemoteTimedOut   RemoteStatus = "TIMED_OUT"
)

// Terminal reports whether the remote status will never change again.
func (s RemoteStatus) Terminal() bool {
	switch s {
	case RemoteCompleted, RemoteFailed, RemoteCancelled, RemoteTimedOut:
		return true
	default:
		return false
	}
}

// RunState is the result of a status query for a remote run.
type RunState struct {
	Status RemoteStatus `json:"status"`
	// Output is set when Status is RemoteCompleted.
	Output json.RawMessage `json:"output,omitempty"`
	// Error is set when Status is a terminal failure.
	Error string `json:"error,omitempty"`
	// ExecutionMs is the backend-reported execution time, when available.
	ExecutionMs int64 `json:"execution_ms,omitempty"`
}

// Client is the dispatch contract to the remote execution backend.
type Client interface {
	// SubmitRun submits input to the given endpoint and returns the
	// remote job handle. An error means the backend rejected or timed
	// out; the caller decides whether to retry.
	SubmitRun(ctx context.Context, endpointID string, input json.RawMessage) (string, error)

	// RunStatus queries the state of a previously submitted run.
	RunStatus(ctx context.Context, endpointID, remoteJobID string) (*RunState, error)

	// CancelRun asks the backend to cancel a run. Best-effort: callers
	// tolerate failures here and proceed with local cancellation.
	CancelRun(ctx context.Context, endpointID, remoteJobID string) error
}
