// Package store defines the aggregate persistence interface. Each
// subsystem (job, dlq, budget) defines its own store interface. The
// composite Store composes them all. Backends: Bun (Postgres), Redis,
// and Memory.
package store

import (
	"context"

	"github.com/xraph/gpuflow/budget"
	"github.com/xraph/gpuflow/dlq"
	"github.com/xraph/gpuflow/job"
)

// Store is the aggregate persistence interface.
// Each subsystem store is a composable interface; a single backend
// (bun, redis, memory) implements all of them.
type Store interface {
	job.Store
	dlq.Store
	budget.Ledger

	// Migrate runs all schema migrations.
	Migrate(ctx context.Context) error

	// Ping checks backend connectivity.
	Ping(ctx context.Context) error

	// Close closes the store connection.
	Close() error
}
