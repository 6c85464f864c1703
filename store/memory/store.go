package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/xraph/gpuflow"
	"github.com/xraph/gpuflow/budget"
	"github.com/xraph/gpuflow/dlq"
	"github.com/xraph/gpuflow/id"
	"github.com/xraph/gpuflow/job"
)

// Ensure Store implements store.Store at compile time.
// We can't import store here (import cycle), so we verify each subsystem.
var (
	_ job.Store     = (*Store)(nil)
	_ dlq.Store     = (*Store)(nil)
	_ budget.Ledger = (*Store)(nil)
)

// spendRecord is one ledger entry.
type spendRecord struct {
	endpointID string
	amount     float64
	at         time.Time
}

// Store is a fully in-memory implementation of store.Store.
// Safe for concurrent access. Intended for unit testing and development.
type Store struct {
	mu sync.RWMutex

	jobs  map[string]*job.Job
	dlqs  map[string]*dlq.Entry
	spend []spendRecord
}

// New returns a new empty Store.
func New() *Store {
	return &Store{
		jobs: make(map[string]*job.Job),
		dlqs: make(map[string]*dlq.Entry),
	}
}

// ──────────────────────────────────────────────────
// Lifecycle — Migrate / Ping / Close
// ──────────────────────────────────────────────────

// Migrate is a no-op for the memory store.
func (m *Store) Migrate(_ context.Context) error { return nil }

// Ping always succeeds for the memory store.
func (m *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op for the memory store.
func (m *Store) Close() error { return nil }

// ──────────────────────────────────────────────────
// Job Store
// ──────────────────────────────────────────────────

// CreateJob persists a new job.
func (m *Store) CreateJob(_ context.Context, j *job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := j.ID.String()
	if _, exists := m.jobs[key]; exists {
		return gpuflow.ErrJobAlreadyExists
	}
	cp := *j
	m.jobs[key] = &cp
	return nil
}

// UpdateJob persists changes to an existing job.
func (m *Store) UpdateJob(_ context.Context, j *job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := j.ID.String()
	if _, ok := m.jobs[key]; !ok {
		return gpuflow.ErrJobNotFound
	}
	cp := *j
	cp.UpdatedAt = time.Now().UTC()
	m.jobs[key] = &cp
	return nil
}

// GetJob retrieves a job by ID.
func (m *Store) GetJob(_ context.Context, jobID id.JobID) (*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return nil, gpuflow.ErrJobNotFound
	}
	cp := *j
	return &cp, nil
}

// dedupStatuses are the statuses that make a prior job reusable for
// deduplication. Failed and cancelled jobs never block resubmission.
var dedupStatuses = map[job.Status]struct{}{
	job.StatusPending:   {},
	job.StatusRunning:   {},
	job.StatusInQueue:   {},
	job.StatusCompleted: {},
}

// GetJobByHash returns the most recently created job with the given
// input hash in a deduplicable status.
func (m *Store) GetJobByHash(_ context.Context, hash string) (*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var best *job.Job
	for _, j := range m.jobs {
		if j.InputHash != hash {
			continue
		}
		if _, ok := dedupStatuses[j.Status]; !ok {
			continue
		}
		if best == nil || j.CreatedAt.After(best.CreatedAt) {
			best = j
		}
	}
	if best == nil {
		return nil, gpuflow.ErrJobNotFound
	}
	cp := *best
	return &cp, nil
}

// PendingJobs returns up to limit pending jobs whose NotBefore time has
// passed, ordered by creation time ascending.
func (m *Store) PendingJobs(_ context.Context, limit int, now time.Time) ([]*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	candidates := make([]*job.Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		if j.Status != job.StatusPending {
			continue
		}
		if !j.NotBefore.IsZero() && j.NotBefore.After(now) {
			continue
		}
		candidates = append(candidates, j)
	}

	sort.Slice(candidates, func(i, k int) bool {
		return candidates[i].CreatedAt.Before(candidates[k].CreatedAt)
	})

	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}

	result := make([]*job.Job, len(candidates))
	for i, j := range candidates {
		cp := *j
		result[i] = &cp
	}
	return result, nil
}

// ActiveJobs returns jobs in running or in_queue status that carry a
// remote handle.
func (m *Store) ActiveJobs(_ context.Context) ([]*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*job.Job
	for _, j := range m.jobs {
		if !j.Active() {
			continue
		}
		cp := *j
		result = append(result, &cp)
	}

	sort.Slice(result, func(i, k int) bool {
		return result[i].CreatedAt.Before(result[k].CreatedAt)
	})
	return result, nil
}

// ListJobs returns jobs matching the given options, newest first.
func (m *Store) ListJobs(_ context.Context, opts job.ListOpts) ([]*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*job.Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		if opts.Status != "" && j.Status != opts.Status {
			continue
		}
		if opts.EndpointID != "" && j.EndpointID != opts.EndpointID {
			continue
		}
		cp := *j
		result = append(result, &cp)
	}

	sort.Slice(result, func(i, k int) bool {
		return result[i].CreatedAt.After(result[k].CreatedAt)
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(result) {
			return nil, nil
		}
		result = result[opts.Offset:]
	}
	if opts.Limit > 0 && len(result) > opts.Limit {
		result = result[:opts.Limit]
	}

	return result, nil
}

// JobStats returns aggregate job counts by status.
func (m *Store) JobStats(_ context.Context) (*job.Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := &job.Stats{}
	for _, j := range m.jobs {
		switch j.Status {
		case job.StatusPending:
			stats.Pending++
		case job.StatusRunning:
			stats.Running++
		case job.StatusInQueue:
			stats.InQueue++
		case job.StatusCompleted:
			stats.Completed++
		case job.StatusFailed:
			stats.Failed++
		case job.StatusCancelled:
			stats.Cancelled++
		}
		stats.Total++
	}
	return stats, nil
}

// ──────────────────────────────────────────────────
// DLQ Store
// ──────────────────────────────────────────────────

// PushDLQ adds a failed job entry to the dead letter queue.
func (m *Store) PushDLQ(_ context.Context, entry *dlq.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *entry
	m.dlqs[entry.ID.String()] = &cp
	return nil
}

// GetDLQ retrieves a DLQ entry by ID.
func (m *Store) GetDLQ(_ context.Context, entryID id.DLQID) (*dlq.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.dlqs[entryID.String()]
	if !ok {
		return nil, gpuflow.ErrDLQNotFound
	}
	cp := *e
	return &cp, nil
}

// ListDLQ returns DLQ entries matching the given options, newest first.
func (m *Store) ListDLQ(_ context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*dlq.Entry, 0, len(m.dlqs))
	for _, e := range m.dlqs {
		if opts.EndpointID != "" && e.EndpointID != opts.EndpointID {
			continue
		}
		cp := *e
		result = append(result, &cp)
	}

	sort.Slice(result, func(i, k int) bool {
		return result[i].FailedAt.After(result[k].FailedAt)
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(result) {
			return nil, nil
		}
		result = result[opts.Offset:]
	}
	if opts.Limit > 0 && len(result) > opts.Limit {
		result = result[:opts.Limit]
	}

	return result, nil
}

// MarkReplayed stamps ReplayedAt on a DLQ entry.
func (m *Store) MarkReplayed(_ context.Context, entryID id.DLQID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.dlqs[entryID.String()]
	if !ok {
		return gpuflow.ErrDLQNotFound
	}
	now := time.Now().UTC()
	e.ReplayedAt = &now
	return nil
}

// PurgeDLQ removes DLQ entries with FailedAt before the given time.
func (m *Store) PurgeDLQ(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var count int64
	for key, e := range m.dlqs {
		if e.FailedAt.Before(before) {
			delete(m.dlqs, key)
			count++
		}
	}
	return count, nil
}

// CountDLQ returns the total number of entries in the dead letter queue.
func (m *Store) CountDLQ(_ context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return int64(len(m.dlqs)), nil
}

// ──────────────────────────────────────────────────
// Budget Ledger
// ──────────────────────────────────────────────────

// RecordSpend appends a spend amount attributed to an endpoint.
func (m *Store) RecordSpend(_ context.Context, endpointID string, amount float64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.spend = append(m.spend, spendRecord{
		endpointID: endpointID,
		amount:     amount,
		at:         at.UTC(),
	})
	return nil
}

// TodaySpend returns the aggregate spend since UTC midnight.
func (m *Store) TodaySpend(_ context.Context) (float64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	now := time.Now().UTC()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	var total float64
	for _, r := range m.spend {
		if !r.at.Before(midnight) {
			total += r.amount
		}
	}
	return total, nil
}

// MonthSpend returns the aggregate spend since the first of the current
// month (UTC).
func (m *Store) MonthSpend(_ context.Context) (float64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	now := time.Now().UTC()
	first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)

	var total float64
	for _, r := range m.spend {
		if !r.at.Before(first) {
			total += r.amount
		}
	}
	return total, nil
}
