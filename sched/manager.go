package sched

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xraph/gpuflow"
	"github.com/xraph/gpuflow/backoff"
	"github.com/xraph/gpuflow/budget"
	"github.com/xraph/gpuflow/compute"
	"github.com/xraph/gpuflow/dlq"
	"github.com/xraph/gpuflow/ext"
	"github.com/xraph/gpuflow/id"
	"github.com/xraph/gpuflow/job"
	"github.com/xraph/gpuflow/queue"
	"github.com/xraph/gpuflow/ratelimit"
	"github.com/xraph/gpuflow/store"
	"github.com/xraph/gpuflow/stream"
)

// Manager coordinates job admission, dispatch, polling, retries, and
// dead-letter handling. Create one with NewManager, then call Start.
type Manager struct {
	cfg        gpuflow.Config
	store      store.Store
	client     compute.Client
	extensions *ext.Registry
	dlqService *dlq.Service
	gate       *budget.Gate
	limiter    *ratelimit.Limiter
	endpoints  *queue.Manager
	bo         backoff.Strategy
	logger     *slog.Logger

	// costPerSec maps endpoint IDs to USD per execution second. Spend
	// is only recorded for endpoints listed here.
	costPerSec map[string]float64

	// active tracks jobs awaiting remote completion, keyed by job ID.
	active   map[string]*job.Job
	activeMu sync.Mutex

	// inFlight counts claimed jobs whose dispatch goroutine has not yet
	// finished. Together with the active table it forms the concurrency
	// window: a dispatch parked on the rate limiter is not in the
	// active table but still occupies a slot.
	inFlight atomic.Int64

	// inTick guards against overlapping tick passes when a pass takes
	// longer than the tick interval.
	inTick atomic.Bool

	// broker, when set, feeds its subscriber count into Stats.
	broker *stream.Broker

	endpointConfigs []queue.Config

	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

// Option configures a Manager.
type Option func(*Manager)

// WithConfig replaces the default scheduler configuration.
func WithConfig(cfg gpuflow.Config) Option {
	return func(m *Manager) { m.cfg = cfg }
}

// WithExtension registers an extension with the manager's registry.
func WithExtension(e ext.Extension) Option {
	return func(m *Manager) { m.extensions.Register(e) }
}

// WithBackoff sets the retry backoff strategy.
// If not set, backoff.DefaultStrategy() (exponential with jitter) is used.
func WithBackoff(b backoff.Strategy) Option {
	return func(m *Manager) { m.bo = b }
}

// WithEndpointConfig registers endpoint-level rate limiting and
// concurrency configurations. Endpoints not listed have no limits
// beyond the global dispatch window.
func WithEndpointConfig(configs ...queue.Config) Option {
	return func(m *Manager) { m.endpointConfigs = append(m.endpointConfigs, configs...) }
}

// WithEndpointCost sets the USD-per-execution-second rate used to
// record spend when jobs on the given endpoint complete. Endpoints
// without a rate record no spend.
func WithEndpointCost(endpointID string, usdPerSecond float64) Option {
	return func(m *Manager) { m.costPerSec[endpointID] = usdPerSecond }
}

// WithStreamBroker registers the broker as a lifecycle extension and
// surfaces its subscriber count through Stats.
func WithStreamBroker(b *stream.Broker) Option {
	return func(m *Manager) {
		m.broker = b
		m.extensions.Register(b)
	}
}

// NewManager creates a Manager over the given store and compute client.
func NewManager(st store.Store, client compute.Client, logger *slog.Logger, opts ...Option) *Manager {
	m := &Manager{
		cfg:        gpuflow.DefaultConfig(),
		store:      st,
		client:     client,
		extensions: ext.NewRegistry(logger),
		dlqService: dlq.NewService(st),
		logger:     logger,
		costPerSec: make(map[string]float64),
		active:     make(map[string]*job.Job),
		stopCh:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}

	m.gate = budget.NewGate(st, m.cfg.BudgetLimitDaily)
	m.limiter = ratelimit.New(m.cfg.RateLimitPerSecond)
	m.endpoints = queue.NewManager(m.endpointConfigs...)
	if m.bo == nil {
		m.bo = backoff.DefaultStrategy()
	}
	return m
}

// Extensions returns the manager's extension registry.
func (m *Manager) Extensions() *ext.Registry { return m.extensions }

// DLQ returns the dead letter queue service.
func (m *Manager) DLQ() *dlq.Service { return m.dlqService }

// ──────────────────────────────────────────────────
// Submission
// ──────────────────────────────────────────────────

// Submit admits a new job for the given endpoint. The input is hashed
// for deduplication: if a recent job with the same input exists (and is
// not failed or cancelled) it is returned with deduplicated=true and no
// new row is created. Submissions are refused with
// gpuflow.ErrBudgetExceeded once today's spend reaches the daily limit.
func (m *Manager) Submit(ctx context.Context, endpointID string, input any, opts ...job.SubmitOption) (j *job.Job, deduplicated bool, err error) {
	var so job.SubmitOptions
	for _, opt := range opts {
		opt(&so)
	}

	if endpointID == "" {
		return nil, false, fmt.Errorf("gpuflow/sched: endpoint id is required")
	}

	hash, err := job.HashInput(input)
	if err != nil {
		return nil, false, fmt.Errorf("gpuflow/sched: hash input: %w", err)
	}

	if !so.SkipDeduplication {
		existing, lookupErr := m.store.GetJobByHash(ctx, hash)
		switch {
		case lookupErr == nil:
			m.logger.Debug("submission deduplicated",
				slog.String("job_id", existing.ID.String()),
				slog.String("input_hash", hash),
			)
			return existing, true, nil
		case !errors.Is(lookupErr, gpuflow.ErrJobNotFound):
			return nil, false, fmt.Errorf("gpuflow/sched: dedup lookup: %w", lookupErr)
		}
	}

	// Re-checked on every submission; spend moves underneath us.
	if err := m.gate.Check(ctx); err != nil {
		return nil, false, err
	}

	raw, err := json.Marshal(input)
	if err != nil {
		return nil, false, fmt.Errorf("gpuflow/sched: encode input: %w", err)
	}

	maxAttempts := so.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = m.cfg.MaxRetryAttempts
	}

	j = &job.Job{
		Entity:      gpuflow.NewEntity(),
		ID:          id.NewJobID(),
		EndpointID:  endpointID,
		InputHash:   hash,
		Input:       raw,
		Status:      job.StatusPending,
		MaxAttempts: maxAttempts,
	}
	if err := m.store.CreateJob(ctx, j); err != nil {
		return nil, false, fmt.Errorf("gpuflow/sched: persist job: %w", err)
	}

	m.extensions.EmitJobCreated(ctx, j)
	m.logger.Info("job submitted",
		slog.String("job_id", j.ID.String()),
		slog.String("endpoint_id", endpointID),
		slog.String("input_hash", hash),
	)
	return j, false, nil
}

// ──────────────────────────────────────────────────
// Cancellation
// ──────────────────────────────────────────────────

// Cancel cancels a job. If the job holds a remote handle, a best-effort
// cancel is sent to the backend; remote failures are logged but never
// block the local transition. Cancelling a job that is already terminal
// is a no-op returning the job unchanged.
func (m *Manager) Cancel(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	j, err := m.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if j.Status.Terminal() {
		return j, nil
	}

	if j.RemoteJobID != "" {
		if cancelErr := m.client.CancelRun(ctx, j.EndpointID, j.RemoteJobID); cancelErr != nil {
			m.logger.Warn("remote cancel failed",
				slog.String("job_id", j.ID.String()),
				slog.String("remote_job_id", j.RemoteJobID),
				slog.String("error", cancelErr.Error()),
			)
		}
	}

	now := time.Now().UTC()
	j.Status = job.StatusCancelled
	j.CompletedAt = &now
	if err := m.store.UpdateJob(ctx, j); err != nil {
		return nil, fmt.Errorf("gpuflow/sched: persist cancellation: %w", err)
	}

	m.untrack(j)
	m.extensions.EmitJobCancelled(ctx, j)
	m.logger.Info("job cancelled", slog.String("job_id", j.ID.String()))
	return j, nil
}

// ──────────────────────────────────────────────────
// Dead-letter retry
// ──────────────────────────────────────────────────

// RetryDeadLetter resubmits a dead-lettered job's input as a fresh job,
// bypassing deduplication, and stamps the entry as replayed. The entry
// itself is never deleted.
func (m *Manager) RetryDeadLetter(ctx context.Context, entryID id.DLQID) (*job.Job, error) {
	entry, err := m.dlqService.Get(ctx, entryID)
	if err != nil {
		return nil, err
	}

	j, _, err := m.Submit(ctx, entry.EndpointID, json.RawMessage(entry.Input),
		job.WithSkipDeduplication())
	if err != nil {
		return nil, err
	}

	if err := m.dlqService.MarkReplayed(ctx, entryID); err != nil {
		m.logger.Warn("failed to mark DLQ entry replayed",
			slog.String("entry_id", entryID.String()),
			slog.String("error", err.Error()),
		)
	}

	m.logger.Info("dead-lettered job resubmitted",
		slog.String("entry_id", entryID.String()),
		slog.String("job_id", j.ID.String()),
	)
	return j, nil
}

// ──────────────────────────────────────────────────
// Queries
// ──────────────────────────────────────────────────

// GetJob retrieves a job by ID.
func (m *Manager) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	return m.store.GetJob(ctx, jobID)
}

// ListJobs returns jobs matching the given options, newest first.
func (m *Manager) ListJobs(ctx context.Context, opts job.ListOpts) ([]*job.Job, error) {
	return m.store.ListJobs(ctx, opts)
}

// Stats describes the current state of the scheduler.
type Stats struct {
	Jobs             *job.Stats `json:"jobs"`
	DLQ              int64      `json:"dlq"`
	Active           int        `json:"active"`
	RateTokens       int        `json:"rate_tokens"`
	TodaySpend       float64    `json:"today_spend"`
	DailyLimit       float64    `json:"daily_limit"`
	ConnectedClients int        `json:"connected_clients"`
}

// Stats returns aggregate counts plus live dispatch state.
func (m *Manager) Stats(ctx context.Context) (*Stats, error) {
	jobStats, err := m.store.JobStats(ctx)
	if err != nil {
		return nil, fmt.Errorf("gpuflow/sched: job stats: %w", err)
	}
	dlqCount, err := m.store.CountDLQ(ctx)
	if err != nil {
		return nil, fmt.Errorf("gpuflow/sched: dlq count: %w", err)
	}
	spend, err := m.store.TodaySpend(ctx)
	if err != nil {
		return nil, fmt.Errorf("gpuflow/sched: today's spend: %w", err)
	}
	s := &Stats{
		Jobs:       jobStats,
		DLQ:        dlqCount,
		Active:     m.activeCount(),
		RateTokens: m.limiter.Tokens(),
		TodaySpend: spend,
		DailyLimit: m.cfg.BudgetLimitDaily,
	}
	if m.broker != nil {
		s.ConnectedClients = m.broker.Stats().SubscriberCount
	}
	return s, nil
}

// ──────────────────────────────────────────────────
// Lifecycle
// ──────────────────────────────────────────────────

// Start rebuilds the active dispatch table from persisted state and
// launches the tick loop. It returns immediately.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return nil
	}
	if err := m.restoreActive(ctx); err != nil {
		return err
	}
	m.running = true

	m.logger.Info("scheduler starting",
		slog.Int("max_concurrent", m.cfg.MaxConcurrentJobs),
		slog.Int("rate_limit", m.cfg.RateLimitPerSecond),
		slog.Duration("tick_interval", m.cfg.TickInterval),
	)

	m.wg.Add(1)
	go m.tickLoop()
	return nil
}

// Stop halts the tick loop, waits for in-flight dispatches up to the
// context deadline, and notifies extensions of shutdown.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return nil
	}
	m.running = false
	m.mu.Unlock()

	m.logger.Info("scheduler stopping")
	close(m.stopCh)
	m.limiter.Close()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.logger.Info("scheduler stopped gracefully")
	case <-ctx.Done():
		m.logger.Warn("scheduler shutdown timed out with dispatches in flight")
	}

	m.extensions.EmitShutdown(context.WithoutCancel(ctx))
	return nil
}

// restoreActive repopulates the in-memory dispatch table from rows that
// were awaiting remote completion when the previous process exited.
// Without this, a restart would orphan in-flight jobs forever.
func (m *Manager) restoreActive(ctx context.Context) error {
	jobs, err := m.store.ActiveJobs(ctx)
	if err != nil {
		return fmt.Errorf("gpuflow/sched: restore active jobs: %w", err)
	}

	m.activeMu.Lock()
	for _, j := range jobs {
		m.active[j.ID.String()] = j
	}
	m.activeMu.Unlock()

	if len(jobs) > 0 {
		m.logger.Info("restored active dispatch table", slog.Int("jobs", len(jobs)))
	}
	return nil
}

// ──────────────────────────────────────────────────
// Active table
// ──────────────────────────────────────────────────

func (m *Manager) track(j *job.Job) {
	m.activeMu.Lock()
	m.active[j.ID.String()] = j
	m.activeMu.Unlock()
}

// untrack removes a job from the active table and, if it was tracked,
// releases its endpoint slot.
func (m *Manager) untrack(j *job.Job) {
	m.activeMu.Lock()
	_, tracked := m.active[j.ID.String()]
	delete(m.active, j.ID.String())
	m.activeMu.Unlock()

	if tracked {
		m.endpoints.Release(j.EndpointID)
	}
}

func (m *Manager) activeCount() int {
	m.activeMu.Lock()
	defer m.activeMu.Unlock()
	return len(m.active)
}

// activeSnapshot returns the tracked jobs for a polling pass.
func (m *Manager) activeSnapshot() []*job.Job {
	m.activeMu.Lock()
	defer m.activeMu.Unlock()
	out := make([]*job.Job, 0, len(m.active))
	for _, j := range m.active {
		out = append(out, j)
	}
	return out
}
