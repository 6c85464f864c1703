package sched

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/xraph/gpuflow/compute"
	"github.com/xraph/gpuflow/job"
)

// tickLoop drives the dispatch and polling passes.
func (m *Manager) tickLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.tick()
		}
	}
}

// tick runs one scheduling pass: poll in-flight jobs, then dispatch
// newly eligible pending jobs. A pass that overruns the tick interval
// simply causes the next tick to be skipped; passes never overlap.
func (m *Manager) tick() {
	if !m.inTick.CompareAndSwap(false, true) {
		return
	}
	defer m.inTick.Store(false)

	ctx := context.Background()
	m.pollActive(ctx)
	m.dispatchPending(ctx)
}

// ──────────────────────────────────────────────────
// Dispatch pass
// ──────────────────────────────────────────────────

// dispatchPending claims pending jobs up to the free concurrency
// capacity and dispatches each in its own goroutine. A claim is the
// PENDING → RUNNING transition: it stamps StartedAt, counts the
// attempt, and announces job:running before the dispatch call leaves
// the process. Claimed jobs still inside their dispatch goroutine
// count toward the window alongside the active table, so a dispatch
// parked on the rate limiter cannot be double-counted as free
// capacity by the next tick.
func (m *Manager) dispatchPending(ctx context.Context) {
	capacity := m.cfg.MaxConcurrentJobs - m.activeCount() - int(m.inFlight.Load())
	if capacity <= 0 {
		return
	}

	pending, err := m.store.PendingJobs(ctx, capacity, time.Now().UTC())
	if err != nil {
		m.logger.Error("fetch pending jobs", slog.String("error", err.Error()))
		return
	}

	for _, j := range pending {
		now := time.Now().UTC()
		j.Status = job.StatusRunning
		j.StartedAt = &now
		j.Attempts++
		if err := m.store.UpdateJob(ctx, j); err != nil {
			m.logger.Error("claim pending job",
				slog.String("job_id", j.ID.String()),
				slog.String("error", err.Error()),
			)
			continue
		}
		m.extensions.EmitJobStarted(ctx, j)

		m.inFlight.Add(1)
		m.wg.Add(1)
		go func(j *job.Job) {
			defer m.wg.Done()
			defer m.inFlight.Add(-1)
			m.dispatch(context.Background(), j)
		}(j)
	}
}

// dispatch submits one claimed job to the remote backend. Errors are
// absorbed into the retry/DLQ path; nothing propagates to the loop.
func (m *Manager) dispatch(ctx context.Context, j *job.Job) {
	// Endpoint-level shaping first: a saturated endpoint returns the
	// job to pending for the next window without consuming a token.
	if !m.endpoints.Acquire(j.EndpointID) {
		m.requeue(ctx, j, time.Now().UTC().Add(m.cfg.TickInterval))
		return
	}

	// Global dispatch window. Blocks until a token is granted or the
	// limiter is closed during shutdown.
	if err := m.limiter.Acquire(ctx); err != nil {
		m.endpoints.Release(j.EndpointID)
		m.requeue(ctx, j, time.Time{})
		return
	}

	remoteID, err := m.client.SubmitRun(ctx, j.EndpointID, j.Input)
	if err != nil {
		m.endpoints.Release(j.EndpointID)
		m.fail(ctx, j, err)
		return
	}

	j.RemoteJobID = remoteID
	j.Status = job.StatusInQueue
	if err := m.store.UpdateJob(ctx, j); err != nil {
		m.logger.Error("persist dispatched job",
			slog.String("job_id", j.ID.String()),
			slog.String("error", err.Error()),
		)
	}

	m.track(j)
	m.extensions.EmitJobQueued(ctx, j)
	m.logger.Debug("job dispatched",
		slog.String("job_id", j.ID.String()),
		slog.String("remote_job_id", remoteID),
	)
}

// requeue returns a claimed-but-undispatched job to pending. The claim
// never reached the backend, so the attempt it counted is given back.
func (m *Manager) requeue(ctx context.Context, j *job.Job, notBefore time.Time) {
	j.Status = job.StatusPending
	j.StartedAt = nil
	j.Attempts--
	j.NotBefore = notBefore
	if err := m.store.UpdateJob(ctx, j); err != nil {
		m.logger.Error("requeue job",
			slog.String("job_id", j.ID.String()),
			slog.String("error", err.Error()),
		)
	}
}

// fail records a failed dispatch attempt and either schedules a retry
// with backoff or moves the job to the dead letter queue. The attempt
// itself was already counted at claim time.
func (m *Manager) fail(ctx context.Context, j *job.Job, jobErr error) {
	j.LastError = jobErr.Error()
	j.RemoteJobID = ""
	now := time.Now().UTC()

	if j.Attempts < j.MaxAttempts {
		delay := m.bo.Delay(j.Attempts - 1)
		j.Status = job.StatusPending
		j.NotBefore = now.Add(delay)
		if err := m.store.UpdateJob(ctx, j); err != nil {
			m.logger.Error("persist retry",
				slog.String("job_id", j.ID.String()),
				slog.String("error", err.Error()),
			)
			return
		}

		m.extensions.EmitJobRetrying(ctx, j, j.Attempts, j.NotBefore)
		m.logger.Info("job scheduled for retry",
			slog.String("job_id", j.ID.String()),
			slog.Int("attempt", j.Attempts),
			slog.Int("max_attempts", j.MaxAttempts),
			slog.Duration("delay", delay),
		)
		return
	}

	j.Status = job.StatusFailed
	j.CompletedAt = &now
	if err := m.store.UpdateJob(ctx, j); err != nil {
		m.logger.Error("persist terminal failure",
			slog.String("job_id", j.ID.String()),
			slog.String("error", err.Error()),
		)
		return
	}

	if _, dlqErr := m.dlqService.Push(ctx, j, jobErr); dlqErr != nil {
		m.logger.Error("push job to DLQ",
			slog.String("job_id", j.ID.String()),
			slog.String("error", dlqErr.Error()),
		)
	}

	m.extensions.EmitJobFailed(ctx, j, jobErr)
	m.extensions.EmitJobDLQ(ctx, j, jobErr)
	m.logger.Warn("job dead-lettered after exhausting attempts",
		slog.String("job_id", j.ID.String()),
		slog.Int("attempts", j.Attempts),
		slog.String("error", jobErr.Error()),
	)
}

// ──────────────────────────────────────────────────
// Polling pass
// ──────────────────────────────────────────────────

// pollActive queries the remote status of every tracked job and applies
// transitions. A poll error leaves the job tracked for the next pass.
func (m *Manager) pollActive(ctx context.Context) {
	for _, j := range m.activeSnapshot() {
		state, err := m.client.RunStatus(ctx, j.EndpointID, j.RemoteJobID)
		if err != nil {
			m.logger.Warn("status poll failed",
				slog.String("job_id", j.ID.String()),
				slog.String("remote_job_id", j.RemoteJobID),
				slog.String("error", err.Error()),
			)
			continue
		}
		m.applyRemoteState(ctx, j, state)
	}
}

// applyRemoteState maps a remote run state onto the local job record.
func (m *Manager) applyRemoteState(ctx context.Context, j *job.Job, state *compute.RunState) {
	now := time.Now().UTC()

	switch state.Status {
	case compute.RemoteInQueue, compute.RemoteInProgress:
		// Still in the remote backend; no local state change.

	case compute.RemoteCompleted:
		j.Status = job.StatusCompleted
		j.Output = state.Output
		j.DurationMs = executionDuration(j, state, now)
		j.CompletedAt = &now
		if err := m.store.UpdateJob(ctx, j); err != nil {
			m.logger.Error("persist completion",
				slog.String("job_id", j.ID.String()),
				slog.String("error", err.Error()),
			)
			return
		}
		m.untrack(j)
		m.recordSpend(ctx, j)
		m.extensions.EmitJobCompleted(ctx, j, time.Duration(j.DurationMs)*time.Millisecond)
		m.logger.Info("job completed",
			slog.String("job_id", j.ID.String()),
			slog.Int64("duration_ms", j.DurationMs),
		)

	case compute.RemoteFailed, compute.RemoteTimedOut:
		// A terminal failure reported by the backend is final; the run
		// already consumed GPU time. Only dispatch-call failures take
		// the retry/dead-letter branch.
		remoteErr := remoteError(state)
		j.Status = job.StatusFailed
		j.LastError = remoteErr.Error()
		j.CompletedAt = &now
		if err := m.store.UpdateJob(ctx, j); err != nil {
			m.logger.Error("persist remote failure",
				slog.String("job_id", j.ID.String()),
				slog.String("error", err.Error()),
			)
			return
		}
		m.untrack(j)
		m.extensions.EmitJobFailed(ctx, j, remoteErr)
		m.logger.Warn("job failed remotely",
			slog.String("job_id", j.ID.String()),
			slog.String("remote_job_id", j.RemoteJobID),
			slog.String("error", remoteErr.Error()),
		)

	case compute.RemoteCancelled:
		j.Status = job.StatusCancelled
		j.CompletedAt = &now
		if err := m.store.UpdateJob(ctx, j); err != nil {
			m.logger.Error("persist remote cancellation",
				slog.String("job_id", j.ID.String()),
				slog.String("error", err.Error()),
			)
			return
		}
		m.untrack(j)
		m.extensions.EmitJobCancelled(ctx, j)
	}
}

// executionDuration picks the backend-reported execution time when
// present, falling back to wall time since the dispatch claim. Some
// backends omit executionTime on completion; the fallback keeps
// durations (and the spend they drive) nonzero for those endpoints.
func executionDuration(j *job.Job, state *compute.RunState, now time.Time) int64 {
	if state.ExecutionMs > 0 {
		return state.ExecutionMs
	}
	if j.StartedAt == nil {
		return 0
	}
	return now.Sub(*j.StartedAt).Milliseconds()
}

// remoteError converts a terminal remote failure state into an error.
func remoteError(state *compute.RunState) error {
	if state.Error != "" {
		return errors.New(state.Error)
	}
	if state.Status == compute.RemoteTimedOut {
		return errors.New("remote execution timed out")
	}
	return errors.New("remote execution failed")
}

// recordSpend appends ledger spend for a completed job when the
// endpoint has a configured cost rate.
func (m *Manager) recordSpend(ctx context.Context, j *job.Job) {
	rate, ok := m.costPerSec[j.EndpointID]
	if !ok || j.DurationMs <= 0 {
		return
	}
	amount := rate * float64(j.DurationMs) / 1000
	if err := m.store.RecordSpend(ctx, j.EndpointID, amount, time.Now().UTC()); err != nil {
		m.logger.Warn("record spend failed",
			slog.String("job_id", j.ID.String()),
			slog.String("error", err.Error()),
		)
	}
}
