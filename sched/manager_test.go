package sched

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/xraph/gpuflow"
	"github.com/xraph/gpuflow/backoff"
	"github.com/xraph/gpuflow/compute"
	"github.com/xraph/gpuflow/dlq"
	"github.com/xraph/gpuflow/id"
	"github.com/xraph/gpuflow/job"
	"github.com/xraph/gpuflow/queue"
	"github.com/xraph/gpuflow/store/memory"
	"github.com/xraph/gpuflow/stream"
)

// ──────────────────────────────────────────────────
// Fakes
// ──────────────────────────────────────────────────

// fakeClient is an in-memory compute.Client. Submitted runs start in
// IN_QUEUE; tests advance them with setState.
type fakeClient struct {
	mu          sync.Mutex
	nextID      int
	states      map[string]*compute.RunState
	submits     []string // endpoint IDs in submit order
	cancels     []string // remote job IDs
	submitFails int      // fail this many submits before succeeding
	statusErr   error
	cancelErr   error
	submitGate  chan struct{} // when set, SubmitRun blocks until it yields
}

func newFakeClient() *fakeClient {
	return &fakeClient{states: make(map[string]*compute.RunState)}
}

func (f *fakeClient) SubmitRun(_ context.Context, endpointID string, _ json.RawMessage) (string, error) {
	f.mu.Lock()
	gate := f.submitGate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.submits = append(f.submits, endpointID)
	if f.submitFails > 0 {
		f.submitFails--
		return "", errors.New("backend unavailable")
	}
	f.nextID++
	rid := fmt.Sprintf("remote-%d", f.nextID)
	f.states[rid] = &compute.RunState{Status: compute.RemoteInQueue}
	return rid, nil
}

func (f *fakeClient) RunStatus(_ context.Context, _, remoteJobID string) (*compute.RunState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.statusErr != nil {
		return nil, f.statusErr
	}
	state, ok := f.states[remoteJobID]
	if !ok {
		return nil, fmt.Errorf("unknown remote job %q", remoteJobID)
	}
	cp := *state
	return &cp, nil
}

func (f *fakeClient) CancelRun(_ context.Context, _, remoteJobID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.cancels = append(f.cancels, remoteJobID)
	return f.cancelErr
}

func (f *fakeClient) setState(remoteJobID string, state *compute.RunState) {
	f.mu.Lock()
	f.states[remoteJobID] = state
	f.mu.Unlock()
}

func (f *fakeClient) submitCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.submits)
}

// recorderExt captures emitted lifecycle events in order.
type recorderExt struct {
	mu     sync.Mutex
	events []string
}

func (r *recorderExt) Name() string { return "recorder" }

func (r *recorderExt) record(evt string) {
	r.mu.Lock()
	r.events = append(r.events, evt)
	r.mu.Unlock()
}

func (r *recorderExt) Events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func (r *recorderExt) OnJobCreated(_ context.Context, _ *job.Job) error {
	r.record("created")
	return nil
}

func (r *recorderExt) OnJobQueued(_ context.Context, _ *job.Job) error {
	r.record("queued")
	return nil
}

func (r *recorderExt) OnJobStarted(_ context.Context, _ *job.Job) error {
	r.record("running")
	return nil
}

func (r *recorderExt) OnJobRetrying(_ context.Context, _ *job.Job, _ int, _ time.Time) error {
	r.record("retry")
	return nil
}

func (r *recorderExt) OnJobCompleted(_ context.Context, _ *job.Job, _ time.Duration) error {
	r.record("completed")
	return nil
}

func (r *recorderExt) OnJobFailed(_ context.Context, _ *job.Job, _ error) error {
	r.record("failed")
	return nil
}

func (r *recorderExt) OnJobDLQ(_ context.Context, _ *job.Job, _ error) error {
	r.record("dlq")
	return nil
}

func (r *recorderExt) OnJobCancelled(_ context.Context, _ *job.Job) error {
	r.record("cancelled")
	return nil
}

// ──────────────────────────────────────────────────
// Harness
// ──────────────────────────────────────────────────

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// newTestManager builds a manager over a memory store and fake client.
// Tests drive tick passes directly instead of waiting for the ticker;
// zero-delay backoff makes retries eligible on the next pass.
func newTestManager(t *testing.T, opts ...Option) (*Manager, *memory.Store, *fakeClient, *recorderExt) {
	t.Helper()

	st := memory.New()
	client := newFakeClient()
	rec := &recorderExt{}

	cfg := gpuflow.DefaultConfig()
	cfg.MaxConcurrentJobs = 5
	cfg.RateLimitPerSecond = 100
	cfg.MaxRetryAttempts = 3
	cfg.BudgetLimitDaily = 50

	all := append([]Option{
		WithConfig(cfg),
		WithBackoff(backoff.NewConstant(0)),
		WithExtension(rec),
	}, opts...)

	m := NewManager(st, client, testLogger(), all...)
	t.Cleanup(func() { m.limiter.Close() })
	return m, st, client, rec
}

// settle waits for the in-flight dispatch goroutines spawned by a tick.
func settle(m *Manager) {
	m.wg.Wait()
}

func submitOK(t *testing.T, m *Manager, endpointID string, input any) *job.Job {
	t.Helper()
	j, deduplicated, err := m.Submit(context.Background(), endpointID, input)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if deduplicated {
		t.Fatalf("unexpected deduplication for input %v", input)
	}
	return j
}

// ──────────────────────────────────────────────────
// Submission
// ──────────────────────────────────────────────────

func TestSubmit_CreatesPendingJob(t *testing.T) {
	m, st, _, rec := newTestManager(t)
	ctx := context.Background()

	j := submitOK(t, m, "ep-whisper", map[string]any{"audio_url": "s3://a.wav"})

	got, err := st.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.Status != job.StatusPending {
		t.Errorf("Status = %q, want pending", got.Status)
	}
	if got.InputHash == "" || len(got.InputHash) != job.HashLen {
		t.Errorf("InputHash = %q, want %d hex chars", got.InputHash, job.HashLen)
	}
	if got.MaxAttempts != 3 {
		t.Errorf("MaxAttempts = %d, want 3", got.MaxAttempts)
	}
	if evts := rec.Events(); len(evts) != 1 || evts[0] != "created" {
		t.Errorf("events = %v, want [created]", evts)
	}
}

func TestSubmit_Deduplicates(t *testing.T) {
	m, st, _, _ := newTestManager(t)
	ctx := context.Background()

	input := map[string]any{"prompt": "a cat", "steps": 30}
	first := submitOK(t, m, "ep-sdxl", input)

	// Same content, different key order.
	second, deduplicated, err := m.Submit(ctx, "ep-sdxl", map[string]any{"steps": 30, "prompt": "a cat"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if !deduplicated {
		t.Fatal("expected deduplicated submission")
	}
	if second.ID != first.ID {
		t.Errorf("deduplicated job = %s, want %s", second.ID, first.ID)
	}

	// Exactly one row exists.
	stats, err := st.JobStats(ctx)
	if err != nil {
		t.Fatalf("JobStats: %v", err)
	}
	if stats.Total != 1 {
		t.Errorf("Total = %d, want 1", stats.Total)
	}
}

func TestSubmit_SkipDeduplication(t *testing.T) {
	m, st, _, _ := newTestManager(t)
	ctx := context.Background()

	input := map[string]any{"prompt": "a cat"}
	submitOK(t, m, "ep", input)

	j, deduplicated, err := m.Submit(ctx, "ep", input, job.WithSkipDeduplication())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if deduplicated {
		t.Fatal("skip-dedup submission must not be deduplicated")
	}
	if j == nil {
		t.Fatal("expected a new job")
	}

	stats, _ := st.JobStats(ctx)
	if stats.Total != 2 {
		t.Errorf("Total = %d, want 2", stats.Total)
	}
}

func TestSubmit_FailedJobDoesNotBlockResubmission(t *testing.T) {
	m, st, _, _ := newTestManager(t)
	ctx := context.Background()

	input := map[string]any{"prompt": "retryable"}
	first := submitOK(t, m, "ep", input)

	// Terminally fail the first job.
	first.Status = job.StatusFailed
	if err := st.UpdateJob(ctx, first); err != nil {
		t.Fatalf("UpdateJob: %v", err)
	}

	second, deduplicated, err := m.Submit(ctx, "ep", input)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if deduplicated {
		t.Fatal("failed job must not satisfy deduplication")
	}
	if second.ID == first.ID {
		t.Fatal("expected a fresh job row")
	}
}

func TestSubmit_BudgetExceeded(t *testing.T) {
	m, st, _, _ := newTestManager(t)
	ctx := context.Background()

	// Push today's spend to the limit.
	if err := st.RecordSpend(ctx, "ep", 50, time.Now().UTC()); err != nil {
		t.Fatalf("RecordSpend: %v", err)
	}

	_, _, err := m.Submit(ctx, "ep", map[string]any{"prompt": "too expensive"})
	if !errors.Is(err, gpuflow.ErrBudgetExceeded) {
		t.Fatalf("Submit = %v, want ErrBudgetExceeded", err)
	}
	if !strings.Contains(err.Error(), "50.00") {
		t.Errorf("error should name the limit: %v", err)
	}

	// No row created.
	stats, _ := st.JobStats(ctx)
	if stats.Total != 0 {
		t.Errorf("Total = %d, want 0", stats.Total)
	}
}

// ──────────────────────────────────────────────────
// Dispatch
// ──────────────────────────────────────────────────

func TestDispatch_HappyPath(t *testing.T) {
	m, st, client, rec := newTestManager(t)
	ctx := context.Background()

	j := submitOK(t, m, "ep-whisper", map[string]any{"audio_url": "s3://a.wav"})

	// Tick 1: claim and dispatch.
	m.tick()
	settle(m)

	got, _ := st.GetJob(ctx, j.ID)
	if got.Status != job.StatusInQueue {
		t.Fatalf("Status = %q, want in_queue", got.Status)
	}
	if got.RemoteJobID == "" {
		t.Fatal("expected a remote handle")
	}
	if got.StartedAt == nil {
		t.Fatal("expected StartedAt to be set at claim time")
	}
	if got.Attempts != 1 {
		t.Fatalf("Attempts = %d, want 1 (counted at claim)", got.Attempts)
	}
	if m.activeCount() != 1 {
		t.Fatalf("activeCount = %d, want 1", m.activeCount())
	}

	// Remote starts executing; nothing changes locally.
	client.setState(got.RemoteJobID, &compute.RunState{Status: compute.RemoteInProgress})
	m.tick()
	settle(m)

	got, _ = st.GetJob(ctx, j.ID)
	if got.Status != job.StatusInQueue {
		t.Fatalf("Status = %q, want in_queue while the remote runs", got.Status)
	}

	// Remote completes.
	client.setState(got.RemoteJobID, &compute.RunState{
		Status:      compute.RemoteCompleted,
		Output:      json.RawMessage(`{"text":"hello"}`),
		ExecutionMs: 1234,
	})
	m.tick()
	settle(m)

	got, _ = st.GetJob(ctx, j.ID)
	if got.Status != job.StatusCompleted {
		t.Fatalf("Status = %q, want completed", got.Status)
	}
	if string(got.Output) != `{"text":"hello"}` {
		t.Errorf("Output = %s", got.Output)
	}
	if got.DurationMs != 1234 {
		t.Errorf("DurationMs = %d, want 1234", got.DurationMs)
	}
	if got.CompletedAt == nil {
		t.Error("expected CompletedAt to be set")
	}
	if m.activeCount() != 0 {
		t.Errorf("activeCount = %d, want 0", m.activeCount())
	}

	want := []string{"created", "running", "queued", "completed"}
	if evts := rec.Events(); len(evts) != len(want) {
		t.Fatalf("events = %v, want %v", evts, want)
	} else {
		for i := range want {
			if evts[i] != want[i] {
				t.Fatalf("events = %v, want %v", evts, want)
			}
		}
	}
}

func TestDispatch_ConcurrencyCap(t *testing.T) {
	m, st, _, _ := newTestManager(t)
	ctx := context.Background()

	for i := range 8 {
		submitOK(t, m, "ep", map[string]any{"n": i})
	}

	m.tick()
	settle(m)

	// Only MaxConcurrentJobs dispatched; the rest stay pending.
	if m.activeCount() != 5 {
		t.Fatalf("activeCount = %d, want 5", m.activeCount())
	}
	stats, _ := st.JobStats(ctx)
	if stats.Pending != 3 {
		t.Errorf("Pending = %d, want 3", stats.Pending)
	}
	if stats.InQueue != 5 {
		t.Errorf("InQueue = %d, want 5", stats.InQueue)
	}

	// No capacity freed — nothing more dispatches.
	m.tick()
	settle(m)
	if m.activeCount() != 5 {
		t.Fatalf("activeCount after second tick = %d, want 5", m.activeCount())
	}
}

func TestDispatch_FIFOOrder(t *testing.T) {
	m, st, client, _ := newTestManager(t)
	ctx := context.Background()

	var ids []string
	for i := range 3 {
		j := submitOK(t, m, fmt.Sprintf("ep-%d", i), map[string]any{"n": i})
		// Spread creation times so ordering is deterministic.
		j.CreatedAt = time.Now().UTC().Add(time.Duration(i) * time.Second)
		if err := st.UpdateJob(ctx, j); err != nil {
			t.Fatalf("UpdateJob: %v", err)
		}
		ids = append(ids, fmt.Sprintf("ep-%d", i))
	}

	// Dispatch one at a time.
	m.cfg.MaxConcurrentJobs = 1
	for range 3 {
		m.tick()
		settle(m)
		// Complete the in-flight job to free the slot.
		for _, j := range m.activeSnapshot() {
			client.setState(j.RemoteJobID, &compute.RunState{Status: compute.RemoteCompleted})
		}
		m.tick()
		settle(m)
	}

	client.mu.Lock()
	defer client.mu.Unlock()
	for i, ep := range ids {
		if client.submits[i] != ep {
			t.Fatalf("submit order = %v, want %v", client.submits, ids)
		}
	}
}

func TestDispatch_EndpointSaturationRequeues(t *testing.T) {
	m, st, _, _ := newTestManager(t, WithEndpointConfig(
		queue.Config{EndpointID: "ep-slow", MaxConcurrency: 1},
	))
	ctx := context.Background()

	submitOK(t, m, "ep-slow", map[string]any{"n": 1})
	submitOK(t, m, "ep-slow", map[string]any{"n": 2})

	m.tick()
	settle(m)

	// One in flight, one pushed back to pending with a NotBefore.
	if m.activeCount() != 1 {
		t.Fatalf("activeCount = %d, want 1", m.activeCount())
	}
	stats, _ := st.JobStats(ctx)
	if stats.Pending != 1 {
		t.Fatalf("Pending = %d, want 1", stats.Pending)
	}
	pending, _ := st.ListJobs(ctx, job.ListOpts{Status: job.StatusPending})
	if len(pending) != 1 || pending[0].NotBefore.IsZero() {
		t.Fatal("requeued job should carry a NotBefore")
	}
	// The claim never reached the backend, so no attempt was burned.
	if pending[0].Attempts != 0 {
		t.Errorf("Attempts = %d, want 0 for the requeued job", pending[0].Attempts)
	}
	if pending[0].StartedAt != nil {
		t.Error("StartedAt should be cleared on requeue")
	}
}

func TestDispatch_InFlightCountsTowardWindow(t *testing.T) {
	m, st, client, _ := newTestManager(t)
	ctx := context.Background()

	gate := make(chan struct{})
	client.mu.Lock()
	client.submitGate = gate
	client.mu.Unlock()

	m.cfg.MaxConcurrentJobs = 2
	for i := range 6 {
		submitOK(t, m, "ep", map[string]any{"n": i})
	}

	// First pass claims two jobs; both park inside SubmitRun.
	m.tick()

	// A second pass while they are still in flight must not claim more:
	// parked dispatches already hold the window's slots.
	m.tick()

	close(gate)
	settle(m)

	if n := client.submitCount(); n != 2 {
		t.Fatalf("submits = %d, want 2", n)
	}
	if m.activeCount() != 2 {
		t.Fatalf("activeCount = %d, want 2", m.activeCount())
	}
	stats, _ := st.JobStats(ctx)
	if stats.Pending != 4 {
		t.Errorf("Pending = %d, want 4", stats.Pending)
	}
}

// ──────────────────────────────────────────────────
// Retry and DLQ
// ──────────────────────────────────────────────────

func TestDispatch_RetryThenSuccess(t *testing.T) {
	m, st, client, rec := newTestManager(t)
	ctx := context.Background()

	client.submitFails = 1
	j := submitOK(t, m, "ep", map[string]any{"prompt": "flaky"})

	// Tick 1: submit fails, retry scheduled.
	m.tick()
	settle(m)

	got, _ := st.GetJob(ctx, j.ID)
	if got.Status != job.StatusPending {
		t.Fatalf("Status = %q, want pending (retry)", got.Status)
	}
	if got.Attempts != 1 {
		t.Fatalf("Attempts = %d, want 1", got.Attempts)
	}

	// Tick 2: zero-delay backoff makes it eligible; submit succeeds.
	m.tick()
	settle(m)

	got, _ = st.GetJob(ctx, j.ID)
	if got.Status != job.StatusInQueue {
		t.Fatalf("Status = %q, want in_queue", got.Status)
	}
	if got.Attempts != 2 {
		t.Fatalf("Attempts = %d, want 2 after the retry claim", got.Attempts)
	}

	evts := rec.Events()
	sawRetry := false
	for _, e := range evts {
		if e == "retry" {
			sawRetry = true
		}
	}
	if !sawRetry {
		t.Errorf("expected a retry event, got %v", evts)
	}
}

func TestDispatch_ExhaustedRetriesDeadLetter(t *testing.T) {
	m, st, client, rec := newTestManager(t)
	ctx := context.Background()

	client.submitFails = 10 // always fail
	j := submitOK(t, m, "ep", map[string]any{"prompt": "doomed"})

	// Three attempts, then DLQ.
	for range 5 {
		m.tick()
		settle(m)
	}

	got, _ := st.GetJob(ctx, j.ID)
	if got.Status != job.StatusFailed {
		t.Fatalf("Status = %q, want failed", got.Status)
	}
	if got.Attempts != 3 {
		t.Fatalf("Attempts = %d, want 3", got.Attempts)
	}
	if got.LastError == "" {
		t.Error("expected LastError to be recorded")
	}

	// Exactly one DLQ entry, with the error preserved.
	entries, err := st.ListDLQ(ctx, dlq.ListOpts{})
	if err != nil {
		t.Fatalf("ListDLQ: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("DLQ entries = %d, want exactly 1", len(entries))
	}
	if entries[0].JobID != j.ID {
		t.Errorf("DLQ JobID = %s, want %s", entries[0].JobID, j.ID)
	}
	if entries[0].Error != "backend unavailable" {
		t.Errorf("DLQ Error = %q", entries[0].Error)
	}
	if entries[0].Attempts != 3 {
		t.Errorf("DLQ Attempts = %d, want 3", entries[0].Attempts)
	}

	// failed and dlq events fired once each.
	var failed, dlqEvents int
	for _, e := range rec.Events() {
		switch e {
		case "failed":
			failed++
		case "dlq":
			dlqEvents++
		}
	}
	if failed != 1 || dlqEvents != 1 {
		t.Errorf("failed=%d dlq=%d, want 1 each", failed, dlqEvents)
	}

	// No further submits once dead-lettered.
	before := client.submitCount()
	m.tick()
	settle(m)
	if client.submitCount() != before {
		t.Error("dead-lettered job must not be dispatched again")
	}
}

func TestPoll_RemoteFailureIsTerminal(t *testing.T) {
	m, st, client, rec := newTestManager(t)
	ctx := context.Background()

	j := submitOK(t, m, "ep", map[string]any{"prompt": "crashes remotely"})

	m.tick()
	settle(m)
	got, _ := st.GetJob(ctx, j.ID)

	client.setState(got.RemoteJobID, &compute.RunState{
		Status: compute.RemoteFailed,
		Error:  "CUDA out of memory",
	})
	m.tick()
	settle(m)

	// The run consumed GPU time; re-dispatching is never safe.
	got, _ = st.GetJob(ctx, j.ID)
	if got.Status != job.StatusFailed {
		t.Fatalf("Status = %q, want failed (remote failure is final)", got.Status)
	}
	if got.Attempts != 1 {
		t.Fatalf("Attempts = %d, want 1", got.Attempts)
	}
	if got.RemoteJobID == "" {
		t.Error("remote handle should be retained on the failed row")
	}
	if got.LastError != "CUDA out of memory" {
		t.Errorf("LastError = %q", got.LastError)
	}
	if got.CompletedAt == nil {
		t.Error("expected CompletedAt to be set")
	}
	if m.activeCount() != 0 {
		t.Errorf("activeCount = %d, want 0", m.activeCount())
	}

	// No retry, no dead-lettering, no resubmission.
	entries, _ := st.ListDLQ(ctx, dlq.ListOpts{})
	if len(entries) != 0 {
		t.Fatalf("DLQ entries = %d, want 0", len(entries))
	}
	before := client.submitCount()
	m.tick()
	settle(m)
	if client.submitCount() != before {
		t.Error("remotely failed job must not be dispatched again")
	}
	var failed, retries int
	for _, e := range rec.Events() {
		switch e {
		case "failed":
			failed++
		case "retry":
			retries++
		}
	}
	if failed != 1 || retries != 0 {
		t.Errorf("failed=%d retry=%d, want 1 and 0", failed, retries)
	}
}

func TestPoll_CompletedWithoutExecutionMs(t *testing.T) {
	m, st, client, _ := newTestManager(t, WithEndpointCost("ep", 0.001))
	ctx := context.Background()

	j := submitOK(t, m, "ep", map[string]any{"prompt": "no timing reported"})
	m.tick()
	settle(m)
	got, _ := st.GetJob(ctx, j.ID)

	// Some backends omit execution timing; wall time since the claim
	// stands in so spend is still recorded.
	time.Sleep(10 * time.Millisecond)
	client.setState(got.RemoteJobID, &compute.RunState{
		Status: compute.RemoteCompleted,
		Output: json.RawMessage(`{"text":"ok"}`),
	})
	m.tick()
	settle(m)

	got, _ = st.GetJob(ctx, j.ID)
	if got.Status != job.StatusCompleted {
		t.Fatalf("Status = %q, want completed", got.Status)
	}
	if got.DurationMs <= 0 {
		t.Fatalf("DurationMs = %d, want > 0 from wall time", got.DurationMs)
	}
	spend, err := st.TodaySpend(ctx)
	if err != nil {
		t.Fatalf("TodaySpend: %v", err)
	}
	if spend <= 0 {
		t.Errorf("TodaySpend = %v, want > 0", spend)
	}
}

func TestPoll_ErrorKeepsJobTracked(t *testing.T) {
	m, st, client, _ := newTestManager(t)
	ctx := context.Background()

	j := submitOK(t, m, "ep", map[string]any{"prompt": "poll me"})
	m.tick()
	settle(m)

	// Poll errors must not change job state or drop tracking.
	client.mu.Lock()
	client.statusErr = errors.New("network partition")
	client.mu.Unlock()

	m.tick()
	settle(m)

	if m.activeCount() != 1 {
		t.Fatalf("activeCount = %d, want 1 (job stays tracked)", m.activeCount())
	}
	got, _ := st.GetJob(ctx, j.ID)
	if got.Status != job.StatusInQueue {
		t.Fatalf("Status = %q, want in_queue", got.Status)
	}

	// Once polling recovers, the job proceeds.
	client.mu.Lock()
	client.statusErr = nil
	client.mu.Unlock()
	client.setState(got.RemoteJobID, &compute.RunState{Status: compute.RemoteCompleted})

	m.tick()
	settle(m)
	got, _ = st.GetJob(ctx, j.ID)
	if got.Status != job.StatusCompleted {
		t.Fatalf("Status = %q, want completed", got.Status)
	}
}

// ──────────────────────────────────────────────────
// Cancellation
// ──────────────────────────────────────────────────

func TestCancel_PendingJob(t *testing.T) {
	m, st, client, rec := newTestManager(t)
	ctx := context.Background()

	j := submitOK(t, m, "ep", map[string]any{"prompt": "never mind"})

	got, err := m.Cancel(ctx, j.ID)
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if got.Status != job.StatusCancelled {
		t.Fatalf("Status = %q, want cancelled", got.Status)
	}
	if len(client.cancels) != 0 {
		t.Error("no remote cancel expected for a pending job")
	}

	// The cancelled job is never dispatched.
	m.tick()
	settle(m)
	if client.submitCount() != 0 {
		t.Error("cancelled job must not be dispatched")
	}

	stored, _ := st.GetJob(ctx, j.ID)
	if stored.Status != job.StatusCancelled {
		t.Fatalf("stored Status = %q, want cancelled", stored.Status)
	}

	evts := rec.Events()
	if evts[len(evts)-1] != "cancelled" {
		t.Errorf("last event = %q, want cancelled", evts[len(evts)-1])
	}
}

func TestCancel_ActiveJobSendsRemoteCancel(t *testing.T) {
	m, st, client, _ := newTestManager(t)
	ctx := context.Background()

	j := submitOK(t, m, "ep", map[string]any{"prompt": "stop it"})
	m.tick()
	settle(m)

	got, _ := st.GetJob(ctx, j.ID)
	if _, err := m.Cancel(ctx, j.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	client.mu.Lock()
	cancels := append([]string(nil), client.cancels...)
	client.mu.Unlock()
	if len(cancels) != 1 || cancels[0] != got.RemoteJobID {
		t.Fatalf("cancels = %v, want [%s]", cancels, got.RemoteJobID)
	}
	if m.activeCount() != 0 {
		t.Errorf("activeCount = %d, want 0 after cancel", m.activeCount())
	}
}

func TestCancel_RemoteFailureStillCancelsLocally(t *testing.T) {
	m, st, client, _ := newTestManager(t)
	ctx := context.Background()

	j := submitOK(t, m, "ep", map[string]any{"prompt": "stubborn"})
	m.tick()
	settle(m)

	client.mu.Lock()
	client.cancelErr = errors.New("backend refused")
	client.mu.Unlock()

	got, err := m.Cancel(ctx, j.ID)
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if got.Status != job.StatusCancelled {
		t.Fatalf("Status = %q, want cancelled despite remote failure", got.Status)
	}

	stored, _ := st.GetJob(ctx, j.ID)
	if stored.Status != job.StatusCancelled {
		t.Fatal("local cancellation must persist")
	}
}

func TestCancel_Idempotent(t *testing.T) {
	m, _, client, _ := newTestManager(t)
	ctx := context.Background()

	j := submitOK(t, m, "ep", map[string]any{"prompt": "twice"})
	if _, err := m.Cancel(ctx, j.ID); err != nil {
		t.Fatalf("first Cancel: %v", err)
	}
	got, err := m.Cancel(ctx, j.ID)
	if err != nil {
		t.Fatalf("second Cancel: %v", err)
	}
	if got.Status != job.StatusCancelled {
		t.Fatalf("Status = %q, want cancelled", got.Status)
	}
	if len(client.cancels) != 0 {
		t.Error("terminal job must not trigger remote cancel")
	}
}

func TestCancel_UnknownJob(t *testing.T) {
	m, _, _, _ := newTestManager(t)

	_, err := m.Cancel(context.Background(), id.NewJobID())
	if !errors.Is(err, gpuflow.ErrJobNotFound) {
		t.Fatalf("Cancel(unknown) = %v, want ErrJobNotFound", err)
	}
}

// ──────────────────────────────────────────────────
// Dead-letter retry
// ──────────────────────────────────────────────────

func TestRetryDeadLetter(t *testing.T) {
	m, st, client, _ := newTestManager(t)
	ctx := context.Background()

	client.submitFails = 10
	j := submitOK(t, m, "ep", map[string]any{"prompt": "doomed then saved"})
	for range 5 {
		m.tick()
		settle(m)
	}

	entries, _ := st.ListDLQ(ctx, dlq.ListOpts{})
	if len(entries) != 1 {
		t.Fatalf("DLQ entries = %d, want 1", len(entries))
	}

	// Operator retry: a fresh job even though the old failed row shares
	// the input hash.
	client.mu.Lock()
	client.submitFails = 0
	client.mu.Unlock()

	fresh, err := m.RetryDeadLetter(ctx, entries[0].ID)
	if err != nil {
		t.Fatalf("RetryDeadLetter: %v", err)
	}
	if fresh.ID == j.ID {
		t.Fatal("expected a new job row")
	}
	if fresh.Status != job.StatusPending {
		t.Fatalf("Status = %q, want pending", fresh.Status)
	}
	if fresh.InputHash != j.InputHash {
		t.Error("retried job should carry the same input hash")
	}

	// Entry marked replayed, never deleted.
	entry, _ := st.GetDLQ(ctx, entries[0].ID)
	if entry.ReplayedAt == nil {
		t.Fatal("ReplayedAt should be set")
	}
	count, _ := st.CountDLQ(ctx)
	if count != 1 {
		t.Fatalf("CountDLQ = %d, want 1", count)
	}

	// The fresh job dispatches normally.
	m.tick()
	settle(m)
	got, _ := st.GetJob(ctx, fresh.ID)
	if got.Status != job.StatusInQueue {
		t.Fatalf("Status = %q, want in_queue", got.Status)
	}
}

func TestRetryDeadLetter_UnknownEntry(t *testing.T) {
	m, _, _, _ := newTestManager(t)

	_, err := m.RetryDeadLetter(context.Background(), id.NewDLQID())
	if !errors.Is(err, gpuflow.ErrDLQNotFound) {
		t.Fatalf("RetryDeadLetter(unknown) = %v, want ErrDLQNotFound", err)
	}
}

// ──────────────────────────────────────────────────
// Restore and lifecycle
// ──────────────────────────────────────────────────

func TestRestoreActive(t *testing.T) {
	st := memory.New()
	client := newFakeClient()
	ctx := context.Background()

	// First manager dispatches a job, then "crashes" (state only in store).
	m1 := NewManager(st, client, testLogger(),
		WithBackoff(backoff.NewConstant(0)))
	j := submitOK(t, m1, "ep", map[string]any{"prompt": "survives restart"})
	m1.tick()
	settle(m1)
	m1.limiter.Close()

	got, _ := st.GetJob(ctx, j.ID)
	if got.RemoteJobID == "" {
		t.Fatal("setup: job should be dispatched")
	}

	// Second manager restores the dispatch table on start.
	m2 := NewManager(st, client, testLogger(),
		WithBackoff(backoff.NewConstant(0)))
	defer m2.limiter.Close()
	if err := m2.restoreActive(ctx); err != nil {
		t.Fatalf("restoreActive: %v", err)
	}
	if m2.activeCount() != 1 {
		t.Fatalf("activeCount = %d, want 1 after restore", m2.activeCount())
	}

	// The restored job completes through the normal polling path.
	client.setState(got.RemoteJobID, &compute.RunState{
		Status:      compute.RemoteCompleted,
		ExecutionMs: 500,
	})
	m2.tick()
	settle(m2)

	final, _ := st.GetJob(ctx, j.ID)
	if final.Status != job.StatusCompleted {
		t.Fatalf("Status = %q, want completed", final.Status)
	}
}

func TestStartStop(t *testing.T) {
	m, _, _, _ := newTestManager(t)
	ctx := context.Background()

	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	// Second Start is a no-op.
	if err := m.Start(ctx); err != nil {
		t.Fatalf("second Start: %v", err)
	}

	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := m.Stop(stopCtx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	// Second Stop is a no-op.
	if err := m.Stop(stopCtx); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
}

func TestStats(t *testing.T) {
	m, st, client, _ := newTestManager(t, WithEndpointCost("ep", 0.001))
	ctx := context.Background()

	j := submitOK(t, m, "ep", map[string]any{"prompt": "count me"})
	m.tick()
	settle(m)

	got, _ := st.GetJob(ctx, j.ID)
	client.setState(got.RemoteJobID, &compute.RunState{
		Status:      compute.RemoteCompleted,
		ExecutionMs: 10_000, // 10s × $0.001/s = $0.01
	})
	m.tick()
	settle(m)

	stats, err := m.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Jobs.Completed != 1 {
		t.Errorf("Completed = %d, want 1", stats.Jobs.Completed)
	}
	if stats.Active != 0 {
		t.Errorf("Active = %d, want 0", stats.Active)
	}
	if stats.DailyLimit != 50 {
		t.Errorf("DailyLimit = %v, want 50", stats.DailyLimit)
	}
	if diff := stats.TodaySpend - 0.01; diff < -1e-9 || diff > 1e-9 {
		t.Errorf("TodaySpend = %v, want 0.01", stats.TodaySpend)
	}
}

func TestStats_ConnectedClients(t *testing.T) {
	broker := stream.NewBroker(testLogger())
	m, _, _, _ := newTestManager(t, WithStreamBroker(broker))
	ctx := context.Background()

	stats, err := m.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.ConnectedClients != 0 {
		t.Fatalf("ConnectedClients = %d, want 0", stats.ConnectedClients)
	}

	broker.Subscribe("client-a", "jobs")
	broker.Subscribe("client-b", "jobs")

	stats, err = m.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.ConnectedClients != 2 {
		t.Fatalf("ConnectedClients = %d, want 2", stats.ConnectedClients)
	}

	broker.RemoveSubscriber("client-a")
	stats, _ = m.Stats(ctx)
	if stats.ConnectedClients != 1 {
		t.Fatalf("ConnectedClients = %d, want 1", stats.ConnectedClients)
	}
}
