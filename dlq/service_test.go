package dlq_test

import (
	"context"
	"errors"
	"testing"

	"github.com/xraph/gpuflow"
	gpuflowDLQ "github.com/xraph/gpuflow/dlq"
	"github.com/xraph/gpuflow/id"
	"github.com/xraph/gpuflow/job"
	"github.com/xraph/gpuflow/store/memory"
)

func newFailedJob(endpointID string, input []byte) *job.Job {
	return &job.Job{
		Entity:      gpuflow.NewEntity(),
		ID:          id.NewJobID(),
		EndpointID:  endpointID,
		InputHash:   "deadbeefdeadbeef",
		Input:       input,
		Status:      job.StatusFailed,
		Attempts:    3,
		MaxAttempts: 3,
		LastError:   "worker crashed",
	}
}

func TestService_Push_BuildsEntryFromJob(t *testing.T) {
	s := memory.New()
	svc := gpuflowDLQ.NewService(s)
	ctx := context.Background()

	j := newFailedJob("ep-whisper", []byte(`{"audio_url":"s3://bucket/a.wav"}`))
	jobErr := errors.New("CUDA out of memory")

	entry, err := svc.Push(ctx, j, jobErr)
	if err != nil {
		t.Fatalf("Push: %v", err)
	}

	// Verify entry in store.
	entries, err := s.ListDLQ(ctx, gpuflowDLQ.ListOpts{Limit: 10})
	if err != nil {
		t.Fatalf("ListDLQ: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 DLQ entry, got %d", len(entries))
	}

	got := entries[0]
	if got.ID != entry.ID {
		t.Errorf("ID = %v, want %v", got.ID, entry.ID)
	}
	if got.JobID != j.ID {
		t.Errorf("JobID = %v, want %v", got.JobID, j.ID)
	}
	if got.EndpointID != "ep-whisper" {
		t.Errorf("EndpointID = %q, want %q", got.EndpointID, "ep-whisper")
	}
	if string(got.Input) != `{"audio_url":"s3://bucket/a.wav"}` {
		t.Errorf("Input = %q", got.Input)
	}
	if got.Error != "CUDA out of memory" {
		t.Errorf("Error = %q, want %q", got.Error, "CUDA out of memory")
	}
	if got.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", got.Attempts)
	}
	if got.FailedAt.IsZero() {
		t.Error("expected FailedAt to be set")
	}
	if got.ReplayedAt != nil {
		t.Error("ReplayedAt should be nil for a fresh entry")
	}
}

func TestService_Push_CountIncreases(t *testing.T) {
	s := memory.New()
	svc := gpuflowDLQ.NewService(s)
	ctx := context.Background()

	for i := range 3 {
		j := newFailedJob("ep", []byte(`{}`))
		if _, err := svc.Push(ctx, j, errors.New("fail")); err != nil {
			t.Fatalf("Push %d: %v", i, err)
		}
	}

	count, err := svc.Count(ctx)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if count != 3 {
		t.Fatalf("Count = %d, want 3", count)
	}
}

func TestService_MarkReplayed(t *testing.T) {
	s := memory.New()
	svc := gpuflowDLQ.NewService(s)
	ctx := context.Background()

	entry, err := svc.Push(ctx, newFailedJob("ep", []byte(`{}`)), errors.New("fail"))
	if err != nil {
		t.Fatalf("Push: %v", err)
	}

	if err := svc.MarkReplayed(ctx, entry.ID); err != nil {
		t.Fatalf("MarkReplayed: %v", err)
	}

	got, err := svc.Get(ctx, entry.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.ReplayedAt == nil {
		t.Fatal("ReplayedAt should be set after MarkReplayed")
	}

	// The entry remains queryable after replay.
	count, _ := svc.Count(ctx)
	if count != 1 {
		t.Fatalf("Count = %d, want 1", count)
	}
}

func TestService_Get_NotFound(t *testing.T) {
	s := memory.New()
	svc := gpuflowDLQ.NewService(s)

	_, err := svc.Get(context.Background(), id.NewDLQID())
	if !errors.Is(err, gpuflow.ErrDLQNotFound) {
		t.Fatalf("Get(unknown) = %v, want ErrDLQNotFound", err)
	}
}
