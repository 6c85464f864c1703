package ratelimit_test

import (
	"context"
	"testing"
	"time"

	"github.com/xraph/gpuflow/ratelimit"
)

func TestLimiter_AllowsCapacityWithinWindow(t *testing.T) {
	t.Parallel()

	l := ratelimit.New(3, ratelimit.WithWindow(time.Hour))
	defer l.Close()

	for i := range 3 {
		if !l.TryAcquire() {
			t.Fatalf("TryAcquire %d refused within capacity", i)
		}
	}
	if l.TryAcquire() {
		t.Fatal("TryAcquire succeeded past capacity")
	}
	if got := l.Tokens(); got != 0 {
		t.Errorf("Tokens = %d, want 0", got)
	}
}

func TestLimiter_ExtraAcquireWaitsForRefill(t *testing.T) {
	t.Parallel()

	const window = 100 * time.Millisecond
	l := ratelimit.New(2, ratelimit.WithWindow(window))
	defer l.Close()

	ctx := context.Background()
	start := time.Now()
	for range 2 {
		if err := l.Acquire(ctx); err != nil {
			t.Fatalf("Acquire failed: %v", err)
		}
	}
	// Third acquire must be delayed until the next refill tick.
	if err := l.Acquire(ctx); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if elapsed := time.Since(start); elapsed < window/2 {
		t.Errorf("third acquire returned after %v, expected to wait for refill", elapsed)
	}
}

func TestLimiter_RefillResetsToFullCapacity(t *testing.T) {
	t.Parallel()

	const window = 50 * time.Millisecond
	l := ratelimit.New(5, ratelimit.WithWindow(window))
	defer l.Close()

	// Drain part of the window; the refill must reset to 5, not top up
	// incrementally.
	for range 3 {
		if !l.TryAcquire() {
			t.Fatal("TryAcquire refused within capacity")
		}
	}
	time.Sleep(window + 20*time.Millisecond)
	if got := l.Tokens(); got != 5 {
		t.Errorf("Tokens after refill = %d, want 5", got)
	}
}

func TestLimiter_AcquireHonorsContextCancel(t *testing.T) {
	t.Parallel()

	l := ratelimit.New(0, ratelimit.WithWindow(time.Hour))
	defer l.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := l.Acquire(ctx)
	if err == nil {
		t.Fatal("Acquire with zero capacity returned nil, want context error")
	}
	if err != context.DeadlineExceeded {
		t.Errorf("Acquire error = %v, want DeadlineExceeded", err)
	}
}

func TestLimiter_CloseReleasesWaiters(t *testing.T) {
	t.Parallel()

	l := ratelimit.New(0, ratelimit.WithWindow(time.Hour))

	done := make(chan error, 1)
	go func() {
		done <- l.Acquire(context.Background())
	}()

	time.Sleep(20 * time.Millisecond)
	l.Close()

	select {
	case err := <-done:
		if err == nil {
			t.Error("Acquire returned nil after Close, want error")
		}
	case <-time.After(time.Second):
		t.Fatal("waiter not released by Close")
	}
}
