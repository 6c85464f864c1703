package backoff_test

import (
	"testing"
	"time"

	"github.com/xraph/gpuflow/backoff"
)

func TestConstant_ReturnsFixedDelay(t *testing.T) {
	c := backoff.NewConstant(5 * time.Second)
	for attempts := 0; attempts <= 10; attempts++ {
		if got := c.Delay(attempts); got != 5*time.Second {
			t.Errorf("Delay(%d) = %v, want %v", attempts, got, 5*time.Second)
		}
	}
}

func TestExponential_DoublesEachAttempt(t *testing.T) {
	e := backoff.NewExponential(time.Second, time.Hour)

	tests := []struct {
		attempts int
		want     time.Duration
	}{
		{0, 1 * time.Second},  // 1 * 2^0
		{1, 2 * time.Second},  // 1 * 2^1
		{2, 4 * time.Second},  // 1 * 2^2
		{3, 8 * time.Second},  // 1 * 2^3
		{4, 16 * time.Second}, // 1 * 2^4
	}
	for _, tt := range tests {
		if got := e.Delay(tt.attempts); got != tt.want {
			t.Errorf("Delay(%d) = %v, want %v", tt.attempts, got, tt.want)
		}
	}
}

func TestExponential_CapsAtMax(t *testing.T) {
	e := backoff.NewExponential(time.Second, 32*time.Second)

	if got := e.Delay(6); got != 32*time.Second { // 64s uncapped
		t.Errorf("Delay(6) = %v, want %v (capped at Max)", got, 32*time.Second)
	}
	if got := e.Delay(20); got != 32*time.Second {
		t.Errorf("Delay(20) = %v, want %v (capped at Max)", got, 32*time.Second)
	}
}

func TestExponentialWithJitter_WithinBounds(t *testing.T) {
	e := backoff.NewExponentialWithJitter(time.Second, 32*time.Second, time.Second)

	for attempts := 0; attempts <= 5; attempts++ {
		floor := time.Duration(1<<attempts) * time.Second
		if floor > 32*time.Second {
			floor = 32 * time.Second
		}
		ceiling := floor + time.Second

		for range 100 {
			got := e.Delay(attempts)
			if got < floor {
				t.Errorf("Delay(%d) = %v, below deterministic floor %v", attempts, got, floor)
			}
			if got >= ceiling {
				t.Errorf("Delay(%d) = %v, at or above ceiling %v", attempts, got, ceiling)
			}
		}
	}
}

func TestExponentialWithJitter_DeterministicComponentNonDecreasing(t *testing.T) {
	e := backoff.NewExponentialWithJitter(time.Second, 32*time.Second, 0)

	prev := time.Duration(-1)
	for attempts := 0; attempts <= 8; attempts++ {
		got := e.Delay(attempts)
		if got < prev {
			t.Errorf("Delay(%d) = %v decreased from %v", attempts, got, prev)
		}
		prev = got
	}
}

func TestExponentialWithJitter_ProducesVariance(t *testing.T) {
	e := backoff.NewExponentialWithJitter(time.Second, 32*time.Second, time.Second)

	seen := make(map[time.Duration]bool)
	for range 100 {
		seen[e.Delay(3)] = true
	}

	if len(seen) < 2 {
		t.Errorf("expected variance in jitter, got only %d distinct values", len(seen))
	}
}

func TestDefaultStrategy_MatchesDispatchPolicy(t *testing.T) {
	s := backoff.DefaultStrategy()
	if s == nil {
		t.Fatal("DefaultStrategy() returned nil")
	}

	// Attempt 0 lands in [1s, 2s); a deep attempt caps in [32s, 33s).
	if d := s.Delay(0); d < time.Second || d >= 2*time.Second {
		t.Errorf("Delay(0) = %v, want in [1s, 2s)", d)
	}
	if d := s.Delay(50); d < 32*time.Second || d >= 33*time.Second {
		t.Errorf("Delay(50) = %v, want in [32s, 33s)", d)
	}
}
