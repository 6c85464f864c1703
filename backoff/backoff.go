// Package backoff provides pluggable retry delay strategies for job
// dispatch. All strategies are safe for concurrent use (they are
// stateless).
package backoff

import (
	"math"
	"math/rand/v2"
	"time"
)

// Strategy computes the delay before the next dispatch attempt.
type Strategy interface {
	// Delay returns how long to wait given the number of dispatch
	// attempts made so far. Strategies are defined for attempts >= 0.
	Delay(attempts int) time.Duration
}

// ──────────────────────────────────────────────────
// Constant
// ──────────────────────────────────────────────────

// Constant always returns the same delay regardless of attempt count.
type Constant struct {
	Interval time.Duration
}

// NewConstant creates a constant backoff strategy.
func NewConstant(interval time.Duration) *Constant {
	return &Constant{Interval: interval}
}

// Delay returns the fixed interval.
func (c *Constant) Delay(_ int) time.Duration {
	return c.Interval
}

// ──────────────────────────────────────────────────
// Exponential
// ──────────────────────────────────────────────────

// Exponential doubles the delay with each attempt.
// Delay = min(Initial * 2^attempts, Max).
type Exponential struct {
	Initial time.Duration
	Max     time.Duration
}

// NewExponential creates an exponential backoff strategy.
func NewExponential(initial, maxDelay time.Duration) *Exponential {
	return &Exponential{Initial: initial, Max: maxDelay}
}

// Delay returns Initial * 2^attempts, capped at Max.
func (e *Exponential) Delay(attempts int) time.Duration {
	d := time.Duration(float64(e.Initial) * math.Pow(2, float64(attempts)))
	if e.Max > 0 && d > e.Max {
		return e.Max
	}
	return d
}

// ──────────────────────────────────────────────────
// ExponentialWithJitter (bounded additive jitter)
// ──────────────────────────────────────────────────

// ExponentialWithJitter adds a uniformly distributed offset in
// [0, Jitter) on top of a capped exponential base.
// Delay = min(Initial * 2^attempts, Max) + rand[0, Jitter).
// The deterministic component is preserved so retries never land before
// the exponential floor; the jitter spreads simultaneous retries out.
type ExponentialWithJitter struct {
	Initial time.Duration
	Max     time.Duration
	Jitter  time.Duration
}

// NewExponentialWithJitter creates an exponential backoff with bounded
// additive jitter.
func NewExponentialWithJitter(initial, maxDelay, jitter time.Duration) *ExponentialWithJitter {
	return &ExponentialWithJitter{Initial: initial, Max: maxDelay, Jitter: jitter}
}

// Delay returns min(Initial * 2^attempts, Max) plus a random offset in
// [0, Jitter).
func (e *ExponentialWithJitter) Delay(attempts int) time.Duration {
	base := time.Duration(float64(e.Initial) * math.Pow(2, float64(attempts)))
	if e.Max > 0 && base > e.Max {
		base = e.Max
	}
	if e.Jitter <= 0 {
		return base
	}
	return base + time.Duration(rand.Int64N(int64(e.Jitter))) //nolint:gosec // jitter intentionally uses non-crypto rand
}

// ──────────────────────────────────────────────────
// Default
// ──────────────────────────────────────────────────

// DefaultStrategy returns the default backoff used by the scheduler:
// exponential from 1s capped at 32s, with [0, 1s) additive jitter.
func DefaultStrategy() Strategy {
	return NewExponentialWithJitter(1*time.Second, 32*time.Second, 1*time.Second)
}
