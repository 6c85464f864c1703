// Package ratelimit provides the fixed-window dispatch limiter: a shared
// token counter reset to capacity once per window rather than refilled
// incrementally. This allows bursts of exactly capacity at the start of
// each window, which is the intended shaping for remote dispatch calls.
//
// Acquisition waits on a channel that the refill loop closes at each
// window boundary, so waiters park instead of busy-polling and honor
// context cancellation.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// DefaultWindow is the refill period.
const DefaultWindow = time.Second

// Limiter is a process-wide fixed-window token counter. Safe for
// concurrent use.
type Limiter struct {
	capacity int
	window   time.Duration

	mu     sync.Mutex
	tokens int
	// refilled is closed and replaced at every window boundary; waiters
	// block on the instance they observed.
	refilled chan struct{}

	stopCh   chan struct{}
	stopOnce sync.Once
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithWindow overrides the refill period. Used by tests.
func WithWindow(d time.Duration) Option {
	return func(l *Limiter) { l.window = d }
}

// New creates a limiter with the given per-window capacity and starts
// its refill loop. Callers must Close it when done. A capacity of zero
// makes every Acquire block until its context is cancelled.
func New(capacity int, opts ...Option) *Limiter {
	l := &Limiter{
		capacity: capacity,
		window:   DefaultWindow,
		tokens:   capacity,
		refilled: make(chan struct{}),
		stopCh:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}

	go l.refillLoop()
	return l
}

// refillLoop resets the counter to capacity once per window and wakes
// all parked waiters.
func (l *Limiter) refillLoop() {
	ticker := time.NewTicker(l.window)
	defer ticker.Stop()

	for {
		select {
		case <-l.stopCh:
			return
		case <-ticker.C:
			l.mu.Lock()
			l.tokens = l.capacity
			woken := l.refilled
			l.refilled = make(chan struct{})
			l.mu.Unlock()
			close(woken)
		}
	}
}

// Acquire blocks until a token is available, then consumes it. It
// returns ctx.Err() if the context is cancelled first.
func (l *Limiter) Acquire(ctx context.Context) error {
	for {
		l.mu.Lock()
		if l.tokens > 0 {
			l.tokens--
			l.mu.Unlock()
			return nil
		}
		wait := l.refilled
		l.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return ctx.Err()
		case <-l.stopCh:
			return context.Canceled
		}
	}
}

// TryAcquire consumes a token without blocking. Returns false when the
// window is exhausted.
func (l *Limiter) TryAcquire() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.tokens > 0 {
		l.tokens--
		return true
	}
	return false
}

// Tokens returns the remaining tokens in the current window. The value
// is an approximate snapshot, not a reservation.
func (l *Limiter) Tokens() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.tokens
}

// Capacity returns the per-window capacity.
func (l *Limiter) Capacity() int { return l.capacity }

// Close stops the refill loop. Safe to call multiple times. Parked
// waiters are released with an error.
func (l *Limiter) Close() {
	l.stopOnce.Do(func() { close(l.stopCh) })
}
