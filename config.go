package gpuflow

import "time"

// Config holds configuration for the scheduler.
type Config struct {
	// MaxConcurrentJobs caps how many jobs may be in flight on the
	// remote backend at once (dispatched but not yet terminal).
	MaxConcurrentJobs int

	// RateLimitPerSecond is the dispatch token bucket capacity. The
	// bucket is reset to this value once per second.
	RateLimitPerSecond int

	// MaxRetryAttempts is how many dispatch attempts a job gets before
	// it is moved to the dead letter queue.
	MaxRetryAttempts int

	// BudgetLimitDaily is the daily spend ceiling in USD. Submissions
	// are refused once today's aggregate spend reaches it. Zero
	// disables the gate.
	BudgetLimitDaily float64

	// TickInterval is the period of the dispatch/poll loop.
	TickInterval time.Duration

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxConcurrentJobs:  5,
		RateLimitPerSecond: 10,
		MaxRetryAttempts:   3,
		BudgetLimitDaily:   50,
		TickInterval:       1 * time.Second,
		ShutdownTimeout:    30 * time.Second,
	}
}
