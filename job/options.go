package job

// SubmitOptions configures per-submission behavior.
type SubmitOptions struct {
	// SkipDeduplication bypasses the input-hash duplicate check. Used by
	// dead-letter retry so an operator can force a resubmission.
	SkipDeduplication bool

	// MaxAttempts overrides the scheduler's configured retry ceiling for
	// this job. Zero means use the configured default.
	MaxAttempts int
}

// SubmitOption is a functional option for configuring a submission.
type SubmitOption func(*SubmitOptions)

// WithSkipDeduplication disables the duplicate check for this submission.
func WithSkipDeduplication() SubmitOption {
	return func(o *SubmitOptions) {
		o.SkipDeduplication = true
	}
}

// WithMaxAttempts overrides the retry ceiling for this job.
func WithMaxAttempts(n int) SubmitOption {
	return func(o *SubmitOptions) {
		o.MaxAttempts = n
	}
}
