package gpuflow

import "errors"

var (
	// Store errors.
	ErrNoStore     = errors.New("gpuflow: no store configured")
	ErrStoreClosed = errors.New("gpuflow: store closed")

	// Not found errors.
	ErrJobNotFound = errors.New("gpuflow: job not found")
	ErrDLQNotFound = errors.New("gpuflow: dlq entry not found")

	// Conflict errors.
	ErrJobAlreadyExists = errors.New("gpuflow: job already exists")

	// Admission errors.
	ErrBudgetExceeded = errors.New("gpuflow: daily budget exceeded")

	// State errors.
	ErrInvalidState       = errors.New("gpuflow: invalid state transition")
	ErrMaxRetriesExceeded = errors.New("gpuflow: max retries exceeded")

	// Dispatch errors.
	ErrDispatchRejected = errors.New("gpuflow: dispatch rejected by backend")
)
