// Package observability provides an OpenTelemetry-based metrics extension
// for gpuflow. The MetricsExtension implements lifecycle hooks to record
// system-wide counters for job submission, dispatch, completion, failure,
// retry, DLQ, and cancellation events, plus a per-endpoint execution
// duration histogram.
package observability
