package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/xraph/gpuflow/ext"
	"github.com/xraph/gpuflow/job"
)

// Compile-time interface checks.
var (
	_ ext.Extension    = (*MetricsExtension)(nil)
	_ ext.JobCreated   = (*MetricsExtension)(nil)
	_ ext.JobQueued    = (*MetricsExtension)(nil)
	_ ext.JobStarted   = (*MetricsExtension)(nil)
	_ ext.JobCompleted = (*MetricsExtension)(nil)
	_ ext.JobFailed    = (*MetricsExtension)(nil)
	_ ext.JobRetrying  = (*MetricsExtension)(nil)
	_ ext.JobDLQ       = (*MetricsExtension)(nil)
	_ ext.JobCancelled = (*MetricsExtension)(nil)
)

// ScopeName is the instrumentation scope used for the default meter.
const ScopeName = "github.com/xraph/gpuflow/observability"

// MetricsExtension records system-wide lifecycle metrics via OpenTelemetry.
// Register it as a gpuflow extension to automatically track submission
// rates, dispatch counts, completion counts, failure rates, retry counts,
// DLQ entries, and cancellations. Counters carry an "endpoint" attribute.
type MetricsExtension struct {
	JobsCreated   metric.Int64Counter
	JobsQueued    metric.Int64Counter
	JobsStarted   metric.Int64Counter
	JobsCompleted metric.Int64Counter
	JobsFailed    metric.Int64Counter
	JobsRetried   metric.Int64Counter
	JobsDLQ       metric.Int64Counter
	JobsCancelled metric.Int64Counter
	JobDuration   metric.Float64Histogram
}

// NewMetricsExtension creates a MetricsExtension using the global
// MeterProvider.
func NewMetricsExtension() (*MetricsExtension, error) {
	return NewMetricsExtensionWithMeter(otel.Meter(ScopeName))
}

// NewMetricsExtensionWithMeter creates a MetricsExtension against the
// provided meter. Use this to bind metrics to a non-global provider.
func NewMetricsExtensionWithMeter(meter metric.Meter) (*MetricsExtension, error) {
	m := &MetricsExtension{}
	var err error

	if m.JobsCreated, err = meter.Int64Counter("gpuflow.jobs.created",
		metric.WithDescription("Jobs accepted for execution")); err != nil {
		return nil, err
	}
	if m.JobsQueued, err = meter.Int64Counter("gpuflow.jobs.queued",
		metric.WithDescription("Jobs dispatched to the compute backend")); err != nil {
		return nil, err
	}
	if m.JobsStarted, err = meter.Int64Counter("gpuflow.jobs.started",
		metric.WithDescription("Jobs observed executing on a worker")); err != nil {
		return nil, err
	}
	if m.JobsCompleted, err = meter.Int64Counter("gpuflow.jobs.completed",
		metric.WithDescription("Jobs that finished successfully")); err != nil {
		return nil, err
	}
	if m.JobsFailed, err = meter.Int64Counter("gpuflow.jobs.failed",
		metric.WithDescription("Jobs that exhausted all attempts")); err != nil {
		return nil, err
	}
	if m.JobsRetried, err = meter.Int64Counter("gpuflow.jobs.retried",
		metric.WithDescription("Retry attempts scheduled after a failure")); err != nil {
		return nil, err
	}
	if m.JobsDLQ, err = meter.Int64Counter("gpuflow.jobs.dlq",
		metric.WithDescription("Jobs moved to the dead letter queue")); err != nil {
		return nil, err
	}
	if m.JobsCancelled, err = meter.Int64Counter("gpuflow.jobs.cancelled",
		metric.WithDescription("Jobs cancelled before completion")); err != nil {
		return nil, err
	}
	if m.JobDuration, err = meter.Float64Histogram("gpuflow.job.duration",
		metric.WithDescription("Remote execution time of completed jobs"),
		metric.WithUnit("s")); err != nil {
		return nil, err
	}
	return m, nil
}

// Name implements ext.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

func endpointAttr(j *job.Job) metric.AddOption {
	return metric.WithAttributes(attribute.String("endpoint", j.EndpointID))
}

// OnJobCreated implements ext.JobCreated.
func (m *MetricsExtension) OnJobCreated(ctx context.Context, j *job.Job) error {
	m.JobsCreated.Add(ctx, 1, endpointAttr(j))
	return nil
}

// OnJobQueued implements ext.JobQueued.
func (m *MetricsExtension) OnJobQueued(ctx context.Context, j *job.Job) error {
	m.JobsQueued.Add(ctx, 1, endpointAttr(j))
	return nil
}

// OnJobStarted implements ext.JobStarted.
func (m *MetricsExtension) OnJobStarted(ctx context.Context, j *job.Job) error {
	m.JobsStarted.Add(ctx, 1, endpointAttr(j))
	return nil
}

// OnJobCompleted implements ext.JobCompleted.
func (m *MetricsExtension) OnJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) error {
	m.JobsCompleted.Add(ctx, 1, endpointAttr(j))
	m.JobDuration.Record(ctx, elapsed.Seconds(),
		metric.WithAttributes(attribute.String("endpoint", j.EndpointID)))
	return nil
}

// OnJobFailed implements ext.JobFailed.
func (m *MetricsExtension) OnJobFailed(ctx context.Context, j *job.Job, _ error) error {
	m.JobsFailed.Add(ctx, 1, endpointAttr(j))
	return nil
}

// OnJobRetrying implements ext.JobRetrying.
func (m *MetricsExtension) OnJobRetrying(ctx context.Context, j *job.Job, _ int, _ time.Time) error {
	m.JobsRetried.Add(ctx, 1, endpointAttr(j))
	return nil
}

// OnJobDLQ implements ext.JobDLQ.
func (m *MetricsExtension) OnJobDLQ(ctx context.Context, j *job.Job, _ error) error {
	m.JobsDLQ.Add(ctx, 1, endpointAttr(j))
	return nil
}

// OnJobCancelled implements ext.JobCancelled.
func (m *MetricsExtension) OnJobCancelled(ctx context.Context, j *job.Job) error {
	m.JobsCancelled.Add(ctx, 1, endpointAttr(j))
	return nil
}
