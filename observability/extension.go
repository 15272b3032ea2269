package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/xraph/courier/descriptor"
	"github.com/xraph/courier/ext"
	"github.com/xraph/courier/job"
	"github.com/xraph/courier/scope"
)

// Compile-time interface checks.
var (
	_ ext.Extension    = (*MetricsExtension)(nil)
	_ ext.JobEnqueued  = (*MetricsExtension)(nil)
	_ ext.JobDelivered = (*MetricsExtension)(nil)
	_ ext.JobRetrying  = (*MetricsExtension)(nil)
	_ ext.JobFailed    = (*MetricsExtension)(nil)
	_ ext.JobDLQ       = (*MetricsExtension)(nil)
	_ ext.JobRearmed   = (*MetricsExtension)(nil)
)

const meterName = "github.com/xraph/courier/observability"

// MetricsExtension records system-wide lifecycle counters. Every counter
// carries a tenant attribute holding the token fingerprint, never the
// token itself.
type MetricsExtension struct {
	JobEnqueued  metric.Int64Counter
	JobDelivered metric.Int64Counter
	JobRetried   metric.Int64Counter
	JobFailed    metric.Int64Counter
	JobDLQ       metric.Int64Counter
	JobRearmed   metric.Int64Counter
}

// NewMetricsExtension creates a MetricsExtension on the global
// MeterProvider.
func NewMetricsExtension() *MetricsExtension {
	return NewMetricsExtensionWithMeter(otel.Meter(meterName))
}

// NewMetricsExtensionWithMeter creates a MetricsExtension with the provided
// meter.
func NewMetricsExtensionWithMeter(meter metric.Meter) *MetricsExtension {
	counter := func(name, desc string) metric.Int64Counter {
		// Errors yield a noop instrument.
		c, _ := meter.Int64Counter(name, metric.WithDescription(desc), metric.WithUnit("{job}"))
		return c
	}
	return &MetricsExtension{
		JobEnqueued:  counter("courier.job.enqueued", "Jobs created or replayed"),
		JobDelivered: counter("courier.job.delivered", "Deliveries acknowledged by the endpoint"),
		JobRetried:   counter("courier.job.retried", "Deliveries scheduled for another attempt"),
		JobFailed:    counter("courier.job.failed", "Jobs that failed terminally"),
		JobDLQ:       counter("courier.job.dlq", "Jobs moved to the dead letter queue"),
		JobRearmed:   counter("courier.job.rearmed", "Recurring jobs rescheduled to their next occurrence"),
	}
}

// Name implements ext.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// OnJobEnqueued implements ext.JobEnqueued.
func (m *MetricsExtension) OnJobEnqueued(ctx context.Context, j *job.Job) error {
	m.JobEnqueued.Add(ctx, 1, tenantAttr(j))
	return nil
}

// OnJobDelivered implements ext.JobDelivered.
func (m *MetricsExtension) OnJobDelivered(ctx context.Context, j *job.Job, _ time.Duration) error {
	m.JobDelivered.Add(ctx, 1, tenantAttr(j))
	return nil
}

// OnJobRetrying implements ext.JobRetrying.
func (m *MetricsExtension) OnJobRetrying(ctx context.Context, j *job.Job, _ int, _ time.Time) error {
	m.JobRetried.Add(ctx, 1, tenantAttr(j))
	return nil
}

// OnJobFailed implements ext.JobFailed.
func (m *MetricsExtension) OnJobFailed(ctx context.Context, j *job.Job, _ error) error {
	m.JobFailed.Add(ctx, 1, tenantAttr(j))
	return nil
}

// OnJobDLQ implements ext.JobDLQ.
func (m *MetricsExtension) OnJobDLQ(ctx context.Context, j *job.Job, _ error) error {
	m.JobDLQ.Add(ctx, 1, tenantAttr(j))
	return nil
}

// OnJobRearmed implements ext.JobRearmed.
func (m *MetricsExtension) OnJobRearmed(ctx context.Context, j *job.Job, _ time.Time) error {
	m.JobRearmed.Add(ctx, 1, tenantAttr(j))
	return nil
}

func tenantAttr(j *job.Job) metric.AddOption {
	return metric.WithAttributes(attribute.String("tenant", tenantOf(j.Queue)))
}

func tenantOf(queue string) string {
	d, err := descriptor.Decode(queue)
	if err != nil {
		return ""
	}
	return scope.Fingerprint(d.TenantToken)
}
