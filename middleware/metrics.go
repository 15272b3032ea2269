package middleware

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/xraph/courier/delivery"
	"github.com/xraph/courier/job"
	"github.com/xraph/courier/scope"
)

// meterName is the instrumentation scope name for courier metrics.
const meterName = "github.com/xraph/courier"

// Metrics returns middleware that records per-delivery metrics using
// the global OTel MeterProvider. If no MeterProvider is configured, noop
// instruments are used and this middleware becomes a pass-through.
//
// Instruments:
//   - courier.delivery.duration (Float64Histogram): call time in seconds
//   - courier.delivery.attempts (Int64Counter): total delivery attempts
//
// Both carry the attributes tenant and outcome ("success", "retryable"
// or "rejected").
func Metrics() Middleware {
	return MetricsWithMeter(otel.Meter(meterName))
}

// MetricsWithMeter returns metrics middleware using the provided meter.
// This variant allows injecting a specific MeterProvider for testing.
func MetricsWithMeter(meter metric.Meter) Middleware {
	// On error the API returns noop instruments, so the middleware
	// degrades to a pass-through.
	duration, _ := meter.Float64Histogram(
		"courier.delivery.duration",
		metric.WithDescription("Duration of webhook deliveries in seconds"),
		metric.WithUnit("s"),
	)
	attempts, _ := meter.Int64Counter(
		"courier.delivery.attempts",
		metric.WithDescription("Total number of webhook delivery attempts"),
		metric.WithUnit("{attempt}"),
	)

	return func(ctx context.Context, j *job.Job, next Handler) error {
		start := time.Now()
		err := next(ctx)
		elapsed := time.Since(start).Seconds()

		attrs := metric.WithAttributes(
			attribute.String("tenant", scope.Tenant(ctx)),
			attribute.String("outcome", delivery.OutcomeOf(err).String()),
		)
		duration.Record(ctx, elapsed, attrs)
		attempts.Add(ctx, 1, attrs)

		return err
	}
}
