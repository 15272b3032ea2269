package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/courier/delivery"
	"github.com/xraph/courier/job"
	"github.com/xraph/courier/scope"
)

// tracerName is the instrumentation scope name for courier tracing.
const tracerName = "github.com/xraph/courier"

// Tracing returns middleware that wraps each delivery in an OpenTelemetry
// span. If no TracerProvider is configured globally, the default noop
// tracer is used and this middleware becomes a pass-through.
//
// Span attributes: courier.job.id, courier.tenant, courier.endpoint,
// courier.attempt, courier.cron. The outbound HTTP span is a child.
func Tracing() Middleware {
	return TracingWithTracer(otel.Tracer(tracerName))
}

// TracingWithTracer returns tracing middleware using the provided tracer.
// This variant allows injecting a specific TracerProvider for testing or
// when multiple providers are in use.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		ctx, span := tracer.Start(ctx, "courier.delivery",
			trace.WithAttributes(
				attribute.String("courier.job.id", j.ID),
				attribute.String("courier.tenant", scope.Tenant(ctx)),
				attribute.String("courier.endpoint", scope.Endpoint(ctx)),
				attribute.Int("courier.attempt", j.Attempt),
				attribute.Bool("courier.cron", j.IsCron()),
			),
			trace.WithSpanKind(trace.SpanKindInternal),
		)
		defer span.End()

		err := next(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			span.SetAttributes(attribute.String("courier.outcome", delivery.OutcomeOf(err).String()))
		} else {
			span.SetStatus(codes.Ok, "")
		}

		return err
	}
}
