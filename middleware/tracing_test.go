package middleware_test

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/courier/delivery"
	mw "github.com/xraph/courier/middleware"
	"github.com/xraph/courier/scope"
)

// tracedRun pushes one delivery through Scope+Tracing and returns the single
// span it produced plus the span context the handler observed.
func tracedRun(t *testing.T, result error) (sdktrace.ReadOnlySpan, trace.SpanContext) {
	t.Helper()
	rec := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	chain := mw.Chain(mw.Scope(), mw.TracingWithTracer(provider.Tracer("courier-test")))

	var inner trace.SpanContext
	got := chain(context.Background(), newTestJob(), func(ctx context.Context) error {
		inner = trace.SpanContextFromContext(ctx)
		return result
	})
	if !errors.Is(got, result) {
		t.Fatalf("middleware changed the delivery error: got %v, want %v", got, result)
	}

	ended := rec.Ended()
	if len(ended) != 1 {
		t.Fatalf("ended spans = %d, want 1", len(ended))
	}
	return ended[0], inner
}

func spanAttr(span sdktrace.ReadOnlySpan, key attribute.Key) (attribute.Value, bool) {
	for _, kv := range span.Attributes() {
		if kv.Key == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestTracing_DeliverySpan(t *testing.T) {
	span, inner := tracedRun(t, nil)

	if span.Name() != "courier.delivery" {
		t.Errorf("span name = %q", span.Name())
	}
	if span.Status().Code != codes.Ok {
		t.Errorf("status = %v, want Ok", span.Status().Code)
	}
	if !inner.IsValid() || inner.SpanID() != span.SpanContext().SpanID() {
		t.Error("handler context does not carry the delivery span")
	}

	j := newTestJob()
	want := map[attribute.Key]attribute.Value{
		"courier.job.id":   attribute.StringValue(j.ID),
		"courier.tenant":   attribute.StringValue(scope.Fingerprint("tok_secret")),
		"courier.endpoint": attribute.StringValue("https://example.com/hook"),
		"courier.attempt":  attribute.Int64Value(2),
		"courier.cron":     attribute.BoolValue(false),
	}
	for key, w := range want {
		v, ok := spanAttr(span, key)
		if !ok {
			t.Errorf("missing %s", key)
			continue
		}
		if v != w {
			t.Errorf("%s = %v, want %v", key, v.Emit(), w.Emit())
		}
	}
	if _, ok := spanAttr(span, "courier.outcome"); ok {
		t.Error("successful delivery should not carry an outcome attribute")
	}
	for _, kv := range span.Attributes() {
		if kv.Value.Type() == attribute.STRING && kv.Value.AsString() == "tok_secret" {
			t.Errorf("%s carries the raw tenant token", kv.Key)
		}
	}
}

func TestTracing_FailedDelivery(t *testing.T) {
	tests := []struct {
		name    string
		result  error
		outcome string
	}{
		{"timeout", delivery.Retryable(errors.New("context deadline exceeded")), "retryable"},
		{"rejected", delivery.Rejected(errors.New("status 422")), "rejected"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			span, _ := tracedRun(t, tt.result)

			st := span.Status()
			if st.Code != codes.Error || st.Description != tt.result.Error() {
				t.Errorf("status = %v %q", st.Code, st.Description)
			}
			if v, _ := spanAttr(span, "courier.outcome"); v.AsString() != tt.outcome {
				t.Errorf("courier.outcome = %q, want %q", v.AsString(), tt.outcome)
			}

			recorded := false
			for _, ev := range span.Events() {
				recorded = recorded || ev.Name == "exception"
			}
			if !recorded {
				t.Error("error was not recorded as an exception event")
			}
		})
	}
}

func TestTracing_WithoutProviderPassesThrough(t *testing.T) {
	calls := 0
	err := mw.Tracing()(context.Background(), newTestJob(), func(context.Context) error {
		calls++
		return nil
	})
	if err != nil || calls != 1 {
		t.Fatalf("err = %v, calls = %d", err, calls)
	}
}
