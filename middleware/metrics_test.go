package middleware_test

import (
	"context"
	"errors"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/xraph/courier/delivery"
	mw "github.com/xraph/courier/middleware"
	"github.com/xraph/courier/scope"
)

// meteredRun pushes one delivery through Scope+Metrics and returns what the
// reader collected afterwards.
func meteredRun(t *testing.T, result error) metricdata.ResourceMetrics {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	chain := mw.Chain(mw.Scope(), mw.MetricsWithMeter(provider.Meter("courier-test")))

	got := chain(context.Background(), newTestJob(), func(context.Context) error { return result })
	if !errors.Is(got, result) {
		t.Fatalf("middleware changed the delivery error: got %v, want %v", got, result)
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect: %v", err)
	}
	return rm
}

func lookup(rm metricdata.ResourceMetrics, name string) (metricdata.Metrics, bool) {
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name == name {
				return m, true
			}
		}
	}
	return metricdata.Metrics{}, false
}

func TestMetrics_OutcomeLabels(t *testing.T) {
	tests := []struct {
		name    string
		result  error
		outcome string
	}{
		{"acknowledged", nil, "success"},
		{"receiver 503", delivery.Retryable(errors.New("status 503")), "retryable"},
		{"receiver 410", delivery.Rejected(errors.New("status 410")), "rejected"},
		{"bare error", errors.New("connection reset"), "retryable"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rm := meteredRun(t, tt.result)

			m, ok := lookup(rm, "courier.delivery.attempts")
			if !ok {
				t.Fatal("attempts counter not exported")
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok || len(sum.DataPoints) != 1 {
				t.Fatalf("attempts data = %T with %d points", m.Data, len(sum.DataPoints))
			}
			dp := sum.DataPoints[0]
			if dp.Value != 1 {
				t.Errorf("attempts = %d, want 1", dp.Value)
			}
			if v, _ := dp.Attributes.Value("outcome"); v.AsString() != tt.outcome {
				t.Errorf("outcome = %q, want %q", v.AsString(), tt.outcome)
			}
		})
	}
}

func TestMetrics_DurationHistogram(t *testing.T) {
	rm := meteredRun(t, nil)

	m, ok := lookup(rm, "courier.delivery.duration")
	if !ok {
		t.Fatal("duration histogram not exported")
	}
	if m.Unit != "s" {
		t.Errorf("unit = %q, want s", m.Unit)
	}
	hist, ok := m.Data.(metricdata.Histogram[float64])
	if !ok || len(hist.DataPoints) != 1 {
		t.Fatalf("duration data = %T", m.Data)
	}
	if hist.DataPoints[0].Count != 1 {
		t.Errorf("observations = %d, want 1", hist.DataPoints[0].Count)
	}
}

func TestMetrics_TenantIsFingerprinted(t *testing.T) {
	rm := meteredRun(t, nil)
	want := scope.Fingerprint("tok_secret")

	for _, name := range []string{"courier.delivery.duration", "courier.delivery.attempts"} {
		m, ok := lookup(rm, name)
		if !ok {
			t.Errorf("%s not exported", name)
			continue
		}
		var tenant string
		switch data := m.Data.(type) {
		case metricdata.Histogram[float64]:
			v, _ := data.DataPoints[0].Attributes.Value("tenant")
			tenant = v.AsString()
		case metricdata.Sum[int64]:
			v, _ := data.DataPoints[0].Attributes.Value("tenant")
			tenant = v.AsString()
		}
		if tenant != want {
			t.Errorf("%s: tenant = %q, want fingerprint %q", name, tenant, want)
		}
		if tenant == "tok_secret" {
			t.Errorf("%s: raw tenant token exported", name)
		}
	}
}

func TestMetrics_WithoutProviderPassesThrough(t *testing.T) {
	calls := 0
	err := mw.Metrics()(context.Background(), newTestJob(), func(context.Context) error {
		calls++
		return nil
	})
	if err != nil || calls != 1 {
		t.Fatalf("err = %v, calls = %d", err, calls)
	}
}
