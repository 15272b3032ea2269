package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/xraph/courier"
	"github.com/xraph/courier/descriptor"
	"github.com/xraph/courier/engine"
	"github.com/xraph/courier/store/memory"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name      string
		format    string
		level     string
		debugSeen bool
		json      bool
	}{
		{"json info", "json", "info", false, true},
		{"json debug", "json", "debug", true, true},
		{"text warn", "text", "warn", false, false},
		{"unknown level falls back to info", "json", "chatty", false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			cfg := courier.DefaultConfig()
			cfg.LogFormat, cfg.LogLevel = tt.format, tt.level
			logger := newLogger(cfg, &buf)

			logger.Debug("debug line")
			if got := strings.Contains(buf.String(), "debug line"); got != tt.debugSeen {
				t.Fatalf("debug emitted = %v, want %v", got, tt.debugSeen)
			}

			buf.Reset()
			logger.Error("error line")
			var rec map[string]any
			isJSON := json.Unmarshal(buf.Bytes(), &rec) == nil
			if isJSON != tt.json {
				t.Fatalf("json output = %v, want %v: %q", isJSON, tt.json, buf.String())
			}
			if !strings.Contains(buf.String(), "service") {
				t.Errorf("service attribute missing: %q", buf.String())
			}
		})
	}
}

func TestOpenStore_Memory(t *testing.T) {
	cfg := courier.DefaultConfig()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	s, err := openStore(context.Background(), cfg, logger)
	if err != nil {
		t.Fatalf("openStore: %v", err)
	}
	defer s.Close()

	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
}

func TestOpenStore_UnknownBackend(t *testing.T) {
	cfg := courier.DefaultConfig()
	cfg.Store = "etcd"
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	_, err := openStore(context.Background(), cfg, logger)
	if !errors.Is(err, courier.ErrInvalidConfig) {
		t.Fatalf("err = %v, want ErrInvalidConfig", err)
	}
}

func TestEngineOptions_CountsEachEventOnce(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	prev := otel.GetMeterProvider()
	otel.SetMeterProvider(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))
	t.Cleanup(func() { otel.SetMeterProvider(prev) })

	for _, audit := range []bool{false, true} {
		cfg := courier.DefaultConfig()
		cfg.AuditLog = audit
		logger := slog.New(slog.NewTextHandler(io.Discard, nil))

		eng, err := engine.Build(memory.New(), engineOptions(cfg, logger)...)
		if err != nil {
			t.Fatalf("audit=%v: Build: %v", audit, err)
		}
		queue := descriptor.Encode("tok_main", "https://example.com/hook")
		if _, err := eng.Create(context.Background(), queue, []byte(`{}`)); err != nil {
			t.Fatalf("audit=%v: Create: %v", audit, err)
		}
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect: %v", err)
	}
	var enqueued int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "courier.job.enqueued" {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("enqueued data = %T", m.Data)
			}
			for _, dp := range sum.DataPoints {
				enqueued += dp.Value
			}
		}
	}
	if enqueued != 2 {
		t.Fatalf("courier.job.enqueued = %d after two creates, want 2", enqueued)
	}
}
