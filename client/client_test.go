package client_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/xraph/courier"
	"github.com/xraph/courier/api"
	"github.com/xraph/courier/backoff"
	"github.com/xraph/courier/client"
	"github.com/xraph/courier/descriptor"
	"github.com/xraph/courier/engine"
	"github.com/xraph/courier/job"
	"github.com/xraph/courier/secret"
	"github.com/xraph/courier/store/memory"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newClient(t *testing.T, baseURL string, opts ...client.Option) *client.Client {
	t.Helper()
	opts = append([]client.Option{
		client.WithBaseURL(baseURL),
		client.WithToken("tok_abc"),
		client.WithApplicationBaseURL("https://app.example.com/"),
		client.WithRetry(3, backoff.NewFixed(time.Millisecond)),
		client.WithLogger(testLogger()),
	}, opts...)
	c, err := client.New(opts...)
	if err != nil {
		t.Fatalf("client.New: %v", err)
	}
	return c
}

func TestNormalizeBaseURL(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"https://courier.example.com/", "https://courier.example.com"},
		{"http://localhost:9181//", "http://localhost:9181"},
		{"courier.example.com", "https://courier.example.com"},
		{"courier.example.com:8443/api/", "https://courier.example.com:8443/api"},
		{"localhost:3000", "http://localhost:3000"},
		{"127.0.0.1:3000", "http://127.0.0.1:3000"},
		{"[::1]:3000", "http://[::1]:3000"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := client.NormalizeBaseURL(tt.in); got != tt.want {
			t.Errorf("NormalizeBaseURL(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNew_RequiresBaseURLAndToken(t *testing.T) {
	if _, err := client.New(client.WithToken("tok")); err == nil {
		t.Error("expected an error without base URL")
	}
	if _, err := client.New(client.WithBaseURL("localhost:9181")); err == nil {
		t.Error("expected an error without token")
	}
}

func TestQueue(t *testing.T) {
	c := newClient(t, "localhost:9181")
	tests := []struct {
		route, endpoint string
	}{
		{"/hooks/email", "https://app.example.com/hooks/email"},
		{"hooks/email", "https://app.example.com/hooks/email"},
		{"https://other.example.com/cb", "https://other.example.com/cb"},
	}
	for _, tt := range tests {
		d, err := descriptor.Decode(c.Queue(tt.route))
		if err != nil {
			t.Fatalf("Decode: %v", err)
		}
		if d.TenantToken != "tok_abc" || d.Endpoint != tt.endpoint {
			t.Errorf("Queue(%q) = %+v, want endpoint %q", tt.route, d, tt.endpoint)
		}
	}
}

func TestNotBefore(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 15, 0, 0, time.UTC)
	runAt := now.Add(48 * time.Hour)
	tests := []struct {
		name string
		opts client.EnqueueOptions
		want time.Time
		err  error
	}{
		{"immediate", client.EnqueueOptions{}, now, nil},
		{"delay", client.EnqueueOptions{Delay: time.Minute}, now.Add(time.Minute), nil},
		{"runAt", client.EnqueueOptions{RunAt: runAt}, runAt, nil},
		{"hourly", client.EnqueueOptions{Cron: &client.Cron{Expression: "0 * * * *"}}, now.Add(45 * time.Minute), nil},
		{"delay and cron", client.EnqueueOptions{Delay: time.Minute, Cron: &client.Cron{Expression: "0 * * * *"}}, time.Time{}, courier.ErrMalformedSchedule},
		{"delay and runAt", client.EnqueueOptions{Delay: time.Minute, RunAt: runAt}, time.Time{}, courier.ErrMalformedSchedule},
		{"bad cron", client.EnqueueOptions{Cron: &client.Cron{Expression: "whenever"}}, time.Time{}, courier.ErrMalformedSchedule},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := client.NotBefore(tt.opts, now)
			if !errors.Is(err, tt.err) {
				t.Fatalf("err = %v, want %v", err, tt.err)
			}
			if !got.Equal(tt.want) {
				t.Errorf("NotBefore = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEnqueue_ScheduleErrorsAreLocal(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	c := newClient(t, srv.URL)
	_, err := c.Enqueue(context.Background(), "/hooks/x", nil, client.EnqueueOptions{
		RunAt: time.Now().Add(time.Hour),
		Cron:  &client.Cron{Expression: "* * * * *"},
	})
	if !errors.Is(err, courier.ErrMalformedSchedule) {
		t.Fatalf("expected ErrMalformedSchedule, got %v", err)
	}
	if calls.Load() != 0 {
		t.Errorf("server was called %d times", calls.Load())
	}
}

func TestEnqueue_Retries(t *testing.T) {
	tests := []struct {
		name      string
		responses []int
		wantCalls int32
		wantErr   error
	}{
		{"server errors then success", []int{503, 500, 201}, 3, nil},
		{"rate limited then success", []int{429, 201}, 2, nil},
		{"conflict is final", []int{409}, 1, courier.ErrJobAlreadyExists},
		{"bad request is final", []int{400}, 1, courier.ErrMalformedSchedule},
		{"gives up", []int{502, 502, 502, 201}, 3, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				n := calls.Add(1)
				status := tt.responses[min(int(n), len(tt.responses))-1]
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(status)
				switch status {
				case http.StatusCreated:
					_ = json.NewEncoder(w).Encode(job.Job{ID: "job_1"})
				case http.StatusConflict:
					_ = json.NewEncoder(w).Encode(api.ErrorResponse{Error: api.CodeAlreadyExists, Message: "taken"})
				case http.StatusBadRequest:
					_ = json.NewEncoder(w).Encode(api.ErrorResponse{Error: api.CodeMalformedSchedule, Message: "bad"})
				}
			}))
			defer srv.Close()

			c := newClient(t, srv.URL)
			j, err := c.Enqueue(context.Background(), "/hooks/x", []byte("{}"), client.EnqueueOptions{})

			if calls.Load() != tt.wantCalls {
				t.Errorf("calls = %d, want %d", calls.Load(), tt.wantCalls)
			}
			switch {
			case tt.name == "gives up":
				var apiErr *client.APIError
				if !errors.As(err, &apiErr) || apiErr.Status != http.StatusBadGateway {
					t.Fatalf("expected a 502 APIError, got %v", err)
				}
			case tt.wantErr != nil:
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
			default:
				if err != nil {
					t.Fatalf("Enqueue: %v", err)
				}
				if j.ID != "job_1" {
					t.Errorf("job = %+v", j)
				}
			}
		})
	}
}

func TestVerify(t *testing.T) {
	c := newClient(t, "localhost:9181", client.WithSigningSecret("global"))
	key := secret.SigningKey("global", "tok_abc")
	body := []byte(`{"ok":true}`)

	newReq := func(b []byte, sig string) *http.Request {
		r := httptest.NewRequest(http.MethodPost, "/hooks/x", bytes.NewReader(b))
		if sig != "" {
			r.Header.Set(secret.SignatureHeader, sig)
		}
		return r
	}

	got, err := c.Verify(newReq(body, secret.Sign(key, body, time.Now())))
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !bytes.Equal(got, body) {
		t.Errorf("body = %q", got)
	}

	if _, err := c.Verify(newReq([]byte(`{"ok":false}`), secret.Sign(key, body, time.Now()))); !errors.Is(err, secret.ErrInvalidSignature) {
		t.Errorf("tampered body: got %v", err)
	}
	if _, err := c.Verify(newReq(body, secret.Sign(key, body, time.Now().Add(-time.Hour)))); !errors.Is(err, secret.ErrSignatureExpired) {
		t.Errorf("stale signature: got %v", err)
	}
	if _, err := c.Verify(newReq(body, "")); !errors.Is(err, client.ErrMissingSignature) {
		t.Errorf("missing header: got %v", err)
	}
}

func TestEndToEnd_SealedDelivery(t *testing.T) {
	received := make(chan []byte, 1)
	var c *client.Client
	app := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := c.Verify(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}
		received <- body
		w.WriteHeader(http.StatusOK)
	}))
	defer app.Close()

	s := memory.New()
	cfg := courier.NewConfig(
		courier.WithPollInterval(10*time.Millisecond),
		courier.WithDeliveryTimeout(2*time.Second),
		courier.WithLeaseTTL(5*time.Second),
		courier.WithSigningSecret("global"),
		courier.WithHeartbeatInterval(0),
	)
	eng, err := engine.Build(s, engine.WithConfig(cfg), engine.WithLogger(testLogger()))
	if err != nil {
		t.Fatalf("engine.Build: %v", err)
	}
	a, err := api.New(eng, api.WithLogger(testLogger()))
	if err != nil {
		t.Fatalf("api.New: %v", err)
	}
	courierSrv := httptest.NewServer(a.Handler())
	defer courierSrv.Close()

	c = newClient(t, courierSrv.URL,
		client.WithApplicationBaseURL(app.URL),
		client.WithEncryptionSecret("app-secret"),
		client.WithSigningSecret("global"),
	)

	ctx := context.Background()
	j, err := c.Enqueue(ctx, "/hooks/reminder", []byte("see you soon"), client.EnqueueOptions{ID: "rem-1"})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	stored, err := s.GetJob(ctx, j.Queue, "rem-1")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if bytes.Contains(stored.Payload, []byte("see you soon")) {
		t.Fatal("payload stored in plaintext")
	}

	if err := eng.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		_ = eng.Stop(stopCtx)
	}()

	select {
	case body := <-received:
		if string(body) != "see you soon" {
			t.Errorf("received %q", body)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for delivery")
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		_, err := c.Get(ctx, "/hooks/reminder", "rem-1")
		if errors.Is(err, courier.ErrJobNotFound) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("job still present after delivery: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}

	if err := c.Delete(ctx, "/hooks/reminder", "rem-1"); !errors.Is(err, courier.ErrJobNotFound) {
		t.Errorf("Delete of a delivered job: %v", err)
	}
}

func TestEnqueue_PropagatesTraceContext(t *testing.T) {
	prevTP, prevProp := otel.GetTracerProvider(), otel.GetTextMapPropagator()
	tp := sdktrace.NewTracerProvider()
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() {
		otel.SetTracerProvider(prevTP)
		otel.SetTextMapPropagator(prevProp)
	})

	var traceparent atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceparent.Store(r.Header.Get("traceparent"))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(job.Job{ID: "job_1"})
	}))
	defer srv.Close()

	ctx, span := tp.Tracer("app").Start(context.Background(), "schedule reminder")
	defer span.End()

	if _, err := newClient(t, srv.URL).Enqueue(ctx, "/hooks/x", []byte("{}"), client.EnqueueOptions{}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	got, _ := traceparent.Load().(string)
	if !strings.Contains(got, span.SpanContext().TraceID().String()) {
		t.Fatalf("traceparent = %q, want trace %s", got, span.SpanContext().TraceID())
	}
}
