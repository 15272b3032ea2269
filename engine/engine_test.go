package engine_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/xraph/courier"
	"github.com/xraph/courier/backoff"
	"github.com/xraph/courier/delivery"
	"github.com/xraph/courier/descriptor"
	"github.com/xraph/courier/dlq"
	"github.com/xraph/courier/engine"
	"github.com/xraph/courier/job"
	"github.com/xraph/courier/queue"
	"github.com/xraph/courier/secret"
	"github.com/xraph/courier/store/memory"
)

var (
	now       = time.Date(2026, 6, 1, 12, 0, 30, 0, time.UTC)
	testQueue = descriptor.Encode("tok_abc", "https://example.com/hook")
)

func fastConfig() courier.Config {
	return courier.NewConfig(
		courier.WithConcurrency(2),
		courier.WithPollInterval(10*time.Millisecond),
		courier.WithDeliveryTimeout(2*time.Second),
		courier.WithLeaseTTL(5*time.Second),
		courier.WithHeartbeatInterval(0),
	)
}

func newEngine(t *testing.T, opts ...engine.Option) (*engine.Engine, *memory.Store) {
	t.Helper()
	s := memory.New()
	opts = append([]engine.Option{engine.WithConfig(fastConfig())}, opts...)
	eng, err := engine.Build(s, opts...)
	if err != nil {
		t.Fatalf("engine.Build: %v", err)
	}
	return eng, s
}

func stopEngine(t *testing.T, eng *engine.Engine) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := eng.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for !cond() {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %s", what)
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}
}

// ──────────────────────────────────────────────────
// Build
// ──────────────────────────────────────────────────

func TestBuild_NoStore(t *testing.T) {
	if _, err := engine.Build(nil); !errors.Is(err, courier.ErrNoStore) {
		t.Fatalf("expected ErrNoStore, got %v", err)
	}
}

func TestBuild_DeliveryTimeoutMustBeShorterThanLease(t *testing.T) {
	cfg := courier.NewConfig(
		courier.WithLeaseTTL(10*time.Second),
		courier.WithDeliveryTimeout(10*time.Second),
	)
	if _, err := engine.Build(memory.New(), engine.WithConfig(cfg)); !errors.Is(err, courier.ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestBuild_QueueManagerOnlyWhenLimited(t *testing.T) {
	eng, _ := newEngine(t)
	if eng.QueueManager() != nil {
		t.Fatal("expected no queue manager without limits")
	}

	cfg := fastConfig()
	cfg.TenantMaxConcurrency = 2
	limited, err := engine.Build(memory.New(), engine.WithConfig(cfg),
		engine.WithQueueConfig(queue.Config{Name: testQueue, RateLimit: 5}))
	if err != nil {
		t.Fatalf("engine.Build: %v", err)
	}
	if limited.QueueManager() == nil {
		t.Fatal("expected a queue manager")
	}
}

// ──────────────────────────────────────────────────
// Create
// ──────────────────────────────────────────────────

func TestCreate_Validation(t *testing.T) {
	tests := []struct {
		name  string
		queue string
		opts  []job.Option
		want  error
	}{
		{"delay and cron", testQueue, []job.Option{job.WithDelay(time.Hour), job.WithCron("* * * * *", "")}, courier.ErrMalformedSchedule},
		{"runAt and cron", testQueue, []job.Option{job.WithRunAt(now.Add(time.Hour)), job.WithCron("* * * * *", "")}, courier.ErrMalformedSchedule},
		{"zero delay and cron", testQueue, []job.Option{job.WithDelay(0), job.WithCron("* * * * *", "")}, courier.ErrMalformedSchedule},
		{"zero delay and runAt", testQueue, []job.Option{job.WithDelay(0), job.WithRunAt(now.Add(time.Hour))}, courier.ErrMalformedSchedule},
		{"delay and runAt", testQueue, []job.Option{job.WithDelay(time.Hour), job.WithRunAt(now)}, courier.ErrMalformedSchedule},
		{"negative delay", testQueue, []job.Option{job.WithDelay(-time.Second)}, courier.ErrMalformedSchedule},
		{"invalid cron", testQueue, []job.Option{job.WithCron("every tuesday", "")}, courier.ErrMalformedSchedule},
		{"unknown zone", testQueue, []job.Option{job.WithCron("0 9 * * *", "Mars/Olympus")}, courier.ErrMalformedSchedule},
		{"no separator", "just-a-token", nil, courier.ErrMalformedDescriptor},
		{"bad endpoint", descriptor.Encode("tok", "ftp://example.com"), nil, courier.ErrMalformedDescriptor},
		{"negative retries", testQueue, []job.Option{job.WithRetry(job.RetryPolicy{MaxRetries: -1, Backoff: backoff.FixedSpec(time.Second)})}, courier.ErrMalformedRetry},
		{"bad backoff", testQueue, []job.Option{job.WithRetry(job.RetryPolicy{MaxRetries: 1, Backoff: backoff.Spec{Kind: "linear"}})}, courier.ErrMalformedRetry},
		{"control chars in id", testQueue, []job.Option{job.WithID("a\nb")}, courier.ErrMalformedJobID},
		{"id too long", testQueue, []job.Option{job.WithID(strings.Repeat("x", 300))}, courier.ErrMalformedJobID},
	}

	eng, s := newEngine(t, engine.WithClock(clockwork.NewFakeClockAt(now)))
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := eng.Create(context.Background(), tt.queue, []byte("{}"), tt.opts...)
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
	if n, _ := s.CountJobs(context.Background(), job.CountOpts{}); n != 0 {
		t.Fatalf("rejected creates persisted %d jobs", n)
	}
}

func TestCreate_Schedules(t *testing.T) {
	runAt := time.Date(2026, 7, 4, 9, 0, 0, 0, time.FixedZone("EST", -5*3600))
	tests := []struct {
		name      string
		opts      []job.Option
		notBefore time.Time
		cron      bool
	}{
		{"immediate", nil, now, false},
		{"delay 1h", []job.Option{job.WithDelay(time.Hour)}, now.Add(time.Hour), false},
		{"runAt", []job.Option{job.WithRunAt(runAt)}, runAt.UTC(), false},
		{"every minute", []job.Option{job.WithCron("* * * * *", "")}, time.Date(2026, 6, 1, 12, 1, 0, 0, time.UTC), true},
		{"daily in zone", []job.Option{job.WithCron("0 9 * * *", "America/New_York")}, time.Date(2026, 6, 1, 13, 0, 0, 0, time.UTC), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eng, s := newEngine(t, engine.WithClock(clockwork.NewFakeClockAt(now)))
			j, err := eng.Create(context.Background(), testQueue, []byte(`{"a":1}`), tt.opts...)
			if err != nil {
				t.Fatalf("Create: %v", err)
			}
			if !j.NotBefore.Equal(tt.notBefore) {
				t.Errorf("NotBefore = %v, want %v", j.NotBefore, tt.notBefore)
			}
			if !j.ScheduledFor.Equal(j.NotBefore) {
				t.Errorf("ScheduledFor = %v, want NotBefore", j.ScheduledFor)
			}
			if j.IsCron() != tt.cron {
				t.Errorf("IsCron = %v, want %v", j.IsCron(), tt.cron)
			}
			if j.State != job.StatePending || j.Attempt != 0 {
				t.Errorf("state %s attempt %d", j.State, j.Attempt)
			}
			if !strings.HasPrefix(j.ID, "job_") {
				t.Errorf("generated ID = %q", j.ID)
			}
			if _, err := s.GetJob(context.Background(), testQueue, j.ID); err != nil {
				t.Errorf("GetJob: %v", err)
			}
		})
	}
}

func TestCreate_DefaultAndCustomRetry(t *testing.T) {
	cfg := fastConfig()
	cfg.DefaultMaxRetries = 7
	cfg.BackoffCeiling = 10 * time.Minute
	eng, err := engine.Build(memory.New(), engine.WithConfig(cfg))
	if err != nil {
		t.Fatalf("engine.Build: %v", err)
	}

	j, err := eng.Create(context.Background(), testQueue, nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	want := job.RetryPolicy{MaxRetries: 7, Backoff: backoff.ExponentialSpec(time.Second, 2, 10*time.Minute)}
	if j.Retry != want {
		t.Errorf("default retry = %+v, want %+v", j.Retry, want)
	}

	j, err = eng.Create(context.Background(), testQueue, nil,
		job.WithRetry(job.RetryPolicy{MaxRetries: 2, Backoff: backoff.ExponentialSpec(5*time.Second, 3, 0)}))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if j.Retry.Backoff.Ceiling != 10*time.Minute {
		t.Errorf("ceiling = %v, want configured ceiling", j.Retry.Backoff.Ceiling)
	}
}

func TestCreate_DuplicateAndOverride(t *testing.T) {
	eng, _ := newEngine(t)
	ctx := context.Background()

	if _, err := eng.Create(ctx, testQueue, []byte("1"), job.WithID("order-1")); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := eng.Create(ctx, testQueue, []byte("2"), job.WithID("order-1")); !errors.Is(err, courier.ErrJobAlreadyExists) {
		t.Fatalf("expected ErrJobAlreadyExists, got %v", err)
	}
	// The same ID under another tenant's queue is a different job.
	other := descriptor.Encode("tok_other", "https://example.com/hook")
	if _, err := eng.Create(ctx, other, []byte("3"), job.WithID("order-1")); err != nil {
		t.Fatalf("Create in other queue: %v", err)
	}

	if _, err := eng.Create(ctx, testQueue, []byte("4"), job.WithID("order-1"), job.WithOverride()); err != nil {
		t.Fatalf("Create with override: %v", err)
	}
	got, err := eng.Get(ctx, testQueue, "order-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got.Payload) != "4" {
		t.Errorf("payload = %q, want overridden", got.Payload)
	}
}

func TestDelete(t *testing.T) {
	eng, _ := newEngine(t)
	ctx := context.Background()
	if _, err := eng.Create(ctx, testQueue, nil, job.WithID("x")); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := eng.Delete(ctx, testQueue, "x"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := eng.Delete(ctx, testQueue, "x"); !errors.Is(err, courier.ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
}

// ──────────────────────────────────────────────────
// End-to-end over HTTP
// ──────────────────────────────────────────────────

type hookCounter struct {
	enqueued atomic.Int32
	shutdown atomic.Bool
}

func (h *hookCounter) Name() string { return "counter" }
func (h *hookCounter) OnJobEnqueued(context.Context, *job.Job) error {
	h.enqueued.Add(1)
	return nil
}
func (h *hookCounter) OnShutdown(context.Context) error {
	h.shutdown.Store(true)
	return nil
}

func TestEngine_EndToEnd_DelayedDeliveryDeletes(t *testing.T) {
	type received struct {
		body  string
		jobID string
		sig   string
	}
	got := make(chan received, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		got <- received{string(b), r.Header.Get(delivery.HeaderJobID), r.Header.Get(delivery.HeaderSignature)}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	hooks := &hookCounter{}
	cfg := fastConfig()
	cfg.SigningSecret = "global-secret"
	eng, err := engine.Build(memory.New(), engine.WithConfig(cfg), engine.WithExtension(hooks))
	if err != nil {
		t.Fatalf("engine.Build: %v", err)
	}

	q := descriptor.Encode("tok_abc", srv.URL+"/hook")
	created := time.Now()
	j, err := eng.Create(context.Background(), q, []byte(`{"to":"alice"}`), job.WithDelay(100*time.Millisecond))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	var r received
	select {
	case r = <-got:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for delivery")
	}
	if time.Since(created) < 100*time.Millisecond {
		t.Error("delivered before the delay elapsed")
	}
	if r.body != `{"to":"alice"}` || r.jobID != j.ID {
		t.Errorf("received %+v", r)
	}
	key := secret.SigningKey("global-secret", "tok_abc")
	if err := secret.Verify(key, []byte(r.body), r.sig, time.Now(), time.Minute); err != nil {
		t.Errorf("signature: %v", err)
	}

	waitFor(t, "job deletion", func() bool {
		_, err := eng.Get(context.Background(), q, j.ID)
		return errors.Is(err, courier.ErrJobNotFound)
	})

	stopEngine(t, eng)
	if hooks.enqueued.Load() != 1 || !hooks.shutdown.Load() {
		t.Errorf("hooks: enqueued=%d shutdown=%v", hooks.enqueued.Load(), hooks.shutdown.Load())
	}
}

func TestEngine_EndToEnd_RejectedThenReplayed(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "unknown customer", http.StatusUnprocessableEntity)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	eng, _ := newEngine(t)
	q := descriptor.Encode("tok_abc", srv.URL)
	ctx := context.Background()

	if _, err := eng.Create(ctx, q, []byte("x"), job.WithID("inv-9")); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := eng.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer stopEngine(t, eng)

	var entries []*dlq.Entry
	waitFor(t, "dead letter", func() bool {
		entries, _, _ = eng.DLQService().List(ctx, dlq.ListOpts{})
		return len(entries) == 1
	})
	if calls.Load() != 1 {
		t.Fatalf("rejected job delivered %d times", calls.Load())
	}
	failed, err := eng.Get(ctx, q, "inv-9")
	if err != nil || failed.State != job.StateFailed {
		t.Fatalf("job = %+v, err %v", failed, err)
	}
	if !strings.Contains(entries[0].Error, "unknown customer") {
		t.Errorf("dlq error = %q", entries[0].Error)
	}

	if _, err := eng.Replay(ctx, entries[0].ID); err != nil {
		t.Fatalf("Replay: %v", err)
	}
	waitFor(t, "replayed delivery", func() bool {
		_, err := eng.Get(ctx, q, "inv-9")
		return errors.Is(err, courier.ErrJobNotFound)
	})
	if calls.Load() != 2 {
		t.Fatalf("calls = %d, want 2", calls.Load())
	}
}
