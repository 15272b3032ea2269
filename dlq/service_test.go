package dlq_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/xraph/courier"
	"github.com/xraph/courier/backoff"
	"github.com/xraph/courier/dlq"
	"github.com/xraph/courier/id"
	"github.com/xraph/courier/job"
	"github.com/xraph/courier/store/memory"
)

var epoch = time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)

func newFailedJob(jobID string, payload []byte) *job.Job {
	return &job.Job{
		Entity:       courier.NewEntity(),
		ID:           jobID,
		Queue:        "tok;https%3A%2F%2Fapp.test%2Fhook",
		Payload:      payload,
		State:        job.StateFailed,
		Schedule:     job.OneOff(),
		Retry:        job.RetryPolicy{MaxRetries: 3, Backoff: backoff.FixedSpec(time.Second)},
		Attempt:      3,
		NotBefore:    epoch.Add(-time.Hour),
		ScheduledFor: epoch.Add(-2 * time.Hour),
		LastError:    "endpoint returned 503",
	}
}

func newService(t *testing.T) (*dlq.Service, *memory.Store, *clockwork.FakeClock) {
	t.Helper()
	s := memory.New()
	clock := clockwork.NewFakeClockAt(epoch)
	return dlq.NewService(s, s, dlq.WithClock(clock)), s, clock
}

func TestService_Push_BuildsEntryFromJob(t *testing.T) {
	svc, s, _ := newService(t)
	ctx := context.Background()

	j := newFailedJob("invoice-42", []byte(`{"to":"alice@example.com"}`))
	entry, err := svc.Push(ctx, j, errors.New("endpoint returned 410"))
	if err != nil {
		t.Fatalf("Push: %v", err)
	}

	entries, _, err := s.ListDLQ(ctx, dlq.ListOpts{Limit: 10})
	if err != nil {
		t.Fatalf("ListDLQ: %v", err)
	}
	if len(entries) != 1 || entries[0].ID != entry.ID {
		t.Fatalf("expected the pushed entry, got %d entries", len(entries))
	}

	got := entries[0]
	if got.JobID != "invoice-42" || got.Queue != j.Queue {
		t.Errorf("identity = %q/%q", got.JobID, got.Queue)
	}
	if string(got.Payload) != `{"to":"alice@example.com"}` {
		t.Errorf("Payload = %q", got.Payload)
	}
	if got.Error != "endpoint returned 410" {
		t.Errorf("Error = %q", got.Error)
	}
	if got.Attempt != 3 || got.Retry.MaxRetries != 3 {
		t.Errorf("Attempt/MaxRetries = %d/%d", got.Attempt, got.Retry.MaxRetries)
	}
	if !got.FailedAt.Equal(epoch) {
		t.Errorf("FailedAt = %v, want %v", got.FailedAt, epoch)
	}
}

func TestService_Push_FallsBackToLastError(t *testing.T) {
	svc, _, _ := newService(t)

	entry, err := svc.Push(context.Background(), newFailedJob("a", nil), nil)
	if err != nil {
		t.Fatalf("Push: %v", err)
	}
	if entry.Error != "endpoint returned 503" {
		t.Errorf("Error = %q", entry.Error)
	}
}

func TestService_Replay_RearmsUnderOriginalID(t *testing.T) {
	svc, s, clock := newService(t)
	ctx := context.Background()

	original := newFailedJob("replay-me", []byte(`{"key":"value"}`))
	if err := s.InsertJob(ctx, original, false); err != nil {
		t.Fatalf("InsertJob: %v", err)
	}
	entry, err := svc.Push(ctx, original, errors.New("boom"))
	if err != nil {
		t.Fatalf("Push: %v", err)
	}

	clock.Advance(time.Hour)
	replayed, err := svc.Replay(ctx, entry.ID)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}

	if replayed.ID != original.ID {
		t.Errorf("ID = %q, want %q", replayed.ID, original.ID)
	}
	if replayed.State != job.StatePending || replayed.Attempt != 0 {
		t.Errorf("State/Attempt = %q/%d, want pending/0", replayed.State, replayed.Attempt)
	}
	if !replayed.NotBefore.Equal(epoch.Add(time.Hour)) {
		t.Errorf("NotBefore = %v", replayed.NotBefore)
	}

	got, err := s.GetJob(ctx, original.Queue, original.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.State != job.StatePending || string(got.Payload) != `{"key":"value"}` {
		t.Errorf("stored job = %q / %q", got.State, got.Payload)
	}

	stored, err := s.GetDLQ(ctx, entry.ID)
	if err != nil {
		t.Fatalf("GetDLQ: %v", err)
	}
	if stored.ReplayedAt == nil || !stored.ReplayedAt.Equal(epoch.Add(time.Hour)) {
		t.Errorf("ReplayedAt = %v", stored.ReplayedAt)
	}
}

func TestService_Replay_RecreatesDeletedJob(t *testing.T) {
	svc, s, _ := newService(t)
	ctx := context.Background()

	j := newFailedJob("gone", nil)
	entry, err := svc.Push(ctx, j, errors.New("boom"))
	if err != nil {
		t.Fatalf("Push: %v", err)
	}

	if _, err := svc.Replay(ctx, entry.ID); err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if _, err := s.GetJob(ctx, j.Queue, j.ID); err != nil {
		t.Errorf("GetJob after replay: %v", err)
	}
}

func TestService_Replay_NotFound(t *testing.T) {
	svc, _, _ := newService(t)

	_, err := svc.Replay(context.Background(), id.NewDLQID())
	if !dlq.IsNotFound(err) {
		t.Fatalf("Replay = %v, want ErrDLQNotFound", err)
	}
}

func TestService_Purge_RemovesOnlyOldEntries(t *testing.T) {
	svc, s, clock := newService(t)
	ctx := context.Background()

	if _, err := svc.Push(ctx, newFailedJob("old", nil), errors.New("410")); err != nil {
		t.Fatalf("Push: %v", err)
	}
	clock.Advance(48 * time.Hour)
	if _, err := svc.Push(ctx, newFailedJob("recent", nil), errors.New("410")); err != nil {
		t.Fatalf("Push: %v", err)
	}

	n, err := svc.Purge(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("Purge: %v", err)
	}
	if n != 1 {
		t.Fatalf("purged %d, want 1", n)
	}
	left, _, err := s.ListDLQ(ctx, dlq.ListOpts{})
	if err != nil {
		t.Fatalf("ListDLQ: %v", err)
	}
	if len(left) != 1 || left[0].JobID != "recent" {
		t.Errorf("remaining entries = %+v", left)
	}
}
