// Package storetest is a conformance suite run against every store.Store
// backend. Backend test files call Run with a factory returning an empty
// store.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/xraph/courier"
	"github.com/xraph/courier/backoff"
	"github.com/xraph/courier/cluster"
	"github.com/xraph/courier/dlq"
	"github.com/xraph/courier/id"
	"github.com/xraph/courier/job"
	"github.com/xraph/courier/store"
)

// Factory returns an empty store. It is called once per subtest.
type Factory func(t *testing.T) store.Store

// Epoch is the reference time used for NotBefore values in the suite.
// It is truncated to the millisecond so every backend stores it exactly.
var Epoch = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

const (
	queueA = "tok_a;http%3A%2F%2Flocalhost%3A3000%2Fapi%2Fjobs"
	queueB = "tok_b;https%3A%2F%2Fb.example.com%2Fhook"
)

// NewJob returns a pending one-off job due at notBefore.
func NewJob(queue, jobID string, notBefore time.Time) *job.Job {
	return &job.Job{
		Entity:       courier.Entity{CreatedAt: Epoch, UpdatedAt: Epoch},
		ID:           jobID,
		Queue:        queue,
		Payload:      []byte(`{"n":1}`),
		State:        job.StatePending,
		Schedule:     job.OneOff(),
		Retry:        job.RetryPolicy{MaxRetries: 2, Backoff: backoff.ExponentialSpec(time.Second, 2, time.Minute)},
		NotBefore:    notBefore,
		ScheduledFor: notBefore,
	}
}

func claimOpts(now time.Time) job.ClaimOpts {
	return job.ClaimOpts{Holder: id.NewWorkerID(), Now: now, TTL: 30 * time.Second}
}

// Run executes the full suite.
func Run(t *testing.T, newStore Factory) {
	t.Helper()

	tests := []struct {
		name string
		fn   func(t *testing.T, s store.Store)
	}{
		{"InsertAndGet", testInsertAndGet},
		{"InsertDuplicate", testInsertDuplicate},
		{"ClaimEarliestDue", testClaimEarliestDue},
		{"ClaimNothingDue", testClaimNothingDue},
		{"ClaimQueueFilter", testClaimQueueFilter},
		{"ConcurrentClaimExclusive", testConcurrentClaimExclusive},
		{"ExpiredLeaseReclaimable", testExpiredLeaseReclaimable},
		{"ReleaseFenced", testReleaseFenced},
		{"ReleaseAfterDelete", testReleaseAfterDelete},
		{"CompleteDeletes", testCompleteDeletes},
		{"FailedNeverClaimed", testFailedNeverClaimed},
		{"OverrideDropsLease", testOverrideDropsLease},
		{"ListAndCount", testListAndCount},
		{"ListAcrossQueues", testListAcrossQueues},
		{"DLQ", testDLQ},
		{"Workers", testWorkers},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStore(t)
			tt.fn(t, s)
		})
	}
}

func mustInsert(t *testing.T, s store.Store, j *job.Job) {
	t.Helper()
	if err := s.InsertJob(context.Background(), j, false); err != nil {
		t.Fatalf("InsertJob(%s): %v", j.ID, err)
	}
}

func mustClaim(t *testing.T, s store.Store, opts job.ClaimOpts) *job.Job {
	t.Helper()
	j, err := s.ClaimNextDue(context.Background(), opts)
	if err != nil {
		t.Fatalf("ClaimNextDue: %v", err)
	}
	if j == nil {
		t.Fatal("ClaimNextDue returned no job")
	}
	return j
}

func testInsertAndGet(t *testing.T, s store.Store) {
	ctx := context.Background()
	j := NewJob(queueA, "job-1", Epoch)
	j.Schedule = job.Cron("*/5 * * * *", "Europe/Berlin")
	mustInsert(t, s, j)

	got, err := s.GetJob(ctx, queueA, "job-1")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.State != job.StatePending || string(got.Payload) != `{"n":1}` {
		t.Errorf("got state %q payload %q", got.State, got.Payload)
	}
	if !got.NotBefore.Equal(Epoch) || !got.ScheduledFor.Equal(Epoch) {
		t.Errorf("NotBefore/ScheduledFor = %v/%v", got.NotBefore, got.ScheduledFor)
	}
	if got.Schedule != j.Schedule {
		t.Errorf("Schedule = %+v, want %+v", got.Schedule, j.Schedule)
	}
	if got.Retry.MaxRetries != 2 || got.Retry.Backoff.Kind != backoff.KindExponential {
		t.Errorf("Retry = %+v", got.Retry)
	}

	if _, err := s.GetJob(ctx, queueB, "job-1"); !errors.Is(err, courier.ErrJobNotFound) {
		t.Errorf("GetJob in other queue = %v, want ErrJobNotFound", err)
	}
}

func testInsertDuplicate(t *testing.T, s store.Store) {
	ctx := context.Background()
	mustInsert(t, s, NewJob(queueA, "dup", Epoch))

	if err := s.InsertJob(ctx, NewJob(queueA, "dup", Epoch), false); !errors.Is(err, courier.ErrJobAlreadyExists) {
		t.Fatalf("duplicate insert = %v, want ErrJobAlreadyExists", err)
	}

	// Same ID in another tenant's queue is a different job.
	mustInsert(t, s, NewJob(queueB, "dup", Epoch))

	replacement := NewJob(queueA, "dup", Epoch.Add(time.Hour))
	if err := s.InsertJob(ctx, replacement, true); err != nil {
		t.Fatalf("override insert: %v", err)
	}
	got, err := s.GetJob(ctx, queueA, "dup")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if !got.NotBefore.Equal(Epoch.Add(time.Hour)) {
		t.Errorf("override did not replace record: NotBefore = %v", got.NotBefore)
	}
}

func testClaimEarliestDue(t *testing.T, s store.Store) {
	mustInsert(t, s, NewJob(queueA, "late", Epoch.Add(-time.Second)))
	mustInsert(t, s, NewJob(queueA, "early", Epoch.Add(-time.Minute)))
	mustInsert(t, s, NewJob(queueB, "future", Epoch.Add(time.Minute)))

	opts := claimOpts(Epoch)
	first := mustClaim(t, s, opts)
	if first.ID != "early" {
		t.Fatalf("first claim = %q, want early", first.ID)
	}
	if first.State != job.StateLeased || first.Lease == nil {
		t.Fatalf("claimed job state %q lease %v", first.State, first.Lease)
	}
	if first.Lease.Holder.String() != opts.Holder.String() {
		t.Errorf("Holder = %s, want %s", first.Lease.Holder, opts.Holder)
	}
	if !first.Lease.ExpiresAt.Equal(Epoch.Add(opts.TTL)) {
		t.Errorf("ExpiresAt = %v", first.Lease.ExpiresAt)
	}
	if first.Lease.ID.Prefix() != id.PrefixLease {
		t.Errorf("lease ID prefix = %q", first.Lease.ID.Prefix())
	}

	second := mustClaim(t, s, opts)
	if second.ID != "late" {
		t.Fatalf("second claim = %q, want late", second.ID)
	}

	if j, err := s.ClaimNextDue(context.Background(), opts); err != nil || j != nil {
		t.Fatalf("third claim = %v, %v; want nothing due", j, err)
	}
}

func testClaimNothingDue(t *testing.T, s store.Store) {
	j, err := s.ClaimNextDue(context.Background(), claimOpts(Epoch))
	if err != nil || j != nil {
		t.Fatalf("claim on empty store = %v, %v", j, err)
	}
}

func testClaimQueueFilter(t *testing.T, s store.Store) {
	mustInsert(t, s, NewJob(queueA, "a", Epoch.Add(-time.Hour)))
	mustInsert(t, s, NewJob(queueB, "b", Epoch))

	opts := claimOpts(Epoch)
	opts.Queues = []string{queueB}
	got := mustClaim(t, s, opts)
	if got.ID != "b" {
		t.Fatalf("claimed %q, want b", got.ID)
	}
	if j, _ := s.ClaimNextDue(context.Background(), opts); j != nil {
		t.Fatalf("claimed %q from filtered-out queue", j.ID)
	}
}

func testConcurrentClaimExclusive(t *testing.T, s store.Store) {
	mustInsert(t, s, NewJob(queueA, "contended", Epoch))

	const workers = 16
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		claimed []string
		errs    []error
	)
	start := make(chan struct{})
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			j, err := s.ClaimNextDue(context.Background(), claimOpts(Epoch))
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
			}
			if j != nil {
				claimed = append(claimed, j.Lease.ID.String())
			}
		}()
	}
	close(start)
	wg.Wait()

	if len(errs) > 0 {
		t.Fatalf("claim errors: %v", errs)
	}
	if len(claimed) != 1 {
		t.Fatalf("job claimed %d times, want exactly once", len(claimed))
	}
}

func testExpiredLeaseReclaimable(t *testing.T, s store.Store) {
	mustInsert(t, s, NewJob(queueA, "crashy", Epoch))

	opts := claimOpts(Epoch)
	first := mustClaim(t, s, opts)

	// Still live just before expiry.
	if j, _ := s.ClaimNextDue(context.Background(), claimOpts(Epoch.Add(opts.TTL-time.Millisecond))); j != nil {
		t.Fatal("job reclaimed while lease still live")
	}

	second := mustClaim(t, s, claimOpts(Epoch.Add(opts.TTL)))
	if second.ID != first.ID {
		t.Fatalf("reclaimed %q, want %q", second.ID, first.ID)
	}
	if second.Lease.ID.String() == first.Lease.ID.String() {
		t.Fatal("reclaim reused the previous lease ID")
	}

	// The crashed holder comes back: its mutations must be fenced off.
	stale := first.Clone()
	stale.State = job.StatePending
	if err := s.ReleaseJob(context.Background(), stale, first.Lease.ID); !errors.Is(err, courier.ErrLeaseLost) {
		t.Fatalf("stale release = %v, want ErrLeaseLost", err)
	}
	if err := s.CompleteJob(context.Background(), queueA, "crashy", first.Lease.ID); !errors.Is(err, courier.ErrLeaseLost) {
		t.Fatalf("stale complete = %v, want ErrLeaseLost", err)
	}
}

func testReleaseFenced(t *testing.T, s store.Store) {
	ctx := context.Background()
	mustInsert(t, s, NewJob(queueA, "retry", Epoch))
	claimed := mustClaim(t, s, claimOpts(Epoch))

	next := claimed.Clone()
	next.State = job.StatePending
	next.Attempt = 1
	next.NotBefore = Epoch.Add(2 * time.Second)
	next.LastError = "503"
	if err := s.ReleaseJob(ctx, next, claimed.Lease.ID); err != nil {
		t.Fatalf("ReleaseJob: %v", err)
	}

	got, err := s.GetJob(ctx, queueA, "retry")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.State != job.StatePending || got.Attempt != 1 || got.Lease != nil || got.LastError != "503" {
		t.Fatalf("released job = state %q attempt %d lease %v err %q", got.State, got.Attempt, got.Lease, got.LastError)
	}

	if j, _ := s.ClaimNextDue(ctx, claimOpts(Epoch.Add(time.Second))); j != nil {
		t.Fatal("job claimed before its new NotBefore")
	}
	again := mustClaim(t, s, claimOpts(Epoch.Add(2*time.Second)))
	if again.Attempt != 1 {
		t.Errorf("Attempt = %d, want 1", again.Attempt)
	}

	// Releasing twice under the same lease fails: the first release
	// cleared it.
	if err := s.ReleaseJob(ctx, next, claimed.Lease.ID); !errors.Is(err, courier.ErrLeaseLost) {
		t.Fatalf("second release = %v, want ErrLeaseLost", err)
	}
}

func testReleaseAfterDelete(t *testing.T, s store.Store) {
	ctx := context.Background()
	mustInsert(t, s, NewJob(queueA, "cancelled", Epoch))
	claimed := mustClaim(t, s, claimOpts(Epoch))

	if err := s.DeleteJob(ctx, queueA, "cancelled"); err != nil {
		t.Fatalf("DeleteJob during lease: %v", err)
	}

	next := claimed.Clone()
	next.State = job.StatePending
	if err := s.ReleaseJob(ctx, next, claimed.Lease.ID); !errors.Is(err, courier.ErrJobNotFound) {
		t.Fatalf("release after delete = %v, want ErrJobNotFound", err)
	}
	if err := s.CompleteJob(ctx, queueA, "cancelled", claimed.Lease.ID); !errors.Is(err, courier.ErrJobNotFound) {
		t.Fatalf("complete after delete = %v, want ErrJobNotFound", err)
	}
	if _, err := s.GetJob(ctx, queueA, "cancelled"); !errors.Is(err, courier.ErrJobNotFound) {
		t.Fatalf("deleted job resurrected: %v", err)
	}
	if err := s.DeleteJob(ctx, queueA, "cancelled"); !errors.Is(err, courier.ErrJobNotFound) {
		t.Fatalf("second delete = %v, want ErrJobNotFound", err)
	}
}

func testCompleteDeletes(t *testing.T, s store.Store) {
	ctx := context.Background()
	mustInsert(t, s, NewJob(queueA, "once", Epoch))
	claimed := mustClaim(t, s, claimOpts(Epoch))

	if err := s.CompleteJob(ctx, queueA, "once", claimed.Lease.ID); err != nil {
		t.Fatalf("CompleteJob: %v", err)
	}
	if _, err := s.GetJob(ctx, queueA, "once"); !errors.Is(err, courier.ErrJobNotFound) {
		t.Fatalf("GetJob after complete = %v, want ErrJobNotFound", err)
	}
}

func testFailedNeverClaimed(t *testing.T, s store.Store) {
	ctx := context.Background()
	mustInsert(t, s, NewJob(queueA, "doomed", Epoch))
	claimed := mustClaim(t, s, claimOpts(Epoch))

	failed := claimed.Clone()
	failed.State = job.StateFailed
	failed.LastError = "410 Gone"
	at := Epoch
	failed.FailedAt = &at
	if err := s.ReleaseJob(ctx, failed, claimed.Lease.ID); err != nil {
		t.Fatalf("ReleaseJob: %v", err)
	}

	if j, _ := s.ClaimNextDue(ctx, claimOpts(Epoch.Add(24*time.Hour))); j != nil {
		t.Fatalf("failed job %q was claimed", j.ID)
	}
	got, err := s.GetJob(ctx, queueA, "doomed")
	if err != nil {
		t.Fatalf("failed job should be retained: %v", err)
	}
	if got.State != job.StateFailed || got.FailedAt == nil {
		t.Errorf("State = %q FailedAt = %v", got.State, got.FailedAt)
	}
}

func testOverrideDropsLease(t *testing.T, s store.Store) {
	ctx := context.Background()
	mustInsert(t, s, NewJob(queueA, "replaced", Epoch))
	claimed := mustClaim(t, s, claimOpts(Epoch))

	if err := s.InsertJob(ctx, NewJob(queueA, "replaced", Epoch.Add(time.Hour)), true); err != nil {
		t.Fatalf("override: %v", err)
	}
	if err := s.CompleteJob(ctx, queueA, "replaced", claimed.Lease.ID); !errors.Is(err, courier.ErrLeaseLost) {
		t.Fatalf("complete after override = %v, want ErrLeaseLost", err)
	}
	if _, err := s.GetJob(ctx, queueA, "replaced"); err != nil {
		t.Fatalf("replacement lost: %v", err)
	}
}

func testListAndCount(t *testing.T, s store.Store) {
	ctx := context.Background()
	for i := range 5 {
		mustInsert(t, s, NewJob(queueA, fmt.Sprintf("job-%02d", i), Epoch.Add(time.Duration(i)*time.Hour)))
	}
	mustInsert(t, s, NewJob(queueB, "other", Epoch))
	mustClaim(t, s, claimOpts(Epoch))

	var (
		ids    []string
		cursor string
	)
	for range 10 {
		page, next, err := s.ListJobs(ctx, job.ListOpts{Queue: queueA, Cursor: cursor, Limit: 2})
		if err != nil {
			t.Fatalf("ListJobs: %v", err)
		}
		for _, j := range page {
			ids = append(ids, j.ID)
		}
		if next == "" {
			break
		}
		cursor = next
	}
	want := []string{"job-00", "job-01", "job-02", "job-03", "job-04"}
	if fmt.Sprint(ids) != fmt.Sprint(want) {
		t.Fatalf("paged IDs = %v, want %v", ids, want)
	}

	counts := []struct {
		opts job.CountOpts
		want int64
	}{
		{job.CountOpts{}, 6},
		{job.CountOpts{Queue: queueA}, 5},
		{job.CountOpts{State: job.StateLeased}, 1},
		{job.CountOpts{Queue: queueB, State: job.StatePending}, 1},
	}
	for _, c := range counts {
		got, err := s.CountJobs(ctx, c.opts)
		if err != nil {
			t.Fatalf("CountJobs(%+v): %v", c.opts, err)
		}
		if got != c.want {
			t.Errorf("CountJobs(%+v) = %d, want %d", c.opts, got, c.want)
		}
	}

	leased, _, err := s.ListJobs(ctx, job.ListOpts{State: job.StateLeased})
	if err != nil {
		t.Fatalf("ListJobs(leased): %v", err)
	}
	if len(leased) != 1 || leased[0].ID != "job-00" {
		t.Errorf("leased list = %d jobs", len(leased))
	}
}

// testListAcrossQueues pages one job at a time over every queue, where the
// same ID lives in two queues and must be returned from both.
func testListAcrossQueues(t *testing.T, s store.Store) {
	ctx := context.Background()
	mustInsert(t, s, NewJob(queueA, "a-first", Epoch))
	mustInsert(t, s, NewJob(queueA, "shared", Epoch))
	mustInsert(t, s, NewJob(queueB, "shared", Epoch))
	mustInsert(t, s, NewJob(queueB, "z-last", Epoch))

	var (
		got    []string
		cursor string
	)
	for range 10 {
		page, next, err := s.ListJobs(ctx, job.ListOpts{Cursor: cursor, Limit: 1})
		if err != nil {
			t.Fatalf("ListJobs: %v", err)
		}
		for _, j := range page {
			got = append(got, j.ID+"@"+j.Queue[:5])
		}
		if next == "" {
			break
		}
		cursor = next
	}
	want := []string{"a-first@tok_a", "shared@tok_a", "shared@tok_b", "z-last@tok_b"}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("paged jobs = %v, want %v", got, want)
	}
}

func testDLQ(t *testing.T, s store.Store) {
	ctx := context.Background()

	var ids []id.DLQID
	for i := range 3 {
		e := &dlq.Entry{
			ID:        id.NewDLQID(),
			JobID:     fmt.Sprintf("job-%d", i),
			Queue:     queueA,
			Payload:   []byte("p"),
			Schedule:  job.OneOff(),
			Error:     "boom",
			Attempt:   i,
			FailedAt:  Epoch.Add(time.Duration(i) * time.Hour),
			CreatedAt: Epoch,
		}
		if err := s.PushDLQ(ctx, e); err != nil {
			t.Fatalf("PushDLQ: %v", err)
		}
		ids = append(ids, e.ID)
	}

	first, next, err := s.ListDLQ(ctx, dlq.ListOpts{Limit: 2})
	if err != nil {
		t.Fatalf("ListDLQ: %v", err)
	}
	if len(first) != 2 || next == "" {
		t.Fatalf("first page = %d entries, cursor %q", len(first), next)
	}
	rest, next, err := s.ListDLQ(ctx, dlq.ListOpts{Limit: 2, Cursor: next})
	if err != nil {
		t.Fatalf("ListDLQ page 2: %v", err)
	}
	if len(rest) != 1 || next != "" || rest[0].ID.String() != ids[2].String() {
		t.Fatalf("second page = %d entries, cursor %q", len(rest), next)
	}

	got, err := s.GetDLQ(ctx, ids[1])
	if err != nil {
		t.Fatalf("GetDLQ: %v", err)
	}
	if got.JobID != "job-1" || got.Attempt != 1 || got.ReplayedAt != nil {
		t.Errorf("entry = %+v", got)
	}

	if err := s.ReplayDLQ(ctx, ids[1], Epoch.Add(time.Hour)); err != nil {
		t.Fatalf("ReplayDLQ: %v", err)
	}
	got, _ = s.GetDLQ(ctx, ids[1])
	if got.ReplayedAt == nil || !got.ReplayedAt.Equal(Epoch.Add(time.Hour)) {
		t.Errorf("ReplayedAt = %v", got.ReplayedAt)
	}

	if _, err := s.GetDLQ(ctx, id.NewDLQID()); !errors.Is(err, courier.ErrDLQNotFound) {
		t.Errorf("GetDLQ(unknown) = %v, want ErrDLQNotFound", err)
	}
	if err := s.ReplayDLQ(ctx, id.NewDLQID(), Epoch); !errors.Is(err, courier.ErrDLQNotFound) {
		t.Errorf("ReplayDLQ(unknown) = %v, want ErrDLQNotFound", err)
	}

	purged, err := s.PurgeDLQ(ctx, Epoch.Add(90*time.Minute))
	if err != nil {
		t.Fatalf("PurgeDLQ: %v", err)
	}
	if purged != 2 {
		t.Errorf("purged %d, want 2", purged)
	}
	if n, _ := s.CountDLQ(ctx); n != 1 {
		t.Errorf("CountDLQ = %d, want 1", n)
	}
}

func testWorkers(t *testing.T, s store.Store) {
	ctx := context.Background()
	// Worker timestamps come from the caller's clock, so a fixed instant far
	// from the wall clock must behave the same as time.Now.
	now := Epoch
	alive := &cluster.Worker{
		ID: id.NewWorkerID(), Hostname: "a", Concurrency: 4,
		State: cluster.WorkerActive, LastSeen: now, CreatedAt: now,
	}
	dead := &cluster.Worker{
		ID: id.NewWorkerID(), Hostname: "b", Concurrency: 4,
		State: cluster.WorkerActive, LastSeen: now.Add(-time.Hour), CreatedAt: now.Add(-2 * time.Hour),
	}
	for _, w := range []*cluster.Worker{alive, dead} {
		if err := s.RegisterWorker(ctx, w); err != nil {
			t.Fatalf("RegisterWorker: %v", err)
		}
	}
	if err := s.HeartbeatWorker(ctx, alive.ID, now.Add(time.Minute)); err != nil {
		t.Fatalf("HeartbeatWorker: %v", err)
	}

	reaped, err := s.ReapDeadWorkers(ctx, now.Add(-5*time.Minute))
	if err != nil {
		t.Fatalf("ReapDeadWorkers: %v", err)
	}
	if len(reaped) != 1 || reaped[0].ID.String() != dead.ID.String() {
		t.Fatalf("reaped %d workers", len(reaped))
	}

	workers, err := s.ListWorkers(ctx)
	if err != nil {
		t.Fatalf("ListWorkers: %v", err)
	}
	if len(workers) != 1 || workers[0].Hostname != "a" {
		t.Fatalf("workers = %d", len(workers))
	}

	alive.State = cluster.WorkerDraining
	if err := s.RegisterWorker(ctx, alive); err != nil {
		t.Fatalf("re-register: %v", err)
	}
	workers, _ = s.ListWorkers(ctx)
	if len(workers) != 1 || workers[0].State != cluster.WorkerDraining {
		t.Fatalf("state after re-register = %+v", workers)
	}

	if err := s.DeregisterWorker(ctx, alive.ID); err != nil {
		t.Fatalf("DeregisterWorker: %v", err)
	}
	if err := s.HeartbeatWorker(ctx, alive.ID, now); !errors.Is(err, courier.ErrWorkerNotFound) {
		t.Fatalf("heartbeat after deregister = %v, want ErrWorkerNotFound", err)
	}
}
