package dlq

import (
	"context"
	"errors"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/xraph/courier"
	"github.com/xraph/courier/id"
	"github.com/xraph/courier/job"
)

// Option configures a Service.
type Option func(*Service)

// WithClock sets the clock used for FailedAt and ReplayedAt.
func WithClock(c clockwork.Clock) Option {
	return func(s *Service) { s.clock = c }
}

// Service provides high-level DLQ operations over a Store.
type Service struct {
	store    Store
	jobStore job.Store
	clock    clockwork.Clock
}

// NewService creates a DLQ service.
func NewService(store Store, jobStore job.Store, opts ...Option) *Service {
	s := &Service{store: store, jobStore: jobStore, clock: clockwork.NewRealClock()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Push builds a DLQ Entry from a failed job and persists it.
func (s *Service) Push(ctx context.Context, j *job.Job, cause error) (*Entry, error) {
	now := s.clock.Now().UTC()
	msg := j.LastError
	if cause != nil {
		msg = cause.Error()
	}
	entry := &Entry{
		ID:        id.NewDLQID(),
		JobID:     j.ID,
		Queue:     j.Queue,
		Payload:   j.Payload,
		Schedule:  j.Schedule,
		Retry:     j.Retry,
		Error:     msg,
		Attempt:   j.Attempt,
		FailedAt:  now,
		CreatedAt: now,
	}
	if err := s.store.PushDLQ(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// DLQStore returns the underlying DLQ store for direct access
// to List, Get, Purge, and Count operations.
func (s *Service) DLQStore() Store {
	return s.store
}

// Get retrieves an entry by ID.
func (s *Service) Get(ctx context.Context, entryID id.DLQID) (*Entry, error) {
	return s.store.GetDLQ(ctx, entryID)
}

// List returns a page of entries.
func (s *Service) List(ctx context.Context, opts ListOpts) ([]*Entry, string, error) {
	return s.store.ListDLQ(ctx, opts)
}

// ──────────────────────────────────────────────────
// Replay
// ──────────────────────────────────────────────────

// Replay puts a dead-lettered job back into its queue under its original
// ID, due immediately with a fresh retry budget, and marks the entry as
// replayed. The failed record, or any job the tenant has since created
// under that ID, is replaced.
//
// A recurring job restarts its schedule from now rather than from the
// occurrence that failed, so that a late replay does not trigger a burst
// of catch-up deliveries.
func (s *Service) Replay(ctx context.Context, entryID id.DLQID) (*job.Job, error) {
	entry, err := s.store.GetDLQ(ctx, entryID)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now().UTC()
	j := &job.Job{
		Entity:       courier.Entity{CreatedAt: now, UpdatedAt: now},
		ID:           entry.JobID,
		Queue:        entry.Queue,
		Payload:      entry.Payload,
		State:        job.StatePending,
		Schedule:     entry.Schedule,
		Retry:        entry.Retry,
		NotBefore:    now,
		ScheduledFor: now,
	}

	if err := s.jobStore.InsertJob(ctx, j, true); err != nil {
		return nil, err
	}

	if err := s.store.ReplayDLQ(ctx, entryID, now); err != nil {
		// The job is already back in its queue; report the bookkeeping
		// failure alongside it.
		return j, err
	}

	return j, nil
}

// Purge removes entries that failed more than olderThan ago and returns
// how many were removed.
func (s *Service) Purge(ctx context.Context, olderThan time.Duration) (int64, error) {
	return s.store.PurgeDLQ(ctx, s.clock.Now().UTC().Add(-olderThan))
}

// IsNotFound reports whether err means the entry does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, courier.ErrDLQNotFound)
}
