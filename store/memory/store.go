// Package memory implements store.Store in process memory. It is safe for
// concurrent access and intended for unit testing and development; nothing
// survives a restart.
package memory

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/xraph/courier"
	"github.com/xraph/courier/cluster"
	"github.com/xraph/courier/dlq"
	"github.com/xraph/courier/id"
	"github.com/xraph/courier/job"
)

var (
	_ job.Store     = (*Store)(nil)
	_ dlq.Store     = (*Store)(nil)
	_ cluster.Store = (*Store)(nil)
)

// Store keeps everything in maps behind one RWMutex. It is meant for
// tests and single-process development.
type Store struct {
	mu sync.RWMutex

	jobs    map[string]*job.Job // key: queue + "\x00" + id
	dlqs    map[string]*dlq.Entry
	workers map[string]*cluster.Worker
}

func New() *Store {
	return &Store{
		jobs:    make(map[string]*job.Job),
		dlqs:    make(map[string]*dlq.Entry),
		workers: make(map[string]*cluster.Worker),
	}
}

func jobKey(queue, jobID string) string { return queue + "\x00" + jobID }

// ──────────────────────────────────────────────────
// Lifecycle
// ──────────────────────────────────────────────────

// Migrate has nothing to do.
func (m *Store) Migrate(_ context.Context) error { return nil }

func (m *Store) Ping(_ context.Context) error { return nil }

func (m *Store) Close() error { return nil }

// ──────────────────────────────────────────────────
// Job Store
// ──────────────────────────────────────────────────

// InsertJob persists a new job.
func (m *Store) InsertJob(_ context.Context, j *job.Job, override bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := jobKey(j.Queue, j.ID)
	if _, exists := m.jobs[key]; exists && !override {
		return courier.ErrJobAlreadyExists
	}
	m.jobs[key] = j.Clone()
	return nil
}

// ClaimNextDue claims the claimable job with the earliest NotBefore.
func (m *Store) ClaimNextDue(_ context.Context, opts job.ClaimOpts) (*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var next *job.Job
	for _, j := range m.jobs {
		if len(opts.Queues) > 0 && !slices.Contains(opts.Queues, j.Queue) {
			continue
		}
		if !j.Claimable(opts.Now) {
			continue
		}
		if next == nil || j.NotBefore.Before(next.NotBefore) ||
			(j.NotBefore.Equal(next.NotBefore) && j.ID < next.ID) {
			next = j
		}
	}
	if next == nil {
		return nil, nil //nolint:nilnil // nothing due
	}

	next.State = job.StateLeased
	next.Lease = &job.Lease{
		ID:        id.NewLeaseID(),
		JobID:     next.ID,
		Holder:    opts.Holder,
		ExpiresAt: opts.Now.Add(opts.TTL),
	}
	next.UpdatedAt = opts.Now
	return next.Clone(), nil
}

// checkLease returns the stored job when leaseID still fences it.
func (m *Store) checkLease(queue, jobID string, leaseID id.ID) (*job.Job, error) {
	stored, ok := m.jobs[jobKey(queue, jobID)]
	if !ok {
		return nil, courier.ErrJobNotFound
	}
	if stored.Lease == nil || stored.Lease.ID.String() != leaseID.String() {
		return nil, courier.ErrLeaseLost
	}
	return stored, nil
}

// ReleaseJob replaces the stored record under the lease.
func (m *Store) ReleaseJob(_ context.Context, j *job.Job, leaseID id.ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, err := m.checkLease(j.Queue, j.ID, leaseID); err != nil {
		return err
	}
	cp := j.Clone()
	cp.Lease = nil
	m.jobs[jobKey(j.Queue, j.ID)] = cp
	return nil
}

// CompleteJob deletes the job under the lease.
func (m *Store) CompleteJob(_ context.Context, queue, jobID string, leaseID id.ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, err := m.checkLease(queue, jobID, leaseID); err != nil {
		return err
	}
	delete(m.jobs, jobKey(queue, jobID))
	return nil
}

// GetJob retrieves a job by key.
func (m *Store) GetJob(_ context.Context, queue, jobID string) (*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	j, ok := m.jobs[jobKey(queue, jobID)]
	if !ok {
		return nil, courier.ErrJobNotFound
	}
	return j.Clone(), nil
}

// DeleteJob removes a job regardless of any lease on it.
func (m *Store) DeleteJob(_ context.Context, queue, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := jobKey(queue, jobID)
	if _, ok := m.jobs[key]; !ok {
		return courier.ErrJobNotFound
	}
	delete(m.jobs, key)
	return nil
}

// ListJobs returns a page of jobs ordered by ID, then queue.
func (m *Store) ListJobs(_ context.Context, opts job.ListOpts) ([]*job.Job, string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	afterID, afterQueue := opts.Cursor, opts.Queue
	if opts.Queue == "" && opts.Cursor != "" {
		afterID, afterQueue = job.DecodeCursor(opts.Cursor)
	}

	result := make([]*job.Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		if !matchJob(j, opts.Queue, opts.State) {
			continue
		}
		if opts.Cursor != "" && compareJob(j.ID, j.Queue, afterID, afterQueue) <= 0 {
			continue
		}
		result = append(result, j.Clone())
	}

	slices.SortFunc(result, func(a, b *job.Job) int {
		return compareJob(a.ID, a.Queue, b.ID, b.Queue)
	})

	return page(result, opts.Limit, func(j *job.Job) string {
		if opts.Queue != "" {
			return j.ID
		}
		return job.EncodeCursor(j.ID, j.Queue)
	})
}

func compareJob(aID, aQueue, bID, bQueue string) int {
	if c := strings.Compare(aID, bID); c != 0 {
		return c
	}
	return strings.Compare(aQueue, bQueue)
}

func (m *Store) CountJobs(_ context.Context, opts job.CountOpts) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var count int64
	for _, j := range m.jobs {
		if matchJob(j, opts.Queue, opts.State) {
			count++
		}
	}
	return count, nil
}

func matchJob(j *job.Job, queue string, state job.State) bool {
	if queue != "" && j.Queue != queue {
		return false
	}
	return state == "" || j.State == state
}

// page trims a sorted slice to limit and returns the cursor for the next
// page, empty when nothing follows.
func page[T any](items []T, limit int, key func(T) string) ([]T, string, error) {
	if limit <= 0 || len(items) <= limit {
		return items, "", nil
	}
	items = items[:limit]
	return items, key(items[limit-1]), nil
}

// ──────────────────────────────────────────────────
// DLQ Store
// ──────────────────────────────────────────────────

func (m *Store) PushDLQ(_ context.Context, entry *dlq.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *entry
	m.dlqs[entry.ID.String()] = &cp
	return nil
}

// ListDLQ returns a page of entries ordered by ID.
func (m *Store) ListDLQ(_ context.Context, opts dlq.ListOpts) ([]*dlq.Entry, string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*dlq.Entry, 0, len(m.dlqs))
	for key, e := range m.dlqs {
		if opts.Queue != "" && e.Queue != opts.Queue {
			continue
		}
		if opts.Cursor != "" && key <= opts.Cursor {
			continue
		}
		cp := *e
		result = append(result, &cp)
	}

	slices.SortFunc(result, func(a, b *dlq.Entry) int {
		return strings.Compare(a.ID.String(), b.ID.String())
	})

	return page(result, opts.Limit, func(e *dlq.Entry) string { return e.ID.String() })
}

func (m *Store) GetDLQ(_ context.Context, entryID id.DLQID) (*dlq.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.dlqs[entryID.String()]
	if !ok {
		return nil, courier.ErrDLQNotFound
	}
	cp := *e
	return &cp, nil
}

// ReplayDLQ stamps ReplayedAt; the entry itself stays.
func (m *Store) ReplayDLQ(_ context.Context, entryID id.DLQID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.dlqs[entryID.String()]
	if !ok {
		return courier.ErrDLQNotFound
	}
	at = at.UTC()
	e.ReplayedAt = &at
	return nil
}

// PurgeDLQ drops entries that failed strictly before before.
func (m *Store) PurgeDLQ(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var count int64
	for key, e := range m.dlqs {
		if e.FailedAt.Before(before) {
			delete(m.dlqs, key)
			count++
		}
	}
	return count, nil
}

func (m *Store) CountDLQ(_ context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return int64(len(m.dlqs)), nil
}

// ──────────────────────────────────────────────────
// Cluster Store
// ──────────────────────────────────────────────────

// RegisterWorker adds or replaces a worker in the registry.
func (m *Store) RegisterWorker(_ context.Context, w *cluster.Worker) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *w
	m.workers[w.ID.String()] = &cp
	return nil
}

// DeregisterWorker removes a worker from the registry.
func (m *Store) DeregisterWorker(_ context.Context, workerID id.WorkerID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := workerID.String()
	if _, ok := m.workers[key]; !ok {
		return courier.ErrWorkerNotFound
	}
	delete(m.workers, key)
	return nil
}

// HeartbeatWorker refreshes LastSeen for a registered worker.
func (m *Store) HeartbeatWorker(_ context.Context, workerID id.WorkerID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.workers[workerID.String()]
	if !ok {
		return courier.ErrWorkerNotFound
	}
	w.LastSeen = at.UTC()
	return nil
}

// ListWorkers returns copies ordered by CreatedAt.
func (m *Store) ListWorkers(_ context.Context) ([]*cluster.Worker, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*cluster.Worker, 0, len(m.workers))
	for _, w := range m.workers {
		cp := *w
		result = append(result, &cp)
	}

	slices.SortFunc(result, func(a, b *cluster.Worker) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})

	return result, nil
}

// ReapDeadWorkers removes and returns workers last seen before cutoff.
func (m *Store) ReapDeadWorkers(_ context.Context, cutoff time.Time) ([]*cluster.Worker, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var dead []*cluster.Worker
	for key, w := range m.workers {
		if w.LastSeen.Before(cutoff) {
			dead = append(dead, w)
			delete(m.workers, key)
		}
	}
	return dead, nil
}
