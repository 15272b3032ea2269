package dispatcher

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/xraph/courier/cluster"
	"github.com/xraph/courier/ext"
	"github.com/xraph/courier/id"
	"github.com/xraph/courier/job"
)

// QueueManager gates deliveries per queue and per tenant. The pool calls
// Acquire after claiming a job and Release once its delivery ends.
type QueueManager interface {
	Acquire(queue string) bool
	Release(queue string)
}

// Pool runs a set of polling slots. Each slot claims one due job at a time
// and hands it to the Executor.
type Pool struct {
	store        job.Store
	executor     *Executor
	extensions   *ext.Registry
	concurrency  int
	queues       []string
	pollInterval time.Duration
	leaseTTL     time.Duration
	workerID     id.WorkerID
	startedAt    time.Time
	clock        clockwork.Clock
	logger       *slog.Logger

	// Worker registry (optional).
	workers           cluster.Store
	heartbeatInterval time.Duration
	deadWorkerAfter   time.Duration

	// Queue manager (optional).
	queueManager QueueManager

	stopCh     chan struct{}
	wg         sync.WaitGroup
	mu         sync.Mutex
	running    bool
	activeJobs map[string]context.CancelCauseFunc
	activeMu   sync.Mutex
}

// ErrPoolStopping is the cancellation cause of deliveries interrupted by
// Stop. The Executor hands such jobs back to the queue untouched.
var ErrPoolStopping = errors.New("dispatcher: pool stopping")

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithPoolConcurrency sets the number of polling slots.
func WithPoolConcurrency(n int) PoolOption {
	return func(p *Pool) { p.concurrency = n }
}

// WithPoolQueues restricts claiming to the given encoded queues. Empty
// means every queue.
func WithPoolQueues(queues []string) PoolOption {
	return func(p *Pool) { p.queues = queues }
}

// WithPollInterval sets how long an idle slot sleeps between claims.
func WithPollInterval(d time.Duration) PoolOption {
	return func(p *Pool) { p.pollInterval = d }
}

// WithLeaseTTL sets the lease duration requested on each claim.
func WithLeaseTTL(d time.Duration) PoolOption {
	return func(p *Pool) { p.leaseTTL = d }
}

// WithPoolClock sets the clock used for claims and idle sleeps.
func WithPoolClock(c clockwork.Clock) PoolOption {
	return func(p *Pool) { p.clock = c }
}

// WithWorkerRegistry registers the pool in s while it runs and heartbeats
// every interval. Workers silent for longer than deadAfter are reaped from
// the registry; their jobs recover through lease expiry, not the reaper.
func WithWorkerRegistry(s cluster.Store, interval, deadAfter time.Duration) PoolOption {
	return func(p *Pool) {
		p.workers = s
		p.heartbeatInterval = interval
		p.deadWorkerAfter = deadAfter
	}
}

// WithQueueManager sets the queue manager for rate limiting and
// concurrency control.
func WithQueueManager(m QueueManager) PoolOption {
	return func(p *Pool) { p.queueManager = m }
}

// NewPool creates a worker pool.
func NewPool(
	store job.Store,
	executor *Executor,
	extensions *ext.Registry,
	logger *slog.Logger,
	opts ...PoolOption,
) *Pool {
	p := &Pool{
		store:        store,
		executor:     executor,
		extensions:   extensions,
		concurrency:  10,
		pollInterval: time.Second,
		leaseTTL:     60 * time.Second,
		workerID:     id.NewWorkerID(),
		clock:        clockwork.NewRealClock(),
		logger:       logger,
		stopCh:       make(chan struct{}),
		activeJobs:   make(map[string]context.CancelCauseFunc),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// WorkerID returns the pool's unique worker identifier. It is the holder
// recorded on every lease the pool takes.
func (p *Pool) WorkerID() id.WorkerID { return p.workerID }

// Start launches the polling slots. It returns immediately.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}
	p.running = true
	p.startedAt = p.clock.Now().UTC()

	p.logger.Info("worker pool starting",
		slog.String("worker_id", p.workerID.String()),
		slog.Int("concurrency", p.concurrency),
		slog.Int("queues", len(p.queues)),
	)

	if p.workers != nil {
		p.register(ctx, cluster.WorkerActive)
		if p.heartbeatInterval > 0 {
			p.wg.Add(1)
			go p.heartbeatLoop()
		}
	}

	for range p.concurrency {
		p.wg.Add(1)
		go p.claimLoop()
	}

	return nil
}

// Stop signals all slots to stop claiming and waits for in-flight
// deliveries. If ctx ends first, those deliveries are cancelled with
// ErrPoolStopping and their jobs go back to pending without spending an
// attempt.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	p.mu.Unlock()

	p.logger.Info("worker pool stopping", slog.String("worker_id", p.workerID.String()))

	if p.workers != nil {
		p.register(ctx, cluster.WorkerDraining)
	}

	close(p.stopCh)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped gracefully")
	case <-ctx.Done():
		p.logger.Warn("worker pool shutdown timed out, cancelling active deliveries")
		p.cancelActiveJobs()
		<-done
	}

	if p.workers != nil {
		if err := p.workers.DeregisterWorker(context.WithoutCancel(ctx), p.workerID); err != nil {
			p.logger.Warn("deregister worker failed", slog.String("error", err.Error()))
		}
	}

	return nil
}

// claimLoop is run by each polling slot.
func (p *Pool) claimLoop() {
	defer p.wg.Done()

	for {
		select {
		case <-p.stopCh:
			return
		default:
		}

		j, err := p.store.ClaimNextDue(context.Background(), job.ClaimOpts{
			Queues: p.queues,
			Holder: p.workerID,
			Now:    p.clock.Now().UTC(),
			TTL:    p.leaseTTL,
		})
		if err != nil {
			// Nothing in memory is authoritative; keep polling until the
			// store comes back.
			p.logger.Error("claim error", slog.String("error", err.Error()))
			p.sleep()
			continue
		}

		if j == nil {
			p.sleep()
			continue
		}

		if p.queueManager != nil && !p.queueManager.Acquire(j.Queue) {
			p.throttle(j)
			p.sleep()
			continue
		}

		p.run(j)

		if p.queueManager != nil {
			p.queueManager.Release(j.Queue)
		}
	}
}

// run delivers one claimed job under a cancellable context.
func (p *Pool) run(j *job.Job) {
	p.extensions.EmitJobLeased(context.Background(), j)

	ctx, cancel := context.WithCancelCause(context.Background())
	defer cancel(nil)

	key := j.Lease.ID.String()
	p.trackJob(key, cancel)
	defer p.untrackJob(key)

	if err := p.executor.Execute(ctx, j); err != nil {
		p.logger.Debug("job execution failed",
			slog.String("job_id", j.ID),
			slog.String("error", err.Error()),
		)
	}
}

// throttle returns a rate-limited job to pending without spending an
// attempt.
func (p *Pool) throttle(j *job.Job) {
	leaseID := j.Lease.ID
	j.State = job.StatePending
	j.NotBefore = p.clock.Now().UTC().Add(p.pollInterval)

	if err := p.store.ReleaseJob(context.Background(), j, leaseID); err != nil {
		p.logger.Warn("failed to release rate-limited job",
			slog.String("job_id", j.ID),
			slog.String("error", err.Error()),
		)
	}
}

// heartbeatLoop keeps the pool's registry entry fresh and reaps silent
// workers.
func (p *Pool) heartbeatLoop() {
	defer p.wg.Done()

	ticker := p.clock.NewTicker(p.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.Chan():
			p.heartbeat()
		}
	}
}

func (p *Pool) heartbeat() {
	ctx := context.Background()
	now := p.clock.Now().UTC()
	if err := p.workers.HeartbeatWorker(ctx, p.workerID, now); err != nil {
		// The entry may have been reaped during a long pause.
		p.logger.Warn("heartbeat failed, re-registering", slog.String("error", err.Error()))
		p.register(ctx, cluster.WorkerActive)
	}

	if p.deadWorkerAfter <= 0 {
		return
	}
	dead, err := p.workers.ReapDeadWorkers(ctx, now.Add(-p.deadWorkerAfter))
	if err != nil {
		p.logger.Error("reap dead workers error", slog.String("error", err.Error()))
		return
	}
	for _, w := range dead {
		p.logger.Info("reaped dead worker",
			slog.String("worker_id", w.ID.String()),
			slog.String("hostname", w.Hostname),
		)
	}
}

func (p *Pool) register(ctx context.Context, state cluster.WorkerState) {
	hostname, _ := os.Hostname()
	now := p.clock.Now().UTC()
	w := &cluster.Worker{
		ID:          p.workerID,
		Hostname:    hostname,
		Queues:      p.queues,
		Concurrency: p.concurrency,
		State:       state,
		LastSeen:    now,
		CreatedAt:   p.startedAt,
	}
	if err := p.workers.RegisterWorker(context.WithoutCancel(ctx), w); err != nil {
		p.logger.Warn("register worker failed", slog.String("error", err.Error()))
	}
}

func (p *Pool) sleep() {
	select {
	case <-p.clock.After(p.pollInterval):
	case <-p.stopCh:
	}
}

func (p *Pool) trackJob(key string, cancel context.CancelCauseFunc) {
	p.activeMu.Lock()
	p.activeJobs[key] = cancel
	p.activeMu.Unlock()
}

func (p *Pool) untrackJob(key string) {
	p.activeMu.Lock()
	delete(p.activeJobs, key)
	p.activeMu.Unlock()
}

func (p *Pool) cancelActiveJobs() {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	for key, cancel := range p.activeJobs {
		p.logger.Warn("cancelling active delivery", slog.String("lease_id", key))
		cancel(ErrPoolStopping)
	}
}
