// Package dispatcher is the scheduling state machine: a Pool of polling
// slots claims due jobs under a lease and an Executor delivers each one,
// then completes, retries, dead-letters or re-arms it.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/xraph/courier"
	"github.com/xraph/courier/delivery"
	"github.com/xraph/courier/dlq"
	"github.com/xraph/courier/ext"
	"github.com/xraph/courier/job"
	"github.com/xraph/courier/middleware"
	"github.com/xraph/courier/schedule"
)

// Deliverer performs one delivery attempt. *delivery.Client implements it.
type Deliverer interface {
	Deliver(ctx context.Context, j *job.Job) error
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithMiddleware sets the middleware chain wrapped around every delivery.
func WithMiddleware(mws ...middleware.Middleware) ExecutorOption {
	return func(e *Executor) { e.mw = middleware.Chain(mws...) }
}

// WithExecutorClock sets the clock used for retry and failure timestamps.
func WithExecutorClock(c clockwork.Clock) ExecutorOption {
	return func(e *Executor) { e.clock = c }
}

// Executor delivers a single leased job and applies the outcome to the
// store: complete, retry with backoff, fail to the DLQ, or re-arm.
type Executor struct {
	store      job.Store
	deliverer  Deliverer
	dlqService *dlq.Service
	extensions *ext.Registry
	mw         middleware.Middleware
	clock      clockwork.Clock
	logger     *slog.Logger
}

// NewExecutor creates an Executor with the given dependencies.
func NewExecutor(
	store job.Store,
	deliverer Deliverer,
	dlqService *dlq.Service,
	extensions *ext.Registry,
	logger *slog.Logger,
	opts ...ExecutorOption,
) *Executor {
	e := &Executor{
		store:      store,
		deliverer:  deliverer,
		dlqService: dlqService,
		extensions: extensions,
		mw:         middleware.Chain(),
		clock:      clockwork.NewRealClock(),
		logger:     logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute delivers j, which must carry the lease returned by its claim.
//
// Losing the lease or finding the job deleted while applying the outcome is
// not an error: another worker owns the job now, or the tenant removed it.
// Execute returns the delivery error on failure outcomes so callers can log
// it, and store errors as-is.
func (e *Executor) Execute(ctx context.Context, j *job.Job) error {
	if j.Lease == nil {
		return fmt.Errorf("dispatcher: job %s has no lease", j.ID)
	}
	leaseID := j.Lease.ID

	start := e.clock.Now()
	err := e.mw(ctx, j, func(ctx context.Context) error {
		return e.deliverer.Deliver(ctx, j)
	})
	elapsed := e.clock.Since(start)

	// Outcome bookkeeping must survive a cancelled delivery context.
	storeCtx := context.WithoutCancel(ctx)

	if err != nil && errors.Is(context.Cause(ctx), ErrPoolStopping) {
		return e.handBack(storeCtx, j, leaseID)
	}

	switch delivery.OutcomeOf(err) {
	case delivery.Success:
		return e.handleSuccess(storeCtx, j, leaseID, elapsed)
	case delivery.NonRetryableFailure:
		return e.fail(storeCtx, j, leaseID, err)
	default:
		if j.Attempt < j.Retry.MaxRetries {
			return e.scheduleRetry(storeCtx, j, leaseID, err)
		}
		return e.fail(storeCtx, j, leaseID, fmt.Errorf("%w after %d attempts: %w",
			courier.ErrRetryBudgetExhausted, j.Attempt+1, err))
	}
}

// handleSuccess deletes a one-off job or re-arms a recurring one.
func (e *Executor) handleSuccess(ctx context.Context, j *job.Job, leaseID courier.ID, elapsed time.Duration) error {
	e.extensions.EmitJobDelivered(ctx, j, elapsed)

	if !j.IsCron() {
		err := e.store.CompleteJob(ctx, j.Queue, j.ID, leaseID)
		return e.settle(j, "complete", err)
	}

	// The next occurrence follows the intended one, not the wall clock, so
	// slow deliveries do not drift the schedule.
	next, err := schedule.Next(j.Schedule.Expression, j.Schedule.Timezone, j.ScheduledFor)
	if err != nil {
		// The expression was valid at creation; a zone database change is
		// the only way here. Park the job rather than spin on it.
		return e.fail(ctx, j, leaseID, err)
	}

	now := e.clock.Now().UTC()
	j.Attempt = 0
	j.NotBefore = next
	j.ScheduledFor = next
	j.State = job.StatePending
	j.LastError = ""
	j.UpdatedAt = now

	if err := e.settle(j, "re-arm", e.store.ReleaseJob(ctx, j, leaseID)); err != nil || j.State == "" {
		return err
	}

	e.extensions.EmitJobRearmed(ctx, j, next)
	e.logger.Debug("cron job re-armed",
		slog.String("job_id", j.ID),
		slog.Time("next", next),
	)
	return nil
}

// handBack releases a job whose delivery was cut short by a pool shutdown.
// The receiver never answered, so the attempt is not counted and the job is
// due again at once.
func (e *Executor) handBack(ctx context.Context, j *job.Job, leaseID courier.ID) error {
	j.State = job.StatePending
	j.NotBefore = e.clock.Now().UTC()
	j.UpdatedAt = j.NotBefore

	if err := e.settle(j, "hand back", e.store.ReleaseJob(ctx, j, leaseID)); err != nil {
		return err
	}
	e.logger.Info("interrupted delivery handed back",
		slog.String("job_id", j.ID),
		slog.Int("attempt", j.Attempt),
	)
	return nil
}

// scheduleRetry returns the job to pending after the backoff for its
// current attempt.
func (e *Executor) scheduleRetry(ctx context.Context, j *job.Job, leaseID courier.ID, deliveryErr error) error {
	now := e.clock.Now().UTC()
	delay := j.Retry.Backoff.Strategy().Delay(j.Attempt)

	j.Attempt++
	j.NotBefore = now.Add(delay)
	j.State = job.StatePending
	j.LastError = deliveryErr.Error()
	j.UpdatedAt = now

	if err := e.settle(j, "retry", e.store.ReleaseJob(ctx, j, leaseID)); err != nil || j.State == "" {
		return err
	}

	e.extensions.EmitJobRetrying(ctx, j, j.Attempt, j.NotBefore)

	e.logger.Info("delivery scheduled for retry",
		slog.String("job_id", j.ID),
		slog.Int("attempt", j.Attempt),
		slog.Int("max_retries", j.Retry.MaxRetries),
		slog.Duration("delay", delay),
	)

	return fmt.Errorf("job %s retry %d/%d: %w", j.ID, j.Attempt, j.Retry.MaxRetries, deliveryErr)
}

// fail marks the job failed, keeps it for inspection and pushes a DLQ entry.
func (e *Executor) fail(ctx context.Context, j *job.Job, leaseID courier.ID, cause error) error {
	now := e.clock.Now().UTC()
	j.State = job.StateFailed
	j.LastError = cause.Error()
	j.FailedAt = &now
	j.UpdatedAt = now

	if err := e.settle(j, "fail", e.store.ReleaseJob(ctx, j, leaseID)); err != nil || j.State == "" {
		return err
	}

	if e.dlqService != nil {
		if _, dlqErr := e.dlqService.Push(ctx, j, cause); dlqErr != nil {
			e.logger.Error("failed to push job to DLQ",
				slog.String("job_id", j.ID),
				slog.String("error", dlqErr.Error()),
			)
		}
	}

	e.extensions.EmitJobFailed(ctx, j, cause)
	e.extensions.EmitJobDLQ(ctx, j, cause)

	e.logger.Warn("job moved to DLQ",
		slog.String("job_id", j.ID),
		slog.Int("attempt", j.Attempt),
		slog.String("error", cause.Error()),
	)

	return cause
}

// settle interprets the store result of applying an outcome. A deleted job
// or a lost lease is logged and swallowed; j.State is cleared so callers can
// tell the outcome was dropped.
func (e *Executor) settle(j *job.Job, op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, courier.ErrJobNotFound):
		e.logger.Info("job deleted during delivery, outcome dropped",
			slog.String("job_id", j.ID),
			slog.String("op", op),
		)
	case errors.Is(err, courier.ErrLeaseLost):
		e.logger.Warn("lease lost during delivery, outcome dropped",
			slog.String("job_id", j.ID),
			slog.String("op", op),
		)
	default:
		e.logger.Error("failed to apply delivery outcome",
			slog.String("job_id", j.ID),
			slog.String("op", op),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("dispatcher: %s job %s: %w", op, j.ID, err)
	}
	j.State = ""
	return nil
}
