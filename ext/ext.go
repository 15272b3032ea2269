// Package ext defines the extension system for Courier.
// Extensions are notified of job lifecycle events (enqueued, leased,
// delivered, retried, failed, re-armed) and can react to them.
//
// Each lifecycle hook is a separate interface so extensions opt in only
// to the events they care about.
package ext

import (
	"context"
	"time"

	"github.com/xraph/courier/job"
)

// Extension is the base interface all extensions must implement.
type Extension interface {
	// Name returns a unique human-readable name for the extension.
	Name() string
}

// ──────────────────────────────────────────────────
// Job lifecycle hooks
// ──────────────────────────────────────────────────

// JobEnqueued is called after a job is created through the engine.
type JobEnqueued interface {
	OnJobEnqueued(ctx context.Context, j *job.Job) error
}

// JobLeased is called when a worker claims a job and is about to deliver.
type JobLeased interface {
	OnJobLeased(ctx context.Context, j *job.Job) error
}

// JobDelivered is called after the endpoint acknowledged a delivery.
type JobDelivered interface {
	OnJobDelivered(ctx context.Context, j *job.Job, elapsed time.Duration) error
}

// JobRetrying is called when a delivery failed and will be retried.
type JobRetrying interface {
	OnJobRetrying(ctx context.Context, j *job.Job, attempt int, nextRunAt time.Time) error
}

// JobFailed is called when a job fails terminally.
type JobFailed interface {
	OnJobFailed(ctx context.Context, j *job.Job, err error) error
}

// JobDLQ is called when a job is moved to the dead letter queue.
type JobDLQ interface {
	OnJobDLQ(ctx context.Context, j *job.Job, err error) error
}

// JobRearmed is called when a recurring job is rescheduled to its next
// occurrence.
type JobRearmed interface {
	OnJobRearmed(ctx context.Context, j *job.Job, next time.Time) error
}

// ──────────────────────────────────────────────────
// Other lifecycle hooks
// ──────────────────────────────────────────────────

// Shutdown is called during graceful shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
