package ext

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/courier/job"
)

// entry pairs a hook implementation with the extension name captured at
// registration time.
type entry[H any] struct {
	name string
	hook H
}

// Registry fans job lifecycle events out to extensions. Each extension is
// sorted into per-hook lists when it registers, so an Emit call only visits
// extensions that implement that hook.
type Registry struct {
	extensions []Extension
	logger     *slog.Logger

	jobEnqueued  []entry[JobEnqueued]
	jobLeased    []entry[JobLeased]
	jobDelivered []entry[JobDelivered]
	jobRetrying  []entry[JobRetrying]
	jobFailed    []entry[JobFailed]
	jobDLQ       []entry[JobDLQ]
	jobRearmed   []entry[JobRearmed]
	shutdown     []entry[Shutdown]
}

// NewRegistry returns an empty registry. A nil logger means slog.Default.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{logger: logger}
}

func add[H any](list []entry[H], e Extension) []entry[H] {
	if h, ok := e.(H); ok {
		return append(list, entry[H]{e.Name(), h})
	}
	return list
}

// Register adds e to every hook list it satisfies.
func (r *Registry) Register(e Extension) {
	r.extensions = append(r.extensions, e)

	r.jobEnqueued = add(r.jobEnqueued, e)
	r.jobLeased = add(r.jobLeased, e)
	r.jobDelivered = add(r.jobDelivered, e)
	r.jobRetrying = add(r.jobRetrying, e)
	r.jobFailed = add(r.jobFailed, e)
	r.jobDLQ = add(r.jobDLQ, e)
	r.jobRearmed = add(r.jobRearmed, e)
	r.shutdown = add(r.shutdown, e)
}

func (r *Registry) Extensions() []Extension { return r.extensions }

// notify runs call against every cached hook in registration order. Hook
// errors are logged and swallowed; they never block delivery.
func notify[H any](r *Registry, hook string, list []entry[H], call func(H) error) {
	for _, e := range list {
		if err := call(e.hook); err != nil {
			r.logger.Warn("extension hook error",
				slog.String("hook", hook),
				slog.String("extension", e.name),
				slog.String("error", err.Error()),
			)
		}
	}
}

func (r *Registry) EmitJobEnqueued(ctx context.Context, j *job.Job) {
	notify(r, "OnJobEnqueued", r.jobEnqueued, func(h JobEnqueued) error { return h.OnJobEnqueued(ctx, j) })
}

func (r *Registry) EmitJobLeased(ctx context.Context, j *job.Job) {
	notify(r, "OnJobLeased", r.jobLeased, func(h JobLeased) error { return h.OnJobLeased(ctx, j) })
}

func (r *Registry) EmitJobDelivered(ctx context.Context, j *job.Job, elapsed time.Duration) {
	notify(r, "OnJobDelivered", r.jobDelivered, func(h JobDelivered) error {
		return h.OnJobDelivered(ctx, j, elapsed)
	})
}

func (r *Registry) EmitJobRetrying(ctx context.Context, j *job.Job, attempt int, nextRunAt time.Time) {
	notify(r, "OnJobRetrying", r.jobRetrying, func(h JobRetrying) error {
		return h.OnJobRetrying(ctx, j, attempt, nextRunAt)
	})
}

func (r *Registry) EmitJobFailed(ctx context.Context, j *job.Job, jobErr error) {
	notify(r, "OnJobFailed", r.jobFailed, func(h JobFailed) error { return h.OnJobFailed(ctx, j, jobErr) })
}

func (r *Registry) EmitJobDLQ(ctx context.Context, j *job.Job, jobErr error) {
	notify(r, "OnJobDLQ", r.jobDLQ, func(h JobDLQ) error { return h.OnJobDLQ(ctx, j, jobErr) })
}

// EmitJobRearmed fires after a cron job has been rescheduled to next.
func (r *Registry) EmitJobRearmed(ctx context.Context, j *job.Job, next time.Time) {
	notify(r, "OnJobRearmed", r.jobRearmed, func(h JobRearmed) error { return h.OnJobRearmed(ctx, j, next) })
}

// EmitShutdown runs during engine Stop, after the worker pool has drained.
func (r *Registry) EmitShutdown(ctx context.Context) {
	notify(r, "OnShutdown", r.shutdown, func(h Shutdown) error { return h.OnShutdown(ctx) })
}
