package audithook

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/courier/descriptor"
	"github.com/xraph/courier/ext"
	"github.com/xraph/courier/job"
	"github.com/xraph/courier/scope"
)

var (
	_ ext.Extension    = (*Extension)(nil)
	_ ext.JobEnqueued  = (*Extension)(nil)
	_ ext.JobLeased    = (*Extension)(nil)
	_ ext.JobDelivered = (*Extension)(nil)
	_ ext.JobRetrying  = (*Extension)(nil)
	_ ext.JobFailed    = (*Extension)(nil)
	_ ext.JobDLQ       = (*Extension)(nil)
	_ ext.JobRearmed   = (*Extension)(nil)
)

// Recorder stores audit events.
type Recorder interface {
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is one entry of the audit trail. Tenant tokens never appear
// in it; Metadata carries the tenant fingerprint instead.
type AuditEvent struct {
	Action     string         `json:"action"`
	Resource   string         `json:"resource"`
	Category   string         `json:"category"`
	ResourceID string         `json:"resource_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// RecorderFunc lets a plain function act as a Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// LogRecorder writes audit events to a structured logger, one record per
// event at a level matching its severity.
func LogRecorder(l *slog.Logger) Recorder {
	return RecorderFunc(func(ctx context.Context, evt *AuditEvent) error {
		level := slog.LevelInfo
		switch evt.Severity {
		case SeverityWarning:
			level = slog.LevelWarn
		case SeverityCritical:
			level = slog.LevelError
		}
		attrs := []slog.Attr{
			slog.String("action", evt.Action),
			slog.String("resource_id", evt.ResourceID),
			slog.String("outcome", evt.Outcome),
		}
		for k, v := range evt.Metadata {
			attrs = append(attrs, slog.Any(k, v))
		}
		l.LogAttrs(ctx, level, "audit", attrs...)
		return nil
	})
}

const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"

	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// levels fixes the severity and outcome of each action.
var levels = map[string]struct{ severity, outcome string }{
	ActionJobEnqueued:  {SeverityInfo, OutcomeSuccess},
	ActionJobLeased:    {SeverityInfo, OutcomeSuccess},
	ActionJobDelivered: {SeverityInfo, OutcomeSuccess},
	ActionJobRetrying:  {SeverityWarning, OutcomeFailure},
	ActionJobFailed:    {SeverityWarning, OutcomeFailure},
	ActionJobDLQ:       {SeverityCritical, OutcomeFailure},
	ActionJobRearmed:   {SeverityInfo, OutcomeSuccess},
}

// Extension turns job lifecycle hooks into AuditEvents for a Recorder.
type Extension struct {
	recorder Recorder
	only     map[string]bool
	logger   *slog.Logger
}

func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{recorder: r, logger: slog.Default()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Extension) Name() string { return "audit-hook" }

func (e *Extension) OnJobEnqueued(ctx context.Context, j *job.Job) error {
	e.emit(ctx, ActionJobEnqueued, j, nil, map[string]any{
		"schedule":   string(j.Schedule.Kind),
		"not_before": j.NotBefore.Format(time.RFC3339),
	})
	return nil
}

func (e *Extension) OnJobLeased(ctx context.Context, j *job.Job) error {
	meta := map[string]any{"attempt": j.Attempt}
	if j.Lease != nil {
		meta["worker_id"] = j.Lease.Holder.String()
	}
	e.emit(ctx, ActionJobLeased, j, nil, meta)
	return nil
}

func (e *Extension) OnJobDelivered(ctx context.Context, j *job.Job, elapsed time.Duration) error {
	e.emit(ctx, ActionJobDelivered, j, nil, map[string]any{
		"attempt":    j.Attempt,
		"elapsed_ms": elapsed.Milliseconds(),
	})
	return nil
}

func (e *Extension) OnJobRetrying(ctx context.Context, j *job.Job, attempt int, nextRunAt time.Time) error {
	e.emit(ctx, ActionJobRetrying, j, nil, map[string]any{
		"attempt":     attempt,
		"max_retries": j.Retry.MaxRetries,
		"next_run_at": nextRunAt.Format(time.RFC3339),
	})
	return nil
}

func (e *Extension) OnJobFailed(ctx context.Context, j *job.Job, jobErr error) error {
	e.emit(ctx, ActionJobFailed, j, jobErr, map[string]any{"attempt": j.Attempt})
	return nil
}

func (e *Extension) OnJobDLQ(ctx context.Context, j *job.Job, jobErr error) error {
	e.emit(ctx, ActionJobDLQ, j, jobErr, map[string]any{
		"attempt":     j.Attempt,
		"max_retries": j.Retry.MaxRetries,
	})
	return nil
}

// OnJobRearmed records the next occurrence of a cron job.
func (e *Extension) OnJobRearmed(ctx context.Context, j *job.Job, next time.Time) error {
	e.emit(ctx, ActionJobRearmed, j, nil, map[string]any{
		"cron":        j.Schedule.Expression,
		"next_run_at": next.Format(time.RFC3339),
	})
	return nil
}

// emit hands one event to the recorder. The job's queue descriptor is
// replaced by the tenant fingerprint and endpoint. Recorder failures are
// only logged.
func (e *Extension) emit(ctx context.Context, action string, j *job.Job, cause error, meta map[string]any) {
	if e.only != nil && !e.only[action] {
		return
	}
	if d, err := descriptor.Decode(j.Queue); err == nil {
		meta["tenant"] = scope.Fingerprint(d.TenantToken)
		meta["endpoint"] = d.Endpoint
	}

	lv := levels[action]
	evt := &AuditEvent{
		Action:     action,
		Resource:   ResourceJob,
		Category:   CategoryJob,
		ResourceID: j.ID,
		Metadata:   meta,
		Outcome:    lv.outcome,
		Severity:   lv.severity,
	}
	if cause != nil {
		evt.Reason = cause.Error()
		meta["error"] = evt.Reason
	}

	if err := e.recorder.Record(ctx, evt); err != nil {
		e.logger.Warn("audit record failed",
			slog.String("action", action),
			slog.String("job_id", j.ID),
			slog.String("error", err.Error()),
		)
	}
}
