package api

import (
	"errors"
	"fmt"
	"time"

	"github.com/xraph/courier"
	"github.com/xraph/courier/backoff"
	"github.com/xraph/courier/cluster"
	"github.com/xraph/courier/dlq"
	"github.com/xraph/courier/job"
)

var errInvalidRequest = errors.New("api: invalid request")

// CreateJobRequest is the body of POST /v1/queues/{queue}/jobs. Body holds
// the payload, base64 encoded on the wire. At most one of Delay, RunAt and
// Cron may be set.
type CreateJobRequest struct {
	ID       string        `json:"id,omitempty"`
	Body     []byte        `json:"body"`
	Delay    string        `json:"delay,omitempty"`
	RunAt    *time.Time    `json:"run_at,omitempty"`
	Cron     *CronRequest  `json:"cron,omitempty"`
	Retry    *RetryRequest `json:"retry,omitempty"`
	Override bool          `json:"override,omitempty"`
}

// CronRequest describes a recurring schedule.
type CronRequest struct {
	Expression string `json:"expression" validate:"required"`
	Timezone   string `json:"timezone,omitempty"`
}

// RetryRequest overrides the default retry policy of a job.
type RetryRequest struct {
	MaxRetries int            `json:"max_retries" validate:"gte=0"`
	Backoff    BackoffRequest `json:"backoff"`
}

// BackoffRequest describes a backoff strategy. Durations use Go duration
// syntax ("1s", "5m").
type BackoffRequest struct {
	Kind    string  `json:"kind" validate:"oneof=fixed exponential"`
	Delay   string  `json:"delay,omitempty"`
	Base    string  `json:"base,omitempty"`
	Factor  float64 `json:"factor,omitempty"`
	Ceiling string  `json:"ceiling,omitempty"`
}

// ListJobsRequest holds the query parameters of a job listing.
type ListJobsRequest struct {
	State  string `validate:"omitempty,oneof=pending leased failed"`
	Cursor string
	Limit  int `validate:"gte=0,lte=1000"`
}

// ListDLQRequest holds the query parameters of a DLQ listing.
type ListDLQRequest struct {
	Queue  string
	Cursor string
	Limit  int `validate:"gte=0,lte=1000"`
}

// JobListResponse is a page of jobs.
type JobListResponse struct {
	Jobs       []*job.Job `json:"jobs"`
	NextCursor string     `json:"next_cursor,omitempty"`
}

// PurgeDLQResponse reports how many dead letter entries were removed.
type PurgeDLQResponse struct {
	Purged int64 `json:"purged"`
}

// DLQListResponse is a page of dead letter entries.
type DLQListResponse struct {
	Entries    []*dlq.Entry `json:"entries"`
	NextCursor string       `json:"next_cursor,omitempty"`
}

// WorkerListResponse lists registered worker pools.
type WorkerListResponse struct {
	Workers []*cluster.Worker `json:"workers"`
}

// HealthResponse is the body of /healthz.
type HealthResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// options converts the request into engine options. Conflicting schedule
// fields are left for the engine to reject.
func (req *CreateJobRequest) options() ([]job.Option, error) {
	var opts []job.Option
	if req.ID != "" {
		opts = append(opts, job.WithID(req.ID))
	}
	if req.Delay != "" {
		d, err := time.ParseDuration(req.Delay)
		if err != nil {
			return nil, fmt.Errorf("%w: delay: %w", courier.ErrMalformedSchedule, err)
		}
		opts = append(opts, job.WithDelay(d))
	}
	if req.RunAt != nil {
		opts = append(opts, job.WithRunAt(*req.RunAt))
	}
	if req.Cron != nil {
		opts = append(opts, job.WithCron(req.Cron.Expression, req.Cron.Timezone))
	}
	if req.Retry != nil {
		spec, err := req.Retry.Backoff.spec()
		if err != nil {
			return nil, fmt.Errorf("%w: %w", courier.ErrMalformedRetry, err)
		}
		opts = append(opts, job.WithRetry(job.RetryPolicy{MaxRetries: req.Retry.MaxRetries, Backoff: spec}))
	}
	if req.Override {
		opts = append(opts, job.WithOverride())
	}
	return opts, nil
}

func (b BackoffRequest) spec() (backoff.Spec, error) {
	delay, err := optionalDuration("delay", b.Delay)
	if err != nil {
		return backoff.Spec{}, err
	}
	base, err := optionalDuration("base", b.Base)
	if err != nil {
		return backoff.Spec{}, err
	}
	ceiling, err := optionalDuration("ceiling", b.Ceiling)
	if err != nil {
		return backoff.Spec{}, err
	}

	if backoff.Kind(b.Kind) == backoff.KindFixed {
		return backoff.FixedSpec(delay), nil
	}
	return backoff.ExponentialSpec(base, b.Factor, ceiling), nil
}

func optionalDuration(field, s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("backoff %s: %w", field, err)
	}
	return d, nil
}
