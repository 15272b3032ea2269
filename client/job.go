package client

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/xraph/courier"
	"github.com/xraph/courier/api"
	"github.com/xraph/courier/backoff"
	"github.com/xraph/courier/descriptor"
	"github.com/xraph/courier/job"
	"github.com/xraph/courier/schedule"
)

// EnqueueOptions controls a single Enqueue. Delay and RunAt are mutually
// exclusive, and neither may be combined with Cron. With none of them set
// the job is due immediately.
type EnqueueOptions struct {
	// ID makes the job addressable and deduplicates creation. Empty lets
	// courier assign one.
	ID    string
	Delay time.Duration
	RunAt time.Time
	Cron  *Cron
	// Retry overrides the instance default retry policy.
	Retry    *job.RetryPolicy
	Override bool
}

// Cron is a recurring schedule evaluated in Timezone (UTC when empty).
type Cron struct {
	Expression string
	Timezone   string
}

// Queue returns the encoded descriptor for route. A route with a scheme is
// used as the endpoint as is; otherwise it is joined to the application
// base URL.
func (c *Client) Queue(route string) string {
	endpoint := route
	if !strings.Contains(route, "://") {
		endpoint = c.appBaseURL + "/" + strings.TrimLeft(route, "/")
	}
	return descriptor.Encode(c.token, endpoint)
}

// NotBefore returns when a job created now with opts would first become
// due. It fails with courier.ErrMalformedSchedule on conflicting or
// invalid options.
func NotBefore(opts EnqueueOptions, now time.Time) (time.Time, error) {
	if opts.Delay < 0 {
		return time.Time{}, fmt.Errorf("%w: negative delay", courier.ErrMalformedSchedule)
	}
	if opts.Delay > 0 && !opts.RunAt.IsZero() {
		return time.Time{}, fmt.Errorf("%w: delay and runAt are mutually exclusive", courier.ErrMalformedSchedule)
	}
	if opts.Cron != nil {
		if opts.Delay > 0 || !opts.RunAt.IsZero() {
			return time.Time{}, fmt.Errorf("%w: cron cannot be combined with delay or runAt", courier.ErrMalformedSchedule)
		}
		return schedule.Next(opts.Cron.Expression, opts.Cron.Timezone, now)
	}
	switch {
	case opts.Delay > 0:
		return now.Add(opts.Delay), nil
	case !opts.RunAt.IsZero():
		return opts.RunAt, nil
	default:
		return now, nil
	}
}

// Enqueue schedules a delivery of payload to route. Schedule errors are
// reported before anything is sent. The payload is sealed first when an
// encryption secret is configured.
func (c *Client) Enqueue(ctx context.Context, route string, payload []byte, opts EnqueueOptions) (*job.Job, error) {
	if _, err := NotBefore(opts, c.clock.Now()); err != nil {
		return nil, err
	}

	body := payload
	if c.box != nil {
		sealed, err := c.box.Seal(payload)
		if err != nil {
			return nil, fmt.Errorf("courier/client: %w", err)
		}
		body = sealed
	}

	req := api.CreateJobRequest{ID: opts.ID, Body: body, Override: opts.Override}
	if opts.Delay > 0 {
		req.Delay = opts.Delay.String()
	}
	if !opts.RunAt.IsZero() {
		runAt := opts.RunAt
		req.RunAt = &runAt
	}
	if opts.Cron != nil {
		req.Cron = &api.CronRequest{Expression: opts.Cron.Expression, Timezone: opts.Cron.Timezone}
	}
	if opts.Retry != nil {
		req.Retry = retryRequest(*opts.Retry)
	}

	var j job.Job
	if err := c.do(ctx, http.MethodPost, jobsPath(c.Queue(route)), req, &j); err != nil {
		return nil, err
	}
	c.logger.Debug("job enqueued", slog.String("job_id", j.ID), slog.Time("not_before", j.NotBefore))
	return &j, nil
}

// Get fetches a job created for route.
func (c *Client) Get(ctx context.Context, route, jobID string) (*job.Job, error) {
	var j job.Job
	if err := c.do(ctx, http.MethodGet, jobsPath(c.Queue(route))+"/"+url.PathEscape(jobID), nil, &j); err != nil {
		return nil, err
	}
	return &j, nil
}

// Delete removes a job created for route. A delivery already in flight
// completes, but its outcome is discarded.
func (c *Client) Delete(ctx context.Context, route, jobID string) error {
	return c.do(ctx, http.MethodDelete, jobsPath(c.Queue(route))+"/"+url.PathEscape(jobID), nil, nil)
}

func jobsPath(queue string) string {
	return "/v1/queues/" + url.PathEscape(queue) + "/jobs"
}

func retryRequest(p job.RetryPolicy) *api.RetryRequest {
	b := api.BackoffRequest{Kind: string(p.Backoff.Kind), Factor: p.Backoff.Factor}
	switch p.Backoff.Kind {
	case backoff.KindFixed:
		b.Delay = p.Backoff.Delay.String()
	case backoff.KindExponential:
		b.Base = p.Backoff.Base.String()
		if p.Backoff.Ceiling > 0 {
			b.Ceiling = p.Backoff.Ceiling.String()
		}
	}
	return &api.RetryRequest{MaxRetries: p.MaxRetries, Backoff: b}
}
