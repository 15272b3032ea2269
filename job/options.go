package job

import "time"

// Options configures a job at creation time.
type Options struct {
	// ID is the tenant-assigned identifier. Empty means a generated job_ ID.
	ID string

	// RunAt is the first due time. Zero means immediate.
	RunAt time.Time

	// Delay is added to the creation time to compute the first due time.
	// It is mutually exclusive with RunAt and Cron.
	Delay time.Duration

	// HasDelay records that WithDelay was applied, so an explicit zero
	// delay still conflicts with RunAt and Cron.
	HasDelay bool

	// Cron makes the job recurring.
	Cron *Schedule

	// Retry overrides the configured default retry policy.
	Retry *RetryPolicy

	// Override replaces an existing job with the same ID instead of
	// failing with courier.ErrJobAlreadyExists.
	Override bool
}

// Option is a functional option for configuring a job.
type Option func(*Options)

// WithID sets a tenant-assigned job ID.
func WithID(id string) Option {
	return func(o *Options) { o.ID = id }
}

// WithRunAt schedules the first delivery at a specific time.
func WithRunAt(t time.Time) Option {
	return func(o *Options) { o.RunAt = t }
}

// WithDelay schedules the first delivery d after creation.
func WithDelay(d time.Duration) Option {
	return func(o *Options) { o.Delay, o.HasDelay = d, true }
}

// WithCron makes the job recur on the given expression, evaluated in the
// IANA zone tz (empty means UTC).
func WithCron(expression, tz string) Option {
	return func(o *Options) {
		s := Cron(expression, tz)
		o.Cron = &s
	}
}

// WithRetry sets the job's retry policy.
func WithRetry(p RetryPolicy) Option {
	return func(o *Options) { o.Retry = &p }
}

// WithOverride replaces any existing job with the same ID.
func WithOverride() Option {
	return func(o *Options) { o.Override = true }
}
