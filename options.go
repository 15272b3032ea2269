package courier

import "time"

// Option adjusts a Config. Options are applied in order by NewConfig.
type Option func(*Config)

// NewConfig returns DefaultConfig with the given options applied.
func NewConfig(opts ...Option) Config {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// WithConcurrency sets the number of polling slots.
func WithConcurrency(n int) Option {
	return func(c *Config) { c.Concurrency = n }
}

// WithQueues restricts polling to the given encoded queue descriptors.
func WithQueues(queues []string) Option {
	return func(c *Config) { c.Queues = queues }
}

// WithPollInterval sets how long idle slots sleep between claims.
func WithPollInterval(d time.Duration) Option {
	return func(c *Config) { c.PollInterval = d }
}

// WithLeaseTTL sets the lease duration granted on each claim.
func WithLeaseTTL(d time.Duration) Option {
	return func(c *Config) { c.LeaseTTL = d }
}

// WithDeliveryTimeout sets the per-call webhook timeout.
func WithDeliveryTimeout(d time.Duration) Option {
	return func(c *Config) { c.DeliveryTimeout = d }
}

// WithDefaultRetry sets the retry policy used when a job carries none.
func WithDefaultRetry(maxRetries int, base time.Duration, factor float64) Option {
	return func(c *Config) {
		c.DefaultMaxRetries = maxRetries
		c.DefaultBackoffBase = base
		c.DefaultBackoffFactor = factor
	}
}

// WithIsolatedNetwork marks the process as running in its own network
// namespace; loopback endpoints are delivered via alias instead.
func WithIsolatedNetwork(alias string) Option {
	return func(c *Config) {
		c.IsolatedNetwork = true
		if alias != "" {
			c.HostAlias = alias
		}
	}
}

// WithSigningSecret sets the global secret mixed into tenant signing keys.
func WithSigningSecret(secret string) Option {
	return func(c *Config) { c.SigningSecret = secret }
}

// WithTenantLimit applies a delivery rate and concurrency cap to every
// tenant.
func WithTenantLimit(ratePerSec float64, burst, maxConcurrency int) Option {
	return func(c *Config) {
		c.TenantRateLimit = ratePerSec
		c.TenantRateBurst = burst
		c.TenantMaxConcurrency = maxConcurrency
	}
}

// WithHeartbeatInterval sets how often the worker registry is refreshed.
func WithHeartbeatInterval(d time.Duration) Option {
	return func(c *Config) { c.HeartbeatInterval = d }
}
