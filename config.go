package courier

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Store kinds accepted by Config.Store.
const (
	StoreMemory   = "memory"
	StoreRedis    = "redis"
	StorePostgres = "postgres"
)

// Config holds configuration for a Courier process. The zero value is not
// usable; start from DefaultConfig or LoadConfig.
type Config struct {
	// Store selects the durable backend: memory, redis or postgres.
	Store         string `env:"STORE" envDefault:"memory"`
	RedisAddr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	PostgresDSN   string `env:"POSTGRES_DSN"`

	// HTTPAddr is the listen address of the creation API.
	HTTPAddr string `env:"HTTP_ADDR" envDefault:":9181"`

	// Concurrency is the number of polling slots per process.
	Concurrency int `env:"CONCURRENCY" envDefault:"10"`

	// Queues restricts polling to the given encoded queue descriptors.
	// Empty means every queue.
	Queues []string `env:"QUEUES" envSeparator:","`

	// PollInterval is how long an idle slot sleeps between claims.
	PollInterval time.Duration `env:"POLL_INTERVAL" envDefault:"1s"`

	// LeaseTTL bounds how long a claimed job stays invisible to other
	// workers. A crashed worker's jobs become claimable once it elapses,
	// so it must exceed DeliveryTimeout.
	LeaseTTL time.Duration `env:"LEASE_TTL" envDefault:"60s"`

	// DeliveryTimeout caps a single outbound webhook call.
	DeliveryTimeout time.Duration `env:"DELIVERY_TIMEOUT" envDefault:"30s"`

	// HeartbeatInterval is how often a pool refreshes its worker registry
	// entry. Workers silent for three intervals are reaped. Zero disables
	// heartbeats.
	HeartbeatInterval time.Duration `env:"HEARTBEAT_INTERVAL" envDefault:"10s"`

	// Per-tenant delivery limits applied to every tenant. Zero disables
	// each limit.
	TenantRateLimit      float64 `env:"TENANT_RATE_LIMIT"`
	TenantRateBurst      int     `env:"TENANT_RATE_BURST"`
	TenantMaxConcurrency int     `env:"TENANT_MAX_CONCURRENCY"`

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`

	// Default retry policy applied when a job does not carry its own.
	DefaultMaxRetries    int           `env:"DEFAULT_MAX_RETRIES" envDefault:"10"`
	DefaultBackoffBase   time.Duration `env:"DEFAULT_BACKOFF_BASE" envDefault:"1s"`
	DefaultBackoffFactor float64       `env:"DEFAULT_BACKOFF_FACTOR" envDefault:"2"`
	BackoffCeiling       time.Duration `env:"BACKOFF_CEILING" envDefault:"1h"`

	// IsolatedNetwork reports that the process runs in its own network
	// namespace (e.g. a container), so loopback endpoints are rewritten to
	// HostAlias before delivery.
	IsolatedNetwork bool   `env:"ISOLATED_NETWORK"`
	HostAlias       string `env:"HOST_ALIAS" envDefault:"host.docker.internal"`

	// SigningSecret, when set, is mixed with each tenant token to derive
	// the webhook signing key. Empty means the tenant token signs directly.
	SigningSecret string `env:"SIGNING_SECRET"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`
	// AuditLog writes a log record for every job lifecycle event.
	AuditLog bool `env:"AUDIT_LOG"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Store:                StoreMemory,
		RedisAddr:            "localhost:6379",
		HTTPAddr:             ":9181",
		Concurrency:          10,
		PollInterval:         1 * time.Second,
		LeaseTTL:             60 * time.Second,
		DeliveryTimeout:      30 * time.Second,
		HeartbeatInterval:    10 * time.Second,
		ShutdownTimeout:      30 * time.Second,
		DefaultMaxRetries:    10,
		DefaultBackoffBase:   1 * time.Second,
		DefaultBackoffFactor: 2,
		BackoffCeiling:       1 * time.Hour,
		HostAlias:            "host.docker.internal",
		LogLevel:             "info",
		LogFormat:            "json",
	}
}

// LoadConfig reads configuration from COURIER_-prefixed environment
// variables, falling back to defaults for anything unset.
func LoadConfig() (Config, error) {
	cfg, err := env.ParseAsWithOptions[Config](env.Options{Prefix: "COURIER_"})
	if err != nil {
		return Config{}, fmt.Errorf("courier: load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the invariants the dispatcher depends on.
func (c Config) Validate() error {
	switch c.Store {
	case StoreMemory, StoreRedis:
	case StorePostgres:
		if c.PostgresDSN == "" {
			return fmt.Errorf("%w: postgres store requires a DSN", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown store %q", ErrInvalidConfig, c.Store)
	}
	if c.Concurrency <= 0 {
		return fmt.Errorf("%w: concurrency must be positive", ErrInvalidConfig)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("%w: poll interval must be positive", ErrInvalidConfig)
	}
	if c.DeliveryTimeout <= 0 || c.LeaseTTL <= c.DeliveryTimeout {
		return fmt.Errorf("%w: delivery timeout (%s) must be positive and shorter than lease TTL (%s)",
			ErrInvalidConfig, c.DeliveryTimeout, c.LeaseTTL)
	}
	if c.HeartbeatInterval < 0 {
		return fmt.Errorf("%w: heartbeat interval must not be negative", ErrInvalidConfig)
	}
	if c.TenantRateLimit < 0 || c.TenantMaxConcurrency < 0 {
		return fmt.Errorf("%w: tenant limits must not be negative", ErrInvalidConfig)
	}
	if c.DefaultMaxRetries < 0 {
		return fmt.Errorf("%w: default max retries must not be negative", ErrInvalidConfig)
	}
	return nil
}
