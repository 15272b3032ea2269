package engine

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode"

	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/courier"
	"github.com/xraph/courier/backoff"
	"github.com/xraph/courier/cluster"
	"github.com/xraph/courier/delivery"
	"github.com/xraph/courier/descriptor"
	"github.com/xraph/courier/dispatcher"
	"github.com/xraph/courier/dlq"
	"github.com/xraph/courier/ext"
	"github.com/xraph/courier/id"
	"github.com/xraph/courier/job"
	mw "github.com/xraph/courier/middleware"
	"github.com/xraph/courier/observability"
	"github.com/xraph/courier/queue"
	"github.com/xraph/courier/schedule"
	"github.com/xraph/courier/store"
)

// maxJobIDLen bounds tenant-assigned job IDs.
const maxJobIDLen = 256

// Engine owns a store and the processing pipeline around it.
// Use Build() to create one.
type Engine struct {
	config     courier.Config
	store      store.Store
	extensions *ext.Registry
	exts       []ext.Extension
	dlqService *dlq.Service
	pool       *dispatcher.Pool
	deliverer  dispatcher.Deliverer
	httpClient *http.Client
	mws        []mw.Middleware
	clock      clockwork.Clock
	logger     *slog.Logger

	// Rate limiting.
	queueConfigs  []queue.Config
	tenantConfigs []queue.TenantConfig
	queueManager  *queue.Manager

	// OpenTelemetry providers (optional; nil means use global).
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
}

// Option configures an Engine.
type Option func(*Engine)

// WithConfig sets the engine configuration. Defaults to
// courier.DefaultConfig().
func WithConfig(cfg courier.Config) Option {
	return func(eng *Engine) { eng.config = cfg }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(eng *Engine) { eng.logger = l }
}

// WithExtension registers an extension with the engine.
func WithExtension(e ext.Extension) Option {
	return func(eng *Engine) { eng.exts = append(eng.exts, e) }
}

// WithMiddleware adds middleware to the delivery chain, inside the
// built-in middleware.
func WithMiddleware(m mw.Middleware) Option {
	return func(eng *Engine) { eng.mws = append(eng.mws, m) }
}

// WithQueueConfig registers per-endpoint rate limiting and concurrency
// configurations. Queues not listed have no queue-level limits.
func WithQueueConfig(configs ...queue.Config) Option {
	return func(eng *Engine) { eng.queueConfigs = append(eng.queueConfigs, configs...) }
}

// WithTenantConfig registers per-tenant limits that override the
// configured tenant default.
func WithTenantConfig(configs ...queue.TenantConfig) Option {
	return func(eng *Engine) { eng.tenantConfigs = append(eng.tenantConfigs, configs...) }
}

// WithDeliverer replaces the HTTP delivery client.
func WithDeliverer(d dispatcher.Deliverer) Option {
	return func(eng *Engine) { eng.deliverer = d }
}

// WithHTTPClient sets the HTTP client used by the default delivery client.
func WithHTTPClient(c *http.Client) Option {
	return func(eng *Engine) { eng.httpClient = c }
}

// WithClock sets the clock used for due times, retries and leases.
func WithClock(c clockwork.Clock) Option {
	return func(eng *Engine) { eng.clock = c }
}

// WithTracerProvider sets a custom OTel TracerProvider for the engine.
// If not set, the global otel.GetTracerProvider() is used.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(eng *Engine) { eng.tracerProvider = tp }
}

// WithMeterProvider sets a custom OTel MeterProvider for the engine.
// When set, both the metrics middleware and the observability extension
// use this provider instead of the global one.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(eng *Engine) { eng.meterProvider = mp }
}

// Build creates an Engine over s. The configuration is validated; in
// particular the delivery timeout must be shorter than the lease TTL.
func Build(s store.Store, opts ...Option) (*Engine, error) {
	if s == nil {
		return nil, courier.ErrNoStore
	}

	eng := &Engine{
		config: courier.DefaultConfig(),
		store:  s,
		clock:  clockwork.NewRealClock(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(eng)
	}

	eng.extensions = ext.NewRegistry(eng.logger)
	for _, e := range eng.exts {
		eng.extensions.Register(e)
	}

	if err := eng.config.Validate(); err != nil {
		return nil, err
	}
	cfg := eng.config
	logger := eng.logger

	eng.dlqService = dlq.NewService(s, s, dlq.WithClock(eng.clock))

	if eng.deliverer == nil {
		dopts := []delivery.Option{
			delivery.WithIsolatedNetwork(cfg.IsolatedNetwork, cfg.HostAlias),
			delivery.WithClock(eng.clock),
			delivery.WithLogger(logger),
		}
		if cfg.SigningSecret != "" {
			dopts = append(dopts, delivery.WithSigningSecret(cfg.SigningSecret))
		}
		if eng.httpClient != nil {
			dopts = append(dopts, delivery.WithHTTPClient(eng.httpClient))
		}
		eng.deliverer = delivery.NewClient(dopts...)
	}

	// Build tracing middleware (custom provider or global).
	var tracingMw mw.Middleware
	if eng.tracerProvider != nil {
		tracingMw = mw.TracingWithTracer(eng.tracerProvider.Tracer("github.com/xraph/courier"))
	} else {
		tracingMw = mw.Tracing()
	}

	// Build metrics middleware and the lifecycle metrics extension.
	var metricsMw mw.Middleware
	var obsExt *observability.MetricsExtension
	if eng.meterProvider != nil {
		metricsMw = mw.MetricsWithMeter(eng.meterProvider.Meter("github.com/xraph/courier"))
		obsExt = observability.NewMetricsExtensionWithMeter(eng.meterProvider.Meter("github.com/xraph/courier/observability"))
	} else {
		metricsMw = mw.Metrics()
		obsExt = observability.NewMetricsExtension()
	}
	if !eng.hasMetricsExtension() {
		eng.extensions.Register(obsExt)
	}

	// Default middleware stack: recover → scope → tracing → metrics → logging → timeout.
	allMws := []mw.Middleware{
		mw.Recover(logger),
		mw.Scope(),
		tracingMw,
		metricsMw,
		mw.Logging(logger),
		mw.Timeout(logger, cfg.DeliveryTimeout),
	}
	allMws = append(allMws, eng.mws...)

	executor := dispatcher.NewExecutor(s, eng.deliverer, eng.dlqService, eng.extensions, logger,
		dispatcher.WithMiddleware(allMws...),
		dispatcher.WithExecutorClock(eng.clock),
	)

	poolOpts := []dispatcher.PoolOption{
		dispatcher.WithPoolConcurrency(cfg.Concurrency),
		dispatcher.WithPoolQueues(cfg.Queues),
		dispatcher.WithPollInterval(cfg.PollInterval),
		dispatcher.WithLeaseTTL(cfg.LeaseTTL),
		dispatcher.WithPoolClock(eng.clock),
	}
	if cfg.HeartbeatInterval > 0 {
		poolOpts = append(poolOpts,
			dispatcher.WithWorkerRegistry(s, cfg.HeartbeatInterval, 3*cfg.HeartbeatInterval))
	}

	if qm := eng.buildQueueManager(); qm != nil {
		eng.queueManager = qm
		poolOpts = append(poolOpts, dispatcher.WithQueueManager(qm))
	}

	eng.pool = dispatcher.NewPool(s, executor, eng.extensions, logger, poolOpts...)

	return eng, nil
}

// hasMetricsExtension reports whether the caller already registered a
// MetricsExtension, so Build does not count every event twice.
func (eng *Engine) hasMetricsExtension() bool {
	for _, e := range eng.extensions.Extensions() {
		if _, ok := e.(*observability.MetricsExtension); ok {
			return true
		}
	}
	return false
}

// buildQueueManager returns nil when no limit is configured.
func (eng *Engine) buildQueueManager() *queue.Manager {
	cfg := eng.config
	tenantDefault := cfg.TenantRateLimit > 0 || cfg.TenantMaxConcurrency > 0
	if len(eng.queueConfigs) == 0 && len(eng.tenantConfigs) == 0 && !tenantDefault {
		return nil
	}

	qm := queue.NewManager(eng.queueConfigs...)
	if tenantDefault {
		qm.SetTenantDefault(queue.TenantConfig{
			RateLimit:      cfg.TenantRateLimit,
			RateBurst:      cfg.TenantRateBurst,
			MaxConcurrency: cfg.TenantMaxConcurrency,
		})
	}
	for _, tc := range eng.tenantConfigs {
		qm.SetTenantConfig(tc)
	}
	return qm
}

// Create validates and persists a new job on queue, which must be an
// encoded descriptor. Without a schedule option the job is due now.
func (eng *Engine) Create(ctx context.Context, queueName string, payload []byte, opts ...job.Option) (*job.Job, error) {
	var o job.Options
	for _, opt := range opts {
		opt(&o)
	}

	desc, err := descriptor.Decode(queueName)
	if err != nil {
		return nil, err
	}
	if _, err := delivery.ResolveAddress(desc.Endpoint, false, ""); err != nil {
		return nil, fmt.Errorf("%w: %w", courier.ErrMalformedDescriptor, err)
	}

	jobID := o.ID
	if jobID == "" {
		jobID = id.NewJobID().String()
	} else if err := validateJobID(jobID); err != nil {
		return nil, err
	}

	retry, err := eng.retryPolicy(o.Retry)
	if err != nil {
		return nil, err
	}

	now := eng.clock.Now().UTC()
	notBefore, sched, err := firstOccurrence(o, now)
	if err != nil {
		return nil, err
	}

	j := &job.Job{
		Entity:       courier.Entity{CreatedAt: now, UpdatedAt: now},
		ID:           jobID,
		Queue:        queueName,
		Payload:      payload,
		State:        job.StatePending,
		Schedule:     sched,
		Retry:        retry,
		NotBefore:    notBefore,
		ScheduledFor: notBefore,
	}

	if err := eng.store.InsertJob(ctx, j, o.Override); err != nil {
		return nil, err
	}

	eng.extensions.EmitJobEnqueued(ctx, j)
	return j, nil
}

// firstOccurrence resolves the mutually exclusive schedule options.
func firstOccurrence(o job.Options, now time.Time) (time.Time, job.Schedule, error) {
	if o.Delay < 0 {
		return time.Time{}, job.Schedule{}, fmt.Errorf("%w: negative delay", courier.ErrMalformedSchedule)
	}
	hasDelay := o.HasDelay || o.Delay != 0
	if hasDelay && !o.RunAt.IsZero() {
		return time.Time{}, job.Schedule{}, fmt.Errorf("%w: delay and runAt are mutually exclusive", courier.ErrMalformedSchedule)
	}

	if o.Cron != nil {
		if hasDelay || !o.RunAt.IsZero() {
			return time.Time{}, job.Schedule{}, fmt.Errorf("%w: cron cannot be combined with delay or runAt", courier.ErrMalformedSchedule)
		}
		next, err := schedule.Next(o.Cron.Expression, o.Cron.Timezone, now)
		if err != nil {
			return time.Time{}, job.Schedule{}, err
		}
		return next, job.Cron(o.Cron.Expression, o.Cron.Timezone), nil
	}

	switch {
	case o.Delay > 0:
		return now.Add(o.Delay), job.OneOff(), nil
	case !o.RunAt.IsZero():
		return o.RunAt.UTC(), job.OneOff(), nil
	default:
		return now, job.OneOff(), nil
	}
}

// retryPolicy returns p validated, or the configured default when p is nil.
func (eng *Engine) retryPolicy(p *job.RetryPolicy) (job.RetryPolicy, error) {
	cfg := eng.config
	if p == nil {
		return job.RetryPolicy{
			MaxRetries: cfg.DefaultMaxRetries,
			Backoff:    backoff.ExponentialSpec(cfg.DefaultBackoffBase, cfg.DefaultBackoffFactor, cfg.BackoffCeiling),
		}, nil
	}

	rp := *p
	if rp.MaxRetries < 0 {
		return job.RetryPolicy{}, fmt.Errorf("%w: max retries must not be negative", courier.ErrMalformedRetry)
	}
	if err := rp.Backoff.Validate(); err != nil {
		return job.RetryPolicy{}, fmt.Errorf("%w: %w", courier.ErrMalformedRetry, err)
	}
	if rp.Backoff.Kind == backoff.KindExponential && rp.Backoff.Ceiling <= 0 {
		rp.Backoff.Ceiling = cfg.BackoffCeiling
	}
	return rp, nil
}

func validateJobID(s string) error {
	if len(s) > maxJobIDLen {
		return fmt.Errorf("%w: longer than %d bytes", courier.ErrMalformedJobID, maxJobIDLen)
	}
	if strings.IndexFunc(s, unicode.IsControl) >= 0 {
		return fmt.Errorf("%w: contains control characters", courier.ErrMalformedJobID)
	}
	return nil
}

// Get returns a job by queue and ID.
func (eng *Engine) Get(ctx context.Context, queueName, jobID string) (*job.Job, error) {
	return eng.store.GetJob(ctx, queueName, jobID)
}

// Delete removes a job. It wins over any in-flight delivery: the delivery
// finishes, and its outcome is discarded.
func (eng *Engine) Delete(ctx context.Context, queueName, jobID string) error {
	if err := eng.store.DeleteJob(ctx, queueName, jobID); err != nil {
		return err
	}
	eng.logger.Debug("job deleted", slog.String("job_id", jobID))
	return nil
}

// List returns a page of jobs and the cursor for the next page.
func (eng *Engine) List(ctx context.Context, opts job.ListOpts) ([]*job.Job, string, error) {
	return eng.store.ListJobs(ctx, opts)
}

// Replay puts a dead-lettered job back in its queue, due now.
func (eng *Engine) Replay(ctx context.Context, entryID id.DLQID) (*job.Job, error) {
	j, err := eng.dlqService.Replay(ctx, entryID)
	if err != nil {
		return j, err
	}
	eng.extensions.EmitJobEnqueued(ctx, j)
	return j, nil
}

// Workers lists the pools registered with the store.
func (eng *Engine) Workers(ctx context.Context) ([]*cluster.Worker, error) {
	return eng.store.ListWorkers(ctx)
}

// Ping checks store connectivity.
func (eng *Engine) Ping(ctx context.Context) error {
	return eng.store.Ping(ctx)
}

// Start begins job processing. It returns immediately.
func (eng *Engine) Start(ctx context.Context) error {
	return eng.pool.Start(ctx)
}

// Stop stops claiming, waits for in-flight deliveries until ctx ends, and
// notifies extensions.
func (eng *Engine) Stop(ctx context.Context) error {
	err := eng.pool.Stop(ctx)
	eng.extensions.EmitShutdown(ctx)
	return err
}

// Config returns the validated configuration.
func (eng *Engine) Config() courier.Config { return eng.config }

// Store returns the underlying store.
func (eng *Engine) Store() store.Store { return eng.store }

// Extensions returns the extension registry.
func (eng *Engine) Extensions() *ext.Registry { return eng.extensions }

// DLQService returns the engine's DLQ service for replay and inspection.
func (eng *Engine) DLQService() *dlq.Service { return eng.dlqService }

// QueueManager returns the rate limiter, or nil if no limits are set.
func (eng *Engine) QueueManager() *queue.Manager { return eng.queueManager }

// WorkerID returns the ID recorded as holder on this engine's leases.
func (eng *Engine) WorkerID() id.WorkerID { return eng.pool.WorkerID() }
