// Package engine wires all Courier subsystems together and provides the
// application-level API for creating and managing jobs.
//
// The engine package exists to break an import cycle: the root courier
// package defines Entity, Config and the sentinel errors (imported by job,
// dlq, etc.) and therefore cannot import those packages back. Engine sits
// above all subsystem packages and below the application layer.
//
// # Building an Engine
//
//	cfg, err := courier.LoadConfig()
//	...
//	eng, err := engine.Build(redisStore,
//	    engine.WithConfig(cfg),
//	    engine.WithLogger(logger),
//	    engine.WithExtension(myExtension),
//	    engine.WithTenantConfig(queue.TenantConfig{
//	        TenantToken: "tok_enterprise",
//	        RateLimit:   200,
//	    }),
//	)
//
// # Creating Jobs
//
// The queue name is an encoded descriptor carrying the tenant token and the
// endpoint to call (see package descriptor).
//
//	q := descriptor.Encode(token, "https://app.example.com/hooks/email")
//
//	eng.Create(ctx, q, payload)
//	eng.Create(ctx, q, payload, job.WithDelay(5*time.Minute))
//	eng.Create(ctx, q, payload, job.WithID("invoice-42"), job.WithRunAt(due))
//	eng.Create(ctx, q, payload, job.WithCron("0 9 * * 1-5", "Europe/Berlin"))
//
// # Options
//
//   - [WithConfig] sets the validated configuration
//   - [WithExtension] registers a lifecycle extension
//   - [WithMiddleware] adds a middleware to the delivery chain
//   - [WithQueueConfig] configures per-endpoint rate limits and concurrency
//   - [WithTenantConfig] configures per-tenant limits
//   - [WithDeliverer] replaces the HTTP delivery client
//   - [WithClock] sets the clock, mainly for tests
//   - [WithTracerProvider] and [WithMeterProvider] set OTel providers
package engine
