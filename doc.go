// Package courier provides a durable, multi-tenant webhook scheduler.
// Tenants register one-off delayed jobs or cron-recurring jobs against a
// queue (a tenant token paired with a target endpoint). Workers claim due
// jobs under a time-bounded lease, deliver them over HTTP, and retry,
// dead-letter, or re-arm them according to the delivery outcome.
//
// # Quick Start
//
//	cfg := courier.DefaultConfig()
//	eng, err := engine.Build(memory.New(), engine.WithConfig(cfg))
//	if err != nil { ... }
//	_ = eng.Start(ctx)
//
// # Architecture
//
// Each subsystem (job, dlq, delivery, dispatcher) defines the narrow
// interface it needs. A single store backend (memory, redis, postgres)
// implements the job and dlq store contracts.
//
// Delivery is at-least-once. A delivery that outlives its lease may be
// repeated by another worker, so receivers should de-duplicate on the
// Courier-Job-Id header.
package courier
