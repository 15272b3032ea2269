// Package queue limits how fast the dispatcher delivers to each queue and
// each tenant.
//
// A queue is one tenant endpoint (an encoded descriptor). Without limits a
// pool with many slots can flood a single receiver once a backlog becomes
// due, so deliveries pass through a [Manager] before the HTTP call.
//
// # Per-Queue Configuration
//
//	queue.Config{
//	    Name:           descriptor.Encode(token, "https://example.com/hook"),
//	    MaxConcurrency: 5,  // at most 5 concurrent deliveries
//	    RateLimit:      10, // at most 10 deliveries/s
//	    RateBurst:      20,
//	}
//
// # Per-Tenant Configuration
//
// [TenantConfig] limits a tenant across all of its endpoints.
// [Manager.SetTenantDefault] applies one limit to every tenant not
// configured explicitly.
//
// # Manager
//
// The Manager uses a token-bucket rate limiter (golang.org/x/time/rate)
// and an active-count gate for concurrency limits.
//
//	if m.Acquire(j.Queue) {
//	    defer m.Release(j.Queue)
//	    // deliver
//	}
//
// A throttled job is released back to pending by the dispatcher; it is
// not an attempt and does not consume retry budget.
package queue
