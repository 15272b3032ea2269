// Package cluster provides the worker registry.
//
// Each running pool registers itself as a [Worker] and heartbeats while it
// polls. The registry is informational: mutual exclusion between workers
// comes from job leases alone, so a worker that dies without deregistering
// only leaves a stale record, reaped once its heartbeat is older than the
// configured threshold. Its jobs become claimable when their leases expire.
//
// The registry is exposed via GET /v1/workers.
package cluster
