// Package job defines the job entity, its lease, the retry policy it
// carries and the store contract the dispatcher drives.
//
// # Job Entity
//
// A [Job] is one durable webhook delivery, or a recurring family of them.
// It embeds [courier.Entity] for timestamps and progresses through a small
// state machine:
//
//	pending → leased → (deleted)                  one-off success
//	pending → leased → pending (next occurrence)  cron success
//	pending → leased → pending (attempt+1)        retryable failure
//	pending → leased → failed                     rejected or budget exhausted
//	leased (lease expired) → leased               reclaimed by another worker
//
// Fields of note:
//   - Queue: the encoded descriptor naming tenant and endpoint
//   - NotBefore: earliest time the job may be claimed
//   - ScheduledFor: the occurrence the current attempts belong to; cron
//     jobs compute their next occurrence from it
//   - Attempt: failed deliveries so far in this occurrence
//
// # Leases
//
// Claiming a job grants a [Lease] whose ID is a fresh fencing token. Every
// later mutation by the worker (release, complete) names that token and
// fails with courier.ErrLeaseLost once another claim has replaced it.
//
// # Store
//
// [Store] is implemented by store/memory, store/redis and store/postgres.
// Claiming is the only operation that must be atomic across workers.
package job
