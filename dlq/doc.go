// Package dlq provides the dead letter queue for jobs whose endpoint
// rejected them or whose retry budget ran out. It supports inspection,
// replay, and purging.
//
// The failed job itself stays in the job store in state failed; the DLQ
// entry is an immutable record of the failure. Replay re-arms the job from
// the entry.
//
// # Entry
//
// An [Entry] captures:
//   - JobID / Queue: original job identity
//   - Payload / Schedule / Retry: everything needed to replay the job
//   - Error: the final error message
//   - Attempt: failed deliveries in the last occurrence
//   - FailedAt: when the terminal failure occurred
//   - ReplayedAt: set when the entry is replayed (nil if not yet replayed)
//
// # Service
//
//	svc := dlq.NewService(store, store)
//
//	// Push is called by the executor on terminal failure.
//	svc.Push(ctx, failedJob, err)
//
//	// Replay re-arms the job under its original ID.
//	svc.Replay(ctx, entryID)
//
//	// Purge drops entries older than a week.
//	svc.Purge(ctx, 7*24*time.Hour)
//
// The HTTP API exposes GET /v1/dlq, POST /v1/dlq/{entryId}/replay and
// DELETE /v1/dlq?older_than=168h.
package dlq
