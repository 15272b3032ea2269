package redis

import (
	"time"

	"github.com/xraph/courier/job"
)

// Redis key naming conventions for courier data. The braces are a hash
// tag: every key maps to the same cluster slot, which Lua scripts require.
const keyPrefix = "{courier}:"

// ── Job keys ──

// member identifies a job inside sets: queue NUL id. Job IDs never hold
// control characters, so the split is unambiguous.
func member(queue, jobID string) string { return queue + "\x00" + jobID }

// jobKey returns the Hash key of a job.
func jobKey(queue, jobID string) string { return keyPrefix + "job:" + member(queue, jobID) }

// dueKey is the Sorted Set of claimable jobs across all queues.
const dueKey = keyPrefix + "due"

// queueDueKey is the Sorted Set of claimable jobs of one queue.
func queueDueKey(queue string) string { return keyPrefix + "due:" + queue }

// jobIndexKey lists every job by "id NUL queue" for ID-ordered paging.
const jobIndexKey = keyPrefix + "jobs"

// queueIndexKey lists the job IDs of one queue.
func queueIndexKey(queue string) string { return keyPrefix + "jobs:" + queue }

// stateKey is the Set of members in a state.
func stateKey(s job.State) string { return keyPrefix + "state:" + string(s) }

// jobScriptKeys is the KEYS layout shared by every job script.
func jobScriptKeys(queue, jobID string) []string {
	return []string{
		jobKey(queue, jobID),
		dueKey,
		queueDueKey(queue),
		jobIndexKey,
		queueIndexKey(queue),
		stateKey(job.StatePending),
		stateKey(job.StateLeased),
		stateKey(job.StateFailed),
	}
}

// ── DLQ keys ──

// dlqKey returns the Hash key of a DLQ entry.
func dlqKey(id string) string { return keyPrefix + "dlq:" + id }

// dlqIndexKey lists entry IDs; TypeIDs sort by creation time.
const dlqIndexKey = keyPrefix + "dlq_ids"

// queueDLQIndexKey lists the entry IDs of one queue.
func queueDLQIndexKey(queue string) string { return keyPrefix + "dlq_queue:" + queue }

// dlqFailedKey scores entry IDs by FailedAt for purging.
const dlqFailedKey = keyPrefix + "dlq_failed"

// ── Cluster keys ──

// workerKey returns the Hash key of a worker.
func workerKey(id string) string { return keyPrefix + "worker:" + id }

// workerIDsKey is the Set tracking all worker IDs for enumeration.
const workerIDsKey = keyPrefix + "worker_ids"

// ── Scores ──

// floorScore is t in whole microseconds, rounded down.
func floorScore(t time.Time) int64 { return t.UnixMicro() }

// ceilScore is t in whole microseconds, rounded up, so that a lease never
// looks expired before it is.
func ceilScore(t time.Time) int64 {
	s := t.UnixMicro()
	if t.Nanosecond()%int(time.Microsecond) != 0 {
		s++
	}
	return s
}
