package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/courier"
	"github.com/xraph/courier/id"
	"github.com/xraph/courier/job"
)

// listBatch is the number of index entries fetched per round trip while
// paging through jobs.
const listBatch = 256

// jobArgs returns the ARGV prefix shared by job scripts.
func jobArgs(queue, jobID string) []any {
	return []any{member(queue, jobID), jobID + "\x00" + queue, jobID}
}

// dueScore is the score of j in the due sets: the first microsecond at
// which it becomes claimable.
func dueScore(j *job.Job) int64 {
	if j.State == job.StateLeased && j.Lease != nil {
		return ceilScore(j.Lease.ExpiresAt)
	}
	return ceilScore(j.NotBefore)
}

// InsertJob stores the job as a Hash and indexes it by due time.
func (s *Store) InsertJob(ctx context.Context, j *job.Job, override bool) error {
	flag := "0"
	if override {
		flag = "1"
	}
	args := append(jobArgs(j.Queue, j.ID), flag, string(j.State), dueScore(j))
	args = append(args, jobToArgs(j)...)

	n, err := insertScript.Run(ctx, s.client, jobScriptKeys(j.Queue, j.ID), args...).Int64()
	if err != nil {
		return fmt.Errorf("courier/redis: insert job: %w", err)
	}
	if n == 0 {
		return courier.ErrJobAlreadyExists
	}
	return nil
}

// ClaimNextDue leases the job with the lowest due score across the
// requested queues.
func (s *Store) ClaimNextDue(ctx context.Context, opts job.ClaimOpts) (*job.Job, error) {
	keys := []string{dueKey}
	if len(opts.Queues) > 0 {
		keys = keys[:0]
		for _, q := range opts.Queues {
			keys = append(keys, queueDueKey(q))
		}
	}

	expires := opts.Now.Add(opts.TTL).UTC()
	res, err := claimScript.Run(ctx, s.client, keys,
		floorScore(opts.Now),
		keyPrefix,
		id.NewLeaseID().String(),
		opts.Holder.String(),
		expires.Format(time.RFC3339Nano),
		ceilScore(expires),
		opts.Now.UTC().Format(time.RFC3339Nano),
	).Slice()
	if errors.Is(err, goredis.Nil) {
		return nil, nil //nolint:nilnil // nothing due
	}
	if err != nil {
		return nil, fmt.Errorf("courier/redis: claim job: %w", err)
	}
	return mapToJob(pairsToMap(res))
}

// ReleaseJob rewrites the job under its lease.
func (s *Store) ReleaseJob(ctx context.Context, j *job.Job, leaseID id.ID) error {
	cp := j.Clone()
	cp.Lease = nil
	if cp.State == job.StateLeased {
		cp.State = job.StatePending
	}
	args := append(jobArgs(cp.Queue, cp.ID), leaseID.String(), string(cp.State), dueScore(cp))
	args = append(args, jobToArgs(cp)...)

	n, err := releaseScript.Run(ctx, s.client, jobScriptKeys(cp.Queue, cp.ID), args...).Int64()
	if err != nil {
		return fmt.Errorf("courier/redis: release job: %w", err)
	}
	return fenceErr(n)
}

// CompleteJob deletes the job under its lease.
func (s *Store) CompleteJob(ctx context.Context, queue, jobID string, leaseID id.ID) error {
	args := append(jobArgs(queue, jobID), leaseID.String())
	n, err := completeScript.Run(ctx, s.client, jobScriptKeys(queue, jobID), args...).Int64()
	if err != nil {
		return fmt.Errorf("courier/redis: complete job: %w", err)
	}
	return fenceErr(n)
}

func fenceErr(n int64) error {
	switch n {
	case resultNotFound:
		return courier.ErrJobNotFound
	case resultLeaseLost:
		return courier.ErrLeaseLost
	default:
		return nil
	}
}

// GetJob retrieves a job by key.
func (s *Store) GetJob(ctx context.Context, queue, jobID string) (*job.Job, error) {
	vals, err := s.client.HGetAll(ctx, jobKey(queue, jobID)).Result()
	if err != nil {
		return nil, fmt.Errorf("courier/redis: get job: %w", err)
	}
	if len(vals) == 0 {
		return nil, courier.ErrJobNotFound
	}
	return mapToJob(vals)
}

// DeleteJob removes a job regardless of any lease on it.
func (s *Store) DeleteJob(ctx context.Context, queue, jobID string) error {
	n, err := deleteScript.Run(ctx, s.client, jobScriptKeys(queue, jobID), jobArgs(queue, jobID)...).Int64()
	if err != nil {
		return fmt.Errorf("courier/redis: delete job: %w", err)
	}
	return fenceErr(n)
}

// ListJobs pages through the lexicographic ID index, loading hashes in
// pipelined batches and filtering by state.
func (s *Store) ListJobs(ctx context.Context, opts job.ListOpts) ([]*job.Job, string, error) {
	index, lo := jobIndexKey, "-"
	if opts.Queue != "" {
		index = queueIndexKey(opts.Queue)
		if opts.Cursor != "" {
			lo = "(" + opts.Cursor
		}
	} else if opts.Cursor != "" {
		// Global members are "id NUL queue", so the cursor maps onto one.
		afterID, afterQueue := job.DecodeCursor(opts.Cursor)
		lo = "(" + afterID + "\x00" + afterQueue
	}

	want := -1
	if opts.Limit > 0 {
		want = opts.Limit + 1
	}

	var result []*job.Job
	for want < 0 || len(result) < want {
		members, err := s.client.ZRangeByLex(ctx, index, &goredis.ZRangeBy{
			Min: lo, Max: "+", Count: listBatch,
		}).Result()
		if err != nil {
			return nil, "", fmt.Errorf("courier/redis: list jobs: %w", err)
		}
		if len(members) == 0 {
			break
		}

		pipe := s.client.Pipeline()
		cmds := make([]*goredis.MapStringStringCmd, len(members))
		for i, m := range members {
			queue, jobID := opts.Queue, m
			if opts.Queue == "" {
				jobID, queue = splitMember(m)
			}
			cmds[i] = pipe.HGetAll(ctx, jobKey(queue, jobID))
		}
		if _, err := pipe.Exec(ctx); err != nil {
			return nil, "", fmt.Errorf("courier/redis: list jobs load: %w", err)
		}

		for _, cmd := range cmds {
			vals := cmd.Val()
			if len(vals) == 0 {
				continue // deleted between index read and load
			}
			if opts.State != "" && vals["state"] != string(opts.State) {
				continue
			}
			j, err := mapToJob(vals)
			if err != nil {
				return nil, "", err
			}
			result = append(result, j)
			if want > 0 && len(result) == want {
				break
			}
		}
		lo = "(" + members[len(members)-1]
	}

	if opts.Limit <= 0 || len(result) <= opts.Limit {
		return result, "", nil
	}
	result = result[:opts.Limit]
	last := result[opts.Limit-1]
	if opts.Queue != "" {
		return result, last.ID, nil
	}
	return result, job.EncodeCursor(last.ID, last.Queue), nil
}

// CountJobs returns the number of jobs matching the given options.
func (s *Store) CountJobs(ctx context.Context, opts job.CountOpts) (int64, error) {
	var (
		n   int64
		err error
	)
	switch {
	case opts.Queue == "" && opts.State == "":
		n, err = s.client.ZCard(ctx, jobIndexKey).Result()
	case opts.Queue == "":
		n, err = s.client.SCard(ctx, stateKey(opts.State)).Result()
	case opts.State == "":
		n, err = s.client.ZCard(ctx, queueIndexKey(opts.Queue)).Result()
	default:
		n, err = s.countQueueState(ctx, opts.Queue, opts.State)
	}
	if err != nil {
		return 0, fmt.Errorf("courier/redis: count jobs: %w", err)
	}
	return n, nil
}

func (s *Store) countQueueState(ctx context.Context, queue string, state job.State) (int64, error) {
	ids, err := s.client.ZRange(ctx, queueIndexKey(queue), 0, -1).Result()
	if err != nil || len(ids) == 0 {
		return 0, err
	}
	members := make([]any, len(ids))
	for i, jobID := range ids {
		members[i] = member(queue, jobID)
	}
	hits, err := s.client.SMIsMember(ctx, stateKey(state), members...).Result()
	if err != nil {
		return 0, err
	}
	var n int64
	for _, hit := range hits {
		if hit {
			n++
		}
	}
	return n, nil
}

// splitMember splits a global index member into job ID and queue.
func splitMember(m string) (jobID, queue string) {
	for i := 0; i < len(m); i++ {
		if m[i] == 0 {
			return m[:i], m[i+1:]
		}
	}
	return m, ""
}

// ── Hash mapping ──

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

// jobToArgs flattens j into HSET field/value pairs. Every field is always
// written so that a rewrite leaves nothing stale behind.
func jobToArgs(j *job.Job) []any {
	var leaseID, holder, expires, failedAt string
	if j.Lease != nil {
		leaseID = j.Lease.ID.String()
		holder = j.Lease.Holder.String()
		expires = formatTime(j.Lease.ExpiresAt)
	}
	if j.FailedAt != nil {
		failedAt = formatTime(*j.FailedAt)
	}
	return []any{
		"id", j.ID,
		"queue", j.Queue,
		"payload", j.Payload,
		"state", string(j.State),
		"schedule", marshalJSON(j.Schedule),
		"retry", marshalJSON(j.Retry),
		"attempt", j.Attempt,
		"not_before", formatTime(j.NotBefore),
		"scheduled_for", formatTime(j.ScheduledFor),
		"last_error", j.LastError,
		"failed_at", failedAt,
		"lease_id", leaseID,
		"lease_holder", holder,
		"lease_expires", expires,
		"created_at", formatTime(j.CreatedAt),
		"updated_at", formatTime(j.UpdatedAt),
	}
}

func mapToJob(m map[string]string) (*job.Job, error) {
	var sched job.Schedule
	if err := json.Unmarshal([]byte(m["schedule"]), &sched); err != nil {
		return nil, fmt.Errorf("courier/redis: decode schedule: %w", err)
	}
	var retry job.RetryPolicy
	if err := json.Unmarshal([]byte(m["retry"]), &retry); err != nil {
		return nil, fmt.Errorf("courier/redis: decode retry: %w", err)
	}

	attempt, _ := strconv.Atoi(m["attempt"])                            //nolint:errcheck // best-effort parse from trusted Redis data
	notBefore, _ := time.Parse(time.RFC3339Nano, m["not_before"])       //nolint:errcheck // best-effort parse from trusted Redis data
	scheduledFor, _ := time.Parse(time.RFC3339Nano, m["scheduled_for"]) //nolint:errcheck // best-effort parse from trusted Redis data
	createdAt, _ := time.Parse(time.RFC3339Nano, m["created_at"])       //nolint:errcheck // best-effort parse from trusted Redis data
	updatedAt, _ := time.Parse(time.RFC3339Nano, m["updated_at"])       //nolint:errcheck // best-effort parse from trusted Redis data

	j := &job.Job{
		Entity:       courier.Entity{CreatedAt: createdAt, UpdatedAt: updatedAt},
		ID:           m["id"],
		Queue:        m["queue"],
		Payload:      []byte(m["payload"]),
		State:        job.State(m["state"]),
		Schedule:     sched,
		Retry:        retry,
		Attempt:      attempt,
		NotBefore:    notBefore,
		ScheduledFor: scheduledFor,
		LastError:    m["last_error"],
	}
	if v := m["failed_at"]; v != "" {
		t, _ := time.Parse(time.RFC3339Nano, v) //nolint:errcheck // best-effort parse from trusted Redis data
		j.FailedAt = &t
	}
	if v := m["lease_id"]; v != "" {
		leaseID, err := id.ParseLeaseID(v)
		if err != nil {
			return nil, fmt.Errorf("courier/redis: parse lease id: %w", err)
		}
		holder, _ := id.ParseWorkerID(m["lease_holder"])                //nolint:errcheck // best-effort parse from trusted Redis data
		expires, _ := time.Parse(time.RFC3339Nano, m["lease_expires"]) //nolint:errcheck // best-effort parse from trusted Redis data
		j.Lease = &job.Lease{ID: leaseID, JobID: j.ID, Holder: holder, ExpiresAt: expires}
	}
	return j, nil
}

// pairsToMap converts a flat HGETALL script reply into a map.
func pairsToMap(vals []any) map[string]string {
	m := make(map[string]string, len(vals)/2)
	for i := 0; i+1 < len(vals); i += 2 {
		k, _ := vals[i].(string)
		v, _ := vals[i+1].(string)
		m[k] = v
	}
	return m
}

// marshalJSON is a helper to marshal to JSON string.
func marshalJSON(v any) string {
	b, _ := json.Marshal(v) //nolint:errcheck // marshal should not fail for plain structs
	return string(b)
}
