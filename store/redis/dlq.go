package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/courier"
	"github.com/xraph/courier/dlq"
	"github.com/xraph/courier/id"
	"github.com/xraph/courier/job"
)

// PushDLQ stores the entry as a Hash and indexes it by ID, queue and
// failure time.
func (s *Store) PushDLQ(ctx context.Context, entry *dlq.Entry) error {
	eID := entry.ID.String()

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, dlqKey(eID), dlqToMap(entry))
	pipe.ZAdd(ctx, dlqIndexKey, goredis.Z{Score: 0, Member: eID})
	pipe.ZAdd(ctx, queueDLQIndexKey(entry.Queue), goredis.Z{Score: 0, Member: eID})
	pipe.ZAdd(ctx, dlqFailedKey, goredis.Z{Score: float64(floorScore(entry.FailedAt)), Member: eID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("courier/redis: push dlq: %w", err)
	}
	return nil
}

// ListDLQ returns a page of entries ordered by ID.
func (s *Store) ListDLQ(ctx context.Context, opts dlq.ListOpts) ([]*dlq.Entry, string, error) {
	index := dlqIndexKey
	if opts.Queue != "" {
		index = queueDLQIndexKey(opts.Queue)
	}
	lo := "-"
	if opts.Cursor != "" {
		lo = "(" + opts.Cursor
	}
	by := &goredis.ZRangeBy{Min: lo, Max: "+"}
	if opts.Limit > 0 {
		by.Count = int64(opts.Limit) + 1
	}

	ids, err := s.client.ZRangeByLex(ctx, index, by).Result()
	if err != nil {
		return nil, "", fmt.Errorf("courier/redis: list dlq: %w", err)
	}

	pipe := s.client.Pipeline()
	cmds := make([]*goredis.MapStringStringCmd, len(ids))
	for i, eID := range ids {
		cmds[i] = pipe.HGetAll(ctx, dlqKey(eID))
	}
	if len(ids) > 0 {
		if _, err := pipe.Exec(ctx); err != nil {
			return nil, "", fmt.Errorf("courier/redis: list dlq load: %w", err)
		}
	}

	entries := make([]*dlq.Entry, 0, len(ids))
	for _, cmd := range cmds {
		vals := cmd.Val()
		if len(vals) == 0 {
			continue
		}
		e, err := mapToDLQ(vals)
		if err != nil {
			return nil, "", err
		}
		entries = append(entries, e)
	}

	if opts.Limit <= 0 || len(entries) <= opts.Limit {
		return entries, "", nil
	}
	entries = entries[:opts.Limit]
	return entries, entries[opts.Limit-1].ID.String(), nil
}

// GetDLQ retrieves a DLQ entry by ID.
func (s *Store) GetDLQ(ctx context.Context, entryID id.DLQID) (*dlq.Entry, error) {
	vals, err := s.client.HGetAll(ctx, dlqKey(entryID.String())).Result()
	if err != nil {
		return nil, fmt.Errorf("courier/redis: get dlq: %w", err)
	}
	if len(vals) == 0 {
		return nil, courier.ErrDLQNotFound
	}
	return mapToDLQ(vals)
}

// ReplayDLQ marks a DLQ entry as replayed.
func (s *Store) ReplayDLQ(ctx context.Context, entryID id.DLQID, at time.Time) error {
	key := dlqKey(entryID.String())
	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("courier/redis: replay dlq exists: %w", err)
	}
	if exists == 0 {
		return courier.ErrDLQNotFound
	}
	if err := s.client.HSet(ctx, key, "replayed_at", formatTime(at)).Err(); err != nil {
		return fmt.Errorf("courier/redis: replay dlq: %w", err)
	}
	return nil
}

// PurgeDLQ removes entries that failed before the given time.
func (s *Store) PurgeDLQ(ctx context.Context, before time.Time) (int64, error) {
	// Exclusive upper bound: FailedAt strictly before the cutoff.
	ids, err := s.client.ZRangeByScore(ctx, dlqFailedKey, &goredis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(floorScore(before), 10),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("courier/redis: purge dlq scan: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	// Entry queues are needed to clean the per-queue indexes.
	pipe := s.client.Pipeline()
	queues := make([]*goredis.StringCmd, len(ids))
	for i, eID := range ids {
		queues[i] = pipe.HGet(ctx, dlqKey(eID), "queue")
	}
	_, _ = pipe.Exec(ctx) //nolint:errcheck // missing fields surface as goredis.Nil per command

	tx := s.client.TxPipeline()
	for i, eID := range ids {
		tx.Del(ctx, dlqKey(eID))
		tx.ZRem(ctx, dlqIndexKey, eID)
		tx.ZRem(ctx, dlqFailedKey, eID)
		if q := queues[i].Val(); q != "" {
			tx.ZRem(ctx, queueDLQIndexKey(q), eID)
		}
	}
	if _, err := tx.Exec(ctx); err != nil {
		return 0, fmt.Errorf("courier/redis: purge dlq: %w", err)
	}
	return int64(len(ids)), nil
}

// CountDLQ returns the total number of entries in the dead letter queue.
func (s *Store) CountDLQ(ctx context.Context) (int64, error) {
	n, err := s.client.ZCard(ctx, dlqIndexKey).Result()
	if err != nil {
		return 0, fmt.Errorf("courier/redis: count dlq: %w", err)
	}
	return n, nil
}

func dlqToMap(e *dlq.Entry) map[string]any {
	m := map[string]any{
		"id":         e.ID.String(),
		"job_id":     e.JobID,
		"queue":      e.Queue,
		"payload":    e.Payload,
		"schedule":   marshalJSON(e.Schedule),
		"retry":      marshalJSON(e.Retry),
		"error":      e.Error,
		"attempt":    e.Attempt,
		"failed_at":  formatTime(e.FailedAt),
		"created_at": formatTime(e.CreatedAt),
	}
	if e.ReplayedAt != nil {
		m["replayed_at"] = formatTime(*e.ReplayedAt)
	}
	return m
}

func mapToDLQ(m map[string]string) (*dlq.Entry, error) {
	eID, err := id.ParseDLQID(m["id"])
	if err != nil {
		return nil, fmt.Errorf("courier/redis: parse dlq id: %w", err)
	}

	var sched job.Schedule
	_ = json.Unmarshal([]byte(m["schedule"]), &sched) //nolint:errcheck // best-effort parse from trusted Redis data
	var retry job.RetryPolicy
	_ = json.Unmarshal([]byte(m["retry"]), &retry) //nolint:errcheck // best-effort parse from trusted Redis data

	attempt, _ := strconv.Atoi(m["attempt"])                      //nolint:errcheck // best-effort parse from trusted Redis data
	failedAt, _ := time.Parse(time.RFC3339Nano, m["failed_at"])   //nolint:errcheck // best-effort parse from trusted Redis data
	createdAt, _ := time.Parse(time.RFC3339Nano, m["created_at"]) //nolint:errcheck // best-effort parse from trusted Redis data

	e := &dlq.Entry{
		ID:        eID,
		JobID:     m["job_id"],
		Queue:     m["queue"],
		Payload:   []byte(m["payload"]),
		Schedule:  sched,
		Retry:     retry,
		Error:     m["error"],
		Attempt:   attempt,
		FailedAt:  failedAt,
		CreatedAt: createdAt,
	}
	if v := m["replayed_at"]; v != "" {
		t, _ := time.Parse(time.RFC3339Nano, v) //nolint:errcheck // best-effort parse from trusted Redis data
		e.ReplayedAt = &t
	}
	return e, nil
}
