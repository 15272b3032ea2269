package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/courier"
	"github.com/xraph/courier/cluster"
	"github.com/xraph/courier/id"
)

// RegisterWorker adds a worker to the registry, replacing any previous
// record under the same ID.
func (s *Store) RegisterWorker(ctx context.Context, w *cluster.Worker) error {
	wID := w.ID.String()
	key := workerKey(wID)

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, key)
	pipe.HSet(ctx, key, workerToMap(w))
	pipe.SAdd(ctx, workerIDsKey, wID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("courier/redis: register worker: %w", err)
	}
	return nil
}

// DeregisterWorker removes a worker from the registry.
func (s *Store) DeregisterWorker(ctx context.Context, workerID id.WorkerID) error {
	wID := workerID.String()

	pipe := s.client.TxPipeline()
	del := pipe.Del(ctx, workerKey(wID))
	pipe.SRem(ctx, workerIDsKey, wID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("courier/redis: deregister worker: %w", err)
	}
	if del.Val() == 0 {
		return courier.ErrWorkerNotFound
	}
	return nil
}

// HeartbeatWorker sets the worker's last-seen timestamp to at.
func (s *Store) HeartbeatWorker(ctx context.Context, workerID id.WorkerID, at time.Time) error {
	key := workerKey(workerID.String())
	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("courier/redis: heartbeat exists: %w", err)
	}
	if exists == 0 {
		return courier.ErrWorkerNotFound
	}

	if err := s.client.HSet(ctx, key, "last_seen", formatTime(at)).Err(); err != nil {
		return fmt.Errorf("courier/redis: heartbeat worker: %w", err)
	}
	return nil
}

// ListWorkers returns all registered workers, oldest first.
func (s *Store) ListWorkers(ctx context.Context) ([]*cluster.Worker, error) {
	workers, err := s.loadWorkers(ctx)
	if err != nil {
		return nil, fmt.Errorf("courier/redis: list workers: %w", err)
	}
	slices.SortFunc(workers, func(a, b *cluster.Worker) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return workers, nil
}

// ReapDeadWorkers removes and returns workers last seen before cutoff.
func (s *Store) ReapDeadWorkers(ctx context.Context, cutoff time.Time) ([]*cluster.Worker, error) {
	workers, err := s.loadWorkers(ctx)
	if err != nil {
		return nil, fmt.Errorf("courier/redis: reap load: %w", err)
	}

	var dead []*cluster.Worker
	pipe := s.client.TxPipeline()
	for _, w := range workers {
		if w.LastSeen.Before(cutoff) {
			dead = append(dead, w)
			pipe.Del(ctx, workerKey(w.ID.String()))
			pipe.SRem(ctx, workerIDsKey, w.ID.String())
		}
	}
	if len(dead) == 0 {
		return nil, nil
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("courier/redis: reap workers: %w", err)
	}
	return dead, nil
}

func (s *Store) loadWorkers(ctx context.Context) ([]*cluster.Worker, error) {
	ids, err := s.client.SMembers(ctx, workerIDsKey).Result()
	if err != nil {
		return nil, err
	}

	pipe := s.client.Pipeline()
	cmds := make([]*goredis.MapStringStringCmd, len(ids))
	for i, wID := range ids {
		cmds[i] = pipe.HGetAll(ctx, workerKey(wID))
	}
	if len(ids) > 0 {
		if _, err := pipe.Exec(ctx); err != nil {
			return nil, err
		}
	}

	workers := make([]*cluster.Worker, 0, len(ids))
	for _, cmd := range cmds {
		vals := cmd.Val()
		if len(vals) == 0 {
			continue
		}
		w, convErr := mapToWorker(vals)
		if convErr != nil {
			s.logger.Warn("skipping unreadable worker record", "error", convErr)
			continue
		}
		workers = append(workers, w)
	}
	return workers, nil
}

func workerToMap(w *cluster.Worker) map[string]any {
	return map[string]any{
		"id":          w.ID.String(),
		"hostname":    w.Hostname,
		"queues":      marshalJSON(w.Queues),
		"concurrency": w.Concurrency,
		"state":       string(w.State),
		"last_seen":   formatTime(w.LastSeen),
		"created_at":  formatTime(w.CreatedAt),
	}
}

func mapToWorker(m map[string]string) (*cluster.Worker, error) {
	wID, err := id.ParseWorkerID(m["id"])
	if err != nil {
		return nil, fmt.Errorf("courier/redis: parse worker id: %w", err)
	}

	concurrency, _ := strconv.Atoi(m["concurrency"])              //nolint:errcheck // best-effort parse from trusted Redis data
	lastSeen, _ := time.Parse(time.RFC3339Nano, m["last_seen"])   //nolint:errcheck // best-effort parse from trusted Redis data
	createdAt, _ := time.Parse(time.RFC3339Nano, m["created_at"]) //nolint:errcheck // best-effort parse from trusted Redis data

	var queues []string
	if v := m["queues"]; v != "" && v != "null" {
		_ = json.Unmarshal([]byte(v), &queues) //nolint:errcheck // best-effort parse from trusted Redis data
	}

	return &cluster.Worker{
		ID:          wID,
		Hostname:    m["hostname"],
		Queues:      queues,
		Concurrency: concurrency,
		State:       cluster.WorkerState(m["state"]),
		LastSeen:    lastSeen,
		CreatedAt:   createdAt,
	}, nil
}
