package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/xraph/courier"
	"github.com/xraph/courier/cluster"
	"github.com/xraph/courier/id"
)

const workerColumns = `id, hostname, queues, concurrency, state, last_seen, created_at`

type workerRow struct {
	ID          string    `db:"id"`
	Hostname    string    `db:"hostname"`
	Queues      []string  `db:"queues"`
	Concurrency int       `db:"concurrency"`
	State       string    `db:"state"`
	LastSeen    time.Time `db:"last_seen"`
	CreatedAt   time.Time `db:"created_at"`
}

func (r *workerRow) toWorker() (*cluster.Worker, error) {
	wID, err := id.ParseWorkerID(r.ID)
	if err != nil {
		return nil, fmt.Errorf("courier/postgres: parse worker id: %w", err)
	}
	return &cluster.Worker{
		ID:          wID,
		Hostname:    r.Hostname,
		Queues:      r.Queues,
		Concurrency: r.Concurrency,
		State:       cluster.WorkerState(r.State),
		LastSeen:    r.LastSeen.UTC(),
		CreatedAt:   r.CreatedAt.UTC(),
	}, nil
}

func collectWorkers(rows pgx.Rows) ([]*cluster.Worker, error) {
	records, err := pgx.CollectRows(rows, pgx.RowToAddrOfStructByName[workerRow])
	if err != nil {
		return nil, err
	}
	workers := make([]*cluster.Worker, 0, len(records))
	for _, r := range records {
		w, err := r.toWorker()
		if err != nil {
			return nil, err
		}
		workers = append(workers, w)
	}
	return workers, nil
}

// RegisterWorker adds a worker to the registry, replacing any previous
// record under the same ID.
func (s *Store) RegisterWorker(ctx context.Context, w *cluster.Worker) error {
	queues := w.Queues
	if queues == nil {
		queues = []string{}
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO courier_workers (`+workerColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			hostname = EXCLUDED.hostname,
			queues = EXCLUDED.queues,
			concurrency = EXCLUDED.concurrency,
			state = EXCLUDED.state,
			last_seen = EXCLUDED.last_seen,
			created_at = EXCLUDED.created_at`,
		w.ID.String(), w.Hostname, queues, w.Concurrency, string(w.State),
		w.LastSeen, w.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("courier/postgres: register worker: %w", err)
	}
	return nil
}

// DeregisterWorker removes a worker from the registry.
func (s *Store) DeregisterWorker(ctx context.Context, workerID id.WorkerID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM courier_workers WHERE id = $1`, workerID.String())
	if err != nil {
		return fmt.Errorf("courier/postgres: deregister worker: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return courier.ErrWorkerNotFound
	}
	return nil
}

// HeartbeatWorker sets the worker's last-seen timestamp to at.
func (s *Store) HeartbeatWorker(ctx context.Context, workerID id.WorkerID, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE courier_workers SET last_seen = $2 WHERE id = $1`,
		workerID.String(), at.UTC(),
	)
	if err != nil {
		return fmt.Errorf("courier/postgres: heartbeat worker: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return courier.ErrWorkerNotFound
	}
	return nil
}

// ListWorkers returns all registered workers, oldest first.
func (s *Store) ListWorkers(ctx context.Context) ([]*cluster.Worker, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+workerColumns+` FROM courier_workers ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("courier/postgres: list workers: %w", err)
	}
	workers, err := collectWorkers(rows)
	if err != nil {
		return nil, fmt.Errorf("courier/postgres: list workers: %w", err)
	}
	return workers, nil
}

// ReapDeadWorkers removes and returns workers last seen before cutoff.
func (s *Store) ReapDeadWorkers(ctx context.Context, cutoff time.Time) ([]*cluster.Worker, error) {
	rows, err := s.pool.Query(ctx,
		`DELETE FROM courier_workers WHERE last_seen < $1 RETURNING `+workerColumns,
		cutoff.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("courier/postgres: reap workers: %w", err)
	}
	dead, err := collectWorkers(rows)
	if err != nil {
		return nil, fmt.Errorf("courier/postgres: reap workers: %w", err)
	}
	return dead, nil
}
