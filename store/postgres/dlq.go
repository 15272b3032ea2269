package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/xraph/courier"
	"github.com/xraph/courier/dlq"
	"github.com/xraph/courier/id"
	"github.com/xraph/courier/job"
)

const dlqColumns = `id, job_id, queue, payload, schedule, retry, error, attempt,
	failed_at, replayed_at, created_at`

type dlqRow struct {
	ID         string          `db:"id"`
	JobID      string          `db:"job_id"`
	Queue      string          `db:"queue"`
	Payload    []byte          `db:"payload"`
	Schedule   job.Schedule    `db:"schedule"`
	Retry      job.RetryPolicy `db:"retry"`
	Error      string          `db:"error"`
	Attempt    int             `db:"attempt"`
	FailedAt   time.Time       `db:"failed_at"`
	ReplayedAt *time.Time      `db:"replayed_at"`
	CreatedAt  time.Time       `db:"created_at"`
}

func (r *dlqRow) toEntry() (*dlq.Entry, error) {
	eID, err := id.ParseDLQID(r.ID)
	if err != nil {
		return nil, fmt.Errorf("courier/postgres: parse dlq id: %w", err)
	}
	return &dlq.Entry{
		ID:         eID,
		JobID:      r.JobID,
		Queue:      r.Queue,
		Payload:    r.Payload,
		Schedule:   r.Schedule,
		Retry:      r.Retry,
		Error:      r.Error,
		Attempt:    r.Attempt,
		FailedAt:   r.FailedAt.UTC(),
		ReplayedAt: utcPtr(r.ReplayedAt),
		CreatedAt:  r.CreatedAt.UTC(),
	}, nil
}

// PushDLQ adds a failed job entry to the dead letter queue.
func (s *Store) PushDLQ(ctx context.Context, e *dlq.Entry) error {
	payload := e.Payload
	if payload == nil {
		payload = []byte{}
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO courier_dlq (`+dlqColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		e.ID.String(), e.JobID, e.Queue, payload,
		marshalJSON(e.Schedule), marshalJSON(e.Retry),
		e.Error, e.Attempt, e.FailedAt, e.ReplayedAt, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("courier/postgres: push dlq: %w", err)
	}
	return nil
}

// ListDLQ returns a page of entries ordered by ID.
func (s *Store) ListDLQ(ctx context.Context, opts dlq.ListOpts) ([]*dlq.Entry, string, error) {
	var limit int64
	if opts.Limit > 0 {
		limit = int64(opts.Limit) + 1
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+dlqColumns+`
		FROM courier_dlq
		WHERE ($1 = '' OR queue = $1) AND ($2 = '' OR id > $2)
		ORDER BY id
		LIMIT NULLIF($3::bigint, 0)`,
		opts.Queue, opts.Cursor, limit,
	)
	if err != nil {
		return nil, "", fmt.Errorf("courier/postgres: list dlq: %w", err)
	}
	records, err := pgx.CollectRows(rows, pgx.RowToAddrOfStructByName[dlqRow])
	if err != nil {
		return nil, "", fmt.Errorf("courier/postgres: list dlq: %w", err)
	}

	entries := make([]*dlq.Entry, 0, len(records))
	for _, r := range records {
		e, err := r.toEntry()
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
	rows, err := s.pool.Query(ctx,
		`SELECT `+dlqColumns+` FROM courier_dlq WHERE id = $1`, entryID.String())
	if err != nil {
		return nil, fmt.Errorf("courier/postgres: get dlq: %w", err)
	}
	row, err := pgx.CollectOneRow(rows, pgx.RowToAddrOfStructByName[dlqRow])
	if isNoRows(err) {
		return nil, courier.ErrDLQNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("courier/postgres: get dlq: %w", err)
	}
	return row.toEntry()
}

// ReplayDLQ marks a DLQ entry as replayed.
func (s *Store) ReplayDLQ(ctx context.Context, entryID id.DLQID, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE courier_dlq SET replayed_at = $2 WHERE id = $1`,
		entryID.String(), at.UTC(),
	)
	if err != nil {
		return fmt.Errorf("courier/postgres: replay dlq: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return courier.ErrDLQNotFound
	}
	return nil
}

// PurgeDLQ removes DLQ entries with FailedAt before the given time.
func (s *Store) PurgeDLQ(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM courier_dlq WHERE failed_at < $1`, before.UTC())
	if err != nil {
		return 0, fmt.Errorf("courier/postgres: purge dlq: %w", err)
	}
	return tag.RowsAffected(), nil
}

// CountDLQ returns the total number of entries in the dead letter queue.
func (s *Store) CountDLQ(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM courier_dlq`).Scan(&n); err != nil {
		return 0, fmt.Errorf("courier/postgres: count dlq: %w", err)
	}
	return n, nil
}
