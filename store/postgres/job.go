package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/xraph/courier"
	"github.com/xraph/courier/id"
	"github.com/xraph/courier/job"
)

const jobColumns = `queue, id, payload, state, schedule, retry, attempt,
	not_before, scheduled_for, lease_id, lease_holder, lease_expires_at,
	last_error, failed_at, created_at, updated_at`

// jobRow mirrors a courier_jobs row.
type jobRow struct {
	Queue          string          `db:"queue"`
	ID             string          `db:"id"`
	Payload        []byte          `db:"payload"`
	State          string          `db:"state"`
	Schedule       job.Schedule    `db:"schedule"`
	Retry          job.RetryPolicy `db:"retry"`
	Attempt        int             `db:"attempt"`
	NotBefore      time.Time       `db:"not_before"`
	ScheduledFor   time.Time       `db:"scheduled_for"`
	LeaseID        *string         `db:"lease_id"`
	LeaseHolder    *string         `db:"lease_holder"`
	LeaseExpiresAt *time.Time      `db:"lease_expires_at"`
	LastError      string          `db:"last_error"`
	FailedAt       *time.Time      `db:"failed_at"`
	CreatedAt      time.Time       `db:"created_at"`
	UpdatedAt      time.Time       `db:"updated_at"`
}

func (r *jobRow) toJob() (*job.Job, error) {
	j := &job.Job{
		Entity:       courier.Entity{CreatedAt: r.CreatedAt.UTC(), UpdatedAt: r.UpdatedAt.UTC()},
		ID:           r.ID,
		Queue:        r.Queue,
		Payload:      r.Payload,
		State:        job.State(r.State),
		Schedule:     r.Schedule,
		Retry:        r.Retry,
		Attempt:      r.Attempt,
		NotBefore:    r.NotBefore.UTC(),
		ScheduledFor: r.ScheduledFor.UTC(),
		LastError:    r.LastError,
		FailedAt:     utcPtr(r.FailedAt),
	}
	if r.LeaseID != nil {
		leaseID, err := id.ParseLeaseID(*r.LeaseID)
		if err != nil {
			return nil, fmt.Errorf("courier/postgres: parse lease id: %w", err)
		}
		l := &job.Lease{ID: leaseID, JobID: r.ID}
		if r.LeaseHolder != nil {
			l.Holder, _ = id.ParseWorkerID(*r.LeaseHolder) //nolint:errcheck // best-effort parse from trusted rows
		}
		if r.LeaseExpiresAt != nil {
			l.ExpiresAt = r.LeaseExpiresAt.UTC()
		}
		j.Lease = l
	}
	return j, nil
}

// jobArgs returns the column values of j in jobColumns order.
func jobArgs(j *job.Job) []any {
	var leaseID, holder *string
	var expires *time.Time
	if j.Lease != nil {
		leaseID = nullString(j.Lease.ID.String())
		holder = nullString(j.Lease.Holder.String())
		expires = &j.Lease.ExpiresAt
	}
	payload := j.Payload
	if payload == nil {
		payload = []byte{}
	}
	return []any{
		j.Queue, j.ID, payload, string(j.State),
		marshalJSON(j.Schedule), marshalJSON(j.Retry), j.Attempt,
		j.NotBefore, j.ScheduledFor, leaseID, holder, expires,
		j.LastError, j.FailedAt, j.CreatedAt, j.UpdatedAt,
	}
}

const insertJobSQL = `
	INSERT INTO courier_jobs (` + jobColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`

// InsertJob persists a new job. With override, an existing row under the
// same key is replaced in the same statement.
func (s *Store) InsertJob(ctx context.Context, j *job.Job, override bool) error {
	query := insertJobSQL + ` ON CONFLICT (queue, id) DO NOTHING`
	if override {
		query = insertJobSQL + ` ON CONFLICT (queue, id) DO UPDATE SET
			payload = EXCLUDED.payload,
			state = EXCLUDED.state,
			schedule = EXCLUDED.schedule,
			retry = EXCLUDED.retry,
			attempt = EXCLUDED.attempt,
			not_before = EXCLUDED.not_before,
			scheduled_for = EXCLUDED.scheduled_for,
			lease_id = EXCLUDED.lease_id,
			lease_holder = EXCLUDED.lease_holder,
			lease_expires_at = EXCLUDED.lease_expires_at,
			last_error = EXCLUDED.last_error,
			failed_at = EXCLUDED.failed_at,
			created_at = EXCLUDED.created_at,
			updated_at = EXCLUDED.updated_at`
	}

	tag, err := s.pool.Exec(ctx, query, jobArgs(j)...)
	if err != nil {
		if isDuplicateKey(err) {
			return courier.ErrJobAlreadyExists
		}
		return fmt.Errorf("courier/postgres: insert job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return courier.ErrJobAlreadyExists
	}
	return nil
}

// ClaimNextDue leases the claimable job with the earliest NotBefore. Rows
// locked by a concurrent claim are skipped rather than waited on.
func (s *Store) ClaimNextDue(ctx context.Context, opts job.ClaimOpts) (*job.Job, error) {
	queues := opts.Queues
	if queues == nil {
		queues = []string{}
	}
	rows, err := s.pool.Query(ctx, `
		UPDATE courier_jobs AS j
		SET state = 'leased',
			lease_id = $1,
			lease_holder = $2,
			lease_expires_at = $3,
			updated_at = $4
		FROM (
			SELECT queue AS next_queue, id AS next_id
			FROM courier_jobs
			WHERE ((state = 'pending' AND not_before <= $4)
				OR (state = 'leased' AND lease_expires_at <= $4))
			  AND (cardinality($5::text[]) = 0 OR queue = ANY($5::text[]))
			ORDER BY not_before, id
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		) AS next
		WHERE j.queue = next.next_queue AND j.id = next.next_id
		RETURNING `+jobColumns,
		id.NewLeaseID().String(),
		opts.Holder.String(),
		opts.Now.Add(opts.TTL).UTC(),
		opts.Now.UTC(),
		queues,
	)
	if err != nil {
		return nil, fmt.Errorf("courier/postgres: claim job: %w", err)
	}
	row, err := pgx.CollectOneRow(rows, pgx.RowToAddrOfStructByName[jobRow])
	if isNoRows(err) {
		return nil, nil //nolint:nilnil // nothing due
	}
	if err != nil {
		return nil, fmt.Errorf("courier/postgres: claim job: %w", err)
	}
	return row.toJob()
}

// ReleaseJob rewrites the job under its lease and clears the lease.
func (s *Store) ReleaseJob(ctx context.Context, j *job.Job, leaseID id.ID) error {
	cp := j.Clone()
	cp.Lease = nil
	args := append(jobArgs(cp), leaseID.String())

	tag, err := s.pool.Exec(ctx, `
		UPDATE courier_jobs SET
			payload = $3,
			state = $4,
			schedule = $5,
			retry = $6,
			attempt = $7,
			not_before = $8,
			scheduled_for = $9,
			lease_id = $10,
			lease_holder = $11,
			lease_expires_at = $12,
			last_error = $13,
			failed_at = $14,
			created_at = $15,
			updated_at = $16
		WHERE queue = $1 AND id = $2 AND lease_id = $17`, args...)
	if err != nil {
		return fmt.Errorf("courier/postgres: release job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.fenceMiss(ctx, j.Queue, j.ID)
	}
	return nil
}

// CompleteJob deletes the job under its lease.
func (s *Store) CompleteJob(ctx context.Context, queue, jobID string, leaseID id.ID) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM courier_jobs WHERE queue = $1 AND id = $2 AND lease_id = $3`,
		queue, jobID, leaseID.String(),
	)
	if err != nil {
		return fmt.Errorf("courier/postgres: complete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.fenceMiss(ctx, queue, jobID)
	}
	return nil
}

// fenceMiss explains why a fenced statement touched no row.
func (s *Store) fenceMiss(ctx context.Context, queue, jobID string) error {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM courier_jobs WHERE queue = $1 AND id = $2)`,
		queue, jobID,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("courier/postgres: check job: %w", err)
	}
	if !exists {
		return courier.ErrJobNotFound
	}
	return courier.ErrLeaseLost
}

// GetJob retrieves a job by key.
func (s *Store) GetJob(ctx context.Context, queue, jobID string) (*job.Job, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+jobColumns+` FROM courier_jobs WHERE queue = $1 AND id = $2`,
		queue, jobID,
	)
	if err != nil {
		return nil, fmt.Errorf("courier/postgres: get job: %w", err)
	}
	row, err := pgx.CollectOneRow(rows, pgx.RowToAddrOfStructByName[jobRow])
	if isNoRows(err) {
		return nil, courier.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("courier/postgres: get job: %w", err)
	}
	return row.toJob()
}

// DeleteJob removes a job regardless of any lease on it.
func (s *Store) DeleteJob(ctx context.Context, queue, jobID string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM courier_jobs WHERE queue = $1 AND id = $2`, queue, jobID)
	if err != nil {
		return fmt.Errorf("courier/postgres: delete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return courier.ErrJobNotFound
	}
	return nil
}

// ListJobs returns a page of jobs ordered by ID, then queue. Both columns
// use the C collation, so the order is bytewise like the other stores.
func (s *Store) ListJobs(ctx context.Context, opts job.ListOpts) ([]*job.Job, string, error) {
	var limit int64
	if opts.Limit > 0 {
		limit = int64(opts.Limit) + 1
	}
	afterID, afterQueue := opts.Cursor, opts.Queue
	if opts.Queue == "" && opts.Cursor != "" {
		afterID, afterQueue = job.DecodeCursor(opts.Cursor)
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+jobColumns+`
		FROM courier_jobs
		WHERE ($1 = '' OR queue = $1)
		  AND ($2 = '' OR state = $2)
		  AND ($3 = '' OR (id, queue) > ($3::text, $5::text))
		ORDER BY id, queue
		LIMIT NULLIF($4::bigint, 0)`,
		opts.Queue, string(opts.State), afterID, limit, afterQueue,
	)
	if err != nil {
		return nil, "", fmt.Errorf("courier/postgres: list jobs: %w", err)
	}
	records, err := pgx.CollectRows(rows, pgx.RowToAddrOfStructByName[jobRow])
	if err != nil {
		return nil, "", fmt.Errorf("courier/postgres: list jobs: %w", err)
	}

	jobs := make([]*job.Job, 0, len(records))
	for _, r := range records {
		j, err := r.toJob()
		if err != nil {
			return nil, "", err
		}
		jobs = append(jobs, j)
	}

	if opts.Limit <= 0 || len(jobs) <= opts.Limit {
		return jobs, "", nil
	}
	jobs = jobs[:opts.Limit]
	last := jobs[opts.Limit-1]
	if opts.Queue != "" {
		return jobs, last.ID, nil
	}
	return jobs, job.EncodeCursor(last.ID, last.Queue), nil
}

// CountJobs returns the number of jobs matching the given options.
func (s *Store) CountJobs(ctx context.Context, opts job.CountOpts) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx, `
		SELECT count(*) FROM courier_jobs
		WHERE ($1 = '' OR queue = $1) AND ($2 = '' OR state = $2)`,
		opts.Queue, string(opts.State),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("courier/postgres: count jobs: %w", err)
	}
	return n, nil
}
