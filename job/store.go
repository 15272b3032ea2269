package job

import (
	"context"
	"encoding/base64"
	"strings"
	"time"

	"github.com/xraph/courier/id"
)

// ClaimOpts controls a single claim attempt.
type ClaimOpts struct {
	// Queues restricts the claim to these encoded descriptors. Empty means
	// every queue.
	Queues []string
	// Holder identifies the claiming worker.
	Holder id.WorkerID
	// Now is the claim time. Jobs with NotBefore after Now are not due.
	Now time.Time
	// TTL is the lease duration granted on success.
	TTL time.Duration
}

// ListOpts controls pagination and filtering for job list queries.
// Results are ordered by job ID, then queue.
type ListOpts struct {
	// Queue filters by encoded descriptor. Empty means all queues.
	Queue string
	// State filters by job state. Empty means all states.
	State State
	// Cursor is the NextCursor of the previous page. Within one queue it is
	// the last job ID; across queues it also names the queue, because IDs
	// are only unique per queue.
	Cursor string
	// Limit is the maximum number of jobs to return. Zero means no limit.
	Limit int
}

// CountOpts controls filtering for job count queries.
type CountOpts struct {
	// Queue filters by encoded descriptor. Empty means all queues.
	Queue string
	// State filters by job state. Empty means all states.
	State State
}

// Store defines the persistence contract for jobs. Jobs are keyed by
// (queue, ID), so tenants choose IDs without colliding with each other.
type Store interface {
	// InsertJob persists a new job. It fails with
	// courier.ErrJobAlreadyExists when the key is taken, unless override
	// is set, in which case the existing record (and any lease on it) is
	// replaced.
	InsertJob(ctx context.Context, j *Job, override bool) error

	// ClaimNextDue atomically selects the claimable job with the earliest
	// NotBefore, grants it a fresh lease and returns it in state leased.
	// It returns (nil, nil) when nothing is due. Two concurrent calls never
	// return the same job while the first lease is live.
	ClaimNextDue(ctx context.Context, opts ClaimOpts) (*Job, error)

	// ReleaseJob replaces the stored record with j, clearing its lease,
	// provided the stored lease ID still equals leaseID. It fails with
	// courier.ErrLeaseLost when the lease was superseded and with
	// courier.ErrJobNotFound when the job was deleted.
	ReleaseJob(ctx context.Context, j *Job, leaseID id.ID) error

	// CompleteJob deletes the job under the same fencing rules as
	// ReleaseJob.
	CompleteJob(ctx context.Context, queue, jobID string, leaseID id.ID) error

	// GetJob retrieves a job by key.
	GetJob(ctx context.Context, queue, jobID string) (*Job, error)

	// DeleteJob removes a job regardless of any lease on it.
	DeleteJob(ctx context.Context, queue, jobID string) error

	// ListJobs returns a page of jobs and the cursor for the next page,
	// which is empty on the last page.
	ListJobs(ctx context.Context, opts ListOpts) ([]*Job, string, error)

	// CountJobs returns the number of jobs matching the given options.
	CountJobs(ctx context.Context, opts CountOpts) (int64, error)
}

// EncodeCursor returns the cross-queue position after (jobID, queue).
func EncodeCursor(jobID, queue string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(jobID + "\x00" + queue))
}

// DecodeCursor reverses EncodeCursor. Anything else is read as a bare job
// ID with an empty queue, which resumes at the first queue holding that ID.
func DecodeCursor(c string) (jobID, queue string) {
	raw, err := base64.RawURLEncoding.DecodeString(c)
	if err != nil {
		return c, ""
	}
	jobID, queue, ok := strings.Cut(string(raw), "\x00")
	if !ok {
		return c, ""
	}
	return jobID, queue
}
