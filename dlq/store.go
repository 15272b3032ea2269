package dlq

import (
	"context"
	"time"

	"github.com/xraph/courier/id"
)

// ListOpts controls pagination and filtering for DLQ list queries.
// Results are ordered by entry ID, which sorts by failure time.
type ListOpts struct {
	// Queue filters by encoded descriptor. Empty means all queues.
	Queue string
	// Cursor is the ID of the last entry of the previous page.
	Cursor string
	// Limit is the maximum number of entries to return. Zero means no limit.
	Limit int
}

// Store defines the persistence contract for the dead letter queue.
type Store interface {
	// PushDLQ adds a failed job entry to the dead letter queue.
	PushDLQ(ctx context.Context, entry *Entry) error

	// ListDLQ returns a page of entries and the cursor for the next page,
	// which is empty on the last page.
	ListDLQ(ctx context.Context, opts ListOpts) ([]*Entry, string, error)

	// GetDLQ retrieves a DLQ entry by ID.
	GetDLQ(ctx context.Context, entryID id.DLQID) (*Entry, error)

	// ReplayDLQ marks a DLQ entry as replayed at the given time. The
	// re-enqueue itself is handled at the service layer.
	ReplayDLQ(ctx context.Context, entryID id.DLQID, at time.Time) error

	// PurgeDLQ removes DLQ entries with FailedAt before the given time.
	// Returns the number of entries removed.
	PurgeDLQ(ctx context.Context, before time.Time) (int64, error)

	// CountDLQ returns the total number of entries in the dead letter queue.
	CountDLQ(ctx context.Context) (int64, error)
}
