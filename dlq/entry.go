package dlq

import (
	"time"

	"github.com/xraph/courier/id"
	"github.com/xraph/courier/job"
)

// Entry represents a job that was rejected by its endpoint or exhausted its
// retry budget, kept for inspection or replay.
type Entry struct {
	ID         id.DLQID        `json:"id"`
	JobID      string          `json:"job_id"`
	Queue      string          `json:"queue"`
	Payload    []byte          `json:"payload"`
	Schedule   job.Schedule    `json:"schedule"`
	Retry      job.RetryPolicy `json:"retry"`
	Error      string          `json:"error"`
	Attempt    int             `json:"attempt"`
	FailedAt   time.Time       `json:"failed_at"`
	ReplayedAt *time.Time      `json:"replayed_at,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}
