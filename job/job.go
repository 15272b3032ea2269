package job

import (
	"time"

	"github.com/xraph/courier"
	"github.com/xraph/courier/backoff"
	"github.com/xraph/courier/id"
)

// State represents the lifecycle state of a job.
type State string

const (
	// StatePending means the job waits for NotBefore and a free worker.
	StatePending State = "pending"
	// StateLeased means a worker holds a lease and is delivering the job.
	StateLeased State = "leased"
	// StateFailed means the job was rejected or ran out of retries. It is
	// retained for inspection and never claimed again.
	StateFailed State = "failed"
)

// ScheduleKind distinguishes one-off jobs from recurring ones.
type ScheduleKind string

const (
	ScheduleOneOff ScheduleKind = "once"
	ScheduleCron   ScheduleKind = "cron"
)

// Schedule describes when a job recurs.
type Schedule struct {
	Kind       ScheduleKind `json:"kind"`
	Expression string       `json:"expression,omitempty"`
	// Timezone is an IANA zone name. Empty means UTC.
	Timezone string `json:"timezone,omitempty"`
}

// OneOff returns the schedule of a job delivered once.
func OneOff() Schedule { return Schedule{Kind: ScheduleOneOff} }

// Cron returns a recurring schedule.
func Cron(expression, timezone string) Schedule {
	return Schedule{Kind: ScheduleCron, Expression: expression, Timezone: timezone}
}

// RetryPolicy governs the delay before a failed delivery is attempted again
// and the point at which the job is dead-lettered.
type RetryPolicy struct {
	MaxRetries int          `json:"max_retries"`
	Backoff    backoff.Spec `json:"backoff"`
}

// Lease is the exclusive, time-bounded right to deliver a job.
type Lease struct {
	// ID is minted fresh on every claim and fences later mutations.
	ID        id.ID       `json:"id"`
	JobID     string      `json:"job_id"`
	Holder    id.WorkerID `json:"holder"`
	ExpiresAt time.Time   `json:"expires_at"`
}

// Live reports whether the lease still excludes other workers at now.
func (l *Lease) Live(now time.Time) bool {
	return l != nil && now.Before(l.ExpiresAt)
}

// Job is one scheduled webhook delivery.
type Job struct {
	courier.Entity

	ID           string      `json:"id"`
	Queue        string      `json:"queue"`
	Payload      []byte      `json:"payload"`
	State        State       `json:"state"`
	Schedule     Schedule    `json:"schedule"`
	Retry        RetryPolicy `json:"retry"`
	Attempt      int         `json:"attempt"`
	NotBefore    time.Time   `json:"not_before"`
	ScheduledFor time.Time   `json:"scheduled_for"`
	Lease        *Lease      `json:"lease,omitempty"`
	LastError    string      `json:"last_error,omitempty"`
	FailedAt     *time.Time  `json:"failed_at,omitempty"`
}

// IsCron reports whether the job recurs.
func (j *Job) IsCron() bool { return j.Schedule.Kind == ScheduleCron }

// Claimable reports whether a worker may claim the job at now: it is
// pending and due, or its holder's lease has expired.
func (j *Job) Claimable(now time.Time) bool {
	switch j.State {
	case StatePending:
		return !j.NotBefore.After(now)
	case StateLeased:
		return !j.Lease.Live(now)
	default:
		return false
	}
}

// Clone returns a deep copy of j.
func (j *Job) Clone() *Job {
	c := *j
	if j.Payload != nil {
		c.Payload = append([]byte(nil), j.Payload...)
	}
	if j.Lease != nil {
		l := *j.Lease
		c.Lease = &l
	}
	if j.FailedAt != nil {
		t := *j.FailedAt
		c.FailedAt = &t
	}
	return &c
}
