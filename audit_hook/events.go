package audithook

// Audit event actions. Each constant corresponds to one ext lifecycle hook
// and becomes the Action field of the audit event.
const (
	ActionJobEnqueued  = "job.enqueued"
	ActionJobLeased    = "job.leased"
	ActionJobDelivered = "job.delivered"
	ActionJobRetrying  = "job.retrying"
	ActionJobFailed    = "job.failed"
	ActionJobDLQ       = "job.dlq"
	ActionJobRearmed   = "job.rearmed"
)

// CategoryJob groups every job action.
const CategoryJob = "courier.job"

// ResourceJob is the Resource field of every event.
const ResourceJob = "job"

// AllActions returns every action this extension can emit.
func AllActions() []string {
	return []string{
		ActionJobEnqueued,
		ActionJobLeased,
		ActionJobDelivered,
		ActionJobRetrying,
		ActionJobFailed,
		ActionJobDLQ,
		ActionJobRearmed,
	}
}
