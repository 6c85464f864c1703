package audit

// Audit event actions. Each constant corresponds to one ext lifecycle hook
// and becomes the Action field of the audit event.
const (
	ActionJobCreated   = "job.created"
	ActionJobQueued    = "job.queued"
	ActionJobStarted   = "job.started"
	ActionJobCompleted = "job.completed"
	ActionJobFailed    = "job.failed"
	ActionJobRetrying  = "job.retrying"
	ActionJobDLQ       = "job.dlq"
	ActionJobCancelled = "job.cancelled"
)

// CategoryJob groups all job lifecycle actions.
const CategoryJob = "gpuflow.job"

// ResourceJob is the Resource field used for job events.
const ResourceJob = "job"

// AllActions returns every action this extension can emit.
func AllActions() []string {
	return []string{
		ActionJobCreated,
		ActionJobQueued,
		ActionJobStarted,
		ActionJobCompleted,
		ActionJobFailed,
		ActionJobRetrying,
		ActionJobDLQ,
		ActionJobCancelled,
	}
}
