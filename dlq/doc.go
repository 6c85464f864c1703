// Package dlq provides the dead letter queue for jobs that have
// exhausted their dispatch retry budget.
//
// When a dispatch attempt fails and the job's attempt count has reached
// its ceiling, the scheduler calls [Service.Push] to archive a full
// snapshot of the job: endpoint, input payload, final error message, and
// attempt count. Entries are append-only; an operator-triggered retry
// (sched.Manager.RetryDeadLetter) re-submits the original input as a
// brand-new job, bypassing deduplication, and stamps ReplayedAt on the
// entry without deleting it.
package dlq
