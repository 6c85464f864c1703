// Package sched implements the queue manager: the control loop that
// admits, dispatches, polls, retries, and dead-letters GPU jobs.
//
// A [Manager] owns the full job lifecycle:
//
//   - Submit hashes the input, deduplicates against recent jobs, checks
//     the budget gate, and persists a PENDING row.
//   - A ticker-driven loop claims pending jobs up to the concurrency
//     cap, acquires a dispatch token, and submits each job to the
//     remote backend concurrently.
//   - The same loop polls the remote status of every in-flight job and
//     applies terminal transitions.
//   - Failed dispatch calls retry with exponential backoff until the
//     attempt budget is spent, then move to the dead letter queue.
//     Failures reported by the backend itself are final: the run
//     already consumed GPU time.
//
// Lifecycle events flow through an ext.Registry so extensions (stream
// broker, metrics) observe every transition without coupling to the
// loop itself.
package sched
