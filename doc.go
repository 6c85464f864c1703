// Package gpuflow provides the job queue and scheduling core of a GPU
// compute control panel. It admits AI-generation workloads against a
// daily spend budget, deduplicates identical submissions, dispatches
// them to a remote serverless execution backend under a rate limit and
// a concurrency cap, polls for completion, retries failed dispatches
// with exponential backoff, and archives exhausted jobs in a dead
// letter queue.
//
// gpuflow is designed as a library, not a service. Construct a store,
// a compute client, and a scheduler, and wire them together:
//
//	st := memory.New()
//	cc := compute.NewHTTPClient(apiKey)
//	m := sched.NewManager(st, cc, slog.Default(), sched.WithConfig(gpuflow.DefaultConfig()))
//
// # Architecture
//
// gpuflow follows a composable store pattern where each subsystem (job,
// dlq, budget ledger) defines its own store interface. A single backend
// implements all of them. Lifecycle events flow through an extension
// registry to observers such as the stream broker and the metrics
// extension; the persisted job row is always the source of truth and
// the event stream is a best-effort live feed.
//
// All entity IDs use TypeID — type-prefixed, K-sortable, UUIDv7-based,
// compile-time safe identifiers.
package gpuflow
