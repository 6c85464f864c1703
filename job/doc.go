// Package job defines the job entity, its state machine, input hashing
// for deduplication, and the persistence contract.
//
// # Job Entity
//
// A [Job] is one unit of AI-generation work targeted at a remote
// serverless endpoint. It embeds [gpuflow.Entity] for timestamps,
// carries an opaque JSON input payload, and progresses through a state
// machine driven exclusively by the scheduler:
//
//	pending → running → in_queue → completed
//	pending → running → in_queue → failed
//	pending → running → pending (retry with backoff) → ...
//	pending → running → failed → dlq
//	pending/running/in_queue → cancelled
//
// Fields of note:
//   - EndpointID: the remote backend resource the job targets
//   - InputHash: deterministic fingerprint of Input, the dedup key
//   - Attempts: dispatch attempts so far (monotonically increasing)
//   - RemoteJobID: handle returned by the backend once accepted
//   - NotBefore: earliest time the job may be re-selected after a retry
//
// # Deduplication
//
// [HashInput] serializes the input with recursively sorted object keys
// and returns a truncated SHA-256 digest. At most one job per distinct
// hash may exist in a non-terminal state at a time; a submission whose
// hash matches an existing pending, running, in-queue, or completed job
// returns that job instead of creating a new row.
//
// # Store
//
// [Store] is the persistence contract the scheduler relies on. A single
// backend (memory, bun/Postgres, redis) implements it alongside the dlq
// and budget contracts.
package job
