package redis

// Redis key naming conventions for gpuflow data.
// All keys are prefixed with "gpuflow:" to avoid collisions.

const keyPrefix = "gpuflow:"

// ── Job keys ──

// jobKey returns the key for a job entity: gpuflow:job:{id}
func jobKey(id string) string { return keyPrefix + "job:" + id }

// jobIDsKey is the Set tracking all job IDs for enumeration.
const jobIDsKey = keyPrefix + "job_ids"

// pendingKey is the Sorted Set holding pending job IDs scored by
// creation time (FIFO dispatch order).
const pendingKey = keyPrefix + "pending"

// ── DLQ keys ──

// dlqKey returns the key for a DLQ entry entity: gpuflow:dlq:{id}
func dlqKey(id string) string { return keyPrefix + "dlq:" + id }

// dlqIDsKey is the Set tracking all DLQ entry IDs for enumeration.
const dlqIDsKey = keyPrefix + "dlq_ids"

// ── Spend keys ──

// spendDayKey returns the per-day spend counter: gpuflow:spend:day:{YYYY-MM-DD}
func spendDayKey(day string) string { return keyPrefix + "spend:day:" + day }

// spendMonthKey returns the per-month spend counter: gpuflow:spend:month:{YYYY-MM}
func spendMonthKey(month string) string { return keyPrefix + "spend:month:" + month }
