// Package stream provides a real-time event broker for GPUFlow lifecycle
// events. It bridges the ext.Extension system to connected clients via
// topic-based pub/sub.
package stream

import (
	"encoding/json"
	"time"
)

// EventType identifies the kind of lifecycle event.
type EventType string

const (
	EventJobCreated   EventType = "job:created"
	EventJobRunning   EventType = "job:running"
	EventJobQueued    EventType = "job:queued"
	EventJobRetry     EventType = "job:retry"
	EventJobFailed    EventType = "job:failed"
	EventJobCompleted EventType = "job:completed"
	EventJobCancelled EventType = "job:cancelled"
	EventJobDLQ       EventType = "job:dlq"
)

// Event is the envelope sent to subscribers on a topic channel.
type Event struct {
	// Type identifies the lifecycle event.
	Type EventType `json:"type"`

	// Timestamp is when the event was emitted.
	Timestamp time.Time `json:"ts"`

	// Topic is the entity channel this event was published on.
	Topic string `json:"topic"`

	// Data is the event-specific payload.
	Data json.RawMessage `json:"data"`
}

// JobEventData is the payload for job lifecycle events.
type JobEventData struct {
	JobID      string `json:"job_id"`
	EndpointID string `json:"endpoint_id"`
	Status     string `json:"status"`
	InputHash  string `json:"input_hash,omitempty"`
	ElapsedMs  int64  `json:"elapsed_ms,omitempty"`
	Error      string `json:"error,omitempty"`
	Attempt    int    `json:"attempt,omitempty"`
	NextRunAt  string `json:"next_run_at,omitempty"`
}
