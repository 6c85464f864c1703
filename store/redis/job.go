package redis

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/gpuflow"
	"github.com/xraph/gpuflow/id"
	"github.com/xraph/gpuflow/job"
)

// CreateJob stores the job as a Hash and adds it to the pending Sorted Set.
func (s *Store) CreateJob(ctx context.Context, j *job.Job) error {
	jID := j.ID.String()
	key := jobKey(jID)

	// Check for duplicate.
	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("gpuflow/redis: create check exists: %w", err)
	}
	if exists > 0 {
		return gpuflow.ErrJobAlreadyExists
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, jobToMap(j))
	pipe.SAdd(ctx, jobIDsKey, jID)
	if j.Status == job.StatusPending {
		pipe.ZAdd(ctx, pendingKey, goredis.Z{
			Score:  float64(j.CreatedAt.UnixMilli()),
			Member: jID,
		})
	}

	if _, err = pipe.Exec(ctx); err != nil {
		return fmt.Errorf("gpuflow/redis: create job: %w", err)
	}
	return nil
}

// UpdateJob persists changes to an existing job and keeps the pending
// Sorted Set in sync with the job's status.
func (s *Store) UpdateJob(ctx context.Context, j *job.Job) error {
	jID := j.ID.String()
	key := jobKey(jID)

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("gpuflow/redis: update job exists: %w", err)
	}
	if exists == 0 {
		return gpuflow.ErrJobNotFound
	}

	j.UpdatedAt = time.Now().UTC()

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, jobToMap(j))
	if j.Status == job.StatusPending {
		pipe.ZAdd(ctx, pendingKey, goredis.Z{
			Score:  float64(j.CreatedAt.UnixMilli()),
			Member: jID,
		})
	} else {
		pipe.ZRem(ctx, pendingKey, jID)
	}

	if _, err = pipe.Exec(ctx); err != nil {
		return fmt.Errorf("gpuflow/redis: update job: %w", err)
	}
	return nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	return s.getJobByKey(ctx, jobKey(jobID.String()))
}

// GetJobByHash returns the newest job with the given input hash in a
// status that satisfies deduplication.
func (s *Store) GetJobByHash(ctx context.Context, hash string) (*job.Job, error) {
	ids, err := s.client.SMembers(ctx, jobIDsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("gpuflow/redis: hash lookup smembers: %w", err)
	}

	var newest *job.Job
	for _, jID := range ids {
		j, getErr := s.getJobByKey(ctx, jobKey(jID))
		if getErr != nil {
			continue // skip missing
		}
		if j.InputHash != hash || !dedupStatus(j.Status) {
			continue
		}
		if newest == nil || j.CreatedAt.After(newest.CreatedAt) {
			newest = j
		}
	}
	if newest == nil {
		return nil, gpuflow.ErrJobNotFound
	}
	return newest, nil
}

// PendingJobs returns up to limit pending jobs whose NotBefore has
// passed, oldest first.
func (s *Store) PendingJobs(ctx context.Context, limit int, now time.Time) ([]*job.Job, error) {
	ids, err := s.client.ZRangeByScore(ctx, pendingKey, &goredis.ZRangeBy{
		Min: "-inf", Max: "+inf",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("gpuflow/redis: pending zrange: %w", err)
	}

	jobs := make([]*job.Job, 0, limit)
	for _, jID := range ids {
		if limit > 0 && len(jobs) >= limit {
			break
		}
		j, getErr := s.getJobByKey(ctx, jobKey(jID))
		if getErr != nil {
			continue
		}
		if j.Status != job.StatusPending {
			continue
		}
		if !j.NotBefore.IsZero() && j.NotBefore.After(now) {
			continue
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

// ActiveJobs returns dispatched jobs that still hold a remote handle.
func (s *Store) ActiveJobs(ctx context.Context) ([]*job.Job, error) {
	ids, err := s.client.SMembers(ctx, jobIDsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("gpuflow/redis: active smembers: %w", err)
	}

	var active []*job.Job
	for _, jID := range ids {
		j, getErr := s.getJobByKey(ctx, jobKey(jID))
		if getErr != nil {
			continue
		}
		if j.Active() {
			active = append(active, j)
		}
	}
	sort.Slice(active, func(i, k int) bool {
		return active[i].CreatedAt.Before(active[k].CreatedAt)
	})
	return active, nil
}

// ListJobs returns jobs matching the given options, newest first.
func (s *Store) ListJobs(ctx context.Context, opts job.ListOpts) ([]*job.Job, error) {
	ids, err := s.client.SMembers(ctx, jobIDsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("gpuflow/redis: list smembers: %w", err)
	}

	jobs := make([]*job.Job, 0, len(ids))
	for _, jID := range ids {
		j, getErr := s.getJobByKey(ctx, jobKey(jID))
		if getErr != nil {
			continue // skip missing
		}
		if opts.Status != "" && j.Status != opts.Status {
			continue
		}
		if opts.EndpointID != "" && j.EndpointID != opts.EndpointID {
			continue
		}
		jobs = append(jobs, j)
	}

	sort.Slice(jobs, func(i, k int) bool {
		return jobs[i].CreatedAt.After(jobs[k].CreatedAt)
	})

	// Apply offset/limit.
	if opts.Offset > 0 && opts.Offset < len(jobs) {
		jobs = jobs[opts.Offset:]
	} else if opts.Offset >= len(jobs) && opts.Offset > 0 {
		return nil, nil
	}
	if opts.Limit > 0 && opts.Limit < len(jobs) {
		jobs = jobs[:opts.Limit]
	}
	return jobs, nil
}

// JobStats returns aggregate job counts by status.
func (s *Store) JobStats(ctx context.Context) (*job.Stats, error) {
	ids, err := s.client.SMembers(ctx, jobIDsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("gpuflow/redis: stats smembers: %w", err)
	}

	stats := &job.Stats{}
	for _, jID := range ids {
		j, getErr := s.getJobByKey(ctx, jobKey(jID))
		if getErr != nil {
			continue
		}
		switch j.Status {
		case job.StatusPending:
			stats.Pending++
		case job.StatusRunning:
			stats.Running++
		case job.StatusInQueue:
			stats.InQueue++
		case job.StatusCompleted:
			stats.Completed++
		case job.StatusFailed:
			stats.Failed++
		case job.StatusCancelled:
			stats.Cancelled++
		}
		stats.Total++
	}
	return stats, nil
}

// ── helpers ──

// dedupStatus reports whether a job in the given status satisfies a
// deduplication lookup. Failed and cancelled jobs never block resubmission.
func dedupStatus(st job.Status) bool {
	switch st {
	case job.StatusPending, job.StatusRunning, job.StatusInQueue, job.StatusCompleted:
		return true
	default:
		return false
	}
}

func jobToMap(j *job.Job) map[string]interface{} {
	m := map[string]interface{}{
		"id":            j.ID.String(),
		"endpoint_id":   j.EndpointID,
		"input_hash":    j.InputHash,
		"input":         string(j.Input),
		"status":        string(j.Status),
		"attempts":      strconv.Itoa(j.Attempts),
		"max_attempts":  strconv.Itoa(j.MaxAttempts),
		"remote_job_id": j.RemoteJobID,
		"output":        string(j.Output),
		"last_error":    j.LastError,
		"duration_ms":   strconv.FormatInt(j.DurationMs, 10),
		"created_at":    j.CreatedAt.Format(time.RFC3339Nano),
		"updated_at":    j.UpdatedAt.Format(time.RFC3339Nano),
	}
	if !j.NotBefore.IsZero() {
		m["not_before"] = j.NotBefore.Format(time.RFC3339Nano)
	} else {
		m["not_before"] = ""
	}
	if j.StartedAt != nil {
		m["started_at"] = j.StartedAt.Format(time.RFC3339Nano)
	}
	if j.CompletedAt != nil {
		m["completed_at"] = j.CompletedAt.Format(time.RFC3339Nano)
	}
	return m
}

func (s *Store) getJobByKey(ctx context.Context, key string) (*job.Job, error) {
	vals, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("gpuflow/redis: get job: %w", err)
	}
	if len(vals) == 0 {
		return nil, gpuflow.ErrJobNotFound
	}
	return mapToJob(vals)
}

func mapToJob(m map[string]string) (*job.Job, error) {
	jID, err := id.ParseJobID(m["id"])
	if err != nil {
		return nil, fmt.Errorf("gpuflow/redis: parse job id: %w", err)
	}

	attempts, _ := strconv.Atoi(m["attempts"])                   //nolint:errcheck // best-effort parse from trusted Redis data
	maxAttempts, _ := strconv.Atoi(m["max_attempts"])            //nolint:errcheck // best-effort parse from trusted Redis data
	durationMs, _ := strconv.ParseInt(m["duration_ms"], 10, 64)  //nolint:errcheck // best-effort parse from trusted Redis data
	createdAt, _ := time.Parse(time.RFC3339Nano, m["created_at"]) //nolint:errcheck // best-effort parse from trusted Redis data
	updatedAt, _ := time.Parse(time.RFC3339Nano, m["updated_at"]) //nolint:errcheck // best-effort parse from trusted Redis data

	j := &job.Job{
		Entity: gpuflow.Entity{
			CreatedAt: createdAt,
			UpdatedAt: updatedAt,
		},
		ID:          jID,
		EndpointID:  m["endpoint_id"],
		InputHash:   m["input_hash"],
		Input:       []byte(m["input"]),
		Status:      job.Status(m["status"]),
		Attempts:    attempts,
		MaxAttempts: maxAttempts,
		RemoteJobID: m["remote_job_id"],
		LastError:   m["last_error"],
		DurationMs:  durationMs,
	}

	if v := m["output"]; v != "" {
		j.Output = []byte(v)
	}
	if v := m["not_before"]; v != "" {
		j.NotBefore, _ = time.Parse(time.RFC3339Nano, v) //nolint:errcheck // best-effort parse from trusted Redis data
	}
	if v := m["started_at"]; v != "" {
		t, _ := time.Parse(time.RFC3339Nano, v) //nolint:errcheck // best-effort parse from trusted Redis data
		j.StartedAt = &t
	}
	if v := m["completed_at"]; v != "" {
		t, _ := time.Parse(time.RFC3339Nano, v) //nolint:errcheck // best-effort parse from trusted Redis data
		j.CompletedAt = &t
	}

	return j, nil
}
