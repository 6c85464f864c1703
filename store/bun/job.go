package bunstore

import (
	"context"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/xraph/gpuflow"
	"github.com/xraph/gpuflow/id"
	"github.com/xraph/gpuflow/job"
)

// dedupStatuses are the statuses that satisfy a deduplication lookup.
// Failed and cancelled jobs never block resubmission.
var dedupStatuses = []string{
	string(job.StatusPending),
	string(job.StatusRunning),
	string(job.StatusInQueue),
	string(job.StatusCompleted),
}

// CreateJob persists a new job.
func (s *Store) CreateJob(ctx context.Context, j *job.Job) error {
	m := toJobModel(j)
	_, err := s.db.NewInsert().Model(m).Exec(ctx)
	if err != nil {
		if isDuplicateKey(err) {
			return gpuflow.ErrJobAlreadyExists
		}
		return fmt.Errorf("gpuflow/bun: create job: %w", err)
	}
	return nil
}

// UpdateJob persists changes to an existing job.
func (s *Store) UpdateJob(ctx context.Context, j *job.Job) error {
	m := toJobModel(j)
	m.UpdatedAt = time.Now().UTC()
	res, err := s.db.NewUpdate().Model(m).WherePK().Exec(ctx)
	if err != nil {
		return fmt.Errorf("gpuflow/bun: update job: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	if rows == 0 {
		return gpuflow.ErrJobNotFound
	}
	j.UpdatedAt = m.UpdatedAt
	return nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	m := new(jobModel)
	err := s.db.NewSelect().Model(m).
		Where("id = ?", jobID.String()).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, gpuflow.ErrJobNotFound
		}
		return nil, fmt.Errorf("gpuflow/bun: get job: %w", err)
	}
	return fromJobModel(m)
}

// GetJobByHash returns the newest job with the given input hash in a
// status that satisfies deduplication.
func (s *Store) GetJobByHash(ctx context.Context, hash string) (*job.Job, error) {
	m := new(jobModel)
	err := s.db.NewSelect().Model(m).
		Where("input_hash = ?", hash).
		Where("status IN (?)", bun.In(dedupStatuses)).
		Order("created_at DESC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, gpuflow.ErrJobNotFound
		}
		return nil, fmt.Errorf("gpuflow/bun: get job by hash: %w", err)
	}
	return fromJobModel(m)
}

// PendingJobs returns up to limit pending jobs whose NotBefore has
// passed, oldest first.
func (s *Store) PendingJobs(ctx context.Context, limit int, now time.Time) ([]*job.Job, error) {
	var models []jobModel
	q := s.db.NewSelect().Model(&models).
		Where("status = ?", string(job.StatusPending)).
		Where("(not_before IS NULL OR not_before <= ?)", now).
		Order("created_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("gpuflow/bun: pending jobs: %w", err)
	}
	return convertJobs(models)
}

// ActiveJobs returns dispatched jobs that still hold a remote handle.
func (s *Store) ActiveJobs(ctx context.Context) ([]*job.Job, error) {
	var models []jobModel
	err := s.db.NewSelect().Model(&models).
		Where("status IN (?)", bun.In([]string{
			string(job.StatusRunning),
			string(job.StatusInQueue),
		})).
		Where("remote_job_id <> ''").
		Order("created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("gpuflow/bun: active jobs: %w", err)
	}
	return convertJobs(models)
}

// ListJobs returns jobs matching the given options, newest first.
func (s *Store) ListJobs(ctx context.Context, opts job.ListOpts) ([]*job.Job, error) {
	var models []jobModel
	q := s.db.NewSelect().Model(&models)

	if opts.Status != "" {
		q = q.Where("status = ?", string(opts.Status))
	}
	if opts.EndpointID != "" {
		q = q.Where("endpoint_id = ?", opts.EndpointID)
	}

	q = q.Order("created_at DESC")

	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("gpuflow/bun: list jobs: %w", err)
	}
	return convertJobs(models)
}

// JobStats returns aggregate job counts by status.
func (s *Store) JobStats(ctx context.Context) (*job.Stats, error) {
	var rows []struct {
		Status string `bun:"status"`
		Count  int64  `bun:"count"`
	}
	err := s.db.NewSelect().
		TableExpr("gpuflow_jobs").
		ColumnExpr("status, COUNT(*) AS count").
		GroupExpr("status").
		Scan(ctx, &rows)
	if err != nil {
		return nil, fmt.Errorf("gpuflow/bun: job stats: %w", err)
	}

	stats := &job.Stats{}
	for _, row := range rows {
		switch job.Status(row.Status) {
		case job.StatusPending:
			stats.Pending = row.Count
		case job.StatusRunning:
			stats.Running = row.Count
		case job.StatusInQueue:
			stats.InQueue = row.Count
		case job.StatusCompleted:
			stats.Completed = row.Count
		case job.StatusFailed:
			stats.Failed = row.Count
		case job.StatusCancelled:
			stats.Cancelled = row.Count
		}
		stats.Total += row.Count
	}
	return stats, nil
}

func convertJobs(models []jobModel) ([]*job.Job, error) {
	jobs := make([]*job.Job, 0, len(models))
	for i := range models {
		j, err := fromJobModel(&models[i])
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}
