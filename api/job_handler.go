package api

import (
	"fmt"
	"net/http"

	"github.com/xraph/forge"

	"github.com/xraph/gpuflow/id"
	"github.com/xraph/gpuflow/job"
)

func (a *API) submitJob(ctx forge.Context, req *SubmitJobRequest) (*SubmitJobResponse, error) {
	if req.EndpointID == "" {
		return nil, forge.BadRequest("endpoint_id is required")
	}
	if len(req.Input) == 0 {
		return nil, forge.BadRequest("input is required")
	}

	var opts []job.SubmitOption
	if req.SkipDeduplication {
		opts = append(opts, job.WithSkipDeduplication())
	}
	if req.MaxAttempts > 0 {
		opts = append(opts, job.WithMaxAttempts(req.MaxAttempts))
	}

	j, deduplicated, err := a.mgr.Submit(ctx.Context(), req.EndpointID, req.Input, opts...)
	if err != nil {
		return nil, mapStoreError(err)
	}

	resp := &SubmitJobResponse{Job: j, Deduplicated: deduplicated}
	status := http.StatusCreated
	if deduplicated {
		status = http.StatusOK
	}
	return resp, ctx.JSON(status, resp)
}

func (a *API) listJobs(ctx forge.Context, req *ListJobsRequest) ([]*job.Job, error) {
	jobs, err := a.mgr.ListJobs(ctx.Context(), job.ListOpts{
		Limit:      defaultLimit(req.Limit),
		Offset:     req.Offset,
		Status:     job.Status(req.Status),
		EndpointID: req.EndpointID,
	})
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}

	return jobs, ctx.JSON(http.StatusOK, jobs)
}

func (a *API) getJob(ctx forge.Context, _ *GetJobRequest) (*job.Job, error) {
	jobID, err := id.ParseJobID(ctx.Param("jobId"))
	if err != nil {
		return nil, forge.BadRequest(fmt.Sprintf("invalid job ID: %v", err))
	}

	j, err := a.mgr.GetJob(ctx.Context(), jobID)
	if err != nil {
		return nil, mapStoreError(err)
	}

	return j, ctx.JSON(http.StatusOK, j)
}

func (a *API) cancelJob(ctx forge.Context, _ *CancelJobRequest) (*job.Job, error) {
	jobID, err := id.ParseJobID(ctx.Param("jobId"))
	if err != nil {
		return nil, forge.BadRequest(fmt.Sprintf("invalid job ID: %v", err))
	}

	j, err := a.mgr.Cancel(ctx.Context(), jobID)
	if err != nil {
		return nil, mapStoreError(err)
	}

	return j, ctx.JSON(http.StatusOK, j)
}
