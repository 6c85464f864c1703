package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/xraph/forge"

	"github.com/xraph/gpuflow/dlq"
	"github.com/xraph/gpuflow/id"
	"github.com/xraph/gpuflow/job"
)

func (a *API) listDLQ(ctx forge.Context, req *ListDLQRequest) ([]*dlq.Entry, error) {
	entries, err := a.mgr.DLQ().List(ctx.Context(), dlq.ListOpts{
		Limit:      defaultLimit(req.Limit),
		Offset:     req.Offset,
		EndpointID: req.EndpointID,
	})
	if err != nil {
		return nil, fmt.Errorf("list dlq: %w", err)
	}

	return entries, ctx.JSON(http.StatusOK, entries)
}

func (a *API) getDLQ(ctx forge.Context, _ *GetDLQRequest) (*dlq.Entry, error) {
	entryID, err := id.ParseDLQID(ctx.Param("entryId"))
	if err != nil {
		return nil, forge.BadRequest(fmt.Sprintf("invalid DLQ entry ID: %v", err))
	}

	entry, err := a.mgr.DLQ().Get(ctx.Context(), entryID)
	if err != nil {
		return nil, mapStoreError(err)
	}

	return entry, ctx.JSON(http.StatusOK, entry)
}

func (a *API) retryDLQ(ctx forge.Context, _ *RetryDLQRequest) (*job.Job, error) {
	entryID, err := id.ParseDLQID(ctx.Param("entryId"))
	if err != nil {
		return nil, forge.BadRequest(fmt.Sprintf("invalid DLQ entry ID: %v", err))
	}

	j, err := a.mgr.RetryDeadLetter(ctx.Context(), entryID)
	if err != nil {
		return nil, mapStoreError(err)
	}

	return j, ctx.JSON(http.StatusCreated, j)
}

func (a *API) purgeDLQ(ctx forge.Context) error {
	// Purge entries older than 30 days.
	before := time.Now().UTC().Add(-30 * 24 * time.Hour)

	count, err := a.mgr.DLQ().Store().PurgeDLQ(ctx.Context(), before)
	if err != nil {
		return fmt.Errorf("purge dlq: %w", err)
	}

	return ctx.JSON(http.StatusOK, PurgeDLQResponse{Purged: count})
}

func (a *API) dlqCount(ctx forge.Context) error {
	count, err := a.mgr.DLQ().Count(ctx.Context())
	if err != nil {
		return fmt.Errorf("count dlq: %w", err)
	}

	return ctx.JSON(http.StatusOK, DLQCountResponse{Count: count})
}
