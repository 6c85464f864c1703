package api

import (
	"net/http"

	"github.com/xraph/forge"

	"github.com/xraph/gpuflow/dlq"
	"github.com/xraph/gpuflow/job"
	"github.com/xraph/gpuflow/sched"
)

// API wires all Forge-style HTTP handlers together for the gpuflow system.
type API struct {
	mgr    *sched.Manager
	router forge.Router
}

// New creates an API from a scheduler Manager.
func New(mgr *sched.Manager, router forge.Router) *API {
	return &API{mgr: mgr, router: router}
}

// Handler returns the fully assembled http.Handler with all routes.
func (a *API) Handler() http.Handler {
	if a.router == nil {
		a.router = forge.NewRouter()
	}
	a.RegisterRoutes(a.router)
	return a.router.Handler()
}

// RegisterRoutes registers all gpuflow API routes into the given Forge router
// with full OpenAPI metadata.
func (a *API) RegisterRoutes(router forge.Router) {
	a.registerJobRoutes(router)
	a.registerDLQRoutes(router)
	a.registerStatsRoutes(router)
}

// registerJobRoutes registers job management routes.
func (a *API) registerJobRoutes(router forge.Router) {
	g := router.Group("/v1", forge.WithGroupTags("jobs"))

	_ = g.POST("/jobs", a.submitJob,
		forge.WithSummary("Submit job"),
		forge.WithDescription("Submits a job for execution on a compute endpoint. Identical inputs are deduplicated against live and completed jobs."),
		forge.WithOperationID("submitJob"),
		forge.WithRequestSchema(SubmitJobRequest{}),
		forge.WithCreatedResponse(SubmitJobResponse{}),
		forge.WithErrorResponses(),
	)

	_ = g.GET("/jobs", a.listJobs,
		forge.WithSummary("List jobs"),
		forge.WithDescription("Returns jobs filtered by status and endpoint, newest first."),
		forge.WithOperationID("listJobs"),
		forge.WithRequestSchema(ListJobsRequest{}),
		forge.WithResponseSchema(http.StatusOK, "Job list", []*job.Job{}),
		forge.WithErrorResponses(),
	)

	_ = g.GET("/jobs/:jobId", a.getJob,
		forge.WithSummary("Get job"),
		forge.WithDescription("Returns details of a specific job."),
		forge.WithOperationID("getJob"),
		forge.WithResponseSchema(http.StatusOK, "Job details", &job.Job{}),
		forge.WithErrorResponses(),
	)

	_ = g.POST("/jobs/:jobId/cancel", a.cancelJob,
		forge.WithSummary("Cancel job"),
		forge.WithDescription("Cancels a job. Dispatched jobs are cancelled on the compute backend best-effort; cancelling a finished job is a no-op."),
		forge.WithOperationID("cancelJob"),
		forge.WithResponseSchema(http.StatusOK, "Cancelled job", &job.Job{}),
		forge.WithErrorResponses(),
	)
}

// registerDLQRoutes registers dead letter queue management routes.
func (a *API) registerDLQRoutes(router forge.Router) {
	g := router.Group("/v1", forge.WithGroupTags("dlq"))

	_ = g.GET("/dlq", a.listDLQ,
		forge.WithSummary("List DLQ entries"),
		forge.WithDescription("Returns dead letter queue entries, newest first."),
		forge.WithOperationID("listDLQ"),
		forge.WithRequestSchema(ListDLQRequest{}),
		forge.WithResponseSchema(http.StatusOK, "DLQ entries", []*dlq.Entry{}),
		forge.WithErrorResponses(),
	)

	_ = g.GET("/dlq/:entryId", a.getDLQ,
		forge.WithSummary("Get DLQ entry"),
		forge.WithDescription("Returns details of a specific DLQ entry."),
		forge.WithOperationID("getDLQ"),
		forge.WithResponseSchema(http.StatusOK, "DLQ entry details", &dlq.Entry{}),
		forge.WithErrorResponses(),
	)

	_ = g.POST("/dlq/:entryId/retry", a.retryDLQ,
		forge.WithSummary("Retry DLQ entry"),
		forge.WithDescription("Resubmits a dead-lettered job as a fresh pending job and stamps the entry as replayed."),
		forge.WithOperationID("retryDLQ"),
		forge.WithCreatedResponse(&job.Job{}),
		forge.WithErrorResponses(),
	)

	_ = g.POST("/dlq/purge", a.purgeDLQ,
		forge.WithSummary("Purge DLQ"),
		forge.WithDescription("Removes old DLQ entries."),
		forge.WithOperationID("purgeDLQ"),
		forge.WithResponseSchema(http.StatusOK, "Purge result", PurgeDLQResponse{}),
		forge.WithErrorResponses(),
	)

	_ = g.GET("/dlq/count", a.dlqCount,
		forge.WithSummary("DLQ count"),
		forge.WithDescription("Returns the total number of DLQ entries."),
		forge.WithOperationID("dlqCount"),
		forge.WithResponseSchema(http.StatusOK, "DLQ count", DLQCountResponse{}),
		forge.WithErrorResponses(),
	)
}

// registerStatsRoutes registers aggregate statistics routes.
func (a *API) registerStatsRoutes(router forge.Router) {
	g := router.Group("/v1", forge.WithGroupTags("stats"))

	_ = g.GET("/stats", a.stats,
		forge.WithSummary("Scheduler stats"),
		forge.WithDescription("Returns aggregate job counts, DLQ size, active dispatch slots, rate tokens, and budget figures."),
		forge.WithOperationID("schedulerStats"),
		forge.WithResponseSchema(http.StatusOK, "Scheduler statistics", &sched.Stats{}),
		forge.WithErrorResponses(),
	)
}
