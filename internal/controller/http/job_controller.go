// Package http exposes the job core's HTTP surface: health checks, job
// status/listing/metrics, ingress, and the Prometheus scrape endpoint.
package http

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/arcana-labs/jobcore/internal/jobs"
	"github.com/arcana-labs/jobcore/internal/middleware"
)

// JobController binds C4/C5/C8/C9 and A8 to the HTTP surface.
type JobController struct {
	store   jobs.StatusStore
	queue   *jobs.Queue
	health  *jobs.HealthCheckService
	ingress *jobs.IngressAdapter
	metrics *jobs.MetricsProvider
	auth    *middleware.AuthMiddleware
}

// NewJobController wires the controller over the job core's components.
func NewJobController(
	store jobs.StatusStore,
	queue *jobs.Queue,
	health *jobs.HealthCheckService,
	ingress *jobs.IngressAdapter,
	metrics *jobs.MetricsProvider,
	auth *middleware.AuthMiddleware,
) *JobController {
	return &JobController{
		store:   store,
		queue:   queue,
		health:  health,
		ingress: ingress,
		metrics: metrics,
		auth:    auth,
	}
}

// RegisterRoutes binds every route of the HTTP surface.
func (c *JobController) RegisterRoutes(router gin.IRouter) {
	router.GET("/health", c.Health)
	router.GET("/health/detailed", c.HealthDetailed)
	router.GET("/jobs/:jobId/status", c.GetJobStatus)
	router.GET("/jobs", c.ListJobs)
	router.GET("/jobs/metrics", c.JobMetrics)
	router.GET("/jobs/dead-letter", c.DeadLetterJobs)

	mutating := router.Group("")
	mutating.Use(c.auth.RequireAuth())
	mutating.POST("/jobs", c.CreateJob)
	mutating.POST("/jobs/:jobId/requeue", c.RequeueJob)

	if c.metrics != nil {
		router.GET("/metrics", gin.WrapH(c.metrics.Handler()))
	}
}

// Health answers GET /health: a bare liveness probe.
func (c *JobController) Health(ctx *gin.Context) {
	ctx.String(http.StatusOK, "ok")
}

// healthComponentsResponse mirrors §4.8's component detail shape.
type healthComponentsResponse struct {
	Database      string `json:"database"`
	JobQueue      string `json:"job_queue"`
	JobProcessing string `json:"job_processing"`
}

type healthMetricsResponse struct {
	TotalJobs                   int64   `json:"totalJobs"`
	QueueDepth                  int     `json:"queueDepth"`
	ProcessingCount              int64   `json:"processingCount"`
	FailureRate                  float64 `json:"failureRate"`
	AverageProcessingDurationMs  float64 `json:"averageProcessingDurationMs"`
}

type healthDetailedResponse struct {
	Status     jobs.HealthStatus        `json:"status"`
	Timestamp  time.Time                `json:"timestamp"`
	Components healthComponentsResponse `json:"components"`
	Metrics    healthMetricsResponse    `json:"metrics"`
}

// HealthDetailed answers GET /health/detailed per §4.8's aggregate verdict.
func (c *JobController) HealthDetailed(ctx *gin.Context) {
	report := c.health.Check(ctx.Request.Context())
	storeMetrics, _ := c.store.Metrics(ctx.Request.Context())

	componentStatus := func(up bool) string {
		if up {
			return "up"
		}
		return "down"
	}

	resp := healthDetailedResponse{
		Status:    report.Status,
		Timestamp: time.Now(),
		Components: healthComponentsResponse{
			Database:      componentStatus(report.DatabaseUp),
			JobQueue:      componentStatus(report.Status != jobs.HealthUnhealthy),
			JobProcessing: componentStatus(report.Status != jobs.HealthUnhealthy),
		},
		Metrics: healthMetricsResponse{
			TotalJobs:                   storeMetrics.TotalJobs,
			QueueDepth:                  report.QueueDepth,
			ProcessingCount:             storeMetrics.ProcessingCount,
			FailureRate:                 report.FailureRate,
			AverageProcessingDurationMs: storeMetrics.AverageProcessingDurationMs,
		},
	}
	ctx.JSON(report.Status.HTTPStatus(), resp)
}

// GetJobStatus answers GET /jobs/{jobId}/status.
func (c *JobController) GetJobStatus(ctx *gin.Context) {
	jobID := ctx.Param("jobId")
	rec, err := c.store.Get(ctx.Request.Context(), jobID)
	if err != nil {
		ctx.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}
	ctx.JSON(http.StatusOK, rec)
}

type listJobsResponse struct {
	Jobs  []*jobs.StatusRecord `json:"jobs"`
	Total int                  `json:"total"`
	Skip  int                  `json:"skip"`
	Take  int                  `json:"take"`
}

// ListJobs answers GET /jobs?status=&type=&source=&skip=&take=.
func (c *JobController) ListJobs(ctx *gin.Context) {
	filter := jobs.StatusFilter{
		Status: ctx.Query("status"),
		Type:   ctx.Query("type"),
		Source: ctx.Query("source"),
		Skip:   queryInt(ctx, "skip", 0),
		Take:   queryInt(ctx, "take", 50),
	}
	if filter.Take > 100 {
		filter.Take = 100
	}

	records, total, err := c.store.List(ctx.Request.Context(), filter)
	if err != nil {
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	ctx.JSON(http.StatusOK, listJobsResponse{Jobs: records, Total: total, Skip: filter.Skip, Take: filter.Take})
}

// JobMetrics answers GET /jobs/metrics with the full JobMetrics aggregate.
func (c *JobController) JobMetrics(ctx *gin.Context) {
	m, err := c.store.Metrics(ctx.Request.Context())
	if err != nil {
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	ctx.JSON(http.StatusOK, m)
}

// DeadLetterJobs answers GET /jobs/dead-letter?skip=&take=.
func (c *JobController) DeadLetterJobs(ctx *gin.Context) {
	skip := queryInt(ctx, "skip", 0)
	take := queryInt(ctx, "take", 50)
	if take > 100 {
		take = 100
	}

	records, total, err := c.store.DeadLetter(ctx.Request.Context(), skip, take)
	if err != nil {
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	ctx.JSON(http.StatusOK, listJobsResponse{Jobs: records, Total: total, Skip: skip, Take: take})
}

// createJobRequest is the C9 ingress binding's request body (§4.9).
type createJobRequest struct {
	Type            string            `json:"type" binding:"required"`
	Payload         any               `json:"payload"`
	Priority        int               `json:"priority"`
	MaxRetries      int               `json:"maxRetries"`
	IdempotencyKey  string            `json:"idempotencyKey"`
	Source          string            `json:"source" binding:"required"`
	Metadata        map[string]string `json:"metadata"`
	RepositoryOwner string            `json:"repositoryOwner"`
	RepositoryName  string            `json:"repositoryName"`
	IssueNumber     int               `json:"issueNumber"`
	InstallationID  string            `json:"installationId"`
}

// CreateJob answers POST /jobs: the C9 ingress binding.
func (c *JobController) CreateJob(ctx *gin.Context) {
	var req createJobRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	jobID, err := c.ingress.Ingest(jobs.WebhookEvent{
		InstallationID:  req.InstallationID,
		RepositoryOwner: req.RepositoryOwner,
		RepositoryName:  req.RepositoryName,
		IssueNumber:     req.IssueNumber,
		JobType:         req.Type,
		Payload:         req.Payload,
		Priority:        req.Priority,
		MaxRetries:      req.MaxRetries,
		IdempotencyKey:  req.IdempotencyKey,
		Source:          req.Source,
	})
	if err != nil {
		if err == jobs.ErrDuplicateInFlight {
			ctx.JSON(http.StatusConflict, gin.H{"error": "duplicate job skipped"})
			return
		}
		if err == jobs.ErrIngressRateLimited {
			ctx.JSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx.JSON(http.StatusCreated, gin.H{"jobId": jobID})
}

// RequeueJob answers POST /jobs/{jobId}/requeue: re-enqueues a dead-lettered
// or failed job for a fresh attempt cycle, resetting its retry count. The
// original payload is not retained by the status store (only resultData
// is), so the requeued job carries a JSON null payload; handlers that need the
// original input must derive it from metadata/correlationId.
func (c *JobController) RequeueJob(ctx *gin.Context) {
	jobID := ctx.Param("jobId")
	rec, err := c.store.Get(ctx.Request.Context(), jobID)
	if err != nil {
		ctx.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}
	if rec.Status != jobs.StatusDeadLetter && rec.Status != jobs.StatusFailed {
		ctx.JSON(http.StatusConflict, gin.H{"error": "only failed or dead-lettered jobs can be requeued"})
		return
	}

	job, err := jobs.New(rec.JobType, nil,
		jobs.WithMaxRetries(rec.MaxRetries),
		jobs.WithSource(rec.Source),
		jobs.WithCorrelationID(rec.CorrelationID),
		jobs.WithMetadata(rec.Metadata),
	)
	if err != nil {
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	job.ID = jobID // reuse the existing status record rather than opening a new one

	if err := c.store.Update(ctx.Request.Context(), jobID, func(r *jobs.StatusRecord) {
		r.Status = jobs.StatusQueued
		r.RetryCount = 0
		r.CompletedAt = nil
		r.ErrorMessage = ""
	}); err != nil {
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	if err := c.queue.Enqueue(ctx.Request.Context(), job); err != nil {
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"jobId": job.ID})
}

func queryInt(ctx *gin.Context, key string, def int) int {
	raw := ctx.Query(key)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}
