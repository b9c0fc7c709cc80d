// Package api is the scan worker's HTTP surface: job submission from the
// dispatcher, cancellation, health and metrics.
package api

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sablesec/strikepoint/internal/api/http/middleware"
	"github.com/sablesec/strikepoint/internal/dispatch"
	"github.com/sablesec/strikepoint/internal/scans"
	"github.com/sablesec/strikepoint/internal/scanworker"
)

type Handler struct {
	worker *scanworker.Worker
}

func NewHandler(worker *scanworker.Worker) *Handler {
	return &Handler{worker: worker}
}

// SetupRoute wires the worker's endpoints onto the engine.
func SetupRoute(engine *gin.Engine, apiKey string, worker *scanworker.Worker) {
	engine.Use(middleware.RequestLogger())

	engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	h := NewHandler(worker)
	scan := engine.Group("/api/scan", middleware.APIKeyAuth(apiKey))
	scan.POST("/:tool", h.SubmitScan)
	scan.DELETE("/:id", h.CancelScan)
}

// SubmitScan accepts a scan job and starts it in the background. Responds
// 202 on acceptance and 503 when the worker is at its concurrency bound.
// POST /api/scan/:tool
func (h *Handler) SubmitScan(c *gin.Context) {
	tool := scans.Tool(c.Param("tool"))

	var req dispatch.SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}
	if req.JobID == "" || req.JourneyID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "job_id and journey_id are required"})
		return
	}

	job := &scans.Job{
		JobID:        req.JobID,
		JourneyID:    req.JourneyID,
		Tool:         tool,
		Route:        scans.RouteExternal,
		Targets:      req.Targets,
		Options:      req.Options,
		State:        scans.JobRunning,
		DispatchedAt: time.Now().UTC(),
		Deadline:     req.Deadline,
	}
	if job.Deadline.IsZero() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "deadline is required"})
		return
	}

	if err := h.worker.Submit(job); err != nil {
		switch {
		case errors.Is(err, scanworker.ErrWorkerBusy):
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "worker at capacity"})
		case errors.Is(err, scanworker.ErrUnknownTool):
			c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported tool: " + string(tool)})
		case errors.Is(err, scanworker.ErrAlreadyRunning):
			c.JSON(http.StatusConflict, gin.H{"error": "job already running"})
		default:
			slog.Error("Failed to start scan job", "error", err, "job_id", req.JobID)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to start scan"})
		}
		return
	}

	c.JSON(http.StatusAccepted, dispatch.SubmitResponse{
		ScanID:    job.JobID,
		JourneyID: job.JourneyID,
		Timestamp: time.Now().UTC(),
	})
}

// CancelScan terminates a running job's process group. Cancelling a job that
// is not running here returns 404; the dispatcher treats both as done.
// DELETE /api/scan/:id
func (h *Handler) CancelScan(c *gin.Context) {
	jobID := c.Param("id")
	if !h.worker.Cancel(jobID) {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not running"})
		return
	}
	slog.Info("Scan job cancellation requested", "job_id", jobID)
	c.JSON(http.StatusOK, gin.H{"message": "cancellation requested"})
}
