package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sablesec/strikepoint/internal/api/http/dto"
	"github.com/sablesec/strikepoint/internal/correlate"
	"github.com/sablesec/strikepoint/internal/dispatch"
)

// ResultsHandler serves the machine-to-machine surface: job completion
// callbacks from the scan worker and job pulls from collectors.
type ResultsHandler struct {
	dispatcher *dispatch.Service
	correlator *correlate.Service
	queue      *dispatch.CollectorQueue
}

func NewResultsHandler(dispatcher *dispatch.Service, correlator *correlate.Service, queue *dispatch.CollectorQueue) *ResultsHandler {
	return &ResultsHandler{
		dispatcher: dispatcher,
		correlator: correlator,
		queue:      queue,
	}
}

// ResultCallback records one job result against its journey. Idempotent:
// redelivered callbacks for an already-recorded job return 200 and change
// nothing.
// POST /api/journeys/:id/results
func (h *ResultsHandler) ResultCallback(c *gin.Context) {
	journeyID := c.Param("id")
	if journeyID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "journey id is required"})
		return
	}

	var req dto.ResultCallbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	recorded, err := h.correlator.OnCallback(c.Request.Context(), journeyID, req.JobID, &req.Results)
	if err != nil {
		if errors.Is(err, correlate.ErrUnknownJob) {
			c.JSON(http.StatusNotFound, gin.H{"error": "job does not belong to journey"})
			return
		}
		slog.Error("Failed to record job result", "error", err, "journey_id", journeyID, "job_id", req.JobID)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to record result"})
		return
	}

	// The watchdog stays armed unless this delivery actually recorded the
	// result. A callback naming the wrong journey is ignored above, and its
	// job still needs the deadline+grace timeout to fire.
	if recorded {
		h.dispatcher.DisarmWatchdog(req.JobID)
	}

	c.JSON(http.StatusOK, gin.H{"message": "result recorded"})
}

// PullJobs drains queued internal jobs for a collector, FIFO.
// GET /api/collectors/:id/jobs?max=<n>
func (h *ResultsHandler) PullJobs(c *gin.Context) {
	collectorID := c.Param("id")
	if collectorID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "collector id is required"})
		return
	}

	max := 0
	if raw := c.Query("max"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid max parameter"})
			return
		}
		max = parsed
	}

	jobs := h.queue.Pull(collectorID, max)
	if len(jobs) > 0 {
		slog.Debug("Collector pulled jobs", "collector_id", collectorID, "count", len(jobs))
	}
	c.JSON(http.StatusOK, dto.PullJobsResponse{Jobs: jobs, Count: len(jobs)})
}
