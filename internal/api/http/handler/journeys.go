package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sablesec/strikepoint/internal/api/http/dto"
	"github.com/sablesec/strikepoint/internal/api/http/middleware"
	"github.com/sablesec/strikepoint/internal/correlate"
	"github.com/sablesec/strikepoint/internal/dispatch"
	"github.com/sablesec/strikepoint/internal/journeys"
	"github.com/sablesec/strikepoint/internal/scans"
	"github.com/sablesec/strikepoint/internal/store"
)

type JourneysHandler struct {
	journeyStore store.JourneyStore
	dispatcher   *dispatch.Service
	correlator   *correlate.Service
}

func NewJourneysHandler(journeyStore store.JourneyStore, dispatcher *dispatch.Service, correlator *correlate.Service) *JourneysHandler {
	return &JourneysHandler{
		journeyStore: journeyStore,
		dispatcher:   dispatcher,
		correlator:   correlator,
	}
}

// CreateJourney validates the config, persists the journey and dispatches
// its scan jobs. The response returns as soon as dispatch is done; results
// arrive asynchronously.
// POST /journeys
func (h *JourneysHandler) CreateJourney(c *gin.Context) {
	principal, ok := middleware.GetPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "principal not found in context"})
		return
	}

	var req dto.CreateJourneyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}
	if err := req.Config.Validate(req.Type); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	j := &journeys.Journey{
		ID:          uuid.New().String(),
		TenantID:    principal.TenantID,
		Type:        req.Type,
		Status:      journeys.StatusPending,
		Config:      req.Config,
		CollectorID: req.CollectorID,
		CreatedAt:   time.Now().UTC(),
	}
	if err := h.journeyStore.CreateJourney(c.Request.Context(), j); err != nil {
		slog.Error("Failed to create journey", "error", err, "tenant_id", principal.TenantID)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create journey"})
		return
	}

	if _, err := h.dispatcher.Dispatch(c.Request.Context(), j); err != nil {
		var verr *journeys.ValidationError
		if errors.As(err, &verr) {
			// Enumeration-time validation, e.g. internal routing without a
			// bound collector. The pending journey is failed, not left
			// behind, and its results record why.
			_ = h.journeyStore.UpdateJourneyStatus(c.Request.Context(), j.ID, journeys.StatusFailed, dispatchFailureResults(verr.Error()))
			c.JSON(http.StatusBadRequest, gin.H{"error": verr.Error()})
			return
		}
		slog.Error("Failed to dispatch journey", "error", err, "journey_id", j.ID)
		_ = h.journeyStore.UpdateJourneyStatus(c.Request.Context(), j.ID, journeys.StatusFailed, dispatchFailureResults("dispatch failed"))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to dispatch journey"})
		return
	}

	created, err := h.journeyStore.GetJourney(c.Request.Context(), j.ID)
	if err != nil {
		created = j
	}
	c.JSON(http.StatusCreated, created)
}

// GetJourney returns a journey with its current status and, once terminal,
// its merged results.
// GET /journeys/:id
func (h *JourneysHandler) GetJourney(c *gin.Context) {
	j, ok := h.ownedJourney(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, j)
}

// ListJourneys returns the tenant's journeys, newest first.
// GET /journeys
func (h *JourneysHandler) ListJourneys(c *gin.Context) {
	principal, ok := middleware.GetPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "principal not found in context"})
		return
	}

	list, err := h.journeyStore.ListJourneys(c.Request.Context(), principal.TenantID)
	if err != nil {
		slog.Error("Failed to list journeys", "error", err, "tenant_id", principal.TenantID)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list journeys"})
		return
	}

	c.JSON(http.StatusOK, dto.ListJourneysResponse{Journeys: list, Count: len(list)})
}

// CancelJourney terminates a running journey. Queued jobs are dropped,
// running external jobs get a terminate instruction, and outstanding jobs
// are recorded as failed.
// POST /journeys/:id/cancel
func (h *JourneysHandler) CancelJourney(c *gin.Context) {
	j, ok := h.ownedJourney(c)
	if !ok {
		return
	}
	if j.Status.Terminal() {
		c.JSON(http.StatusConflict, gin.H{"error": "journey is already in a terminal state"})
		return
	}

	outstanding := h.correlator.OutstandingJobs(j.ID)
	if err := h.dispatcher.Cancel(c.Request.Context(), j, outstanding); err != nil {
		slog.Error("Failed to cancel dispatched jobs", "error", err, "journey_id", j.ID)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to cancel journey"})
		return
	}

	if err := h.correlator.CancelJourney(c.Request.Context(), j.ID); err != nil {
		if errors.Is(err, correlate.ErrUnknownJourney) {
			// Pending journey that never dispatched; close it out directly.
			if err := h.journeyStore.UpdateJourneyStatus(c.Request.Context(), j.ID, journeys.StatusCancelled, nil); err != nil {
				slog.Error("Failed to cancel pending journey", "error", err, "journey_id", j.ID)
				c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to cancel journey"})
				return
			}
		} else {
			slog.Error("Failed to cancel journey", "error", err, "journey_id", j.ID)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to cancel journey"})
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{"message": "journey cancelled"})
}

func (h *JourneysHandler) ownedJourney(c *gin.Context) (*journeys.Journey, bool) {
	principal, ok := middleware.GetPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "principal not found in context"})
		return nil, false
	}

	id := c.Param("id")
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "journey id is required"})
		return nil, false
	}

	j, err := h.journeyStore.GetJourney(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "journey not found"})
			return nil, false
		}
		slog.Error("Failed to get journey", "error", err, "journey_id", id)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get journey"})
		return nil, false
	}

	if j.TenantID != principal.TenantID {
		c.JSON(http.StatusForbidden, gin.H{"error": "access denied"})
		return nil, false
	}
	return j, true
}

// dispatchFailureResults builds the results object for a journey that
// failed before any job existed. Failed journeys always carry non-null
// results explaining the failure.
func dispatchFailureResults(reason string) *journeys.Results {
	return &journeys.Results{
		Tools: map[scans.Tool]journeys.ToolResult{},
		FailedJobs: []journeys.FailedJob{{
			State:  scans.JobFailed,
			Reason: reason,
		}},
	}
}
