package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sablesec/strikepoint/internal/api/http/dto"
	"github.com/sablesec/strikepoint/internal/api/http/middleware"
	"github.com/sablesec/strikepoint/internal/collectors"
	"github.com/sablesec/strikepoint/internal/enrollment"
	"github.com/sablesec/strikepoint/internal/telemetry"
)

type CollectorsHandler struct {
	collectorService  *collectors.Service
	enrollmentService *enrollment.Service
	telemetryService  *telemetry.Service
}

func NewCollectorsHandler(collectorService *collectors.Service, enrollmentService *enrollment.Service, telemetryService *telemetry.Service) *CollectorsHandler {
	return &CollectorsHandler{
		collectorService:  collectorService,
		enrollmentService: enrollmentService,
		telemetryService:  telemetryService,
	}
}

// RegisterCollector creates a collector and issues its first enrollment
// token. The plaintext token appears in this response and nowhere else.
// POST /collectors
func (h *CollectorsHandler) RegisterCollector(c *gin.Context) {
	principal, ok := middleware.GetPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "principal not found in context"})
		return
	}

	var req dto.RegisterCollectorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	collector, err := h.collectorService.Register(c.Request.Context(), principal.TenantID, req.Name, req.Hostname, req.IPAddress)
	if err != nil {
		slog.Error("Failed to register collector", "error", err, "tenant_id", principal.TenantID)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to register collector"})
		return
	}

	token, expiresAt, err := h.enrollmentService.Issue(c.Request.Context(), collector.ID)
	if err != nil {
		slog.Error("Failed to issue enrollment token", "error", err, "collector_id", collector.ID)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to issue enrollment token"})
		return
	}

	c.JSON(http.StatusCreated, dto.RegisterCollectorResponse{
		ID:                       collector.ID,
		Name:                     collector.Name,
		EnrollmentToken:          token,
		EnrollmentTokenExpiresAt: expiresAt,
	})
}

// ListCollectors returns the tenant's collectors with liveness applied.
// GET /collectors
func (h *CollectorsHandler) ListCollectors(c *gin.Context) {
	principal, ok := middleware.GetPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "principal not found in context"})
		return
	}

	list, err := h.collectorService.List(c.Request.Context(), principal.TenantID)
	if err != nil {
		slog.Error("Failed to list collectors", "error", err, "tenant_id", principal.TenantID)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list collectors"})
		return
	}

	responses := make([]dto.CollectorResponse, len(list))
	for i, collector := range list {
		responses[i] = h.toResponse(c, collector, false)
	}

	c.JSON(http.StatusOK, dto.ListCollectorsResponse{Collectors: responses, Count: len(responses)})
}

// GetCollector returns one collector with its latest telemetry sample.
// GET /collectors/:id
func (h *CollectorsHandler) GetCollector(c *gin.Context) {
	collector, ok := h.ownedCollector(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, h.toResponse(c, collector, true))
}

// RegenerateToken replaces the collector's enrollment token. Any prior
// token stops validating immediately.
// POST /collectors/:id/regenerate-token
func (h *CollectorsHandler) RegenerateToken(c *gin.Context) {
	collector, ok := h.ownedCollector(c)
	if !ok {
		return
	}

	token, expiresAt, err := h.enrollmentService.Issue(c.Request.Context(), collector.ID)
	if err != nil {
		slog.Error("Failed to regenerate enrollment token", "error", err, "collector_id", collector.ID)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to regenerate token"})
		return
	}

	c.JSON(http.StatusOK, dto.RegenerateTokenResponse{
		ID:                       collector.ID,
		EnrollmentToken:          token,
		EnrollmentTokenExpiresAt: expiresAt,
	})
}

// AcknowledgeError clears a sticky error state back to offline.
// POST /collectors/:id/acknowledge-error
func (h *CollectorsHandler) AcknowledgeError(c *gin.Context) {
	collector, ok := h.ownedCollector(c)
	if !ok {
		return
	}

	if err := h.collectorService.AcknowledgeError(c.Request.Context(), collector.ID); err != nil {
		if errors.Is(err, collectors.ErrNotInError) {
			c.JSON(http.StatusConflict, gin.H{"error": "collector is not in error state"})
			return
		}
		slog.Error("Failed to acknowledge collector error", "error", err, "collector_id", collector.ID)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to acknowledge error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "error acknowledged"})
}

// TelemetryHistory returns stored samples for a collector, oldest first.
// GET /collectors/:id/telemetry?since=<RFC3339>&limit=<n>
func (h *CollectorsHandler) TelemetryHistory(c *gin.Context) {
	collector, ok := h.ownedCollector(c)
	if !ok {
		return
	}

	since := time.Now().UTC().Add(-time.Hour)
	if raw := c.Query("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid since parameter, expected RFC3339"})
			return
		}
		since = parsed
	}

	limit := 500
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit parameter"})
			return
		}
		limit = parsed
	}

	samples, err := h.telemetryService.History(c.Request.Context(), collector.ID, since, limit)
	if err != nil {
		slog.Error("Failed to load telemetry history", "error", err, "collector_id", collector.ID)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load telemetry history"})
		return
	}

	out := make([]telemetry.Sample, len(samples))
	for i, s := range samples {
		out[i] = *s
	}
	c.JSON(http.StatusOK, dto.TelemetryHistoryResponse{
		CollectorID: collector.ID,
		Samples:     out,
		Count:       len(out),
	})
}

// ownedCollector loads the :id collector and verifies tenant ownership.
func (h *CollectorsHandler) ownedCollector(c *gin.Context) (*collectors.Collector, bool) {
	principal, ok := middleware.GetPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "principal not found in context"})
		return nil, false
	}

	id := c.Param("id")
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "collector id is required"})
		return nil, false
	}

	collector, err := h.collectorService.Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, collectors.ErrCollectorNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "collector not found"})
			return nil, false
		}
		slog.Error("Failed to get collector", "error", err, "collector_id", id)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get collector"})
		return nil, false
	}

	if collector.TenantID != principal.TenantID {
		c.JSON(http.StatusForbidden, gin.H{"error": "access denied"})
		return nil, false
	}
	return collector, true
}

func (h *CollectorsHandler) toResponse(c *gin.Context, collector *collectors.Collector, withSample bool) dto.CollectorResponse {
	resp := dto.CollectorResponse{
		ID:           collector.ID,
		Name:         collector.Name,
		Hostname:     collector.Hostname,
		IPAddress:    collector.IPAddress,
		Status:       collector.Status,
		LastSeenAt:   collector.LastSeenAt,
		RegisteredAt: collector.RegisteredAt,
		Metadata:     collector.Metadata,
	}
	if withSample {
		sample, err := h.telemetryService.Latest(c.Request.Context(), collector.ID)
		if err != nil {
			slog.Warn("Failed to load latest sample", "error", err, "collector_id", collector.ID)
		} else {
			resp.LastSample = sample
		}
	}
	return resp
}
