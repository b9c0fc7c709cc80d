package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sablesec/strikepoint/internal/api/http/dto"
	"github.com/sablesec/strikepoint/internal/enrollment"
	"github.com/sablesec/strikepoint/internal/telemetry"
)

type TelemetryHandler struct {
	telemetryService *telemetry.Service
}

func NewTelemetryHandler(telemetryService *telemetry.Service) *TelemetryHandler {
	return &TelemetryHandler{telemetryService: telemetryService}
}

// IngestTelemetry accepts a collector heartbeat authenticated by enrollment
// token. Unauthenticated endpoint; the token in the body is the credential.
// POST /telemetry
func (h *TelemetryHandler) IngestTelemetry(c *gin.Context) {
	var req dto.IngestTelemetryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	collector, err := h.telemetryService.Ingest(c.Request.Context(), req.Token, &req.Telemetry)
	if err != nil {
		switch {
		case errors.Is(err, enrollment.ErrInvalidToken):
			// Unknown, expired and consumed tokens all read the same here.
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid enrollment token"})
		case errors.Is(err, telemetry.ErrInvalidSample):
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid telemetry sample"})
		default:
			slog.Error("Failed to ingest telemetry", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to ingest telemetry"})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"collector_id": collector.ID, "status": "ok"})
}
