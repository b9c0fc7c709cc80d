package dto

import (
	"github.com/sablesec/strikepoint/internal/telemetry"
)

// IngestTelemetryRequest carries the enrollment token alongside the sample.
// The token is the only credential a collector presents.
type IngestTelemetryRequest struct {
	Token     string           `json:"token" binding:"required"`
	Telemetry telemetry.Sample `json:"telemetry" binding:"required"`
}

type TelemetryHistoryResponse struct {
	CollectorID string             `json:"collector_id"`
	Samples     []telemetry.Sample `json:"samples"`
	Count       int                `json:"count"`
}
