package dto

import (
	"time"

	"github.com/sablesec/strikepoint/internal/collectors"
	"github.com/sablesec/strikepoint/internal/telemetry"
)

type RegisterCollectorRequest struct {
	Name      string `json:"name" binding:"required"`
	Hostname  string `json:"hostname"`
	IPAddress string `json:"ip_address"`
}

type RegisterCollectorResponse struct {
	ID                       string    `json:"id"`
	Name                     string    `json:"name"`
	EnrollmentToken          string    `json:"enrollmentToken"`
	EnrollmentTokenExpiresAt time.Time `json:"enrollmentTokenExpiresAt"`
}

type RegenerateTokenResponse struct {
	ID                       string    `json:"id"`
	EnrollmentToken          string    `json:"enrollmentToken"`
	EnrollmentTokenExpiresAt time.Time `json:"enrollmentTokenExpiresAt"`
}

type CollectorResponse struct {
	ID           string            `json:"id"`
	Name         string            `json:"name"`
	Hostname     string            `json:"hostname,omitempty"`
	IPAddress    string            `json:"ip_address,omitempty"`
	Status       collectors.Status `json:"status"`
	LastSeenAt   *time.Time        `json:"last_seen_at,omitempty"`
	RegisteredAt time.Time         `json:"registered_at"`
	Metadata     map[string]any    `json:"metadata,omitempty"`
	LastSample   *telemetry.Sample `json:"last_sample,omitempty"`
}

type ListCollectorsResponse struct {
	Collectors []CollectorResponse `json:"collectors"`
	Count      int                 `json:"count"`
}
