package collectors

import (
	"time"
)

// Status is the stored connectivity state of a collector.
type Status string

const (
	StatusOffline   Status = "offline"
	StatusEnrolling Status = "enrolling"
	StatusOnline    Status = "online"
	// StatusError is reachable from any state on an unrecoverable
	// agent-reported failure and stays until an operator acknowledges it.
	StatusError Status = "error"
)

// Collector is a remote agent installed at a tenant site. The enrollment
// token is stored as a SHA-256 hash; the plaintext is shown once at issue
// time and never persisted.
type Collector struct {
	ID                       string         `json:"id"`
	TenantID                 string         `json:"tenant_id"`
	Name                     string         `json:"name"`
	Hostname                 string         `json:"hostname,omitempty"`
	IPAddress                string         `json:"ip_address,omitempty"`
	Status                   Status         `json:"status"`
	EnrollmentTokenHash      string         `json:"-"`
	EnrollmentTokenExpiresAt *time.Time     `json:"enrollment_token_expires_at,omitempty"`
	LastSeenAt               *time.Time     `json:"last_seen_at,omitempty"`
	RegisteredAt             time.Time      `json:"registered_at"`
	Metadata                 map[string]any `json:"metadata,omitempty"`
}

// HasValidToken reports whether the collector holds a non-expired enrollment
// token at the given instant.
func (c *Collector) HasValidToken(now time.Time) bool {
	return c.EnrollmentTokenHash != "" &&
		c.EnrollmentTokenExpiresAt != nil &&
		now.Before(*c.EnrollmentTokenExpiresAt)
}
