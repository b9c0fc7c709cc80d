package activity

import (
	"context"
	"time"
)

// Event is one audit-trail entry.
type Event struct {
	TenantID string            `json:"tenant_id"`
	Kind     string            `json:"kind"`
	Message  string            `json:"message"`
	Fields   map[string]string `json:"fields,omitempty"`
	At       time.Time         `json:"at"`
}

// Log appends audit events. Append failures are logged by callers and never
// fail the operation that produced the event.
type Log interface {
	Append(ctx context.Context, e Event) error
}
