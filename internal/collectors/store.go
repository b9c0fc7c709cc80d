package collectors

import (
	"context"
	"time"
)

// Store persists collector identity and connectivity state. Implementations
// return ErrCollectorNotFound for lookups and updates against a collector
// that does not exist. Token writes are atomic per collector: two concurrent
// ReplaceEnrollmentToken calls cannot both leave a validating token behind.
type Store interface {
	CreateCollector(ctx context.Context, c *Collector) error
	GetCollector(ctx context.Context, id string) (*Collector, error)
	GetCollectorByTokenHash(ctx context.Context, hash string) (*Collector, error)
	ListCollectors(ctx context.Context, tenantID string) ([]*Collector, error)
	UpdateCollectorStatus(ctx context.Context, id string, status Status) error
	UpdateCollectorLastSeen(ctx context.Context, id string, at time.Time) error

	// ReplaceEnrollmentToken installs a new token hash and expiry in a single
	// update and moves the collector to enrolling. Any prior token stops
	// validating the moment this returns.
	ReplaceEnrollmentToken(ctx context.Context, id, hash string, expiresAt time.Time) error

	// ConsumeEnrollmentToken clears the token matching hash and moves the
	// collector online. Returns ErrCollectorNotFound if no collector
	// currently holds that hash, which makes consumption idempotent for
	// callers.
	ConsumeEnrollmentToken(ctx context.Context, hash string) (*Collector, error)

	// MarkStaleOffline flips online collectors whose lastSeenAt is before
	// cutoff to offline, returning how many were flipped.
	MarkStaleOffline(ctx context.Context, cutoff time.Time) (int, error)
}
