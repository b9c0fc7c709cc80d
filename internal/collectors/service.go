package collectors

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/sablesec/strikepoint/internal/activity"
)

var (
	ErrCollectorNotFound = errors.New("collector not found")
	ErrNotInError        = errors.New("collector is not in error state")
)

const (
	// DefaultHeartbeatInterval is how often a healthy collector reports
	// telemetry. A collector is considered stale after three missed beats.
	DefaultHeartbeatInterval = 30 * time.Second

	stalenessMultiplier = 3
)

// Service is the collector registry: identity, connectivity state and the
// computed liveness view on top of the stored status.
type Service struct {
	store     Store
	activity  activity.Log
	heartbeat time.Duration
}

func NewService(collectorStore Store, log activity.Log, heartbeatInterval time.Duration) *Service {
	if heartbeatInterval <= 0 {
		heartbeatInterval = DefaultHeartbeatInterval
	}
	return &Service{
		store:     collectorStore,
		activity:  log,
		heartbeat: heartbeatInterval,
	}
}

// Register creates a collector in offline state. Token issuance is the
// enrollment service's job; callers invoke it separately and hand both
// results to the operator.
func (s *Service) Register(ctx context.Context, tenantID, name, hostname, ipAddress string) (*Collector, error) {
	if name == "" {
		return nil, fmt.Errorf("collector name is required")
	}

	c := &Collector{
		ID:           uuid.New().String(),
		TenantID:     tenantID,
		Name:         name,
		Hostname:     hostname,
		IPAddress:    ipAddress,
		Status:       StatusOffline,
		RegisteredAt: time.Now().UTC(),
	}
	if err := s.store.CreateCollector(ctx, c); err != nil {
		return nil, fmt.Errorf("create collector: %w", err)
	}

	s.logActivity(ctx, c, "collector.registered", "collector registered")
	slog.Info("Collector registered", "collector_id", c.ID, "tenant_id", tenantID, "name", name)
	return c, nil
}

// Get returns the collector with its status recomputed for staleness.
func (s *Service) Get(ctx context.Context, id string) (*Collector, error) {
	c, err := s.store.GetCollector(ctx, id)
	if err != nil {
		if errors.Is(err, ErrCollectorNotFound) {
			return nil, ErrCollectorNotFound
		}
		return nil, fmt.Errorf("get collector: %w", err)
	}
	c.Status = s.EffectiveStatus(c, time.Now().UTC())
	return c, nil
}

// List returns a tenant's collectors with statuses recomputed for staleness.
func (s *Service) List(ctx context.Context, tenantID string) ([]*Collector, error) {
	list, err := s.store.ListCollectors(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list collectors: %w", err)
	}
	now := time.Now().UTC()
	for _, c := range list {
		c.Status = s.EffectiveStatus(c, now)
	}
	return list, nil
}

// EffectiveStatus is the liveness view: a stored online status decays to
// offline once the last heartbeat is older than three intervals. Error and
// enrolling states are reported as stored.
func (s *Service) EffectiveStatus(c *Collector, now time.Time) Status {
	if c.Status != StatusOnline {
		return c.Status
	}
	if c.LastSeenAt == nil || now.Sub(*c.LastSeenAt) > stalenessMultiplier*s.heartbeat {
		return StatusOffline
	}
	return StatusOnline
}

// MarkOnline records a live collector at the given instant.
func (s *Service) MarkOnline(ctx context.Context, id string, at time.Time) error {
	if err := s.store.UpdateCollectorStatus(ctx, id, StatusOnline); err != nil {
		return s.wrapNotFound(err, id)
	}
	if err := s.store.UpdateCollectorLastSeen(ctx, id, at); err != nil {
		return s.wrapNotFound(err, id)
	}
	return nil
}

// MarkOffline records an explicit disconnect.
func (s *Service) MarkOffline(ctx context.Context, id string) error {
	if err := s.store.UpdateCollectorStatus(ctx, id, StatusOffline); err != nil {
		return s.wrapNotFound(err, id)
	}
	slog.Info("Collector marked offline", "collector_id", id)
	return nil
}

// MarkError records an unrecoverable agent-reported failure. The state is
// sticky until an operator acknowledges it.
func (s *Service) MarkError(ctx context.Context, id, reason string) error {
	if err := s.store.UpdateCollectorStatus(ctx, id, StatusError); err != nil {
		return s.wrapNotFound(err, id)
	}
	if s.activity != nil {
		_ = s.activity.Append(ctx, activity.Event{
			Kind:    "collector.error",
			Message: reason,
			Fields:  map[string]string{"collector_id": id},
			At:      time.Now().UTC(),
		})
	}
	slog.Warn("Collector reported unrecoverable error", "collector_id", id, "reason", reason)
	return nil
}

// AcknowledgeError clears a sticky error state back to offline.
func (s *Service) AcknowledgeError(ctx context.Context, id string) error {
	c, err := s.store.GetCollector(ctx, id)
	if err != nil {
		return s.wrapNotFound(err, id)
	}
	if c.Status != StatusError {
		return ErrNotInError
	}
	if err := s.store.UpdateCollectorStatus(ctx, id, StatusOffline); err != nil {
		return s.wrapNotFound(err, id)
	}
	s.logActivity(ctx, c, "collector.error_acknowledged", "error state cleared by operator")
	return nil
}

// StartStalenessSweep periodically persists the offline transition for
// collectors that stopped reporting, so listings surface them without a
// read-side recomputation. Runs until ctx is cancelled.
func (s *Service) StartStalenessSweep(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = s.heartbeat
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().UTC().Add(-stalenessMultiplier * s.heartbeat)
			n, err := s.store.MarkStaleOffline(ctx, cutoff)
			if err != nil {
				slog.Warn("Staleness sweep failed", "error", err)
				continue
			}
			if n > 0 {
				slog.Info("Staleness sweep flipped collectors offline", "count", n)
			}
		}
	}
}

func (s *Service) wrapNotFound(err error, id string) error {
	if errors.Is(err, ErrCollectorNotFound) {
		return fmt.Errorf("collector %s: %w", id, ErrCollectorNotFound)
	}
	return err
}

func (s *Service) logActivity(ctx context.Context, c *Collector, kind, message string) {
	if s.activity == nil {
		return
	}
	err := s.activity.Append(ctx, activity.Event{
		TenantID: c.TenantID,
		Kind:     kind,
		Message:  message,
		Fields:   map[string]string{"collector_id": c.ID, "name": c.Name},
		At:       time.Now().UTC(),
	})
	if err != nil {
		slog.Warn("Failed to append activity event", "kind", kind, "error", err)
	}
}
