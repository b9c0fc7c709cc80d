package store

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/sablesec/strikepoint/internal/activity"
	"github.com/sablesec/strikepoint/internal/collectors"
	"github.com/sablesec/strikepoint/internal/journeys"
	"github.com/sablesec/strikepoint/internal/telemetry"
)

var (
	_ collectors.Store      = (*Memory)(nil)
	_ telemetry.SampleStore = (*Memory)(nil)
	_ JourneyStore          = (*Memory)(nil)
	_ activity.Log          = (*Memory)(nil)
)

// Memory is an in-memory implementation of all store interfaces. It backs
// tests and single-node deployments without Postgres. Writes hold one lock,
// so token replacement and consumption are atomic the same way the SQL
// implementation's single-statement updates are.
type Memory struct {
	mu         sync.RWMutex
	collectors map[string]*collectors.Collector
	samples    map[string][]*telemetry.Sample
	journeys   map[string]*journeys.Journey
	events     []activity.Event
}

func NewMemory() *Memory {
	return &Memory{
		collectors: make(map[string]*collectors.Collector),
		samples:    make(map[string][]*telemetry.Sample),
		journeys:   make(map[string]*journeys.Journey),
	}
}

// --- CollectorStore ---

func (m *Memory) CreateCollector(ctx context.Context, c *collectors.Collector) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *c
	m.collectors[c.ID] = &cp
	return nil
}

func (m *Memory) GetCollector(ctx context.Context, id string) (*collectors.Collector, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.collectors[id]
	if !ok {
		return nil, collectors.ErrCollectorNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *Memory) GetCollectorByTokenHash(ctx context.Context, hash string) (*collectors.Collector, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, c := range m.collectors {
		if c.EnrollmentTokenHash != "" && c.EnrollmentTokenHash == hash {
			cp := *c
			return &cp, nil
		}
	}
	return nil, collectors.ErrCollectorNotFound
}

func (m *Memory) ListCollectors(ctx context.Context, tenantID string) ([]*collectors.Collector, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]*collectors.Collector, 0)
	for _, c := range m.collectors {
		if c.TenantID == tenantID {
			cp := *c
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].RegisteredAt.After(result[j].RegisteredAt) })
	return result, nil
}

func (m *Memory) UpdateCollectorStatus(ctx context.Context, id string, status collectors.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.collectors[id]
	if !ok {
		return collectors.ErrCollectorNotFound
	}
	c.Status = status
	return nil
}

func (m *Memory) UpdateCollectorLastSeen(ctx context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.collectors[id]
	if !ok {
		return collectors.ErrCollectorNotFound
	}
	c.LastSeenAt = &at
	return nil
}

func (m *Memory) ReplaceEnrollmentToken(ctx context.Context, id, hash string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.collectors[id]
	if !ok {
		return collectors.ErrCollectorNotFound
	}
	c.EnrollmentTokenHash = hash
	c.EnrollmentTokenExpiresAt = &expiresAt
	c.Status = collectors.StatusEnrolling
	return nil
}

func (m *Memory) ConsumeEnrollmentToken(ctx context.Context, hash string) (*collectors.Collector, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.collectors {
		if c.EnrollmentTokenHash == hash && hash != "" {
			c.EnrollmentTokenHash = ""
			c.EnrollmentTokenExpiresAt = nil
			c.Status = collectors.StatusOnline
			cp := *c
			return &cp, nil
		}
	}
	return nil, collectors.ErrCollectorNotFound
}

func (m *Memory) MarkStaleOffline(ctx context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	flipped := 0
	for _, c := range m.collectors {
		if c.Status != collectors.StatusOnline {
			continue
		}
		if c.LastSeenAt == nil || c.LastSeenAt.Before(cutoff) {
			c.Status = collectors.StatusOffline
			flipped++
		}
	}
	return flipped, nil
}

// --- TelemetryStore ---

func (m *Memory) AppendSample(ctx context.Context, s *telemetry.Sample) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.samples[s.CollectorID] = append(m.samples[s.CollectorID], &cp)
	return nil
}

func (m *Memory) LatestSample(ctx context.Context, collectorID string) (*telemetry.Sample, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	list := m.samples[collectorID]
	if len(list) == 0 {
		return nil, telemetry.ErrNoSamples
	}
	// Sample timestamps are authoritative, not append order.
	latest := list[0]
	for _, s := range list[1:] {
		if s.Timestamp.After(latest.Timestamp) {
			latest = s
		}
	}
	cp := *latest
	return &cp, nil
}

func (m *Memory) ListSamples(ctx context.Context, collectorID string, since time.Time, limit int) ([]*telemetry.Sample, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]*telemetry.Sample, 0)
	for _, s := range m.samples[collectorID] {
		if s.Timestamp.Before(since) {
			continue
		}
		cp := *s
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Timestamp.Before(result[j].Timestamp) })
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// --- JourneyStore ---

func (m *Memory) CreateJourney(ctx context.Context, j *journeys.Journey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *j
	m.journeys[j.ID] = &cp
	return nil
}

func (m *Memory) GetJourney(ctx context.Context, id string) (*journeys.Journey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	j, ok := m.journeys[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *j
	return &cp, nil
}

func (m *Memory) ListJourneys(ctx context.Context, tenantID string) ([]*journeys.Journey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]*journeys.Journey, 0)
	for _, j := range m.journeys {
		if j.TenantID == tenantID {
			cp := *j
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	return result, nil
}

func (m *Memory) SetJourneyStarted(ctx context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.journeys[id]
	if !ok {
		return ErrNotFound
	}
	if j.Status.Terminal() {
		return ErrJourneyTerminal
	}
	j.Status = journeys.StatusRunning
	j.StartedAt = &at
	j.CompletedAt = nil
	return nil
}

func (m *Memory) UpdateJourneyStatus(ctx context.Context, id string, status journeys.Status, results *journeys.Results) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.journeys[id]
	if !ok {
		return ErrNotFound
	}
	if j.Status.Terminal() {
		return ErrJourneyTerminal
	}
	j.Status = status
	if results != nil {
		cp := *results
		j.Results = &cp
	}
	if status.Terminal() {
		now := time.Now().UTC()
		j.CompletedAt = &now
	}
	return nil
}

// --- ActivityLog ---

func (m *Memory) Append(ctx context.Context, e activity.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
	slog.Debug("activity event", "kind", e.Kind, "tenant_id", e.TenantID, "message", e.Message)
	return nil
}

// Events returns a copy of the appended audit trail, oldest first.
func (m *Memory) Events() []activity.Event {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]activity.Event(nil), m.events...)
}
