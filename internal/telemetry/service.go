package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sablesec/strikepoint/internal/collectors"
	"github.com/sablesec/strikepoint/internal/enrollment"
	"github.com/sablesec/strikepoint/internal/metrics"
)

var (
	ErrInvalidSample = errors.New("invalid telemetry sample")
	// ErrNoSamples is returned by SampleStore lookups for a collector that
	// has never reported.
	ErrNoSamples = errors.New("no telemetry samples")
)

// SampleStore is the append-only time-series of collector samples.
type SampleStore interface {
	AppendSample(ctx context.Context, s *Sample) error
	LatestSample(ctx context.Context, collectorID string) (*Sample, error)
	ListSamples(ctx context.Context, collectorID string, since time.Time, limit int) ([]*Sample, error)
}

// SnapshotPublisher receives the updated snapshot after each ingest.
// Publishing is fire-and-forget; it is not part of the ingest contract.
type SnapshotPublisher interface {
	PublishSnapshot(tenantID string, sample *Sample)
}

// Service ingests heartbeat/telemetry reports authenticated by enrollment
// token. The first successful ingest consumes the token and brings the
// collector online.
type Service struct {
	enrollment *enrollment.Service
	collectors *collectors.Service
	samples    SampleStore
	publisher  SnapshotPublisher
}

func NewService(enrollmentSvc *enrollment.Service, collectorSvc *collectors.Service, sampleStore SampleStore, publisher SnapshotPublisher) *Service {
	return &Service{
		enrollment: enrollmentSvc,
		collectors: collectorSvc,
		samples:    sampleStore,
		publisher:  publisher,
	}
}

// Ingest authenticates the token, appends the sample and updates liveness.
// Returns enrollment.ErrInvalidToken for anything an unauthenticated caller
// should not be able to tell apart.
func (s *Service) Ingest(ctx context.Context, token string, sample *Sample) (*collectors.Collector, error) {
	c, err := s.enrollment.Validate(ctx, token)
	if err != nil {
		if errors.Is(err, enrollment.ErrInvalidToken) {
			metrics.TelemetryRejected.WithLabelValues("invalid_token").Inc()
		}
		return nil, err
	}

	if sample == nil || !sample.Valid() {
		metrics.TelemetryRejected.WithLabelValues("invalid_sample").Inc()
		return nil, ErrInvalidSample
	}

	now := time.Now().UTC()
	sample.CollectorID = c.ID
	if sample.Timestamp.IsZero() {
		sample.Timestamp = now
	}

	if err := s.samples.AppendSample(ctx, sample); err != nil {
		return nil, fmt.Errorf("append sample: %w", err)
	}
	if err := s.collectors.MarkOnline(ctx, c.ID, now); err != nil {
		return nil, fmt.Errorf("mark online: %w", err)
	}

	// First successful ingest after enrollment consumes the token; later
	// reports with the same value fail validation above.
	if err := s.enrollment.Expire(ctx, token); err != nil {
		slog.Warn("Failed to consume enrollment token", "collector_id", c.ID, "error", err)
	}

	metrics.TelemetryIngested.WithLabelValues(c.TenantID).Inc()

	if s.publisher != nil {
		go s.publisher.PublishSnapshot(c.TenantID, sample)
	}

	slog.Debug("Telemetry ingested",
		"collector_id", c.ID,
		"cpu", sample.CPUUsage,
		"memory", sample.MemoryUsage,
		"disk", sample.DiskUsage)
	return c, nil
}

// Latest returns the most recent sample for a collector, by sample timestamp.
func (s *Service) Latest(ctx context.Context, collectorID string) (*Sample, error) {
	sample, err := s.samples.LatestSample(ctx, collectorID)
	if err != nil {
		if errors.Is(err, ErrNoSamples) {
			return nil, nil
		}
		return nil, fmt.Errorf("latest sample: %w", err)
	}
	return sample, nil
}

// History returns samples since the given time, oldest first.
func (s *Service) History(ctx context.Context, collectorID string, since time.Time, limit int) ([]*Sample, error) {
	list, err := s.samples.ListSamples(ctx, collectorID, since, limit)
	if err != nil {
		return nil, fmt.Errorf("list samples: %w", err)
	}
	return list, nil
}
