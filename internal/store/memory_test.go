package store

import (
	"context"
	"testing"
	"time"

	"github.com/sablesec/strikepoint/internal/collectors"
	"github.com/sablesec/strikepoint/internal/journeys"
	"github.com/sablesec/strikepoint/internal/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedCollector(t *testing.T, m *Memory, id string) {
	t.Helper()
	require.NoError(t, m.CreateCollector(context.Background(), &collectors.Collector{
		ID:           id,
		TenantID:     "tenant-1",
		Name:         "site-" + id,
		Status:       collectors.StatusOffline,
		RegisteredAt: time.Now().UTC(),
	}))
}

func TestReplaceAndConsumeEnrollmentToken(t *testing.T) {
	m := NewMemory()
	seedCollector(t, m, "c1")
	ctx := context.Background()
	expires := time.Now().UTC().Add(15 * time.Minute)

	require.NoError(t, m.ReplaceEnrollmentToken(ctx, "c1", "hash-1", expires))
	c, err := m.GetCollectorByTokenHash(ctx, "hash-1")
	require.NoError(t, err)
	assert.Equal(t, "c1", c.ID)
	assert.Equal(t, collectors.StatusEnrolling, c.Status)

	// Replacing drops the old hash entirely.
	require.NoError(t, m.ReplaceEnrollmentToken(ctx, "c1", "hash-2", expires))
	_, err = m.GetCollectorByTokenHash(ctx, "hash-1")
	assert.ErrorIs(t, err, collectors.ErrCollectorNotFound)

	consumed, err := m.ConsumeEnrollmentToken(ctx, "hash-2")
	require.NoError(t, err)
	assert.Equal(t, collectors.StatusOnline, consumed.Status)
	assert.Empty(t, consumed.EnrollmentTokenHash)

	_, err = m.ConsumeEnrollmentToken(ctx, "hash-2")
	assert.ErrorIs(t, err, collectors.ErrCollectorNotFound)

	// An empty hash never matches, even if a collector stores one.
	_, err = m.GetCollectorByTokenHash(ctx, "")
	assert.ErrorIs(t, err, collectors.ErrCollectorNotFound)
}

func TestMarkStaleOffline(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	seedCollector(t, m, "fresh")
	seedCollector(t, m, "stale")
	seedCollector(t, m, "silent")

	now := time.Now().UTC()
	for _, id := range []string{"fresh", "stale", "silent"} {
		require.NoError(t, m.UpdateCollectorStatus(ctx, id, collectors.StatusOnline))
	}
	require.NoError(t, m.UpdateCollectorLastSeen(ctx, "fresh", now))
	require.NoError(t, m.UpdateCollectorLastSeen(ctx, "stale", now.Add(-10*time.Minute)))

	n, err := m.MarkStaleOffline(ctx, now.Add(-90*time.Second))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	c, _ := m.GetCollector(ctx, "fresh")
	assert.Equal(t, collectors.StatusOnline, c.Status)
	c, _ = m.GetCollector(ctx, "stale")
	assert.Equal(t, collectors.StatusOffline, c.Status)
}

func TestCopyOnRead(t *testing.T) {
	m := NewMemory()
	seedCollector(t, m, "c1")
	ctx := context.Background()

	c, err := m.GetCollector(ctx, "c1")
	require.NoError(t, err)
	c.Status = collectors.StatusError

	again, err := m.GetCollector(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, collectors.StatusOffline, again.Status, "mutating a read copy must not touch the store")
}

func TestLatestSampleByTimestamp(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	base := time.Now().UTC()

	// Newest timestamp appended first; latest must follow timestamps.
	require.NoError(t, m.AppendSample(ctx, &telemetry.Sample{CollectorID: "c1", CPUUsage: 2, Timestamp: base.Add(2 * time.Minute)}))
	require.NoError(t, m.AppendSample(ctx, &telemetry.Sample{CollectorID: "c1", CPUUsage: 1, Timestamp: base.Add(time.Minute)}))

	latest, err := m.LatestSample(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, 2.0, latest.CPUUsage)

	_, err = m.LatestSample(ctx, "nobody")
	assert.ErrorIs(t, err, telemetry.ErrNoSamples)
}

func TestJourneyTerminalImmutable(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	j := &journeys.Journey{
		ID:        "j1",
		TenantID:  "tenant-1",
		Type:      journeys.TypeEDRTesting,
		Status:    journeys.StatusPending,
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, m.CreateJourney(ctx, j))
	require.NoError(t, m.SetJourneyStarted(ctx, "j1", time.Now().UTC()))
	require.NoError(t, m.UpdateJourneyStatus(ctx, "j1", journeys.StatusCompleted, &journeys.Results{}))

	err := m.UpdateJourneyStatus(ctx, "j1", journeys.StatusFailed, nil)
	assert.ErrorIs(t, err, ErrJourneyTerminal)
	err = m.SetJourneyStarted(ctx, "j1", time.Now().UTC())
	assert.ErrorIs(t, err, ErrJourneyTerminal)

	got, err := m.GetJourney(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, journeys.StatusCompleted, got.Status)
}

func TestListJourneysNewestFirst(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	base := time.Now().UTC()
	for i, id := range []string{"old", "mid", "new"} {
		require.NoError(t, m.CreateJourney(ctx, &journeys.Journey{
			ID:        id,
			TenantID:  "tenant-1",
			Type:      journeys.TypeEDRTesting,
			Status:    journeys.StatusPending,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	list, err := m.ListJourneys(ctx, "tenant-1")
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "new", list[0].ID)
	assert.Equal(t, "old", list[2].ID)

	empty, err := m.ListJourneys(ctx, "other-tenant")
	require.NoError(t, err)
	assert.Empty(t, empty)
}
