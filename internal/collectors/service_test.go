package collectors_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sablesec/strikepoint/internal/collectors"
	"github.com/sablesec/strikepoint/internal/store"
)

func TestRegister(t *testing.T) {
	mem := store.NewMemory()
	svc := collectors.NewService(mem, mem, 0)

	c, err := svc.Register(context.Background(), "tenant-1", "hq-site", "scanner01", "10.0.0.5")
	require.NoError(t, err)
	assert.NotEmpty(t, c.ID)
	assert.Equal(t, collectors.StatusOffline, c.Status)
	assert.Equal(t, "tenant-1", c.TenantID)

	_, err = svc.Register(context.Background(), "tenant-1", "", "", "")
	assert.Error(t, err)
}

func TestEffectiveStatusStaleness(t *testing.T) {
	mem := store.NewMemory()
	svc := collectors.NewService(mem, mem, 30*time.Second)
	now := time.Now().UTC()

	fresh := now.Add(-time.Minute)
	stale := now.Add(-2 * time.Minute)

	c := &collectors.Collector{Status: collectors.StatusOnline, LastSeenAt: &fresh}
	assert.Equal(t, collectors.StatusOnline, svc.EffectiveStatus(c, now))

	c.LastSeenAt = &stale
	assert.Equal(t, collectors.StatusOffline, svc.EffectiveStatus(c, now))

	c.LastSeenAt = nil
	assert.Equal(t, collectors.StatusOffline, svc.EffectiveStatus(c, now))

	// Staleness only decays online; error and enrolling stay as stored.
	c = &collectors.Collector{Status: collectors.StatusError, LastSeenAt: &stale}
	assert.Equal(t, collectors.StatusError, svc.EffectiveStatus(c, now))
	c.Status = collectors.StatusEnrolling
	assert.Equal(t, collectors.StatusEnrolling, svc.EffectiveStatus(c, now))
}

func TestGetAppliesStaleness(t *testing.T) {
	mem := store.NewMemory()
	svc := collectors.NewService(mem, mem, 30*time.Second)

	c, err := svc.Register(context.Background(), "tenant-1", "hq-site", "", "")
	require.NoError(t, err)

	stale := time.Now().UTC().Add(-5 * time.Minute)
	require.NoError(t, mem.UpdateCollectorStatus(context.Background(), c.ID, collectors.StatusOnline))
	require.NoError(t, mem.UpdateCollectorLastSeen(context.Background(), c.ID, stale))

	got, err := svc.Get(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, collectors.StatusOffline, got.Status)
}

func TestAcknowledgeError(t *testing.T) {
	mem := store.NewMemory()
	svc := collectors.NewService(mem, mem, 0)

	c, err := svc.Register(context.Background(), "tenant-1", "hq-site", "", "")
	require.NoError(t, err)

	err = svc.AcknowledgeError(context.Background(), c.ID)
	assert.ErrorIs(t, err, collectors.ErrNotInError)

	require.NoError(t, svc.MarkError(context.Background(), c.ID, "disk full"))
	require.NoError(t, svc.AcknowledgeError(context.Background(), c.ID))

	got, err := svc.Get(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, collectors.StatusOffline, got.Status)
}

func TestGetNotFound(t *testing.T) {
	mem := store.NewMemory()
	svc := collectors.NewService(mem, mem, 0)

	_, err := svc.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, collectors.ErrCollectorNotFound)
}
