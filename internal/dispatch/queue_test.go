package dispatch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/sablesec/strikepoint/internal/scans"
)

func queuedJob(id, collectorID string) *scans.Job {
	return &scans.Job{JobID: id, CollectorID: collectorID, Route: scans.RouteInternal}
}

func TestQueueFIFO(t *testing.T) {
	q := NewCollectorQueue()
	q.Enqueue(queuedJob("a", "col-1"))
	q.Enqueue(queuedJob("b", "col-1"))
	q.Enqueue(queuedJob("c", "col-2"))

	first := q.Pull("col-1", 1)
	assert.Len(t, first, 1)
	assert.Equal(t, "a", first[0].JobID)

	rest := q.Pull("col-1", 0)
	assert.Len(t, rest, 1)
	assert.Equal(t, "b", rest[0].JobID)

	assert.Empty(t, q.Pull("col-1", 0))
	assert.Equal(t, 1, q.Depth("col-2"))
}

func TestQueueRemove(t *testing.T) {
	q := NewCollectorQueue()
	q.Enqueue(queuedJob("a", "col-1"))
	q.Enqueue(queuedJob("b", "col-1"))

	assert.True(t, q.Remove("a"))
	assert.False(t, q.Remove("a"))

	left := q.Pull("col-1", 0)
	assert.Len(t, left, 1)
	assert.Equal(t, "b", left[0].JobID)
}
