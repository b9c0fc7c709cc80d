package dispatch

import (
	"sync"

	"github.com/sablesec/strikepoint/internal/scans"
)

// CollectorQueue holds internally-routed jobs until the bound collector
// pulls them. Jobs never migrate between queues: routing is fixed at
// dispatch time.
type CollectorQueue struct {
	mu      sync.Mutex
	pending map[string][]*scans.Job // collectorID -> FIFO
}

func NewCollectorQueue() *CollectorQueue {
	return &CollectorQueue{
		pending: make(map[string][]*scans.Job),
	}
}

// Enqueue appends a job to the collector's queue.
func (q *CollectorQueue) Enqueue(job *scans.Job) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending[job.CollectorID] = append(q.pending[job.CollectorID], job)
}

// Pull drains up to max jobs for a collector, FIFO. max <= 0 drains all.
func (q *CollectorQueue) Pull(collectorID string, max int) []*scans.Job {
	q.mu.Lock()
	defer q.mu.Unlock()

	list := q.pending[collectorID]
	if len(list) == 0 {
		return nil
	}
	n := len(list)
	if max > 0 && max < n {
		n = max
	}
	out := list[:n]
	rest := list[n:]
	if len(rest) == 0 {
		delete(q.pending, collectorID)
	} else {
		q.pending[collectorID] = rest
	}
	return out
}

// Remove drops a not-yet-pulled job, e.g. on journey cancellation. Returns
// whether the job was still queued.
func (q *CollectorQueue) Remove(jobID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for collectorID, list := range q.pending {
		for i, job := range list {
			if job.JobID == jobID {
				q.pending[collectorID] = append(list[:i], list[i+1:]...)
				if len(q.pending[collectorID]) == 0 {
					delete(q.pending, collectorID)
				}
				return true
			}
		}
	}
	return false
}

// Depth returns how many jobs are queued for a collector.
func (q *CollectorQueue) Depth(collectorID string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending[collectorID])
}
