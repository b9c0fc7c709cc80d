package correlate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sablesec/strikepoint/internal/activity"
	"github.com/sablesec/strikepoint/internal/journeys"
	"github.com/sablesec/strikepoint/internal/metrics"
	"github.com/sablesec/strikepoint/internal/scans"
	"github.com/sablesec/strikepoint/internal/store"
)

var (
	ErrUnknownJourney = errors.New("journey has no registered jobs")
	ErrUnknownJob     = errors.New("job does not belong to journey")
)

// journeyState is the in-flight bookkeeping for one running journey.
type journeyState struct {
	journeyType journeys.Type
	tenantID    string
	jobs        map[string]*scans.Job
	results     map[string]*scans.Result
}

func (st *journeyState) outstanding() int {
	return len(st.jobs) - len(st.results)
}

// Service matches asynchronous job results back to their journey, merges
// them, and performs the terminal state transition. It is the only code path
// that moves a journey out of running.
type Service struct {
	mu       sync.Mutex
	inflight map[string]*journeyState

	journeys store.JourneyStore
	activity activity.Log
}

func NewService(journeyStore store.JourneyStore, log activity.Log) *Service {
	return &Service{
		inflight: make(map[string]*journeyState),
		journeys: journeyStore,
		activity: log,
	}
}

// Register records the full job set of a journey before any job can
// complete. Dispatch enumerates jobs atomically with respect to this
// bookkeeping, so a callback can never arrive for a journey with zero jobs
// registered.
func (s *Service) Register(j *journeys.Journey, jobs []*scans.Job) {
	st := &journeyState{
		journeyType: j.Type,
		tenantID:    j.TenantID,
		jobs:        make(map[string]*scans.Job, len(jobs)),
		results:     make(map[string]*scans.Result, len(jobs)),
	}
	for _, job := range jobs {
		st.jobs[job.JobID] = job
	}

	s.mu.Lock()
	s.inflight[j.ID] = st
	s.mu.Unlock()
}

// Outstanding reports whether the job has no recorded result yet.
func (s *Service) Outstanding(journeyID, jobID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.inflight[journeyID]
	if !ok {
		return false
	}
	if _, known := st.jobs[jobID]; !known {
		return false
	}
	_, done := st.results[jobID]
	return !done
}

// OutstandingJobs returns the jobs of an in-flight journey that have no
// recorded result yet. Returns nil for a journey that is not in flight.
func (s *Service) OutstandingJobs(journeyID string) []*scans.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.inflight[journeyID]
	if !ok {
		return nil
	}
	var jobs []*scans.Job
	for jobID, job := range st.jobs {
		if _, done := st.results[jobID]; !done {
			jobs = append(jobs, job)
		}
	}
	return jobs
}

// OnCallback records one job result and reports whether this delivery was
// the one that recorded it. Idempotent: a duplicate callback for a job that
// already has a result is accepted and does nothing, so findings are never
// double-counted and the terminal transition never re-fires. Callers must
// not treat an unrecorded delivery as consumed: a callback naming a journey
// that is not in flight is ignored here, and the named job keeps whatever
// timers and retry obligations it had.
func (s *Service) OnCallback(ctx context.Context, journeyID, jobID string, result *scans.Result) (bool, error) {
	s.mu.Lock()
	st, ok := s.inflight[journeyID]
	if !ok {
		s.mu.Unlock()
		// Journey already finished (or never dispatched); duplicate
		// callbacks after the terminal transition land here.
		slog.Debug("Callback for non-inflight journey ignored", "journey_id", journeyID, "job_id", jobID)
		return false, nil
	}
	job, known := st.jobs[jobID]
	if !known {
		s.mu.Unlock()
		return false, fmt.Errorf("%w: journey %s, job %s", ErrUnknownJob, journeyID, jobID)
	}
	if _, done := st.results[jobID]; done {
		s.mu.Unlock()
		slog.Debug("Duplicate callback ignored", "journey_id", journeyID, "job_id", jobID)
		return false, nil
	}

	st.results[jobID] = result
	job.State = result.State
	remaining := st.outstanding()
	s.mu.Unlock()

	metrics.JobsCompleted.WithLabelValues(string(job.Tool), string(result.State)).Inc()
	metrics.JobDuration.WithLabelValues(string(job.Tool)).Observe(time.Since(job.DispatchedAt).Seconds())
	slog.Info("Scan job result recorded",
		"journey_id", journeyID,
		"job_id", jobID,
		"tool", job.Tool,
		"state", result.State,
		"outstanding", remaining)

	if remaining > 0 {
		return true, nil
	}
	return true, s.finish(ctx, journeyID)
}

// CancelJourney terminates a running journey. Outstanding jobs are recorded
// as failed with a cancellation reason; the journey ends cancelled.
func (s *Service) CancelJourney(ctx context.Context, journeyID string) error {
	now := time.Now().UTC()

	s.mu.Lock()
	st, ok := s.inflight[journeyID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownJourney, journeyID)
	}
	for jobID, job := range st.jobs {
		if _, done := st.results[jobID]; done {
			continue
		}
		st.results[jobID] = &scans.Result{
			JobID:      jobID,
			JourneyID:  journeyID,
			Tool:       job.Tool,
			State:      scans.JobFailed,
			Error:      "journey cancelled",
			FinishedAt: now,
		}
		job.State = scans.JobFailed
	}
	results := s.merge(st)
	delete(s.inflight, journeyID)
	journeyType := st.journeyType
	s.mu.Unlock()

	if err := s.journeys.UpdateJourneyStatus(ctx, journeyID, journeys.StatusCancelled, results); err != nil {
		return fmt.Errorf("mark journey cancelled: %w", err)
	}
	metrics.JourneysFinished.WithLabelValues(string(journeyType), string(journeys.StatusCancelled)).Inc()
	s.logActivity(ctx, st.tenantID, journeyID, "journey.cancelled", "journey cancelled by operator")
	return nil
}

// finish computes the terminal status once every job has a result.
// A journey with at least one succeeded job completes, carrying the failed
// jobs in its results; a journey where everything failed or timed out fails.
func (s *Service) finish(ctx context.Context, journeyID string) error {
	s.mu.Lock()
	st, ok := s.inflight[journeyID]
	if !ok {
		s.mu.Unlock()
		return nil
	}
	results := s.merge(st)
	succeeded := 0
	for _, r := range st.results {
		if r.Succeeded() {
			succeeded++
		}
	}
	delete(s.inflight, journeyID)
	journeyType := st.journeyType
	tenantID := st.tenantID
	s.mu.Unlock()

	status := journeys.StatusCompleted
	if succeeded == 0 {
		status = journeys.StatusFailed
	}

	if err := s.journeys.UpdateJourneyStatus(ctx, journeyID, status, results); err != nil {
		return fmt.Errorf("mark journey %s: %w", status, err)
	}

	metrics.JourneysFinished.WithLabelValues(string(journeyType), string(status)).Inc()
	s.logActivity(ctx, tenantID, journeyID, "journey.finished", string(status))
	slog.Info("Journey finished",
		"journey_id", journeyID,
		"status", status,
		"succeeded_jobs", succeeded,
		"failed_jobs", len(results.FailedJobs))
	return nil
}

// merge builds the journey results as an additive union keyed by tool, so a
// re-run of one tool's job never erases another tool's findings. Failed jobs
// are always listed, never dropped.
func (s *Service) merge(st *journeyState) *journeys.Results {
	merged := &journeys.Results{
		Tools: make(map[scans.Tool]journeys.ToolResult),
	}
	for jobID, r := range st.results {
		job := st.jobs[jobID]
		if r.Succeeded() {
			tr := journeys.ToolResult{
				Tool:       job.Tool,
				Succeeded:  true,
				Summary:    r.Summary,
				ParseError: r.ParseError,
				FinishedAt: r.FinishedAt,
			}
			merged.Tools[job.Tool] = tr
			continue
		}
		reason := r.Error
		if reason == "" && r.State == scans.JobTimedOut {
			reason = "deadline exceeded"
		}
		merged.FailedJobs = append(merged.FailedJobs, journeys.FailedJob{
			JobID:  jobID,
			Tool:   job.Tool,
			State:  r.State,
			Reason: reason,
		})
	}
	for _, tr := range merged.Tools {
		if tr.Summary != nil {
			merged.Findings.Add(tr.Summary.Findings)
		}
	}
	return merged
}

func (s *Service) logActivity(ctx context.Context, tenantID, journeyID, kind, message string) {
	if s.activity == nil {
		return
	}
	err := s.activity.Append(ctx, activity.Event{
		TenantID: tenantID,
		Kind:     kind,
		Message:  message,
		Fields:   map[string]string{"journey_id": journeyID},
		At:       time.Now().UTC(),
	})
	if err != nil {
		slog.Warn("Failed to append activity event", "kind", kind, "error", err)
	}
}
