package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sablesec/strikepoint/internal/activity"
	"github.com/sablesec/strikepoint/internal/journeys"
	"github.com/sablesec/strikepoint/internal/metrics"
	"github.com/sablesec/strikepoint/internal/scans"
	"github.com/sablesec/strikepoint/internal/store"
)

// Per-tool execution budgets. The worker enforces the deadline on the
// process; the dispatcher declares a job timed out if no callback arrived by
// deadline plus grace.
const (
	DiscoveryBudget = 30 * time.Minute
	TemplateBudget  = 45 * time.Minute
	CollectorBudget = 30 * time.Minute

	DefaultGrace = 2 * time.Minute
)

// ResultSink receives the enumerated job set and the per-job outcomes. The
// correlator implements it.
type ResultSink interface {
	Register(j *journeys.Journey, jobs []*scans.Job)
	OnCallback(ctx context.Context, journeyID, jobID string, result *scans.Result) (bool, error)
}

// Service translates a journey's declarative config into scan jobs, routes
// each to its execution target, and watches for jobs that never call back.
type Service struct {
	journeys store.JourneyStore
	sink     ResultSink
	worker   WorkerClient
	queue    *CollectorQueue
	activity activity.Log
	grace    time.Duration

	mu     sync.Mutex
	timers map[string]*time.Timer // jobID -> watchdog
}

func NewService(journeyStore store.JourneyStore, sink ResultSink, worker WorkerClient, queue *CollectorQueue, log activity.Log, grace time.Duration) *Service {
	if grace <= 0 {
		grace = DefaultGrace
	}
	return &Service{
		journeys: journeyStore,
		sink:     sink,
		worker:   worker,
		queue:    queue,
		activity: log,
		grace:    grace,
		timers:   make(map[string]*time.Timer),
	}
}

// Dispatch enumerates jobs from the journey config, marks the journey
// running, registers the complete set with the sink before any job is sent,
// and hands each job to its route. Returns the created jobs immediately; the
// request path never waits for completion.
func (s *Service) Dispatch(ctx context.Context, j *journeys.Journey) ([]*scans.Job, error) {
	if err := j.Config.Validate(j.Type); err != nil {
		return nil, err
	}

	jobs, err := s.enumerate(j)
	if err != nil {
		return nil, err
	}

	if err := s.journeys.SetJourneyStarted(ctx, j.ID, time.Now().UTC()); err != nil {
		return nil, fmt.Errorf("mark journey running: %w", err)
	}

	// Job-count bookkeeping is complete before the first job can possibly
	// call back: nothing is sent until the set is registered, and a failed
	// status write above leaves no in-flight entry behind.
	s.sink.Register(j, jobs)

	for _, job := range jobs {
		s.armWatchdog(job)
		s.send(ctx, job)
		metrics.JobsDispatched.WithLabelValues(string(job.Tool), string(job.Route)).Inc()
	}

	s.logActivity(ctx, j, len(jobs))
	slog.Info("Journey dispatched", "journey_id", j.ID, "type", j.Type, "jobs", len(jobs))
	return jobs, nil
}

// Cancel terminates a running journey: queued internal jobs are dropped,
// externally running jobs get a terminate instruction, and the sink records
// the cancellation.
func (s *Service) Cancel(ctx context.Context, j *journeys.Journey, jobs []*scans.Job) error {
	for _, job := range jobs {
		s.disarmWatchdog(job.JobID)
		switch job.Route {
		case scans.RouteInternal:
			s.queue.Remove(job.JobID)
		case scans.RouteExternal:
			if err := s.worker.Cancel(ctx, job.JobID); err != nil {
				slog.Warn("Failed to cancel job on worker",
					"journey_id", j.ID, "job_id", job.JobID, "error", err)
			}
		}
	}
	return nil
}

// enumerate yields one job per (tool, target-batch) combination. Internal
// routing requires a bound collector; that is validated here, before any job
// exists.
func (s *Service) enumerate(j *journeys.Journey) ([]*scans.Job, error) {
	now := time.Now().UTC()
	var jobs []*scans.Job

	newJob := func(tool scans.Tool, route scans.Route, targets []string, options map[string]string, budget time.Duration) *scans.Job {
		return &scans.Job{
			JobID:        uuid.New().String(),
			JourneyID:    j.ID,
			TenantID:     j.TenantID,
			Tool:         tool,
			Route:        route,
			CollectorID:  j.CollectorID,
			Targets:      targets,
			Options:      options,
			State:        scans.JobDispatched,
			DispatchedAt: now,
			Deadline:     now.Add(budget),
		}
	}

	switch j.Type {
	case journeys.TypeAttackSurface:
		cfg := j.Config.AttackSurface
		if cfg.ScanType == scans.RouteInternal && j.CollectorID == "" {
			return nil, &journeys.ValidationError{Field: "collector_id", Reason: "internal scans require a bound collector"}
		}

		discoveryOpts := map[string]string{}
		if cfg.PortRange != "" {
			discoveryOpts["ports"] = cfg.PortRange
		}
		jobs = append(jobs, newJob(scans.ToolDiscovery, cfg.ScanType, cfg.Targets, discoveryOpts, DiscoveryBudget))

		if len(cfg.NucleiTemplates) > 0 {
			nucleiOpts := map[string]string{"templates": strings.Join(cfg.NucleiTemplates, ",")}
			jobs = append(jobs, newJob(scans.ToolNuclei, cfg.ScanType, cfg.Targets, nucleiOpts, TemplateBudget))
		}

	case journeys.TypeADHygiene:
		cfg := j.Config.ADHygiene
		if j.CollectorID == "" {
			return nil, &journeys.ValidationError{Field: "collector_id", Reason: "ad_hygiene journeys require a bound collector"}
		}
		opts := map[string]string{}
		if cfg.DomainController != "" {
			opts["domain_controller"] = cfg.DomainController
		}
		if len(cfg.Checks) > 0 {
			opts["checks"] = strings.Join(cfg.Checks, ",")
		}
		jobs = append(jobs, newJob(scans.ToolADAudit, scans.RouteInternal, []string{cfg.Domain}, opts, CollectorBudget))

	case journeys.TypeEDRTesting:
		cfg := j.Config.EDRTesting
		if j.CollectorID == "" {
			return nil, &journeys.ValidationError{Field: "collector_id", Reason: "edr_testing journeys require a bound collector"}
		}
		opts := map[string]string{"scenarios": strings.Join(cfg.Scenarios, ",")}
		jobs = append(jobs, newJob(scans.ToolEDRProbe, scans.RouteInternal, nil, opts, CollectorBudget))

	default:
		return nil, fmt.Errorf("%w: %q", journeys.ErrUnknownJourneyType, j.Type)
	}

	return jobs, nil
}

// send hands a job to its route. A submit failure is an execution failure of
// that job, reported through the sink like any other terminal outcome; the
// job never falls back to the other route.
func (s *Service) send(ctx context.Context, job *scans.Job) {
	switch job.Route {
	case scans.RouteInternal:
		s.queue.Enqueue(job)
		slog.Debug("Job queued for collector", "job_id", job.JobID, "collector_id", job.CollectorID)

	case scans.RouteExternal:
		if err := s.worker.Submit(ctx, job); err != nil {
			slog.Error("Failed to submit job to scan worker", "job_id", job.JobID, "error", err)
			s.disarmWatchdog(job.JobID)
			now := time.Now().UTC()
			s.report(job, &scans.Result{
				JobID:      job.JobID,
				JourneyID:  job.JourneyID,
				Tool:       job.Tool,
				State:      scans.JobFailed,
				Error:      fmt.Sprintf("dispatch to worker failed: %v", err),
				StartedAt:  now,
				FinishedAt: now,
			})
		}
	}
}

// armWatchdog declares the job timed out if no callback lands by
// deadline+grace. The sink's idempotency makes a late real callback and the
// synthesized timeout race-safe: whichever records first wins.
func (s *Service) armWatchdog(job *scans.Job) {
	d := time.Until(job.Deadline.Add(s.grace))
	timer := time.AfterFunc(d, func() {
		s.disarmWatchdog(job.JobID)
		slog.Warn("Job watchdog fired, declaring timeout",
			"journey_id", job.JourneyID, "job_id", job.JobID, "tool", job.Tool)
		s.report(job, &scans.Result{
			JobID:      job.JobID,
			JourneyID:  job.JourneyID,
			Tool:       job.Tool,
			State:      scans.JobTimedOut,
			Error:      "no completion callback before deadline",
			FinishedAt: time.Now().UTC(),
		})
	})

	s.mu.Lock()
	s.timers[job.JobID] = timer
	s.mu.Unlock()
}

// DisarmWatchdog stops the timeout watchdog once a real callback arrived.
func (s *Service) DisarmWatchdog(jobID string) {
	s.disarmWatchdog(jobID)
}

func (s *Service) disarmWatchdog(jobID string) {
	s.mu.Lock()
	timer, ok := s.timers[jobID]
	if ok {
		delete(s.timers, jobID)
	}
	s.mu.Unlock()
	if ok {
		timer.Stop()
	}
}

func (s *Service) report(job *scans.Job, result *scans.Result) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := s.sink.OnCallback(ctx, job.JourneyID, job.JobID, result); err != nil {
		slog.Error("Failed to record job outcome",
			"journey_id", job.JourneyID, "job_id", job.JobID, "error", err)
	}
}

func (s *Service) logActivity(ctx context.Context, j *journeys.Journey, jobCount int) {
	if s.activity == nil {
		return
	}
	err := s.activity.Append(ctx, activity.Event{
		TenantID: j.TenantID,
		Kind:     "journey.dispatched",
		Message:  fmt.Sprintf("%d scan job(s) dispatched", jobCount),
		Fields:   map[string]string{"journey_id": j.ID, "type": string(j.Type)},
		At:       time.Now().UTC(),
	})
	if err != nil {
		slog.Warn("Failed to append activity event", "kind", "journey.dispatched", "error", err)
	}
}
