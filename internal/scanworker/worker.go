package scanworker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sablesec/strikepoint/internal/metrics"
	"github.com/sablesec/strikepoint/internal/scans"
	"golang.org/x/sync/semaphore"
)

var (
	// ErrWorkerBusy rejects jobs beyond the concurrent-job bound. The
	// dispatcher treats the rejection as a failed submit; nothing queues
	// silently on the worker side.
	ErrWorkerBusy     = errors.New("worker at maximum concurrent jobs")
	ErrUnknownTool    = errors.New("no runner for tool")
	ErrAlreadyRunning = errors.New("job already running")
)

// ToolRunner executes one job with one tool. Implementations own spawn,
// deadline enforcement and process cleanup for their tool.
type ToolRunner interface {
	Run(ctx context.Context, job *scans.Job) *scans.Result
}

// ResultDeliverer posts a finished job's result back to the central API.
type ResultDeliverer interface {
	Deliver(ctx context.Context, result *scans.Result) error
}

// Worker executes scan jobs as independent child processes, bounded by a
// weighted semaphore. Each job's timeout is enforced here, regardless of
// whether the dispatcher is still alive.
type Worker struct {
	sem      *semaphore.Weighted
	runners  map[scans.Tool]ToolRunner
	callback ResultDeliverer

	mu      sync.Mutex
	running map[string]context.CancelFunc
	wg      sync.WaitGroup
}

func New(maxConcurrent int64, callback ResultDeliverer) *Worker {
	if maxConcurrent <= 0 {
		maxConcurrent = 4
	}
	return &Worker{
		sem:      semaphore.NewWeighted(maxConcurrent),
		runners:  make(map[scans.Tool]ToolRunner),
		callback: callback,
		running:  make(map[string]context.CancelFunc),
	}
}

// RegisterRunner binds a tool to its runner.
func (w *Worker) RegisterRunner(tool scans.Tool, runner ToolRunner) {
	w.runners[tool] = runner
}

// Submit starts the job in the background and returns immediately. Returns
// ErrWorkerBusy when the concurrent-job bound is reached.
func (w *Worker) Submit(job *scans.Job) error {
	runner, ok := w.runners[job.Tool]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTool, job.Tool)
	}
	if !w.sem.TryAcquire(1) {
		return ErrWorkerBusy
	}

	ctx, cancel := context.WithCancel(context.Background())
	w.mu.Lock()
	if _, exists := w.running[job.JobID]; exists {
		w.mu.Unlock()
		w.sem.Release(1)
		cancel()
		return fmt.Errorf("%w: %s", ErrAlreadyRunning, job.JobID)
	}
	w.running[job.JobID] = cancel
	w.mu.Unlock()

	metrics.WorkerJobsActive.Inc()
	w.wg.Add(1)
	go w.run(ctx, cancel, runner, job)

	slog.Info("Scan job accepted",
		"job_id", job.JobID,
		"journey_id", job.JourneyID,
		"tool", job.Tool,
		"deadline", job.Deadline)
	return nil
}

// Cancel terminates a running job's process group. Returns false if the job
// is not running here.
func (w *Worker) Cancel(jobID string) bool {
	w.mu.Lock()
	cancel, ok := w.running[jobID]
	w.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// ActiveJobs returns how many jobs are currently executing.
func (w *Worker) ActiveJobs() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.running)
}

// Wait blocks until all in-flight jobs have finished and their callbacks
// were attempted. Used on shutdown.
func (w *Worker) Wait() {
	w.wg.Wait()
}

func (w *Worker) run(ctx context.Context, cancel context.CancelFunc, runner ToolRunner, job *scans.Job) {
	defer w.wg.Done()
	defer func() {
		cancel()
		w.mu.Lock()
		delete(w.running, job.JobID)
		w.mu.Unlock()
		w.sem.Release(1)
		metrics.WorkerJobsActive.Dec()
	}()

	result := runner.Run(ctx, job)
	if result == nil {
		result = &scans.Result{
			JobID:      job.JobID,
			JourneyID:  job.JourneyID,
			Tool:       job.Tool,
			State:      scans.JobFailed,
			Error:      "runner returned no result",
			FinishedAt: time.Now().UTC(),
		}
	}

	// A cancelled context without a blown deadline means the dispatcher
	// asked us to terminate, not that the tool was too slow.
	if ctx.Err() == context.Canceled && result.State == scans.JobTimedOut && time.Now().Before(job.Deadline) {
		result.State = scans.JobFailed
		result.Error = "job cancelled"
	}

	slog.Info("Scan job finished",
		"job_id", job.JobID,
		"journey_id", job.JourneyID,
		"tool", job.Tool,
		"state", result.State,
		"exit_code", result.ExitCode)

	// Failure and timeout are reportable outcomes like success; the
	// callback goes out in every case.
	deliverCtx, deliverCancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer deliverCancel()
	if err := w.callback.Deliver(deliverCtx, result); err != nil {
		slog.Error("Result callback delivery failed",
			"journey_id", job.JourneyID,
			"job_id", job.JobID,
			"error", err)
	}
}
