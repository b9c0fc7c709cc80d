package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sablesec/strikepoint/internal/journeys"
	"github.com/sablesec/strikepoint/internal/scans"
	"github.com/sablesec/strikepoint/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSink struct {
	mu         sync.Mutex
	registered []*scans.Job
	results    map[string]*scans.Result
}

func newFakeSink() *fakeSink {
	return &fakeSink{results: make(map[string]*scans.Result)}
}

func (f *fakeSink) Register(j *journeys.Journey, jobs []*scans.Job) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.registered = append(f.registered, jobs...)
}

func (f *fakeSink) OnCallback(ctx context.Context, journeyID, jobID string, result *scans.Result) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, dup := f.results[jobID]; dup {
		return false, nil
	}
	f.results[jobID] = result
	return true, nil
}

func (f *fakeSink) result(jobID string) *scans.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.results[jobID]
}

type fakeWorker struct {
	mu        sync.Mutex
	submitted []*scans.Job
	cancelled []string
	err       error
}

func (f *fakeWorker) Submit(ctx context.Context, job *scans.Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.submitted = append(f.submitted, job)
	return nil
}

func (f *fakeWorker) Cancel(ctx context.Context, jobID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, jobID)
	return nil
}

func attackSurfaceJourney(scanType scans.Route, collectorID string, templates []string) *journeys.Journey {
	return &journeys.Journey{
		ID:          "j1",
		TenantID:    "tenant-1",
		Type:        journeys.TypeAttackSurface,
		Status:      journeys.StatusPending,
		CollectorID: collectorID,
		Config: journeys.Config{
			Type: journeys.TypeAttackSurface,
			AttackSurface: &journeys.AttackSurfaceConfig{
				Targets:         []string{"192.0.2.0/28"},
				ScanType:        scanType,
				PortRange:       "1-1024",
				NucleiTemplates: templates,
			},
		},
		CreatedAt: time.Now().UTC(),
	}
}

func newDispatcher(t *testing.T, sink ResultSink, worker WorkerClient, grace time.Duration) (*Service, *store.Memory, *CollectorQueue) {
	t.Helper()
	mem := store.NewMemory()
	queue := NewCollectorQueue()
	return NewService(mem, sink, worker, queue, mem, grace), mem, queue
}

func TestDispatchExternalAttackSurface(t *testing.T) {
	sink := newFakeSink()
	worker := &fakeWorker{}
	svc, mem, _ := newDispatcher(t, sink, worker, time.Minute)

	j := attackSurfaceJourney(scans.RouteExternal, "", []string{"cves"})
	require.NoError(t, mem.CreateJourney(context.Background(), j))

	jobs, err := svc.Dispatch(context.Background(), j)
	require.NoError(t, err)
	require.Len(t, jobs, 2)

	byTool := map[scans.Tool]*scans.Job{}
	for _, job := range jobs {
		byTool[job.Tool] = job
		svc.DisarmWatchdog(job.JobID)
	}
	discovery := byTool[scans.ToolDiscovery]
	require.NotNil(t, discovery)
	assert.Equal(t, scans.RouteExternal, discovery.Route)
	assert.Equal(t, "1-1024", discovery.Options["ports"])
	assert.WithinDuration(t, time.Now().Add(DiscoveryBudget), discovery.Deadline, 5*time.Second)

	nuclei := byTool[scans.ToolNuclei]
	require.NotNil(t, nuclei)
	assert.Equal(t, "cves", nuclei.Options["templates"])
	assert.WithinDuration(t, time.Now().Add(TemplateBudget), nuclei.Deadline, 5*time.Second)

	assert.Len(t, sink.registered, 2)
	assert.Len(t, worker.submitted, 2)

	got, err := mem.GetJourney(context.Background(), "j1")
	require.NoError(t, err)
	assert.Equal(t, journeys.StatusRunning, got.Status)
	assert.NotNil(t, got.StartedAt)
}

func TestDispatchWithoutTemplatesSkipsNuclei(t *testing.T) {
	sink := newFakeSink()
	worker := &fakeWorker{}
	svc, mem, _ := newDispatcher(t, sink, worker, time.Minute)

	j := attackSurfaceJourney(scans.RouteExternal, "", nil)
	require.NoError(t, mem.CreateJourney(context.Background(), j))

	jobs, err := svc.Dispatch(context.Background(), j)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, scans.ToolDiscovery, jobs[0].Tool)
	svc.DisarmWatchdog(jobs[0].JobID)
}

func TestDispatchInternalRequiresCollector(t *testing.T) {
	sink := newFakeSink()
	svc, mem, _ := newDispatcher(t, sink, &fakeWorker{}, time.Minute)

	j := attackSurfaceJourney(scans.RouteInternal, "", nil)
	require.NoError(t, mem.CreateJourney(context.Background(), j))

	_, err := svc.Dispatch(context.Background(), j)
	var verr *journeys.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "collector_id", verr.Field)
	assert.Empty(t, sink.registered)

	got, err := mem.GetJourney(context.Background(), "j1")
	require.NoError(t, err)
	assert.Equal(t, journeys.StatusPending, got.Status, "validation failure leaves the journey untouched")
}

func TestDispatchStatusWriteFailureRegistersNothing(t *testing.T) {
	sink := newFakeSink()
	svc, _, _ := newDispatcher(t, sink, &fakeWorker{}, time.Minute)

	// The journey was never persisted, so marking it running fails. The
	// sink must not be holding an in-flight set for a journey that never
	// started.
	j := attackSurfaceJourney(scans.RouteExternal, "", nil)
	_, err := svc.Dispatch(context.Background(), j)
	require.ErrorIs(t, err, store.ErrNotFound)
	assert.Empty(t, sink.registered)
	assert.Empty(t, sink.results)
}

func TestDispatchInternalQueuesForCollector(t *testing.T) {
	sink := newFakeSink()
	worker := &fakeWorker{}
	svc, mem, queue := newDispatcher(t, sink, worker, time.Minute)

	j := &journeys.Journey{
		ID:          "j1",
		TenantID:    "tenant-1",
		Type:        journeys.TypeADHygiene,
		Status:      journeys.StatusPending,
		CollectorID: "col-1",
		Config: journeys.Config{
			Type:      journeys.TypeADHygiene,
			ADHygiene: &journeys.ADHygieneConfig{Domain: "corp.example.com", Checks: []string{"kerberoast"}},
		},
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, mem.CreateJourney(context.Background(), j))

	jobs, err := svc.Dispatch(context.Background(), j)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	svc.DisarmWatchdog(jobs[0].JobID)

	assert.Equal(t, scans.ToolADAudit, jobs[0].Tool)
	assert.Equal(t, scans.RouteInternal, jobs[0].Route)
	assert.Empty(t, worker.submitted, "internal jobs never reach the external worker")

	pulled := queue.Pull("col-1", 0)
	require.Len(t, pulled, 1)
	assert.Equal(t, jobs[0].JobID, pulled[0].JobID)
	assert.Equal(t, "kerberoast", pulled[0].Options["checks"])
}

func TestSubmitFailureFailsJob(t *testing.T) {
	sink := newFakeSink()
	worker := &fakeWorker{err: errors.New("connection refused")}
	svc, mem, _ := newDispatcher(t, sink, worker, time.Minute)

	j := attackSurfaceJourney(scans.RouteExternal, "", nil)
	require.NoError(t, mem.CreateJourney(context.Background(), j))

	jobs, err := svc.Dispatch(context.Background(), j)
	require.NoError(t, err)
	require.Len(t, jobs, 1)

	result := sink.result(jobs[0].JobID)
	require.NotNil(t, result)
	assert.Equal(t, scans.JobFailed, result.State)
	assert.Contains(t, result.Error, "connection refused")
}

func TestWatchdogDeclaresTimeout(t *testing.T) {
	sink := newFakeSink()
	svc, _, _ := newDispatcher(t, sink, &fakeWorker{}, time.Millisecond)

	job := &scans.Job{
		JobID:        "job-1",
		JourneyID:    "j1",
		Tool:         scans.ToolDiscovery,
		Route:        scans.RouteExternal,
		State:        scans.JobDispatched,
		DispatchedAt: time.Now().UTC(),
		Deadline:     time.Now().UTC().Add(10 * time.Millisecond),
	}
	svc.armWatchdog(job)

	require.Eventually(t, func() bool {
		return sink.result("job-1") != nil
	}, 2*time.Second, 10*time.Millisecond)

	result := sink.result("job-1")
	assert.Equal(t, scans.JobTimedOut, result.State)
}

func TestDisarmedWatchdogStaysQuiet(t *testing.T) {
	sink := newFakeSink()
	svc, _, _ := newDispatcher(t, sink, &fakeWorker{}, time.Millisecond)

	job := &scans.Job{
		JobID:     "job-1",
		JourneyID: "j1",
		Tool:      scans.ToolDiscovery,
		Deadline:  time.Now().UTC().Add(20 * time.Millisecond),
	}
	svc.armWatchdog(job)
	svc.DisarmWatchdog("job-1")

	time.Sleep(100 * time.Millisecond)
	assert.Nil(t, sink.result("job-1"))
}

func TestCancelRemovesQueuedAndCancelsExternal(t *testing.T) {
	sink := newFakeSink()
	worker := &fakeWorker{}
	svc, _, queue := newDispatcher(t, sink, worker, time.Minute)

	internal := &scans.Job{JobID: "int-1", JourneyID: "j1", CollectorID: "col-1", Route: scans.RouteInternal}
	external := &scans.Job{JobID: "ext-1", JourneyID: "j1", Route: scans.RouteExternal}
	queue.Enqueue(internal)

	j := &journeys.Journey{ID: "j1", TenantID: "tenant-1"}
	require.NoError(t, svc.Cancel(context.Background(), j, []*scans.Job{internal, external}))

	assert.Equal(t, 0, queue.Depth("col-1"))
	assert.Equal(t, []string{"ext-1"}, worker.cancelled)
}
