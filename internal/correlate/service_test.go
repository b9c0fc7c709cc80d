package correlate

import (
	"context"
	"testing"
	"time"

	"github.com/sablesec/strikepoint/internal/journeys"
	"github.com/sablesec/strikepoint/internal/scans"
	"github.com/sablesec/strikepoint/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newJourney(t *testing.T, mem *store.Memory) *journeys.Journey {
	t.Helper()
	j := &journeys.Journey{
		ID:       "j1",
		TenantID: "tenant-1",
		Type:     journeys.TypeAttackSurface,
		Status:   journeys.StatusPending,
		Config: journeys.Config{
			Type: journeys.TypeAttackSurface,
			AttackSurface: &journeys.AttackSurfaceConfig{
				Targets:  []string{"192.0.2.10"},
				ScanType: scans.RouteExternal,
			},
		},
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, mem.CreateJourney(context.Background(), j))
	require.NoError(t, mem.SetJourneyStarted(context.Background(), j.ID, time.Now().UTC()))
	return j
}

func job(id string, tool scans.Tool) *scans.Job {
	now := time.Now().UTC()
	return &scans.Job{
		JobID:        id,
		JourneyID:    "j1",
		TenantID:     "tenant-1",
		Tool:         tool,
		Route:        scans.RouteExternal,
		State:        scans.JobDispatched,
		DispatchedAt: now,
		Deadline:     now.Add(time.Hour),
	}
}

func completed(id string, tool scans.Tool, findings scans.SeverityCount) *scans.Result {
	return &scans.Result{
		JobID:      id,
		JourneyID:  "j1",
		Tool:       tool,
		State:      scans.JobCompleted,
		Summary:    &scans.Summary{Findings: findings},
		FinishedAt: time.Now().UTC(),
	}
}

func deliver(t *testing.T, svc *Service, journeyID, jobID string, result *scans.Result) bool {
	t.Helper()
	recorded, err := svc.OnCallback(context.Background(), journeyID, jobID, result)
	require.NoError(t, err)
	return recorded
}

func TestAllJobsSucceed(t *testing.T) {
	mem := store.NewMemory()
	svc := NewService(mem, mem)
	j := newJourney(t, mem)
	svc.Register(j, []*scans.Job{job("a", scans.ToolDiscovery), job("b", scans.ToolNuclei)})

	assert.True(t, deliver(t, svc, "j1", "a",
		completed("a", scans.ToolDiscovery, scans.SeverityCount{})))

	got, err := mem.GetJourney(context.Background(), "j1")
	require.NoError(t, err)
	assert.Equal(t, journeys.StatusRunning, got.Status, "journey stays running until every job reports")

	assert.True(t, deliver(t, svc, "j1", "b",
		completed("b", scans.ToolNuclei, scans.SeverityCount{Critical: 1, Low: 2})))

	got, err = mem.GetJourney(context.Background(), "j1")
	require.NoError(t, err)
	assert.Equal(t, journeys.StatusCompleted, got.Status)
	require.NotNil(t, got.Results)
	assert.Equal(t, 1, got.Results.Findings.Critical)
	assert.Equal(t, 2, got.Results.Findings.Low)
	assert.Len(t, got.Results.Tools, 2)
	assert.Empty(t, got.Results.FailedJobs)
	assert.NotNil(t, got.CompletedAt)
}

func TestPartialSuccessCompletesWithFailedJobs(t *testing.T) {
	mem := store.NewMemory()
	svc := NewService(mem, mem)
	j := newJourney(t, mem)
	svc.Register(j, []*scans.Job{job("a", scans.ToolDiscovery), job("b", scans.ToolNuclei)})

	deliver(t, svc, "j1", "a", completed("a", scans.ToolDiscovery, scans.SeverityCount{Critical: 1}))
	deliver(t, svc, "j1", "b", &scans.Result{
		JobID: "b", JourneyID: "j1", Tool: scans.ToolNuclei,
		State: scans.JobTimedOut, FinishedAt: time.Now().UTC(),
	})

	got, err := mem.GetJourney(context.Background(), "j1")
	require.NoError(t, err)
	assert.Equal(t, journeys.StatusCompleted, got.Status)
	require.NotNil(t, got.Results)
	assert.Equal(t, 1, got.Results.Findings.Critical)
	require.Len(t, got.Results.FailedJobs, 1)
	assert.Equal(t, "b", got.Results.FailedJobs[0].JobID)
	assert.Equal(t, scans.JobTimedOut, got.Results.FailedJobs[0].State)
	assert.Equal(t, "deadline exceeded", got.Results.FailedJobs[0].Reason)
}

func TestAllJobsFail(t *testing.T) {
	mem := store.NewMemory()
	svc := NewService(mem, mem)
	j := newJourney(t, mem)
	svc.Register(j, []*scans.Job{job("a", scans.ToolDiscovery)})

	deliver(t, svc, "j1", "a", &scans.Result{
		JobID: "a", JourneyID: "j1", Tool: scans.ToolDiscovery,
		State: scans.JobFailed, Error: "binary not found", FinishedAt: time.Now().UTC(),
	})

	got, err := mem.GetJourney(context.Background(), "j1")
	require.NoError(t, err)
	assert.Equal(t, journeys.StatusFailed, got.Status)
	require.Len(t, got.Results.FailedJobs, 1)
	assert.Equal(t, "binary not found", got.Results.FailedJobs[0].Reason)
}

func TestDuplicateCallbackIgnored(t *testing.T) {
	mem := store.NewMemory()
	svc := NewService(mem, mem)
	j := newJourney(t, mem)
	svc.Register(j, []*scans.Job{job("a", scans.ToolDiscovery), job("b", scans.ToolNuclei)})

	first := completed("a", scans.ToolDiscovery, scans.SeverityCount{High: 3})
	assert.True(t, deliver(t, svc, "j1", "a", first))

	// Redelivery with different content is not recorded and changes nothing.
	dup := completed("a", scans.ToolDiscovery, scans.SeverityCount{High: 99})
	assert.False(t, deliver(t, svc, "j1", "a", dup))

	deliver(t, svc, "j1", "b", completed("b", scans.ToolNuclei, scans.SeverityCount{}))

	got, err := mem.GetJourney(context.Background(), "j1")
	require.NoError(t, err)
	assert.Equal(t, 3, got.Results.Findings.High, "first result wins")
}

func TestCallbackForWrongJourneyNotRecorded(t *testing.T) {
	mem := store.NewMemory()
	svc := NewService(mem, mem)
	j := newJourney(t, mem)
	svc.Register(j, []*scans.Job{job("a", scans.ToolDiscovery)})

	// Delivery addressed to a journey that is not in flight must leave the
	// real journey's job outstanding.
	assert.False(t, deliver(t, svc, "elsewhere", "a",
		completed("a", scans.ToolDiscovery, scans.SeverityCount{})))
	assert.Len(t, svc.OutstandingJobs("j1"), 1)

	got, err := mem.GetJourney(context.Background(), "j1")
	require.NoError(t, err)
	assert.Equal(t, journeys.StatusRunning, got.Status)

	assert.True(t, deliver(t, svc, "j1", "a",
		completed("a", scans.ToolDiscovery, scans.SeverityCount{})))

	got, err = mem.GetJourney(context.Background(), "j1")
	require.NoError(t, err)
	assert.Equal(t, journeys.StatusCompleted, got.Status)
}

func TestCallbackAfterFinishIsNoOp(t *testing.T) {
	mem := store.NewMemory()
	svc := NewService(mem, mem)
	j := newJourney(t, mem)
	svc.Register(j, []*scans.Job{job("a", scans.ToolDiscovery)})

	assert.True(t, deliver(t, svc, "j1", "a",
		completed("a", scans.ToolDiscovery, scans.SeverityCount{})))

	// Journey finished; a late duplicate must not error or touch the store.
	assert.False(t, deliver(t, svc, "j1", "a",
		completed("a", scans.ToolDiscovery, scans.SeverityCount{Critical: 5})))

	got, err := mem.GetJourney(context.Background(), "j1")
	require.NoError(t, err)
	assert.Equal(t, 0, got.Results.Findings.Critical)
}

func TestUnknownJobRejected(t *testing.T) {
	mem := store.NewMemory()
	svc := NewService(mem, mem)
	j := newJourney(t, mem)
	svc.Register(j, []*scans.Job{job("a", scans.ToolDiscovery)})

	recorded, err := svc.OnCallback(context.Background(), "j1", "stranger",
		completed("stranger", scans.ToolDiscovery, scans.SeverityCount{}))
	assert.ErrorIs(t, err, ErrUnknownJob)
	assert.False(t, recorded)
}

func TestOutstandingJobs(t *testing.T) {
	mem := store.NewMemory()
	svc := NewService(mem, mem)
	j := newJourney(t, mem)
	svc.Register(j, []*scans.Job{job("a", scans.ToolDiscovery), job("b", scans.ToolNuclei)})

	assert.Len(t, svc.OutstandingJobs("j1"), 2)
	deliver(t, svc, "j1", "a", completed("a", scans.ToolDiscovery, scans.SeverityCount{}))
	remaining := svc.OutstandingJobs("j1")
	require.Len(t, remaining, 1)
	assert.Equal(t, "b", remaining[0].JobID)

	assert.Nil(t, svc.OutstandingJobs("missing"))
}

func TestCancelJourney(t *testing.T) {
	mem := store.NewMemory()
	svc := NewService(mem, mem)
	j := newJourney(t, mem)
	svc.Register(j, []*scans.Job{job("a", scans.ToolDiscovery), job("b", scans.ToolNuclei)})

	deliver(t, svc, "j1", "a", completed("a", scans.ToolDiscovery, scans.SeverityCount{Medium: 2}))
	require.NoError(t, svc.CancelJourney(context.Background(), "j1"))

	got, err := mem.GetJourney(context.Background(), "j1")
	require.NoError(t, err)
	assert.Equal(t, journeys.StatusCancelled, got.Status)
	assert.Equal(t, 2, got.Results.Findings.Medium, "finished results survive cancellation")
	require.Len(t, got.Results.FailedJobs, 1)
	assert.Equal(t, "journey cancelled", got.Results.FailedJobs[0].Reason)

	assert.ErrorIs(t, svc.CancelJourney(context.Background(), "j1"), ErrUnknownJourney)
}
