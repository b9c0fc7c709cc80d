package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sablesec/strikepoint/internal/api/http/dto"
	"github.com/sablesec/strikepoint/internal/api/http/middleware"
	"github.com/sablesec/strikepoint/internal/auth"
	"github.com/sablesec/strikepoint/internal/correlate"
	"github.com/sablesec/strikepoint/internal/dispatch"
	"github.com/sablesec/strikepoint/internal/journeys"
	"github.com/sablesec/strikepoint/internal/scans"
	"github.com/sablesec/strikepoint/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type journeysFixture struct {
	mem    *store.Memory
	router *gin.Engine
}

func setupJourneysFixture(t *testing.T) *journeysFixture {
	t.Helper()
	mem := store.NewMemory()
	correlator := correlate.NewService(mem, mem)
	queue := dispatch.NewCollectorQueue()
	dispatcher := dispatch.NewService(mem, correlator, noopWorker{}, queue, mem, time.Minute)

	h := NewJourneysHandler(mem, dispatcher, correlator)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set(middleware.PrincipalKey, &auth.Principal{
			OperatorID: "op-1",
			TenantID:   "tenant-1",
			Role:       "operator",
		})
	})
	r.POST("/api/journeys", h.CreateJourney)

	return &journeysFixture{mem: mem, router: r}
}

func (f *journeysFixture) create(t *testing.T, payload dto.CreateJourneyRequest) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	req, _ := http.NewRequest("POST", "/api/journeys", bytes.NewBuffer(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func TestCreateJourneyDispatchesExternal(t *testing.T) {
	f := setupJourneysFixture(t)

	w := f.create(t, dto.CreateJourneyRequest{
		Type: journeys.TypeAttackSurface,
		Config: journeys.Config{
			Type: journeys.TypeAttackSurface,
			AttackSurface: &journeys.AttackSurfaceConfig{
				Targets:  []string{"203.0.113.0/28"},
				ScanType: scans.RouteExternal,
			},
		},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var created journeys.Journey
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.Equal(t, journeys.StatusRunning, created.Status)
	assert.Equal(t, "tenant-1", created.TenantID)
}

func TestCreateJourneyDispatchFailureRecordsReason(t *testing.T) {
	f := setupJourneysFixture(t)

	// Internal routing without a bound collector fails at dispatch time.
	// The journey must end up failed with results explaining why, never
	// failed with a null results document.
	w := f.create(t, dto.CreateJourneyRequest{
		Type: journeys.TypeAttackSurface,
		Config: journeys.Config{
			Type: journeys.TypeAttackSurface,
			AttackSurface: &journeys.AttackSurfaceConfig{
				Targets:  []string{"10.0.0.0/28"},
				ScanType: scans.RouteInternal,
			},
		},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	list, err := f.mem.ListJourneys(context.Background(), "tenant-1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	j := list[0]
	assert.Equal(t, journeys.StatusFailed, j.Status)
	require.NotNil(t, j.Results)
	assert.NotNil(t, j.Results.Tools)
	require.Len(t, j.Results.FailedJobs, 1)
	assert.Equal(t, scans.JobFailed, j.Results.FailedJobs[0].State)
	assert.NotEmpty(t, j.Results.FailedJobs[0].Reason)
}

func TestCreateJourneyInvalidConfig(t *testing.T) {
	f := setupJourneysFixture(t)

	w := f.create(t, dto.CreateJourneyRequest{
		Type: journeys.TypeAttackSurface,
		Config: journeys.Config{
			Type: journeys.TypeAttackSurface,
			AttackSurface: &journeys.AttackSurfaceConfig{
				Targets:  []string{"-oN /tmp/out"},
				ScanType: scans.RouteExternal,
			},
		},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	list, err := f.mem.ListJourneys(context.Background(), "tenant-1")
	require.NoError(t, err)
	assert.Empty(t, list, "config rejected before anything is persisted")
}
