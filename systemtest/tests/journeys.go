package tests

import (
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sablesec/strikepoint/internal/api/http/dto"
	"github.com/sablesec/strikepoint/internal/journeys"
	"github.com/sablesec/strikepoint/internal/scans"
)

// TestInternalJourneyFlow runs an ad_hygiene journey end to end: dispatch to
// the collector queue, job pull, result callback, terminal journey state.
func TestInternalJourneyFlow(t *testing.T, router *gin.Engine, operatorToken, internalAPIKey string) {
	var collector dto.RegisterCollectorResponse
	rr := doJSONWithAuth(router, "POST", "/collectors",
		dto.RegisterCollectorRequest{Name: "dc-site"}, operatorToken)
	require.Equal(t, http.StatusCreated, rr.Code)
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &collector))

	var journey journeys.Journey

	t.Run("create journey", func(t *testing.T) {
		body := dto.CreateJourneyRequest{
			Type:        journeys.TypeADHygiene,
			CollectorID: collector.ID,
			Config: journeys.Config{
				Type: journeys.TypeADHygiene,
				ADHygiene: &journeys.ADHygieneConfig{
					Domain: "corp.example.com",
					Checks: []string{"kerberoast", "stale-accounts"},
				},
			},
		}
		rr := doJSONWithAuth(router, "POST", "/journeys", body, operatorToken)
		require.Equal(t, http.StatusCreated, rr.Code)

		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &journey))
		assert.Equal(t, journeys.StatusRunning, journey.Status)
	})

	var job *scans.Job

	t.Run("collector pulls queued job", func(t *testing.T) {
		rr := doJSONWithAPIKey(router, "GET", "/api/collectors/"+collector.ID+"/jobs", nil, internalAPIKey)
		require.Equal(t, http.StatusOK, rr.Code)

		var resp dto.PullJobsResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		require.Equal(t, 1, resp.Count)
		job = resp.Jobs[0]
		assert.Equal(t, scans.ToolADAudit, job.Tool)
		assert.Equal(t, scans.RouteInternal, job.Route)
		assert.Equal(t, journey.ID, job.JourneyID)
	})

	t.Run("result callback completes journey", func(t *testing.T) {
		body := dto.ResultCallbackRequest{
			Source: "collector",
			JobID:  job.JobID,
			Results: scans.Result{
				JobID:     job.JobID,
				JourneyID: journey.ID,
				Tool:      scans.ToolADAudit,
				State:     scans.JobCompleted,
				Summary: &scans.Summary{
					Findings: scans.SeverityCount{High: 2, Medium: 5},
				},
				FinishedAt: time.Now().UTC(),
			},
		}
		rr := doJSONWithAPIKey(router, "POST", "/api/journeys/"+journey.ID+"/results", body, internalAPIKey)
		require.Equal(t, http.StatusOK, rr.Code)

		rr = doJSONWithAuth(router, "GET", "/journeys/"+journey.ID, nil, operatorToken)
		require.Equal(t, http.StatusOK, rr.Code)

		var got journeys.Journey
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
		assert.Equal(t, journeys.StatusCompleted, got.Status)
		require.NotNil(t, got.Results)
		assert.Equal(t, 2, got.Results.Findings.High)
		assert.Equal(t, 5, got.Results.Findings.Medium)
	})

	t.Run("duplicate callback is accepted and ignored", func(t *testing.T) {
		body := dto.ResultCallbackRequest{
			JobID: job.JobID,
			Results: scans.Result{
				JobID: job.JobID, JourneyID: journey.ID, Tool: scans.ToolADAudit,
				State: scans.JobCompleted, FinishedAt: time.Now().UTC(),
			},
		}
		rr := doJSONWithAPIKey(router, "POST", "/api/journeys/"+journey.ID+"/results", body, internalAPIKey)
		assert.Equal(t, http.StatusOK, rr.Code)
	})

	t.Run("callback without API key is rejected", func(t *testing.T) {
		rr := doJSON(router, "POST", "/api/journeys/"+journey.ID+"/results", dto.ResultCallbackRequest{JobID: job.JobID})
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})

	t.Run("invalid config is rejected", func(t *testing.T) {
		body := dto.CreateJourneyRequest{
			Type: journeys.TypeAttackSurface,
			Config: journeys.Config{
				Type: journeys.TypeAttackSurface,
				AttackSurface: &journeys.AttackSurfaceConfig{
					Targets:  []string{"-oN=/tmp/pwn"},
					ScanType: scans.RouteExternal,
				},
			},
		}
		rr := doJSONWithAuth(router, "POST", "/journeys", body, operatorToken)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("list journeys", func(t *testing.T) {
		rr := doJSONWithAuth(router, "GET", "/journeys", nil, operatorToken)
		require.Equal(t, http.StatusOK, rr.Code)

		var resp dto.ListJourneysResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		assert.GreaterOrEqual(t, resp.Count, 1)
	})
}
