package tests

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sablesec/strikepoint/internal/api/http/dto"
	"github.com/sablesec/strikepoint/internal/collectors"
	"github.com/sablesec/strikepoint/internal/telemetry"
)

// TestEnrollmentFlow walks a collector from registration through first
// heartbeat, including the one-time token consumption.
func TestEnrollmentFlow(t *testing.T, router *gin.Engine, operatorToken string) {
	var registered dto.RegisterCollectorResponse

	t.Run("register collector", func(t *testing.T) {
		body := dto.RegisterCollectorRequest{Name: "hq-site", Hostname: "scanner01", IPAddress: "10.0.0.5"}
		rr := doJSONWithAuth(router, "POST", "/collectors", body, operatorToken)
		require.Equal(t, http.StatusCreated, rr.Code)

		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &registered))
		assert.NotEmpty(t, registered.ID)
		assert.NotEmpty(t, registered.EnrollmentToken)
		assert.Contains(t, registered.EnrollmentToken, "ct_")
	})

	t.Run("telemetry brings collector online", func(t *testing.T) {
		body := dto.IngestTelemetryRequest{
			Token: registered.EnrollmentToken,
			Telemetry: telemetry.Sample{
				CPUUsage:    10,
				MemoryUsage: 20,
				DiskUsage:   30,
			},
		}
		rr := doJSON(router, "POST", "/telemetry", body)
		require.Equal(t, http.StatusOK, rr.Code)

		rr = doJSONWithAuth(router, "GET", "/collectors/"+registered.ID, nil, operatorToken)
		require.Equal(t, http.StatusOK, rr.Code)

		var resp dto.CollectorResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		assert.Equal(t, collectors.StatusOnline, resp.Status)
		require.NotNil(t, resp.LastSample)
		assert.Equal(t, 10.0, resp.LastSample.CPUUsage)
	})

	t.Run("consumed token is rejected", func(t *testing.T) {
		body := dto.IngestTelemetryRequest{
			Token:     registered.EnrollmentToken,
			Telemetry: telemetry.Sample{CPUUsage: 1, MemoryUsage: 1, DiskUsage: 1},
		}
		rr := doJSON(router, "POST", "/telemetry", body)
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})

	t.Run("regenerate token issues a fresh one", func(t *testing.T) {
		rr := doJSONWithAuth(router, "POST", "/collectors/"+registered.ID+"/regenerate-token", nil, operatorToken)
		require.Equal(t, http.StatusOK, rr.Code)

		var resp dto.RegenerateTokenResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		assert.NotEmpty(t, resp.EnrollmentToken)
		assert.NotEqual(t, registered.EnrollmentToken, resp.EnrollmentToken)

		body := dto.IngestTelemetryRequest{
			Token:     resp.EnrollmentToken,
			Telemetry: telemetry.Sample{CPUUsage: 5, MemoryUsage: 5, DiskUsage: 5},
		}
		ingestRR := doJSON(router, "POST", "/telemetry", body)
		assert.Equal(t, http.StatusOK, ingestRR.Code)
	})

	t.Run("invalid token is rejected generically", func(t *testing.T) {
		body := dto.IngestTelemetryRequest{
			Token:     "ct_never-issued",
			Telemetry: telemetry.Sample{CPUUsage: 1, MemoryUsage: 1, DiskUsage: 1},
		}
		rr := doJSON(router, "POST", "/telemetry", body)
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})

	t.Run("unauthenticated operator surface", func(t *testing.T) {
		rr := doJSON(router, "GET", "/collectors", nil)
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})
}
