package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teemow/toolmeter/internal/events"
	"github.com/teemow/toolmeter/internal/telemetry"
)

func serve(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealthChecker_Liveness(t *testing.T) {
	h := NewHealthChecker(nil)
	rec := serve(t, h.LivenessHandler(), "/healthz")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestHealthChecker_Readiness(t *testing.T) {
	tests := []struct {
		name       string
		ready      bool
		shutdown   bool
		wantCode   int
		wantChecks map[string]string
	}{
		{
			name:       "ready",
			ready:      true,
			wantCode:   http.StatusOK,
			wantChecks: map[string]string{"ready": healthStatusOK, "shutdown": healthStatusOK},
		},
		{
			name:       "not ready",
			wantCode:   http.StatusServiceUnavailable,
			wantChecks: map[string]string{"ready": healthStatusNotReady, "shutdown": healthStatusOK},
		},
		{
			name:       "shutting down",
			ready:      true,
			shutdown:   true,
			wantCode:   http.StatusServiceUnavailable,
			wantChecks: map[string]string{"ready": healthStatusOK, "shutdown": healthStatusShuttingDown},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sc := NewServerContext(context.Background(), testInfo)
			if tt.shutdown {
				require.NoError(t, sc.Shutdown())
			}
			h := NewHealthChecker(sc)
			h.SetReady(tt.ready)
			assert.Equal(t, tt.ready, h.IsReady())

			rec := serve(t, h.ReadinessHandler(), "/readyz")
			assert.Equal(t, tt.wantCode, rec.Code)

			var resp HealthResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, tt.wantChecks, resp.Checks)
		})
	}
}

func TestHealthChecker_Detailed(t *testing.T) {
	client, err := telemetry.NewClient(telemetry.Config{
		APIKey:    "key",
		Endpoint:  "http://127.0.0.1:1/v1/events",
		BatchSize: 5,
	})
	require.NoError(t, err)
	client.Queue(&events.Completed{Base: events.Base{ToolName: "add", Duration: 1}})
	client.Queue(&events.Completed{Base: events.Base{ToolName: "add", Duration: 1}})

	sc := NewServerContext(context.Background(), testInfo, WithTelemetry(client))
	t.Cleanup(func() { _ = sc.Shutdown() })

	rec := serve(t, NewHealthChecker(sc).DetailedHealthHandler(), "/healthz/detailed")
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp DetailedHealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, healthStatusOK, resp.Status)
	assert.Equal(t, testInfo.Name, resp.Server)
	assert.Equal(t, testInfo.Version, resp.Version)
	require.NotNil(t, resp.Telemetry)
	assert.Equal(t, 2, resp.Telemetry.QueuedEvents)
	assert.Equal(t, 5, resp.Telemetry.BatchSize)
	assert.NotEmpty(t, resp.Uptime)
}

func TestHealthChecker_RegisterHealthEndpoints(t *testing.T) {
	mux := http.NewServeMux()
	NewHealthChecker(nil).RegisterHealthEndpoints(mux)

	for _, path := range []string{"/healthz", "/readyz", "/healthz/detailed"} {
		assert.Equal(t, http.StatusOK, serve(t, mux, path).Code, path)
	}
}
