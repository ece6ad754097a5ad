package metrics

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetrics_RegistersOnOwnRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.IndicatorsTotal.WithLabelValues("ROC_9").Add(3)
	m.CheckpointsTotal.WithLabelValues("redis", "ok").Inc()

	families, err := reg.Gather()
	require.NoError(t, err)
	got := make(map[string]float64)
	for _, mf := range families {
		for _, metric := range mf.GetMetric() {
			if c := metric.GetCounter(); c != nil {
				got[mf.GetName()] += c.GetValue()
			}
		}
	}
	assert.Equal(t, 3.0, got["indengine_indicators_total"])
	assert.Equal(t, 1.0, got["indengine_checkpoints_total"])

	// A second set on a fresh registry must not panic.
	assert.NotPanics(t, func() { NewMetrics(prometheus.NewRegistry()) })
}

func TestHealthStatus_ServeHTTP(t *testing.T) {
	tests := []struct {
		name                  string
		engine, redis, sqlite bool
		wantCode              int
		wantStatus            string
	}{
		{"healthy", true, true, true, http.StatusOK, "healthy"},
		{"sqlite down", true, true, false, http.StatusOK, "degraded"},
		{"redis down", true, false, true, http.StatusServiceUnavailable, "unhealthy"},
		{"engine not ready", false, true, true, http.StatusServiceUnavailable, "unhealthy"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthStatus()
			h.SetEngineOK(tt.engine)
			h.SetRedisConnected(tt.redis)
			h.SetSQLiteOK(tt.sqlite)
			h.SetEnabledTFs([]int{60, 300})

			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

			assert.Equal(t, tt.wantCode, rec.Code)
			var body healthResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.wantStatus, body.Status)
			assert.Equal(t, []int{60, 300}, body.EnabledTFs)
		})
	}
}

func TestServer_RoutesMetricsAndExtras(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	m.CandlesTotal.Inc()

	s := NewServer(":0", NewHealthStatus(), reg)
	s.Handle("/ping", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp2, err := http.Get(srv.URL + "/ping")
	require.NoError(t, err)
	resp2.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp2.StatusCode)
}
