package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/kartik-sc/os-el---system-monitoring-application/pkg/ingest"
	"github.com/kartik-sc/os-el---system-monitoring-application/pkg/ml"
	"github.com/kartik-sc/os-el---system-monitoring-application/shared/config"
	"github.com/kartik-sc/os-el---system-monitoring-application/shared/eventbus"
)

func newTestServer(t *testing.T) (*Server, *eventbus.Bus, *ingest.Processor) {
	t.Helper()
	logger := zaptest.NewLogger(t)
	bus := eventbus.NewBus(256, logger)
	proc := ingest.NewProcessor(bus, config.ProcessorConfig{HistorySize: 100, MetricBufferSize: 100}, logger)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		proc.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	require.Eventually(t, func() bool {
		return bus.Metrics().Subscribers == 1
	}, 2*time.Second, 10*time.Millisecond)

	detector := ml.NewStackedDetector(20, "", logger)
	anomalies := ml.NewAnomalyPipeline(bus, proc, detector, config.Default().Anomaly, logger)
	trends := ml.NewTrendPipeline(proc, config.Default().Trend, logger)

	server := NewServer(config.APIConfig{Addr: ":0"}, Deps{
		Processor: proc,
		Anomalies: anomalies,
		Trends:    trends,
		Bus:       bus,
	}, logger)
	return server, bus, proc
}

func get(t *testing.T, s *Server, path string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	var body map[string]any
	if rec.Body.Len() > 0 && rec.Header().Get("Content-Type") == "application/json" {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	}
	return rec, body
}

func publishCPU(t *testing.T, bus *eventbus.Bus, proc *ingest.Processor, values ...float64) {
	t.Helper()
	before := proc.Stats().TotalEventsProcessed
	for _, v := range values {
		evt := eventbus.New(eventbus.EventCPUMetric, "collector::cpu")
		evt.Data["cpu_id"] = "total"
		evt.Data["percent"] = v
		bus.Publish(evt)
	}
	require.Eventually(t, func() bool {
		return proc.Stats().TotalEventsProcessed == before+uint64(len(values))
	}, 2*time.Second, 10*time.Millisecond)
}

func TestIndexAndHealth(t *testing.T) {
	server, _, _ := newTestServer(t)

	rec, body := get(t, server, "/")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, serviceName, body["service"])
	assert.NotEmpty(t, body["endpoints"])

	rec, body = get(t, server, "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])
}

func TestMetricEndpoints(t *testing.T) {
	server, bus, proc := newTestServer(t)
	publishCPU(t, bus, proc, 10, 20, 30)

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var listing []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listing))
	require.Len(t, listing, 1)
	assert.Equal(t, "cpu.total", listing[0]["key"])

	rec2, body := get(t, server, "/api/v1/metrics/cpu.total/history?window=1m")
	require.Equal(t, http.StatusOK, rec2.Code)
	assert.Equal(t, "cpu.total", body["key"])
	assert.Len(t, body["points"], 3)

	rec2, _ = get(t, server, "/api/v1/metrics/cpu.total/history?window=banana")
	assert.Equal(t, http.StatusBadRequest, rec2.Code)

	rec2, body = get(t, server, "/api/v1/metrics/cpu.total/latest")
	require.Equal(t, http.StatusOK, rec2.Code)
	assert.Equal(t, 30.0, body["value"])

	rec2, _ = get(t, server, "/api/v1/metrics/cpu.missing/latest")
	assert.Equal(t, http.StatusNotFound, rec2.Code)
}

func TestAnomalyAndTrendEndpointsEmpty(t *testing.T) {
	server, _, _ := newTestServer(t)

	rec, body := get(t, server, "/api/v1/anomalies")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, body["anomalies"])
	assert.Equal(t, 0.0, body["overall_score"])

	rec, body = get(t, server, "/api/v1/trends")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, body["forecasts"])
}

func TestEventsEndpoint(t *testing.T) {
	server, bus, proc := newTestServer(t)
	publishCPU(t, bus, proc, 10, 20)

	rec, body := get(t, server, "/api/v1/events?type=cpu_metric&limit=1")
	require.Equal(t, http.StatusOK, rec.Code)
	events := body["events"].([]any)
	require.Len(t, events, 1)
	first := events[0].(map[string]any)
	assert.Equal(t, "cpu_metric", first["event_type"])
	assert.Equal(t, 20.0, first["data"].(map[string]any)["percent"])

	rec, _ = get(t, server, "/api/v1/events?type=volcano")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = get(t, server, "/api/v1/events?limit=-3")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStatsEndpoint(t *testing.T) {
	server, bus, proc := newTestServer(t)
	publishCPU(t, bus, proc, 10, 20)

	rec, body := get(t, server, "/api/v1/stats")
	require.Equal(t, http.StatusOK, rec.Code)

	procStats := body["processor"].(map[string]any)
	assert.Equal(t, 2.0, procStats["total_events_processed"])
	busStats := body["bus"].(map[string]any)
	assert.GreaterOrEqual(t, busStats["total_events"], 2.0)
}

func TestPrometheusEndpoint(t *testing.T) {
	server, _, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
