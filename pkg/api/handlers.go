package api

import (
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/kartik-sc/os-el---system-monitoring-application/pkg/ingest"
	"github.com/kartik-sc/os-el---system-monitoring-application/pkg/ml"
	"github.com/kartik-sc/os-el---system-monitoring-application/shared/eventbus"
)

const (
	defaultHistoryWindow = 5 * time.Minute
	defaultEventLimit    = 100
)

// Processor is the slice of the stream processor the API reads from.
type Processor interface {
	MetricKeys() []string
	LatestValue(key string) (float64, bool)
	WindowPoints(key string, window time.Duration) []ingest.Point
	MetricStats(key string) ingest.Stats
	RecentEvents(typ eventbus.EventType, limit int) []*eventbus.Event
	Stats() ingest.ProcessorStats
}

type AnomalySource interface {
	Anomalies() []ml.AnomalyRecord
	Confidence() map[string]float64
	OverallScore() float64
}

type TrendSource interface {
	Forecasts() map[string]ml.Forecast
}

type BusMetrics interface {
	Metrics() eventbus.Metrics
}

func (s *Server) handleIndex(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"service": serviceName,
		"endpoints": []string{
			"/healthz", "/metrics",
			"/api/v1/metrics", "/api/v1/metrics/{key}/history", "/api/v1/metrics/{key}/latest",
			"/api/v1/anomalies", "/api/v1/trends", "/api/v1/events", "/api/v1/stats",
		},
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleMetricKeys(w http.ResponseWriter, _ *http.Request) {
	keys := s.deps.Processor.MetricKeys()
	sort.Strings(keys)

	out := make([]map[string]any, 0, len(keys))
	for _, key := range keys {
		stats := s.deps.Processor.MetricStats(key)
		out = append(out, map[string]any{"key": key, "stats": stats})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleMetricHistory(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]

	window := defaultHistoryWindow
	if raw := r.URL.Query().Get("window"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "invalid window")
			return
		}
		window = parsed
	}

	points := s.deps.Processor.WindowPoints(key, window)
	type historyPoint struct {
		Timestamp time.Time `json:"timestamp"`
		Value     float64   `json:"value"`
	}
	out := make([]historyPoint, len(points))
	for i, pt := range points {
		out[i] = historyPoint{Timestamp: pt.Timestamp, Value: pt.Value}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"key":    key,
		"window": window.String(),
		"points": out,
	})
}

func (s *Server) handleMetricLatest(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]
	value, ok := s.deps.Processor.LatestValue(key)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown metric key")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"key": key, "value": value})
}

func (s *Server) handleAnomalies(w http.ResponseWriter, _ *http.Request) {
	records := s.deps.Anomalies.Anomalies()
	if records == nil {
		records = []ml.AnomalyRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"anomalies":     records,
		"overall_score": s.deps.Anomalies.OverallScore(),
		"confidence":    s.deps.Anomalies.Confidence(),
	})
}

func (s *Server) handleTrends(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"forecasts": s.deps.Trends.Forecasts(),
	})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	typ := eventbus.EventType(r.URL.Query().Get("type"))
	if typ != "" && !typ.Valid() {
		writeError(w, http.StatusBadRequest, "unknown event type")
		return
	}

	limit := defaultEventLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = parsed
	}

	events := s.deps.Processor.RecentEvents(typ, limit)
	if events == nil {
		events = []*eventbus.Event{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"processor":     s.deps.Processor.Stats(),
		"bus":           s.deps.Bus.Metrics(),
		"overall_score": s.deps.Anomalies.OverallScore(),
	})
}
