package ml

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/kartik-sc/os-el---system-monitoring-application/shared/config"
	"github.com/kartik-sc/os-el---system-monitoring-application/shared/eventbus"
)

var (
	mlAnomalyCycles = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hostmon_anomaly_cycles_total",
		Help: "Completed anomaly detection cycles",
	})
	mlAnomaliesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hostmon_anomalies_total",
		Help: "Anomalies flagged per metric key",
	}, []string{"metric"})
)

func init() {
	_ = prometheus.Register(mlAnomalyCycles)
	_ = prometheus.Register(mlAnomaliesTotal)
}

// MetricSource exposes the metric windows a pipeline evaluates. The stream
// processor satisfies it.
type MetricSource interface {
	MetricKeys() []string
	Window(key string, window time.Duration) []float64
}

// AnomalyRecord is one flagged anomaly with its detection time.
type AnomalyRecord struct {
	Result
	DetectedAt time.Time `json:"detected_at"`
}

const anomalyHistoryLimit = 100

// AnomalyPipeline periodically runs the stacked ensemble over every active
// metric and publishes an event for each anomaly it finds.
type AnomalyPipeline struct {
	bus      *eventbus.Bus
	source   MetricSource
	detector *StackedDetector
	cfg      config.AnomalyConfig
	logger   *zap.Logger

	mu      sync.RWMutex
	latest  map[string]Result
	history []AnomalyRecord
}

func NewAnomalyPipeline(bus *eventbus.Bus, source MetricSource, detector *StackedDetector, cfg config.AnomalyConfig, logger *zap.Logger) *AnomalyPipeline {
	return &AnomalyPipeline{
		bus:      bus,
		source:   source,
		detector: detector,
		cfg:      cfg,
		logger:   logger,
		latest:   make(map[string]Result),
	}
}

// Run evaluates on a fixed interval until the context is cancelled.
func (p *AnomalyPipeline) Run(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	p.logger.Info("anomaly pipeline started",
		zap.Duration("interval", p.cfg.Interval),
		zap.Duration("window", p.cfg.Window))

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("anomaly pipeline stopped")
			return
		case <-ticker.C:
			p.Cycle()
		}
	}
}

// Cycle runs one full evaluation pass over every active metric.
func (p *AnomalyPipeline) Cycle() {
	for _, key := range p.source.MetricKeys() {
		values := p.source.Window(key, p.cfg.Window)
		if len(values) < p.cfg.MinSamples {
			continue
		}
		res := p.detector.Detect(key, values)

		p.mu.Lock()
		p.latest[key] = res
		if res.IsAnomaly {
			p.history = append(p.history, AnomalyRecord{Result: res, DetectedAt: time.Now()})
			if len(p.history) > anomalyHistoryLimit {
				p.history = p.history[len(p.history)-anomalyHistoryLimit:]
			}
		}
		p.mu.Unlock()

		if res.IsAnomaly {
			mlAnomaliesTotal.WithLabelValues(key).Inc()
			p.logger.Warn("anomaly detected",
				zap.String("metric", key),
				zap.String("method", res.Method),
				zap.Float64("confidence", res.Confidence),
				zap.Float64("latest", res.LatestValue))
			p.publish(res)
		}
	}
	mlAnomalyCycles.Inc()
}

func (p *AnomalyPipeline) publish(res Result) {
	evt := eventbus.New(eventbus.EventAnomaly, "ml::anomaly_pipeline")
	evt.Data["metric_key"] = res.MetricKey
	evt.Data["is_anomaly"] = res.IsAnomaly
	evt.Data["confidence"] = res.Confidence
	evt.Data["method"] = res.Method
	evt.Data["scores"] = res.Scores
	evt.Data["votes"] = res.Votes
	evt.Data["total_methods"] = res.TotalMethods
	evt.Data["latest_value"] = res.LatestValue
	p.bus.Publish(evt)
}

// Anomalies returns the most recent flagged anomalies, newest last.
func (p *AnomalyPipeline) Anomalies() []AnomalyRecord {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]AnomalyRecord, len(p.history))
	copy(out, p.history)
	return out
}

// Confidence reports the latest per-metric ensemble confidence.
func (p *AnomalyPipeline) Confidence() map[string]float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]float64, len(p.latest))
	for key, res := range p.latest {
		out[key] = res.Confidence
	}
	return out
}

// OverallScore condenses the latest per-metric confidences into a single
// 0..100 figure for dashboards.
func (p *AnomalyPipeline) OverallScore() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if len(p.latest) == 0 {
		return 0
	}
	sum := 0.0
	for _, res := range p.latest {
		sum += res.Confidence
	}
	score := sum / float64(len(p.latest)) * 100
	if score > 100 {
		score = 100
	}
	return score
}
