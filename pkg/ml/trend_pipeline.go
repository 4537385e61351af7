package ml

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/kartik-sc/os-el---system-monitoring-application/shared/config"
)

var mlForecastsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "hostmon_forecasts_total",
	Help: "Ensemble trend forecasts computed per metric key",
}, []string{"metric"})

func init() {
	_ = prometheus.Register(mlForecastsTotal)
}

// TrendPipeline forecasts a bounded subset of metrics on a fixed interval.
// Keys are sorted so the subset stays stable as new metrics appear.
// Forecasts are served through Forecasts and never republished on the bus.
type TrendPipeline struct {
	source    MetricSource
	predictor *TrendPredictor
	cfg       config.TrendConfig
	logger    *zap.Logger

	mu        sync.RWMutex
	forecasts map[string]Forecast
}

func NewTrendPipeline(source MetricSource, cfg config.TrendConfig, logger *zap.Logger) *TrendPipeline {
	return &TrendPipeline{
		source:    source,
		predictor: NewTrendPredictor(cfg.ForecastSteps, cfg.FitMinSamples),
		cfg:       cfg,
		logger:    logger,
		forecasts: make(map[string]Forecast),
	}
}

func (p *TrendPipeline) Run(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	p.logger.Info("trend pipeline started",
		zap.Duration("interval", p.cfg.Interval),
		zap.Int("max_metrics", p.cfg.MaxMetrics))

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("trend pipeline stopped")
			return
		case <-ticker.C:
			p.Cycle()
		}
	}
}

// Cycle forecasts the first MaxMetrics keys in sorted order.
func (p *TrendPipeline) Cycle() {
	keys := p.source.MetricKeys()
	sort.Strings(keys)
	if len(keys) > p.cfg.MaxMetrics {
		keys = keys[:p.cfg.MaxMetrics]
	}

	for _, key := range keys {
		values := p.source.Window(key, p.cfg.Window)
		if len(values) < p.cfg.MinSamples {
			continue
		}
		fc := p.predictor.Predict(key, values)

		p.mu.Lock()
		p.forecasts[key] = fc
		p.mu.Unlock()

		if fc.Method != "ensemble" {
			continue
		}
		mlForecastsTotal.WithLabelValues(key).Inc()
		p.logger.Debug("forecast updated",
			zap.String("metric", key),
			zap.Float64("confidence", fc.Confidence))
	}
}

// Forecasts returns the latest forecast per metric key.
func (p *TrendPipeline) Forecasts() map[string]Forecast {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]Forecast, len(p.forecasts))
	for key, fc := range p.forecasts {
		out[key] = fc
	}
	return out
}
