// Package collectors samples host metrics with gopsutil and publishes them
// as bus events. Each collector runs on its own ticker; a failed cycle is
// logged and the next tick tries again.
package collectors

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
	collectorCycles = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hostmon_collector_cycles_total",
		Help: "Completed collection cycles per collector",
	}, []string{"collector"})
	collectorErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hostmon_collector_errors_total",
		Help: "Failed collection cycles per collector",
	}, []string{"collector"})
)

func init() {
	_ = prometheus.Register(collectorCycles)
	_ = prometheus.Register(collectorErrors)
}

// Collector samples one slice of host state and publishes events for it.
type Collector interface {
	Name() string
	Interval() time.Duration
	Collect(ctx context.Context) error
}

// Runner drives a set of collectors, one goroutine each.
type Runner struct {
	logger     *zap.Logger
	collectors []Collector
}

// NewRunner builds the standard collector set from configuration.
func NewRunner(bus *eventbus.Bus, cfg config.CollectorsConfig, logger *zap.Logger) *Runner {
	return &Runner{
		logger: logger,
		collectors: []Collector{
			newCPUCollector(bus, cfg.CPUInterval),
			newMemoryCollector(bus, cfg.MemoryInterval),
			newDiskCollector(bus, cfg.DiskInterval),
			newNetworkCollector(bus, cfg.NetworkInterval),
			newProcessCollector(bus, cfg.ProcessInterval, cfg.TopProcesses),
		},
	}
}

// NewRunnerWith wires an explicit collector set, used by tests.
func NewRunnerWith(logger *zap.Logger, collectors ...Collector) *Runner {
	return &Runner{logger: logger, collectors: collectors}
}

// Run starts every collector and blocks until ctx is cancelled and all
// collector goroutines have drained.
func (r *Runner) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, c := range r.collectors {
		wg.Add(1)
		go func(c Collector) {
			defer wg.Done()
			r.runOne(ctx, c)
		}(c)
	}
	wg.Wait()
}

func (r *Runner) runOne(ctx context.Context, c Collector) {
	interval := c.Interval()
	if interval <= 0 {
		interval = time.Second
	}
	r.logger.Info("collector started",
		zap.String("collector", c.Name()),
		zap.Duration("interval", interval))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	r.collect(ctx, c)
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("collector stopped", zap.String("collector", c.Name()))
			return
		case <-ticker.C:
			r.collect(ctx, c)
		}
	}
}

func (r *Runner) collect(ctx context.Context, c Collector) {
	if err := c.Collect(ctx); err != nil {
		collectorErrors.WithLabelValues(c.Name()).Inc()
		r.logger.Warn("collection cycle failed",
			zap.String("collector", c.Name()), zap.Error(err))
		return
	}
	collectorCycles.WithLabelValues(c.Name()).Inc()
}
