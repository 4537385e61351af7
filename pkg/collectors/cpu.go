package collectors

import (
	"context"
	"strconv"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"

	"github.com/kartik-sc/os-el---system-monitoring-application/shared/eventbus"
)

type cpuCollector struct {
	bus      *eventbus.Bus
	interval time.Duration
	percent  func(ctx context.Context, percpu bool) ([]float64, error)
	freq     func(ctx context.Context) ([]cpu.InfoStat, error)
	counts   func(ctx context.Context, logical bool) (int, error)

	topologySent bool
}

func newCPUCollector(bus *eventbus.Bus, interval time.Duration) *cpuCollector {
	return &cpuCollector{
		bus:      bus,
		interval: interval,
		percent: func(ctx context.Context, percpu bool) ([]float64, error) {
			return cpu.PercentWithContext(ctx, 0, percpu)
		},
		freq:   cpu.InfoWithContext,
		counts: cpu.CountsWithContext,
	}
}

func (c *cpuCollector) Name() string            { return "cpu" }
func (c *cpuCollector) Interval() time.Duration { return c.interval }

func (c *cpuCollector) Collect(ctx context.Context) error {
	if !c.topologySent {
		c.publishTopology(ctx)
		c.topologySent = true
	}

	total, err := c.percent(ctx, false)
	if err != nil {
		return err
	}
	if len(total) > 0 {
		evt := c.event("total", total[0])
		if info, err := c.freq(ctx); err == nil && len(info) > 0 {
			evt.Data["freq_mhz"] = info[0].Mhz
		}
		c.bus.Publish(evt)
	}

	perCPU, err := c.percent(ctx, true)
	if err != nil {
		return err
	}
	for i, pct := range perCPU {
		c.bus.Publish(c.event(strconv.Itoa(i), pct))
	}
	return nil
}

// publishTopology reports core counts once; they do not change at runtime.
func (c *cpuCollector) publishTopology(ctx context.Context) {
	logical, err := c.counts(ctx, true)
	if err != nil {
		return
	}
	physical, _ := c.counts(ctx, false)

	evt := eventbus.New(eventbus.EventCPUMetric, "collector::cpu")
	evt.Data["cpu_id"] = "topology"
	evt.Data["logical_count"] = logical
	evt.Data["physical_count"] = physical
	c.bus.Publish(evt)
}

func (c *cpuCollector) event(cpuID string, pct float64) *eventbus.Event {
	evt := eventbus.New(eventbus.EventCPUMetric, "collector::cpu")
	evt.Data["cpu_id"] = cpuID
	evt.Data["percent"] = pct
	return evt
}
