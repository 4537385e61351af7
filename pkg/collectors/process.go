package collectors

import (
	"context"
	"sort"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/kartik-sc/os-el---system-monitoring-application/shared/eventbus"
)

type processSample struct {
	pid        int32
	name       string
	cpuPercent float64
	memPercent float64
}

// processCollector publishes the top processes by CPU each cycle.
type processCollector struct {
	bus      *eventbus.Bus
	interval time.Duration
	topN     int
	sample   func(ctx context.Context) ([]processSample, error)
}

func newProcessCollector(bus *eventbus.Bus, interval time.Duration, topN int) *processCollector {
	if topN <= 0 {
		topN = 10
	}
	return &processCollector{
		bus:      bus,
		interval: interval,
		topN:     topN,
		sample:   sampleProcesses,
	}
}

func (c *processCollector) Name() string            { return "process" }
func (c *processCollector) Interval() time.Duration { return c.interval }

func (c *processCollector) Collect(ctx context.Context) error {
	samples, err := c.sample(ctx)
	if err != nil {
		return err
	}

	sort.Slice(samples, func(i, j int) bool {
		return samples[i].cpuPercent > samples[j].cpuPercent
	})
	if len(samples) > c.topN {
		samples = samples[:c.topN]
	}

	for _, s := range samples {
		evt := eventbus.New(eventbus.EventProcessMetric, "collector::process")
		evt.PID = s.pid
		evt.Comm = s.name
		evt.Data["pid"] = s.pid
		evt.Data["name"] = s.name
		evt.Data["cpu_percent"] = s.cpuPercent
		evt.Data["memory_percent"] = s.memPercent
		c.bus.Publish(evt)
	}
	return nil
}

// sampleProcesses reads the process table. Processes that vanish mid-scan
// are skipped silently.
func sampleProcesses(ctx context.Context) ([]processSample, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]processSample, 0, len(procs))
	for _, p := range procs {
		name, err := p.NameWithContext(ctx)
		if err != nil {
			continue
		}
		cpuPct, err := p.CPUPercentWithContext(ctx)
		if err != nil {
			continue
		}
		memPct, err := p.MemoryPercentWithContext(ctx)
		if err != nil {
			continue
		}
		out = append(out, processSample{
			pid:        p.Pid,
			name:       name,
			cpuPercent: cpuPct,
			memPercent: float64(memPct),
		})
	}
	return out, nil
}
