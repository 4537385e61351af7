package collectors

import (
	"context"
	"time"

	"github.com/shirou/gopsutil/v3/mem"

	"github.com/kartik-sc/os-el---system-monitoring-application/shared/eventbus"
)

type memoryCollector struct {
	bus      *eventbus.Bus
	interval time.Duration
	virtual  func(ctx context.Context) (*mem.VirtualMemoryStat, error)
	swap     func(ctx context.Context) (*mem.SwapMemoryStat, error)
}

func newMemoryCollector(bus *eventbus.Bus, interval time.Duration) *memoryCollector {
	return &memoryCollector{
		bus:      bus,
		interval: interval,
		virtual:  mem.VirtualMemoryWithContext,
		swap:     mem.SwapMemoryWithContext,
	}
}

func (c *memoryCollector) Name() string            { return "memory" }
func (c *memoryCollector) Interval() time.Duration { return c.interval }

func (c *memoryCollector) Collect(ctx context.Context) error {
	vm, err := c.virtual(ctx)
	if err != nil {
		return err
	}
	c.publish("virtual", vm.UsedPercent, vm.Used, vm.Total)

	sm, err := c.swap(ctx)
	if err != nil {
		return err
	}
	c.publish("swap", sm.UsedPercent, sm.Used, sm.Total)
	return nil
}

func (c *memoryCollector) publish(memType string, pct float64, used, total uint64) {
	evt := eventbus.New(eventbus.EventMemoryMetric, "collector::memory")
	evt.Data["type"] = memType
	evt.Data["percent"] = pct
	evt.Data["used_bytes"] = used
	evt.Data["total_bytes"] = total
	c.bus.Publish(evt)
}
