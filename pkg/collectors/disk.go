package collectors

import (
	"context"
	"time"

	"github.com/shirou/gopsutil/v3/disk"

	"github.com/kartik-sc/os-el---system-monitoring-application/shared/eventbus"
)

// diskCollector publishes per-device IO deltas between cycles plus root
// filesystem usage. The first cycle only seeds the counter baseline.
type diskCollector struct {
	bus      *eventbus.Bus
	interval time.Duration
	fetchIO  func(ctx context.Context) (map[string]disk.IOCountersStat, error)
	usage    func(ctx context.Context, path string) (*disk.UsageStat, error)
	prev     map[string]disk.IOCountersStat
}

func newDiskCollector(bus *eventbus.Bus, interval time.Duration) *diskCollector {
	return &diskCollector{
		bus:      bus,
		interval: interval,
		fetchIO: func(ctx context.Context) (map[string]disk.IOCountersStat, error) {
			return disk.IOCountersWithContext(ctx)
		},
		usage: disk.UsageWithContext,
	}
}

func (c *diskCollector) Name() string            { return "disk" }
func (c *diskCollector) Interval() time.Duration { return c.interval }

func (c *diskCollector) Collect(ctx context.Context) error {
	counters, err := c.fetchIO(ctx)
	if err != nil {
		return err
	}
	if c.prev != nil {
		for device, cur := range counters {
			last, ok := c.prev[device]
			if !ok {
				continue
			}
			c.publish(device, "read_bytes", delta(cur.ReadBytes, last.ReadBytes))
			c.publish(device, "write_bytes", delta(cur.WriteBytes, last.WriteBytes))
			c.publish(device, "read_count", delta(cur.ReadCount, last.ReadCount))
			c.publish(device, "write_count", delta(cur.WriteCount, last.WriteCount))
		}
	}
	c.prev = counters

	if u, err := c.usage(ctx, "/"); err == nil {
		c.publish("root", "used_percent", u.UsedPercent)
	}
	return nil
}

func (c *diskCollector) publish(device, metricType string, value float64) {
	evt := eventbus.New(eventbus.EventDiskMetric, "collector::disk")
	evt.Data["device"] = device
	evt.Data["type"] = metricType
	evt.Data["value"] = value
	c.bus.Publish(evt)
}

// delta guards against counter resets on reboot or device replug.
func delta(cur, last uint64) float64 {
	if cur < last {
		return 0
	}
	return float64(cur - last)
}
