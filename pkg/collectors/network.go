package collectors

import (
	"context"
	"time"

	"github.com/shirou/gopsutil/v3/net"

	"github.com/kartik-sc/os-el---system-monitoring-application/shared/eventbus"
)

// networkCollector publishes aggregate byte deltas across all interfaces.
type networkCollector struct {
	bus      *eventbus.Bus
	interval time.Duration
	fetch    func(ctx context.Context) ([]net.IOCountersStat, error)
	prev     *net.IOCountersStat
}

func newNetworkCollector(bus *eventbus.Bus, interval time.Duration) *networkCollector {
	return &networkCollector{
		bus:      bus,
		interval: interval,
		fetch: func(ctx context.Context) ([]net.IOCountersStat, error) {
			return net.IOCountersWithContext(ctx, false)
		},
	}
}

func (c *networkCollector) Name() string            { return "network" }
func (c *networkCollector) Interval() time.Duration { return c.interval }

func (c *networkCollector) Collect(ctx context.Context) error {
	counters, err := c.fetch(ctx)
	if err != nil {
		return err
	}
	if len(counters) == 0 {
		return nil
	}
	cur := counters[0]

	if c.prev != nil {
		c.publish("sent_bytes", delta(cur.BytesSent, c.prev.BytesSent))
		c.publish("recv_bytes", delta(cur.BytesRecv, c.prev.BytesRecv))
	}
	c.prev = &cur
	return nil
}

func (c *networkCollector) publish(metricType string, bytes float64) {
	evt := eventbus.New(eventbus.EventNetworkMetric, "collector::network")
	evt.Data["type"] = metricType
	evt.Data["bytes"] = bytes
	c.bus.Publish(evt)
}
