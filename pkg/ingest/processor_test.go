package ingest

import (
	"context"
	"encoding/json"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/kartik-sc/os-el---system-monitoring-application/shared/config"
	"github.com/kartik-sc/os-el---system-monitoring-application/shared/eventbus"
)

func startProcessor(t *testing.T) (*eventbus.Bus, *Processor) {
	t.Helper()
	logger := zaptest.NewLogger(t)
	bus := eventbus.NewBus(256, logger)
	proc := NewProcessor(bus, config.ProcessorConfig{HistorySize: 100, MetricBufferSize: 50}, logger)

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

	return bus, proc
}

func publishCPU(bus *eventbus.Bus, cpuID string, percent float64) {
	evt := eventbus.New(eventbus.EventCPUMetric, "collector::cpu")
	evt.Data["cpu_id"] = cpuID
	evt.Data["percent"] = percent
	bus.Publish(evt)
}

func TestProcessorDerivesMetricKeys(t *testing.T) {
	bus, proc := startProcessor(t)

	publishCPU(bus, "total", 42.5)

	mem := eventbus.New(eventbus.EventMemoryMetric, "collector::memory")
	mem.Data["type"] = "virtual"
	mem.Data["percent"] = 61.2
	bus.Publish(mem)

	dsk := eventbus.New(eventbus.EventDiskMetric, "collector::disk")
	dsk.Data["device"] = "sda"
	dsk.Data["type"] = "read_bytes"
	dsk.Data["value"] = 4096
	bus.Publish(dsk)

	net := eventbus.New(eventbus.EventNetworkMetric, "collector::network")
	net.Data["type"] = "recv_bytes"
	net.Data["bytes"] = 1500.0
	bus.Publish(net)

	ior := eventbus.New(eventbus.EventIORead, "tracer")
	ior.Data["latency_us"] = 250.0
	bus.Publish(ior)

	require.Eventually(t, func() bool {
		return len(proc.MetricKeys()) == 5
	}, 2*time.Second, 10*time.Millisecond)

	assert.ElementsMatch(t, []string{
		"cpu.total", "memory.virtual", "disk.sda.read_bytes",
		"network.recv_bytes", "io.read_latency_us",
	}, proc.MetricKeys())

	v, ok := proc.LatestValue("cpu.total")
	require.True(t, ok)
	assert.Equal(t, 42.5, v)

	v, ok = proc.LatestValue("disk.sda.read_bytes")
	require.True(t, ok)
	assert.Equal(t, 4096.0, v)
}

func TestProcessorWindowAndStats(t *testing.T) {
	bus, proc := startProcessor(t)

	for _, v := range []float64{10, 20, 30} {
		publishCPU(bus, "total", v)
	}
	require.Eventually(t, func() bool {
		return proc.MetricStats("cpu.total").Count == 3
	}, 2*time.Second, 10*time.Millisecond)

	s := proc.MetricStats("cpu.total")
	assert.Equal(t, 20.0, s.Mean)
	assert.Equal(t, 10.0, s.Min)
	assert.Equal(t, 30.0, s.Max)
	assert.Equal(t, 30.0, s.Latest)

	assert.Equal(t, []float64{10, 20, 30}, proc.Window("cpu.total", time.Minute))
	assert.Empty(t, proc.Window("cpu.missing", time.Minute))
	assert.Equal(t, Stats{}, proc.MetricStats("cpu.missing"))
}

func TestProcessorIgnoresMalformedEvents(t *testing.T) {
	bus, proc := startProcessor(t)

	// Missing value field: no metric point, but history still records it.
	bad := eventbus.New(eventbus.EventCPUMetric, "collector::cpu")
	bad.Data["cpu_id"] = "total"
	bus.Publish(bad)
	publishCPU(bus, "total", 50)

	require.Eventually(t, func() bool {
		return proc.Stats().TotalEventsProcessed == 2
	}, 2*time.Second, 10*time.Millisecond)

	s := proc.MetricStats("cpu.total")
	assert.Equal(t, 1, s.Count)
	assert.Equal(t, 2, proc.Stats().EventHistorySize)
}

func TestProcessorRecentEventsFilter(t *testing.T) {
	bus, proc := startProcessor(t)

	publishCPU(bus, "total", 1)
	anom := eventbus.New(eventbus.EventAnomaly, "ml::detector")
	bus.Publish(anom)
	publishCPU(bus, "total", 2)

	require.Eventually(t, func() bool {
		return proc.Stats().TotalEventsProcessed == 3
	}, 2*time.Second, 10*time.Millisecond)

	all := proc.RecentEvents("", 10)
	require.Len(t, all, 3)
	assert.Equal(t, eventbus.EventAnomaly, all[1].Type)

	anomalies := proc.RecentEvents(eventbus.EventAnomaly, 10)
	require.Len(t, anomalies, 1)
	assert.Equal(t, anom.ID, anomalies[0].ID)

	limited := proc.RecentEvents("", 2)
	require.Len(t, limited, 2)
	assert.Equal(t, eventbus.EventCPUMetric, limited[1].Type)
}

func TestProcessorEnrichesBeforeEventsBecomeReadable(t *testing.T) {
	bus, proc := startProcessor(t)

	// Hammer the history with JSON marshals while pid-carrying events flow
	// through enrichment. Under -race this catches any mutation of an event
	// already visible to readers.
	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			if _, err := json.Marshal(proc.RecentEvents("", 50)); err != nil {
				t.Error(err)
				return
			}
		}
	}()

	const total = 200
	pid := int32(os.Getpid())
	for i := 0; i < total; i++ {
		evt := eventbus.New(eventbus.EventIORead, "tracer")
		evt.PID = pid
		evt.Data["latency_us"] = float64(i)
		bus.Publish(evt)
	}
	require.Eventually(t, func() bool {
		return proc.Stats().TotalEventsProcessed == total
	}, 5*time.Second, time.Millisecond)

	close(stop)
	wg.Wait()
}

func TestProcessorUnsubscribesOnStop(t *testing.T) {
	logger := zaptest.NewLogger(t)
	bus := eventbus.NewBus(16, logger)
	proc := NewProcessor(bus, config.ProcessorConfig{HistorySize: 10, MetricBufferSize: 10}, logger)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		proc.Run(ctx)
	}()

	require.Eventually(t, func() bool {
		return bus.Metrics().Subscribers == 1
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	<-done
	assert.Equal(t, 0, bus.Metrics().Subscribers)
}
