package collectors

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/net"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/kartik-sc/os-el---system-monitoring-application/shared/eventbus"
)

func testBus(t *testing.T) (*eventbus.Bus, <-chan *eventbus.Event) {
	t.Helper()
	bus := eventbus.NewBus(64, zaptest.NewLogger(t))
	return bus, bus.Subscribe("collector_test")
}

func drain(ch <-chan *eventbus.Event) []*eventbus.Event {
	var out []*eventbus.Event
	for {
		select {
		case evt := <-ch:
			out = append(out, evt)
		default:
			return out
		}
	}
}

func TestCPUCollectorPublishesTotalAndPerCPU(t *testing.T) {
	bus, ch := testBus(t)
	c := newCPUCollector(bus, time.Second)
	c.percent = func(_ context.Context, percpu bool) ([]float64, error) {
		if percpu {
			return []float64{10, 30}, nil
		}
		return []float64{20}, nil
	}
	c.freq = func(context.Context) ([]cpu.InfoStat, error) {
		return []cpu.InfoStat{{Mhz: 2400}}, nil
	}
	c.counts = func(_ context.Context, logical bool) (int, error) {
		if logical {
			return 4, nil
		}
		return 2, nil
	}

	require.NoError(t, c.Collect(context.Background()))

	events := drain(ch)
	require.Len(t, events, 4)
	assert.Equal(t, "topology", events[0].Data["cpu_id"])
	assert.Equal(t, 4, events[0].Data["logical_count"])
	assert.Equal(t, "total", events[1].Data["cpu_id"])
	assert.Equal(t, 20.0, events[1].Data["percent"])
	assert.Equal(t, 2400.0, events[1].Data["freq_mhz"])
	assert.Equal(t, "0", events[2].Data["cpu_id"])
	assert.Equal(t, "1", events[3].Data["cpu_id"])
	assert.Equal(t, 30.0, events[3].Data["percent"])

	// Topology goes out once, not per cycle.
	require.NoError(t, c.Collect(context.Background()))
	for _, evt := range drain(ch) {
		assert.NotEqual(t, "topology", evt.Data["cpu_id"])
	}
}

func TestDiskCollectorEmitsDeltas(t *testing.T) {
	bus, ch := testBus(t)
	c := newDiskCollector(bus, time.Second)

	readBytes := uint64(1000)
	c.fetchIO = func(context.Context) (map[string]disk.IOCountersStat, error) {
		return map[string]disk.IOCountersStat{
			"sda": {ReadBytes: readBytes, WriteBytes: 500, ReadCount: 10, WriteCount: 5},
		}, nil
	}
	c.usage = func(context.Context, string) (*disk.UsageStat, error) {
		return &disk.UsageStat{UsedPercent: 73.5}, nil
	}

	// First cycle seeds the baseline: usage only, no IO deltas.
	require.NoError(t, c.Collect(context.Background()))
	events := drain(ch)
	require.Len(t, events, 1)
	assert.Equal(t, "used_percent", events[0].Data["type"])
	assert.Equal(t, 73.5, events[0].Data["value"])

	readBytes = 5096
	require.NoError(t, c.Collect(context.Background()))
	events = drain(ch)
	require.Len(t, events, 5)

	byType := map[string]float64{}
	for _, evt := range events {
		if evt.Data["device"] == "sda" {
			byType[evt.Data["type"].(string)] = evt.Data["value"].(float64)
		}
	}
	assert.Equal(t, 4096.0, byType["read_bytes"])
	assert.Equal(t, 0.0, byType["write_bytes"])
}

func TestDiskCollectorCounterReset(t *testing.T) {
	assert.Equal(t, 0.0, delta(10, 100))
	assert.Equal(t, 90.0, delta(100, 10))
}

func TestNetworkCollectorEmitsDeltas(t *testing.T) {
	bus, ch := testBus(t)
	c := newNetworkCollector(bus, time.Second)

	sent := uint64(100)
	c.fetch = func(context.Context) ([]net.IOCountersStat, error) {
		return []net.IOCountersStat{{BytesSent: sent, BytesRecv: 200}}, nil
	}

	require.NoError(t, c.Collect(context.Background()))
	require.Empty(t, drain(ch))

	sent = 1600
	require.NoError(t, c.Collect(context.Background()))
	events := drain(ch)
	require.Len(t, events, 2)
	assert.Equal(t, "sent_bytes", events[0].Data["type"])
	assert.Equal(t, 1500.0, events[0].Data["bytes"])
	assert.Equal(t, "recv_bytes", events[1].Data["type"])
	assert.Equal(t, 0.0, events[1].Data["bytes"])
}

func TestProcessCollectorTopN(t *testing.T) {
	bus, ch := testBus(t)
	c := newProcessCollector(bus, time.Second, 2)
	c.sample = func(context.Context) ([]processSample, error) {
		return []processSample{
			{pid: 1, name: "init", cpuPercent: 0.1},
			{pid: 42, name: "hot", cpuPercent: 91.0, memPercent: 12.5},
			{pid: 43, name: "warm", cpuPercent: 40.0},
		}, nil
	}

	require.NoError(t, c.Collect(context.Background()))
	events := drain(ch)
	require.Len(t, events, 2)

	assert.Equal(t, int32(42), events[0].PID)
	assert.Equal(t, "hot", events[0].Comm)
	assert.Equal(t, 91.0, events[0].Data["cpu_percent"])
	assert.Equal(t, int32(43), events[1].PID)
}

type stubCollector struct {
	calls atomic.Int64
	err   error
}

func (s *stubCollector) Name() string            { return "stub" }
func (s *stubCollector) Interval() time.Duration { return 10 * time.Millisecond }
func (s *stubCollector) Collect(context.Context) error {
	s.calls.Add(1)
	return s.err
}

func TestRunnerTicksUntilCancelled(t *testing.T) {
	stub := &stubCollector{}
	runner := NewRunnerWith(zaptest.NewLogger(t), stub)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		runner.Run(ctx)
	}()

	require.Eventually(t, func() bool {
		return stub.calls.Load() >= 3
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("runner did not stop")
	}
}

func TestRunnerSurvivesFailingCollector(t *testing.T) {
	stub := &stubCollector{err: errors.New("sampling failed")}
	runner := NewRunnerWith(zaptest.NewLogger(t), stub)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	runner.Run(ctx)

	assert.GreaterOrEqual(t, stub.calls.Load(), int64(2))
}
