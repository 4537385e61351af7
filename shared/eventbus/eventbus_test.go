package eventbus

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func drain(ch <-chan *Event) []*Event {
	var out []*Event
	for {
		select {
		case e := <-ch:
			out = append(out, e)
		default:
			return out
		}
	}
}

func TestSubscribeFilterAndOrder(t *testing.T) {
	bus := NewBus(16, zap.NewNop())
	ch := bus.Subscribe("cpu-only", EventCPUMetric)

	published := []*Event{
		New(EventCPUMetric, "test"),
		New(EventMemoryMetric, "test"),
		New(EventCPUMetric, "test"),
		New(EventAnomaly, "test"),
		New(EventCPUMetric, "test"),
	}
	for _, e := range published {
		bus.Publish(e)
	}

	got := drain(ch)
	require.Len(t, got, 3)
	assert.Equal(t, published[0].ID, got[0].ID)
	assert.Equal(t, published[2].ID, got[1].ID)
	assert.Equal(t, published[4].ID, got[2].ID)
}

func TestSubscribeAllTypesByDefault(t *testing.T) {
	// Queue must hold every type at once; a smaller buffer would shed the
	// oldest entries before the drain.
	bus := NewBus(2*len(AllTypes()), zap.NewNop())
	ch := bus.Subscribe("everything")

	for _, typ := range AllTypes() {
		bus.Publish(New(typ, "test"))
	}
	assert.Len(t, drain(ch), len(AllTypes()))
}

func TestDropOldestBackpressure(t *testing.T) {
	const capacity = 4
	const extra = 3
	bus := NewBus(capacity, zap.NewNop())
	ch := bus.Subscribe("slow")

	var published []*Event
	for i := 0; i < capacity+extra; i++ {
		e := New(EventCPUMetric, "test")
		published = append(published, e)
		bus.Publish(e)
	}

	m := bus.Metrics()
	assert.Equal(t, uint64(extra), m.TotalDropped)

	got := drain(ch)
	require.Len(t, got, capacity)
	// Queue holds the most recent `capacity` events, in publish order.
	for i, e := range got {
		assert.Equal(t, published[extra+i].ID, e.ID)
	}
}

func TestResubscribeReplacesQueue(t *testing.T) {
	bus := NewBus(8, zap.NewNop())
	old := bus.Subscribe("proc")
	bus.Publish(New(EventCPUMetric, "test"))

	fresh := bus.Subscribe("proc")
	bus.Publish(New(EventMemoryMetric, "test"))

	// The replacement queue only sees events published after re-registration.
	got := drain(fresh)
	require.Len(t, got, 1)
	assert.Equal(t, EventMemoryMetric, got[0].Type)
	// The old handle no longer receives anything new.
	assert.Len(t, drain(old), 1)
	assert.Equal(t, 1, bus.Metrics().Subscribers)
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	bus := NewBus(8, zap.NewNop())
	bus.Subscribe("a")
	bus.Unsubscribe("a")
	bus.Unsubscribe("a")
	bus.Unsubscribe("never-registered")
	assert.Equal(t, 0, bus.Metrics().Subscribers)
}

func TestFlushKeepsRegistrations(t *testing.T) {
	bus := NewBus(8, zap.NewNop())
	ch := bus.Subscribe("a")
	for i := 0; i < 5; i++ {
		bus.Publish(New(EventCPUMetric, "test"))
	}
	bus.Flush()
	assert.Empty(t, drain(ch))

	bus.Publish(New(EventCPUMetric, "test"))
	assert.Len(t, drain(ch), 1)
	assert.Equal(t, 1, bus.Metrics().Subscribers)
}

func TestMetricsSnapshot(t *testing.T) {
	bus := NewBus(32, zap.NewNop())
	bus.Subscribe("a")
	e := New(EventAnomaly, "test")
	bus.Publish(e)

	m := bus.Metrics()
	assert.Equal(t, uint64(1), m.TotalPublished)
	assert.Equal(t, uint64(0), m.TotalDropped)
	assert.Equal(t, 1, m.Subscribers)
	assert.Equal(t, 32, m.BufferSize)
	assert.Equal(t, e.Timestamp, m.LastPublish)
}

func TestEventWireShape(t *testing.T) {
	e := New(EventCPUMetric, "collector::cpu")
	e.PID = 42
	e.Comm = "stress"
	e.Data["percent"] = 93.5

	raw, err := json.Marshal(e)
	require.NoError(t, err)

	var w map[string]any
	require.NoError(t, json.Unmarshal(raw, &w))
	assert.Equal(t, e.ID, w["event_id"])
	assert.Equal(t, "cpu_metric", w["event_type"])
	assert.Equal(t, "collector::cpu", w["source"])
	assert.Contains(t, w, "timestamp")
	assert.Contains(t, w, "timestamp_iso")

	var back Event
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.Equal(t, e.ID, back.ID)
	assert.Equal(t, e.Type, back.Type)
	assert.WithinDuration(t, e.Timestamp, back.Timestamp, time.Millisecond)
	assert.Equal(t, 93.5, back.Data["percent"])
}
