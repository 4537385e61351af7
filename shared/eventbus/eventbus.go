package eventbus

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

var (
	busPublished = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "hostmon", Subsystem: "bus", Name: "published_total",
		Help: "Total events published to the bus.",
	})
	busDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hostmon", Subsystem: "bus", Name: "dropped_total",
		Help: "Events dropped per subscriber due to backpressure.",
	}, []string{"subscriber"})
	busSubscribers = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "hostmon", Subsystem: "bus", Name: "subscribers",
		Help: "Currently registered subscribers.",
	})
)

func init() {
	_ = prometheus.Register(busPublished)
	_ = prometheus.Register(busDropped)
	_ = prometheus.Register(busSubscribers)
}

// Metrics is a snapshot of bus counters.
type Metrics struct {
	TotalPublished uint64    `json:"total_events"`
	TotalDropped   uint64    `json:"dropped_events"`
	Subscribers    int       `json:"active_subscribers"`
	BufferSize     int       `json:"buffer_size"`
	LastPublish    time.Time `json:"last_event_timestamp"`
}

type subscription struct {
	id    string
	ch    chan *Event
	types map[EventType]struct{} // nil means all types
}

func (s *subscription) wants(t EventType) bool {
	if s.types == nil {
		return true
	}
	_, ok := s.types[t]
	return ok
}

// Bus is a bounded, filtered, multi-subscriber fan-out of events. Publish
// never blocks: a full subscriber queue sheds its oldest entry first
// (drop-oldest backpressure). Per-subscriber delivery order is FIFO and
// matches publish order; there is no ordering guarantee across subscribers.
type Bus struct {
	mu          sync.Mutex
	bufferSize  int
	subs        map[string]*subscription
	published   uint64
	dropped     uint64
	lastPublish time.Time
	logger      *zap.Logger
}

// NewBus creates a bus whose subscriber queues hold up to bufferSize events.
func NewBus(bufferSize int, logger *zap.Logger) *Bus {
	if bufferSize <= 0 {
		bufferSize = 10000
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Info("event bus initialized", zap.Int("buffer_size", bufferSize))
	return &Bus{
		bufferSize: bufferSize,
		subs:       make(map[string]*subscription),
		logger:     logger,
	}
}

// Subscribe registers a bounded queue for the given subscriber id and
// returns its receive side. Registration is idempotent by id: a second call
// replaces the previous queue and its unread contents are discarded. With no
// types the subscriber receives every event type.
//
// Queue channels are never closed; stale handles are simply dropped and
// consumers are expected to stop via their own context.
func (b *Bus) Subscribe(id string, types ...EventType) <-chan *Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subs[id]; ok {
		b.logger.Warn("subscriber already exists, replacing", zap.String("subscriber", id))
	}
	sub := &subscription{id: id, ch: make(chan *Event, b.bufferSize)}
	if len(types) > 0 {
		sub.types = make(map[EventType]struct{}, len(types))
		for _, t := range types {
			sub.types[t] = struct{}{}
		}
	}
	b.subs[id] = sub
	busSubscribers.Set(float64(len(b.subs)))
	b.logger.Info("subscriber registered", zap.String("subscriber", id), zap.Int("types", len(types)))
	return sub.ch
}

// Unsubscribe removes a registration. Unknown ids are a no-op.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subs[id]; !ok {
		return
	}
	delete(b.subs, id)
	busSubscribers.Set(float64(len(b.subs)))
	b.logger.Info("subscriber unregistered", zap.String("subscriber", id))
}

// Publish enqueues the event to every registered subscriber whose filter
// includes the event type. A full queue evicts its oldest entry to make room;
// if the enqueue still cannot proceed the event is dropped for that
// subscriber and logged. The publisher is never blocked.
func (b *Bus) Publish(evt *Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.published++
	b.lastPublish = evt.Timestamp
	busPublished.Inc()

	for id, sub := range b.subs {
		if !sub.wants(evt.Type) {
			continue
		}
		select {
		case sub.ch <- evt:
			continue
		default:
		}
		// Queue full: evict the oldest entry, then retry once.
		select {
		case <-sub.ch:
			b.dropped++
			busDropped.WithLabelValues(id).Inc()
		default:
		}
		select {
		case sub.ch <- evt:
		default:
			b.dropped++
			busDropped.WithLabelValues(id).Inc()
			b.logger.Warn("event dropped", zap.String("subscriber", id), zap.String("event_type", string(evt.Type)))
		}
	}
}

// Flush drains every subscriber queue without unsubscribing anyone.
func (b *Bus) Flush() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, sub := range b.subs {
		for len(sub.ch) > 0 {
			select {
			case <-sub.ch:
			default:
			}
		}
	}
}

// Metrics returns a snapshot of the bus counters.
func (b *Bus) Metrics() Metrics {
	b.mu.Lock()
	defer b.mu.Unlock()

	return Metrics{
		TotalPublished: b.published,
		TotalDropped:   b.dropped,
		Subscribers:    len(b.subs),
		BufferSize:     b.bufferSize,
		LastPublish:    b.lastPublish,
	}
}
