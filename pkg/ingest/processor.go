// Package ingest turns raw bus events into queryable time-series state.
//
// The processor is the single writer of all metric buffers and the raw-event
// history; pipelines and the API only read snapshots through the query
// surface.
package ingest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kartik-sc/os-el---system-monitoring-application/shared/config"
	"github.com/kartik-sc/os-el---system-monitoring-application/shared/eventbus"
)

const subscriberID = "stream_processor"

// ProcessorStats is a snapshot of the processor's internal state sizes.
type ProcessorStats struct {
	TotalEventsProcessed uint64 `json:"total_events_processed"`
	EventHistorySize     int    `json:"event_history_size"`
	ActiveMetrics        int    `json:"active_metrics"`
	ProcessCacheSize     int    `json:"process_cache_size"`
}

// Processor subscribes to every event type, maintains per-metric ring
// buffers plus a bounded raw-event history, and enriches events with cached
// process identity.
type Processor struct {
	bus    *eventbus.Bus
	cfg    config.ProcessorConfig
	logger *zap.Logger

	mu        sync.RWMutex
	metrics   map[string]*TimeSeriesBuffer
	history   []*eventbus.Event
	histStart int
	histCount int
	processed uint64

	procs *processCache
}

// NewProcessor creates a stream processor bound to the given bus.
func NewProcessor(bus *eventbus.Bus, cfg config.ProcessorConfig, logger *zap.Logger) *Processor {
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 5000
	}
	if cfg.MetricBufferSize <= 0 {
		cfg.MetricBufferSize = 1000
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{
		bus:     bus,
		cfg:     cfg,
		logger:  logger,
		metrics: make(map[string]*TimeSeriesBuffer),
		history: make([]*eventbus.Event, cfg.HistorySize),
		procs:   newProcessCache(),
	}
}

// Run subscribes to the bus and processes events until ctx is cancelled.
// A failure on a single event is logged and never stops ingestion.
func (p *Processor) Run(ctx context.Context) {
	ch := p.bus.Subscribe(subscriberID)
	defer p.bus.Unsubscribe(subscriberID)
	p.logger.Info("stream processor started")

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("stream processor stopped")
			return
		case evt := <-ch:
			if evt == nil {
				continue
			}
			if err := p.process(evt); err != nil {
				p.logger.Error("event processing failed",
					zap.String("event_id", evt.ID),
					zap.String("event_type", string(evt.Type)),
					zap.Error(err))
			}
		}
	}
}

func (p *Processor) process(evt *eventbus.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	// Enrich before the event becomes visible through the history: readers
	// may marshal it concurrently the moment it is appended.
	p.enrich(evt)

	p.mu.Lock()
	p.appendHistory(evt)
	p.extractMetric(evt)
	p.processed++
	p.mu.Unlock()
	return nil
}

func (p *Processor) appendHistory(evt *eventbus.Event) {
	if p.histCount < len(p.history) {
		p.history[(p.histStart+p.histCount)%len(p.history)] = evt
		p.histCount++
		return
	}
	p.history[p.histStart] = evt
	p.histStart = (p.histStart + 1) % len(p.history)
}

// extractMetric applies the fixed event-type → metric-key derivation table.
// Events outside the table yield no metric point.
func (p *Processor) extractMetric(evt *eventbus.Event) {
	var key string
	var value float64
	var ok bool

	switch evt.Type {
	case eventbus.EventCPUMetric:
		key = "cpu." + dataString(evt.Data, "cpu_id", "total")
		value, ok = dataFloat(evt.Data, "percent")
	case eventbus.EventMemoryMetric:
		key = "memory." + dataString(evt.Data, "type", "unknown")
		value, ok = dataFloat(evt.Data, "percent")
	case eventbus.EventDiskMetric:
		device := dataString(evt.Data, "device", "total")
		mtype := dataString(evt.Data, "type", "read_bytes")
		key = "disk." + device + "." + mtype
		value, ok = dataFloat(evt.Data, "value")
	case eventbus.EventNetworkMetric:
		key = "network." + dataString(evt.Data, "type", "sent_bytes")
		value, ok = dataFloat(evt.Data, "bytes")
	case eventbus.EventIORead:
		key = "io.read_latency_us"
		value, ok = dataFloat(evt.Data, "latency_us")
	case eventbus.EventIOWrite:
		key = "io.write_latency_us"
		value, ok = dataFloat(evt.Data, "latency_us")
	default:
		return
	}
	if !ok {
		return
	}

	buf, exists := p.metrics[key]
	if !exists {
		buf = NewTimeSeriesBuffer(p.cfg.MetricBufferSize)
		p.metrics[key] = buf
	}
	buf.Append(Point{Timestamp: evt.Timestamp, Value: value, Metadata: evt.Data})
}

// enrich attaches cached process identity for events that carry a pid.
// Resolution happens at most once per pid; failed lookups are retried on
// later events for the same pid.
func (p *Processor) enrich(evt *eventbus.Event) {
	if evt.PID == 0 {
		return
	}
	info, ok := p.procs.lookup(evt.PID)
	if !ok {
		resolved, err := resolveProcess(evt.PID)
		if err != nil {
			return
		}
		p.procs.store(evt.PID, resolved)
		info = resolved
	}
	if evt.Metadata == nil {
		evt.Metadata = map[string]any{}
	}
	evt.Metadata["process_info"] = info
}

// LatestValue returns the most recent value for a metric key.
func (p *Processor) LatestValue(key string) (float64, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	buf, ok := p.metrics[key]
	if !ok {
		return 0, false
	}
	latest, ok := buf.Latest()
	return latest.Value, ok
}

// Window returns the values within the trailing window, in insertion order.
func (p *Processor) Window(key string, window time.Duration) []float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	buf, ok := p.metrics[key]
	if !ok {
		return nil
	}
	points := buf.Recent(window, time.Now())
	values := make([]float64, len(points))
	for i, pt := range points {
		values[i] = pt.Value
	}
	return values
}

// WindowPoints is Window with full points, for history projections.
func (p *Processor) WindowPoints(key string, window time.Duration) []Point {
	p.mu.RLock()
	defer p.mu.RUnlock()
	buf, ok := p.metrics[key]
	if !ok {
		return nil
	}
	return buf.Recent(window, time.Now())
}

// MetricStats summarizes the full retained buffer for a key. Unknown keys
// yield zeroed stats.
func (p *Processor) MetricStats(key string) Stats {
	p.mu.RLock()
	defer p.mu.RUnlock()
	buf, ok := p.metrics[key]
	if !ok {
		return Stats{}
	}
	return buf.Stats()
}

// MetricKeys lists every metric key seen so far.
func (p *Processor) MetricKeys() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	keys := make([]string, 0, len(p.metrics))
	for k := range p.metrics {
		keys = append(keys, k)
	}
	return keys
}

// RecentEvents returns the most recent raw events, newest last, optionally
// filtered by type. A zero typ matches everything.
func (p *Processor) RecentEvents(typ eventbus.EventType, limit int) []*eventbus.Event {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var out []*eventbus.Event
	for i := 0; i < p.histCount; i++ {
		evt := p.history[(p.histStart+i)%len(p.history)]
		if typ != "" && evt.Type != typ {
			continue
		}
		out = append(out, evt)
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

// Stats returns the processor's own bookkeeping sizes.
func (p *Processor) Stats() ProcessorStats {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return ProcessorStats{
		TotalEventsProcessed: p.processed,
		EventHistorySize:     p.histCount,
		ActiveMetrics:        len(p.metrics),
		ProcessCacheSize:     p.procs.size(),
	}
}

func dataString(data map[string]any, key, def string) string {
	v, ok := data[key]
	if !ok || v == nil {
		return def
	}
	switch s := v.(type) {
	case string:
		return s
	case fmt.Stringer:
		return s.String()
	default:
		return fmt.Sprintf("%v", v)
	}
}

func dataFloat(data map[string]any, key string) (float64, bool) {
	v, ok := data[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}
