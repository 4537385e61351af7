// Package tracer streams kernel IO latency and exec events onto the bus
// from a compiled BPF object. Without an object path configured the tracer
// stays disabled and the rest of the platform runs on user-space collectors
// alone.
package tracer

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"go.uber.org/zap"

	"github.com/kartik-sc/os-el---system-monitoring-application/shared/config"
	"github.com/kartik-sc/os-el---system-monitoring-application/shared/eventbus"
)

const (
	kindIORead = iota
	kindIOWrite
	kindExec
)

// rawEvent mirrors the C struct the BPF programs write into the perf buffer.
type rawEvent struct {
	PID       uint32
	TID       uint32
	Kind      uint32
	LatencyUs uint32
	Comm      [16]byte
}

type Tracer struct {
	bus    *eventbus.Bus
	cfg    config.TracerConfig
	logger *zap.Logger
}

func New(bus *eventbus.Bus, cfg config.TracerConfig, logger *zap.Logger) *Tracer {
	return &Tracer{bus: bus, cfg: cfg, logger: logger}
}

func decodeRaw(sample []byte) (rawEvent, error) {
	var raw rawEvent
	if err := binary.Read(bytes.NewReader(sample), binary.LittleEndian, &raw); err != nil {
		return rawEvent{}, fmt.Errorf("decode perf sample: %w", err)
	}
	return raw, nil
}

func comm(raw rawEvent) string {
	b := raw.Comm[:]
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}

// toEvent maps a perf record onto a bus event. Unknown kinds are dropped.
func toEvent(raw rawEvent) (*eventbus.Event, bool) {
	var typ eventbus.EventType
	switch raw.Kind {
	case kindIORead:
		typ = eventbus.EventIORead
	case kindIOWrite:
		typ = eventbus.EventIOWrite
	case kindExec:
		typ = eventbus.EventExec
	default:
		return nil, false
	}

	evt := eventbus.New(typ, "tracer")
	evt.PID = int32(raw.PID)
	evt.TID = int32(raw.TID)
	evt.Comm = comm(raw)
	if typ == eventbus.EventIORead || typ == eventbus.EventIOWrite {
		evt.Data["latency_us"] = float64(raw.LatencyUs)
	}
	return evt, true
}
