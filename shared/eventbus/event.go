package eventbus

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EventType is the closed set of event kinds that flow through the bus.
type EventType string

const (
	// Kernel events.
	EventSyscall     EventType = "syscall"
	EventExec        EventType = "exec"
	EventExit        EventType = "exit"
	EventFileOpen    EventType = "file_open"
	EventFileRead    EventType = "file_read"
	EventFileWrite   EventType = "file_write"
	EventIORead      EventType = "io_read"
	EventIOWrite     EventType = "io_write"
	EventNetworkSend EventType = "network_send"
	EventNetworkRecv EventType = "network_recv"

	// User-space metrics.
	EventCPUMetric     EventType = "cpu_metric"
	EventMemoryMetric  EventType = "memory_metric"
	EventDiskMetric    EventType = "disk_metric"
	EventNetworkMetric EventType = "network_metric"
	EventProcessMetric EventType = "process_metric"

	// ML events.
	EventAnomaly EventType = "anomaly"
	EventTrend   EventType = "trend"
	EventAlert   EventType = "alert"
)

// AllTypes returns every known event type.
func AllTypes() []EventType {
	return []EventType{
		EventSyscall, EventExec, EventExit,
		EventFileOpen, EventFileRead, EventFileWrite,
		EventIORead, EventIOWrite,
		EventNetworkSend, EventNetworkRecv,
		EventCPUMetric, EventMemoryMetric, EventDiskMetric,
		EventNetworkMetric, EventProcessMetric,
		EventAnomaly, EventTrend, EventAlert,
	}
}

// Valid reports whether t is one of the known event types.
func (t EventType) Valid() bool {
	for _, k := range AllTypes() {
		if t == k {
			return true
		}
	}
	return false
}

// Event is the unified record for every system observation. Events are
// immutable after publish with one exception: the stream processor attaches
// resolved process info into Metadata exactly once.
type Event struct {
	ID        string
	Type      EventType
	Timestamp time.Time
	Source    string
	PID       int32
	TID       int32
	Comm      string
	UID       int32
	GID       int32
	Data      map[string]any
	Metadata  map[string]any
}

// New creates an event with a fresh id and the current timestamp.
func New(t EventType, source string) *Event {
	return &Event{
		ID:        uuid.NewString()[:8],
		Type:      t,
		Timestamp: time.Now(),
		Source:    source,
		Data:      map[string]any{},
		Metadata:  map[string]any{},
	}
}

// wireEvent is the serialized shape consumed by REST/dashboard clients.
type wireEvent struct {
	EventID      string         `json:"event_id"`
	EventType    EventType      `json:"event_type"`
	Timestamp    float64        `json:"timestamp"`
	TimestampISO string         `json:"timestamp_iso"`
	Source       string         `json:"source"`
	PID          int32          `json:"pid"`
	TID          int32          `json:"tid"`
	Comm         string         `json:"comm"`
	UID          int32          `json:"uid"`
	GID          int32          `json:"gid"`
	Data         map[string]any `json:"data"`
	Metadata     map[string]any `json:"metadata"`
}

func (e *Event) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireEvent{
		EventID:      e.ID,
		EventType:    e.Type,
		Timestamp:    float64(e.Timestamp.UnixNano()) / float64(time.Second),
		TimestampISO: e.Timestamp.Format(time.RFC3339Nano),
		Source:       e.Source,
		PID:          e.PID,
		TID:          e.TID,
		Comm:         e.Comm,
		UID:          e.UID,
		GID:          e.GID,
		Data:         e.Data,
		Metadata:     e.Metadata,
	})
}

func (e *Event) UnmarshalJSON(b []byte) error {
	var w wireEvent
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	sec, frac := int64(w.Timestamp), w.Timestamp-float64(int64(w.Timestamp))
	*e = Event{
		ID:        w.EventID,
		Type:      w.EventType,
		Timestamp: time.Unix(sec, int64(frac*float64(time.Second))),
		Source:    w.Source,
		PID:       w.PID,
		TID:       w.TID,
		Comm:      w.Comm,
		UID:       w.UID,
		GID:       w.GID,
		Data:      w.Data,
		Metadata:  w.Metadata,
	}
	return nil
}
