package ingest

import (
	"time"
)

// Point is a single sample of one metric.
type Point struct {
	Timestamp time.Time      `json:"timestamp"`
	Value     float64        `json:"value"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Stats summarizes a buffer over its full retained contents.
type Stats struct {
	Count  int     `json:"count"`
	Mean   float64 `json:"mean"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Latest float64 `json:"latest"`
}

// TimeSeriesBuffer is a fixed-capacity ring of points for one metric key.
// Appending past capacity evicts the oldest point. Timestamps are
// non-decreasing in insertion order; out-of-order arrival is not corrected.
type TimeSeriesBuffer struct {
	points []Point
	start  int
	count  int
}

// NewTimeSeriesBuffer creates a buffer holding up to capacity points.
func NewTimeSeriesBuffer(capacity int) *TimeSeriesBuffer {
	if capacity <= 0 {
		capacity = 1000
	}
	return &TimeSeriesBuffer{points: make([]Point, capacity)}
}

// Append stores a point, evicting the oldest when full.
func (b *TimeSeriesBuffer) Append(p Point) {
	if b.count < len(b.points) {
		b.points[(b.start+b.count)%len(b.points)] = p
		b.count++
		return
	}
	b.points[b.start] = p
	b.start = (b.start + 1) % len(b.points)
}

// Len returns the number of retained points.
func (b *TimeSeriesBuffer) Len() int { return b.count }

// All returns the retained points in insertion order.
func (b *TimeSeriesBuffer) All() []Point {
	out := make([]Point, b.count)
	for i := 0; i < b.count; i++ {
		out[i] = b.points[(b.start+i)%len(b.points)]
	}
	return out
}

// Recent returns the points with now-timestamp <= window, in insertion order.
func (b *TimeSeriesBuffer) Recent(window time.Duration, now time.Time) []Point {
	var out []Point
	for i := 0; i < b.count; i++ {
		p := b.points[(b.start+i)%len(b.points)]
		if now.Sub(p.Timestamp) <= window {
			out = append(out, p)
		}
	}
	return out
}

// Latest returns the most recent point.
func (b *TimeSeriesBuffer) Latest() (Point, bool) {
	if b.count == 0 {
		return Point{}, false
	}
	return b.points[(b.start+b.count-1)%len(b.points)], true
}

// Stats computes count/mean/min/max/latest over the full buffer. An empty
// buffer yields zeroed stats.
func (b *TimeSeriesBuffer) Stats() Stats {
	if b.count == 0 {
		return Stats{}
	}
	var s Stats
	s.Count = b.count
	first := b.points[b.start]
	s.Min, s.Max = first.Value, first.Value
	sum := 0.0
	for i := 0; i < b.count; i++ {
		v := b.points[(b.start+i)%len(b.points)].Value
		sum += v
		if v < s.Min {
			s.Min = v
		}
		if v > s.Max {
			s.Max = v
		}
		s.Latest = v
	}
	s.Mean = sum / float64(b.count)
	return s
}
