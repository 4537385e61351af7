package ml

import (
	"testing"

	"go.uber.org/zap"
)

func newTestStack(fitMinSamples int) *StackedDetector {
	return NewStackedDetector(fitMinSamples, "", zap.NewNop())
}

func TestDetectInsufficientData(t *testing.T) {
	s := newTestStack(20)

	res := s.Detect("cpu.total", []float64{1, 2, 3})
	if res.IsAnomaly {
		t.Fatal("short window must not flag")
	}
	if res.Method != "insufficient_data" {
		t.Fatalf("method = %q, want insufficient_data", res.Method)
	}
	if res.LatestValue != 3 {
		t.Fatalf("latest = %v, want 3", res.LatestValue)
	}
}

func TestDetectFlatWindowStaysQuiet(t *testing.T) {
	s := newTestStack(20)

	res := s.Detect("cpu.total", constants(50, 30))
	if res.IsAnomaly {
		t.Fatalf("flat window flagged: %+v", res)
	}
	// Nothing voted, so attribution falls to the first detector evaluated.
	if res.Method != "z_score" {
		t.Fatalf("method = %q, want z_score", res.Method)
	}
	if res.Votes != 0 {
		t.Fatalf("votes = %d, want 0", res.Votes)
	}
}

func TestDetectSpikeOnFlatBaseline(t *testing.T) {
	s := newTestStack(5)

	res := s.Detect("mem.used", append(constants(10, 4), 95))
	if !res.IsAnomaly {
		t.Fatalf("spike not flagged: %+v", res)
	}
	if res.Scores["z_score"] != 1 {
		t.Fatal("z-score detector should vote on a flat baseline spike")
	}
	if res.Method != "z_score" {
		t.Fatalf("method = %q, want z_score", res.Method)
	}
	if res.Confidence <= 0 || res.Confidence > 1 {
		t.Fatalf("confidence out of range: %v", res.Confidence)
	}
}

func TestDetectIsolatesStatePerKey(t *testing.T) {
	s := newTestStack(20)

	s.Detect("a", constants(10, 25))
	s.Detect("b", constants(500, 25))
	if got := s.TrackedMetrics(); got != 2 {
		t.Fatalf("tracked = %d, want 2", got)
	}

	// Key a's detectors were calibrated on 10s, so 500 is a spike there
	// even though key b considers it normal.
	resA := s.Detect("a", append(constants(10, 25), 500))
	resB := s.Detect("b", append(constants(500, 25), 500))
	if !resA.IsAnomaly {
		t.Fatalf("cross-key spike not flagged: %+v", resA)
	}
	if resB.IsAnomaly {
		t.Fatalf("baseline value flagged: %+v", resB)
	}
}

func TestDetectSkipsUnderfedDetectors(t *testing.T) {
	s := newTestStack(20)

	// 8 samples clears the feature window floor but not the trained
	// detectors' fit minimums, so only the statistical baseline scores.
	res := s.Detect("cpu.total", constants(10, 8))
	if res.TotalMethods != 1 {
		t.Fatalf("total methods = %d, want 1", res.TotalMethods)
	}
	if _, ok := res.Scores["z_score"]; !ok {
		t.Fatal("z-score detector missing from scores")
	}
	if res.Method != "z_score" {
		t.Fatalf("method = %q, want z_score", res.Method)
	}
}
