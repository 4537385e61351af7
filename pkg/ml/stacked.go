package ml

import (
	"sync"

	"go.uber.org/zap"
)

// Detector scores the latest point of a metric window. Fit is called once
// per metric key when enough history has accumulated; stateless detectors
// may treat it as a no-op.
type Detector interface {
	Name() string
	MinSamples() int
	Fit(values []float64) error
	Score(values []float64) (int, error)
}

// Result is the verdict of one ensemble evaluation for a metric key.
type Result struct {
	MetricKey    string         `json:"metric_key"`
	IsAnomaly    bool           `json:"is_anomaly"`
	Confidence   float64        `json:"confidence"`
	Method       string         `json:"method"`
	Scores       map[string]int `json:"scores"`
	Votes        int            `json:"votes"`
	TotalMethods int            `json:"total_methods"`
	LatestValue  float64        `json:"latest_value"`
}

// keyState tracks per-metric fit status. A detector that fails to fit is
// excluded for the lifetime of the key.
type keyState struct {
	detectors []Detector
	fitted    map[string]bool
	failed    map[string]bool
}

// StackedDetector runs every detector over the same window and takes a
// majority vote. Each metric key gets its own detector instances so
// calibration never leaks across keys.
type StackedDetector struct {
	logger        *zap.Logger
	fitMinSamples int
	modelPath     string
	modelWarned   bool

	mu     sync.Mutex
	states map[string]*keyState
}

func NewStackedDetector(fitMinSamples int, modelPath string, logger *zap.Logger) *StackedDetector {
	return &StackedDetector{
		logger:        logger,
		fitMinSamples: fitMinSamples,
		modelPath:     modelPath,
		states:        make(map[string]*keyState),
	}
}

// newKeyDetectors builds the ensemble for one metric key, in evaluation
// order. The pretrained model is optional: if the artifact is missing or
// malformed the ensemble runs without it.
func (s *StackedDetector) newKeyDetectors() []Detector {
	detectors := []Detector{
		zScoreDetector{},
		newIsolationForestDetector(s.fitMinSamples),
		newOneClassSVMDetector(s.fitMinSamples),
		newReconstructionDetector(),
	}
	if s.modelPath != "" {
		pre, err := newPretrainedDetector(s.modelPath)
		if err != nil {
			if !s.modelWarned {
				s.logger.Warn("pretrained model unavailable, running without it",
					zap.String("path", s.modelPath), zap.Error(err))
				s.modelWarned = true
			}
		} else {
			detectors = append(detectors, pre)
		}
	}
	return detectors
}

// Detect evaluates the window's latest value against the full ensemble.
// Values must be chronological.
func (s *StackedDetector) Detect(metricKey string, values []float64) Result {
	res := Result{
		MetricKey: metricKey,
		Method:    "insufficient_data",
		Scores:    make(map[string]int),
	}
	if len(values) > 0 {
		res.LatestValue = values[len(values)-1]
	}
	// Feature extraction needs a handful of points before any detector can
	// say something meaningful, whatever the pipeline's own window policy.
	if len(values) < minFeatureWindow {
		return res
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.states[metricKey]
	if !ok {
		state = &keyState{
			detectors: s.newKeyDetectors(),
			fitted:    make(map[string]bool),
			failed:    make(map[string]bool),
		}
		s.states[metricKey] = state
	}

	firstVoter := ""
	firstScored := ""
	for _, det := range state.detectors {
		name := det.Name()
		if state.failed[name] || len(values) < det.MinSamples() {
			continue
		}
		if !state.fitted[name] {
			if err := det.Fit(values); err != nil {
				state.failed[name] = true
				s.logger.Debug("detector fit failed, excluding it for this metric",
					zap.String("metric", metricKey), zap.String("detector", name), zap.Error(err))
				continue
			}
			state.fitted[name] = true
		}

		vote, err := det.Score(values)
		if err != nil {
			s.logger.Debug("detector score failed",
				zap.String("metric", metricKey), zap.String("detector", name), zap.Error(err))
			continue
		}
		res.Scores[name] = vote
		res.TotalMethods++
		if firstScored == "" {
			firstScored = name
		}
		if vote == 1 {
			res.Votes++
			if firstVoter == "" {
				firstVoter = name
			}
		}
	}

	if res.TotalMethods == 0 {
		return res
	}

	res.Confidence = float64(res.Votes) / float64(res.TotalMethods)
	res.IsAnomaly = res.Votes >= max(1, res.TotalMethods/2)
	// Attribute the result to the highest-scoring detector, breaking ties by
	// evaluation order. With binary votes that is the first voter, or the
	// first detector that scored when nothing voted.
	if firstVoter != "" {
		res.Method = firstVoter
	} else {
		res.Method = firstScored
	}
	return res
}

// TrackedMetrics reports how many metric keys have ensemble state.
func (s *StackedDetector) TrackedMetrics() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.states)
}
