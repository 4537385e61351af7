package ml

import (
	"errors"
	"math"
	"sync"
	"time"
)

const trendMinSamples = 10

// Forecast is a short-horizon prediction for one metric key.
type Forecast struct {
	MetricKey   string    `json:"metric_key"`
	Values      []float64 `json:"values"`
	Steps       int       `json:"steps"`
	Method      string    `json:"method"`
	Confidence  float64   `json:"confidence"`
	LatestValue float64   `json:"latest_value"`
	GeneratedAt time.Time `json:"generated_at"`
}

// linearModel extrapolates the least squares line fitted on the first
// qualifying window. The slope and intercept stay frozen afterwards.
type linearModel struct {
	slope     float64
	intercept float64
	isFit     bool
}

func (m *linearModel) fitted() bool { return m.isFit }

func (m *linearModel) Fit(values []float64) error {
	slope, intercept, err := linearRegression(values)
	if err != nil {
		return err
	}
	m.slope, m.intercept, m.isFit = slope, intercept, true
	return nil
}

func (m *linearModel) Forecast(values []float64, steps int) ([]float64, error) {
	if !m.isFit {
		return nil, errors.New("linear: model not fitted")
	}
	out := make([]float64, steps)
	for s := 0; s < steps; s++ {
		out[s] = m.intercept + m.slope*float64(len(values)+s)
	}
	return out, nil
}

// trendState holds one metric key's models. A model that fails to fit is
// excluded for the lifetime of the key, mirroring the anomaly ensemble.
type trendState struct {
	ar        *arModel
	lin       *linearModel
	arFailed  bool
	linFailed bool
}

// TrendPredictor averages an autoregressive forecaster and a linear
// extrapolation. Models are fit once per metric key, on the first window
// that clears the sample floor, and reused with frozen coefficients on
// every later call. Either model may drop out on degenerate input;
// confidence reflects how many contributed.
type TrendPredictor struct {
	steps      int
	minSamples int

	mu     sync.Mutex
	states map[string]*trendState
}

func NewTrendPredictor(steps, minSamples int) *TrendPredictor {
	if minSamples < trendMinSamples {
		minSamples = trendMinSamples
	}
	return &TrendPredictor{
		steps:      steps,
		minSamples: minSamples,
		states:     make(map[string]*trendState),
	}
}

// Predict forecasts the next steps values of the series.
func (p *TrendPredictor) Predict(metricKey string, values []float64) Forecast {
	fc := Forecast{
		MetricKey:   metricKey,
		Steps:       p.steps,
		Method:      "insufficient_data",
		GeneratedAt: time.Now(),
	}
	if len(values) > 0 {
		fc.LatestValue = values[len(values)-1]
	}
	if len(values) < p.minSamples {
		return fc
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	state, ok := p.states[metricKey]
	if !ok {
		state = &trendState{ar: newARModel(2, 1), lin: &linearModel{}}
		p.states[metricKey] = state
	}

	var contributions [][]float64
	if !state.arFailed {
		if !state.ar.fitted() {
			state.arFailed = state.ar.Fit(values) != nil
		}
		if !state.arFailed {
			if arFc, err := state.ar.Forecast(values, p.steps); err == nil {
				contributions = append(contributions, arFc)
			}
		}
	}
	if !state.linFailed {
		if !state.lin.fitted() {
			state.linFailed = state.lin.Fit(values) != nil
		}
		if !state.linFailed {
			if linFc, err := state.lin.Forecast(values, p.steps); err == nil {
				contributions = append(contributions, linFc)
			}
		}
	}

	if len(contributions) == 0 {
		fc.Method = "none"
		return fc
	}

	fc.Values = make([]float64, p.steps)
	for s := 0; s < p.steps; s++ {
		sum := 0.0
		for _, c := range contributions {
			sum += c[s]
		}
		fc.Values[s] = sum / float64(len(contributions))
	}
	fc.Method = "ensemble"
	fc.Confidence = float64(len(contributions)) / 2
	return fc
}

// linearRegression fits y = intercept + slope*i over the value index.
func linearRegression(values []float64) (slope, intercept float64, err error) {
	n := float64(len(values))
	if n < 2 {
		return 0, 0, errors.New("linear regression: too few points")
	}
	var sumX, sumY, sumXY, sumXX float64
	for i, v := range values {
		x := float64(i)
		sumX += x
		sumY += v
		sumXY += x * v
		sumXX += x * x
	}
	denom := n*sumXX - sumX*sumX
	if math.Abs(denom) < 1e-12 {
		return 0, 0, errors.New("linear regression: degenerate index")
	}
	slope = (n*sumXY - sumX*sumY) / denom
	intercept = (sumY - slope*sumX) / n
	return slope, intercept, nil
}
