package ml

import "math"

const (
	zScoreThreshold = 3.0
	// zeroVarianceFloor is the absolute deviation that flags an anomaly when
	// the history has no variance at all.
	zeroVarianceFloor = 1e-6
)

// zScoreDetector is the statistical baseline. It needs no training and votes
// on every call.
type zScoreDetector struct{}

func (zScoreDetector) Name() string          { return "z_score" }
func (zScoreDetector) MinSamples() int       { return minFeatureWindow }
func (zScoreDetector) Fit(_ []float64) error { return nil }

func (zScoreDetector) Score(values []float64) (int, error) {
	latest := values[len(values)-1]
	history := values[:len(values)-1]

	m := mean(history)
	s := stdDev(history, m)
	dev := math.Abs(latest - m)
	if s <= zeroVarianceFloor {
		// Flat history: any real deviation is anomalous.
		if dev >= zeroVarianceFloor {
			return 1, nil
		}
		return 0, nil
	}
	if dev/s > zScoreThreshold {
		return 1, nil
	}
	return 0, nil
}
