package ml

import "math"

// minFeatureWindow is the shortest window features can be computed from.
const minFeatureWindow = 5

// Features holds the engineered description of one metric window. Vector
// emits the same values in a fixed order for models that consume flat
// vectors.
type Features struct {
	Latest       float64 `json:"latest"`
	Mean         float64 `json:"mean"`
	Std          float64 `json:"std"`
	Min          float64 `json:"min"`
	Max          float64 `json:"max"`
	Median       float64 `json:"median"`
	ZScore       float64 `json:"z_score"`
	Trend        float64 `json:"trend"`
	Volatility   float64 `json:"volatility"`
	Entropy      float64 `json:"entropy"`
	IQR          float64 `json:"iqr"`
	RecentChange float64 `json:"recent_change"`
}

// FeatureNames lists the vector fields in emission order.
func FeatureNames() []string {
	return []string{
		"latest", "mean", "std", "min", "max", "median",
		"z_score", "trend", "volatility", "entropy", "iqr", "recent_change",
	}
}

// Vector returns the features as a flat slice, ordered as FeatureNames.
func (f *Features) Vector() []float64 {
	return []float64{
		f.Latest, f.Mean, f.Std, f.Min, f.Max, f.Median,
		f.ZScore, f.Trend, f.Volatility, f.Entropy, f.IQR, f.RecentChange,
	}
}

// ExtractFeatures computes the feature set for a chronological value window.
// Windows shorter than minFeatureWindow yield no features; callers must skip
// the cycle rather than treat the result as zeros.
func ExtractFeatures(values []float64) (*Features, bool) {
	if len(values) < minFeatureWindow {
		return nil, false
	}

	m := mean(values)
	rawStd := stdDev(values, m)
	std := math.Max(rawStd, epsilon)

	latest := values[len(values)-1]
	prev := values[len(values)-2]

	zScore := 0.0
	if rawStd > epsilon {
		zScore = (latest - m) / rawStd
	}

	minV, maxV := values[0], values[0]
	for _, v := range values {
		if v < minV {
			minV = v
		}
		if v > maxV {
			maxV = v
		}
	}

	diffs := differences(values)
	volatility := stdDev(diffs, mean(diffs))

	// Mean relative change over nonzero predecessors, a cheap entropy proxy.
	entropy := 0.0
	if len(values) > 3 {
		var ratios []float64
		for i := 1; i < len(values); i++ {
			if values[i-1] != 0 {
				ratios = append(ratios, math.Abs((values[i]-values[i-1])/values[i-1]))
			}
		}
		entropy = mean(ratios)
	}

	return &Features{
		Latest:       latest,
		Mean:         m,
		Std:          std,
		Min:          minV,
		Max:          maxV,
		Median:       median(values),
		ZScore:       zScore,
		Trend:        latest - values[0],
		Volatility:   volatility,
		Entropy:      entropy,
		IQR:          percentile(values, 75) - percentile(values, 25),
		RecentChange: latest - prev,
	}, true
}
