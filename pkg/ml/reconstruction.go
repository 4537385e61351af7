package ml

import (
	"errors"
	"math"
	"math/rand"
)

const (
	reconWindow     = 10
	reconStride     = 5
	reconHidden     = 6
	reconEpochs     = 50
	reconLearnRate  = 0.01
	reconThresholdP = 95
)

// reconstructionDetector trains a small autoencoder over feature vectors
// drawn from sliding sub-windows. Inputs that reconstruct poorly relative to
// the training error distribution are flagged.
type reconstructionDetector struct {
	rng       *rand.Rand
	w1        [][]float64
	b1        []float64
	w2        [][]float64
	b2        []float64
	inMean    []float64
	inStd     []float64
	threshold float64
	fitted    bool
}

func newReconstructionDetector() *reconstructionDetector {
	return &reconstructionDetector{rng: rand.New(rand.NewSource(42))}
}

func (d *reconstructionDetector) Name() string { return "reconstruction" }

// MinSamples guarantees at least one sub-window plus a fresh latest point.
func (d *reconstructionDetector) MinSamples() int { return reconWindow + 1 }

func (d *reconstructionDetector) Fit(values []float64) error {
	vectors := subWindowVectors(values)
	if len(vectors) == 0 {
		return errors.New("reconstruction: not enough training samples")
	}

	dim := len(vectors[0])
	d.fitScaler(vectors, dim)
	scaled := make([][]float64, len(vectors))
	for i, v := range vectors {
		scaled[i] = d.scale(v)
	}

	d.initWeights(dim)
	for epoch := 0; epoch < reconEpochs; epoch++ {
		for _, x := range scaled {
			d.trainStep(x)
		}
	}

	errs := make([]float64, len(scaled))
	for i, x := range scaled {
		errs[i] = d.reconstructionError(x)
	}
	d.threshold = percentile(errs, reconThresholdP)
	d.fitted = true
	return nil
}

func (d *reconstructionDetector) Score(values []float64) (int, error) {
	if !d.fitted {
		return 0, errors.New("reconstruction: not fitted")
	}
	if len(values) < reconWindow {
		return 0, errors.New("reconstruction: window too short")
	}
	feats, ok := ExtractFeatures(values[len(values)-reconWindow:])
	if !ok {
		return 0, errors.New("reconstruction: feature extraction failed")
	}
	if d.reconstructionError(d.scale(feats.Vector())) > d.threshold {
		return 1, nil
	}
	return 0, nil
}

// subWindowVectors slices the series into overlapping windows and extracts
// one feature vector per window.
func subWindowVectors(values []float64) [][]float64 {
	var out [][]float64
	for start := 0; start+reconWindow <= len(values); start += reconStride {
		feats, ok := ExtractFeatures(values[start : start+reconWindow])
		if !ok {
			continue
		}
		out = append(out, feats.Vector())
	}
	return out
}

func (d *reconstructionDetector) fitScaler(vectors [][]float64, dim int) {
	d.inMean = make([]float64, dim)
	d.inStd = make([]float64, dim)
	col := make([]float64, len(vectors))
	for j := 0; j < dim; j++ {
		for i, v := range vectors {
			col[i] = v[j]
		}
		d.inMean[j] = mean(col)
		d.inStd[j] = math.Max(stdDev(col, d.inMean[j]), epsilon)
	}
}

func (d *reconstructionDetector) scale(x []float64) []float64 {
	out := make([]float64, len(x))
	for j, v := range x {
		out[j] = (v - d.inMean[j]) / d.inStd[j]
	}
	return out
}

func (d *reconstructionDetector) initWeights(dim int) {
	scale := math.Sqrt(2.0 / float64(dim))
	d.w1 = make([][]float64, reconHidden)
	d.b1 = make([]float64, reconHidden)
	for h := range d.w1 {
		d.w1[h] = make([]float64, dim)
		for j := range d.w1[h] {
			d.w1[h][j] = d.rng.NormFloat64() * scale
		}
	}
	d.w2 = make([][]float64, dim)
	d.b2 = make([]float64, dim)
	for j := range d.w2 {
		d.w2[j] = make([]float64, reconHidden)
		for h := range d.w2[j] {
			d.w2[j][h] = d.rng.NormFloat64() * scale
		}
	}
}

func (d *reconstructionDetector) forward(x []float64) (hidden, out []float64) {
	hidden = make([]float64, reconHidden)
	for h := range hidden {
		sum := d.b1[h]
		for j, v := range x {
			sum += d.w1[h][j] * v
		}
		hidden[h] = math.Tanh(sum)
	}
	out = make([]float64, len(x))
	for j := range out {
		sum := d.b2[j]
		for h, v := range hidden {
			sum += d.w2[j][h] * v
		}
		out[j] = sum
	}
	return hidden, out
}

func (d *reconstructionDetector) trainStep(x []float64) {
	hidden, out := d.forward(x)

	dim := len(x)
	outGrad := make([]float64, dim)
	for j := range outGrad {
		outGrad[j] = 2 * (out[j] - x[j]) / float64(dim)
	}

	hiddenGrad := make([]float64, reconHidden)
	for h := range hiddenGrad {
		sum := 0.0
		for j := range outGrad {
			sum += outGrad[j] * d.w2[j][h]
		}
		hiddenGrad[h] = sum * (1 - hidden[h]*hidden[h])
	}

	for j := range d.w2 {
		for h := range d.w2[j] {
			d.w2[j][h] -= reconLearnRate * outGrad[j] * hidden[h]
		}
		d.b2[j] -= reconLearnRate * outGrad[j]
	}
	for h := range d.w1 {
		for j := range d.w1[h] {
			d.w1[h][j] -= reconLearnRate * hiddenGrad[h] * x[j]
		}
		d.b1[h] -= reconLearnRate * hiddenGrad[h]
	}
}

func (d *reconstructionDetector) reconstructionError(x []float64) float64 {
	_, out := d.forward(x)
	sum := 0.0
	for j := range x {
		diff := out[j] - x[j]
		sum += diff * diff
	}
	return sum / float64(len(x))
}
