package ml

import (
	"errors"
	"math"
)

const (
	svmNu    = 0.05
	svmGamma = 1.0
)

// oneClassSVMDetector learns a boundary around normal values with an RBF
// kernel. The decision function is the mean kernel response against the
// standardized training set; rho is calibrated so roughly nu of the training
// points fall outside.
type oneClassSVMDetector struct {
	minSamples int
	mean       float64
	std        float64
	support    []float64
	rho        float64
	fitted     bool
}

func newOneClassSVMDetector(minSamples int) *oneClassSVMDetector {
	return &oneClassSVMDetector{minSamples: minSamples}
}

func (d *oneClassSVMDetector) Name() string    { return "one_class_svm" }
func (d *oneClassSVMDetector) MinSamples() int { return d.minSamples }

func (d *oneClassSVMDetector) Fit(values []float64) error {
	if len(values) < d.minSamples {
		return errors.New("one-class svm: not enough training samples")
	}

	d.mean = mean(values)
	d.std = stdDev(values, d.mean)
	if d.std == 0 {
		d.std = 1.0
	}

	d.support = make([]float64, len(values))
	for i, v := range values {
		d.support[i] = (v - d.mean) / d.std
	}

	decisions := make([]float64, len(d.support))
	for i, x := range d.support {
		decisions[i] = d.decision(x)
	}
	d.rho = percentile(decisions, svmNu*100)
	d.fitted = true
	return nil
}

func (d *oneClassSVMDetector) Score(values []float64) (int, error) {
	if !d.fitted {
		return 0, errors.New("one-class svm: not fitted")
	}
	x := (values[len(values)-1] - d.mean) / d.std
	if d.rho-d.decision(x) > 0 {
		return 1, nil
	}
	return 0, nil
}

func (d *oneClassSVMDetector) decision(x float64) float64 {
	total := 0.0
	for _, s := range d.support {
		diff := x - s
		total += math.Exp(-svmGamma * diff * diff)
	}
	return total / float64(len(d.support))
}
