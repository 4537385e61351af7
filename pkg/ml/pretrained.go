package ml

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
)

// pretrainedArtifact is the on-disk layout of an exported classifier.
type pretrainedArtifact struct {
	Model struct {
		Type      string    `json:"type"`
		Weights   []float64 `json:"weights"`
		Bias      float64   `json:"bias"`
		Threshold float64   `json:"threshold"`
	} `json:"model"`
	Scaler struct {
		Mean []float64 `json:"mean"`
		Std  []float64 `json:"std"`
	} `json:"scaler"`
	Features []string `json:"features"`
}

// pretrainedDetector scores windows with a logistic model trained offline
// and shipped as a JSON artifact. It needs no per-key fitting.
type pretrainedDetector struct {
	weights   []float64
	bias      float64
	threshold float64
	scaleMean []float64
	scaleStd  []float64
}

func newPretrainedDetector(path string) (*pretrainedDetector, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read model artifact: %w", err)
	}
	var art pretrainedArtifact
	if err := json.Unmarshal(raw, &art); err != nil {
		return nil, fmt.Errorf("parse model artifact: %w", err)
	}
	if art.Model.Type != "logistic" {
		return nil, fmt.Errorf("unsupported model type %q", art.Model.Type)
	}

	// The artifact may use a leading subset of the feature set, but the
	// names and order must line up with what ExtractFeatures emits.
	names := FeatureNames()
	if len(art.Features) == 0 || len(art.Features) > len(names) {
		return nil, fmt.Errorf("artifact declares %d features, expected 1..%d", len(art.Features), len(names))
	}
	for i, f := range art.Features {
		if f != names[i] {
			return nil, fmt.Errorf("artifact feature %d is %q, expected %q", i, f, names[i])
		}
	}
	n := len(art.Features)
	if len(art.Model.Weights) != n || len(art.Scaler.Mean) != n || len(art.Scaler.Std) != n {
		return nil, fmt.Errorf("artifact weight/scaler lengths do not match %d features", n)
	}

	d := &pretrainedDetector{
		weights:   art.Model.Weights,
		bias:      art.Model.Bias,
		threshold: art.Model.Threshold,
		scaleMean: art.Scaler.Mean,
		scaleStd:  art.Scaler.Std,
	}
	if d.threshold == 0 {
		d.threshold = 0.5
	}
	return d, nil
}

func (d *pretrainedDetector) Name() string          { return "pretrained" }
func (d *pretrainedDetector) MinSamples() int       { return minFeatureWindow }
func (d *pretrainedDetector) Fit(_ []float64) error { return nil }

func (d *pretrainedDetector) Score(values []float64) (int, error) {
	feats, ok := ExtractFeatures(values)
	if !ok {
		return 0, fmt.Errorf("pretrained: window too short")
	}
	vec := feats.Vector()

	z := d.bias
	for i, w := range d.weights {
		std := d.scaleStd[i]
		if std == 0 {
			std = 1.0
		}
		z += w * (vec[i] - d.scaleMean[i]) / std
	}
	prob := 1 / (1 + math.Exp(-z))
	if prob > d.threshold {
		return 1, nil
	}
	return 0, nil
}
