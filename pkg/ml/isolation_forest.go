package ml

import (
	"errors"
	"math"
	"math/rand"
)

const (
	isoTreeCount   = 100
	isoSampleSize  = 256
	isoThresholdPP = 90
)

// isoNode is one node of an isolation tree over scalar samples.
type isoNode struct {
	split       float64
	left, right *isoNode
	size        int
}

// isolationForestDetector isolates outliers by random partitioning. Scores
// are calibrated against the training set: the vote threshold is the 90th
// percentile of training anomaly scores.
type isolationForestDetector struct {
	minSamples int
	rng        *rand.Rand
	trees      []*isoNode
	sampleSize int
	threshold  float64
}

func newIsolationForestDetector(minSamples int) *isolationForestDetector {
	return &isolationForestDetector{
		minSamples: minSamples,
		rng:        rand.New(rand.NewSource(42)),
	}
}

func (d *isolationForestDetector) Name() string    { return "isolation_forest" }
func (d *isolationForestDetector) MinSamples() int { return d.minSamples }

func (d *isolationForestDetector) Fit(values []float64) error {
	if len(values) < d.minSamples {
		return errors.New("isolation forest: not enough training samples")
	}

	d.sampleSize = min(len(values), isoSampleSize)
	maxDepth := int(math.Ceil(math.Log2(float64(d.sampleSize))))
	d.trees = make([]*isoNode, isoTreeCount)
	for i := range d.trees {
		sample := d.subsample(values)
		d.trees[i] = d.buildTree(sample, 0, maxDepth)
	}

	scores := make([]float64, len(values))
	for i, v := range values {
		scores[i] = d.anomalyScore(v)
	}
	d.threshold = percentile(scores, isoThresholdPP)
	return nil
}

func (d *isolationForestDetector) Score(values []float64) (int, error) {
	if d.trees == nil {
		return 0, errors.New("isolation forest: not fitted")
	}
	latest := values[len(values)-1]
	if d.anomalyScore(latest) > d.threshold {
		return 1, nil
	}
	return 0, nil
}

func (d *isolationForestDetector) subsample(values []float64) []float64 {
	if len(values) <= isoSampleSize {
		out := make([]float64, len(values))
		copy(out, values)
		return out
	}
	out := make([]float64, isoSampleSize)
	for i := range out {
		out[i] = values[d.rng.Intn(len(values))]
	}
	return out
}

func (d *isolationForestDetector) buildTree(sample []float64, depth, maxDepth int) *isoNode {
	if depth >= maxDepth || len(sample) <= 1 {
		return &isoNode{size: len(sample)}
	}
	lo, hi := sample[0], sample[0]
	for _, v := range sample {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	if hi == lo {
		return &isoNode{size: len(sample)}
	}

	split := lo + d.rng.Float64()*(hi-lo)
	var left, right []float64
	for _, v := range sample {
		if v < split {
			left = append(left, v)
		} else {
			right = append(right, v)
		}
	}
	return &isoNode{
		split: split,
		left:  d.buildTree(left, depth+1, maxDepth),
		right: d.buildTree(right, depth+1, maxDepth),
		size:  len(sample),
	}
}

func pathLength(n *isoNode, v float64, depth float64) float64 {
	if n.left == nil {
		return depth + averagePathLength(n.size)
	}
	if v < n.split {
		return pathLength(n.left, v, depth+1)
	}
	return pathLength(n.right, v, depth+1)
}

// averagePathLength is c(n), the expected path length of an unsuccessful
// BST search over n samples.
func averagePathLength(n int) float64 {
	if n <= 1 {
		return 0
	}
	h := math.Log(float64(n-1)) + 0.5772156649
	return 2*h - 2*float64(n-1)/float64(n)
}

func (d *isolationForestDetector) anomalyScore(v float64) float64 {
	total := 0.0
	for _, tree := range d.trees {
		total += pathLength(tree, v, 0)
	}
	avg := total / float64(len(d.trees))
	c := averagePathLength(d.sampleSize)
	if c == 0 {
		return 0.5
	}
	return math.Pow(2, -avg/c)
}
