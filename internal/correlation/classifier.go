package correlation

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
)

// Classifier is a narrow façade over an external model artifact: New
// loads it, Infer scores a feature vector. No third-party ML runtime in
// the surrounding ecosystem ships a Go inference binding for this shape
// of model, so the artifact format here is a small JSON-encoded linear
// model (weights + bias per output unit) evaluated with the standard
// library's math package, rather than fabricating a binding to a
// non-existent dependency.
type Classifier struct {
	weights [][]float64 // [output_dim][FeatureCount]
	bias    []float64   // [output_dim]
}

type modelArtifact struct {
	FeatureCount int         `json:"feature_count"`
	Weights      [][]float64 `json:"weights"`
	Bias         []float64   `json:"bias"`
}

// New loads a classifier artifact from path. Returns an error if the file
// is missing, malformed, or its feature_count does not match
// FeatureCount — callers are expected to treat any error as "no
// classifier available" and proceed with the deterministic fallback.
func New(path string) (*Classifier, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("correlation.New: read %q: %w", path, err)
	}

	var artifact modelArtifact
	if err := json.Unmarshal(data, &artifact); err != nil {
		return nil, fmt.Errorf("correlation.New: parse %q: %w", path, err)
	}
	if artifact.FeatureCount != FeatureCount {
		return nil, fmt.Errorf("correlation.New: model expects %d features, engine provides %d",
			artifact.FeatureCount, FeatureCount)
	}
	if len(artifact.Weights) == 0 {
		return nil, fmt.Errorf("correlation.New: model has no output units")
	}
	for i, row := range artifact.Weights {
		if len(row) != FeatureCount {
			return nil, fmt.Errorf("correlation.New: weights row %d has %d entries, want %d", i, len(row), FeatureCount)
		}
	}
	if len(artifact.Bias) != len(artifact.Weights) {
		return nil, fmt.Errorf("correlation.New: bias length %d does not match %d output units", len(artifact.Bias), len(artifact.Weights))
	}

	return &Classifier{weights: artifact.Weights, bias: artifact.Bias}, nil
}

// Infer runs the model forward over features (length FeatureCount) and
// returns a score in [0,1]. If the model has two or more output units,
// index 1 (the positive-class logit) is used; otherwise index 0.
// Each output unit is passed through a logistic squash before selection,
// matching a binary sigmoid classifier head.
func (c *Classifier) Infer(features [FeatureCount]float64) (float64, error) {
	outputs := make([]float64, len(c.weights))
	for i, row := range c.weights {
		var sum float64
		for j, w := range row {
			sum += w * features[j]
		}
		sum += c.bias[i]
		outputs[i] = sigmoid(sum)
	}

	var score float64
	if len(outputs) >= 2 {
		score = outputs[1]
	} else {
		score = outputs[0]
	}
	return clamp01(score), nil
}

func sigmoid(x float64) float64 {
	return 1.0 / (1.0 + math.Exp(-x))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
