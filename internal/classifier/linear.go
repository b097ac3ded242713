package classifier

import (
	"context"
	"fmt"
	"math"
)

// Linear is a multinomial logistic regression: softmax(W·x + b).
type Linear struct {
	weights [][]float64
	bias    []float64
	classes []string
}

// NewLinear builds a linear classifier with one weight row per class.
func NewLinear(weights [][]float64, bias []float64, classes []string) *Linear {
	return &Linear{weights: weights, bias: bias, classes: classes}
}

// Classes returns the class labels.
func (l *Linear) Classes() []string {
	return l.classes
}

// PredictProba implements model.Classifier.
func (l *Linear) PredictProba(ctx context.Context, columns []string, rows [][]float64) ([][]float64, error) {
	for c, w := range l.weights {
		if len(w) != len(columns) {
			return nil, fmt.Errorf("%w: class %d has %d weights for %d columns", ErrShapeMismatch, c, len(w), len(columns))
		}
	}
	out := make([][]float64, len(rows))
	for r, x := range rows {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if len(x) != len(columns) {
			return nil, fmt.Errorf("%w: row %d has %d values for %d columns", ErrShapeMismatch, r, len(x), len(columns))
		}
		logits := make([]float64, len(l.weights))
		maxLogit := math.Inf(-1)
		for c, w := range l.weights {
			z := l.bias[c]
			for i, v := range x {
				z += w[i] * v
			}
			logits[c] = z
			maxLogit = math.Max(maxLogit, z)
		}
		var sum float64
		for c, z := range logits {
			logits[c] = math.Exp(z - maxLogit)
			sum += logits[c]
		}
		for c := range logits {
			logits[c] /= sum
		}
		out[r] = logits
	}
	return out, nil
}
