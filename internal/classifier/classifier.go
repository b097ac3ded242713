package classifier

import (
	"context"
	"fmt"
	"math"

	"FlowSentry/internal/model"
)

// New builds the classifier described by the bundle. A non-empty remoteURL
// replaces the bundle's own model with a remote scorer using the bundle's
// class labels.
func New(b *Bundle, remoteURL string, opts RemoteOptions) (model.Classifier, error) {
	if remoteURL != "" {
		return NewRemote(remoteURL, b.Classes, opts), nil
	}
	switch b.Model.Type {
	case TypeForest:
		return NewForest(b.Model.Trees, b.Classes), nil
	case TypeLinear:
		return NewLinear(b.Model.Weights, b.Model.Bias, b.Classes), nil
	case TypeRemote:
		return NewRemote(b.Model.URL, b.Classes, opts), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownModelType, b.Model.Type)
	}
}

// Predict calls c and checks the shape of its answer. A panic inside the
// classifier is returned as an error. Every returned row has the same width,
// which matches the class count when c has labels.
func Predict(ctx context.Context, c model.Classifier, columns []string, rows [][]float64) (probs [][]float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			probs = nil
			err = fmt.Errorf("classifier panicked: %v", r)
		}
	}()

	probs, err = c.PredictProba(ctx, columns, rows)
	if err != nil {
		return nil, err
	}
	if len(probs) != len(rows) {
		return nil, fmt.Errorf("%w: %d probability rows for %d inputs", ErrShapeMismatch, len(probs), len(rows))
	}
	width := len(c.Classes())
	if width == 0 && len(probs) > 0 {
		width = len(probs[0])
	}
	for i, p := range probs {
		if len(p) != width || width == 0 {
			return nil, fmt.Errorf("%w: row %d has %d probabilities, want %d", ErrShapeMismatch, i, len(p), width)
		}
		for _, v := range p {
			if math.IsInf(v, 0) {
				return nil, fmt.Errorf("%w: row %d has an infinite probability", ErrShapeMismatch, i)
			}
		}
	}
	return probs, nil
}
