package model

import "context"

// Classifier is a pre-trained probabilistic classifier.
type Classifier interface {
	// PredictProba returns one probability row per input row. columns names the
	// features of each input row in order.
	PredictProba(ctx context.Context, columns []string, rows [][]float64) ([][]float64, error)

	// Classes maps a probability index to its class label.
	Classes() []string
}
