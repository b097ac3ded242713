// Package fusion merges heuristic and classifier detections for one flow.
package fusion

import (
	"math"
	"strconv"

	"FlowSentry/internal/model"
)

// MLScoreFloor is the minimum top-class probability for an ML detection.
const MLScoreFloor = 0.5

// MLDetection builds the classifier detection of one flow from its probability
// row. It reports false when the row is unusable or the top probability is
// below MLScoreFloor. Without class labels the class index is used as label.
func MLDetection(rowID int64, probs []float64, classes []string) (model.Detection, bool) {
	if len(probs) == 0 {
		return model.Detection{}, false
	}
	top := 0
	for i, p := range probs {
		if math.IsNaN(p) {
			return model.Detection{}, false
		}
		if p > probs[top] {
			top = i
		}
	}
	topProb := probs[top]
	if topProb < MLScoreFloor {
		return model.Detection{}, false
	}

	label := strconv.Itoa(top)
	if top < len(classes) {
		label = classes[top]
	}
	explain := make([]float64, len(probs))
	copy(explain, probs)
	return model.Detection{
		RowID:      rowID,
		Reason:     model.ReasonML,
		Score:      math.Min(1.0, topProb),
		ClassGuess: label,
		Explain:    map[string]any{"ml_probabilities": explain},
	}, true
}

// Fuse appends the ML detection, if any, after the heuristic detections of
// the same flow. probs is nil when the classifier failed for this row.
func Fuse(rowID int64, heuristics []model.Detection, probs []float64, classes []string) []model.Detection {
	out := make([]model.Detection, 0, len(heuristics)+1)
	out = append(out, heuristics...)
	if d, ok := MLDetection(rowID, probs, classes); ok {
		out = append(out, d)
	}
	return out
}
