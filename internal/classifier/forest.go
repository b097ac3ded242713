package classifier

import (
	"context"
	"fmt"
)

// Forest is a random-forest style ensemble of decision trees. The class
// probability of a row is the mean of the normalized leaf distributions.
type Forest struct {
	trees      []Tree
	classes    []string
	numClasses int
	minColumns int
}

// NewForest builds a forest classifier from validated trees.
func NewForest(trees []Tree, classes []string) *Forest {
	f := &Forest{trees: trees, classes: classes, numClasses: len(classes)}
	for _, t := range trees {
		for i, feat := range t.Feature {
			if t.ChildrenLeft[i] != -1 && feat+1 > f.minColumns {
				f.minColumns = feat + 1
			}
			if t.ChildrenLeft[i] == -1 && f.numClasses == 0 {
				f.numClasses = len(t.Value[i])
			}
		}
	}
	return f
}

// Classes returns the class labels.
func (f *Forest) Classes() []string {
	return f.classes
}

// PredictProba implements model.Classifier. Tree feature indices address
// positions in columns.
func (f *Forest) PredictProba(ctx context.Context, columns []string, rows [][]float64) ([][]float64, error) {
	if len(columns) < f.minColumns {
		return nil, fmt.Errorf("%w: forest reads feature %d of %d columns", ErrShapeMismatch, f.minColumns-1, len(columns))
	}
	out := make([][]float64, len(rows))
	for r, x := range rows {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if len(x) != len(columns) {
			return nil, fmt.Errorf("%w: row %d has %d values for %d columns", ErrShapeMismatch, r, len(x), len(columns))
		}
		probs := make([]float64, f.numClasses)
		for i := range f.trees {
			leaf := f.trees[i].Value[f.trees[i].leaf(x)]
			if len(leaf) != f.numClasses {
				return nil, fmt.Errorf("%w: leaf has %d classes, want %d", ErrShapeMismatch, len(leaf), f.numClasses)
			}
			var sum float64
			for _, v := range leaf {
				sum += v
			}
			if sum <= 0 {
				continue
			}
			for c, v := range leaf {
				probs[c] += v / sum
			}
		}
		for c := range probs {
			probs[c] /= float64(len(f.trees))
		}
		out[r] = probs
	}
	return out, nil
}

// leaf walks the tree from the root and returns the index of the reached leaf.
func (t *Tree) leaf(x []float64) int {
	node := 0
	for t.ChildrenLeft[node] != -1 {
		if x[t.Feature[node]] <= t.Threshold[node] {
			node = t.ChildrenLeft[node]
		} else {
			node = t.ChildrenRight[node]
		}
	}
	return node
}
