// Package classifier loads model bundles and adapts them to model.Classifier.
package classifier

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// DefaultWindowSeconds applies when a bundle does not record its window length.
const DefaultWindowSeconds = 60

// Model types understood by LoadBundle.
const (
	TypeForest = "forest"
	TypeLinear = "linear"
	TypeRemote = "remote"
)

var (
	// ErrUnknownModelType is returned for a bundle whose model.type is not supported.
	ErrUnknownModelType = errors.New("unknown model type")

	// ErrShapeMismatch is returned when a classifier's input or output does not
	// match the expected rows, columns or classes.
	ErrShapeMismatch = errors.New("classifier shape mismatch")
)

// Tree is one decision tree in the scikit-learn array layout. Node i is a leaf
// when ChildrenLeft[i] is -1; otherwise rows go left when
// x[Feature[i]] <= Threshold[i].
type Tree struct {
	ChildrenLeft  []int       `yaml:"children_left"`
	ChildrenRight []int       `yaml:"children_right"`
	Feature       []int       `yaml:"feature"`
	Threshold     []float64   `yaml:"threshold"`
	Value         [][]float64 `yaml:"value"`
}

// ModelSpec describes the trained classifier inside a bundle.
type ModelSpec struct {
	Type string `yaml:"type"`

	// forest
	Trees []Tree `yaml:"trees"`

	// linear
	Weights [][]float64 `yaml:"weights"`
	Bias    []float64   `yaml:"bias"`

	// remote
	URL string `yaml:"url"`
}

// Bundle is the metadata a trained model ships with: the ordered feature
// columns it expects, its label encoder and the window length it was trained
// with.
type Bundle struct {
	FeatureColumns []string  `yaml:"feature_columns"`
	Classes        []string  `yaml:"classes"`
	WindowSeconds  *int      `yaml:"window_seconds"`
	Model          ModelSpec `yaml:"model"`
}

// LoadBundle reads a YAML (or JSON) bundle file and validates its model.
func LoadBundle(path string) (*Bundle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read model bundle: %w", err)
	}
	return ParseBundle(data)
}

// ParseBundle decodes and validates bundle bytes.
func ParseBundle(data []byte) (*Bundle, error) {
	var b Bundle
	if err := yaml.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("failed to unmarshal model bundle: %w", err)
	}
	if err := b.validate(); err != nil {
		return nil, err
	}
	return &b, nil
}

// Window returns the bundle's window length, DefaultWindowSeconds when unset.
func (b *Bundle) Window() int {
	if b.WindowSeconds == nil {
		return DefaultWindowSeconds
	}
	return *b.WindowSeconds
}

func (b *Bundle) validate() error {
	if b.WindowSeconds != nil && *b.WindowSeconds < 0 {
		return fmt.Errorf("window_seconds must be non-negative, got %d", *b.WindowSeconds)
	}
	switch b.Model.Type {
	case TypeForest:
		if len(b.Model.Trees) == 0 {
			return fmt.Errorf("forest model has no trees")
		}
		for i := range b.Model.Trees {
			if err := b.Model.Trees[i].validate(len(b.Classes)); err != nil {
				return fmt.Errorf("tree %d: %w", i, err)
			}
		}
	case TypeLinear:
		if len(b.Model.Weights) == 0 || len(b.Model.Weights) != len(b.Model.Bias) {
			return fmt.Errorf("linear model needs one weight row and one bias per class")
		}
		if len(b.Classes) > 0 && len(b.Classes) != len(b.Model.Weights) {
			return fmt.Errorf("linear model has %d weight rows for %d classes", len(b.Model.Weights), len(b.Classes))
		}
	case TypeRemote:
		if b.Model.URL == "" {
			return fmt.Errorf("remote model needs a url")
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownModelType, b.Model.Type)
	}
	return nil
}

func (t *Tree) validate(numClasses int) error {
	n := len(t.ChildrenLeft)
	if n == 0 {
		return fmt.Errorf("empty tree")
	}
	if len(t.ChildrenRight) != n || len(t.Feature) != n || len(t.Threshold) != n || len(t.Value) != n {
		return fmt.Errorf("node arrays have different lengths")
	}
	for i := 0; i < n; i++ {
		if t.ChildrenLeft[i] == -1 {
			if numClasses > 0 && len(t.Value[i]) != numClasses {
				return fmt.Errorf("leaf %d has %d class counts, want %d", i, len(t.Value[i]), numClasses)
			}
			continue
		}
		l, r := t.ChildrenLeft[i], t.ChildrenRight[i]
		if l <= i || l >= n || r <= i || r >= n {
			return fmt.Errorf("node %d has invalid children %d, %d", i, l, r)
		}
		if t.Feature[i] < 0 {
			return fmt.Errorf("node %d has invalid feature %d", i, t.Feature[i])
		}
	}
	return nil
}
