package classifier

import (
	"context"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"
)

const forestBundle = `
feature_columns: [unique_dst_ports_window, bytes]
classes: [benign, port_scan]
window_seconds: 30
model:
  type: forest
  trees:
    - children_left:  [1, -1, -1]
      children_right: [2, -1, -1]
      feature:        [0, -2, -2]
      threshold:      [10.5, -2, -2]
      value:          [[10, 10], [9, 1], [0, 4]]
    - children_left:  [-1]
      children_right: [-1]
      feature:        [-2]
      threshold:      [-2]
      value:          [[1, 1]]
`

func TestLoadBundle(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bundle.yaml")
	if err := os.WriteFile(path, []byte(forestBundle), 0o644); err != nil {
		t.Fatal(err)
	}
	b, err := LoadBundle(path)
	if err != nil {
		t.Fatalf("LoadBundle() error = %v", err)
	}
	if b.Window() != 30 || len(b.FeatureColumns) != 2 || len(b.Model.Trees) != 2 {
		t.Errorf("unexpected bundle %+v", b)
	}
}

func TestParseBundle_JSONAndDefaults(t *testing.T) {
	b, err := ParseBundle([]byte(`{"classes": ["a", "b"], "model": {"type": "linear", "weights": [[1], [0]], "bias": [0, 0]}}`))
	if err != nil {
		t.Fatalf("ParseBundle() error = %v", err)
	}
	if b.Window() != DefaultWindowSeconds {
		t.Errorf("Window() = %d, want %d", b.Window(), DefaultWindowSeconds)
	}
	if b.FeatureColumns != nil {
		t.Errorf("feature columns = %v, want nil", b.FeatureColumns)
	}
}

func TestParseBundle_Invalid(t *testing.T) {
	tests := map[string]string{
		"unknown type":  "model: {type: svm}",
		"empty forest":  "model: {type: forest}",
		"ragged tree":   "model: {type: forest, trees: [{children_left: [1, -1], children_right: [2], feature: [0], threshold: [1], value: [[1]]}]}",
		"linear bias":   "model: {type: linear, weights: [[1]], bias: []}",
		"remote no url": "model: {type: remote}",
		"neg window":    "window_seconds: -1\nmodel: {type: remote, url: 'http://x'}",
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := ParseBundle([]byte(content)); err == nil {
				t.Error("expected error")
			}
		})
	}
	_, err := ParseBundle([]byte("model: {type: svm}"))
	if !errors.Is(err, ErrUnknownModelType) {
		t.Errorf("err = %v, want ErrUnknownModelType", err)
	}
}

func TestForestPredict(t *testing.T) {
	b, err := ParseBundle([]byte(forestBundle))
	if err != nil {
		t.Fatal(err)
	}
	c, err := New(b, "", RemoteOptions{})
	if err != nil {
		t.Fatal(err)
	}
	probs, err := Predict(context.Background(), c, b.FeatureColumns, [][]float64{{3, 100}, {25, 100}})
	if err != nil {
		t.Fatalf("Predict() error = %v", err)
	}
	want := [][]float64{{(0.9 + 0.5) / 2, (0.1 + 0.5) / 2}, {(0 + 0.5) / 2, (1 + 0.5) / 2}}
	for r := range want {
		for c := range want[r] {
			if math.Abs(probs[r][c]-want[r][c]) > 1e-12 {
				t.Errorf("probs[%d][%d] = %v, want %v", r, c, probs[r][c], want[r][c])
			}
		}
	}
}

func TestForestPredict_TooFewColumns(t *testing.T) {
	b, _ := ParseBundle([]byte(forestBundle))
	c, _ := New(b, "", RemoteOptions{})
	_, err := Predict(context.Background(), c, []string{}, [][]float64{{}})
	if !errors.Is(err, ErrShapeMismatch) {
		t.Errorf("err = %v, want ErrShapeMismatch", err)
	}
}

func TestLinearPredict(t *testing.T) {
	l := NewLinear([][]float64{{1, 0}, {0, 1}}, []float64{0, 0}, []string{"a", "b"})
	probs, err := Predict(context.Background(), l, []string{"x", "y"}, [][]float64{{0, 0}, {2, 0}})
	if err != nil {
		t.Fatal(err)
	}
	if probs[0][0] != 0.5 || probs[0][1] != 0.5 {
		t.Errorf("equal logits: got %v", probs[0])
	}
	wantA := 1 / (1 + math.Exp(-2))
	if math.Abs(probs[1][0]-wantA) > 1e-12 {
		t.Errorf("p(a) = %v, want %v", probs[1][0], wantA)
	}

	if _, err := Predict(context.Background(), l, []string{"x"}, [][]float64{{1}}); !errors.Is(err, ErrShapeMismatch) {
		t.Errorf("column mismatch: err = %v, want ErrShapeMismatch", err)
	}
}

type stubClassifier struct {
	probs   [][]float64
	classes []string
	panics  bool
}

func (s stubClassifier) PredictProba(context.Context, []string, [][]float64) ([][]float64, error) {
	if s.panics {
		panic("index out of range")
	}
	return s.probs, nil
}

func (s stubClassifier) Classes() []string { return s.classes }

func TestPredict_Guards(t *testing.T) {
	rows := [][]float64{{1}, {2}}
	tests := map[string]stubClassifier{
		"row count":   {probs: [][]float64{{0.5, 0.5}}, classes: []string{"a", "b"}},
		"class width": {probs: [][]float64{{1}, {1}}, classes: []string{"a", "b"}},
		"ragged":      {probs: [][]float64{{0.5, 0.5}, {1}}},
	}
	for name, c := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := Predict(context.Background(), c, []string{"x"}, rows); !errors.Is(err, ErrShapeMismatch) {
				t.Errorf("err = %v, want ErrShapeMismatch", err)
			}
		})
	}
	if _, err := Predict(context.Background(), stubClassifier{panics: true}, []string{"x"}, rows); err == nil {
		t.Error("a panicking classifier must surface as an error")
	}
}

func TestRemotePredict(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req remoteRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		out := remoteResponse{}
		for range req.Rows {
			out.Probabilities = append(out.Probabilities, []float64{0.2, 0.8})
		}
		_ = json.NewEncoder(w).Encode(out)
	}))
	defer srv.Close()

	r := NewRemote(srv.URL, []string{"benign", "dos"}, RemoteOptions{Timeout: time.Second})
	probs, err := Predict(context.Background(), r, []string{"a"}, [][]float64{{1}, {2}})
	if err != nil {
		t.Fatalf("Predict() error = %v", err)
	}
	if len(probs) != 2 || probs[1][1] != 0.8 {
		t.Errorf("probs = %v", probs)
	}
}

func TestRemoteBreakerOpens(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	r := NewRemote(srv.URL, []string{"a", "b"}, RemoteOptions{FailureThreshold: 2, OpenTimeout: time.Minute})
	for i := 0; i < 2; i++ {
		if _, err := r.PredictProba(context.Background(), []string{"x"}, [][]float64{{1}}); err == nil {
			t.Fatal("expected error from failing scorer")
		}
	}
	if r.State() != gobreaker.StateOpen {
		t.Fatalf("breaker state = %v, want open", r.State())
	}
	_, err := r.PredictProba(context.Background(), []string{"x"}, [][]float64{{1}})
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Errorf("err = %v, want ErrOpenState", err)
	}
	if calls.Load() != 2 {
		t.Errorf("server saw %d calls, want 2", calls.Load())
	}
}

func TestShippedBundleLoads(t *testing.T) {
	b, err := LoadBundle(filepath.Join("..", "..", "configs", "model.yaml"))
	if err != nil {
		t.Fatalf("LoadBundle() error = %v", err)
	}
	c, err := New(b, "", RemoteOptions{})
	if err != nil {
		t.Fatal(err)
	}
	row := make([]float64, len(b.FeatureColumns))
	row[4] = 40 // unique_dst_ports_window
	probs, err := Predict(context.Background(), c, b.FeatureColumns, [][]float64{row})
	if err != nil {
		t.Fatal(err)
	}
	if probs[0][1] <= probs[0][0] {
		t.Errorf("expected port_scan to dominate for a wide port sweep, got %v", probs[0])
	}
}
