package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"FlowSentry/internal/config"
	"FlowSentry/internal/model"
)

const setupBundle = `
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
`

func TestFromConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.yaml")
	if err := os.WriteFile(path, []byte(setupBundle), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := config.Default()
	p, err := FromConfig(cfg)
	if err != nil {
		t.Fatalf("FromConfig() error = %v", err)
	}
	if p.WindowSeconds() != 60 || p.classifier != nil {
		t.Errorf("defaults: window %d classifier %v", p.WindowSeconds(), p.classifier)
	}

	cfg.Model.BundlePath = path
	cfg.Engine.WindowMode = "enabled"
	p, err = FromConfig(cfg)
	if err != nil {
		t.Fatalf("FromConfig() error = %v", err)
	}
	if p.WindowSeconds() != 30 || p.classifier == nil || len(p.columns) != 2 {
		t.Errorf("bundle: window %d classifier %v columns %v", p.WindowSeconds(), p.classifier, p.columns)
	}

	// From the eleventh distinct port on, the forest lands in its port_scan leaf.
	var records []model.FlowRecord
	for i := 0; i < 12; i++ {
		records = append(records, rec(int64(i+1), time.Duration(i*i)*100*time.Millisecond, "A", "B", 1+i, 0))
	}
	var scans []int64
	for _, d := range p.RunBatch(context.Background(), records) {
		if d.Reason == model.ReasonML && d.ClassGuess == "port_scan" {
			scans = append(scans, d.RowID)
		}
	}
	if len(scans) != 2 || scans[0] != 11 || scans[1] != 12 {
		t.Errorf("port_scan ML rows = %v, want [11 12]", scans)
	}

	cfg.Engine.FeatureOnly = true
	p, err = FromConfig(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if p.WindowSeconds() != 0 {
		t.Errorf("feature only: window %d, want 0", p.WindowSeconds())
	}
}

func TestFromConfig_Errors(t *testing.T) {
	cfg := config.Default()
	cfg.Engine.WindowMode = "sometimes"
	if _, err := FromConfig(cfg); err == nil {
		t.Error("expected error for unknown window mode")
	}

	cfg = config.Default()
	cfg.Model.BundlePath = filepath.Join(t.TempDir(), "missing.yaml")
	if _, err := FromConfig(cfg); err == nil {
		t.Error("expected error for missing bundle")
	}

	cfg = config.Default()
	cfg.Model.RemoteTimeout = "fast"
	if _, err := FromConfig(cfg); err == nil {
		t.Error("expected error for bad remote timeout")
	}
}
