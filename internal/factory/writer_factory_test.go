package factory

import (
	"context"
	"errors"
	"strings"
	"testing"

	"FlowSentry/internal/config"
	"FlowSentry/internal/model"
)

type stubWriter struct{ closed *int }

func (s stubWriter) Write(context.Context, []model.FlowDetections) error { return nil }
func (s stubWriter) Close() error {
	*s.closed++
	return nil
}

func TestCreate(t *testing.T) {
	closed := 0
	RegisterWriter("test-ok", func(*config.Config, string) (model.Writer, error) {
		return stubWriter{closed: &closed}, nil
	})
	RegisterWriter("test-fail", func(*config.Config, string) (model.Writer, error) {
		return nil, errors.New("boom")
	})

	ws, err := Create(config.Default(), "run", "test-ok")
	if err != nil || len(ws) != 1 {
		t.Fatalf("Create() = %v, %v", ws, err)
	}

	if _, err := Create(config.Default(), "run", "test-ok", "test-fail"); err == nil {
		t.Fatal("expected error from failing factory")
	}
	if closed != 1 {
		t.Errorf("expected the created writer to be closed on failure, closed %d", closed)
	}

	if _, err := Create(config.Default(), "run", "nope"); err == nil || !strings.Contains(err.Error(), "unknown writer type") {
		t.Errorf("expected unknown writer error, got %v", err)
	}
}

func TestRegisterDuplicatePanics(t *testing.T) {
	RegisterWriter("test-dup", func(*config.Config, string) (model.Writer, error) { return nil, nil })
	defer func() {
		if recover() == nil {
			t.Error("expected panic on duplicate registration")
		}
	}()
	RegisterWriter("test-dup", func(*config.Config, string) (model.Writer, error) { return nil, nil })
}

func TestNames(t *testing.T) {
	cfg := config.Default()
	if got := Names(cfg); len(got) != 1 || got[0] != "json" {
		t.Errorf("Names() = %v", got)
	}
	cfg.ClickHouse.Enabled = true
	cfg.Output.Format = "text"
	if got := Names(cfg); len(got) != 2 || got[0] != "text" || got[1] != "clickhouse" {
		t.Errorf("Names() = %v", got)
	}
}
