package writer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"FlowSentry/internal/config"
	"FlowSentry/internal/factory"
	"FlowSentry/internal/logging"
	"FlowSentry/internal/metrics"
	"FlowSentry/internal/model"
)

func init() {
	factory.RegisterWriter("json", func(cfg *config.Config, _ string) (model.Writer, error) {
		w, c, err := openOutput(cfg.Output.Path)
		if err != nil {
			return nil, err
		}
		return NewJSONWriter(w, c, false), nil
	})
	factory.RegisterWriter("jsonl", func(cfg *config.Config, _ string) (model.Writer, error) {
		w, c, err := openOutput(cfg.Output.Path)
		if err != nil {
			return nil, err
		}
		return NewJSONWriter(w, c, true), nil
	})
	factory.RegisterWriter("text", func(cfg *config.Config, _ string) (model.Writer, error) {
		w, c, err := openOutput(cfg.Output.Path)
		if err != nil {
			return nil, err
		}
		return NewTextWriter(w, c), nil
	})
	factory.RegisterWriter("clickhouse", func(cfg *config.Config, runID string) (model.Writer, error) {
		return NewClickHouseWriter(cfg.ClickHouse, runID)
	})
}

// openOutput opens path for writing, or stdout when path is empty or "-".
func openOutput(path string) (io.Writer, io.Closer, error) {
	if path == "" || path == "-" {
		return os.Stdout, nil, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create output file '%s': %w", path, err)
	}
	return f, f, nil
}

// Multi fans every write out to all writers. A failing writer does not stop
// the others; its error is logged, counted and returned joined.
type Multi struct {
	writers []named
}

type named struct {
	name string
	w    model.Writer
}

// NewMulti creates a Multi over writers, labelled by names for metrics.
func NewMulti(names []string, writers []model.Writer) *Multi {
	m := &Multi{}
	for i, w := range writers {
		name := fmt.Sprintf("writer%d", i)
		if i < len(names) {
			name = names[i]
		}
		m.writers = append(m.writers, named{name: name, w: w})
	}
	return m
}

// Write implements model.Writer.
func (m *Multi) Write(ctx context.Context, flows []model.FlowDetections) error {
	if len(flows) == 0 {
		return nil
	}
	var errs []error
	for _, n := range m.writers {
		if err := n.w.Write(ctx, flows); err != nil {
			logging.Error().Err(err).Str("writer", n.name).Msg("failed to write detections")
			metrics.RecordWriterError(n.name)
			errs = append(errs, fmt.Errorf("%s: %w", n.name, err))
		}
	}
	return errors.Join(errs...)
}

// Close closes every writer.
func (m *Multi) Close() error {
	var errs []error
	for _, n := range m.writers {
		if err := n.w.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", n.name, err))
		}
	}
	return errors.Join(errs...)
}
