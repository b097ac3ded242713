// Package writer persists detections to files and ClickHouse.
package writer

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/goccy/go-json"

	"FlowSentry/internal/model"
)

// JSONWriter writes detections as JSON. In array mode detections are kept
// until Close and written as one indented array; in lines mode every
// detection is written immediately as one JSON object per line.
type JSONWriter struct {
	mu     sync.Mutex
	out    *bufio.Writer
	closer io.Closer
	lines  bool
	buf    []model.Detection
	closed bool
}

// NewJSONWriter writes to w. closer may be nil when w must stay open.
func NewJSONWriter(w io.Writer, closer io.Closer, lines bool) *JSONWriter {
	return &JSONWriter{out: bufio.NewWriter(w), closer: closer, lines: lines}
}

// Write implements model.Writer.
func (w *JSONWriter) Write(ctx context.Context, flows []model.FlowDetections) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return fmt.Errorf("json writer is closed")
	}
	dets := model.Flatten(flows)
	if !w.lines {
		w.buf = append(w.buf, dets...)
		return nil
	}
	enc := json.NewEncoder(w.out)
	for i := range dets {
		if err := enc.Encode(&dets[i]); err != nil {
			return fmt.Errorf("failed to encode detection for row %d: %w", dets[i].RowID, err)
		}
	}
	return w.out.Flush()
}

// Close writes the buffered array, if any, and closes the destination.
func (w *JSONWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true

	if !w.lines {
		dets := w.buf
		if dets == nil {
			dets = []model.Detection{}
		}
		data, err := json.MarshalIndent(dets, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode detections: %w", err)
		}
		if _, err := w.out.Write(append(data, '\n')); err != nil {
			return fmt.Errorf("failed to write detections: %w", err)
		}
	}
	if err := w.out.Flush(); err != nil {
		return err
	}
	if w.closer != nil {
		return w.closer.Close()
	}
	return nil
}
