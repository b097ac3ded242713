package writer

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"FlowSentry/internal/model"
)

// TextWriter writes one human-readable line per detection.
type TextWriter struct {
	mu     sync.Mutex
	out    *bufio.Writer
	closer io.Closer
}

// NewTextWriter writes to w. closer may be nil when w must stay open.
func NewTextWriter(w io.Writer, closer io.Closer) *TextWriter {
	return &TextWriter{out: bufio.NewWriter(w), closer: closer}
}

// Write implements model.Writer.
func (w *TextWriter) Write(ctx context.Context, flows []model.FlowDetections) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, f := range flows {
		for _, d := range f.Detections {
			if _, err := w.out.WriteString(FormatLine(&f.Flow, &d) + "\n"); err != nil {
				return fmt.Errorf("failed to write detection: %w", err)
			}
		}
	}
	return w.out.Flush()
}

// Close flushes and closes the destination.
func (w *TextWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.out.Flush(); err != nil {
		return err
	}
	if w.closer != nil {
		return w.closer.Close()
	}
	return nil
}

// FormatLine renders a detection with its flow endpoints, when known.
func FormatLine(flow *model.FlowRecord, d *model.Detection) string {
	var b strings.Builder
	fmt.Fprintf(&b, "row=%d reason=%s class=%s score=%.3f", d.RowID, d.Reason, d.ClassGuess, d.Score)
	if flow.SrcIP != "" || flow.DstIP != "" {
		fmt.Fprintf(&b, " flow=%s->%s:%d", flow.SrcIP, flow.DstIP, flow.DstPort)
	}
	keys := make([]string, 0, len(d.Explain))
	for k := range d.Explain {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, d.Explain[k])
	}
	return b.String()
}
