package pipeline

import (
	"context"
	"fmt"
	"time"

	"FlowSentry/internal/engine/features"
	"FlowSentry/internal/logging"
	"FlowSentry/internal/metrics"
	"FlowSentry/internal/model"
)

// StreamProcessor scores records one at a time against long-lived window
// state. For the same records and window length its cumulative output equals
// RunBatch's. It is not safe for concurrent use.
type StreamProcessor struct {
	pipeline *Pipeline
	inc      *features.Incremental
	adm      admission
}

// NewStream creates a stream processor with empty window state.
func (p *Pipeline) NewStream() *StreamProcessor {
	return &StreamProcessor{pipeline: p, inc: p.assembler.NewIncremental()}
}

// Process scores one record. A record that is invalid or older than the last
// accepted one is rejected with an error wrapping ErrSkipped and leaves the
// window state untouched.
func (s *StreamProcessor) Process(ctx context.Context, r *model.FlowRecord) (dets []model.Detection, err error) {
	start := time.Now()
	if cause, err := s.adm.check(r); err != nil {
		metrics.RecordSkipped(ModeStream, cause)
		return nil, fmt.Errorf("%w: %v", ErrSkipped, err)
	}

	defer func() {
		if rec := recover(); rec != nil {
			metrics.RecordSkipped(ModeStream, "panic")
			logging.Error().Str("component", "stream").Int64("row_id", r.RowID).
				Interface("panic", rec).Msg("record processing panicked")
			dets, err = nil, fmt.Errorf("%w: row %d: %v", ErrSkipped, r.RowID, rec)
		}
	}()

	v := s.inc.Next(r)
	s.adm.accept(r)

	var probs []float64
	if s.pipeline.classifier != nil {
		single := &model.FeatureMatrix{Schema: v.Schema, RowIDs: []int64{v.RowID}, Rows: [][]float64{v.Values}}
		if rows := s.pipeline.predict(ctx, single); rows != nil {
			probs = rows[0]
		}
	}
	dets = s.pipeline.fuse(v, probs)

	metrics.RecordProcessed(ModeStream)
	metrics.ObserveRecordLatency(time.Since(start))
	return dets, nil
}

// WindowSize reports the active hosts and retained events of the window state.
func (s *StreamProcessor) WindowSize() (hosts, events int) {
	t := s.inc.Tracker()
	return t.ActiveHosts(), t.Events()
}

// StreamState is the resumable state of a StreamProcessor.
type StreamState struct {
	WindowMode string
	Features   features.IncrementalState
	LastTs     time.Time
	Started    bool
}

// State copies the processor state. Together with RestoreStream it lets a
// restarted process continue a stream as if it had never stopped.
func (s *StreamProcessor) State() StreamState {
	return StreamState{
		WindowMode: s.pipeline.assembler.Mode().String(),
		Features:   s.inc.State(),
		LastTs:     s.adm.last,
		Started:    s.adm.started,
	}
}

// RestoreStream creates a stream processor resuming from st. It fails when st
// was taken with a different window length or mode.
func (p *Pipeline) RestoreStream(st StreamState) (*StreamProcessor, error) {
	if mode := p.assembler.Mode().String(); st.WindowMode != mode {
		return nil, fmt.Errorf("stream state has window mode %s, pipeline uses %s", st.WindowMode, mode)
	}
	inc, err := p.assembler.RestoreIncremental(st.Features)
	if err != nil {
		return nil, err
	}
	return &StreamProcessor{
		pipeline: p,
		inc:      inc,
		adm:      admission{last: st.LastTs, started: st.Started},
	}, nil
}
