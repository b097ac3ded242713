// Package pipeline runs flow records through feature assembly, the heuristic
// rules, the classifier and detection fusion, either as one batch or one
// record at a time.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"FlowSentry/internal/classifier"
	"FlowSentry/internal/engine/features"
	"FlowSentry/internal/engine/fusion"
	"FlowSentry/internal/engine/heuristic"
	"FlowSentry/internal/logging"
	"FlowSentry/internal/metrics"
	"FlowSentry/internal/model"
)

// Modes used as metric labels.
const (
	ModeBatch  = "batch"
	ModeStream = "stream"
)

// ErrSkipped marks a record that was rejected without touching window state.
var ErrSkipped = errors.New("record skipped")

// Options configures a Pipeline.
type Options struct {
	WindowSeconds int
	WindowMode    features.WindowMode

	// Classifier is optional. Without it only heuristic detections are emitted.
	Classifier model.Classifier

	// FeatureColumns is the column contract of the classifier. Rows are
	// aligned to it before scoring; nil keeps the assembled columns.
	FeatureColumns []string
}

// Pipeline holds the immutable detection setup shared by batch runs and
// stream processors.
type Pipeline struct {
	assembler  *features.Assembler
	classifier model.Classifier
	columns    []string
}

// New creates a pipeline.
func New(opts Options) *Pipeline {
	var cols []string
	if len(opts.FeatureColumns) > 0 {
		cols = opts.FeatureColumns
	}
	return &Pipeline{
		assembler:  features.NewAssembler(opts.WindowSeconds, opts.WindowMode),
		classifier: opts.Classifier,
		columns:    cols,
	}
}

// WindowSeconds returns the trailing window length in use.
func (p *Pipeline) WindowSeconds() int {
	return p.assembler.WindowSeconds()
}

// admission tracks the last accepted timestamp. Both modes accept exactly the
// same records: valid ones that do not go back in time.
type admission struct {
	last    time.Time
	started bool
}

func (a *admission) check(r *model.FlowRecord) (string, error) {
	if err := r.Validate(); err != nil {
		return "invalid", err
	}
	if a.started && r.Ts.Before(a.last) {
		return "out_of_order", fmt.Errorf("row %d: ts %s is before %s", r.RowID, r.Ts.Format(time.RFC3339Nano), a.last.Format(time.RFC3339Nano))
	}
	return "", nil
}

func (a *admission) accept(r *model.FlowRecord) {
	a.last = r.Ts
	a.started = true
}

// RunBatch scores a whole record set in one pass. Records are expected in
// non-decreasing ts order; invalid and out-of-order records are skipped and
// logged. A classifier failure only suppresses ML detections.
func (p *Pipeline) RunBatch(ctx context.Context, records []model.FlowRecord) []model.Detection {
	log := logging.With().Str("component", "pipeline").Str("mode", ModeBatch).Logger()

	accepted := make([]model.FlowRecord, 0, len(records))
	var adm admission
	for i := range records {
		cause, err := adm.check(&records[i])
		if err != nil {
			metrics.RecordSkipped(ModeBatch, cause)
			log.Warn().Err(err).Int64("row_id", records[i].RowID).Msg("skipping record")
			continue
		}
		adm.accept(&records[i])
		accepted = append(accepted, records[i])
	}
	if len(accepted) == 0 {
		return nil
	}

	matrix := p.assembler.Assemble(accepted)
	probs := p.predict(ctx, matrix)

	var dets []model.Detection
	for i := 0; i < matrix.Len(); i++ {
		var row []float64
		if probs != nil {
			row = probs[i]
		}
		dets = append(dets, p.fuse(matrix.Row(i), row)...)
		metrics.RecordProcessed(ModeBatch)
	}
	log.Info().
		Int("records", len(records)).
		Int("scored", len(accepted)).
		Int("detections", len(dets)).
		Bool("windowing", p.assembler.WindowingEnabled(accepted)).
		Msg("batch run completed")
	return dets
}

func (p *Pipeline) predict(ctx context.Context, matrix *model.FeatureMatrix) [][]float64 {
	if p.classifier == nil {
		return nil
	}
	cols, rows := features.AlignMatrix(matrix, p.columns)
	probs, err := classifier.Predict(ctx, p.classifier, cols, rows)
	if err != nil {
		metrics.RecordClassifierFailure()
		logging.Warn().Err(err).Str("component", "pipeline").Int("rows", len(rows)).
			Msg("classifier failed, emitting heuristic detections only")
		return nil
	}
	return probs
}

func (p *Pipeline) fuse(v model.FeatureVector, probs []float64) []model.Detection {
	var classes []string
	if p.classifier != nil {
		classes = p.classifier.Classes()
	}
	dets := fusion.Fuse(v.RowID, heuristic.Evaluate(v), probs, classes)
	for _, d := range dets {
		metrics.RecordDetection(d.Reason, d.ClassGuess)
	}
	return dets
}
