// Package manager drives a stream processor from a record channel and fans
// its detections out to writers, the detection subject and the alerter.
package manager

import (
	"context"
	"errors"
	"time"

	"FlowSentry/internal/engine/pipeline"
	"FlowSentry/internal/logging"
	"FlowSentry/internal/metrics"
	"FlowSentry/internal/model"
)

// Defaults applied to zero Options fields.
const (
	DefaultBufferSize    = 4096
	DefaultFlushInterval = time.Second
	DefaultFlushSize     = 512
)

// DetectionPublisher publishes detections as they are produced.
type DetectionPublisher interface {
	PublishDetections(subject string, dets []model.Detection) error
}

// Observer receives every flushed batch of detections.
type Observer interface {
	Observe(flows []model.FlowDetections)
}

// Options configures a Manager. Writer, Publisher and Observer are optional.
type Options struct {
	Stream    *pipeline.StreamProcessor
	Writer    model.Writer
	Publisher DetectionPublisher
	Subject   string
	Observer  Observer

	BufferSize    int
	FlushInterval time.Duration
	FlushSize     int
}

// Manager owns the window state of a stream. Records are submitted from any
// goroutine and processed by the single goroutine running Serve.
type Manager struct {
	opts    Options
	records chan model.FlowRecord
	pending []model.FlowDetections
}

// NewManager creates a new Manager.
func NewManager(opts Options) (*Manager, error) {
	if opts.Stream == nil {
		return nil, errors.New("manager requires a stream processor")
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = DefaultBufferSize
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = DefaultFlushInterval
	}
	if opts.FlushSize <= 0 {
		opts.FlushSize = DefaultFlushSize
	}
	return &Manager{opts: opts, records: make(chan model.FlowRecord, opts.BufferSize)}, nil
}

// Submit queues a record for processing. It blocks while the buffer is full
// and reports false if ctx ends first.
func (m *Manager) Submit(ctx context.Context, r model.FlowRecord) bool {
	select {
	case m.records <- r:
		return true
	case <-ctx.Done():
		return false
	}
}

// Serve processes submitted records until ctx is done. Records still queued
// at that point are processed and every pending detection is flushed before
// it returns. The window state survives a restart of Serve.
func (m *Manager) Serve(ctx context.Context) error {
	logging.Info().Str("component", "manager").Int("buffer", cap(m.records)).
		Dur("flush_interval", m.opts.FlushInterval).Msg("manager started")

	ticker := time.NewTicker(m.opts.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case r := <-m.records:
			m.process(ctx, &r)
			if len(m.pending) >= m.opts.FlushSize {
				m.flush(ctx)
			}
		case <-ticker.C:
			m.flush(ctx)
		case <-ctx.Done():
			m.drain()
			return ctx.Err()
		}
	}
}

// String names the service for the supervisor.
func (m *Manager) String() string {
	return "manager"
}

func (m *Manager) drain() {
	ctx := context.Background()
	for {
		select {
		case r := <-m.records:
			m.process(ctx, &r)
		default:
			m.flush(ctx)
			logging.Info().Str("component", "manager").Msg("manager drained")
			return
		}
	}
}

func (m *Manager) process(ctx context.Context, r *model.FlowRecord) {
	dets, err := m.opts.Stream.Process(ctx, r)
	if err != nil {
		logging.Debug().Err(err).Str("component", "manager").Int64("row_id", r.RowID).Msg("record skipped")
		return
	}
	if len(dets) == 0 {
		return
	}
	if m.opts.Publisher != nil {
		if err := m.opts.Publisher.PublishDetections(m.opts.Subject, dets); err != nil {
			logging.Warn().Err(err).Str("component", "manager").Int64("row_id", r.RowID).
				Msg("failed to publish detections")
		}
	}
	m.pending = append(m.pending, model.FlowDetections{Flow: *r, Detections: dets})
}

// flush hands pending detections to the writer and the observer, and
// refreshes the window gauges.
func (m *Manager) flush(ctx context.Context) {
	metrics.UpdateWindowGauges(m.opts.Stream.WindowSize())
	if len(m.pending) == 0 {
		return
	}
	batch := m.pending
	m.pending = nil

	if m.opts.Writer != nil {
		if err := m.opts.Writer.Write(ctx, batch); err != nil {
			logging.Error().Err(err).Str("component", "manager").Int("flows", len(batch)).
				Msg("failed to write detections")
		}
	}
	if m.opts.Observer != nil {
		m.opts.Observer.Observe(batch)
	}
}

// Queued reports the number of submitted records not yet processed.
func (m *Manager) Queued() int {
	return len(m.records)
}
