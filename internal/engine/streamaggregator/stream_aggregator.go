// Package streamaggregator feeds flow records received from NATS into a
// detection manager.
package streamaggregator

import (
	"context"
	"fmt"

	"FlowSentry/internal/config"
	"FlowSentry/internal/engine/manager"
	"FlowSentry/internal/logging"
	"FlowSentry/internal/model"
	"FlowSentry/internal/probe"
)

// Source delivers flow records to a handler until it is closed.
type Source interface {
	Start(handler probe.FlowHandler) error
	Close()
}

// StreamAggregator consumes flow records from a source and submits them to a
// manager.
type StreamAggregator struct {
	newSource func() (Source, error)
	manager   *manager.Manager
}

// NewStreamAggregator creates a stream aggregator reading the flow subject of cfg.
func NewStreamAggregator(cfg config.NATSConfig, mgr *manager.Manager) *StreamAggregator {
	return NewWithSource(func() (Source, error) { return probe.NewSubscriber(cfg) }, mgr)
}

// NewWithSource creates a stream aggregator over an arbitrary source. The
// source is opened anew every time Serve starts.
func NewWithSource(newSource func() (Source, error), mgr *manager.Manager) *StreamAggregator {
	return &StreamAggregator{newSource: newSource, manager: mgr}
}

// Serve subscribes and forwards records until ctx is done.
func (sa *StreamAggregator) Serve(ctx context.Context) error {
	src, err := sa.newSource()
	if err != nil {
		return fmt.Errorf("stream aggregator failed to open source: %w", err)
	}
	defer src.Close()

	if err := src.Start(func(r model.FlowRecord) {
		if !sa.manager.Submit(ctx, r) {
			logging.Debug().Str("component", "stream").Int64("row_id", r.RowID).Msg("dropping record during shutdown")
		}
	}); err != nil {
		return err
	}
	logging.Info().Str("component", "stream").Msg("stream aggregator running")

	<-ctx.Done()
	logging.Info().Str("component", "stream").Msg("stream aggregator stopping")
	return ctx.Err()
}

// String names the service for the supervisor.
func (sa *StreamAggregator) String() string {
	return "stream-aggregator"
}
