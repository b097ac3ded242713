package probe

import (
	"fmt"

	"github.com/nats-io/nats.go"

	"FlowSentry/internal/config"
	"FlowSentry/internal/logging"
	"FlowSentry/internal/metrics"
	"FlowSentry/internal/model"
	"FlowSentry/internal/wire"
)

// FlowHandler processes a received flow record.
type FlowHandler func(r model.FlowRecord)

// Subscriber consumes flow records from a NATS subject.
type Subscriber struct {
	nc      *nats.Conn
	sub     *nats.Subscription
	subject string
	queue   string
}

// NewSubscriber connects to NATS using the flow subject of cfg.
func NewSubscriber(cfg config.NATSConfig) (*Subscriber, error) {
	nc, err := nats.Connect(cfg.URL, nats.Name("flowsentry-engine"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	logging.Info().Str("component", "subscriber").Str("url", cfg.URL).Msg("connected to NATS")
	return &Subscriber{nc: nc, subject: cfg.FlowSubject, queue: cfg.QueueGroup}, nil
}

// Start subscribes and hands every decoded record to handler. Messages that
// fail to decode are counted and dropped.
func (s *Subscriber) Start(handler FlowHandler) error {
	cb := func(msg *nats.Msg) {
		r, err := wire.UnmarshalFlow(msg.Data)
		if err != nil {
			metrics.RecordSkipped("stream", "decode")
			logging.Warn().Err(err).Str("component", "subscriber").Msg("dropping undecodable flow message")
			return
		}
		handler(r)
	}

	var (
		sub *nats.Subscription
		err error
	)
	if s.queue != "" {
		sub, err = s.nc.QueueSubscribe(s.subject, s.queue, cb)
	} else {
		sub, err = s.nc.Subscribe(s.subject, cb)
	}
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", s.subject, err)
	}
	s.sub = sub
	logging.Info().Str("component", "subscriber").Str("subject", s.subject).Str("queue", s.queue).
		Msg("subscribed, waiting for flow records")
	return nil
}

// Close unsubscribes and closes the NATS connection.
func (s *Subscriber) Close() {
	if s.sub != nil {
		if err := s.sub.Unsubscribe(); err != nil {
			logging.Warn().Err(err).Str("component", "subscriber").Msg("unsubscribe failed")
		}
	}
	if s.nc != nil {
		s.nc.Close()
		logging.Info().Str("component", "subscriber").Msg("NATS connection closed")
	}
}
