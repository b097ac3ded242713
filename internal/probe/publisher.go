package probe

import (
	"fmt"

	"github.com/nats-io/nats.go"

	"FlowSentry/internal/logging"
	"FlowSentry/internal/model"
	"FlowSentry/internal/wire"
)

// Publisher publishes flow records and detections to NATS subjects.
type Publisher struct {
	nc *nats.Conn
}

// NewPublisher connects to the NATS server at url.
func NewPublisher(url string) (*Publisher, error) {
	nc, err := nats.Connect(url, nats.Name("flowsentry-publisher"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	logging.Info().Str("component", "publisher").Str("url", url).Msg("connected to NATS")
	return &Publisher{nc: nc}, nil
}

// PublishFlow serializes a flow record and publishes it on subject.
func (p *Publisher) PublishFlow(subject string, r *model.FlowRecord) error {
	data, err := wire.MarshalFlow(r)
	if err != nil {
		return err
	}
	return p.nc.Publish(subject, data)
}

// PublishDetections publishes one message per detection on subject.
func (p *Publisher) PublishDetections(subject string, dets []model.Detection) error {
	for i := range dets {
		data, err := wire.MarshalDetection(&dets[i])
		if err != nil {
			return err
		}
		if err := p.nc.Publish(subject, data); err != nil {
			return fmt.Errorf("failed to publish detection for row %d: %w", dets[i].RowID, err)
		}
	}
	return nil
}

// Flush waits until the server has processed everything published so far.
func (p *Publisher) Flush() error {
	return p.nc.Flush()
}

// Close drains and closes the NATS connection.
func (p *Publisher) Close() {
	if p.nc != nil {
		if err := p.nc.Drain(); err != nil {
			logging.Warn().Err(err).Str("component", "publisher").Msg("NATS drain failed")
		}
		logging.Info().Str("component", "publisher").Msg("NATS connection drained and closed")
	}
}
