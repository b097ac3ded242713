package probe

import (
	"context"
	"io"
	"time"

	"FlowSentry/internal/logging"
	"FlowSentry/internal/model"
	"FlowSentry/pkg/flowcsv"
)

// FlowPublisher is the publishing side used by Replay.
type FlowPublisher interface {
	PublishFlow(subject string, r *model.FlowRecord) error
}

// ReplayStats summarizes one replay.
type ReplayStats struct {
	Sent    int
	Skipped int
}

// Replay reads rows from r one at a time and publishes them on subject,
// waiting delay between rows. Rows that fail to parse are skipped. It stops
// at the end of the input, on a publish error or when ctx is done.
func Replay(ctx context.Context, r *flowcsv.Reader, pub FlowPublisher, subject string, delay time.Duration) (ReplayStats, error) {
	var stats ReplayStats
	var ticker *time.Ticker
	if delay > 0 {
		ticker = time.NewTicker(delay)
		defer ticker.Stop()
	}
	for {
		rec, err := r.Next()
		if err == io.EOF {
			return stats, nil
		}
		if err != nil {
			if flowcsv.IsRowError(err) {
				stats.Skipped++
				logging.Warn().Err(err).Str("component", "replay").Msg("skipping row")
				continue
			}
			return stats, err
		}
		if err := pub.PublishFlow(subject, &rec); err != nil {
			return stats, err
		}
		stats.Sent++

		if ticker != nil {
			select {
			case <-ctx.Done():
				return stats, ctx.Err()
			case <-ticker.C:
			}
		} else if err := ctx.Err(); err != nil {
			return stats, err
		}
	}
}
