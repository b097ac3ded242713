// Command ns-probe replays a CSV file of flow records onto NATS, or prints
// the detections published by ns-engine.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"

	"FlowSentry/internal/config"
	"FlowSentry/internal/logging"
	"FlowSentry/internal/probe"
	"FlowSentry/internal/wire"
	"FlowSentry/pkg/flowcsv"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to the YAML configuration file.")
	mode := flag.String("mode", "pub", "Operating mode: 'pub' to replay flows, 'sub' to print detections.")
	input := flag.String("input", "", "CSV file of flow records (required for pub mode).")
	delay := flag.Duration("delay", 0, "Pause between published records.")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	logging.Init(cfg.Logging)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch *mode {
	case "pub":
		runProbe(ctx, cfg.NATS, *input, *delay)
	case "sub":
		runSubscriber(ctx, cfg.NATS)
	default:
		fmt.Fprintf(os.Stderr, "Invalid mode: %s\n", *mode)
		flag.Usage()
		os.Exit(1)
	}
}

// runProbe replays input onto the flow subject.
func runProbe(ctx context.Context, cfg config.NATSConfig, input string, delay time.Duration) {
	if input == "" {
		logging.Error().Msg("-input flag is required for pub mode")
		flag.Usage()
		os.Exit(1)
	}
	r, err := flowcsv.Open(input)
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to open input")
	}
	defer r.Close()

	pub, err := probe.NewPublisher(cfg.URL)
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to connect to NATS")
	}
	defer pub.Close()

	logging.Info().Str("input", input).Str("subject", cfg.FlowSubject).Dur("delay", delay).Msg("replaying flows")
	stats, err := probe.Replay(ctx, r, pub, cfg.FlowSubject, delay)
	if ferr := pub.Flush(); ferr != nil {
		logging.Warn().Err(ferr).Msg("failed to flush publisher")
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		logging.Error().Err(err).Int("sent", stats.Sent).Msg("replay failed")
		return
	}
	logging.Info().Int("sent", stats.Sent).Int("skipped", stats.Skipped).Msg("replay finished")
}

// runSubscriber prints every detection published on the detection subject.
func runSubscriber(ctx context.Context, cfg config.NATSConfig) {
	nc, err := nats.Connect(cfg.URL, nats.Name("flowsentry-probe"))
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to connect to NATS")
	}
	defer nc.Close()

	sub, err := nc.Subscribe(cfg.DetectionSubject, func(msg *nats.Msg) {
		d, err := wire.UnmarshalDetection(msg.Data)
		if err != nil {
			logging.Warn().Err(err).Msg("dropping undecodable detection")
			return
		}
		logging.Info().Int64("row_id", d.RowID).Str("reason", d.Reason).Str("class_guess", d.ClassGuess).
			Float64("score", d.Score).Interface("explain", d.Explain).Msg("detection")
	})
	if err != nil {
		logging.Fatal().Err(err).Msg("subscriber failed to start")
	}
	defer sub.Unsubscribe()

	logging.Info().Str("subject", cfg.DetectionSubject).Msg("waiting for detections")
	<-ctx.Done()
	logging.Info().Msg("shutdown signal received, cleaning up")
}
