// Command ns-engine scores flow records streamed over NATS and publishes the
// resulting detections.
package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"

	"FlowSentry/internal/alerter"
	"FlowSentry/internal/config"
	"FlowSentry/internal/engine/manager"
	"FlowSentry/internal/engine/pipeline"
	"FlowSentry/internal/engine/streamaggregator"
	"FlowSentry/internal/factory"
	"FlowSentry/internal/logging"
	"FlowSentry/internal/model"
	"FlowSentry/internal/notification"
	"FlowSentry/internal/probe"
	"FlowSentry/internal/snapshot"
	"FlowSentry/internal/supervisor"
	"FlowSentry/internal/writer"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to the YAML configuration file.")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to load config")
	}
	logging.Init(cfg.Logging)
	logging.Info().Str("config", *configPath).Msg("starting ns-engine")

	p, err := pipeline.FromConfig(cfg)
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to set up pipeline")
	}

	runID := uuid.NewString()
	names := factory.Names(cfg)
	writers, err := factory.Create(cfg, runID, names...)
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to create writers")
	}
	out := writer.NewMulti(names, writers)
	defer func() {
		if err := out.Close(); err != nil {
			logging.Error().Err(err).Msg("failed to close writers")
		}
	}()

	pub, err := probe.NewPublisher(cfg.NATS.URL)
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to create detection publisher")
	}
	defer pub.Close()

	stream := restoreStream(p, cfg.Engine.SnapshotDir)
	opts := manager.Options{
		Stream:     stream,
		Writer:     out,
		Publisher:  pub,
		Subject:    cfg.NATS.DetectionSubject,
		BufferSize: cfg.NATS.BufferSize,
	}

	tree := supervisor.NewTree(supervisor.DefaultTreeConfig())
	if a := newAlerter(cfg); a != nil {
		opts.Observer = a
		tree.AddDetectionService(a)
	}

	mgr, err := manager.NewManager(opts)
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to create manager")
	}
	tree.AddDetectionService(mgr)
	tree.AddDetectionService(streamaggregator.NewStreamAggregator(cfg.NATS, mgr))

	if cfg.Metrics.Enabled {
		tree.AddServingService(supervisor.NewMetricsService(cfg.Metrics.ListenAddr))
	}
	if cfg.Health.ListenAddr != "" {
		tree.AddServingService(supervisor.NewHealthService(cfg.Health.ListenAddr))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logging.Info().Str("run_id", runID).Str("subject", cfg.NATS.FlowSubject).Msg("ns-engine running")
	if err := tree.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logging.Error().Err(err).Msg("supervisor stopped with error")
	}
	stopped := true
	if report, err := tree.UnstoppedServiceReport(); err == nil && len(report) > 0 {
		logging.Warn().Int("services", len(report)).Msg("services did not stop in time")
		stopped = false
	}

	if err := pub.Flush(); err != nil {
		logging.Warn().Err(err).Msg("failed to flush detection publisher")
	}
	switch {
	case cfg.Engine.SnapshotDir == "":
	case !stopped:
		logging.Warn().Msg("not saving stream state while the manager may still be running")
	default:
		if err := snapshot.NewWriter(cfg.Engine.SnapshotDir).Write(stream.State()); err != nil {
			logging.Error().Err(err).Msg("failed to save stream state")
		}
	}
	logging.Info().Msg("shutdown complete")
}

// restoreStream resumes the saved window state from dir when there is one
// that matches the pipeline, and starts empty otherwise.
func restoreStream(p *pipeline.Pipeline, dir string) *pipeline.StreamProcessor {
	if dir == "" {
		return p.NewStream()
	}
	st, err := snapshot.Load(dir)
	if errors.Is(err, snapshot.ErrNoSnapshot) {
		logging.Info().Str("dir", dir).Msg("no saved stream state, starting empty")
		return p.NewStream()
	}
	if err != nil {
		logging.Warn().Err(err).Msg("ignoring unreadable stream state")
		return p.NewStream()
	}
	s, err := p.RestoreStream(st)
	if err != nil {
		logging.Warn().Err(err).Msg("ignoring incompatible stream state")
		return p.NewStream()
	}
	logging.Info().Str("dir", dir).Int("hosts", len(st.Features.Window.Hosts)).Time("last_ts", st.LastTs).
		Msg("resumed stream state")
	return s
}

// newAlerter returns nil when alerting is disabled or no notifier is configured.
func newAlerter(cfg *config.Config) *alerter.Alerter {
	if !cfg.Alerter.Enabled {
		return nil
	}
	if cfg.SMTP.Host == "" {
		logging.Warn().Msg("alerter is enabled in config, but no notifiers are configured. Alerter will not run.")
		return nil
	}
	var notifier model.Notifier = notification.NewEmailNotifier(cfg.SMTP)
	a, err := alerter.NewAlerter(&cfg.Alerter, notifier)
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to create alerter")
	}
	logging.Info().Int("rules", len(cfg.Alerter.Rules)).Msg("alerter enabled and initialized")
	return a
}
