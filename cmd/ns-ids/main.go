// Command ns-ids scores a CSV file of flow records, either as one batch or
// record by record as a stream.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"

	"FlowSentry/internal/config"
	"FlowSentry/internal/engine/pipeline"
	"FlowSentry/internal/factory"
	"FlowSentry/internal/logging"
	"FlowSentry/internal/metrics"
	"FlowSentry/internal/model"
	"FlowSentry/internal/writer"
	"FlowSentry/pkg/flowcsv"
)

func main() {
	configPath := flag.String("config", "", "Path to the YAML configuration file.")
	input := flag.String("input", "", "CSV file of flow records (required).")
	mode := flag.String("mode", pipeline.ModeBatch, "Run mode: 'batch' or 'stream'.")
	bundle := flag.String("bundle", "", "Model bundle file; overrides model.bundle_path.")
	featureOnly := flag.Bool("feature-only", false, "Disable window features (window_seconds = 0).")
	windowMode := flag.String("window-mode", "", "Windowing: auto, enabled or disabled; overrides engine.window_mode.")
	output := flag.String("output", "", "Output file (default stdout); overrides output.path.")
	format := flag.String("format", "", "Output format: json, jsonl or text; overrides output.format.")
	strict := flag.Bool("strict", false, "Fail when the CSV header lacks part of the ingestion schema.")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	logging.Init(cfg.Logging)

	if *input == "" {
		logging.Error().Msg("-input is required")
		flag.Usage()
		os.Exit(2)
	}
	if *bundle != "" {
		cfg.Model.BundlePath = *bundle
	}
	if *featureOnly {
		cfg.Engine.FeatureOnly = true
	}
	if *windowMode != "" {
		cfg.Engine.WindowMode = *windowMode
	}
	if *output != "" {
		cfg.Output.Path = *output
	}
	if *format != "" {
		cfg.Output.Format = *format
	}
	if *mode == pipeline.ModeStream && cfg.Output.Format == "json" {
		cfg.Output.Format = "jsonl"
	}
	if err := cfg.Validate(); err != nil {
		logging.Fatal().Err(err).Msg("invalid configuration")
	}

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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logging.Info().Str("run_id", runID).Str("mode", *mode).Str("input", *input).Msg("starting run")
	switch *mode {
	case pipeline.ModeBatch:
		err = runBatch(ctx, p, out, *input, *strict)
	case pipeline.ModeStream:
		err = runStream(ctx, p, out, *input, *strict)
	default:
		err = fmt.Errorf("invalid mode: %s", *mode)
	}
	if cerr := out.Close(); cerr != nil {
		logging.Error().Err(cerr).Msg("failed to close writers")
	}
	if err != nil {
		logging.Fatal().Err(err).Msg("run failed")
	}
	logging.Info().Str("run_id", runID).Msg("run complete")
}

func openInput(path string, strict bool) (*flowcsv.Reader, error) {
	r, err := flowcsv.Open(path)
	if err != nil {
		return nil, err
	}
	if strict {
		if err := r.RequireColumns(flowcsv.RequiredColumns...); err != nil {
			r.Close()
			return nil, err
		}
	}
	return r, nil
}

func runBatch(ctx context.Context, p *pipeline.Pipeline, out model.Writer, path string, strict bool) error {
	r, err := openInput(path, strict)
	if err != nil {
		return err
	}
	defer r.Close()

	records, err := r.ReadAll()
	if err != nil {
		return err
	}
	dets := p.RunBatch(ctx, records)
	return out.Write(ctx, model.GroupByFlow(records, dets))
}

func runStream(ctx context.Context, p *pipeline.Pipeline, out model.Writer, path string, strict bool) error {
	r, err := openInput(path, strict)
	if err != nil {
		return err
	}
	defer r.Close()

	stream := p.NewStream()
	var processed, skipped, detected int
	for ctx.Err() == nil {
		rec, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if !flowcsv.IsRowError(err) {
				return err
			}
			skipped++
			metrics.RecordSkipped(pipeline.ModeStream, "parse")
			logging.Warn().Err(err).Msg("skipping unreadable row")
			continue
		}

		dets, err := stream.Process(ctx, &rec)
		if err != nil {
			skipped++
			logging.Warn().Err(err).Int64("row_id", rec.RowID).Msg("skipping record")
			continue
		}
		processed++
		if len(dets) == 0 {
			continue
		}
		detected += len(dets)
		if err := out.Write(ctx, []model.FlowDetections{{Flow: rec, Detections: dets}}); err != nil {
			logging.Error().Err(err).Int64("row_id", rec.RowID).Msg("failed to write detections")
		}
	}

	hosts, events := stream.WindowSize()
	logging.Info().Int("processed", processed).Int("skipped", skipped).Int("detections", detected).
		Int("window_hosts", hosts).Int("window_events", events).Msg("stream finished")
	return ctx.Err()
}
