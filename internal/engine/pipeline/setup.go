package pipeline

import (
	"fmt"
	"time"

	"FlowSentry/internal/classifier"
	"FlowSentry/internal/config"
	"FlowSentry/internal/engine/features"
	"FlowSentry/internal/logging"
	"FlowSentry/internal/model"
)

// FromConfig builds a pipeline from the engine and model sections. A model
// bundle, when configured, sets the window length and the feature column
// contract; feature-only mode then forces the window to zero.
func FromConfig(cfg *config.Config) (*Pipeline, error) {
	mode, err := features.ParseWindowMode(cfg.Engine.WindowMode)
	if err != nil {
		return nil, err
	}
	opts := Options{WindowSeconds: cfg.Engine.WindowSeconds, WindowMode: mode}

	remote, err := remoteOptions(cfg.Model)
	if err != nil {
		return nil, err
	}

	var clf model.Classifier
	switch {
	case cfg.Model.BundlePath != "":
		b, err := classifier.LoadBundle(cfg.Model.BundlePath)
		if err != nil {
			return nil, err
		}
		clf, err = classifier.New(b, cfg.Model.RemoteURL, remote)
		if err != nil {
			return nil, err
		}
		opts.WindowSeconds = b.Window()
		opts.FeatureColumns = b.FeatureColumns
	case cfg.Model.RemoteURL != "":
		clf = classifier.NewRemote(cfg.Model.RemoteURL, nil, remote)
	}
	opts.Classifier = clf

	if cfg.Engine.FeatureOnly {
		opts.WindowSeconds = 0
	}

	logging.Info().Str("component", "pipeline").
		Int("window_seconds", opts.WindowSeconds).
		Str("window_mode", mode.String()).
		Bool("classifier", clf != nil).
		Int("feature_columns", len(opts.FeatureColumns)).
		Msg("pipeline configured")
	return New(opts), nil
}

func remoteOptions(cfg config.ModelConfig) (classifier.RemoteOptions, error) {
	opts := classifier.RemoteOptions{FailureThreshold: cfg.BreakerFailures}
	var err error
	if cfg.RemoteTimeout != "" {
		if opts.Timeout, err = time.ParseDuration(cfg.RemoteTimeout); err != nil {
			return opts, fmt.Errorf("invalid model.remote_timeout: %w", err)
		}
	}
	if cfg.BreakerTimeout != "" {
		if opts.OpenTimeout, err = time.ParseDuration(cfg.BreakerTimeout); err != nil {
			return opts, fmt.Errorf("invalid model.breaker_timeout: %w", err)
		}
	}
	return opts, nil
}
