package factory

import (
	"fmt"
	"sort"

	"FlowSentry/internal/config"
	"FlowSentry/internal/logging"
	"FlowSentry/internal/model"
)

// WriterFactory creates a writer from the configuration. runID tags every
// row the writer persists.
type WriterFactory func(cfg *config.Config, runID string) (model.Writer, error)

// registry holds the mapping of writer names to their factory functions.
var registry = make(map[string]WriterFactory)

// RegisterWriter registers a new writer type with its factory function.
func RegisterWriter(name string, factory WriterFactory) {
	if _, exists := registry[name]; exists {
		panic(fmt.Sprintf("writer type '%s' already registered", name))
	}
	registry[name] = factory
}

// Registered lists the registered writer names in sorted order.
func Registered() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Create builds the named writers. Writers created before a failure are
// closed before the error is returned.
func Create(cfg *config.Config, runID string, names ...string) ([]model.Writer, error) {
	var writers []model.Writer
	for _, name := range names {
		logging.Info().Str("writer", name).Msg("creating writer")

		factory, ok := registry[name]
		if !ok {
			closeAll(writers)
			return nil, fmt.Errorf("unknown writer type: '%s'", name)
		}
		w, err := factory(cfg, runID)
		if err != nil {
			closeAll(writers)
			return nil, fmt.Errorf("error creating writer type '%s': %w", name, err)
		}
		writers = append(writers, w)
	}
	return writers, nil
}

// Names returns the writers the configuration asks for: the output format
// and, when enabled, ClickHouse.
func Names(cfg *config.Config) []string {
	names := []string{cfg.Output.Format}
	if cfg.ClickHouse.Enabled {
		names = append(names, "clickhouse")
	}
	return names
}

func closeAll(writers []model.Writer) {
	for _, w := range writers {
		if err := w.Close(); err != nil {
			logging.Warn().Err(err).Msg("failed to close writer")
		}
	}
}
