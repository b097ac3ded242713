// Command ns-api serves on-demand scoring and queries over stored detections.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"FlowSentry/internal/api"
	"FlowSentry/internal/config"
	"FlowSentry/internal/engine/pipeline"
	"FlowSentry/internal/logging"
	"FlowSentry/internal/query"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to the YAML configuration file.")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to load configuration")
	}
	logging.Init(cfg.Logging)

	p, err := pipeline.FromConfig(cfg)
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to set up pipeline")
	}

	var querier query.Querier
	if cfg.ClickHouse.Enabled {
		querier, err = query.NewClickHouseQuerier(cfg.ClickHouse)
		if err != nil {
			logging.Fatal().Err(err).Msg("failed to create querier")
		}
	} else {
		logging.Warn().Msg("ClickHouse is disabled, detection queries will answer 503")
	}

	server := &http.Server{
		Addr:              cfg.API.ListenAddr,
		Handler:           api.NewHandler(p, querier).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logging.Info().Str("addr", server.Addr).Msg("API server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Fatal().Err(err).Str("addr", server.Addr).Msg("could not listen")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logging.Info().Msg("API server shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logging.Fatal().Err(err).Msg("server forced to shutdown")
	}
	logging.Info().Msg("API server exited")
}
