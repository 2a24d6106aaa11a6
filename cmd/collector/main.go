package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"sentinel-edge-go/internal/collector"
	"sentinel-edge-go/internal/config"
	"sentinel-edge-go/internal/logging"
)

func main() {
	cfg := config.LoadCollector()

	var tees []io.Writer
	if cfg.GraylogAddress != "" {
		if w, err := logging.NewGraylogWriter(cfg.GraylogAddress); err != nil {
			log.Warn().Err(err).Msg("Graylog disabled")
		} else {
			tees = append(tees, w)
		}
	}
	logging.Setup(cfg.LogLevel, cfg.Environment, tees...)

	log.Info().
		Str("version", cfg.Version).
		Str("environment", cfg.Environment).
		Int("port", cfg.Port).
		Str("image_dir", cfg.ImageDir).
		Bool("postgres", collector.IsPostgresDSN(cfg.DatabaseURL)).
		Msg("Starting Sentinel event collector")

	store, err := collector.Open(cfg.DatabaseURL, log.With().Str("service", "store").Logger())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open event store")
	}
	defer store.Close()

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	hub := collector.NewHub(log.With().Str("service", "feed").Logger())
	go hub.Run(ctx)

	server := collector.NewServer(cfg, store, hub)
	go func() {
		if err := server.Start(); err != nil {
			log.Fatal().Err(err).Msg("Collector failed to start")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	// Close feed clients before draining HTTP
	stop()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Collector forced to shutdown")
	} else {
		log.Info().Msg("Collector shutdown complete")
	}
}
