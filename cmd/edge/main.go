package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"sentinel-edge-go/internal/api"
	"sentinel-edge-go/internal/config"
	"sentinel-edge-go/internal/helpers"
	"sentinel-edge-go/internal/logging"
	"sentinel-edge-go/internal/pipeline"
	"sentinel-edge-go/internal/services/capture"
	"sentinel-edge-go/internal/services/detection"
	"sentinel-edge-go/internal/services/geospatial"
	"sentinel-edge-go/internal/services/messaging"
	"sentinel-edge-go/internal/services/reasoning"
	"sentinel-edge-go/internal/services/streamcapture"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Setup structured logging
	var tees []io.Writer
	if cfg.LogdyEnabled {
		if w, _, err := logging.StartLogdy(cfg.LogdyHost, cfg.LogdyPort); err != nil {
			log.Warn().Err(err).Msg("Logdy disabled")
		} else {
			tees = append(tees, w)
		}
	}
	if cfg.GraylogAddress != "" {
		if w, err := logging.NewGraylogWriter(cfg.GraylogAddress); err != nil {
			log.Warn().Err(err).Msg("Graylog disabled")
		} else {
			tees = append(tees, w)
		}
	}
	logging.Setup(cfg.LogLevel, cfg.Environment, tees...)

	log.Info().
		Str("device_id", cfg.DeviceID).
		Str("version", cfg.Version).
		Str("environment", cfg.Environment).
		Str("capture_source", cfg.CaptureSource).
		Bool("geo_enabled", cfg.GeoEnabled).
		Bool("nats_enabled", cfg.NatsEnabled).
		Msg("Starting Sentinel edge device")

	classes, err := config.LoadClassTable(cfg.ClassTablePath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load class table")
	}

	model := detection.NewClient(cfg.ModelGRPCURL, cfg.ModelMethod, cfg.ModelTimeout)
	if err := model.Connect(); err != nil {
		// Detect reconnects with backoff
		log.Warn().Err(err).Msg("Detection model not reachable yet")
	}
	defer model.Close()

	// Optional NATS mirror. The interface stays nil when disabled.
	var mirror messaging.Publisher
	var nats *messaging.Service
	if cfg.NatsEnabled {
		nats, err = messaging.NewService(cfg)
		if err != nil {
			log.Warn().Err(err).Msg("NATS unavailable, events will not be mirrored")
		} else {
			mirror = nats
		}
	}

	openers := pipeline.Openers{
		Capture: func() (capture.FrameSource, error) {
			src, err := streamcapture.Open(cfg.CaptureSource)
			if err != nil {
				return nil, err
			}
			return src, nil
		},
	}
	var geo geospatial.TrackerOptions
	if cfg.GeoEnabled {
		openers.Position = func() (geospatial.PositionSource, error) {
			open := func() (*geospatial.LineSource, error) {
				return geospatial.OpenSerial(cfg.GPSPort, cfg.GPSBaudRate)
			}
			if cfg.GPSReplayFile != "" {
				open = func() (*geospatial.LineSource, error) {
					return geospatial.OpenReplay(cfg.GPSReplayFile)
				}
			}
			src, err := open()
			if err != nil {
				return nil, err
			}
			return src, nil
		}
		geo = loadGeoLayers(cfg)
	}

	p := pipeline.New(cfg, openers, pipeline.Components{
		Model: model,
		Prep: helpers.ModelInputEncoder{
			Width:   cfg.ModelInputWidth,
			Height:  cfg.ModelInputHeight,
			Quality: cfg.ImageQuality,
		},
		Classes:  classes,
		Encoder:  helpers.JPEGEncoder{Quality: cfg.ImageQuality},
		Analyzer: reasoning.NewClient(cfg.ReasoningURL, cfg.ReasoningModel, cfg.ReasoningTimeout, logging.NewServiceLogger(cfg, "reasoning")),
		Mirror:   mirror,
		Geo:      geo,
	})

	if err := p.Start(); err != nil {
		log.Fatal().Err(err).Msg("Failed to start pipeline")
	}

	server := api.NewServer(cfg, p)
	go func() {
		if err := server.Start(); err != nil {
			log.Fatal().Err(err).Msg("Status API failed to start")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutdown signal received")

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Status API forced to shutdown")
	}
	if err := p.Stop(ctx); err != nil {
		log.Error().Err(err).Msg("Pipeline did not stop cleanly")
	} else {
		log.Info().Msg("Pipeline shutdown complete")
	}
	if nats != nil {
		if err := nats.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("NATS drain failed")
		}
	}
}

// loadGeoLayers loads the elevation raster and land-use polygons. Missing
// layers degrade to zero elevation and unknown land use.
func loadGeoLayers(cfg *config.Config) geospatial.TrackerOptions {
	opts := geospatial.TrackerOptions{MetersPerUnit: geospatial.MetersPerUnit(cfg.RasterEPSG)}

	if grid, err := geospatial.LoadGrid(cfg.ElevationRasterPath); err != nil {
		log.Warn().Err(err).Msg("Elevation raster unavailable")
	} else {
		opts.Elevation = grid
	}

	project, err := geospatial.NewProjector(cfg.RasterEPSG)
	if err != nil {
		log.Warn().Err(err).Int("epsg", cfg.RasterEPSG).Msg("Falling back to WGS84 raster coordinates")
		opts.MetersPerUnit = geospatial.MetersPerUnit(4326)
	} else {
		opts.Project = project
	}

	if layer, err := geospatial.LoadLandUse(cfg.LandUsePath, cfg.LandUseProperty); err != nil {
		log.Warn().Err(err).Msg("Land use layer unavailable")
	} else {
		log.Info().Int("polygons", layer.Len()).Msg("Land use layer loaded")
		opts.LandUse = layer
	}
	return opts
}
