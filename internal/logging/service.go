package logging

import (
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"sentinel-edge-go/internal/config"
)

// NewServiceLogger returns a child of the global logger tagged with the
// device and service names.
func NewServiceLogger(cfg *config.Config, service string) zerolog.Logger {
	return log.With().Str("device_id", cfg.DeviceID).Str("service", service).Logger()
}

// WithFrame tags a logger with a capture sequence number
func WithFrame(base zerolog.Logger, sequence uint64) zerolog.Logger {
	return base.With().Uint64("frame_seq", sequence).Logger()
}
