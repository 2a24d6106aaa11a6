// Package capture runs the frame acquisition loop.
package capture

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"sentinel-edge-go/internal/models"
	"sentinel-edge-go/internal/services/queue"
)

// FrameSource produces raw frames on demand
type FrameSource interface {
	Read() (*models.Frame, error)
	Close() error
}

// Stats counts acquisition outcomes
type Stats struct {
	Captured     uint64 `json:"captured"`
	ReadFailures uint64 `json:"read_failures"`
	Skipped      uint64 `json:"skipped"`
	Dropped      uint64 `json:"dropped"`
	LastSequence uint64 `json:"last_sequence"`
}

// Service pulls frames from a FrameSource into the bounded frame queue.
// A full queue drops the frame just read.
type Service struct {
	source   FrameSource
	frames   *queue.Bounded[*models.Frame]
	interval time.Duration
	everyN   uint64
	logger   zerolog.Logger

	seq          atomic.Uint64
	readFailures atomic.Uint64
	skipped      atomic.Uint64
	dropped      atomic.Uint64
}

// NewService creates the acquisition loop. everyN > 1 offers only every
// Nth captured frame to the queue.
func NewService(source FrameSource, frames *queue.Bounded[*models.Frame], interval time.Duration, everyN int, logger zerolog.Logger) *Service {
	if everyN < 1 {
		everyN = 1
	}
	return &Service{
		source:   source,
		frames:   frames,
		interval: interval,
		everyN:   uint64(everyN),
		logger:   logger,
	}
}

// Run loops until ctx is cancelled
func (s *Service) Run(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().Interface("panic", r).Msg("Frame acquisition panic recovered")
		}
	}()

	s.logger.Info().Dur("interval", s.interval).Uint64("every_n", s.everyN).Msg("Frame acquisition started")

	for ctx.Err() == nil {
		s.step()

		select {
		case <-ctx.Done():
		case <-time.After(s.interval):
		}
	}

	s.logger.Info().Uint64("captured", s.seq.Load()).Msg("Frame acquisition stopped")
}

func (s *Service) step() {
	frame, err := s.source.Read()
	if err != nil {
		n := s.readFailures.Add(1)
		s.logger.Warn().Err(err).Uint64("read_failures", n).Msg("Failed to read frame, retrying")
		return
	}
	if frame == nil {
		return
	}

	frame.Sequence = s.seq.Add(1)
	if frame.Timestamp.IsZero() {
		frame.Timestamp = time.Now()
	}

	if frame.Sequence%s.everyN != 0 {
		s.skipped.Add(1)
		return
	}

	if !s.frames.TryPush(frame) {
		s.dropped.Add(1)
		s.logger.Debug().Uint64("frame_seq", frame.Sequence).Msg("Frame queue full, dropping frame")
	}
}

// Stats returns the acquisition counters
func (s *Service) Stats() Stats {
	return Stats{
		Captured:     s.seq.Load(),
		ReadFailures: s.readFailures.Load(),
		Skipped:      s.skipped.Load(),
		Dropped:      s.dropped.Load(),
		LastSequence: s.seq.Load(),
	}
}
