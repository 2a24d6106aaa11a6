package streamcapture

import (
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"gocv.io/x/gocv"

	"sentinel-edge-go/internal/models"
)

var (
	ErrReadFailed = errors.New("video capture read failed")
	ErrEmptyFrame = errors.New("video capture returned an empty frame")
	ErrClosed     = errors.New("video capture closed")
)

// Source reads BGR frames from an OpenCV VideoCapture. The URI may be a
// device index ("0"), a file path or a stream URL.
type Source struct {
	uri string

	mu     sync.Mutex
	cap    *gocv.VideoCapture
	img    gocv.Mat
	closed bool
}

// Open acquires the capture handle. Failure here is fatal to the pipeline.
func Open(uri string) (*Source, error) {
	var device interface{} = uri
	if idx, err := strconv.Atoi(uri); err == nil {
		device = idx
	}

	cap, err := gocv.OpenVideoCapture(device)
	if err != nil {
		return nil, fmt.Errorf("failed to open video capture %s: %w", uri, err)
	}
	if !cap.IsOpened() {
		cap.Close()
		return nil, fmt.Errorf("video capture is not opened for %s", uri)
	}

	// Keep latency low on live streams
	cap.Set(gocv.VideoCaptureBufferSize, 1)

	log.Info().
		Str("source", uri).
		Float64("fps", cap.Get(gocv.VideoCaptureFPS)).
		Float64("width", cap.Get(gocv.VideoCaptureFrameWidth)).
		Float64("height", cap.Get(gocv.VideoCaptureFrameHeight)).
		Msg("VideoCapture opened")

	return &Source{
		uri: uri,
		cap: cap,
		img: gocv.NewMat(),
	}, nil
}

// Read grabs the next frame
func (s *Source) Read() (*models.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrClosed
	}
	if ok := s.cap.Read(&s.img); !ok {
		return nil, ErrReadFailed
	}
	if s.img.Empty() {
		return nil, ErrEmptyFrame
	}

	return &models.Frame{
		Data:      s.img.ToBytes(),
		Width:     s.img.Cols(),
		Height:    s.img.Rows(),
		Timestamp: time.Now(),
	}, nil
}

// Close releases the capture handle. Safe to call more than once.
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	s.img.Close()
	if err := s.cap.Close(); err != nil {
		return fmt.Errorf("failed to release video capture %s: %w", s.uri, err)
	}
	log.Info().Str("source", s.uri).Msg("VideoCapture released")
	return nil
}
