// Package transmitter delivers assembled events to the remote event sink.
// Delivery is best effort: a bounded number of attempts, then the event is
// dropped.
package transmitter

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"sentinel-edge-go/internal/models"
	"sentinel-edge-go/internal/services/messaging"
	"sentinel-edge-go/internal/services/queue"
)

// ImageEncoder serializes a frame for the payload
type ImageEncoder interface {
	Encode(frame *models.Frame) ([]byte, error)
}

type Options struct {
	URL        string
	DeviceID   string
	MaxRetries int
	RetryDelay time.Duration
	Timeout    time.Duration
	// Subject for the optional event mirror; empty disables it
	Subject string
}

// Stats counts transmitter outcomes
type Stats struct {
	Sent          uint64 `json:"sent"`
	Failed        uint64 `json:"failed"`
	Attempts      uint64 `json:"attempts"`
	EncodeErrors  uint64 `json:"encode_errors"`
	Mirrored      uint64 `json:"mirrored"`
	MirrorErrors  uint64 `json:"mirror_errors"`
	LastSuccessAt int64  `json:"last_success_at,omitempty"`
}

type Transmitter struct {
	outbound   *queue.Bounded[*models.EventRecord]
	encoder    ImageEncoder
	mirror     messaging.Publisher
	httpClient *http.Client
	opts       Options
	logger     zerolog.Logger

	sent          atomic.Uint64
	failed        atomic.Uint64
	attempts      atomic.Uint64
	encodeErrors  atomic.Uint64
	mirrored      atomic.Uint64
	mirrorErrors  atomic.Uint64
	lastSuccessAt atomic.Int64
}

// New creates a transmitter. mirror may be nil.
func New(outbound *queue.Bounded[*models.EventRecord], encoder ImageEncoder, mirror messaging.Publisher, opts Options, logger zerolog.Logger) *Transmitter {
	if opts.MaxRetries < 1 {
		opts.MaxRetries = 1
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	return &Transmitter{
		outbound:   outbound,
		encoder:    encoder,
		mirror:     mirror,
		httpClient: &http.Client{Timeout: opts.Timeout},
		opts:       opts,
		logger:     logger,
	}
}

// Run sends queued events until ctx is cancelled. Events still queued at
// shutdown are discarded.
func (t *Transmitter) Run(ctx context.Context) {
	t.logger.Info().
		Str("url", t.opts.URL).
		Int("max_retries", t.opts.MaxRetries).
		Dur("retry_delay", t.opts.RetryDelay).
		Msg("Transmitter started")

	for ctx.Err() == nil {
		event, ok := t.outbound.Pop(ctx, 10*time.Millisecond)
		if !ok {
			continue
		}
		t.Send(ctx, event)
	}

	if n := t.outbound.Len(); n > 0 {
		t.logger.Warn().Int("pending", n).Msg("Discarding untransmitted events at shutdown")
	}
	t.logger.Info().Uint64("sent", t.sent.Load()).Uint64("failed", t.failed.Load()).Msg("Transmitter stopped")
}

// Send delivers one event and reports whether the sink accepted it. It
// never panics and never returns an error; failures are logged and counted.
func (t *Transmitter) Send(ctx context.Context, event *models.EventRecord) (ok bool) {
	logger := t.logger.With().Str("event_id", event.ID).Logger()

	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Msg("Transmission panic recovered")
			t.failed.Add(1)
			ok = false
		}
	}()

	payload := models.NewEventPayload(event, t.opts.DeviceID)
	payload.ImageData = t.encodeImage(event, logger)

	body, err := json.Marshal(payload)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to encode event payload")
		t.failed.Add(1)
		return false
	}

	ok = t.post(ctx, event.ID, body, logger)
	if ok {
		t.sent.Add(1)
		t.lastSuccessAt.Store(time.Now().Unix())
	} else {
		t.failed.Add(1)
		logger.Error().Int("attempts", t.opts.MaxRetries).Msg("Event dropped after exhausting retries")
	}

	t.publishMirror(payload, logger)
	return ok
}

// post makes up to MaxRetries attempts, sleeping RetryDelay*attempt between
// them. Cancelling ctx abandons the remaining attempts.
func (t *Transmitter) post(ctx context.Context, eventID string, body []byte, logger zerolog.Logger) bool {
	for attempt := 1; attempt <= t.opts.MaxRetries; attempt++ {
		t.attempts.Add(1)

		err := t.attempt(ctx, eventID, body)
		if err == nil {
			logger.Info().Int("attempt", attempt).Msg("Event transmitted")
			return true
		}
		logger.Warn().Err(err).Int("attempt", attempt).Int("max_retries", t.opts.MaxRetries).Msg("Failed to send event")

		if attempt == t.opts.MaxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(t.opts.RetryDelay * time.Duration(attempt)):
		}
	}
	return false
}

func (t *Transmitter) attempt(ctx context.Context, eventID string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.opts.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Event-ID", eventID)
	if t.opts.DeviceID != "" {
		req.Header.Set("X-Device-ID", t.opts.DeviceID)
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}

func (t *Transmitter) encodeImage(event *models.EventRecord, logger zerolog.Logger) string {
	if t.encoder == nil || event.Frame == nil {
		return ""
	}
	data, err := t.encoder.Encode(event.Frame)
	if err != nil {
		t.encodeErrors.Add(1)
		logger.Error().Err(err).Msg("Error preparing image, sending event without it")
		return ""
	}
	return base64.StdEncoding.EncodeToString(data)
}

// publishMirror publishes the payload, minus the image, to the event
// subject. Failures only log.
func (t *Transmitter) publishMirror(payload models.EventPayload, logger zerolog.Logger) {
	if t.mirror == nil || t.opts.Subject == "" {
		return
	}
	payload.ImageData = ""
	if err := t.mirror.Publish(t.opts.Subject, payload); err != nil {
		t.mirrorErrors.Add(1)
		logger.Warn().Err(err).Str("subject", t.opts.Subject).Msg("Failed to mirror event")
		return
	}
	t.mirrored.Add(1)
}

// Stats returns the transmitter counters
func (t *Transmitter) Stats() Stats {
	return Stats{
		Sent:          t.sent.Load(),
		Failed:        t.failed.Load(),
		Attempts:      t.attempts.Load(),
		EncodeErrors:  t.encodeErrors.Load(),
		Mirrored:      t.mirrored.Load(),
		MirrorErrors:  t.mirrorErrors.Load(),
		LastSuccessAt: t.lastSuccessAt.Load(),
	}
}
