// Package pipeline wires the capture, inference, geospatial, assembly and
// transmission stages and owns their lifecycle.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/metric"

	"sentinel-edge-go/internal/config"
	"sentinel-edge-go/internal/logging"
	"sentinel-edge-go/internal/metrics"
	"sentinel-edge-go/internal/models"
	"sentinel-edge-go/internal/services/assembler"
	"sentinel-edge-go/internal/services/capture"
	"sentinel-edge-go/internal/services/detection"
	"sentinel-edge-go/internal/services/geospatial"
	"sentinel-edge-go/internal/services/inference"
	"sentinel-edge-go/internal/services/messaging"
	"sentinel-edge-go/internal/services/queue"
	"sentinel-edge-go/internal/services/reasoning"
	"sentinel-edge-go/internal/services/transmitter"
)

// State is the pipeline lifecycle state
type State int32

const (
	StateStopped State = iota
	StateRunning
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

var (
	ErrAlreadyRunning = errors.New("pipeline already running")
	ErrNotRunning     = errors.New("pipeline not running")
)

// Openers acquire the hardware handles at Start. A nil Position disables
// the geospatial tracker.
type Openers struct {
	Capture  func() (capture.FrameSource, error)
	Position func() (geospatial.PositionSource, error)
}

// Components are the long-lived collaborators shared across restarts.
// Mirror may be nil.
type Components struct {
	Model    detection.Model
	Prep     inference.Preprocessor
	Classes  *models.ClassTable
	Encoder  transmitter.ImageEncoder
	Analyzer reasoning.Analyzer
	Mirror   messaging.Publisher
	Geo      geospatial.TrackerOptions
}

// Stats is a point-in-time view of every stage
type Stats struct {
	State       string                   `json:"state"`
	Running     bool                     `json:"running"`
	UptimeSec   float64                  `json:"uptime_seconds"`
	Capture     capture.Stats            `json:"capture"`
	Inference   inference.Stats          `json:"inference"`
	Tracker     *geospatial.TrackerStats `json:"tracker,omitempty"`
	Assembler   assembler.Stats          `json:"assembler"`
	Transmitter transmitter.Stats        `json:"transmitter"`
	Queues      map[string]queue.Stats   `json:"queues"`
}

type Pipeline struct {
	cfg     *config.Config
	openers Openers
	comps   Components
	logger  zerolog.Logger

	state   int32
	running atomic.Bool

	frames   *queue.Bounded[*models.Frame]
	results  *queue.Bounded[*models.ProcessedFrame]
	outbound *queue.Bounded[*models.EventRecord]
	store    *geospatial.Store

	worker      *inference.Worker
	assembler   *assembler.Assembler
	transmitter *transmitter.Transmitter

	// Per-run handles, guarded by mu
	mu        sync.RWMutex
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	source    capture.FrameSource
	position  geospatial.PositionSource
	capture   *capture.Service
	tracker   *geospatial.Tracker
	metrics   metric.Registration
	influx    *metrics.InfluxReporter
	startedAt time.Time
}

func New(cfg *config.Config, openers Openers, comps Components) *Pipeline {
	policy := queue.DropNewest
	if cfg.QueueDropOldest {
		policy = queue.DropOldest
	}

	p := &Pipeline{
		cfg:      cfg,
		openers:  openers,
		comps:    comps,
		logger:   logging.NewServiceLogger(cfg, "pipeline"),
		frames:   queue.New[*models.Frame](cfg.FrameQueueSize, policy),
		results:  queue.New[*models.ProcessedFrame](cfg.ResultQueueSize, policy),
		outbound: queue.New[*models.EventRecord](cfg.OutboundQueueSize, policy),
		store:    geospatial.NewStore(),
	}

	classes := comps.Classes
	if classes == nil {
		classes = models.DefaultClassTable()
	}

	p.worker = inference.NewWorker(p.frames, p.results, comps.Model, comps.Prep, classes, inference.Options{
		ConfidenceThreshold: cfg.ConfidenceThreshold,
		ViolenceThreshold:   cfg.ViolenceThreshold,
		Idle:                cfg.WorkerIdle,
	}, logging.NewServiceLogger(cfg, "inference"))

	p.assembler = assembler.New(p.results, p.outbound, p.store, comps.Analyzer, cfg.EventCooldown,
		logging.NewServiceLogger(cfg, "assembler"))

	p.transmitter = transmitter.New(p.outbound, comps.Encoder, comps.Mirror, transmitter.Options{
		URL:        cfg.ServerURL,
		DeviceID:   cfg.DeviceID,
		MaxRetries: cfg.MaxRetries,
		RetryDelay: cfg.RetryDelay,
		Timeout:    cfg.HTTPTimeout,
		Subject:    cfg.EventsSubject,
	}, logging.NewServiceLogger(cfg, "transmitter"))

	return p
}

func (p *Pipeline) getState() State {
	return State(atomic.LoadInt32(&p.state))
}

func (p *Pipeline) IsRunning() bool {
	return p.running.Load()
}

// Start acquires the capture and sensor handles and launches every stage.
// A handle that cannot be opened aborts the start before any loop runs.
func (p *Pipeline) Start() error {
	if !atomic.CompareAndSwapInt32(&p.state, int32(StateStopped), int32(StateRunning)) {
		return fmt.Errorf("%w (state %s)", ErrAlreadyRunning, p.getState())
	}

	source, err := p.openers.Capture()
	if err != nil {
		atomic.StoreInt32(&p.state, int32(StateStopped))
		return fmt.Errorf("open capture: %w", err)
	}

	var position geospatial.PositionSource
	if p.openers.Position != nil {
		position, err = p.openers.Position()
		if err != nil {
			_ = source.Close()
			atomic.StoreInt32(&p.state, int32(StateStopped))
			return fmt.Errorf("open position sensor: %w", err)
		}
	}

	p.discardStale()

	p.mu.Lock()
	p.ctx, p.cancel = context.WithCancel(context.Background())
	p.source = source
	p.position = position
	p.capture = capture.NewService(source, p.frames, p.cfg.CaptureInterval, p.cfg.ProcessEveryNFrames,
		logging.NewServiceLogger(p.cfg, "capture"))
	p.tracker = nil
	if position != nil {
		p.tracker = geospatial.NewTracker(position, p.store, p.comps.Geo, logging.NewServiceLogger(p.cfg, "geospatial"))
	}
	p.startedAt = time.Now()
	ctx := p.ctx
	p.mu.Unlock()

	p.running.Store(true)

	p.spawn(ctx, p.capture.Run)
	p.spawn(ctx, p.worker.Run)
	if p.tracker != nil {
		p.spawn(ctx, p.tracker.Run)
	}
	p.spawn(ctx, p.assembler.Run)
	p.spawn(ctx, p.transmitter.Run)
	p.spawn(ctx, p.reportStats)
	p.startReporters(ctx)

	p.logger.Info().
		Int("frame_queue", p.frames.Cap()).
		Bool("geospatial", p.tracker != nil).
		Str("server_url", p.cfg.ServerURL).
		Msg("Pipeline started")

	return nil
}

func (p *Pipeline) spawn(ctx context.Context, run func(context.Context)) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		run(ctx)
	}()
}

func (p *Pipeline) startReporters(ctx context.Context) {
	reg, err := metrics.Register(p.cfg.DeviceID, p.MetricsSnapshot)
	if err != nil {
		p.logger.Warn().Err(err).Msg("Failed to register metrics")
	}

	var influx *metrics.InfluxReporter
	if p.cfg.InfluxEnabled {
		influx = metrics.NewInfluxReporter(p.cfg.InfluxURL, p.cfg.InfluxToken, p.cfg.InfluxOrg, p.cfg.InfluxBucket,
			p.cfg.DeviceID, p.cfg.InfluxInterval, p.MetricsSnapshot, logging.NewServiceLogger(p.cfg, "influx"))
		p.spawn(ctx, influx.Run)
	}

	p.mu.Lock()
	p.metrics = reg
	p.influx = influx
	p.mu.Unlock()
}

// Stop clears the running flag, closes the capture handle and then the
// sensor, and waits for every stage to exit or ctx to expire. On timeout
// the pipeline reports stopping until the last stage returns.
func (p *Pipeline) Stop(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&p.state, int32(StateRunning), int32(StateStopping)) {
		return fmt.Errorf("%w (state %s)", ErrNotRunning, p.getState())
	}

	p.logger.Info().Msg("Stopping pipeline")
	p.running.Store(false)

	p.mu.RLock()
	cancel, source, position := p.cancel, p.source, p.position
	reg, influx := p.metrics, p.influx
	p.mu.RUnlock()

	cancel()

	if err := source.Close(); err != nil {
		p.logger.Warn().Err(err).Msg("Error closing capture source")
	}
	if position != nil {
		if err := position.Close(); err != nil {
			p.logger.Warn().Err(err).Msg("Error closing position sensor")
		}
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
		p.logger.Debug().Msg("All pipeline stages exited")
	case <-ctx.Done():
		err = fmt.Errorf("pipeline stop: %w", ctx.Err())
		p.logger.Warn().Msg("Shutdown timeout, some stages still running")
	}

	if reg != nil {
		_ = reg.Unregister()
	}
	if influx != nil {
		influx.Close()
	}

	if err != nil {
		// State stays stopping until the remaining stages exit
		go func() {
			<-done
			atomic.StoreInt32(&p.state, int32(StateStopped))
			p.logger.Info().Msg("Late pipeline stages exited")
		}()
		return err
	}

	atomic.StoreInt32(&p.state, int32(StateStopped))
	p.logger.Info().Interface("stats", p.Stats()).Msg("Pipeline stopped")
	return nil
}

// discardStale empties the frame and result queues left by a previous run.
// Outbound events are kept and sent by the next run.
func (p *Pipeline) discardStale() {
	frames, results := 0, 0
	for {
		if _, ok := p.frames.TryPop(); !ok {
			break
		}
		frames++
	}
	for {
		if _, ok := p.results.TryPop(); !ok {
			break
		}
		results++
	}
	if frames > 0 || results > 0 {
		p.logger.Debug().Int("frames", frames).Int("results", results).Msg("Discarded stale queue items")
	}
}

// reportStats logs a periodic stats line while running
func (p *Pipeline) reportStats(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for p.running.Load() {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s := p.MetricsSnapshot()
			log.Info().
				Str("device_id", p.cfg.DeviceID).
				Uint64("frames_captured", s.FramesCaptured).
				Uint64("frames_dropped", s.FramesDropped).
				Uint64("frames_inferred", s.FramesInferred).
				Uint64("violence_detected", s.ViolenceDetected).
				Uint64("events_sent", s.EventsSent).
				Uint64("events_failed", s.EventsFailed).
				Msg("Pipeline stats")
		}
	}
}

// Location returns the latest geospatial snapshot
func (p *Pipeline) Location() (models.GeospatialSnapshot, bool) {
	return p.store.Latest()
}

// Stats returns a snapshot of every stage's counters
func (p *Pipeline) Stats() Stats {
	p.mu.RLock()
	captureSvc, tracker, startedAt := p.capture, p.tracker, p.startedAt
	p.mu.RUnlock()

	s := Stats{
		State:       p.getState().String(),
		Running:     p.running.Load(),
		Inference:   p.worker.Stats(),
		Assembler:   p.assembler.Stats(),
		Transmitter: p.transmitter.Stats(),
		Queues: map[string]queue.Stats{
			"frames":   p.frames.Stats(),
			"results":  p.results.Stats(),
			"outbound": p.outbound.Stats(),
		},
	}
	if captureSvc != nil {
		s.Capture = captureSvc.Stats()
	}
	if tracker != nil {
		ts := tracker.Stats()
		s.Tracker = &ts
	}
	if s.Running && !startedAt.IsZero() {
		s.UptimeSec = time.Since(startedAt).Seconds()
	}
	return s
}

// MetricsSnapshot flattens Stats for the metric exporters
func (p *Pipeline) MetricsSnapshot() metrics.Snapshot {
	s := p.Stats()
	return metrics.Snapshot{
		FramesCaptured:   s.Capture.Captured,
		FramesDropped:    s.Capture.Dropped,
		FramesInferred:   s.Inference.Processed,
		InferenceErrors:  s.Inference.Errors,
		ViolenceDetected: s.Inference.Violent,
		EventsAssembled:  s.Assembler.Assembled,
		EventsSent:       s.Transmitter.Sent,
		EventsFailed:     s.Transmitter.Failed,
		FrameQueueLen:    s.Queues["frames"].Len,
		ResultQueueLen:   s.Queues["results"].Len,
		OutboundQueueLen: s.Queues["outbound"].Len,
	}
}
