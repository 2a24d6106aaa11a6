// Package inference runs the detection model over queued frames and
// derives the violence decision.
package inference

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"sentinel-edge-go/internal/models"
	"sentinel-edge-go/internal/services/detection"
	"sentinel-edge-go/internal/services/queue"
)

// Preprocessor turns a raw frame into the model's input
type Preprocessor interface {
	Prepare(frame *models.Frame) (*models.ModelInput, error)
}

// Options tunes the worker
type Options struct {
	ConfidenceThreshold float64
	ViolenceThreshold   float64
	Idle                time.Duration
}

// Stats counts worker outcomes
type Stats struct {
	Processed      uint64 `json:"processed"`
	Errors         uint64 `json:"errors"`
	Violent        uint64 `json:"violent"`
	ResultsDropped uint64 `json:"results_dropped"`
	UnknownClasses uint64 `json:"unknown_classes"`
}

type Worker struct {
	frames  *queue.Bounded[*models.Frame]
	results *queue.Bounded[*models.ProcessedFrame]
	model   detection.Model
	prep    Preprocessor
	table   *models.ClassTable
	opts    Options
	logger  zerolog.Logger

	processed      atomic.Uint64
	errors         atomic.Uint64
	violent        atomic.Uint64
	resultsDropped atomic.Uint64
	unknownClasses atomic.Uint64
}

func NewWorker(
	frames *queue.Bounded[*models.Frame],
	results *queue.Bounded[*models.ProcessedFrame],
	model detection.Model,
	prep Preprocessor,
	table *models.ClassTable,
	opts Options,
	logger zerolog.Logger,
) *Worker {
	if opts.Idle <= 0 {
		opts.Idle = 10 * time.Millisecond
	}
	return &Worker{
		frames:  frames,
		results: results,
		model:   model,
		prep:    prep,
		table:   table,
		opts:    opts,
		logger:  logger,
	}
}

// Run consumes frames until ctx is cancelled
func (w *Worker) Run(ctx context.Context) {
	w.logger.Info().
		Float64("confidence_threshold", w.opts.ConfidenceThreshold).
		Float64("violence_threshold", w.opts.ViolenceThreshold).
		Msg("Inference worker started")

	for ctx.Err() == nil {
		frame, ok := w.frames.Pop(ctx, w.opts.Idle)
		if !ok {
			continue
		}
		w.handle(ctx, frame)
	}

	w.logger.Info().Uint64("processed", w.processed.Load()).Msg("Inference worker stopped")
}

func (w *Worker) handle(ctx context.Context, frame *models.Frame) {
	start := time.Now()

	pf, err := w.Process(ctx, frame)
	if err != nil {
		w.errors.Add(1)
		w.logger.Warn().Err(err).Uint64("frame_seq", frame.Sequence).Msg("Inference failed, skipping frame")
		return
	}
	w.processed.Add(1)

	if pf.ViolenceDetected {
		w.violent.Add(1)
		w.logger.Info().
			Uint64("frame_seq", frame.Sequence).
			Int("objects", len(pf.Detections.Objects)).
			Bool("has_weapons", pf.HasWeapons).
			Floats64("scores", pf.ViolenceScores).
			Msg("Violence detected")
	}

	if !w.results.TryPush(pf) {
		w.resultsDropped.Add(1)
		w.logger.Debug().Uint64("frame_seq", frame.Sequence).Msg("Result queue full, dropping result")
	}

	w.logger.Debug().
		Uint64("frame_seq", frame.Sequence).
		Dur("processing_time", time.Since(start)).
		Msg("Frame processed")
}

// Process runs one frame through the model, post-processing and scoring.
// Panics inside the model or preprocessor are returned as errors.
func (w *Worker) Process(ctx context.Context, frame *models.Frame) (pf *models.ProcessedFrame, err error) {
	defer func() {
		if r := recover(); r != nil {
			pf = nil
			err = fmt.Errorf("inference panic: %v", r)
		}
	}()

	input, err := w.prep.Prepare(frame)
	if err != nil {
		return nil, fmt.Errorf("preprocess: %w", err)
	}

	preds, err := w.model.Detect(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("detect: %w", err)
	}

	res := detection.PostProcess(preds, w.table, w.opts.ConfidenceThreshold, input, frame.Width, frame.Height)
	if res.UnknownIDs > 0 {
		w.unknownClasses.Add(uint64(res.UnknownIDs))
		w.logger.Debug().Int("unknown_ids", res.UnknownIDs).Msg("Skipped predictions with unmapped class ids")
	}

	assessment := Score(res.Objects, w.opts.ViolenceThreshold)

	return &models.ProcessedFrame{
		Frame: frame,
		Detections: models.DetectionSet{
			Objects:     res.Objects,
			FrameWidth:  frame.Width,
			FrameHeight: frame.Height,
			CapturedAt:  frame.Timestamp,
		},
		Timestamp:        time.Now(),
		ViolenceDetected: assessment.Violent,
		ViolenceScores:   assessment.Scores,
		HasWeapons:       assessment.HasWeapons,
	}, nil
}

// Stats returns the worker counters
func (w *Worker) Stats() Stats {
	return Stats{
		Processed:      w.processed.Load(),
		Errors:         w.errors.Load(),
		Violent:        w.violent.Load(),
		ResultsDropped: w.resultsDropped.Load(),
		UnknownClasses: w.unknownClasses.Load(),
	}
}
