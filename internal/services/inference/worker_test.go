package inference

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sentinel-edge-go/internal/models"
	"sentinel-edge-go/internal/services/queue"
)

type identityPrep struct{}

func (identityPrep) Prepare(f *models.Frame) (*models.ModelInput, error) {
	return &models.ModelInput{FrameSequence: f.Sequence, Width: f.Width, Height: f.Height}, nil
}

type modelFunc func(*models.ModelInput) ([]models.RawPrediction, error)

func (m modelFunc) Detect(_ context.Context, in *models.ModelInput) ([]models.RawPrediction, error) {
	return m(in)
}

func newTestWorker(model modelFunc, results int) (*Worker, *queue.Bounded[*models.Frame], *queue.Bounded[*models.ProcessedFrame]) {
	frames := queue.New[*models.Frame](10, queue.DropNewest)
	out := queue.New[*models.ProcessedFrame](results, queue.DropNewest)
	w := NewWorker(frames, out, model, identityPrep{}, models.DefaultClassTable(), Options{
		ConfidenceThreshold: 0.5,
		ViolenceThreshold:   0.7,
		Idle:                time.Millisecond,
	}, zerolog.Nop())
	return w, frames, out
}

func frame(seq uint64) *models.Frame {
	return &models.Frame{Sequence: seq, Width: 100, Height: 100, Timestamp: time.Now()}
}

func TestProcessDetectsWeapon(t *testing.T) {
	w, _, _ := newTestWorker(func(*models.ModelInput) ([]models.RawPrediction, error) {
		return []models.RawPrediction{
			{ClassID: 0, Confidence: 0.9, Box: models.BoundingBox{X1: 0, Y1: 0, X2: 10, Y2: 10}},
			{ClassID: 6, Confidence: 0.55, Box: models.BoundingBox{X1: 50, Y1: 50, X2: 60, Y2: 60}},
			{ClassID: 4, Confidence: 0.3, Box: models.BoundingBox{X1: 50, Y1: 50, X2: 60, Y2: 60}},
		}, nil
	}, 1)

	pf, err := w.Process(context.Background(), frame(1))
	require.NoError(t, err)
	assert.True(t, pf.ViolenceDetected)
	assert.True(t, pf.HasWeapons)
	assert.Len(t, pf.Detections.Objects, 2, "the 0.3 weapon is under the confidence floor")
	assert.Equal(t, 100, pf.Detections.FrameWidth)
}

func TestProcessRecoversModelPanic(t *testing.T) {
	w, _, _ := newTestWorker(func(*models.ModelInput) ([]models.RawPrediction, error) {
		panic("tensor shape mismatch")
	}, 1)

	_, err := w.Process(context.Background(), frame(1))
	assert.ErrorContains(t, err, "tensor shape mismatch")
}

func TestRunSkipsFailedFramesAndContinues(t *testing.T) {
	w, frames, results := newTestWorker(func(in *models.ModelInput) ([]models.RawPrediction, error) {
		if in.FrameSequence == 2 {
			return nil, errors.New("model unavailable")
		}
		return nil, nil
	}, 10)

	for i := uint64(1); i <= 3; i++ {
		require.True(t, frames.TryPush(frame(i)))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	require.Eventually(t, func() bool { return results.Len() == 2 }, time.Second, time.Millisecond)

	first, _ := results.TryPop()
	second, _ := results.TryPop()
	assert.Equal(t, uint64(1), first.Frame.Sequence)
	assert.Equal(t, uint64(3), second.Frame.Sequence)
	assert.False(t, first.ViolenceDetected)

	st := w.Stats()
	assert.Equal(t, uint64(2), st.Processed)
	assert.Equal(t, uint64(1), st.Errors)
}

func TestRunDropsResultsWhenFull(t *testing.T) {
	w, frames, results := newTestWorker(func(*models.ModelInput) ([]models.RawPrediction, error) {
		return []models.RawPrediction{{ClassID: 99, Confidence: 0.9}}, nil
	}, 1)

	for i := uint64(1); i <= 3; i++ {
		frames.TryPush(frame(i))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	require.Eventually(t, func() bool { return w.Stats().ResultsDropped == 2 }, time.Second, time.Millisecond)
	assert.Equal(t, 1, results.Len())
	assert.Equal(t, uint64(3), w.Stats().Processed)
	assert.Equal(t, uint64(3), w.Stats().UnknownClasses)

	kept, _ := results.TryPop()
	assert.Equal(t, uint64(1), kept.Frame.Sequence)
}
