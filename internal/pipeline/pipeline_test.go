package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sentinel-edge-go/internal/config"
	"sentinel-edge-go/internal/models"
	"sentinel-edge-go/internal/services/capture"
	"sentinel-edge-go/internal/services/geospatial"
	"sentinel-edge-go/internal/services/reasoning"
)

// closeLog records the order in which handles are closed
type closeLog struct {
	mu    sync.Mutex
	order []string
}

func (l *closeLog) add(name string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.order = append(l.order, name)
}

func (l *closeLog) get() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.order...)
}

type fakeSource struct {
	log *closeLog
}

func (s *fakeSource) Read() (*models.Frame, error) {
	return &models.Frame{Width: 100, Height: 100, Data: make([]byte, 100*100*3)}, nil
}

func (s *fakeSource) Close() error {
	s.log.add("capture")
	return nil
}

type fakeSensor struct {
	log   *closeLog
	lines chan string
}

func (s *fakeSensor) ReadLine() (string, error) {
	select {
	case l := <-s.lines:
		return l, nil
	case <-time.After(5 * time.Millisecond):
		return "", geospatial.ErrNoReading
	}
}

func (s *fakeSensor) Close() error {
	s.log.add("sensor")
	return nil
}

type passthroughPrep struct{}

func (passthroughPrep) Prepare(f *models.Frame) (*models.ModelInput, error) {
	return &models.ModelInput{FrameSequence: f.Sequence, Width: f.Width, Height: f.Height}, nil
}

// fighters reports a fighting detection on every frame
type fighters struct{}

func (fighters) Detect(context.Context, *models.ModelInput) ([]models.RawPrediction, error) {
	return []models.RawPrediction{
		{ClassID: 1, Confidence: 0.9, Box: models.BoundingBox{X1: 10, Y1: 10, X2: 40, Y2: 40}},
	}, nil
}

type fixedAnalyzer struct{}

func (fixedAnalyzer) Analyze(context.Context, reasoning.Summary, models.GeospatialSnapshot) models.Verdict {
	return models.Verdict{RiskLevel: models.RiskHigh, ViolenceType: "fighting", WeaponTypes: []string{}, RecommendedActions: []string{}}
}

type rawEncoder struct{}

func (rawEncoder) Encode(*models.Frame) ([]byte, error) { return []byte{0xff, 0xd8}, nil }

func testConfig(serverURL string) *config.Config {
	return &config.Config{
		DeviceID:            "edge-test",
		CaptureInterval:     5 * time.Millisecond,
		ProcessEveryNFrames: 1,
		FrameQueueSize:      10,
		ResultQueueSize:     10,
		OutboundQueueSize:   10,
		ConfidenceThreshold: 0.5,
		ViolenceThreshold:   0.7,
		WorkerIdle:          5 * time.Millisecond,
		ServerURL:           serverURL,
		MaxRetries:          3,
		RetryDelay:          10 * time.Millisecond,
		HTTPTimeout:         time.Second,
		EventCooldown:       time.Hour,
	}
}

func testComponents() Components {
	return Components{
		Model:    fighters{},
		Prep:     passthroughPrep{},
		Encoder:  rawEncoder{},
		Analyzer: fixedAnalyzer{},
	}
}

func TestPipelineDeliversEvent(t *testing.T) {
	received := make(chan models.EventPayload, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload models.EventPayload
		if err := json.NewDecoder(r.Body).Decode(&payload); err == nil {
			received <- payload
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	closes := &closeLog{}
	sensor := &fakeSensor{log: closes, lines: make(chan string, 1)}
	sensor.lines <- "$GNGGA,120000.00,4807.038,N,01131.000,E,1,08,0.9,545.4,M,46.9,M,,*79"

	p := New(testConfig(srv.URL), Openers{
		Capture:  func() (capture.FrameSource, error) { return &fakeSource{log: closes}, nil },
		Position: func() (geospatial.PositionSource, error) { return sensor, nil },
	}, testComponents())

	require.NoError(t, p.Start())
	assert.True(t, p.IsRunning())
	assert.ErrorIs(t, p.Start(), ErrAlreadyRunning)

	var payload models.EventPayload
	select {
	case payload = <-received:
	case <-time.After(3 * time.Second):
		t.Fatal("no event delivered")
	}

	assert.Equal(t, "edge-test", payload.DeviceID)
	assert.Equal(t, models.RiskHigh, payload.Analysis.RiskLevel)
	assert.NotEmpty(t, payload.ImageData)
	require.Eventually(t, func() bool { return p.Stats().Transmitter.Sent == 1 }, 2*time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, p.Stop(ctx))

	assert.Equal(t, []string{"capture", "sensor"}, closes.get())
	assert.False(t, p.IsRunning())

	stats := p.Stats()
	assert.Equal(t, "stopped", stats.State)
	assert.NotZero(t, stats.Capture.Captured)
	assert.NotZero(t, stats.Inference.Violent)
	assert.Equal(t, uint64(1), stats.Assembler.Assembled, "cooldown allows one event")
	assert.Equal(t, uint64(1), stats.Transmitter.Sent)
	require.NotNil(t, stats.Tracker)

	m := p.MetricsSnapshot()
	assert.Equal(t, stats.Capture.Captured, m.FramesCaptured)
	assert.Equal(t, uint64(1), m.EventsSent)

	assert.ErrorIs(t, p.Stop(ctx), ErrNotRunning)
}

func TestPipelineStartFailsOnCaptureOpen(t *testing.T) {
	p := New(testConfig("http://127.0.0.1:1"), Openers{
		Capture: func() (capture.FrameSource, error) { return nil, errors.New("no camera") },
	}, testComponents())

	err := p.Start()
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "no camera"))
	assert.False(t, p.IsRunning())
	assert.Equal(t, "stopped", p.Stats().State)
}

func TestPipelineStartFailsOnSensorOpen(t *testing.T) {
	closes := &closeLog{}
	p := New(testConfig("http://127.0.0.1:1"), Openers{
		Capture:  func() (capture.FrameSource, error) { return &fakeSource{log: closes}, nil },
		Position: func() (geospatial.PositionSource, error) { return nil, io.ErrUnexpectedEOF },
	}, testComponents())

	require.ErrorIs(t, p.Start(), io.ErrUnexpectedEOF)
	assert.Equal(t, []string{"capture"}, closes.get(), "capture handle released")
	assert.Equal(t, StateStopped, p.getState())
}

func TestPipelineWithoutGeospatial(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	closes := &closeLog{}
	p := New(testConfig(srv.URL), Openers{
		Capture: func() (capture.FrameSource, error) { return &fakeSource{log: closes}, nil },
	}, testComponents())

	require.NoError(t, p.Start())
	require.Eventually(t, func() bool { return p.Stats().Transmitter.Sent == 1 }, 3*time.Second, 10*time.Millisecond)

	loc, ok := p.Location()
	assert.False(t, ok)
	assert.Equal(t, models.UnknownLandUse, loc.LandUse)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, p.Stop(ctx))
	assert.Nil(t, p.Stats().Tracker)
	assert.Equal(t, []string{"capture"}, closes.get())
}

// stuckModel blocks every Detect call until released, ignoring ctx
type stuckModel struct {
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (m *stuckModel) Detect(context.Context, *models.ModelInput) ([]models.RawPrediction, error) {
	m.once.Do(func() { close(m.entered) })
	<-m.release
	return nil, nil
}

func TestPipelineStopTimeoutBlocksRestart(t *testing.T) {
	closes := &closeLog{}
	model := &stuckModel{entered: make(chan struct{}), release: make(chan struct{})}
	comps := testComponents()
	comps.Model = model

	p := New(testConfig("http://127.0.0.1:1"), Openers{
		Capture: func() (capture.FrameSource, error) { return &fakeSource{log: closes}, nil },
	}, comps)

	require.NoError(t, p.Start())
	select {
	case <-model.entered:
	case <-time.After(3 * time.Second):
		t.Fatal("inference never called the model")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, p.Stop(ctx), context.DeadlineExceeded)

	assert.Equal(t, "stopping", p.Stats().State)
	assert.ErrorIs(t, p.Start(), ErrAlreadyRunning)

	close(model.release)
	require.Eventually(t, func() bool { return p.getState() == StateStopped }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, p.Start())
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer stopCancel()
	require.NoError(t, p.Stop(stopCtx))
}

func TestPipelineStartDiscardsStaleFrames(t *testing.T) {
	p := New(testConfig("http://127.0.0.1:1"), Openers{}, testComponents())
	require.True(t, p.frames.TryPush(&models.Frame{Sequence: 1}))
	require.True(t, p.results.TryPush(&models.ProcessedFrame{}))
	require.True(t, p.outbound.TryPush(&models.EventRecord{}))

	p.discardStale()

	assert.Zero(t, p.frames.Len())
	assert.Zero(t, p.results.Len())
	assert.Equal(t, 1, p.outbound.Len())
}
