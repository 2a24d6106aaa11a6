package transmitter

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sentinel-edge-go/internal/models"
	"sentinel-edge-go/internal/services/queue"
)

type fakeEncoder struct {
	data []byte
	err  error
}

func (f fakeEncoder) Encode(*models.Frame) ([]byte, error) { return f.data, f.err }

type recordingPublisher struct {
	mu       sync.Mutex
	subjects []string
	payloads []models.EventPayload
	err      error
}

func (p *recordingPublisher) Publish(subject string, data interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subjects = append(p.subjects, subject)
	p.payloads = append(p.payloads, data.(models.EventPayload))
	return p.err
}

func testEvent() *models.EventRecord {
	return &models.EventRecord{
		ID:        "evt-1",
		Timestamp: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		Frame:     &models.Frame{Sequence: 1, Width: 2, Height: 2, Data: make([]byte, 12)},
		Location: models.GeospatialSnapshot{
			Latitude:    10.5,
			Longitude:   20.25,
			Altitude:    120,
			Heading:     270,
			TerrainType: models.TerrainSuburban,
			LandUse:     "residential",
		},
		Verdict: models.Verdict{
			NumPeople:          2,
			ViolenceType:       "assault",
			WeaponTypes:        []string{},
			RiskLevel:          models.RiskMedium,
			RecommendedActions: []string{"notify"},
		},
	}
}

func newTestTransmitter(url string, delay time.Duration, mirror *recordingPublisher) *Transmitter {
	opts := Options{
		URL:        url,
		DeviceID:   "edge-7",
		MaxRetries: 3,
		RetryDelay: delay,
		Timeout:    time.Second,
		Subject:    "sentinel.events",
	}
	out := queue.New[*models.EventRecord](10, queue.DropNewest)
	if mirror == nil {
		return New(out, fakeEncoder{data: []byte("jpeg")}, nil, opts, zerolog.Nop())
	}
	return New(out, fakeEncoder{data: []byte("jpeg")}, mirror, opts, zerolog.Nop())
}

func TestSendSuccess(t *testing.T) {
	var got models.EventPayload
	var headers http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers = r.Header.Clone()
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	tx := newTestTransmitter(srv.URL, 10*time.Millisecond, nil)
	assert.True(t, tx.Send(context.Background(), testEvent()))

	assert.Equal(t, "application/json", headers.Get("Content-Type"))
	assert.Equal(t, "evt-1", headers.Get("X-Event-ID"))
	assert.Equal(t, "edge-7", headers.Get("X-Device-ID"))

	assert.Equal(t, 10.5, got.Location.Latitude)
	assert.Equal(t, 20.25, got.Location.Longitude)
	assert.Equal(t, 120.0, got.Location.Altitude)
	assert.Equal(t, 270.0, got.Location.Heading)
	assert.Equal(t, "suburban", got.Location.TerrainType)
	assert.Equal(t, "residential", got.Location.LandUse)
	assert.Equal(t, models.RiskMedium, got.Analysis.RiskLevel)
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("jpeg")), got.ImageData)

	stats := tx.Stats()
	assert.Equal(t, uint64(1), stats.Sent)
	assert.Equal(t, uint64(1), stats.Attempts)
	assert.NotZero(t, stats.LastSuccessAt)
}

func TestSendRetriesUntilSuccess(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	tx := newTestTransmitter(srv.URL, 20*time.Millisecond, nil)
	start := time.Now()
	assert.True(t, tx.Send(context.Background(), testEvent()))
	elapsed := time.Since(start)

	assert.Equal(t, int32(3), calls.Load())
	// 20ms after the first failure, 40ms after the second
	assert.GreaterOrEqual(t, elapsed, 60*time.Millisecond)
	assert.Equal(t, uint64(3), tx.Stats().Attempts)
}

func TestSendUnreachableFailsWithinBackoffBudget(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	delay := 50 * time.Millisecond
	tx := newTestTransmitter(url, delay, nil)

	start := time.Now()
	ok := tx.Send(context.Background(), testEvent())
	elapsed := time.Since(start)

	assert.False(t, ok)
	assert.GreaterOrEqual(t, elapsed, delay*3)
	assert.Less(t, elapsed, delay*3+500*time.Millisecond)

	stats := tx.Stats()
	assert.Equal(t, uint64(3), stats.Attempts)
	assert.Equal(t, uint64(1), stats.Failed)
	assert.Zero(t, stats.Sent)
}

func TestSendNon2xxIsFailure(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusMultipleChoices)
	}))
	defer srv.Close()

	tx := newTestTransmitter(srv.URL, time.Millisecond, nil)
	assert.False(t, tx.Send(context.Background(), testEvent()))
	assert.Equal(t, int32(3), calls.Load())
}

func TestSendCancelledStopsRetrying(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	tx := newTestTransmitter(srv.URL, time.Hour, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	assert.False(t, tx.Send(ctx, testEvent()))
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, uint64(1), tx.Stats().Attempts)
}

func TestSendEncodeFailureStillSends(t *testing.T) {
	var got models.EventPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
	}))
	defer srv.Close()

	tx := New(queue.New[*models.EventRecord](1, queue.DropNewest), fakeEncoder{err: errors.New("bad frame")}, nil,
		Options{URL: srv.URL, MaxRetries: 3}, zerolog.Nop())

	assert.True(t, tx.Send(context.Background(), testEvent()))
	assert.Empty(t, got.ImageData)
	assert.Equal(t, uint64(1), tx.Stats().EncodeErrors)
}

func TestSendMirrorsWithoutImage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	mirror := &recordingPublisher{}
	tx := newTestTransmitter(srv.URL, time.Millisecond, mirror)
	require.True(t, tx.Send(context.Background(), testEvent()))

	require.Len(t, mirror.payloads, 1)
	assert.Equal(t, "sentinel.events", mirror.subjects[0])
	assert.Equal(t, "evt-1", mirror.payloads[0].ID)
	assert.Empty(t, mirror.payloads[0].ImageData)
	assert.Equal(t, uint64(1), tx.Stats().Mirrored)

	mirror.err = errors.New("nats down")
	assert.True(t, tx.Send(context.Background(), testEvent()), "mirror errors do not fail delivery")
	assert.Equal(t, uint64(1), tx.Stats().MirrorErrors)
}

func TestRunDrainsOutboundQueue(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	tx := newTestTransmitter(srv.URL, time.Millisecond, nil)
	for i := 0; i < 3; i++ {
		require.True(t, tx.outbound.TryPush(testEvent()))
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		tx.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return tx.Stats().Sent == 3 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	<-done
	assert.Equal(t, int32(3), calls.Load())
}
