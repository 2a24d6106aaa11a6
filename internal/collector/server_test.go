package collector

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sentinel-edge-go/internal/config"
	"sentinel-edge-go/internal/models"
)

func newTestCollector(t *testing.T) (*Server, *Hub) {
	t.Helper()
	cfg := &config.CollectorConfig{Version: "1.2.3", ImageDir: t.TempDir(), MaxBodyBytes: 1 << 20}

	hub := NewHub(zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	t.Cleanup(cancel)

	return NewServer(cfg, openTestStore(t), hub), hub
}

func do(t *testing.T, s *Server, method, path string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func postPayload(t *testing.T, s *Server, p models.EventPayload) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(p)
	require.NoError(t, err)
	return do(t, s, http.MethodPost, "/api/events", body)
}

func TestCreateAndGetEvent(t *testing.T) {
	s, _ := newTestCollector(t)

	p := testPayload("evt-1", models.RiskHigh)
	p.ImageData = base64.StdEncoding.EncodeToString([]byte{0xff, 0xd8, 0xff})

	rec := postPayload(t, s, p)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = do(t, s, http.MethodGet, "/api/events/evt-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var got map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "evt-1", got["id"])
	assert.Equal(t, "high", got["risk_level"])
	assert.Equal(t, p.ImageData, got["image_data"])
	assert.Equal(t, []interface{}{"knife"}, got["weapon_types"])
	assert.Equal(t, 1.0, got["severity_score"])
	assert.NotContains(t, got, "ImagePath")

	// Re-delivery by a retrying transmitter
	rec = postPayload(t, s, p)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "duplicate")

	rec = do(t, s, http.MethodGet, "/api/events/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateEventRejectsBadInput(t *testing.T) {
	s, _ := newTestCollector(t)

	rec := do(t, s, http.MethodPost, "/api/events", []byte(`{"location":`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	p := testPayload("evt-1", models.RiskHigh)
	p.Location.Latitude = 120
	rec = postPayload(t, s, p)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	p = testPayload("evt-2", models.RiskHigh)
	p.ImageData = strings.Repeat("A", 2<<20)
	rec = postPayload(t, s, p)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestListEventsGeoJSON(t *testing.T) {
	s, _ := newTestCollector(t)
	for _, id := range []string{"a", "b", "c"} {
		risk := models.RiskLow
		if id == "b" {
			risk = models.RiskHigh
		}
		require.Equal(t, http.StatusCreated, postPayload(t, s, testPayload(id, risk)).Code)
	}

	rec := do(t, s, http.MethodGet, "/api/events?risk_level=high", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var fc struct {
		Type     string `json:"type"`
		Features []struct {
			ID       string `json:"id"`
			Geometry struct {
				Type        string    `json:"type"`
				Coordinates []float64 `json:"coordinates"`
			} `json:"geometry"`
			Properties map[string]interface{} `json:"properties"`
		} `json:"features"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &fc))
	assert.Equal(t, "FeatureCollection", fc.Type)
	require.Len(t, fc.Features, 1)
	f := fc.Features[0]
	assert.Equal(t, "b", f.ID)
	assert.Equal(t, "Point", f.Geometry.Type)
	assert.Equal(t, []float64{11.5755, 48.1374}, f.Geometry.Coordinates)
	assert.Equal(t, "high", f.Properties["risk_level"])

	rec = do(t, s, http.MethodGet, "/api/events?limit=2", nil)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &fc))
	assert.Len(t, fc.Features, 2)

	for _, q := range []string{"limit=0", "skip=-1", "start_time=yesterday"} {
		rec = do(t, s, http.MethodGet, "/api/events?"+q, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
	}
}

func TestAnalyticsEndpoints(t *testing.T) {
	s, _ := newTestCollector(t)
	for _, id := range []string{"a", "b", "c"} {
		require.Equal(t, http.StatusCreated, postPayload(t, s, testPayload(id, models.RiskHigh)).Code)
	}

	rec := do(t, s, http.MethodGet, "/api/events/heatmap", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var heat [][]float64
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &heat))
	require.Len(t, heat, 3)
	assert.Equal(t, []float64{48.1374, 11.5755, 3}, heat[0])

	rec = do(t, s, http.MethodGet, "/api/analytics/summary?time_range=6", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var summary Summary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	assert.Equal(t, 6, summary.TimeRangeHours)
	assert.Equal(t, 3, summary.TotalEvents)
	assert.Equal(t, 9, summary.TotalPeople)
	assert.Equal(t, 3, summary.WeaponStatistics["knife"])

	rec = do(t, s, http.MethodGet, "/api/analytics/hotspots", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var hotspots []Hotspot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &hotspots))
	require.Len(t, hotspots, 1)
	assert.Equal(t, 3, hotspots[0].EventCount)
	assert.Equal(t, "high", hotspots[0].DominantRisk)

	rec = do(t, s, http.MethodGet, "/api/analytics/hotspots?min_events=4", nil)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &hotspots))
	assert.Empty(t, hotspots)

	rec = do(t, s, http.MethodGet, "/api/analytics/summary?time_range=-1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestFeedBroadcastsNewEvents(t *testing.T) {
	s, hub := newTestCollector(t)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	require.Equal(t, http.StatusCreated, postPayload(t, s, testPayload("evt-ws", models.RiskMedium)).Code)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)

	var frame struct {
		Type  string `json:"type"`
		Event struct {
			ID        string `json:"id"`
			RiskLevel string `json:"risk_level"`
			ImageData string `json:"image_data"`
		} `json:"event"`
	}
	require.NoError(t, json.Unmarshal(msg, &frame))
	assert.Equal(t, "event", frame.Type)
	assert.Equal(t, "evt-ws", frame.Event.ID)
	assert.Equal(t, "medium", frame.Event.RiskLevel)
	assert.Empty(t, frame.Event.ImageData)
}

func TestCollectorHealth(t *testing.T) {
	s, _ := newTestCollector(t)
	rec := do(t, s, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"version":"1.2.3"`)
}
