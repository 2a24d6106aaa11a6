package collector

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"sentinel-edge-go/internal/models"
)

const (
	defaultTimeRangeHours = 24
	maxListLimit          = 1000
)

// EventHandler serves the event and analytics endpoints
type EventHandler struct {
	store    *Store
	ingestor *Ingestor
	hub      *Hub
	logger   zerolog.Logger
	now      func() time.Time
}

func NewEventHandler(store *Store, ingestor *Ingestor, hub *Hub, logger zerolog.Logger) *EventHandler {
	return &EventHandler{
		store:    store,
		ingestor: ingestor,
		hub:      hub,
		logger:   logger,
		now:      time.Now,
	}
}

// EventDetail is a stored event with its image inlined
type EventDetail struct {
	Event
	WeaponTypes        []string `json:"weapon_types"`
	RecommendedActions []string `json:"recommended_actions"`
	ImageData          string   `json:"image_data"`
}

func detail(e *Event, withImage bool) EventDetail {
	d := EventDetail{
		Event:              *e,
		WeaponTypes:        decodeStrings(e.WeaponTypes),
		RecommendedActions: decodeStrings(e.RecommendedActions),
	}
	if d.WeaponTypes == nil {
		d.WeaponTypes = []string{}
	}
	if d.RecommendedActions == nil {
		d.RecommendedActions = []string{}
	}
	if withImage {
		d.ImageData = Image(e)
	}
	return d
}

// CreateEvent accepts an edge payload. Re-delivered ids are acknowledged
// with 200 and not broadcast again.
func (h *EventHandler) CreateEvent(c *gin.Context) {
	var payload models.EventPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "payload too large"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid JSON: %v", err)})
		return
	}

	event, err := h.ingestor.Ingest(payload)
	switch {
	case errors.Is(err, ErrDuplicate):
		c.JSON(http.StatusOK, gin.H{"status": "duplicate", "event": detail(event, false)})
		return
	case errors.Is(err, ErrInvalidPayload):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case err != nil:
		h.logger.Error().Err(err).Msg("Failed to store event")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store event"})
		return
	}

	d := detail(event, false)
	if msg, err := json.Marshal(gin.H{"type": "event", "event": d}); err == nil {
		h.hub.Broadcast(msg)
	}

	c.JSON(http.StatusCreated, gin.H{"status": "stored", "event": d})
}

// ListEvents returns a GeoJSON FeatureCollection, newest first
func (h *EventHandler) ListEvents(c *gin.Context) {
	var f Filter
	var err error

	if f.Start, err = queryTime(c, "start_time"); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if f.End, err = queryTime(c, "end_time"); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if f.Skip, err = queryInt(c, "skip", 0); err != nil || f.Skip < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "skip must be a non-negative integer"})
		return
	}
	if f.Limit, err = queryInt(c, "limit", DefaultLimit); err != nil || f.Limit <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
		return
	}
	if f.Limit > maxListLimit {
		f.Limit = maxListLimit
	}
	f.RiskLevel = c.Query("risk_level")

	events, err := h.store.List(f)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list events")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list events"})
		return
	}
	c.JSON(http.StatusOK, FeatureCollection(events))
}

func (h *EventHandler) GetEvent(c *gin.Context) {
	event, err := h.store.Get(c.Param("id"))
	if errors.Is(err, ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Event not found"})
		return
	}
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to load event")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load event"})
		return
	}
	c.JSON(http.StatusOK, detail(event, true))
}

func (h *EventHandler) Heatmap(c *gin.Context) {
	events, ok := h.recent(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, Heatmap(events))
}

func (h *EventHandler) AnalyticsSummary(c *gin.Context) {
	hours, _ := queryInt(c, "time_range", defaultTimeRangeHours)
	events, ok := h.recent(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, Summarize(events, hours))
}

func (h *EventHandler) Hotspots(c *gin.Context) {
	radius, err := strconv.ParseFloat(c.DefaultQuery("radius", "1000"), 64)
	if err != nil || radius <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "radius must be a positive number"})
		return
	}
	minEvents, err := queryInt(c, "min_events", DefaultHotspotMinEvents)
	if err != nil || minEvents <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "min_events must be a positive integer"})
		return
	}

	events, ok := h.recent(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, Hotspots(events, radius, minEvents))
}

func (h *EventHandler) Feed(c *gin.Context) {
	h.hub.ServeWS(c.Writer, c.Request)
}

// recent loads the events inside the time_range query window (hours).
// It writes the error response itself and reports false on failure.
func (h *EventHandler) recent(c *gin.Context) ([]Event, bool) {
	hours, err := queryInt(c, "time_range", defaultTimeRangeHours)
	if err != nil || hours <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "time_range must be a positive number of hours"})
		return nil, false
	}

	events, err := h.store.Since(h.now().Add(-time.Duration(hours) * time.Hour))
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to load events")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load events"})
		return nil, false
	}
	return events, true
}

func queryInt(c *gin.Context, key string, def int) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}

func queryTime(c *gin.Context, key string) (time.Time, error) {
	raw := c.Query(key)
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s must be RFC3339: %w", key, err)
	}
	return t, nil
}
