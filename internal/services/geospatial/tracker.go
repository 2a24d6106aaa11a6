// Package geospatial tracks the device position and the terrain and land
// use around it.
package geospatial

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"sentinel-edge-go/internal/models"
)

// Store holds the single current snapshot. Updates replace it wholesale.
type Store struct {
	mu      sync.RWMutex
	current *models.GeospatialSnapshot
}

func NewStore() *Store {
	return &Store{}
}

// Publish replaces the current snapshot with a copy of snap
func (s *Store) Publish(snap models.GeospatialSnapshot) {
	next := snap
	s.mu.Lock()
	s.current = &next
	s.mu.Unlock()
}

// Latest returns a copy of the current snapshot, false before the first fix
func (s *Store) Latest() (models.GeospatialSnapshot, bool) {
	s.mu.RLock()
	cur := s.current
	s.mu.RUnlock()

	if cur == nil {
		return models.GeospatialSnapshot{LandUse: models.UnknownLandUse}, false
	}
	return *cur, true
}

// TrackerStats counts tracker outcomes
type TrackerStats struct {
	Lines        uint64 `json:"lines"`
	Fixes        uint64 `json:"fixes"`
	ParseErrors  uint64 `json:"parse_errors"`
	LookupMisses uint64 `json:"lookup_misses"`
}

type Tracker struct {
	source        PositionSource
	elevation     ElevationSource
	landUse       LandUseSource
	project       Projector
	metersPerUnit float64
	thresholds    Thresholds
	store         *Store
	logger        zerolog.Logger

	parser fixParser

	lines        atomic.Uint64
	fixes        atomic.Uint64
	parseErrors  atomic.Uint64
	lookupMisses atomic.Uint64
}

// TrackerOptions wires the tracker's lookup services. Nil sources degrade
// to zero elevation and unknown land use.
type TrackerOptions struct {
	Elevation     ElevationSource
	LandUse       LandUseSource
	Project       Projector
	MetersPerUnit float64
	Thresholds    *Thresholds
}

func NewTracker(source PositionSource, store *Store, opts TrackerOptions, logger zerolog.Logger) *Tracker {
	t := &Tracker{
		source:        source,
		elevation:     opts.Elevation,
		landUse:       opts.LandUse,
		project:       opts.Project,
		metersPerUnit: opts.MetersPerUnit,
		thresholds:    DefaultThresholds,
		store:         store,
		logger:        logger,
	}
	if opts.Thresholds != nil {
		t.thresholds = *opts.Thresholds
	}
	if t.project == nil {
		t.project = func(lon, lat float64) (float64, float64) { return lon, lat }
	}
	if t.metersPerUnit <= 0 {
		t.metersPerUnit = 1
	}
	return t
}

// Run reads the position stream until ctx is cancelled or the stream ends
func (t *Tracker) Run(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error().Interface("panic", r).Msg("Geospatial tracker panic recovered")
		}
	}()

	t.logger.Info().Msg("Geospatial tracker started")

	for ctx.Err() == nil {
		line, err := t.source.ReadLine()
		if err != nil {
			if errors.Is(err, io.EOF) {
				t.logger.Info().Uint64("fixes", t.fixes.Load()).Msg("Position stream ended")
				return
			}
			if errors.Is(err, ErrNoReading) {
				continue
			}
			t.logger.Warn().Err(err).Msg("Position sensor read failed")
			select {
			case <-ctx.Done():
			case <-time.After(100 * time.Millisecond):
			}
			continue
		}
		t.HandleLine(line)
	}

	t.logger.Info().Msg("Geospatial tracker stopped")
}

// HandleLine processes one sensor line and publishes a snapshot when it
// carries a fix
func (t *Tracker) HandleLine(line string) bool {
	t.lines.Add(1)

	fix, ok, err := t.parser.Parse(line, time.Now())
	if err != nil {
		t.parseErrors.Add(1)
		t.logger.Debug().Err(err).Str("line", line).Msg("Unparsable sensor line")
		return false
	}
	if !ok {
		return false
	}

	t.fixes.Add(1)
	t.store.Publish(t.Locate(fix))
	return true
}

// Locate builds the snapshot for a fix
func (t *Tracker) Locate(fix models.Fix) models.GeospatialSnapshot {
	x, y := t.project(fix.Longitude, fix.Latitude)

	window, misses := SampleWindow(t.elevation, x, y)
	if misses > 0 {
		t.lookupMisses.Add(uint64(misses))
		t.logger.Debug().Int("misses", misses).Float64("lat", fix.Latitude).Float64("lon", fix.Longitude).Msg("Elevation lookups fell back")
	}

	spacing := 0.0
	if t.elevation != nil {
		spacing = t.elevation.CellSize() * t.metersPerUnit
	}
	elevation := window.Center()
	slope := window.Slope(spacing)
	cls := t.thresholds.Classify(elevation, slope)

	landUse := models.UnknownLandUse
	if t.landUse != nil {
		landUse = t.landUse.LandUse(fix.Longitude, fix.Latitude)
	}

	return models.GeospatialSnapshot{
		Latitude:           fix.Latitude,
		Longitude:          fix.Longitude,
		Altitude:           fix.Altitude,
		Heading:            fix.Heading,
		Elevation:          elevation,
		Slope:              slope,
		TerrainType:        cls.Type,
		LandUse:            landUse,
		TerrainConfidence:  cls.Confidence,
		TerrainDescription: cls.Description,
		Timestamp:          fix.Timestamp,
	}
}

// Stats returns the tracker counters
func (t *Tracker) Stats() TrackerStats {
	return TrackerStats{
		Lines:        t.lines.Load(),
		Fixes:        t.fixes.Load(),
		ParseErrors:  t.parseErrors.Load(),
		LookupMisses: t.lookupMisses.Load(),
	}
}
