package collector

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/google/uuid"
	geom "github.com/peterstace/simplefeatures/geom"
	"github.com/rs/zerolog"
	"gorm.io/datatypes"

	"sentinel-edge-go/internal/models"
)

var ErrInvalidPayload = errors.New("invalid event payload")

var validID = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// Ingestor turns edge payloads into stored events
type Ingestor struct {
	store    *Store
	imageDir string
	logger   zerolog.Logger
	now      func() time.Time
}

func NewIngestor(store *Store, imageDir string, logger zerolog.Logger) *Ingestor {
	return &Ingestor{
		store:    store,
		imageDir: imageDir,
		logger:   logger,
		now:      time.Now,
	}
}

func validate(p *models.EventPayload) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if !validID.MatchString(p.ID) {
		return fmt.Errorf("%w: malformed id %q", ErrInvalidPayload, p.ID)
	}
	if p.Location.Latitude < -90 || p.Location.Latitude > 90 {
		return fmt.Errorf("%w: latitude %f out of range", ErrInvalidPayload, p.Location.Latitude)
	}
	if p.Location.Longitude < -180 || p.Location.Longitude > 180 {
		return fmt.Errorf("%w: longitude %f out of range", ErrInvalidPayload, p.Location.Longitude)
	}
	if p.Analysis.NumPeople < 0 {
		return fmt.Errorf("%w: negative num_people", ErrInvalidPayload)
	}
	switch p.Analysis.RiskLevel {
	case models.RiskLow, models.RiskMedium, models.RiskHigh, models.RiskUnknown:
	default:
		return fmt.Errorf("%w: risk_level %q", ErrInvalidPayload, p.Analysis.RiskLevel)
	}
	return nil
}

// Ingest validates p, stores its image and the event with severity and zone
// risk. A re-delivered id returns the stored event with ErrDuplicate.
func (in *Ingestor) Ingest(p models.EventPayload) (*Event, error) {
	if err := validate(&p); err != nil {
		return nil, err
	}

	var image []byte
	if p.ImageData != "" {
		var err error
		if image, err = base64.StdEncoding.DecodeString(p.ImageData); err != nil {
			return nil, fmt.Errorf("%w: image_data is not base64: %v", ErrInvalidPayload, err)
		}
	}

	if p.Timestamp.IsZero() {
		p.Timestamp = in.now()
	}

	e := eventFromPayload(p)

	zone, err := in.zoneRisk(e)
	if err != nil {
		return nil, err
	}
	e.ZoneRiskLevel = string(zone)

	if len(image) > 0 {
		path, err := in.saveImage(e.ID, image)
		if err != nil {
			in.logger.Error().Err(err).Str("event_id", e.ID).Msg("Failed to save event image")
		} else {
			e.ImagePath = path
		}
	}

	if err := in.store.Create(e); err != nil {
		if errors.Is(err, ErrDuplicate) {
			existing, getErr := in.store.Get(e.ID)
			if getErr != nil {
				return nil, getErr
			}
			return existing, ErrDuplicate
		}
		if e.ImagePath != "" {
			_ = os.Remove(e.ImagePath)
		}
		return nil, err
	}

	in.logger.Info().
		Str("event_id", e.ID).
		Str("device_id", e.DeviceID).
		Str("risk_level", e.RiskLevel).
		Str("zone_risk", e.ZoneRiskLevel).
		Float64("severity", e.SeverityScore).
		Msg("Event stored")
	return e, nil
}

// zoneRisk rates the area around e from the last hour of events, e included
func (in *Ingestor) zoneRisk(e *Event) (models.RiskLevel, error) {
	recent, err := in.store.Since(in.now().Add(-ZoneWindow))
	if err != nil {
		return "", fmt.Errorf("failed to load recent events: %w", err)
	}

	levels := []string{e.RiskLevel}
	for _, n := range Within(recent, e.Latitude, e.Longitude, ZoneRadiusMeters) {
		levels = append(levels, n.RiskLevel)
	}
	return ZoneRisk(levels), nil
}

func (in *Ingestor) saveImage(id string, data []byte) (string, error) {
	if err := os.MkdirAll(in.imageDir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(in.imageDir, id+".jpg")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

// Image returns the stored JPEG of e as base64, or "" if there is none
func Image(e *Event) string {
	if e.ImagePath == "" {
		return ""
	}
	data, err := os.ReadFile(e.ImagePath)
	if err != nil {
		return ""
	}
	return base64.StdEncoding.EncodeToString(data)
}

func eventFromPayload(p models.EventPayload) *Event {
	a := p.Analysis
	return &Event{
		ID:                 p.ID,
		DeviceID:           p.DeviceID,
		OccurredAt:         p.Timestamp.UTC(),
		Latitude:           p.Location.Latitude,
		Longitude:          p.Location.Longitude,
		Altitude:           p.Location.Altitude,
		Heading:            p.Location.Heading,
		TerrainType:        p.Location.TerrainType,
		LandUse:            p.Location.LandUse,
		NumPeople:          a.NumPeople,
		ViolenceType:       a.ViolenceType,
		WeaponsPresent:     a.WeaponsPresent,
		WeaponTypes:        encodeStrings(a.WeaponTypes),
		RiskLevel:          string(a.RiskLevel),
		TerrainContext:     a.TerrainContext,
		RecommendedActions: encodeStrings(a.RecommendedActions),
		AnalysisError:      a.Error,
		SeverityScore:      SeverityScore(string(a.RiskLevel), a.WeaponsPresent, a.NumPeople),
	}
}

func encodeStrings(values []string) datatypes.JSON {
	if len(values) == 0 {
		return datatypes.JSON("[]")
	}
	data, _ := json.Marshal(values)
	return datatypes.JSON(data)
}

func decodeStrings(raw datatypes.JSON) []string {
	var values []string
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, &values); err != nil {
		return nil
	}
	return values
}

// FeatureCollection renders events as GeoJSON points with their fields as
// properties.
func FeatureCollection(events []Event) geom.GeoJSONFeatureCollection {
	fc := make(geom.GeoJSONFeatureCollection, 0, len(events))
	for _, e := range events {
		pt, err := geom.NewPoint(geom.Coordinates{XY: geom.XY{X: e.Longitude, Y: e.Latitude}, Type: geom.DimXY})
		if err != nil {
			continue
		}
		fc = append(fc, geom.GeoJSONFeature{
			ID:       e.ID,
			Geometry: pt.AsGeometry(),
			Properties: map[string]interface{}{
				"device_id":           e.DeviceID,
				"timestamp":           e.OccurredAt.Format(time.RFC3339Nano),
				"altitude":            e.Altitude,
				"heading":             e.Heading,
				"terrain_type":        e.TerrainType,
				"land_use":            e.LandUse,
				"num_people":          e.NumPeople,
				"violence_type":       e.ViolenceType,
				"weapons_present":     e.WeaponsPresent,
				"weapon_types":        decodeStrings(e.WeaponTypes),
				"risk_level":          e.RiskLevel,
				"terrain_context":     e.TerrainContext,
				"recommended_actions": decodeStrings(e.RecommendedActions),
				"severity_score":      e.SeverityScore,
				"zone_risk_level":     e.ZoneRiskLevel,
			},
		})
	}
	return fc
}
