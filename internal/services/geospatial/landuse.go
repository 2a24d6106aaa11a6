package geospatial

import (
	"encoding/json"
	"fmt"
	"os"

	geom "github.com/peterstace/simplefeatures/geom"

	"sentinel-edge-go/internal/models"
)

// LandUseSource labels a WGS84 position with the land use containing it
type LandUseSource interface {
	LandUse(lon, lat float64) string
}

type landUseFeature struct {
	geometry geom.Geometry
	label    string
}

// PolygonLayer is a set of labelled land-use polygons
type PolygonLayer struct {
	features []landUseFeature
}

// LoadLandUse reads a GeoJSON FeatureCollection in WGS84. Each polygonal
// feature is labelled from the given property.
func LoadLandUse(path, property string) (*PolygonLayer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read land use layer %s: %w", path, err)
	}
	layer, err := ParseLandUse(data, property)
	if err != nil {
		return nil, fmt.Errorf("failed to parse land use layer %s: %w", path, err)
	}
	return layer, nil
}

// ParseLandUse parses GeoJSON FeatureCollection bytes
func ParseLandUse(data []byte, property string) (*PolygonLayer, error) {
	var fc geom.GeoJSONFeatureCollection
	if err := json.Unmarshal(data, &fc); err != nil {
		return nil, err
	}

	layer := &PolygonLayer{}
	for _, f := range fc {
		switch f.Geometry.Type() {
		case geom.TypePolygon, geom.TypeMultiPolygon:
		default:
			continue
		}

		raw, ok := f.Properties[property]
		if !ok || raw == nil {
			continue
		}
		label, ok := raw.(string)
		if !ok {
			label = fmt.Sprint(raw)
		}
		if label == "" {
			continue
		}
		layer.features = append(layer.features, landUseFeature{geometry: f.Geometry, label: label})
	}
	return layer, nil
}

// Len returns the number of usable polygons
func (l *PolygonLayer) Len() int {
	return len(l.features)
}

// LandUse returns the label of the first polygon containing the point, or
// "unknown".
func (l *PolygonLayer) LandUse(lon, lat float64) string {
	pt, err := geom.NewPoint(geom.Coordinates{XY: geom.XY{X: lon, Y: lat}, Type: geom.DimXY})
	if err != nil {
		return models.UnknownLandUse
	}
	for _, f := range l.features {
		inside, err := geom.Contains(f.geometry, pt.AsGeometry())
		if err == nil && inside {
			return f.label
		}
	}
	return models.UnknownLandUse
}
