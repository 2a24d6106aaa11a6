package geospatial

import (
	"fmt"

	"sentinel-edge-go/internal/models"
)

// Thresholds are the elevation (metres) and slope (degrees) breakpoints of
// the terrain rule table.
type Thresholds struct {
	ElevationLow      float64
	ElevationMedium   float64
	ElevationHigh     float64
	ElevationMountain float64

	SlopeFlat     float64
	SlopeGentle   float64
	SlopeModerate float64
	SlopeSteep    float64
}

var DefaultThresholds = Thresholds{
	ElevationLow:      0,
	ElevationMedium:   500,
	ElevationHigh:     1500,
	ElevationMountain: 2500,

	SlopeFlat:     2,
	SlopeGentle:   5,
	SlopeModerate: 15,
	SlopeSteep:    30,
}

// Classification is the result of scoring one elevation/slope pair
type Classification struct {
	Type        models.TerrainType
	Confidence  float64
	Description string
	Scores      map[models.TerrainType]float64
}

// Classify scores each terrain type with the rule table and returns the
// winner. Rules:
//
//	low and gentle            urban +0.8, suburban +0.4
//	above mountain or steep   mountain +0.8
//	low and moderate, else    suburban +0.6, rural +0.4
//	nothing reached 0.4       rural +0.5
//
// The third rule only applies when the first did not. Ties go to the
// earlier entry of models.TerrainTypes.
func (t Thresholds) Classify(elevation, slope float64) Classification {
	scores := make(map[models.TerrainType]float64, len(models.TerrainTypes))

	lowGentle := elevation < t.ElevationMedium && slope < t.SlopeGentle
	if lowGentle {
		scores[models.TerrainUrban] += 0.8
		scores[models.TerrainSuburban] += 0.4
	}
	if elevation > t.ElevationMountain || slope > t.SlopeSteep {
		scores[models.TerrainMountain] += 0.8
	}
	if !lowGentle && elevation < t.ElevationMedium && slope < t.SlopeModerate {
		scores[models.TerrainSuburban] += 0.6
		scores[models.TerrainRural] += 0.4
	}

	floor := true
	for _, s := range scores {
		if s >= 0.4 {
			floor = false
			break
		}
	}
	if floor {
		scores[models.TerrainRural] += 0.5
	}

	best := models.TerrainRural
	bestScore := -1.0
	for _, tt := range models.TerrainTypes {
		if s := scores[tt]; s > bestScore {
			best, bestScore = tt, s
		}
	}

	return Classification{
		Type:        best,
		Confidence:  bestScore,
		Description: Describe(best, elevation, slope),
		Scores:      scores,
	}
}

// Describe renders a human readable terrain summary
func Describe(tt models.TerrainType, elevation, slope float64) string {
	switch tt {
	case models.TerrainUrban:
		return fmt.Sprintf("Urban area at %.1fm elevation. Relatively flat terrain with %.1f° slope.", elevation, slope)
	case models.TerrainSuburban:
		return fmt.Sprintf("Suburban region at %.1fm elevation. Gentle slopes of %.1f°.", elevation, slope)
	case models.TerrainRural:
		return fmt.Sprintf("Rural area at %.1fm elevation. Mixed terrain with %.1f° slope.", elevation, slope)
	case models.TerrainMountain:
		return fmt.Sprintf("Mountainous terrain at %.1fm elevation. Steep slopes of %.1f°.", elevation, slope)
	case models.TerrainWater:
		return fmt.Sprintf("Water body at %.1fm elevation.", elevation)
	case models.TerrainGrassland:
		return fmt.Sprintf("Grassland at %.1fm elevation. Gentle terrain with %.1f° slope.", elevation, slope)
	case models.TerrainForest:
		return fmt.Sprintf("Forested area at %.1fm elevation. Variable terrain with %.1f° slope.", elevation, slope)
	case models.TerrainDesert:
		return fmt.Sprintf("Desert region at %.1fm elevation. Terrain slope: %.1f°.", elevation, slope)
	default:
		return "Undefined terrain type"
	}
}
