package models

import "time"

// TerrainType enumerates terrain categories. Order matters: classification
// ties resolve to the earliest entry in TerrainTypes.
type TerrainType string

const (
	TerrainUrban     TerrainType = "urban"
	TerrainSuburban  TerrainType = "suburban"
	TerrainRural     TerrainType = "rural"
	TerrainForest    TerrainType = "forest"
	TerrainMountain  TerrainType = "mountain"
	TerrainWater     TerrainType = "water"
	TerrainGrassland TerrainType = "grassland"
	TerrainDesert    TerrainType = "desert"
)

var TerrainTypes = []TerrainType{
	TerrainUrban,
	TerrainSuburban,
	TerrainRural,
	TerrainForest,
	TerrainMountain,
	TerrainWater,
	TerrainGrassland,
	TerrainDesert,
}

// UnknownLandUse is reported when no land-use polygon contains the position
const UnknownLandUse = "unknown"

// GeospatialSnapshot is the published geospatial state. Instances are never
// mutated after publication.
type GeospatialSnapshot struct {
	Latitude           float64     `json:"latitude"`
	Longitude          float64     `json:"longitude"`
	Altitude           float64     `json:"altitude"`
	Heading            float64     `json:"heading"`
	Elevation          float64     `json:"elevation"`
	Slope              float64     `json:"slope"`
	TerrainType        TerrainType `json:"terrain_type"`
	LandUse            string      `json:"land_use"`
	TerrainConfidence  float64     `json:"terrain_confidence"`
	TerrainDescription string      `json:"terrain_description"`
	Timestamp          time.Time   `json:"timestamp"`
}

// Fix is one position report from the sensor
type Fix struct {
	Latitude  float64
	Longitude float64
	Altitude  float64
	Heading   float64
	Timestamp time.Time
}
