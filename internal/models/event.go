package models

import "time"

// RiskLevel is the reasoning service's risk assessment
type RiskLevel string

const (
	RiskLow     RiskLevel = "low"
	RiskMedium  RiskLevel = "medium"
	RiskHigh    RiskLevel = "high"
	RiskUnknown RiskLevel = "unknown"
)

// IsValid reports whether r is one of low, medium or high
func (r RiskLevel) IsValid() bool {
	switch r {
	case RiskLow, RiskMedium, RiskHigh:
		return true
	default:
		return false
	}
}

// Weight maps risk to the numeric scale used by analytics (low 1, medium 2, high 3)
func (r RiskLevel) Weight() int {
	switch r {
	case RiskHigh:
		return 3
	case RiskMedium:
		return 2
	case RiskLow:
		return 1
	default:
		return 0
	}
}

// Verdict is the structured assessment returned by the reasoning service
type Verdict struct {
	NumPeople          int       `json:"num_people"`
	ViolenceType       string    `json:"violence_type"`
	WeaponsPresent     bool      `json:"weapons_present"`
	WeaponTypes        []string  `json:"weapon_types"`
	RiskLevel          RiskLevel `json:"risk_level"`
	TerrainContext     string    `json:"terrain_context"`
	RecommendedActions []string  `json:"recommended_actions"`
	Error              string    `json:"error,omitempty"`
}

// UnknownVerdict is returned in place of a verdict when the reasoning
// service fails.
func UnknownVerdict(reason string) Verdict {
	return Verdict{
		ViolenceType:       "Unknown",
		WeaponTypes:        []string{},
		RiskLevel:          RiskUnknown,
		TerrainContext:     "Unknown",
		RecommendedActions: []string{},
		Error:              reason,
	}
}

// EventRecord is an assembled incident ready for transmission
type EventRecord struct {
	ID             string
	Timestamp      time.Time
	Frame          *Frame
	Detections     DetectionSet
	ViolenceScores []float64
	HasWeapons     bool
	Location       GeospatialSnapshot
	Verdict        Verdict
}
