package inference

import (
	"math"

	"sentinel-edge-go/internal/models"
)

const (
	// ProximityThreshold is the box-relative center distance under which two
	// people count as being in contact
	ProximityThreshold = 0.2
	// ProximityScore is the suspicion score added per close person pair
	ProximityScore = 0.6
)

var violenceClasses = map[models.ObjectClass]bool{
	models.ClassFighting:          true,
	models.ClassPunching:          true,
	models.ClassKicking:           true,
	models.ClassAggressiveGesture: true,
	models.ClassGroupViolence:     true,
}

var weaponClasses = map[models.ObjectClass]bool{
	models.ClassWeapon: true,
	models.ClassKnife:  true,
	models.ClassGun:    true,
}

// IsViolenceClass reports membership in the violence class set
func IsViolenceClass(c models.ObjectClass) bool { return violenceClasses[c] }

// IsWeaponClass reports membership in the weapon class set
func IsWeaponClass(c models.ObjectClass) bool { return weaponClasses[c] }

// Assessment is the outcome of scoring one detection set
type Assessment struct {
	Scores     []float64
	HasWeapons bool
	Violent    bool
}

// MaxScore returns the largest score, 0 when there are none
func (a Assessment) MaxScore() float64 {
	if len(a.Scores) == 0 {
		return 0
	}
	m := a.Scores[0]
	for _, s := range a.Scores[1:] {
		m = math.Max(m, s)
	}
	return m
}

// Score applies the violence heuristic. Objects are visited in order; each
// violence or weapon detection contributes its confidence, and each person
// contributes ProximityScore for every other person whose center lies within
// ProximityThreshold of it, measured in units of its own box diagonal. Pairs
// are ordered, so a close pair usually contributes twice.
func Score(objects []models.DetectedObject, violenceThreshold float64) Assessment {
	var a Assessment

	for i, obj := range objects {
		if violenceClasses[obj.Class] {
			a.Scores = append(a.Scores, obj.Confidence)
		}

		if weaponClasses[obj.Class] {
			a.HasWeapons = true
			a.Scores = append(a.Scores, obj.Confidence)
		}

		if obj.Class != models.ClassPerson {
			continue
		}
		for j, other := range objects {
			if j == i || other.Class != models.ClassPerson {
				continue
			}
			if boxRelativeDistance(obj.Box, other.Box) < ProximityThreshold {
				a.Scores = append(a.Scores, ProximityScore)
			}
		}
	}

	a.Violent = len(a.Scores) > 0 && (a.MaxScore() > violenceThreshold || a.HasWeapons)
	return a
}

// boxRelativeDistance is the center distance divided by the diagonal of a.
// A degenerate a yields +Inf or NaN, neither of which is under threshold.
func boxRelativeDistance(a, b models.BoundingBox) float64 {
	ax, ay := a.Center()
	bx, by := b.Center()
	return math.Hypot(ax-bx, ay-by) / a.Diagonal()
}
