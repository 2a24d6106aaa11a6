package reasoning

import (
	"fmt"
	"math"
	"strings"
	"unicode"

	"sentinel-edge-go/internal/models"
)

// NarrativeProximity is the frame-relative center distance below which two
// detections are reported as close
const NarrativeProximity = 0.2

const noRelationships = "No significant spatial relationships detected between objects"

// WeaponCategory groups weapon labels
type WeaponCategory string

const (
	WeaponFirearm    WeaponCategory = "firearm"
	WeaponKnife      WeaponCategory = "knife"
	WeaponBlunt      WeaponCategory = "blunt"
	WeaponImprovised WeaponCategory = "improvised"
)

// ActionCategory groups violent action labels
type ActionCategory string

const (
	ActionPhysical    ActionCategory = "physical"
	ActionThreatening ActionCategory = "threatening"
	ActionGroup       ActionCategory = "group"
)

type keywordSet map[string]struct{}

func newKeywordSet(words ...string) keywordSet {
	s := make(keywordSet, len(words))
	for _, w := range words {
		s[w] = struct{}{}
	}
	return s
}

// Taxonomies are checked in declaration order; the first category with a
// matching token wins.
var weaponTaxonomy = []struct {
	category WeaponCategory
	keywords keywordSet
}{
	{WeaponFirearm, newKeywordSet("pistol", "rifle", "gun", "shotgun", "weapon")},
	{WeaponKnife, newKeywordSet("knife", "blade", "dagger", "sword")},
	{WeaponBlunt, newKeywordSet("bat", "stick", "pipe", "club")},
	{WeaponImprovised, newKeywordSet("bottle", "rock", "brick", "tool")},
}

var actionTaxonomy = []struct {
	category ActionCategory
	keywords keywordSet
}{
	{ActionPhysical, newKeywordSet("fighting", "punching", "kicking", "grappling", "assault")},
	{ActionThreatening, newKeywordSet("pointing", "threatening", "intimidating", "aggressive")},
	{ActionGroup, newKeywordSet("gathering", "crowd", "mob", "gang")},
}

// tokens splits a class name on anything that is not a letter or digit
func tokens(label string) []string {
	return strings.FieldsFunc(strings.ToLower(label), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func (k keywordSet) matches(label string) bool {
	for _, tok := range tokens(label) {
		if _, ok := k[tok]; ok {
			return true
		}
	}
	return false
}

// ClassifyWeapon returns the weapon category of a class name
func ClassifyWeapon(label string) (WeaponCategory, bool) {
	for _, entry := range weaponTaxonomy {
		if entry.keywords.matches(label) {
			return entry.category, true
		}
	}
	return "", false
}

// ClassifyAction returns the violent action category of a class name
func ClassifyAction(label string) (ActionCategory, bool) {
	for _, entry := range actionTaxonomy {
		if entry.keywords.matches(label) {
			return entry.category, true
		}
	}
	return "", false
}

// WeaponMatch is one detection recognised as a weapon
type WeaponMatch struct {
	Class      models.ObjectClass
	Category   WeaponCategory
	Confidence float64
}

// ActionMatch is one detection recognised as a violent action
type ActionMatch struct {
	Class      models.ObjectClass
	Category   ActionCategory
	Confidence float64
}

// Proximity is a pair of detections closer than NarrativeProximity
type Proximity struct {
	A, B     models.ObjectClass
	Distance float64
}

// Summary is the structured description of a detection set handed to the
// reasoning service
type Summary struct {
	Objects   int
	People    int
	Weapons   []WeaponMatch
	Actions   []ActionMatch
	Proximity []Proximity
}

// Summarize builds the summary of set
func Summarize(set models.DetectionSet) Summary {
	s := Summary{Objects: len(set.Objects), People: set.Count(models.ClassPerson)}

	for _, obj := range set.Objects {
		label := obj.Class.String()
		if cat, ok := ClassifyWeapon(label); ok {
			s.Weapons = append(s.Weapons, WeaponMatch{Class: obj.Class, Category: cat, Confidence: obj.Confidence})
		}
		if cat, ok := ClassifyAction(label); ok {
			s.Actions = append(s.Actions, ActionMatch{Class: obj.Class, Category: cat, Confidence: obj.Confidence})
		}
	}

	objs := set.Objects
	for i := 0; i < len(objs); i++ {
		for j := i + 1; j < len(objs); j++ {
			d := FrameDistance(objs[i].Box, objs[j].Box, set.FrameWidth, set.FrameHeight)
			if d < NarrativeProximity {
				s.Proximity = append(s.Proximity, Proximity{A: objs[i].Class, B: objs[j].Class, Distance: d})
			}
		}
	}
	return s
}

// FrameDistance is the distance between box centers with each axis
// normalized by the frame dimension. Non-positive dimensions leave the axis
// unscaled.
func FrameDistance(a, b models.BoundingBox, width, height int) float64 {
	ax, ay := a.Center()
	bx, by := b.Center()
	dx, dy := ax-bx, ay-by
	if width > 0 {
		dx /= float64(width)
	}
	if height > 0 {
		dy /= float64(height)
	}
	return math.Hypot(dx, dy)
}

// WeaponCategories lists the distinct weapon categories in match order
func (s Summary) WeaponCategories() []string {
	seen := make(map[WeaponCategory]bool)
	out := []string{}
	for _, w := range s.Weapons {
		if !seen[w.Category] {
			seen[w.Category] = true
			out = append(out, string(w.Category))
		}
	}
	return out
}

// Text renders the summary as the narrative sent in the prompt
func (s Summary) Text() string {
	var lines []string

	if s.People > 0 {
		noun := "people"
		if s.People == 1 {
			noun = "person"
		}
		lines = append(lines, fmt.Sprintf("Detected %d %s.", s.People, noun))
	}

	if len(s.Weapons) > 0 {
		lines = append(lines, "Weapons detected:")
		for _, w := range s.Weapons {
			lines = append(lines, fmt.Sprintf("- %s (type: %s, confidence: %.2f)", w.Class, w.Category, w.Confidence))
		}
	}

	if len(s.Actions) > 0 {
		lines = append(lines, "Observed actions:")
		for _, a := range s.Actions {
			lines = append(lines, fmt.Sprintf("- %s (type: %s, confidence: %.2f)", a.Class, a.Category, a.Confidence))
		}
	}

	// a single object has no relationships to report
	if s.Objects >= 2 {
		lines = append(lines, s.ProximityText())
	}

	return strings.Join(lines, "\n")
}

// ProximityText renders the pairwise proximity narrative
func (s Summary) ProximityText() string {
	if len(s.Proximity) == 0 {
		return noRelationships
	}
	parts := make([]string, len(s.Proximity))
	for i, p := range s.Proximity {
		parts[i] = fmt.Sprintf("Detected %s is in close proximity to %s", p.A, p.B)
	}
	return "Spatial Analysis:\n- " + strings.Join(parts, "\n- ")
}
