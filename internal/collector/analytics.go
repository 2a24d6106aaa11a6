package collector

import (
	"math"
	"sort"
	"time"

	"sentinel-edge-go/internal/models"
)

const (
	earthRadiusMeters = 6371000.0

	// ZoneRadiusMeters and ZoneWindow bound the events that feed zone risk
	ZoneRadiusMeters = 1000.0
	ZoneWindow       = time.Hour

	DefaultHotspotRadius    = 1000.0
	DefaultHotspotMinEvents = 3
	hotspotRecentEvents     = 5
)

// severityBase is also the fallback for unknown risk levels
func severityBase(risk string) float64 {
	switch models.RiskLevel(risk) {
	case models.RiskHigh:
		return 1.0
	case models.RiskMedium:
		return 0.6
	default:
		return 0.3
	}
}

// SeverityScore rates an event in [0, 1] from its risk level, weapons and
// head count.
func SeverityScore(risk string, weapons bool, people int) float64 {
	score := severityBase(risk)
	if weapons {
		score *= 1.5
	}
	peopleFactor := math.Min(float64(people)/10, 1.0)
	if peopleFactor < 0 {
		peopleFactor = 0
	}
	score *= 1 + peopleFactor
	return math.Min(score, 1.0)
}

// ZoneRisk averages risk weights (low 1, medium 2, high 3) over nearby
// events. Unknown levels are skipped and an empty zone is low.
func ZoneRisk(levels []string) models.RiskLevel {
	sum, n := 0, 0
	for _, l := range levels {
		w := models.RiskLevel(l).Weight()
		if w == 0 {
			continue
		}
		sum += w
		n++
	}
	if n == 0 {
		return models.RiskLow
	}

	avg := float64(sum) / float64(n)
	switch {
	case avg >= 2.5:
		return models.RiskHigh
	case avg >= 1.5:
		return models.RiskMedium
	default:
		return models.RiskLow
	}
}

// Haversine returns the great-circle distance in metres
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	φ1 := lat1 * math.Pi / 180
	φ2 := lat2 * math.Pi / 180
	dφ := (lat2 - lat1) * math.Pi / 180
	dλ := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(dφ/2)*math.Sin(dφ/2) +
		math.Cos(φ1)*math.Cos(φ2)*math.Sin(dλ/2)*math.Sin(dλ/2)
	return 2 * earthRadiusMeters * math.Asin(math.Min(1, math.Sqrt(a)))
}

// Within keeps the events no further than radius metres from lat/lon
func Within(events []Event, lat, lon, radius float64) []Event {
	var out []Event
	for _, e := range events {
		if Haversine(lat, lon, e.Latitude, e.Longitude) <= radius {
			out = append(out, e)
		}
	}
	return out
}

// HeatPoint is [latitude, longitude, intensity] with intensity 1 to 3
type HeatPoint [3]float64

func Heatmap(events []Event) []HeatPoint {
	points := make([]HeatPoint, 0, len(events))
	for _, e := range events {
		w := models.RiskLevel(e.RiskLevel).Weight()
		if w == 0 {
			w = 1
		}
		points = append(points, HeatPoint{e.Latitude, e.Longitude, float64(w)})
	}
	return points
}

// Summary aggregates events over a time range
type Summary struct {
	TimeRangeHours   int            `json:"time_range_hours"`
	TotalEvents      int            `json:"total_events"`
	ByRiskLevel      map[string]int `json:"by_risk_level"`
	WithWeapons      int            `json:"events_with_weapons"`
	TotalPeople      int            `json:"total_people"`
	AverageSeverity  float64        `json:"average_severity"`
	WeaponStatistics map[string]int `json:"weapon_statistics"`
}

func Summarize(events []Event, hours int) Summary {
	s := Summary{
		TimeRangeHours:   hours,
		TotalEvents:      len(events),
		ByRiskLevel:      map[string]int{},
		WeaponStatistics: map[string]int{},
	}

	var severity float64
	for _, e := range events {
		s.ByRiskLevel[e.RiskLevel]++
		s.TotalPeople += e.NumPeople
		severity += e.SeverityScore
		if e.WeaponsPresent {
			s.WithWeapons++
		}
		for _, w := range decodeStrings(e.WeaponTypes) {
			s.WeaponStatistics[w]++
		}
	}
	if len(events) > 0 {
		s.AverageSeverity = severity / float64(len(events))
	}
	return s
}

type RecentEvent struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	RiskLevel string    `json:"risk_level"`
}

// Hotspot is a cluster of events within a radius of its seed
type Hotspot struct {
	Latitude        float64       `json:"latitude"`
	Longitude       float64       `json:"longitude"`
	EventCount      int           `json:"event_count"`
	AverageSeverity float64       `json:"average_severity"`
	DominantRisk    string        `json:"dominant_risk"`
	RecentEvents    []RecentEvent `json:"recent_events"`
}

// Hotspots clusters events greedily: each unassigned event, newest first,
// seeds a cluster of the unassigned events within radius metres. Clusters
// with at least minEvents members are returned, largest first. events must
// be ordered newest first.
func Hotspots(events []Event, radius float64, minEvents int) []Hotspot {
	assigned := make([]bool, len(events))
	hotspots := []Hotspot{}

	for i, seed := range events {
		if assigned[i] {
			continue
		}

		var idx []int
		for j := i; j < len(events); j++ {
			if assigned[j] {
				continue
			}
			if Haversine(seed.Latitude, seed.Longitude, events[j].Latitude, events[j].Longitude) <= radius {
				idx = append(idx, j)
				assigned[j] = true
			}
		}

		if len(idx) < minEvents {
			// Too small to report; free the members for later seeds
			for _, j := range idx[1:] {
				assigned[j] = false
			}
			continue
		}

		members := make([]Event, len(idx))
		for k, j := range idx {
			members[k] = events[j]
		}
		hotspots = append(hotspots, newHotspot(members))
	}

	sort.SliceStable(hotspots, func(a, b int) bool {
		return hotspots[a].EventCount > hotspots[b].EventCount
	})
	return hotspots
}

func newHotspot(members []Event) Hotspot {
	h := Hotspot{EventCount: len(members)}

	var lat, lon, severity float64
	counts := map[string]int{}
	for _, m := range members {
		lat += m.Latitude
		lon += m.Longitude
		severity += m.SeverityScore
		counts[m.RiskLevel]++
	}
	n := float64(len(members))
	h.Latitude = lat / n
	h.Longitude = lon / n
	h.AverageSeverity = severity / n
	h.DominantRisk = dominant(counts)

	for i, m := range members {
		if i == hotspotRecentEvents {
			break
		}
		h.RecentEvents = append(h.RecentEvents, RecentEvent{ID: m.ID, Timestamp: m.OccurredAt, RiskLevel: m.RiskLevel})
	}
	return h
}

// dominant picks the most frequent risk level, preferring the more severe
// level on ties.
func dominant(counts map[string]int) string {
	levels := make([]string, 0, len(counts))
	for level := range counts {
		levels = append(levels, level)
	}
	sort.Slice(levels, func(a, b int) bool {
		la, lb := levels[a], levels[b]
		if counts[la] != counts[lb] {
			return counts[la] > counts[lb]
		}
		if wa, wb := models.RiskLevel(la).Weight(), models.RiskLevel(lb).Weight(); wa != wb {
			return wa > wb
		}
		return la < lb
	})
	return levels[0]
}
