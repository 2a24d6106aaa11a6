package geospatial

import (
	"strings"
	"time"

	nmea "github.com/adrianmo/go-nmea"

	"sentinel-edge-go/internal/models"
)

// fixParser turns NMEA sentences into fixes. GGA from any talker is the
// fix report; HDT and RMC only update the heading carried by later fixes.
type fixParser struct {
	heading float64
	sawHDT  bool
}

// Parse handles one line. ok is true when the line produced a usable fix.
func (p *fixParser) Parse(line string, now time.Time) (fix models.Fix, ok bool, err error) {
	line = strings.TrimSpace(line)
	if line == "" || line[0] != '$' {
		return fix, false, nil
	}

	s, err := nmea.Parse(line)
	if err != nil {
		return fix, false, err
	}

	switch m := s.(type) {
	case nmea.GGA:
		if m.FixQuality == nmea.Invalid {
			return fix, false, nil
		}
		return models.Fix{
			Latitude:  m.Latitude,
			Longitude: m.Longitude,
			Altitude:  m.Altitude,
			Heading:   p.heading,
			Timestamp: now,
		}, true, nil
	case nmea.HDT:
		p.heading = m.Heading
		p.sawHDT = true
	case nmea.RMC:
		// course over ground stands in for heading until an HDT is seen
		if !p.sawHDT && m.Validity == nmea.ValidRMC {
			p.heading = m.Course
		}
	}
	return fix, false, nil
}
