// Package gps turns NMEA sentences from a GPS receiver into position fixes.
//
// Only the recommended-minimum sentence (RMC, any talker) carries a fix.
// Every other sentence type is ignored. A receiver that has not yet
// acquired satellites reports latitude and longitude as exactly zero; that
// sentinel is treated as "no fix", not as a position in the Gulf of Guinea.
package gps

import (
	"errors"
	"fmt"
	"strings"
	"time"

	nmea "github.com/adrianmo/go-nmea"

	"github.com/unklstewy/heliostat/pkg/coordinates"
)

// ErrParse is returned for sentences that cannot be decoded.
var ErrParse = errors.New("nmea parse error")

// Fix is a GPS-derived position and UTC time sample. It is an immutable
// value; a newer fix replaces an older one.
type Fix struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Time      time.Time `json:"time"`
}

// IsZero reports whether f is the empty fix.
func (f Fix) IsZero() bool {
	return f.Latitude == 0 && f.Longitude == 0 && f.Time.IsZero()
}

// String formats the fix the way the operator display shows it.
func (f Fix) String() string {
	return fmt.Sprintf("%.6f, %.6f @ %s", f.Latitude, f.Longitude, f.Time.UTC().Format(time.RFC3339))
}

// Stats counts the sentences seen by a FixSource.
type Stats struct {
	Fixes    uint64 `json:"fixes"`    // valid fixes returned
	NoFix    uint64 `json:"no_fix"`   // RMC sentences without a usable fix
	Ignored  uint64 `json:"ignored"`  // non-RMC sentences
	Rejected uint64 `json:"rejected"` // parse errors and invalid coordinates
}

// FixSource extracts fixes from framed NMEA lines. It has no side effects
// beyond its counters and must not drive motion itself.
type FixSource struct {
	stats Stats
}

// NewFixSource creates a FixSource.
func NewFixSource() *FixSource {
	return &FixSource{}
}

// OnLine parses one line. It returns (fix, true, nil) for a valid fix,
// (Fix{}, false, nil) for sentences that carry no fix, and an error wrapping
// ErrParse or coordinates.ErrInvalidCoordinate for bad input. Errors are
// not fatal; callers log and drop them.
func (s *FixSource) OnLine(line string) (Fix, bool, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		s.stats.Ignored++
		return Fix{}, false, nil
	}

	sentence, err := nmea.Parse(line)
	if err != nil {
		s.stats.Rejected++
		return Fix{}, false, fmt.Errorf("%w: %v", ErrParse, err)
	}

	if sentence.DataType() != nmea.TypeRMC {
		s.stats.Ignored++
		return Fix{}, false, nil
	}

	m := sentence.(nmea.RMC)
	if m.Validity != nmea.ValidRMC || !m.Date.Valid || !m.Time.Valid {
		s.stats.NoFix++
		return Fix{}, false, nil
	}
	if m.Latitude == 0 && m.Longitude == 0 {
		s.stats.NoFix++
		return Fix{}, false, nil
	}
	if err := coordinates.ValidateLatLon(m.Latitude, m.Longitude); err != nil {
		s.stats.Rejected++
		return Fix{}, false, err
	}

	s.stats.Fixes++
	return Fix{
		Latitude:  m.Latitude,
		Longitude: m.Longitude,
		Time:      rmcTime(m.Date, m.Time),
	}, true, nil
}

// Stats returns a copy of the counters.
func (s *FixSource) Stats() Stats {
	return s.stats
}

// rmcTime combines the RMC date and time into a UTC instant. Two digit
// years from 80 upward belong to the 1900s.
func rmcTime(d nmea.Date, t nmea.Time) time.Time {
	year := 2000 + d.YY
	if d.YY >= 80 {
		year = 1900 + d.YY
	}
	return time.Date(year, time.Month(d.MM), d.DD,
		t.Hour, t.Minute, t.Second, t.Millisecond*int(time.Millisecond), time.UTC)
}
