package grbl

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ReplyKind classifies a line received from the motion device.
type ReplyKind int

const (
	// ReplyUnknown is any line that is not one of the other kinds,
	// including "[MSG:...]" feedback and the welcome banner.
	ReplyUnknown ReplyKind = iota
	// ReplyAck is the "ok" acknowledgment of a command.
	ReplyAck
	// ReplyStatus is a "<State|MPos:x,y,z|...>" report.
	ReplyStatus
	// ReplyAlarm is an "ALARM:n" or "error:n" line.
	ReplyAlarm
)

func (k ReplyKind) String() string {
	switch k {
	case ReplyAck:
		return "ack"
	case ReplyStatus:
		return "status"
	case ReplyAlarm:
		return "alarm"
	default:
		return "unknown"
	}
}

// Position is a machine coordinate triple.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// StatusReport is the decoded content of a status line. Firmware set to
// report only the work position ($10=0) leaves MPos out; MachinePos then
// carries the work position, which matches it when no offset is active.
type StatusReport struct {
	State      string    `json:"state"`
	MachinePos Position  `json:"mpos"`
	WorkPos    *Position `json:"wpos,omitempty"`
}

// ReplyEvent is the classification of one reply line.
type ReplyEvent struct {
	Kind   ReplyKind
	Line   string
	Status *StatusReport // set for ReplyStatus
	Code   string        // alarm or error code for ReplyAlarm
	Err    error         // status parse failure, Kind is then ReplyUnknown
}

// IsError reports whether an alarm event came from an "error:" reply
// rather than an "ALARM:" reply.
func (e ReplyEvent) IsError() bool {
	return e.Kind == ReplyAlarm && strings.HasPrefix(strings.ToLower(e.Line), "error")
}

// ErrMalformedStatus is returned by ParseStatus for unparseable reports.
var ErrMalformedStatus = errors.New("malformed status report")

// Classify decodes a reply line without touching any session state.
func Classify(line string) ReplyEvent {
	trimmed := strings.TrimSpace(line)
	ev := ReplyEvent{Kind: ReplyUnknown, Line: trimmed}

	lower := strings.ToLower(trimmed)
	switch {
	case lower == "ok":
		ev.Kind = ReplyAck
	case strings.HasPrefix(trimmed, "<"):
		st, err := ParseStatus(trimmed)
		if err != nil {
			ev.Err = err
			return ev
		}
		ev.Kind = ReplyStatus
		ev.Status = &st
	case strings.HasPrefix(lower, "alarm:"), strings.HasPrefix(lower, "error:"):
		ev.Kind = ReplyAlarm
		ev.Code = strings.TrimSpace(trimmed[strings.IndexByte(trimmed, ':')+1:])
	}
	return ev
}

// ParseStatus decodes a status line in either the GRBL 1.1 form
// "<Idle|MPos:1.000,2.000,0.000|FS:0,0>" or the 0.9 form
// "<Idle,MPos:1.000,2.000,0.000,WPos:1.000,2.000,0.000>".
func ParseStatus(line string) (StatusReport, error) {
	s := strings.TrimSpace(line)
	if !strings.HasPrefix(s, "<") || !strings.HasSuffix(s, ">") {
		return StatusReport{}, fmt.Errorf("%w: %q", ErrMalformedStatus, line)
	}
	s = s[1 : len(s)-1]

	end := strings.IndexAny(s, "|,")
	if end < 0 {
		end = len(s)
	}
	report := StatusReport{State: s[:end]}
	if report.State == "" {
		return StatusReport{}, fmt.Errorf("%w: missing state in %q", ErrMalformedStatus, line)
	}

	mpos, hasMPos, err := positionField(s, "MPos:")
	if err != nil {
		return StatusReport{}, fmt.Errorf("%w: %v", ErrMalformedStatus, err)
	}
	wpos, hasWPos, err := positionField(s, "WPos:")
	if err != nil && !hasMPos {
		return StatusReport{}, fmt.Errorf("%w: %v", ErrMalformedStatus, err)
	}

	switch {
	case hasMPos:
		report.MachinePos = mpos
		if err == nil && hasWPos {
			report.WorkPos = &wpos
		}
	case hasWPos:
		report.MachinePos = wpos
		report.WorkPos = &wpos
	default:
		return StatusReport{}, fmt.Errorf("%w: no MPos or WPos in %q", ErrMalformedStatus, line)
	}
	return report, nil
}

// positionField finds name in s and parses up to three comma separated
// numbers following it.
func positionField(s, name string) (Position, bool, error) {
	i := strings.Index(s, name)
	if i < 0 {
		return Position{}, false, nil
	}
	rest := s[i+len(name):]
	if j := strings.IndexByte(rest, '|'); j >= 0 {
		rest = rest[:j]
	}

	var vals []float64
	for _, tok := range strings.Split(rest, ",") {
		v, err := strconv.ParseFloat(strings.TrimSpace(tok), 64)
		if err != nil {
			break
		}
		vals = append(vals, v)
		if len(vals) == 3 {
			break
		}
	}
	if len(vals) < 2 {
		return Position{}, false, fmt.Errorf("%s needs at least two axes, got %q", strings.TrimSuffix(name, ":"), rest)
	}

	p := Position{X: vals[0], Y: vals[1]}
	if len(vals) == 3 {
		p.Z = vals[2]
	}
	return p, true, nil
}
