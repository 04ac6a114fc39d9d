package tracker

import "fmt"

// State is the tracking state of the heliostat. The zero value is
// StateInitial. States are only changed by Machine transitions.
type State int

const (
	// StateInitial is the power-up state, before any homing.
	StateInitial State = iota
	// StateHoming waits for the device to acknowledge the homing sequence.
	StateHoming
	// StateHomed has a known zero reference and is not tracking.
	StateHomed
	// StateTracking follows the sun on every tick.
	StateTracking
	// StateManual follows operator jogs only.
	StateManual
	// StateError is entered on a device alarm and never left.
	StateError
)

// States lists every state in declaration order.
var States = []State{StateInitial, StateHoming, StateHomed, StateTracking, StateManual, StateError}

func (s State) String() string {
	switch s {
	case StateInitial:
		return "INITIAL"
	case StateHoming:
		return "HOMING"
	case StateHomed:
		return "HOMED"
	case StateTracking:
		return "TRACKING"
	case StateManual:
		return "MANUAL"
	case StateError:
		return "ERROR"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a state name.
func (s *State) UnmarshalText(text []byte) error {
	for _, st := range States {
		if st.String() == string(text) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown tracking state %q", text)
}

// Direction is an operator jog direction.
type Direction int

const (
	DirUp Direction = iota
	DirDown
	DirLeft
	DirRight
)

func (d Direction) String() string {
	switch d {
	case DirUp:
		return "up"
	case DirDown:
		return "down"
	case DirLeft:
		return "left"
	case DirRight:
		return "right"
	default:
		return fmt.Sprintf("Direction(%d)", int(d))
	}
}

// ParseDirection parses "up", "down", "left" or "right".
func ParseDirection(s string) (Direction, error) {
	for _, d := range []Direction{DirUp, DirDown, DirLeft, DirRight} {
		if d.String() == s {
			return d, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownDirection, s)
}
