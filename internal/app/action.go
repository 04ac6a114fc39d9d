package app

import (
	"fmt"

	"github.com/unklstewy/heliostat/pkg/tracker"
)

// ActionKind identifies an operator action.
type ActionKind int

const (
	ActionHome ActionKind = iota
	ActionTrack
	ActionJog
	ActionCommand
)

func (k ActionKind) String() string {
	switch k {
	case ActionHome:
		return "home"
	case ActionTrack:
		return "track"
	case ActionJog:
		return "jog"
	case ActionCommand:
		return "command"
	default:
		return fmt.Sprintf("ActionKind(%d)", int(k))
	}
}

// Action is an operator request executed on the loop goroutine.
type Action struct {
	Kind      ActionKind
	Direction tracker.Direction // ActionJog
	Command   string            // ActionCommand
}

// Home requests the homing sequence.
func Home() Action { return Action{Kind: ActionHome} }

// Track requests sun tracking.
func Track() Action { return Action{Kind: ActionTrack} }

// Jog requests one jog step.
func Jog(dir tracker.Direction) Action { return Action{Kind: ActionJog, Direction: dir} }

// Command passes a raw line to the motion device.
func Command(cmd string) Action { return Action{Kind: ActionCommand, Command: cmd} }

func (l *Loop) apply(a Action) error {
	l.logger.Printf("[app] operator %s", a)
	switch a.Kind {
	case ActionHome:
		return l.machine.Home()
	case ActionTrack:
		return l.machine.Track()
	case ActionJog:
		return l.machine.Jog(a.Direction)
	case ActionCommand:
		return l.machine.SendCommand(a.Command)
	default:
		return fmt.Errorf("unknown action %v", a.Kind)
	}
}

func (a Action) String() string {
	switch a.Kind {
	case ActionJog:
		return fmt.Sprintf("jog %s", a.Direction)
	case ActionCommand:
		return fmt.Sprintf("command %q", a.Command)
	default:
		return a.Kind.String()
	}
}
