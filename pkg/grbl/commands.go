package grbl

import (
	"fmt"
	"strings"
)

// Command lines understood by GRBL based controllers.
const (
	CmdHome        = "$H"
	CmdUnlock      = "$X"
	CmdStatusQuery = "?"
	CmdZeroWork    = "G10 L20 P1 X0 Y0"
	CmdRelative    = "G91"
	CmdAbsolute    = "G90"
)

// Axis names a motion axis.
type Axis string

const (
	AxisX Axis = "X"
	AxisY Axis = "Y"
)

// HomeAxis returns the single-axis homing command, e.g. "$HX".
func HomeAxis(a Axis) string {
	return CmdHome + string(a)
}

// ReturnHome returns the G28 return-to-reference move for one axis.
func ReturnHome(a Axis) string {
	return "G28 " + string(a)
}

// Move returns a rapid move to X, Y.
func Move(x, y float64) string {
	return fmt.Sprintf("G0 X%.3f Y%.3f", x, y)
}

// MoveAxis returns a rapid move of a single axis.
func MoveAxis(a Axis, v float64) string {
	return fmt.Sprintf("G0 %s%.3f", a, v)
}

// IsRealtime reports whether cmd is a single-character realtime command.
// GRBL answers these out of band and never with "ok".
func IsRealtime(cmd string) bool {
	switch strings.TrimSpace(cmd) {
	case "?", "!", "~", "\x18":
		return true
	}
	return false
}
