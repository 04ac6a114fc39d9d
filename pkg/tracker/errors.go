package tracker

import (
	"errors"
	"fmt"
)

var (
	// ErrNotHomed is returned when tracking is requested before homing.
	ErrNotHomed = errors.New("device is not homed")

	// ErrHalted is returned for operator actions after a device alarm.
	// The machine stays in ERROR until the process restarts.
	ErrHalted = errors.New("tracker halted after device alarm")

	// ErrHomingInProgress is returned for raw commands sent while the homing
	// sequence is waiting for its acknowledgments.
	ErrHomingInProgress = errors.New("homing in progress")

	// ErrUnknownDirection is returned for an unrecognised jog direction.
	ErrUnknownDirection = errors.New("unknown jog direction")
)

// AlarmError records an ALARM or error reply from the motion device.
type AlarmError struct {
	Line string
	Code string
}

func (e *AlarmError) Error() string {
	return fmt.Sprintf("device alarm: %s", e.Line)
}

// UnexpectedReplyError records a reply other than "ok" received during the
// homing handshake.
type UnexpectedReplyError struct {
	Line string
	Step string // homing command that was awaiting acknowledgment
}

func (e *UnexpectedReplyError) Error() string {
	return fmt.Sprintf("unexpected reply %q while waiting for %q to complete", e.Line, e.Step)
}
