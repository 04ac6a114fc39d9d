package tracker

import (
	"errors"
	"time"

	"github.com/unklstewy/heliostat/pkg/grbl"
)

// DefaultBanner is the line GRBL prints when homing is required.
const DefaultBanner = "[MSG:'$H'|'$X' to unlock]"

// AxisMapping converts a sun angle into a machine axis coordinate:
// axis = Scale*angle + Offset.
type AxisMapping struct {
	Scale  float64
	Offset float64
}

// Apply maps an angle in degrees to the axis coordinate.
func (a AxisMapping) Apply(angle float64) float64 {
	return a.Scale*angle + a.Offset
}

// Config parameterises the tracking state machine.
type Config struct {
	// AutoHomeOnBanner starts homing when the device prints Banner while
	// the machine is still INITIAL.
	AutoHomeOnBanner bool
	// AutoTrackAfterHome goes straight to TRACKING when homing completes.
	AutoTrackAfterHome bool
	// Banner is the device's homing-required message.
	Banner string
	// HomingSequence is sent one command at a time, each waiting for "ok".
	HomingSequence []string
	// StrictHoming treats any non-status reply other than "ok" during
	// HOMING as an unexpected reply.
	StrictHoming bool

	// AxisX maps azimuth, AxisY maps altitude.
	AxisX AxisMapping
	AxisY AxisMapping

	// JogStep is the distance of one operator jog.
	JogStep float64

	// MinAltitude suppresses tracking moves while the sun is lower.
	MinAltitude float64
	// MaxFixAge suppresses tracking moves when the last fix was received
	// longer ago. Zero disables the check.
	MaxFixAge time.Duration
	// PollInterval is the tick period; status polls are limited to one
	// per interval.
	PollInterval time.Duration
}

// DefaultConfig returns the canonical mount calibration: manual homing
// with "$H", the machine stopping at HOMED, X = -(90+az), Y = -(90-alt).
func DefaultConfig() Config {
	return Config{
		Banner:         DefaultBanner,
		HomingSequence: []string{grbl.CmdHome},
		StrictHoming:   true,
		AxisX:          AxisMapping{Scale: -1, Offset: -90},
		AxisY:          AxisMapping{Scale: 1, Offset: -90},
		JogStep:        1,
		MinAltitude:    -90,
		PollInterval:   time.Second,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if len(c.HomingSequence) == 0 {
		return errors.New("homing sequence must contain at least one command")
	}
	for _, cmd := range c.HomingSequence {
		if cmd == "" {
			return errors.New("homing sequence contains an empty command")
		}
	}
	if c.JogStep <= 0 {
		return errors.New("jog step must be positive")
	}
	if c.AxisX.Scale == 0 || c.AxisY.Scale == 0 {
		return errors.New("axis scale must be non-zero")
	}
	if c.PollInterval < 0 || c.MaxFixAge < 0 {
		return errors.New("intervals must not be negative")
	}
	return nil
}
