// Package tracker implements the heliostat tracking state machine.
//
// The Machine consumes motion-device reply lines, GPS fixes, periodic ticks
// and operator actions, and is the only component that issues motion
// commands from tracking logic. It is not safe for concurrent use: a single
// event loop must serialise every call.
//
// Transitions:
//
//	any but ERROR  --home-->             HOMING   (sends the homing sequence)
//	INITIAL        --banner (opt-in)-->  HOMING
//	HOMING         --ok (last step)-->   HOMED, or TRACKING with AutoTrackAfterHome
//	HOMING         --other reply-->      ERROR    (StrictHoming)
//	HOMED/TRACKING/MANUAL --track-->     TRACKING
//	any but ERROR  --jog-->              MANUAL
//	any            --ALARM/error-->      ERROR    (sticky)
package tracker

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/unklstewy/heliostat/pkg/coordinates"
	"github.com/unklstewy/heliostat/pkg/gps"
	"github.com/unklstewy/heliostat/pkg/grbl"
)

// Motion is the motion-device session driven by the machine.
type Motion interface {
	Send(cmd string) error
	OnReplyLine(line string) grbl.ReplyEvent
	Outstanding() int
}

// Metrics receives tracking events. All methods must be cheap; they run
// on the event loop.
type Metrics interface {
	CommandSent(kind string)
	ReplyReceived(kind string)
	StateChanged(state string)
	SunPosition(altitude, azimuth float64)
}

// Command kinds reported to Metrics.
const (
	KindHome = "home"
	KindPoll = "poll"
	KindMove = "move"
	KindJog  = "jog"
	KindRaw  = "raw"
)

// Option configures a Machine.
type Option func(*Machine)

// WithLogger sets the logger. The default is log.Default().
func WithLogger(l *log.Logger) Option {
	return func(m *Machine) { m.logger = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(metrics Metrics) Option {
	return func(m *Machine) { m.metrics = metrics }
}

// Snapshot is the operator-visible state of the machine.
type Snapshot struct {
	State        State                    `json:"state"`
	DeviceState  string                   `json:"device_state"`
	Position     grbl.Position            `json:"position"`
	HavePosition bool                     `json:"have_position"`
	Fix          *gps.Fix                 `json:"fix,omitempty"`
	FixedSite    bool                     `json:"fixed_site"`
	Sun          *coordinates.SunPosition `json:"sun,omitempty"`
	Target       *grbl.Position           `json:"target,omitempty"`
	Outstanding  int                      `json:"outstanding"`
	LastError    string                   `json:"last_error,omitempty"`
}

// Machine is the tracking state machine.
type Machine struct {
	cfg     Config
	motion  Motion
	logger  *log.Logger
	metrics Metrics
	poll    *grbl.PollLimiter

	state      State
	homingStep int
	skipAcks   int // acks owed to commands sent before homing started

	deviceState string
	pos         grbl.Position
	havePos     bool

	fix         gps.Fix
	fixReceived time.Time
	haveFix     bool
	staticFix   bool // set by SetLocation, never stale
	staleLogged bool

	sun     coordinates.SunPosition
	haveSun bool
	target  *grbl.Position
	lastErr error

	listeners []func(from, to State)
}

// New creates a machine in StateInitial. cfg must pass Validate.
func New(cfg Config, motion Motion, opts ...Option) *Machine {
	m := &Machine{
		cfg:    cfg,
		motion: motion,
		logger: log.Default(),
		poll:   grbl.NewPollLimiter(cfg.PollInterval),
	}
	for _, opt := range opts {
		opt(m)
	}
	if len(m.cfg.HomingSequence) == 0 {
		m.cfg.HomingSequence = []string{grbl.CmdHome}
	}
	return m
}

// OnTransition registers fn to be called after every state change.
func (m *Machine) OnTransition(fn func(from, to State)) {
	m.listeners = append(m.listeners, fn)
}

// State returns the current state.
func (m *Machine) State() State {
	return m.state
}

// HandleReply processes one line from the motion device.
func (m *Machine) HandleReply(line string) grbl.ReplyEvent {
	ev := m.motion.OnReplyLine(line)
	if m.metrics != nil {
		m.metrics.ReplyReceived(ev.Kind.String())
	}

	switch ev.Kind {
	case grbl.ReplyAlarm:
		m.fail(&AlarmError{Line: ev.Line, Code: ev.Code})
	case grbl.ReplyAck:
		if m.state == StateHoming {
			m.advanceHoming()
		}
	case grbl.ReplyStatus:
		if m.state != StateHoming {
			m.deviceState = ev.Status.State
			m.pos = ev.Status.MachinePos
			m.havePos = true
		}
	case grbl.ReplyUnknown:
		m.handleUnknown(ev.Line)
	}
	return ev
}

func (m *Machine) handleUnknown(line string) {
	if line == "" {
		return
	}
	switch m.state {
	case StateInitial:
		if m.cfg.AutoHomeOnBanner && line == m.cfg.Banner {
			m.logger.Printf("[tracker] homing banner received, starting homing")
			m.startHoming()
		}
	case StateHoming:
		if m.cfg.StrictHoming {
			m.fail(&UnexpectedReplyError{Line: line, Step: m.cfg.HomingSequence[m.homingStep]})
		}
	case StateHomed, StateTracking, StateManual, StateError:
	}
}

// UpdateFix stores the latest GPS fix, received at receivedAt on the local
// clock, and refreshes the displayed sun position.
func (m *Machine) UpdateFix(fix gps.Fix, receivedAt time.Time) {
	m.fix = fix
	m.fixReceived = receivedAt
	m.haveFix = true
	m.staticFix = false
	m.staleLogged = false
	m.sunAt(receivedAt)
}

// SetLocation fixes the position of an installation without a GPS
// receiver. The sun is computed at the local clock and the location is
// exempt from MaxFixAge. A later UpdateFix replaces it.
func (m *Machine) SetLocation(latitude, longitude float64, now time.Time) {
	m.UpdateFix(gps.Fix{Latitude: latitude, Longitude: longitude, Time: now.UTC()}, now)
	m.staticFix = true
}

// Tick runs the periodic work for the current state.
func (m *Machine) Tick(now time.Time) {
	switch m.state {
	case StateInitial, StateHoming, StateError:
		return
	case StateTracking:
		m.trackSun(now)
		m.pollStatus(now)
	case StateHomed, StateManual:
		m.pollStatus(now)
	}
}

func (m *Machine) trackSun(now time.Time) {
	sun, ok := m.sunAt(now)
	if !ok {
		return
	}
	if sun.Altitude < m.cfg.MinAltitude {
		return
	}
	target := grbl.Position{
		X: m.cfg.AxisX.Apply(sun.Azimuth),
		Y: m.cfg.AxisY.Apply(sun.Altitude),
	}
	if m.send(KindMove, grbl.Move(target.X, target.Y)) == nil {
		m.target = &target
	}
}

func (m *Machine) pollStatus(now time.Time) {
	if m.poll.Allow(now) {
		m.send(KindPoll, grbl.CmdStatusQuery)
	}
}

// sunAt computes the sun position for the current fix at now. The fix time
// is advanced by the local time elapsed since it was received, so the
// computation follows GPS time even on a host without a real-time clock.
func (m *Machine) sunAt(now time.Time) (coordinates.SunPosition, bool) {
	if !m.haveFix {
		return coordinates.SunPosition{}, false
	}
	age := now.Sub(m.fixReceived)
	if !m.staticFix && m.cfg.MaxFixAge > 0 && age > m.cfg.MaxFixAge {
		if !m.staleLogged {
			m.logger.Printf("[tracker] GPS fix is %s old, holding position", age.Round(time.Second))
			m.staleLogged = true
		}
		return coordinates.SunPosition{}, false
	}

	sun, err := coordinates.ComputeSunPosition(m.fix.Latitude, m.fix.Longitude, m.fix.Time.Add(age))
	if err != nil {
		m.logger.Printf("[tracker] sun position: %v", err)
		return coordinates.SunPosition{}, false
	}
	m.sun = sun
	m.haveSun = true
	if m.metrics != nil {
		m.metrics.SunPosition(sun.Altitude, sun.Azimuth)
	}
	return sun, true
}

// Home starts the homing sequence from any state except ERROR.
func (m *Machine) Home() error {
	if m.state == StateError {
		return ErrHalted
	}
	return m.startHoming()
}

func (m *Machine) startHoming() error {
	m.skipAcks = m.motion.Outstanding()
	m.homingStep = 0
	m.target = nil
	m.transition(StateHoming)
	return m.send(KindHome, m.cfg.HomingSequence[0])
}

func (m *Machine) advanceHoming() {
	if m.skipAcks > 0 {
		m.skipAcks--
		return
	}
	m.homingStep++
	if m.homingStep < len(m.cfg.HomingSequence) {
		m.send(KindHome, m.cfg.HomingSequence[m.homingStep])
		return
	}
	m.logger.Printf("[tracker] homing complete")
	if m.cfg.AutoTrackAfterHome {
		m.transition(StateTracking)
		return
	}
	m.transition(StateHomed)
}

// Track starts sun tracking. The device must have been homed.
func (m *Machine) Track() error {
	switch m.state {
	case StateHomed, StateTracking, StateManual:
		m.transition(StateTracking)
		return nil
	case StateInitial, StateHoming:
		return ErrNotHomed
	case StateError:
		return ErrHalted
	}
	return fmt.Errorf("track requested in unknown state %v", m.state)
}

// Jog moves one axis by JogStep from the last known position and switches
// to MANUAL. Tracking resumes only on an explicit Track.
func (m *Machine) Jog(dir Direction) error {
	if m.state == StateError {
		return ErrHalted
	}
	if !m.havePos {
		m.logger.Printf("[tracker] no status report yet, jogging from machine origin")
	}

	var axis grbl.Axis
	var value float64
	switch dir {
	case DirUp:
		axis, value = grbl.AxisY, m.pos.Y+m.cfg.JogStep
	case DirDown:
		axis, value = grbl.AxisY, m.pos.Y-m.cfg.JogStep
	case DirRight:
		axis, value = grbl.AxisX, m.pos.X+m.cfg.JogStep
	case DirLeft:
		axis, value = grbl.AxisX, m.pos.X-m.cfg.JogStep
	default:
		return fmt.Errorf("%w: %v", ErrUnknownDirection, dir)
	}

	m.transition(StateManual)
	m.target = nil
	if err := m.send(KindJog, grbl.MoveAxis(axis, value)); err != nil {
		return err
	}
	if axis == grbl.AxisX {
		m.pos.X = value
	} else {
		m.pos.Y = value
	}
	return nil
}

// SendCommand passes an operator command line to the device unchanged.
// It does not change state and is allowed in ERROR so the operator can
// inspect or unlock the device. During HOMING only realtime commands are
// accepted, since any other line owes an "ok" the handshake would consume.
func (m *Machine) SendCommand(cmd string) error {
	cmd = strings.TrimSpace(cmd)
	if cmd == "" {
		return nil
	}
	if m.state == StateHoming && !grbl.IsRealtime(cmd) {
		return ErrHomingInProgress
	}
	return m.send(KindRaw, cmd)
}

// Snapshot returns the operator-visible state.
func (m *Machine) Snapshot() Snapshot {
	s := Snapshot{
		State:        m.state,
		DeviceState:  m.deviceState,
		Position:     m.pos,
		HavePosition: m.havePos,
		Outstanding:  m.motion.Outstanding(),
	}
	if m.haveFix {
		fix := m.fix
		s.Fix = &fix
		s.FixedSite = m.staticFix
	}
	if m.haveSun {
		sun := m.sun
		s.Sun = &sun
	}
	if m.target != nil {
		target := *m.target
		s.Target = &target
	}
	if m.lastErr != nil {
		s.LastError = m.lastErr.Error()
	}
	return s
}

func (m *Machine) send(kind, cmd string) error {
	if err := m.motion.Send(cmd); err != nil {
		m.logger.Printf("[tracker] %v", err)
		return err
	}
	if m.metrics != nil {
		m.metrics.CommandSent(kind)
	}
	return nil
}

func (m *Machine) fail(err error) {
	if m.state == StateError {
		m.logger.Printf("[tracker] %v (already halted)", err)
		return
	}
	m.logger.Printf("[tracker] %v, halting", err)
	m.lastErr = err
	m.target = nil
	m.transition(StateError)
}

func (m *Machine) transition(to State) {
	from := m.state
	if from == to {
		return
	}
	m.state = to
	m.logger.Printf("[tracker] %s -> %s", from, to)
	if m.metrics != nil {
		m.metrics.StateChanged(to.String())
	}
	for _, fn := range m.listeners {
		fn(from, to)
	}
}
