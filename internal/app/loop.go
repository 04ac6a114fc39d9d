// Package app runs the heliostat event loop.
//
// A Loop owns the tracking machine, the GRBL controller, one line framer
// per stream and the GPS fix source. Run is the only goroutine that touches
// them; everything else (HTTP API, MQTT bridge, TUIs) goes through Submit
// and the subscriber callbacks.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/unklstewy/heliostat/internal/transport"
	"github.com/unklstewy/heliostat/pkg/config"
	"github.com/unklstewy/heliostat/pkg/framer"
	"github.com/unklstewy/heliostat/pkg/gps"
	"github.com/unklstewy/heliostat/pkg/grbl"
	"github.com/unklstewy/heliostat/pkg/tracker"
)

// ErrStopped is returned by Submit when the loop is not running.
var ErrStopped = errors.New("event loop stopped")

// Metrics extends tracker.Metrics with GPS sentence accounting.
type Metrics interface {
	tracker.Metrics
	FixReceived(result string)
}

// GPS sentence results passed to Metrics.FixReceived.
const (
	fixAccepted = "fix"
	fixNoFix    = "no_fix"
	fixIgnored  = "ignored"
	fixRejected = "rejected"
)

// Option configures a Loop.
type Option func(*Loop)

// WithLogger sets the logger. The default is log.Default().
func WithLogger(l *log.Logger) Option {
	return func(lp *Loop) { lp.logger = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m Metrics) Option {
	return func(lp *Loop) { lp.metrics = m }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(lp *Loop) { lp.now = now }
}

// Loop is the single-goroutine heliostat controller.
type Loop struct {
	cfg     *config.Config
	logger  *log.Logger
	metrics Metrics
	now     func() time.Time

	gpsStream    io.Reader
	motionStream io.Reader

	machine      *tracker.Machine
	controller   *grbl.Controller
	gpsFramer    *framer.LineFramer
	motionFramer *framer.LineFramer
	fixes        *gps.FixSource

	actions chan request
	done    chan struct{}
	running atomic.Bool

	snapshotFns []func(tracker.Snapshot)
	lineFns     []func(string)

	mu       sync.RWMutex
	latest   tracker.Snapshot
	gpsStats gps.Stats
}

type request struct {
	action Action
	reply  chan error
}

// New creates a loop over the given streams. gpsStream may be nil when no
// receiver is fitted; the configured observer location is then used.
func New(cfg *config.Config, gpsStream io.Reader, motion io.ReadWriter, opts ...Option) (*Loop, error) {
	gpsTerm, err := framer.ParseTerminator(cfg.GPS.Terminator)
	if err != nil {
		return nil, fmt.Errorf("gps: %w", err)
	}
	cmdTerm, err := framer.ParseTerminator(cfg.Motion.CommandTerminator)
	if err != nil {
		return nil, fmt.Errorf("motion command: %w", err)
	}
	replyTerm, err := framer.ParseTerminator(cfg.Motion.ReplyTerminator)
	if err != nil {
		return nil, fmt.Errorf("motion reply: %w", err)
	}
	tcfg := TrackerConfig(cfg)
	if err := tcfg.Validate(); err != nil {
		return nil, fmt.Errorf("tracker: %w", err)
	}

	l := &Loop{
		cfg:          cfg,
		logger:       log.Default(),
		now:          time.Now,
		gpsStream:    gpsStream,
		motionStream: motion,
		gpsFramer:    framer.New(gpsTerm),
		motionFramer: framer.New(replyTerm),
		fixes:        gps.NewFixSource(),
		actions:      make(chan request),
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}

	l.controller = grbl.NewController(motion, cmdTerm, l.logger)
	machineOpts := []tracker.Option{tracker.WithLogger(l.logger)}
	if l.metrics != nil {
		machineOpts = append(machineOpts, tracker.WithMetrics(l.metrics))
	}
	l.machine = tracker.New(tcfg, l.controller, machineOpts...)
	l.latest = l.machine.Snapshot()
	return l, nil
}

// TrackerConfig converts the file configuration into machine settings.
func TrackerConfig(cfg *config.Config) tracker.Config {
	t := cfg.Tracker
	return tracker.Config{
		AutoHomeOnBanner:   t.AutoHomeOnBanner,
		AutoTrackAfterHome: t.AutoTrackAfterHome,
		Banner:             t.Banner,
		HomingSequence:     append([]string(nil), t.HomingSequence...),
		StrictHoming:       !t.LenientHoming,
		AxisX:              tracker.AxisMapping{Scale: t.AxisX.Scale, Offset: t.AxisX.Offset},
		AxisY:              tracker.AxisMapping{Scale: t.AxisY.Scale, Offset: t.AxisY.Offset},
		JogStep:            t.JogStep,
		MinAltitude:        t.MinAltitude,
		MaxFixAge:          t.MaxFixAge(),
		PollInterval:       t.TickInterval(),
	}
}

// OnSnapshot registers fn to receive the machine state after every event.
// It must be called before Run; fn runs on the loop goroutine.
func (l *Loop) OnSnapshot(fn func(tracker.Snapshot)) {
	l.snapshotFns = append(l.snapshotFns, fn)
}

// OnDeviceLine registers fn to receive every line from the motion device.
// It must be called before Run; fn runs on the loop goroutine.
func (l *Loop) OnDeviceLine(fn func(string)) {
	l.lineFns = append(l.lineFns, fn)
}

// OnTransition registers fn for machine state changes. It must be called
// before Run; fn runs on the loop goroutine.
func (l *Loop) OnTransition(fn func(from, to tracker.State)) {
	l.machine.OnTransition(fn)
}

// Latest returns the most recent snapshot. Safe for concurrent use.
func (l *Loop) Latest() tracker.Snapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.latest
}

// GPSStats returns the GPS sentence counters as of the last event.
func (l *Loop) GPSStats() gps.Stats {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.gpsStats
}

// Submit hands an operator action to the loop and waits for its result.
func (l *Loop) Submit(ctx context.Context, a Action) error {
	req := request{action: a, reply: make(chan error, 1)}
	select {
	case l.actions <- req:
	case <-l.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-req.reply:
		return err
	case <-l.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run processes events until ctx is cancelled. The caller owns the streams
// and closes them after Run returns, which ends the reader goroutines.
func (l *Loop) Run(ctx context.Context) error {
	if !l.running.CompareAndSwap(false, true) {
		return errors.New("event loop already running")
	}
	defer close(l.done)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	motionCh := make(chan []byte, 16)
	motionDone := make(chan error, 1)
	go func() { motionDone <- transport.Pump(ctx, l.motionStream, motionCh) }()

	var gpsCh chan []byte
	var gpsDone chan error
	if l.gpsStream != nil {
		gpsCh = make(chan []byte, 16)
		gpsDone = make(chan error, 1)
		go func() { gpsDone <- transport.Pump(ctx, l.gpsStream, gpsCh) }()
	} else {
		l.useStaticObserver()
	}

	ticker := time.NewTicker(l.cfg.Tracker.TickInterval())
	defer ticker.Stop()

	l.logger.Printf("[app] event loop started")
	l.publish()

	for {
		select {
		case <-ctx.Done():
			l.logger.Printf("[app] event loop stopped")
			return nil

		case chunk := <-motionCh:
			for line := range l.motionFramer.Feed(chunk) {
				l.handleDeviceLine(line)
			}
			l.publish()

		case chunk := <-gpsCh:
			for line := range l.gpsFramer.Feed(chunk) {
				l.handleGPSLine(line)
			}
			l.publish()

		case <-ticker.C:
			l.machine.Tick(l.now())
			l.publish()

		case req := <-l.actions:
			req.reply <- l.apply(req.action)
			l.publish()

		case err := <-motionDone:
			if err != nil {
				l.logger.Printf("[app] motion stream: %v", err)
			} else {
				l.logger.Printf("[app] motion stream closed")
			}
			motionDone = nil

		case err := <-gpsDone:
			if err != nil {
				l.logger.Printf("[gps] stream: %v", err)
			} else {
				l.logger.Printf("[gps] stream closed")
			}
			gpsDone = nil
		}
	}
}

// useStaticObserver fixes the machine at the configured location, timed
// by the local clock.
func (l *Loop) useStaticObserver() {
	if !l.cfg.Observer.Configured() {
		l.logger.Printf("[app] no GPS and no observer location, tracking disabled")
		return
	}
	loc := l.cfg.Observer.Location()
	l.machine.SetLocation(loc.Latitude, loc.Longitude, l.now())
	l.logger.Printf("[app] using observer location %.4f, %.4f", loc.Latitude, loc.Longitude)
}

func (l *Loop) handleDeviceLine(line string) {
	l.machine.HandleReply(line)
	for _, fn := range l.lineFns {
		fn(line)
	}
}

func (l *Loop) handleGPSLine(line string) {
	before := l.fixes.Stats()
	fix, ok, err := l.fixes.OnLine(line)
	switch {
	case err != nil:
		l.logger.Printf("[gps] %v", err)
		l.countFix(fixRejected)
	case ok:
		l.machine.UpdateFix(fix, l.now())
		l.countFix(fixAccepted)
	case l.fixes.Stats().NoFix > before.NoFix:
		l.countFix(fixNoFix)
	default:
		l.countFix(fixIgnored)
	}
}

func (l *Loop) countFix(result string) {
	if l.metrics != nil {
		l.metrics.FixReceived(result)
	}
}

func (l *Loop) publish() {
	snap := l.machine.Snapshot()
	l.mu.Lock()
	l.latest = snap
	l.gpsStats = l.fixes.Stats()
	l.mu.Unlock()
	for _, fn := range l.snapshotFns {
		fn(snap)
	}
}
