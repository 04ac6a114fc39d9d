// Package grbl speaks the line protocol of GRBL based motion controllers
// (RAMPS boards, GRBL-ESP32).
//
// The Controller owns the write side of the device session and classifies
// the replies. It keeps no policy: alarms are reported to the caller and
// never retried here.
package grbl

import (
	"fmt"
	"io"
	"log"
	"strings"

	"github.com/unklstewy/heliostat/pkg/framer"
)

// Controller is a line-oriented request/response session with a motion
// device. It is not safe for concurrent use; one event loop owns it.
type Controller struct {
	w           io.Writer
	term        []byte
	outstanding int
	last        *StatusReport
	logger      *log.Logger
}

// NewController creates a controller writing to w. Commands are terminated
// with term (GRBL expects CR). A nil logger uses log.Default().
func NewController(w io.Writer, term framer.Terminator, logger *log.Logger) *Controller {
	if logger == nil {
		logger = log.Default()
	}
	return &Controller{w: w, term: term.Bytes(), logger: logger}
}

// Send writes cmd followed by the line terminator. Sending while earlier
// commands are unacknowledged is legal; the device buffers them.
// Realtime commands such as "?" are written as the bare byte, without a
// terminator: GRBL answers the empty line left behind with an extra "ok".
// They are not counted as outstanding.
func (c *Controller) Send(cmd string) error {
	if IsRealtime(cmd) {
		rt := strings.TrimSpace(cmd)
		if _, err := io.WriteString(c.w, rt); err != nil {
			return fmt.Errorf("failed to send %q: %w", rt, err)
		}
		return nil
	}

	buf := make([]byte, 0, len(cmd)+len(c.term))
	buf = append(buf, cmd...)
	buf = append(buf, c.term...)
	if _, err := c.w.Write(buf); err != nil {
		return fmt.Errorf("failed to send %q: %w", cmd, err)
	}
	c.outstanding++
	return nil
}

// OnReplyLine classifies a reply and updates the acknowledgment state.
// An ACK or an alarm/error settles the oldest outstanding command.
func (c *Controller) OnReplyLine(line string) ReplyEvent {
	ev := Classify(line)
	switch ev.Kind {
	case ReplyAck:
		c.settle()
	case ReplyAlarm:
		c.settle()
		c.logger.Printf("[grbl] device reported %s", ev.Line)
	case ReplyStatus:
		c.last = ev.Status
	case ReplyUnknown:
		if ev.Err != nil {
			c.logger.Printf("[grbl] %v", ev.Err)
		}
	}
	return ev
}

func (c *Controller) settle() {
	if c.outstanding > 0 {
		c.outstanding--
	}
}

// Outstanding returns the number of commands awaiting acknowledgment.
// There is no timeout: a command the device never acknowledges stays
// outstanding.
func (c *Controller) Outstanding() int {
	return c.outstanding
}

// Idle reports whether no command is awaiting acknowledgment.
func (c *Controller) Idle() bool {
	return c.outstanding == 0
}

// LastStatus returns the most recent status report, if any.
func (c *Controller) LastStatus() (StatusReport, bool) {
	if c.last == nil {
		return StatusReport{}, false
	}
	return *c.last, true
}
