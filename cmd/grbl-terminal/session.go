package main

import (
	"context"
	"strings"
	"time"

	"github.com/unklstewy/heliostat/pkg/framer"
	"github.com/unklstewy/heliostat/pkg/grbl"
)

// deviceState is what the status panel shows.
type deviceState struct {
	Pending   int
	Status    grbl.StatusReport
	HasStatus bool
}

// session owns the controller and the reply framer. run is the only
// goroutine that touches them; the UI hands commands in through submit.
type session struct {
	ctrl   *grbl.Controller
	framer *framer.LineFramer
	cmds   chan string
	now    func() time.Time

	onEntry func(Entry)
	onState func(deviceState)
}

func newSession(ctrl *grbl.Controller, replies framer.Terminator, onEntry func(Entry), onState func(deviceState)) *session {
	return &session{
		ctrl:    ctrl,
		framer:  framer.New(replies),
		cmds:    make(chan string, 16),
		now:     time.Now,
		onEntry: onEntry,
		onState: onState,
	}
}

// submit queues a command line and reports false when the queue is full.
func (s *session) submit(cmd string) bool {
	select {
	case s.cmds <- cmd:
		return true
	default:
		return false
	}
}

// run processes device chunks and queued commands until ctx is done.
func (s *session) run(ctx context.Context, chunks <-chan []byte) {
	for {
		select {
		case <-ctx.Done():
			return

		case chunk, ok := <-chunks:
			if !ok {
				s.emit(EntryWarn, "device stream closed")
				chunks = nil
				continue
			}
			for line := range s.framer.Feed(chunk) {
				if strings.TrimSpace(line) == "" {
					continue
				}
				ev := s.ctrl.OnReplyLine(line)
				s.emit(kindForReply(ev), ev.Line)
			}
			s.publish()

		case cmd := <-s.cmds:
			if err := s.ctrl.Send(cmd); err != nil {
				s.emit(EntryError, err.Error())
				continue
			}
			s.emit(EntrySent, printable(cmd))
			s.publish()
		}
	}
}

func (s *session) emit(kind EntryKind, text string) {
	if s.onEntry != nil {
		s.onEntry(Entry{Time: s.now(), Kind: kind, Text: text})
	}
}

func (s *session) publish() {
	if s.onState == nil {
		return
	}
	st, ok := s.ctrl.LastStatus()
	s.onState(deviceState{Pending: s.ctrl.Outstanding(), Status: st, HasStatus: ok})
}

// printable names the control characters used as realtime commands.
func printable(cmd string) string {
	if cmd == "\x18" {
		return "<soft reset>"
	}
	return cmd
}
