// Package framer reassembles complete text lines from a byte stream that
// arrives in arbitrary chunks.
//
// A LineFramer keeps at most one unterminated fragment between calls. A
// fragment that never sees its terminator is never surfaced: there is no
// forced flush on idle or on close, matching the line-oriented framing of
// the GPS and GRBL devices.
package framer

import (
	"bytes"
	"fmt"
	"iter"
	"strings"
)

// Terminator identifies the end-of-line sequence of a device stream.
type Terminator int

const (
	// CRLF splits on "\r\n" (NMEA receivers, GRBL replies).
	CRLF Terminator = iota
	// CR splits on "\r" (GRBL command input).
	CR
	// LF splits on "\n".
	LF
)

// Bytes returns the byte sequence of the terminator.
func (t Terminator) Bytes() []byte {
	return []byte(t.String())
}

// String returns the terminator sequence itself.
func (t Terminator) String() string {
	switch t {
	case CR:
		return "\r"
	case LF:
		return "\n"
	default:
		return "\r\n"
	}
}

// Name returns the configuration name of the terminator.
func (t Terminator) Name() string {
	switch t {
	case CR:
		return "cr"
	case LF:
		return "lf"
	default:
		return "crlf"
	}
}

// ParseTerminator parses a configuration name ("cr", "lf", "crlf").
// The empty string selects CRLF.
func ParseTerminator(name string) (Terminator, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "crlf", "\r\n":
		return CRLF, nil
	case "cr", "\r":
		return CR, nil
	case "lf", "\n":
		return LF, nil
	default:
		return CRLF, fmt.Errorf("unknown line terminator %q (want cr, lf or crlf)", name)
	}
}

// LineFramer splits one logical stream into lines. It is not safe for
// concurrent use; each stream owns its own framer.
type LineFramer struct {
	sep     []byte
	partial []byte
}

// New creates a framer for a stream using the given terminator.
func New(t Terminator) *LineFramer {
	return &LineFramer{sep: t.Bytes()}
}

// Feed appends data to the buffered remainder and returns the complete
// lines now available, in arrival order, without their terminators.
//
// The sequence is lazy: lines are cut from the buffer as they are yielded.
// Lines left unconsumed by an early break stay buffered and are yielded by
// the next call to Feed.
func (f *LineFramer) Feed(data []byte) iter.Seq[string] {
	f.partial = append(f.partial, data...)
	return func(yield func(string) bool) {
		for {
			i := bytes.Index(f.partial, f.sep)
			if i < 0 {
				return
			}
			line := string(f.partial[:i])
			f.partial = f.partial[i+len(f.sep):]
			if !yield(line) {
				return
			}
		}
	}
}

// Lines feeds data and collects every complete line.
func (f *LineFramer) Lines(data []byte) []string {
	var lines []string
	for line := range f.Feed(data) {
		lines = append(lines, line)
	}
	return lines
}

// Pending returns a copy of the unterminated remainder.
func (f *LineFramer) Pending() []byte {
	return bytes.Clone(f.partial)
}

// Reset discards the buffered remainder.
func (f *LineFramer) Reset() {
	f.partial = nil
}
