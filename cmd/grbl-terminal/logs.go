package main

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rivo/tview"

	"github.com/unklstewy/heliostat/pkg/grbl"
)

// EntryKind is the origin of a console line.
type EntryKind string

const (
	EntrySent   EntryKind = "SENT"
	EntryAck    EntryKind = "OK"
	EntryStatus EntryKind = "STAT"
	EntryAlarm  EntryKind = "ALARM"
	EntryDevice EntryKind = "DEV"
	EntryInfo   EntryKind = "INFO"
	EntryWarn   EntryKind = "WARN"
	EntryError  EntryKind = "ERROR"
)

// Entry is a single console line.
type Entry struct {
	Time time.Time
	Kind EntryKind
	Text string
}

// kindForReply maps a classified device reply to its console kind.
func kindForReply(ev grbl.ReplyEvent) EntryKind {
	switch ev.Kind {
	case grbl.ReplyAck:
		return EntryAck
	case grbl.ReplyStatus:
		return EntryStatus
	case grbl.ReplyAlarm:
		return EntryAlarm
	default:
		return EntryDevice
	}
}

// Console manages the scrolling device log and its history.
type Console struct {
	textView *tview.TextView

	entries    []Entry
	maxEntries int
	mu         sync.Mutex
	autoScroll bool
}

// NewConsole creates a console keeping the last maxEntries lines.
func NewConsole(maxEntries int) *Console {
	textView := tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true).
		SetMaxLines(maxEntries)
	textView.SetBorder(true).SetTitle(" Device ")

	return &Console{
		textView:   textView,
		entries:    make([]Entry, 0, maxEntries),
		maxEntries: maxEntries,
		autoScroll: true,
	}
}

// View returns the tview component.
func (c *Console) View() tview.Primitive {
	return c.textView
}

// Add appends an entry. Call it from the UI goroutine.
func (c *Console) Add(e Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = append(c.entries, e)
	if len(c.entries) > c.maxEntries {
		c.entries = c.entries[len(c.entries)-c.maxEntries:]
	}
	fmt.Fprint(c.textView, formatEntry(e))
	if c.autoScroll {
		c.textView.ScrollToEnd()
	}
}

// Entries returns a copy of the retained entries.
func (c *Console) Entries() []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Entry(nil), c.entries...)
}

// Clear removes all entries.
func (c *Console) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = c.entries[:0]
	c.textView.Clear()
}

// SetAutoScroll enables or disables automatic scrolling.
func (c *Console) SetAutoScroll(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.autoScroll = enabled
}

// formatEntry renders "[HH:MM:SS] KIND text" with tview color tags.
func formatEntry(e Entry) string {
	text := tview.Escape(strings.TrimRight(e.Text, "\r\n"))
	if e.Kind == EntrySent {
		text = "> " + text
	}
	return fmt.Sprintf("[gray]%s[-] [%s]%-5s[-] %s\n",
		e.Time.Format("15:04:05"), colorForKind(e.Kind), e.Kind, text)
}

func colorForKind(kind EntryKind) string {
	switch kind {
	case EntrySent:
		return "aqua"
	case EntryAck:
		return "green"
	case EntryStatus:
		return "blue"
	case EntryAlarm, EntryError:
		return "red"
	case EntryWarn:
		return "yellow"
	case EntryInfo:
		return "gray"
	default:
		return "white"
	}
}
