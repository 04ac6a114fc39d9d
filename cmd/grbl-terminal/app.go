package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/unklstewy/heliostat/internal/transport"
	"github.com/unklstewy/heliostat/pkg/framer"
	"github.com/unklstewy/heliostat/pkg/grbl"
)

const controlsText = `[yellow]COMMANDS[-]
  [white]ENTER[-]   Send line
  [white]F5[-]      Status ?
  [white]F6[-]      Unlock $X
  [white]F7[-]      Home $H
  [white]Ctrl-X[-]  Soft reset

[yellow]CONSOLE[-]
  [white]F2[-]      Serial ports
  [white]Ctrl-L[-]  Clear
  [white]ESC[-]     Quit`

// Terminal is the raw G-code console.
type Terminal struct {
	device string

	tviewApp *tview.Application
	console  *Console
	status   *tview.TextView
	controls *tview.TextView
	input    *tview.InputField

	session *session
}

// NewTerminal builds the UI around a device session. Session callbacks
// are marshalled onto the UI goroutine.
func NewTerminal(device string, ctrl *grbl.Controller, replies framer.Terminator) *Terminal {
	t := &Terminal{
		device:   device,
		tviewApp: tview.NewApplication(),
		console:  NewConsole(500),
	}
	t.session = newSession(ctrl, replies,
		func(e Entry) {
			t.tviewApp.QueueUpdateDraw(func() { t.console.Add(e) })
		},
		func(st deviceState) {
			t.tviewApp.QueueUpdateDraw(func() { t.status.SetText(renderStatus(t.device, st)) })
		})

	t.setupUI()
	return t
}

func (t *Terminal) setupUI() {
	t.status = tview.NewTextView().SetDynamicColors(true)
	t.status.SetBorder(true).SetTitle(" Status ")
	t.status.SetText(renderStatus(t.device, deviceState{}))

	t.controls = tview.NewTextView().SetDynamicColors(true)
	t.controls.SetBorder(true).SetTitle(" Controls ")
	t.controls.SetText(controlsText)

	t.input = tview.NewInputField().
		SetLabel("> ").
		SetFieldWidth(0)
	t.input.SetBorder(true).SetTitle(" Command ")
	t.input.SetDoneFunc(t.handleDone)

	sidebar := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(t.status, 0, 1, false).
		AddItem(t.controls, 0, 1, false)

	top := tview.NewFlex().
		SetDirection(tview.FlexColumn).
		AddItem(t.console.View(), 0, 7, false).
		AddItem(sidebar, 0, 3, false)

	root := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(top, 0, 1, false).
		AddItem(t.input, 3, 0, true)

	t.tviewApp.SetRoot(root, true)
	t.tviewApp.SetInputCapture(t.handleKeyboard)
}

func (t *Terminal) handleDone(key tcell.Key) {
	switch key {
	case tcell.KeyEnter:
		line := strings.TrimSpace(t.input.GetText())
		t.input.SetText("")
		if line != "" {
			t.send(line)
		}
	case tcell.KeyEscape:
		t.tviewApp.Stop()
	}
}

func (t *Terminal) handleKeyboard(event *tcell.EventKey) *tcell.EventKey {
	switch event.Key() {
	case tcell.KeyF5:
		t.send(grbl.CmdStatusQuery)
	case tcell.KeyF6:
		t.send(grbl.CmdUnlock)
	case tcell.KeyF7:
		t.send(grbl.CmdHome)
	case tcell.KeyCtrlX:
		t.send("\x18")
	case tcell.KeyF2:
		t.listPorts()
	case tcell.KeyCtrlL:
		t.console.Clear()
	default:
		return event
	}
	return nil
}

func (t *Terminal) send(cmd string) {
	if !t.session.submit(cmd) {
		t.console.Add(Entry{Time: time.Now(), Kind: EntryWarn, Text: "command queue full, " + printable(cmd) + " dropped"})
	}
}

func (t *Terminal) listPorts() {
	ports, err := transport.SerialPorts()
	now := time.Now()
	if err != nil {
		t.console.Add(Entry{Time: now, Kind: EntryError, Text: fmt.Sprintf("serial ports: %v", err)})
		return
	}
	if len(ports) == 0 {
		t.console.Add(Entry{Time: now, Kind: EntryInfo, Text: "no serial ports found"})
		return
	}
	t.console.Add(Entry{Time: now, Kind: EntryInfo, Text: "serial ports: " + strings.Join(ports, ", ")})
}

// Run pumps the device into the session and blocks until the UI exits.
func (t *Terminal) Run(ctx context.Context, chunks <-chan []byte) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		t.session.run(ctx, chunks)
	}()
	go func() {
		<-ctx.Done()
		t.tviewApp.Stop()
	}()

	t.console.Add(Entry{Time: time.Now(), Kind: EntryInfo, Text: "connected to " + t.device})
	err := t.tviewApp.Run()
	cancel()
	<-done
	return err
}

// renderStatus formats the status panel.
func renderStatus(device string, st deviceState) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[yellow]DEVICE:[-] [white]%s[-]\n\n", tview.Escape(device))
	if st.HasStatus {
		fmt.Fprintf(&b, "[gray]State:[-] [white]%s[-]\n", st.Status.State)
		p := st.Status.MachinePos
		fmt.Fprintf(&b, "[gray]MPos:[-]  [white]X %.3f  Y %.3f  Z %.3f[-]\n", p.X, p.Y, p.Z)
		if w := st.Status.WorkPos; w != nil {
			fmt.Fprintf(&b, "[gray]WPos:[-]  [white]X %.3f  Y %.3f  Z %.3f[-]\n", w.X, w.Y, w.Z)
		}
	} else {
		b.WriteString("[gray]State:[-] [white]unknown[-]\n")
	}
	fmt.Fprintf(&b, "[gray]Pending:[-] [white]%d[-]\n", st.Pending)
	return b.String()
}
