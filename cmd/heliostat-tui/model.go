package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/unklstewy/heliostat/internal/app"
	"github.com/unklstewy/heliostat/pkg/tracker"
)

const (
	skyWidth     = 41
	skyHeight    = 21
	maxLogLines  = 12
	sunSymbol    = '☀'
	targetSymbol = '◎'
)

// submitter is the part of app.Loop the TUI drives.
type submitter interface {
	Submit(ctx context.Context, a app.Action) error
}

type snapshotMsg tracker.Snapshot

type deviceLineMsg string

type actionResultMsg struct {
	action app.Action
	err    error
}

type model struct {
	loop    submitter
	title   string
	notices []string // transport problems shown above the status

	snap  tracker.Snapshot
	lines []string
	err   error

	input textinput.Model
	width int
}

func newModel(loop submitter, title string, notices []string) model {
	ti := textinput.New()
	ti.Placeholder = "G-code, e.g. $X or G0 X-180 Y-45"
	ti.Prompt = "> "
	ti.CharLimit = 80
	ti.Width = 50

	return model{
		loop:    loop,
		title:   title,
		notices: notices,
		input:   ti,
		width:   80,
	}
}

func (m model) Init() tea.Cmd {
	return nil
}

// submit runs an action in a command; the event loop may itself be
// blocked in Program.Send.
func (m model) submit(a app.Action) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return actionResultMsg{action: a, err: m.loop.Submit(ctx, a)}
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if m.input.Focused() {
			return m.updateInput(msg)
		}
		return m.updateKeys(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width

	case snapshotMsg:
		m.snap = tracker.Snapshot(msg)

	case deviceLineMsg:
		m.lines = append(m.lines, string(msg))
		if len(m.lines) > maxLogLines {
			m.lines = m.lines[len(m.lines)-maxLogLines:]
		}

	case actionResultMsg:
		m.err = msg.err
		if msg.err != nil {
			m.err = fmt.Errorf("%s: %w", msg.action, msg.err)
		}
	}
	return m, nil
}

func (m model) updateKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "q":
		return m, tea.Quit
	case "h":
		return m, m.submit(app.Home())
	case "t":
		return m, m.submit(app.Track())
	case "up", "k":
		return m, m.submit(app.Jog(tracker.DirUp))
	case "down", "j":
		return m, m.submit(app.Jog(tracker.DirDown))
	case "left":
		return m, m.submit(app.Jog(tracker.DirLeft))
	case "right", "l":
		return m, m.submit(app.Jog(tracker.DirRight))
	case ":", "/":
		m.err = nil
		return m, m.input.Focus()
	}
	return m, nil
}

func (m model) updateInput(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		return m, tea.Quit
	case "esc":
		m.input.Blur()
		return m, nil
	case "enter":
		line := strings.TrimSpace(m.input.Value())
		m.input.Reset()
		if line == "" {
			return m, nil
		}
		return m, m.submit(app.Command(line))
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m model) View() string {
	var s strings.Builder

	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("226")).
		Background(lipgloss.Color("235")).
		Padding(0, 1)
	warnStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	errStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	helpStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("241"))

	s.WriteString(titleStyle.Render(m.title))
	s.WriteString("\n\n")
	for _, n := range m.notices {
		s.WriteString(warnStyle.Render("! " + n))
		s.WriteString("\n")
	}
	if len(m.notices) > 0 {
		s.WriteString("\n")
	}

	var points []skyPoint
	if m.snap.Sun != nil {
		points = append(points, skyPoint{altitude: m.snap.Sun.Altitude, azimuth: m.snap.Sun.Azimuth, symbol: sunSymbol})
	}
	sky := strings.Split(renderSky(skyWidth, skyHeight, points), "\n")
	status := strings.Split(m.renderStatus(), "\n")
	for i := 0; i < max(len(sky), len(status)); i++ {
		if i < len(sky) {
			s.WriteString(sky[i])
		} else {
			s.WriteString(strings.Repeat(" ", skyWidth+2))
		}
		s.WriteString("  ")
		if i < len(status) {
			s.WriteString(status[i])
		}
		s.WriteString("\n")
	}

	s.WriteString("\n")
	s.WriteString(m.renderLog())
	s.WriteString("\n")

	if m.err != nil {
		s.WriteString(errStyle.Render(fmt.Sprintf("Error: %v", m.err)))
		s.WriteString("\n")
	}
	if m.input.Focused() {
		s.WriteString(m.input.View())
		s.WriteString("\n")
		s.WriteString(helpStyle.Render("ENTER: Send  ESC: Back"))
	} else {
		s.WriteString(helpStyle.Render("H: Home  T: Track  ←↑↓→: Jog  :: Command  Q: Quit"))
	}
	s.WriteString("\n")
	return s.String()
}

func (m model) renderStatus() string {
	var st strings.Builder
	header := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	label := lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	stateStyle := lipgloss.NewStyle().Bold(true).Foreground(stateColor(m.snap.State))

	row := func(name, value string) {
		st.WriteString(label.Render(fmt.Sprintf("%-10s", name)))
		st.WriteString(value)
		st.WriteString("\n")
	}

	st.WriteString(header.Render("Tracker"))
	st.WriteString("\n")
	row("State", stateStyle.Render(m.snap.State.String()))
	device := m.snap.DeviceState
	if device == "" {
		device = "-"
	}
	row("Device", device)
	if m.snap.HavePosition {
		row("Position", fmt.Sprintf("X %.3f  Y %.3f", m.snap.Position.X, m.snap.Position.Y))
	} else {
		row("Position", "unknown")
	}
	if m.snap.Target != nil {
		row("Target", fmt.Sprintf("X %.3f  Y %.3f", m.snap.Target.X, m.snap.Target.Y))
	}
	row("Pending", fmt.Sprintf("%d", m.snap.Outstanding))
	st.WriteString("\n")

	st.WriteString(header.Render("Sun"))
	st.WriteString("\n")
	if m.snap.Fix != nil {
		row("Location", fmt.Sprintf("%.4f, %.4f", m.snap.Fix.Latitude, m.snap.Fix.Longitude))
		row("GPS time", m.snap.Fix.Time.Format("2006-01-02 15:04:05Z"))
	} else {
		row("Location", "waiting for fix")
	}
	if m.snap.Sun != nil {
		row("Altitude", fmt.Sprintf("%.2f°", m.snap.Sun.Altitude))
		row("Azimuth", fmt.Sprintf("%.2f°", m.snap.Sun.Azimuth))
	}

	if m.snap.LastError != "" {
		st.WriteString("\n")
		st.WriteString(lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Render(m.snap.LastError))
		st.WriteString("\n")
	}
	return st.String()
}

func (m model) renderLog() string {
	box := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Padding(0, 1).
		Width(max(m.width-4, 40))

	lines := make([]string, maxLogLines)
	copy(lines[maxLogLines-len(m.lines):], m.lines)
	return box.Render(strings.Join(lines, "\n"))
}

func stateColor(s tracker.State) lipgloss.Color {
	switch s {
	case tracker.StateTracking:
		return lipgloss.Color("46")
	case tracker.StateHoming, tracker.StateManual:
		return lipgloss.Color("226")
	case tracker.StateError:
		return lipgloss.Color("196")
	default:
		return lipgloss.Color("250")
	}
}
