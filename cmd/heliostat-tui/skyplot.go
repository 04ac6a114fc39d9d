package main

import (
	"math"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// skyPoint is a marker on the sky plot.
type skyPoint struct {
	altitude float64
	azimuth  float64
	symbol   rune
}

// skyToScreen maps altitude/azimuth to a cell of a width x height polar
// plot: zenith in the center, horizon on the outer ring, north up and east
// right. Points below the horizon return ok=false.
// Terminal cells are about twice as tall as wide, so X distances are
// doubled to keep rings round.
func skyToScreen(altitude, azimuth float64, width, height int) (x, y int, ok bool) {
	if altitude < 0 {
		return 0, 0, false
	}
	const aspectRatio = 0.5

	centerX := width / 2
	centerY := height / 2
	radius := math.Min(float64(height/2), float64(width/2)*aspectRatio)

	r := (90 - math.Min(altitude, 90)) / 90 * radius
	az := azimuth * math.Pi / 180
	x = centerX + int(math.Round(r*math.Sin(az)/aspectRatio))
	y = centerY - int(math.Round(r*math.Cos(az)))

	if x < 0 || x >= width || y < 0 || y >= height {
		return 0, 0, false
	}
	return x, y, true
}

// plotSky renders the grid as plain rows, without borders or colors.
func plotSky(width, height int, points []skyPoint) []string {
	grid := make([][]rune, height)
	for i := range grid {
		grid[i] = []rune(strings.Repeat(" ", width))
	}

	// Altitude rings at 0, 30 and 60 degrees
	for _, alt := range []float64{0, 30, 60} {
		for az := 0.0; az < 360; az += 2 {
			if x, y, ok := skyToScreen(alt, az, width, height); ok {
				grid[y][x] = '·'
			}
		}
	}

	for _, c := range []struct {
		az  float64
		sym rune
	}{{0, 'N'}, {90, 'E'}, {180, 'S'}, {270, 'W'}} {
		if x, y, ok := skyToScreen(0, c.az, width, height); ok {
			grid[y][x] = c.sym
		}
	}
	if x, y, ok := skyToScreen(90, 0, width, height); ok {
		grid[y][x] = '+'
	}

	for _, p := range points {
		if x, y, ok := skyToScreen(p.altitude, p.azimuth, width, height); ok {
			grid[y][x] = p.symbol
		}
	}

	rows := make([]string, height)
	for i, row := range grid {
		rows[i] = string(row)
	}
	return rows
}

// renderSky draws the plot with a border and colored markers.
func renderSky(width, height int, points []skyPoint) string {
	borderStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	styles := map[rune]lipgloss.Style{
		sunSymbol:    lipgloss.NewStyle().Foreground(lipgloss.Color("226")).Bold(true),
		targetSymbol: lipgloss.NewStyle().Foreground(lipgloss.Color("208")),
		'N':          lipgloss.NewStyle().Foreground(lipgloss.Color("244")),
		'E':          lipgloss.NewStyle().Foreground(lipgloss.Color("244")),
		'S':          lipgloss.NewStyle().Foreground(lipgloss.Color("244")),
		'W':          lipgloss.NewStyle().Foreground(lipgloss.Color("244")),
		'·':          lipgloss.NewStyle().Foreground(lipgloss.Color("237")),
	}

	var sky strings.Builder
	sky.WriteString(borderStyle.Render("┌" + strings.Repeat("─", width) + "┐"))
	sky.WriteString("\n")
	for _, row := range plotSky(width, height, points) {
		sky.WriteString(borderStyle.Render("│"))
		for _, ch := range row {
			if st, ok := styles[ch]; ok {
				sky.WriteString(st.Render(string(ch)))
			} else {
				sky.WriteRune(ch)
			}
		}
		sky.WriteString(borderStyle.Render("│"))
		sky.WriteString("\n")
	}
	sky.WriteString(borderStyle.Render("└" + strings.Repeat("─", width) + "┘"))
	return sky.String()
}
