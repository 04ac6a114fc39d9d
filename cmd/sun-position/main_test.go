package main

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/unklstewy/heliostat/pkg/tracker"
)

func TestSeries(t *testing.T) {
	start := time.Date(2024, 6, 21, 18, 0, 0, 0, time.UTC)
	suns, err := series(40, -105, start, 3, time.Hour)
	if err != nil {
		t.Fatalf("series: %v", err)
	}
	if len(suns) != 3 {
		t.Fatalf("got %d samples, want 3", len(suns))
	}
	for i, sun := range suns {
		if want := start.Add(time.Duration(i) * time.Hour); !sun.Time.Equal(want) {
			t.Errorf("sample %d at %v, want %v", i, sun.Time, want)
		}
	}
	// Near local solar noon in Colorado the sun is high in the south.
	if suns[1].Altitude < 65 || suns[1].Azimuth < 150 || suns[1].Azimuth > 230 {
		t.Errorf("noon sun = %+v", suns[1])
	}

	if _, err := series(91, 0, start, 1, time.Hour); err == nil {
		t.Error("expected error for latitude 91")
	}
}

func TestPrinterTable(t *testing.T) {
	var buf bytes.Buffer
	cfg := tracker.DefaultConfig()
	p := printer{w: &buf, axisX: cfg.AxisX, axisY: cfg.AxisY}

	suns, err := series(40, -105, time.Date(2024, 3, 20, 19, 0, 0, 0, time.UTC), 2, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if err := p.print(40, -105, suns...); err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("got %d lines, want header + 2:\n%s", len(lines), buf.String())
	}
	if !strings.HasPrefix(lines[0], "TIME") || !strings.Contains(lines[1], "2024-03-20T19:00:00Z") {
		t.Errorf("unexpected table:\n%s", buf.String())
	}
}

func TestPrinterJSONAxes(t *testing.T) {
	var buf bytes.Buffer
	cfg := tracker.DefaultConfig()
	p := printer{w: &buf, asJSON: true, axisX: cfg.AxisX, axisY: cfg.AxisY}

	suns, err := series(40, -105, time.Date(2024, 3, 20, 19, 0, 0, 0, time.UTC), 1, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if err := p.print(40, -105, suns...); err != nil {
		t.Fatal(err)
	}

	var s sample
	if err := json.Unmarshal(buf.Bytes(), &s); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if want := -(90 + s.Azimuth); s.AxisX != want {
		t.Errorf("axis_x = %v, want %v", s.AxisX, want)
	}
	if want := -(90 - s.Altitude); s.AxisY != want {
		t.Errorf("axis_y = %v, want %v", s.AxisY, want)
	}
	if !s.Above {
		t.Error("midday sun reported below horizon")
	}
}

func TestReadFixes(t *testing.T) {
	input := strings.Join([]string{
		"$GPGGA,123519,4807.038,N,01131.000,E,1,08,0.9,545.4,M,46.9,M,,*47",
		"$GPRMC,123519,A,4807.038,N,01131.000,E,022.4,084.4,230394,003.1,W*6A",
		"not a sentence",
		"",
	}, "\r\n")

	var buf bytes.Buffer
	p := printer{w: &buf, asJSON: true, axisX: tracker.DefaultConfig().AxisX, axisY: tracker.DefaultConfig().AxisY}
	if err := readFixes(context.Background(), strings.NewReader(input), p); err != nil {
		t.Fatalf("readFixes: %v", err)
	}

	var s sample
	if err := json.Unmarshal(buf.Bytes(), &s); err != nil {
		t.Fatalf("expected one JSON sample, got %q: %v", buf.String(), err)
	}
	want := time.Date(1994, 3, 23, 12, 35, 19, 0, time.UTC)
	if !s.Time.Equal(want) {
		t.Errorf("time = %v, want %v", s.Time, want)
	}
	if s.Latitude < 48.11 || s.Latitude > 48.12 {
		t.Errorf("latitude = %v", s.Latitude)
	}
}
