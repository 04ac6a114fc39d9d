package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/unklstewy/heliostat/internal/app"
	"github.com/unklstewy/heliostat/internal/transport"
	"github.com/unklstewy/heliostat/pkg/config"
	"github.com/unklstewy/heliostat/pkg/coordinates"
	"github.com/unklstewy/heliostat/pkg/framer"
	"github.com/unklstewy/heliostat/pkg/gps"
	"github.com/unklstewy/heliostat/pkg/tracker"
)

func main() {
	configPath := flag.String("config", "", "Configuration file for observer location and axis mapping")
	lat := flag.Float64("lat", 0, "Latitude in decimal degrees (positive = North)")
	lon := flag.Float64("lon", 0, "Longitude in decimal degrees (positive = East)")
	at := flag.String("time", "", "UTC time in RFC3339 (default: now)")
	steps := flag.Int("steps", 1, "Number of samples")
	step := flag.Duration("step", time.Hour, "Interval between samples")
	gpsPort := flag.String("gps", "", "Read fixes from this NMEA serial port instead of -lat/-lon")
	baud := flag.Int("baud", 9600, "GPS baud rate")
	asJSON := flag.Bool("json", false, "Print JSON lines")
	flag.Parse()

	mapping := tracker.DefaultConfig()
	if *configPath != "" {
		cfg, err := config.Load(*configPath)
		if err != nil {
			log.Fatalf("Failed to load configuration: %v", err)
		}
		mapping = app.TrackerConfig(cfg)
		if !isSet("lat") && !isSet("lon") {
			*lat, *lon = cfg.Observer.Latitude, cfg.Observer.Longitude
		}
	}

	p := printer{w: os.Stdout, asJSON: *asJSON, axisX: mapping.AxisX, axisY: mapping.AxisY}

	if *gpsPort != "" {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		if err := followGPS(ctx, *gpsPort, *baud, p); err != nil {
			log.Fatalf("GPS: %v", err)
		}
		return
	}

	start := time.Now().UTC()
	if *at != "" {
		t, err := time.Parse(time.RFC3339, *at)
		if err != nil {
			log.Fatalf("Invalid -time: %v", err)
		}
		start = t
	}
	samples, err := series(*lat, *lon, start, *steps, *step)
	if err != nil {
		log.Fatalf("%v", err)
	}
	if err := p.print(*lat, *lon, samples...); err != nil {
		log.Fatalf("%v", err)
	}
}

func isSet(name string) bool {
	set := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			set = true
		}
	})
	return set
}

// series computes n sun positions starting at start, step apart.
func series(lat, lon float64, start time.Time, n int, step time.Duration) ([]coordinates.SunPosition, error) {
	if n < 1 {
		n = 1
	}
	out := make([]coordinates.SunPosition, 0, n)
	for i := 0; i < n; i++ {
		sun, err := coordinates.ComputeSunPosition(lat, lon, start.Add(time.Duration(i)*step))
		if err != nil {
			return nil, err
		}
		out = append(out, sun)
	}
	return out, nil
}

// followGPS prints the sun position for every fix until ctx is done.
func followGPS(ctx context.Context, port string, baud int, p printer) error {
	dev, err := transport.OpenSerial(port, baud)
	if err != nil {
		return err
	}
	go func() {
		<-ctx.Done()
		dev.Close()
	}()
	return readFixes(ctx, dev, p)
}

func readFixes(ctx context.Context, r io.Reader, p printer) error {
	chunks := make(chan []byte)
	errc := make(chan error, 1)
	go func() {
		errc <- transport.Pump(ctx, r, chunks)
		close(chunks)
	}()

	f := framer.New(framer.CRLF)
	fixes := gps.NewFixSource()
	for chunk := range chunks {
		for line := range f.Feed(chunk) {
			fix, ok, err := fixes.OnLine(line)
			if err != nil {
				log.Printf("[gps] %v", err)
				continue
			}
			if !ok {
				continue
			}
			sun, err := coordinates.ComputeSunPosition(fix.Latitude, fix.Longitude, fix.Time)
			if err != nil {
				log.Printf("[gps] %v", err)
				continue
			}
			if err := p.print(fix.Latitude, fix.Longitude, sun); err != nil {
				return err
			}
		}
	}
	if err := <-errc; err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

// sample is one printed row.
type sample struct {
	Time      time.Time `json:"time"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Altitude  float64   `json:"altitude"`
	Azimuth   float64   `json:"azimuth"`
	AxisX     float64   `json:"axis_x"`
	AxisY     float64   `json:"axis_y"`
	Above     bool      `json:"above_horizon"`
}

type printer struct {
	w            io.Writer
	asJSON       bool
	axisX, axisY tracker.AxisMapping
}

func (p printer) row(lat, lon float64, sun coordinates.SunPosition) sample {
	return sample{
		Time:      sun.Time.UTC(),
		Latitude:  lat,
		Longitude: lon,
		Altitude:  sun.Altitude,
		Azimuth:   sun.Azimuth,
		AxisX:     p.axisX.Apply(sun.Azimuth),
		AxisY:     p.axisY.Apply(sun.Altitude),
		Above:     sun.AboveHorizon(),
	}
}

func (p printer) print(lat, lon float64, suns ...coordinates.SunPosition) error {
	if p.asJSON {
		enc := json.NewEncoder(p.w)
		for _, sun := range suns {
			if err := enc.Encode(p.row(lat, lon, sun)); err != nil {
				return err
			}
		}
		return nil
	}

	tw := tabwriter.NewWriter(p.w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tALTITUDE\tAZIMUTH\tX\tY")
	for _, sun := range suns {
		s := p.row(lat, lon, sun)
		fmt.Fprintf(tw, "%s\t%.3f\t%.3f\t%.3f\t%.3f\n",
			s.Time.Format(time.RFC3339), s.Altitude, s.Azimuth, s.AxisX, s.AxisY)
	}
	return tw.Flush()
}
