package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/unklstewy/heliostat/internal/app"
	"github.com/unklstewy/heliostat/internal/bridge"
	"github.com/unklstewy/heliostat/internal/observability"
	"github.com/unklstewy/heliostat/internal/server"
	"github.com/unklstewy/heliostat/internal/transport"
	"github.com/unklstewy/heliostat/pkg/config"
)

// main runs the heliostat controller without a terminal UI. The operator
// drives it through the HTTP API or MQTT.
func main() {
	configPath := flag.String("config", "configs/heliostat.json", "Path to configuration file")
	writeConfig := flag.Bool("write-config", false, "Write the effective configuration to -config and exit")
	home := flag.Bool("home", false, "Start homing as soon as the controller is up")
	track := flag.Bool("track", false, "Start tracking once homed (implies auto-track after homing)")
	flag.Parse()

	logger := log.New(os.Stderr, "", log.LstdFlags)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}
	if *writeConfig {
		if err := cfg.Save(*configPath); err != nil {
			logger.Fatalf("Failed to write configuration: %v", err)
		}
		logger.Printf("Configuration written to %s", *configPath)
		return
	}
	if *track {
		cfg.Tracker.AutoTrackAfterHome = true
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatalf("Invalid configuration: %v", err)
	}
	logger.Printf("Configuration loaded from %s", *configPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger, *home); err != nil {
		logger.Fatalf("heliostat: %v", err)
	}
	logger.Println("Stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *log.Logger, home bool) error {
	motion, err := app.OpenMotion(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer motion.Close()

	gpsStream, err := app.OpenGPS(ctx, cfg, logger)
	if err != nil {
		var oe *transport.OpenError
		if !errors.As(err, &oe) {
			return err
		}
		// Without a receiver the loop falls back to the observer location.
		logger.Printf("[gps] %v, continuing without GPS", err)
		gpsStream = nil
	}
	if gpsStream != nil {
		defer gpsStream.Close()
	}

	metrics, err := observability.NewCollector(nil)
	if err != nil {
		return err
	}

	loop, err := app.New(cfg, gpsStream, motion, app.WithLogger(logger), app.WithMetrics(metrics))
	if err != nil {
		return err
	}

	if cfg.MQTT.Enabled {
		client, err := bridge.Connect(cfg.MQTT, logger)
		if err != nil {
			return err
		}
		b := bridge.New(client, cfg.MQTT, loop, logger)
		defer b.Close()
		loop.OnDeviceLine(b.DeviceLine)
		loop.OnSnapshot(b.Snapshot)
		if err := b.Start(ctx); err != nil {
			return err
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return loop.Run(ctx) })
	if cfg.Server.Listen != "" {
		srv := server.New(cfg.Server, loop, metrics, logger)
		g.Go(func() error { return srv.ListenAndServe(ctx) })
	}
	if home {
		g.Go(func() error {
			if err := loop.Submit(ctx, app.Home()); err != nil && !errors.Is(err, context.Canceled) {
				logger.Printf("[app] home: %v", err)
			}
			return nil
		})
	}
	return g.Wait()
}
