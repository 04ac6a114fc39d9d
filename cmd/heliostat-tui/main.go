package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/unklstewy/heliostat/internal/app"
	"github.com/unklstewy/heliostat/internal/transport"
	"github.com/unklstewy/heliostat/pkg/config"
	"github.com/unklstewy/heliostat/pkg/tracker"
)

func main() {
	configPath := flag.String("config", "configs/heliostat.json", "Path to configuration file")
	logPath := flag.String("log", "heliostat-tui.log", "Log file")
	flag.Parse()

	// The terminal belongs to the UI; logs go to a file.
	logFile, err := tea.LogToFile(*logPath, "heliostat")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer logFile.Close()
	logger := log.Default()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *log.Logger) error {
	var notices []string

	// Open failures leave the device inert and are shown on screen.
	motion, err := app.OpenMotion(ctx, cfg, logger)
	if err != nil {
		logger.Printf("[motion] %v", err)
		notices = append(notices, fmt.Sprintf("motion controller: %v", err))
		motion = transport.NewInert(motionDevice(cfg), err)
	}
	defer motion.Close()

	gpsStream, err := app.OpenGPS(ctx, cfg, logger)
	if err != nil {
		logger.Printf("[gps] %v", err)
		notices = append(notices, fmt.Sprintf("GPS: %v, using observer location", err))
		gpsStream = nil
	}
	if gpsStream != nil {
		defer gpsStream.Close()
	}

	loop, err := app.New(cfg, gpsStream, motion, app.WithLogger(logger))
	if err != nil {
		return err
	}

	p := tea.NewProgram(newModel(loop, "HELIOSTAT", notices),
		tea.WithAltScreen(),
		tea.WithoutSignalHandler(),
		tea.WithContext(ctx))

	loop.OnSnapshot(func(s tracker.Snapshot) { p.Send(snapshotMsg(s)) })
	loop.OnDeviceLine(func(line string) { p.Send(deviceLineMsg(line)) })

	loopCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	loopDone := make(chan error, 1)
	go func() { loopDone <- loop.Run(loopCtx) }()

	// SIGINT cancels ctx, which kills the program.
	_, err = p.Run()
	cancel()
	if loopErr := <-loopDone; loopErr != nil {
		logger.Printf("[app] %v", loopErr)
	}
	if errors.Is(err, tea.ErrProgramKilled) || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func motionDevice(cfg *config.Config) string {
	if cfg.Motion.Transport == config.TransportESP32 {
		return cfg.Motion.Host
	}
	return cfg.Motion.Port
}
