package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/unklstewy/heliostat/internal/app"
	"github.com/unklstewy/heliostat/internal/transport"
	"github.com/unklstewy/heliostat/pkg/config"
	"github.com/unklstewy/heliostat/pkg/framer"
	"github.com/unklstewy/heliostat/pkg/grbl"
)

func main() {
	configPath := flag.String("config", "configs/heliostat.json", "Path to configuration file")
	logPath := flag.String("log", "grbl-terminal.log", "Log file")
	listPorts := flag.Bool("list", false, "List serial ports and exit")
	flag.Parse()

	if *listPorts {
		ports, err := transport.SerialPorts()
		if err != nil {
			log.Fatalf("Failed to list serial ports: %v", err)
		}
		for _, p := range ports {
			fmt.Println(p)
		}
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logFile, err := os.OpenFile(*logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		log.Fatalf("Failed to open log file: %v", err)
	}
	defer logFile.Close()
	logger := log.New(logFile, "grbl-terminal ", log.LstdFlags)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *log.Logger) error {
	cmdTerm, err := framer.ParseTerminator(cfg.Motion.CommandTerminator)
	if err != nil {
		return err
	}
	replyTerm, err := framer.ParseTerminator(cfg.Motion.ReplyTerminator)
	if err != nil {
		return err
	}

	fmt.Printf("Connecting to %s...\n", device(cfg))
	dev, err := app.OpenMotion(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer dev.Close()

	chunks := make(chan []byte)
	go func() {
		defer close(chunks)
		if err := transport.Pump(ctx, dev, chunks); err != nil {
			logger.Printf("[motion] read: %v", err)
		}
	}()

	term := NewTerminal(device(cfg), grbl.NewController(dev, cmdTerm, logger), replyTerm)
	return term.Run(ctx, chunks)
}

func device(cfg *config.Config) string {
	if cfg.Motion.Transport == config.TransportESP32 {
		return "esp32://" + cfg.Motion.Host
	}
	return cfg.Motion.Port
}
