package app

import (
	"context"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/unklstewy/heliostat/internal/transport"
	"github.com/unklstewy/heliostat/pkg/config"
)

// RetryConfig converts the file configuration into transport retry settings.
func RetryConfig(cfg *config.Config) transport.RetryConfig {
	r := cfg.Retry
	return transport.RetryConfig{
		MaxRetries:   r.MaxRetries,
		InitialDelay: time.Duration(r.InitialDelayMillis) * time.Millisecond,
		MaxDelay:     time.Duration(r.MaxDelayMillis) * time.Millisecond,
		Multiplier:   r.Multiplier,
	}
}

// OpenMotion opens the motion controller on the configured transport,
// retrying per cfg.Retry.
func OpenMotion(ctx context.Context, cfg *config.Config, logger *log.Logger) (io.ReadWriteCloser, error) {
	m := cfg.Motion
	return transport.OpenWithRetry(ctx, RetryConfig(cfg), logger, func() (io.ReadWriteCloser, error) {
		switch m.Transport {
		case config.TransportESP32:
			e, err := transport.DialESP32(ctx, transport.ESP32Config{
				Host:              m.Host,
				HTTPPort:          m.HTTPPort,
				WebSocketPort:     m.WebSocketPort,
				CommandsPerSecond: m.CommandsPerSecond,
			}, logger)
			if err != nil {
				return nil, err
			}
			return e, nil
		case config.TransportSerial:
			return transport.OpenSerial(m.Port, m.BaudRate)
		default:
			return nil, fmt.Errorf("unknown motion transport %q", m.Transport)
		}
	})
}

// OpenGPS opens the GPS receiver. It returns nil, nil when no port is
// configured.
func OpenGPS(ctx context.Context, cfg *config.Config, logger *log.Logger) (io.ReadWriteCloser, error) {
	if cfg.GPS.Port == "" {
		return nil, nil
	}
	return transport.OpenWithRetry(ctx, RetryConfig(cfg), logger, func() (io.ReadWriteCloser, error) {
		return transport.OpenSerial(cfg.GPS.Port, cfg.GPS.BaudRate)
	})
}
