package transport

import (
	"context"
	"fmt"
	"log"
	"math"
	"time"
)

// RetryConfig configures retry behavior with exponential backoff.
type RetryConfig struct {
	// MaxRetries is the number of attempts after the first (0 = no retry)
	MaxRetries int

	// InitialDelay is the backoff before the first retry
	InitialDelay time.Duration

	// MaxDelay caps the backoff
	MaxDelay time.Duration

	// Multiplier is the backoff multiplier (2.0 for exponential)
	Multiplier float64
}

// OpenWithRetry calls open until it succeeds, the retries are exhausted,
// or ctx is cancelled. With MaxRetries 0 it is a single attempt.
//
// Example usage:
//
//	port, err := OpenWithRetry(ctx, cfg, logger, func() (io.ReadWriteCloser, error) {
//	    return OpenSerial("/dev/ttyUSB0", 115200)
//	})
func OpenWithRetry[T any](ctx context.Context, cfg RetryConfig, logger *log.Logger, open func() (T, error)) (T, error) {
	if logger == nil {
		logger = log.Default()
	}
	var result T
	var lastErr error

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			// delay = min(InitialDelay * Multiplier^(attempt-1), MaxDelay)
			delay := time.Duration(float64(cfg.InitialDelay) * math.Pow(cfg.Multiplier, float64(attempt-1)))
			if cfg.MaxDelay > 0 && delay > cfg.MaxDelay {
				delay = cfg.MaxDelay
			}
			logger.Printf("[transport] %v (retry %d/%d in %v)", lastErr, attempt, cfg.MaxRetries, delay)
			select {
			case <-ctx.Done():
				return result, fmt.Errorf("retry cancelled: %w", ctx.Err())
			case <-time.After(delay):
			}
		}

		res, err := open()
		if err == nil {
			return res, nil
		}
		lastErr = err
	}

	if cfg.MaxRetries == 0 {
		return result, lastErr
	}
	return result, fmt.Errorf("max retries (%d) exceeded: %w", cfg.MaxRetries, lastErr)
}
