package grbl

import (
	"time"

	"golang.org/x/time/rate"
)

// PollLimiter allows at most one status query per interval. The caller
// supplies the clock so tick-driven code stays deterministic.
type PollLimiter struct {
	limiter *rate.Limiter
}

// NewPollLimiter creates a limiter for the given tick interval. The
// effective spacing is 90% of the interval so that a slightly early tick
// from a jittery ticker still gets its poll.
func NewPollLimiter(interval time.Duration) *PollLimiter {
	if interval <= 0 {
		return &PollLimiter{limiter: rate.NewLimiter(rate.Inf, 1)}
	}
	return &PollLimiter{limiter: rate.NewLimiter(rate.Every(interval*9/10), 1)}
}

// Allow reports whether a poll may be sent at now and consumes the slot.
func (p *PollLimiter) Allow(now time.Time) bool {
	return p.limiter.AllowN(now, 1)
}
