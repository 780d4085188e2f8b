package feed

import (
	"math/rand/v2"
	"time"

	"github.com/tOgg1/yfeed/internal/config"
)

const (
	defaultReconnectMin = time.Second
	defaultReconnectMax = 30 * time.Second

	// jitter is uniform in [0, delay/jitterDivisor).
	jitterDivisor = 2
)

// Backoff decides how long to wait before reconnect attempt n (n >= 1).
type Backoff interface {
	Delay(attempt int) time.Duration
}

// FixedBackoff waits the same interval before every attempt.
type FixedBackoff struct {
	Interval time.Duration
}

func (b FixedBackoff) Delay(int) time.Duration {
	if b.Interval <= 0 {
		return defaultReconnectMin
	}
	return min(b.Interval, config.MaxReconnectDelay)
}

// ExponentialBackoff doubles from Min up to Max and adds random jitter of up
// to half the base delay on top.
type ExponentialBackoff struct {
	Min time.Duration
	Max time.Duration

	// Jitter returns a value in [0, n). Nil uses math/rand; tests pin it.
	Jitter func(n int64) int64
}

func (b ExponentialBackoff) Delay(attempt int) time.Duration {
	lo, hi := b.Min, b.Max
	if lo <= 0 {
		lo = defaultReconnectMin
	}
	if hi <= 0 {
		hi = defaultReconnectMax
	}
	lo, hi = min(lo, config.MaxReconnectDelay), min(hi, config.MaxReconnectDelay)
	if hi < lo {
		hi = lo
	}

	// Stop doubling at hi so large bounds cannot overflow.
	delay := lo
	for i := 1; i < attempt && delay < hi; i++ {
		if delay > hi/2 {
			delay = hi
			break
		}
		delay *= 2
	}

	span := int64(delay) / jitterDivisor
	if span <= 0 {
		return delay
	}
	jitter := b.Jitter
	if jitter == nil {
		jitter = rand.Int64N
	}
	return delay + time.Duration(jitter(span))
}
