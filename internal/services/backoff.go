package services

import (
	"math/rand"
	"time"
)

// Backoff computes retry delays: exponential doubling from Base up to
// Ceiling, with a symmetric jitter fraction so parked retry loops do not
// wake in lockstep. The zero value is unusable; construct with the fields
// set.
type Backoff struct {
	Base    time.Duration
	Ceiling time.Duration
	Jitter  float64 // fraction of the delay, e.g. 0.2 for ±20%
}

// Delay returns the sleep before the given consecutive-failure attempt.
// attempt 0 (or negative) means no failures yet and returns Base.
func (b Backoff) Delay(attempt int) time.Duration {
	d := b.Base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= b.Ceiling {
			d = b.Ceiling
			break
		}
	}
	if b.Ceiling > 0 && d > b.Ceiling {
		d = b.Ceiling
	}
	if b.Jitter > 0 {
		spread := float64(d) * b.Jitter
		d += time.Duration((rand.Float64()*2 - 1) * spread)
		if d < 0 {
			d = 0
		}
	}
	return d
}
