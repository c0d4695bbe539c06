package session

import (
	"math"
	"math/rand"
	"time"
)

// Backoff computes jittered exponential reconnect delays. The jitter spreads
// retries out so that a provider outage does not produce a synchronized
// reconnect storm across shops.
type Backoff struct {
	// Base is the delay before the first retry.
	Base time.Duration
	// Max caps the computed delay before jitter.
	Max time.Duration
	// Factor multiplies the delay per attempt.
	Factor float64
	// Jitter is the fraction of the delay randomized in both directions,
	// e.g. 0.2 yields a delay in [0.8d, 1.2d].
	Jitter float64
}

// DefaultBackoff is the reconnect policy used when none is configured.
var DefaultBackoff = Backoff{
	Base:   time.Second,
	Max:    time.Minute,
	Factor: 2,
	Jitter: 0.2,
}

// Delay returns the wait before retry number attempt (0-based).
func (b Backoff) Delay(attempt int) time.Duration {
	base := b.Base
	if base <= 0 {
		base = DefaultBackoff.Base
	}
	max := b.Max
	if max <= 0 {
		max = DefaultBackoff.Max
	}
	factor := b.Factor
	if factor < 1 {
		factor = DefaultBackoff.Factor
	}

	d := float64(base) * math.Pow(factor, float64(attempt))
	if d > float64(max) {
		d = float64(max)
	}
	if b.Jitter > 0 {
		spread := d * b.Jitter
		d = d - spread + rand.Float64()*2*spread
	}
	if d < 0 {
		d = 0
	}
	return time.Duration(d)
}
