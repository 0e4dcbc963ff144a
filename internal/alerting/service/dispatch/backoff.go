package dispatch

import (
	"math/rand"
	"time"
)

// Backoff computes retry delays from a tier table with symmetric jitter.
// Tiers are minutes; the last tier repeats once exhausted.
type Backoff struct {
	Minutes    []int
	JitterPct  int
	MaxRetries int

	// jitterFn returns a value in [0,1); overridable for tests.
	jitterFn func() float64
}

func NewBackoff(minutes []int, jitterPct, maxRetries int) *Backoff {
	if len(minutes) == 0 {
		minutes = []int{1, 5, 15, 60, 120, 240}
	}
	if jitterPct < 0 {
		jitterPct = 0
	}
	if maxRetries < 1 {
		maxRetries = 6
	}
	return &Backoff{Minutes: minutes, JitterPct: jitterPct, MaxRetries: maxRetries, jitterFn: rand.Float64}
}

// Delay returns the jittered delay after the given 1-based failed attempt
// number. Attempt 1 uses the first tier.
func (b *Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	tier := attempt - 1
	if tier >= len(b.Minutes) {
		tier = len(b.Minutes) - 1
	}
	base := time.Duration(b.Minutes[tier]) * time.Minute
	if b.JitterPct == 0 {
		return base
	}
	// symmetric jitter in seconds: base * (1 ± jitterPct/100)
	spread := float64(base) * float64(b.JitterPct) / 100.0
	offset := (b.jitterFn()*2 - 1) * spread
	d := time.Duration(float64(base) + offset)
	return d.Round(time.Second)
}

// Exhausted reports whether the given number of failed attempts has reached
// the retry budget.
func (b *Backoff) Exhausted(attempts int) bool {
	return attempts >= b.MaxRetries
}
