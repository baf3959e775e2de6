package task

import (
	"math/rand"
	"time"
)

// Backoff computes retry delays: base * 2^(attempt-1), capped at max, then
// scaled by a random jitter factor in [0.5, 1.0].
type Backoff struct {
	Base time.Duration
	Max  time.Duration

	// random returns a value in [0, 1). Replaced in tests.
	random func() float64
}

// NewBackoff creates a Backoff using the process-wide random source.
func NewBackoff(base, maxDelay time.Duration) *Backoff {
	if maxDelay < base {
		maxDelay = base
	}
	return &Backoff{Base: base, Max: maxDelay, random: rand.Float64}
}

// Delay returns the wait before retrying after the given failed attempt
// (1 for the first failure).
func (b *Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := b.Base
	for i := 1; i < attempt && d < b.Max; i++ {
		d *= 2
	}
	if d > b.Max {
		d = b.Max
	}

	jitter := 0.5 + b.random()*0.5
	return time.Duration(float64(d) * jitter)
}
