package buffer

import (
	"math/rand"
	"time"
)

// Backoff produces the delay sequence between delivery retries:
// doubling from an initial delay, jittered ±25%, capped at a maximum.
type Backoff struct {
	initial time.Duration
	max     time.Duration
	attempt int
	rng     *rand.Rand
}

// NewBackoff creates a backoff starting at initial and capped at max.
func NewBackoff(initial, max time.Duration) *Backoff {
	return &Backoff{
		initial: initial,
		max:     max,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Next returns the delay before the next attempt and advances the
// sequence.
func (b *Backoff) Next() time.Duration {
	ideal := b.initial << b.attempt
	if ideal > b.max || ideal <= 0 {
		ideal = b.max
	}
	b.attempt++

	// ±25% jitter.
	factor := 0.75 + b.rng.Float64()*0.5
	return time.Duration(float64(ideal) * factor)
}

// Attempt returns how many delays have been handed out.
func (b *Backoff) Attempt() int {
	return b.attempt
}

// Reset rewinds the sequence after a successful delivery.
func (b *Backoff) Reset() {
	b.attempt = 0
}
