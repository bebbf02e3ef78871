package lifecycle

import (
	"context"
	"math/rand"
	"time"
)

// Backoff implements exponential backoff with jitter and an optional attempt bound.
type Backoff struct {
	initial  time.Duration
	max      time.Duration
	current  time.Duration
	limit    int
	attempts int
}

// NewBackoff creates an unbounded backoff with the given initial and max durations.
func NewBackoff(initial, max time.Duration) *Backoff {
	return &Backoff{
		initial: initial,
		max:     max,
		current: initial,
	}
}

// NewBoundedBackoff creates a backoff that reports exhaustion after limit waits.
func NewBoundedBackoff(initial, max time.Duration, limit int) *Backoff {
	b := NewBackoff(initial, max)
	b.limit = limit
	return b
}

// Next returns the jittered delay for this attempt and advances the backoff.
func (b *Backoff) Next() time.Duration {
	// Add jitter: ±20%
	jitter := float64(b.current) * 0.2 * (rand.Float64()*2 - 1)
	d := time.Duration(float64(b.current) + jitter)

	b.attempts++
	b.current *= 2
	if b.current > b.max {
		b.current = b.max
	}
	return d
}

// Sleep sleeps for the current backoff duration and increases it.
func (b *Backoff) Sleep() {
	time.Sleep(b.Next())
}

// Wait blocks for the next delay. It returns early with nil when wake fires
// and with ctx.Err() when ctx is done. A nil wake channel never fires.
func (b *Backoff) Wait(ctx context.Context, wake <-chan struct{}) error {
	t := time.NewTimer(b.Next())
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-wake:
		return nil
	case <-t.C:
		return nil
	}
}

// Exhausted reports whether the attempt bound has been reached.
func (b *Backoff) Exhausted() bool {
	return b.limit > 0 && b.attempts >= b.limit
}

// Attempts returns the number of waits since the last Reset.
func (b *Backoff) Attempts() int {
	return b.attempts
}

// Reset resets the backoff to the initial duration.
func (b *Backoff) Reset() {
	b.current = b.initial
	b.attempts = 0
}

// Current returns the current backoff duration.
func (b *Backoff) Current() time.Duration {
	return b.current
}
