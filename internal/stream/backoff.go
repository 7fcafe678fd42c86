package stream

import "time"

// Reconnect delay bounds: the first retry waits DefaultBase, each
// consecutive failure doubles the wait, and no wait exceeds DefaultMax.
const (
	DefaultBase = time.Second
	DefaultMax  = 10 * time.Second
)

// Backoff produces the reconnect delay schedule. The zero value uses the
// default bounds. Next returns the delay for the upcoming attempt and
// advances; Reset starts the schedule over after a successful connect.
type Backoff struct {
	Base time.Duration
	Max  time.Duration

	attempt uint
}

// Next returns the delay before the next reconnect attempt.
func (b *Backoff) Next() time.Duration {
	d := DelayForAttempt(b.attempt, b.base(), b.max())
	b.attempt++
	return d
}

// Reset restarts the schedule from the base delay.
func (b *Backoff) Reset() {
	b.attempt = 0
}

func (b *Backoff) base() time.Duration {
	if b.Base <= 0 {
		return DefaultBase
	}
	return b.Base
}

func (b *Backoff) max() time.Duration {
	if b.Max <= 0 {
		return DefaultMax
	}
	return b.Max
}

// DelayForAttempt computes base doubled attempt times, capped at max. It
// is shared with the boot probe's retry delay so both paths follow the
// same schedule.
func DelayForAttempt(attempt uint, base, max time.Duration) time.Duration {
	if base <= 0 {
		base = DefaultBase
	}
	if max <= 0 {
		max = DefaultMax
	}
	d := base
	for i := uint(0); i < attempt; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}
