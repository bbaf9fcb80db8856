package stream

import "time"

// Backoff computes reconnect delays: min(Base * 2^(attempt-1), Max). Delays
// are monotonically non-decreasing across consecutive failed attempts.
type Backoff struct {
	Base time.Duration
	Max  time.Duration
}

// Next returns the delay before the given reconnect attempt (1-based).
func (b Backoff) Next(attempt int) time.Duration {
	if attempt <= 0 {
		attempt = 1
	}
	base := b.Base
	if base <= 0 {
		base = time.Second
	}
	max := b.Max
	if max <= 0 {
		max = 60 * time.Second
	}

	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= max {
			return max
		}
	}
	if delay > max {
		return max
	}
	return delay
}
