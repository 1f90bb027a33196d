package autoreply

import (
	"math/rand/v2"
	"time"
)

// Humanized send delay bounds.
const (
	minDelay = 10 * time.Second
	maxDelay = 30 * time.Second
)

// DelayFunc returns a send delay in [min, max].
type DelayFunc func(min, max time.Duration) time.Duration

// Clock returns the current time.
type Clock func() time.Time

// RandomDelay picks a uniformly random delay in [min, max].
func RandomDelay(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + rand.N(max-min+1)
}

// FixedDelay returns a DelayFunc that always yields d, clamped to the bounds.
func FixedDelay(d time.Duration) DelayFunc {
	return func(min, max time.Duration) time.Duration {
		switch {
		case d < min:
			return min
		case d > max:
			return max
		default:
			return d
		}
	}
}
