package generation

import (
	"context"
	"math/rand/v2"
	"time"
)

// WaitFunc blocks for d or until ctx is done, whichever comes first.
type WaitFunc func(ctx context.Context, d time.Duration) error

// JitterFunc returns a random duration in [0, max).
type JitterFunc func(max time.Duration) time.Duration

// SleepContext waits on a timer raced against cancellation. The timer is
// released on either path.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// RandomJitter draws uniformly from [0, max).
func RandomJitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return rand.N(max)
}
