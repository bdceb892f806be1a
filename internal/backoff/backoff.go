// Package backoff holds the delay helpers shared by the retry loops.
package backoff

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"time"
)

const maxShift = 62

// Exponential returns base * 2^attempt, saturating instead of overflowing.
// Negative attempts are treated as 0.
func Exponential(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}

	if attempt < 0 {
		attempt = 0
	} else if attempt > maxShift {
		attempt = maxShift
	}

	multiplier := int64(1 << attempt)
	if int64(base) > math.MaxInt64/multiplier {
		return time.Duration(math.MaxInt64)
	}

	return time.Duration(int64(base) * multiplier)
}

// FullJitter returns a random duration in [0, delay).
func FullJitter(delay time.Duration) time.Duration {
	if delay <= 0 {
		return 0
	}

	return time.Duration(rand.Int64N(int64(delay))) // #nosec G404 -- jitter, not security
}

// ExponentialWithJitter is FullJitter(Exponential(base, attempt)), capped at ceiling when ceiling > 0.
func ExponentialWithJitter(base time.Duration, attempt int, ceiling time.Duration) time.Duration {
	d := Exponential(base, attempt)
	if ceiling > 0 && d > ceiling {
		d = ceiling
	}

	return FullJitter(d)
}

// SleepWithContext waits for duration or until ctx is done.
func SleepWithContext(ctx context.Context, duration time.Duration) error {
	if duration <= 0 {
		return nil
	}

	timer := time.NewTimer(duration)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("context done: %w", ctx.Err())
	}
}
