package retry

import (
	"math/rand"
	"time"
)

// Backoff computes the delay before the retryCount-th retry: exponential in
// the retry count, capped at max, with uniform jitter in ±20% so a batch of
// concurrently failing tasks does not retry in lockstep.
func Backoff(base time.Duration, retryCount int, max time.Duration, rng *rand.Rand) time.Duration {
	if base <= 0 {
		base = time.Second
	}
	if retryCount < 0 {
		retryCount = 0
	}
	if retryCount > 30 {
		retryCount = 30 // avoid shift overflow; max caps it anyway
	}

	delay := base << uint(retryCount)
	if max > 0 && delay > max {
		delay = max
	}

	jitter := 0.8 + 0.4*rng.Float64()
	delay = time.Duration(float64(delay) * jitter)
	if max > 0 && delay > max {
		delay = max
	}
	return delay
}
