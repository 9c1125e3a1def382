package engine

import (
	"math"
	"math/rand/v2"
	"time"

	"failsafe/internal/config"
)

// backoffJitterFraction is the +/- fraction applied to the capped backoff
// delay, per the bounded-jitter retry schedule.
const backoffJitterFraction = 0.2

// computeBackoff returns the delay before attempt number k (1-indexed) of a
// retry policy: base = initial * multiplier^(k-1), capped at max_delay, then
// jittered by +/-20%. The result always falls within
// [0.8*capped, 1.2*capped].
func computeBackoff(policy config.RetryPolicy, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	initial := policy.InitialDelaySeconds
	if initial <= 0 {
		initial = 1
	}
	mult := policy.BackoffMultiplier
	if mult <= 0 {
		mult = 2
	}
	maxDelay := policy.MaxDelaySeconds
	if maxDelay <= 0 {
		maxDelay = 300
	}

	base := initial * math.Pow(mult, float64(attempt-1))
	capped := math.Min(base, maxDelay)
	jitterDelta := (rand.Float64()*2 - 1) * backoffJitterFraction
	jittered := capped * (1 + jitterDelta)
	if jittered < 0 {
		jittered = 0
	}
	return time.Duration(jittered * float64(time.Second))
}
