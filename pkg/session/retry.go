package session

import (
	"math"
	"math/rand"
	"time"
)

// RetryPolicy bounds connection establishment. It is an explicit value the
// caller injects; the core never infers network quality from the process
// environment.
type RetryPolicy struct {
	// MaxAttempts is the number of connect attempts before escalation.
	MaxAttempts int

	// PerAttemptTimeout bounds a single dial.
	PerAttemptTimeout time.Duration

	// BaseDelay seeds the exponential backoff between attempts.
	BaseDelay time.Duration

	// MaxDelay caps the backoff.
	MaxDelay time.Duration

	// CommandFailureThreshold is the number of consecutive command
	// failures that moves the session to Degraded.
	CommandFailureThreshold int
}

// DefaultRetryPolicy suits an interactive operator's network.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:             3,
		PerAttemptTimeout:       30 * time.Second,
		BaseDelay:               2 * time.Second,
		MaxDelay:                time.Minute,
		CommandFailureThreshold: 3,
	}
}

// CIRetryPolicy widens the budget for CI egress, which is typically slower
// and less reliable: a floor of 5 attempts and 60 seconds per attempt.
func CIRetryPolicy() RetryPolicy {
	p := DefaultRetryPolicy()
	if p.MaxAttempts < 5 {
		p.MaxAttempts = 5
	}
	if p.PerAttemptTimeout < 60*time.Second {
		p.PerAttemptTimeout = 60 * time.Second
	}
	return p
}

// Backoff returns the delay before the given attempt (0-based), using
// exponential growth with +/-25% jitter.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	base := p.BaseDelay
	if base <= 0 {
		base = time.Second
	}

	delay := time.Duration(float64(base) * math.Pow(2, float64(attempt)))
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		delay = p.MaxDelay
	}

	jitter := time.Duration(rand.Int63n(int64(delay)/2+1)) - time.Duration(int64(delay)/4)
	return delay + jitter
}
