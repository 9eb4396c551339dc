// Package retry implements a bounded exponential-backoff retry policy
// and the unbounded backoff used by the Order Monitor supervisor loop.
// The Exchange Gateway's HTTP retries run in internal/exchange/httpx, not
// through this package.
package retry

import (
	"context"
	"math/rand"
	"time"
)

// Policy defines how to retry an operation.
type Policy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// GatewayPolicy is a bounded three-attempt preset for Do.
var GatewayPolicy = Policy{
	MaxAttempts:    3,
	InitialBackoff: 100 * time.Millisecond,
	MaxBackoff:     2 * time.Second,
}

// MonitorBackoff is the Order Monitor's backoff bounds; callers loop until the bot is no longer active rather than
// stopping at MaxAttempts.
var MonitorBackoff = Policy{
	InitialBackoff: time.Second,
	MaxBackoff:     60 * time.Second,
}

// IsTransientFunc reports whether an error should be retried.
type IsTransientFunc func(error) bool

// Do executes fn with retries according to policy. Non-transient errors
// (per isTransient) return immediately without consuming an attempt-sleep.
func Do(ctx context.Context, policy Policy, isTransient IsTransientFunc, fn func() error) error {
	var err error
	backoff := policy.InitialBackoff

	for attempt := 0; attempt < policy.MaxAttempts; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}

		if !isTransient(err) {
			return err
		}

		if attempt == policy.MaxAttempts-1 {
			break
		}

		sleepTime := jitter(backoff)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleepTime):
			backoff = minDuration(backoff*2, policy.MaxBackoff)
		}
	}

	return err
}

// NextBackoff doubles cur, capped at policy.MaxBackoff, for callers that
// manage their own unbounded retry loop (the Order Monitor).
func NextBackoff(policy Policy, cur time.Duration) time.Duration {
	if cur <= 0 {
		return policy.InitialBackoff
	}
	return minDuration(cur*2, policy.MaxBackoff)
}

func jitter(backoff time.Duration) time.Duration {
	if backoff <= 0 {
		return 0
	}
	return backoff + time.Duration(rand.Int63n(int64(backoff/2+1)))
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
