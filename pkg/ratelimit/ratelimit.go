// Package ratelimit counts requests per client key against named policies.
package ratelimit

import (
	"context"
	"time"
)

// Policy caps a key at Limit requests per Window. Once exceeded, a non-zero
// Block keeps the key rejected for that long regardless of the window.
type Policy struct {
	Name   string
	Limit  int
	Window time.Duration
	Block  time.Duration
}

// Decision is the outcome of one request against a policy.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// Limiter is implemented by the in-process and Redis backends.
type Limiter interface {
	Allow(ctx context.Context, policy Policy, key string) (Decision, error)
}

func keyFor(policy Policy, key string) string {
	return policy.Name + ":" + key
}

func retrySeconds(d time.Duration) time.Duration {
	if d < time.Second {
		return time.Second
	}
	return d.Round(time.Second)
}
