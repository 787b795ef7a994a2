// Package ratelimit implements a fixed-window counter per key on top of the
// kv gateway: increment, set TTL only on the window's first request, compare
// against a configured ceiling.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/provenanceagent/proof-agent/pkg/kv"
)

// Result is the outcome of a Check call.
type Result struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// Limiter is a per-key fixed-window admission counter.
type Limiter struct {
	store       kv.Store
	prefix      string
	maxRequests int
	window      time.Duration
}

// New constructs a Limiter. prefix namespaces keys: prefix "proofs" yields
// counters under "rl:proofs:<key>".
func New(store kv.Store, prefix string, maxRequests int, window time.Duration) *Limiter {
	return &Limiter{store: store, prefix: prefix, maxRequests: maxRequests, window: window}
}

// Check atomically increments the window counter for key and reports whether
// the request is admitted. TTL is set only the first time a window's counter
// transitions from 0 to 1 — later requests in the same window never reset it.
func (l *Limiter) Check(ctx context.Context, key string) (Result, error) {
	counterKey := fmt.Sprintf("rl:%s:%s", l.prefix, key)

	count, err := l.store.Incr(ctx, counterKey)
	if err != nil {
		return Result{}, fmt.Errorf("ratelimit: incr: %w", err)
	}
	if count == 1 {
		if err := l.store.Expire(ctx, counterKey, l.window); err != nil {
			return Result{}, fmt.Errorf("ratelimit: expire: %w", err)
		}
	}

	allowed := int(count) <= l.maxRequests
	remaining := l.maxRequests - int(count)
	if remaining < 0 {
		remaining = 0
	}

	result := Result{Allowed: allowed, Remaining: remaining}
	if !allowed {
		ttl, err := l.store.TTL(ctx, counterKey)
		if err == nil {
			result.RetryAfter = ttl
		} else {
			result.RetryAfter = l.window
		}
	}
	return result, nil
}
