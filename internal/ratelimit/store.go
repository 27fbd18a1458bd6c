package ratelimit

import (
	"context"
	"time"
)

// CounterStore is a shared counter keyed by string with per-key expiry.
// Increment must be atomic across all gateway instances sharing the store,
// and a counter it returns must carry an expiry of at most ttl.
type CounterStore interface {
	Increment(ctx context.Context, key string, ttl time.Duration) (int64, error)
}
