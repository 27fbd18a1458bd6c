package ratelimit

import (
	"context"
	"time"

	"github.com/sony/gobreaker"
)

// BreakerStore short-circuits calls to a failing counter store so a long
// outage costs one fast error per request instead of a full network timeout.
// The limiter still fails open on those errors.
type BreakerStore struct {
	next CounterStore
	cb   *gobreaker.CircuitBreaker
}

// NewBreakerStore wraps next. The breaker opens after failures consecutive
// errors and probes again after cooldown.
func NewBreakerStore(next CounterStore, failures uint32, cooldown time.Duration, onChange func(from, to gobreaker.State)) *BreakerStore {
	if failures == 0 {
		failures = 5
	}
	settings := gobreaker.Settings{
		Name:        "rate-limit-store",
		MaxRequests: 1,
		Timeout:     cooldown,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= failures
		},
	}
	if onChange != nil {
		settings.OnStateChange = func(_ string, from, to gobreaker.State) { onChange(from, to) }
	}
	return &BreakerStore{next: next, cb: gobreaker.NewCircuitBreaker(settings)}
}

// Increment implements CounterStore.
func (s *BreakerStore) Increment(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	v, err := s.cb.Execute(func() (interface{}, error) {
		return s.next.Increment(ctx, key, ttl)
	})
	if err != nil {
		return 0, err
	}
	return v.(int64), nil
}

// State reports the breaker state.
func (s *BreakerStore) State() gobreaker.State {
	return s.cb.State()
}
