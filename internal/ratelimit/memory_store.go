package ratelimit

import (
	"context"
	"sync"
	"time"
)

type memoryCounter struct {
	count     int64
	expiresAt time.Time
}

// MemoryCounterStore is a single-process CounterStore for development.
type MemoryCounterStore struct {
	mu       sync.Mutex
	counters map[string]*memoryCounter
	now      func() time.Time
}

// NewMemoryCounterStore creates an empty store. now may be nil.
func NewMemoryCounterStore(now func() time.Time) *MemoryCounterStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryCounterStore{
		counters: make(map[string]*memoryCounter),
		now:      now,
	}
}

// Increment implements CounterStore.
func (s *MemoryCounterStore) Increment(_ context.Context, key string, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.sweep(now)
	c, ok := s.counters[key]
	if !ok {
		c = &memoryCounter{expiresAt: now.Add(ttl)}
		s.counters[key] = c
	}
	c.count++
	return c.count, nil
}

// Len returns the number of live counters.
func (s *MemoryCounterStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweep(s.now())
	return len(s.counters)
}

func (s *MemoryCounterStore) sweep(now time.Time) {
	for key, c := range s.counters {
		if !c.expiresAt.IsZero() && !now.Before(c.expiresAt) {
			delete(s.counters, key)
		}
	}
}
