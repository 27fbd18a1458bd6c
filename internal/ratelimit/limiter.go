// Package ratelimit admits requests per client over fixed, clock-aligned
// windows backed by a shared counter store.
package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/spec-kit/edge-gateway/internal/config"
)

// Rule applies Limit to paths starting with Prefix.
type Rule struct {
	Prefix string
	Limit  int
}

// Policy maps request paths to per-window limits. Rules are checked in order.
type Policy struct {
	Window       time.Duration
	DefaultLimit int
	Rules        []Rule
}

// PolicyFromConfig builds the two-class policy: auth paths and everything else.
func PolicyFromConfig(cfg config.RateLimitConfig) Policy {
	p := Policy{
		Window:       cfg.Window,
		DefaultLimit: cfg.DefaultPerWindow,
	}
	if cfg.AuthPathPrefix != "" {
		p.Rules = append(p.Rules, Rule{Prefix: cfg.AuthPathPrefix, Limit: cfg.AuthPerWindow})
	}
	if p.Window <= 0 {
		p.Window = time.Minute
	}
	if p.DefaultLimit <= 0 {
		p.DefaultLimit = 60
	}
	return p
}

// LimitFor returns the limit that applies to path.
func (p Policy) LimitFor(path string) int {
	for _, r := range p.Rules {
		if strings.HasPrefix(path, r.Prefix) {
			return r.Limit
		}
	}
	return p.DefaultLimit
}

// Decision is the outcome of one admission check.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
	// Degraded is set when the store failed and the request was let through.
	Degraded bool
}

// Limiter is a fixed-window admission limiter.
type Limiter struct {
	store     CounterStore
	policy    Policy
	keyPrefix string
	now       func() time.Time
	logger    *zap.Logger

	// degradedLog limits outage warnings to one per interval.
	degradedLog rate.Sometimes
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		if now != nil {
			l.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(l *Limiter) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithPolicy overrides the policy derived from configuration.
func WithPolicy(p Policy) Option {
	return func(l *Limiter) { l.policy = p }
}

// NewLimiter creates a limiter over store.
func NewLimiter(store CounterStore, cfg config.RateLimitConfig, opts ...Option) *Limiter {
	l := &Limiter{
		store:     store,
		policy:    PolicyFromConfig(cfg),
		keyPrefix: cfg.KeyPrefix,
		now:       time.Now,
		logger:    zap.NewNop(),

		degradedLog: rate.Sometimes{Interval: 10 * time.Second},
	}
	if l.keyPrefix == "" {
		l.keyPrefix = "rate_limit"
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Policy returns the active policy.
func (l *Limiter) Policy() Policy {
	return l.policy
}

// Admit counts one request for clientID and decides whether it may proceed.
// Counter store failures admit the request and mark the decision degraded.
func (l *Limiter) Admit(ctx context.Context, clientID, path string) Decision {
	limit := l.policy.LimitFor(path)
	now := l.now()
	bucket := l.bucket(now)
	key := l.Key(clientID, bucket)
	resetAt := time.Unix(0, (bucket+1)*int64(l.policy.Window))

	count, err := l.store.Increment(ctx, key, l.policy.Window)
	if err != nil {
		l.degradedLog.Do(func() {
			l.logger.Warn("rate limit store unavailable; admitting requests",
				zap.String("client", clientID),
				zap.Error(err),
			)
		})
		return Decision{Allowed: true, Limit: limit, Degraded: true}
	}

	remaining := limit - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Allowed:   count <= int64(limit),
		Limit:     limit,
		Remaining: remaining,
		ResetAt:   resetAt,
	}
}

// Key returns the counter key for clientID in the given window bucket.
func (l *Limiter) Key(clientID string, bucket int64) string {
	return fmt.Sprintf("%s:%s:%d", l.keyPrefix, clientID, bucket)
}

func (l *Limiter) bucket(t time.Time) int64 {
	return t.UnixNano() / int64(l.policy.Window)
}
