// Package lockout guards credentials against brute force by counting failed
// authentication attempts per identity and locking the identity for a fixed
// duration once a threshold is reached.
package lockout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/edge-gateway/internal/config"
	"github.com/spec-kit/edge-gateway/internal/domain"
)

// ErrInvalidCredentials is returned for unknown identities and wrong secrets.
var ErrInvalidCredentials = errors.New("invalid credentials")

// ErrAccountDisabled is returned for identities whose enabled flag is off.
var ErrAccountDisabled = errors.New("account disabled")

// LockedError is returned while an identity is locked.
type LockedError struct {
	Until time.Time
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("account locked until %s", e.Until.UTC().Format(time.RFC3339))
}

// IsLocked reports whether err is a LockedError.
func IsLocked(err error) bool {
	var le *LockedError
	return errors.As(err, &le)
}

// CredentialStore is the persisted view of identity auth records.
type CredentialStore interface {
	FindIdentity(ctx context.Context, key string) (*domain.Identity, error)
	UpdateFailedAttempts(ctx context.Context, key string, count int) error
	UpdateLockState(ctx context.Context, key string, locked bool, lockedAt *time.Time) error
	UpdateLastSuccess(ctx context.Context, key string, at time.Time) error
}

// FailureRecorder is implemented by stores that can increment the counter and
// apply the lock in a single transaction, serializing instances that share the
// store.
type FailureRecorder interface {
	RecordFailure(ctx context.Context, key string, maxAttempts int, now time.Time) (attempts int, lockedAt *time.Time, err error)
}

// Observer is notified of lock state transitions.
type Observer interface {
	OnFailure(ctx context.Context, key string, attempts int)
	OnLocked(ctx context.Context, key string, until time.Time)
	OnUnlocked(ctx context.Context, key string)
}

// Tracker owns the lockout state machine.
type Tracker struct {
	store        CredentialStore
	maxAttempts  int
	lockDuration time.Duration
	now          func() time.Time
	locks        *keyedMutex
	logger       *zap.Logger
	observer     Observer
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		if now != nil {
			t.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(t *Tracker) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// WithObserver registers a transition observer.
func WithObserver(o Observer) Option {
	return func(t *Tracker) { t.observer = o }
}

// NewTracker builds a tracker from the auth configuration.
func NewTracker(store CredentialStore, cfg config.AuthConfig, opts ...Option) *Tracker {
	t := &Tracker{
		store:        store,
		maxAttempts:  cfg.MaxLoginAttempts,
		lockDuration: cfg.LockDuration,
		now:          time.Now,
		locks:        newKeyedMutex(),
		logger:       zap.NewNop(),
	}
	if t.maxAttempts <= 0 {
		t.maxAttempts = 5
	}
	if t.lockDuration <= 0 {
		t.lockDuration = 30 * time.Minute
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Attempt runs one authentication attempt for key. check verifies the
// presented secret against the loaded record; its error marks a failure.
// Reads and writes for one key are serialized so concurrent attempts never
// lose a counter update.
func (t *Tracker) Attempt(ctx context.Context, key string, check func(*domain.Identity) error) (*domain.Identity, error) {
	unlock := t.locks.Lock(key)
	defer unlock()

	rec, err := t.store.FindIdentity(ctx, key)
	if err != nil {
		if errors.Is(err, domain.ErrIdentityNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("load identity: %w", err)
	}

	now := t.now()
	if rec.Locked && rec.LockedAt == nil {
		if err := t.stampLock(ctx, rec, now); err != nil {
			return nil, err
		}
	}
	if rec.Locked {
		until := t.lockedUntil(rec, now)
		if now.Before(until) {
			return nil, &LockedError{Until: until}
		}
		if err := t.unlock(ctx, rec); err != nil {
			return nil, err
		}
	}

	if !rec.Enabled {
		return nil, ErrAccountDisabled
	}

	if checkErr := check(rec); checkErr != nil {
		return nil, t.recordFailure(ctx, rec, now)
	}

	if rec.FailedAttempts > 0 {
		if err := t.store.UpdateFailedAttempts(ctx, rec.Username, 0); err != nil {
			return nil, fmt.Errorf("reset failed attempts: %w", err)
		}
		rec.FailedAttempts = 0
	}
	if err := t.store.UpdateLastSuccess(ctx, rec.Username, now); err != nil {
		return nil, fmt.Errorf("update last success: %w", err)
	}
	rec.LastLoginAt = &now
	return rec, nil
}

// Status returns the current record with an elapsed lock treated as unlocked.
// It never writes.
func (t *Tracker) Status(ctx context.Context, key string) (*domain.Identity, error) {
	rec, err := t.store.FindIdentity(ctx, key)
	if err != nil {
		return nil, err
	}
	now := t.now()
	if rec.Locked && !now.Before(t.lockedUntil(rec, now)) {
		rec.Locked = false
		rec.LockedAt = nil
		rec.FailedAttempts = 0
	}
	return rec, nil
}

// LockDuration returns the configured lock window.
func (t *Tracker) LockDuration() time.Duration {
	return t.lockDuration
}

func (t *Tracker) recordFailure(ctx context.Context, rec *domain.Identity, now time.Time) error {
	attempts, lockedAt, err := t.incrementFailures(ctx, rec, now)
	if err != nil {
		return err
	}
	rec.FailedAttempts = attempts
	if t.observer != nil {
		t.observer.OnFailure(ctx, rec.Username, attempts)
	}
	if lockedAt == nil {
		return ErrInvalidCredentials
	}
	rec.Locked = true
	rec.LockedAt = lockedAt

	until := lockedAt.Add(t.lockDuration)
	t.logger.Warn("account locked",
		zap.String("username", rec.Username),
		zap.Int("attempts", attempts),
		zap.Time("until", until),
	)
	if t.observer != nil {
		t.observer.OnLocked(ctx, rec.Username, until)
	}
	return &LockedError{Until: until}
}

func (t *Tracker) incrementFailures(ctx context.Context, rec *domain.Identity, now time.Time) (int, *time.Time, error) {
	if fr, ok := t.store.(FailureRecorder); ok {
		attempts, lockedAt, err := fr.RecordFailure(ctx, rec.Username, t.maxAttempts, now)
		if err != nil {
			return 0, nil, fmt.Errorf("record failure: %w", err)
		}
		return attempts, lockedAt, nil
	}

	attempts := rec.FailedAttempts + 1
	if err := t.store.UpdateFailedAttempts(ctx, rec.Username, attempts); err != nil {
		return 0, nil, fmt.Errorf("update failed attempts: %w", err)
	}
	if attempts < t.maxAttempts {
		return attempts, nil, nil
	}
	lockedAt := now
	if err := t.store.UpdateLockState(ctx, rec.Username, true, &lockedAt); err != nil {
		return 0, nil, fmt.Errorf("lock identity: %w", err)
	}
	return attempts, &lockedAt, nil
}

func (t *Tracker) unlock(ctx context.Context, rec *domain.Identity) error {
	if err := t.store.UpdateLockState(ctx, rec.Username, false, nil); err != nil {
		return fmt.Errorf("unlock identity: %w", err)
	}
	if err := t.store.UpdateFailedAttempts(ctx, rec.Username, 0); err != nil {
		return fmt.Errorf("reset failed attempts: %w", err)
	}
	rec.Locked = false
	rec.LockedAt = nil
	rec.FailedAttempts = 0

	t.logger.Info("account unlocked", zap.String("username", rec.Username))
	if t.observer != nil {
		t.observer.OnUnlocked(ctx, rec.Username)
	}
	return nil
}

// stampLock gives a locked record with no timestamp one starting at now, so the
// lock runs a full window from here and then expires.
func (t *Tracker) stampLock(ctx context.Context, rec *domain.Identity, now time.Time) error {
	lockedAt := now
	if err := t.store.UpdateLockState(ctx, rec.Username, true, &lockedAt); err != nil {
		return fmt.Errorf("stamp lock time: %w", err)
	}
	rec.LockedAt = &lockedAt
	t.logger.Warn("locked identity had no lock time; starting lock window now",
		zap.String("username", rec.Username),
	)
	return nil
}

// lockedUntil treats a locked record without a timestamp as locked from now.
// Attempt stamps such records before calling it; Status reads them as is.
func (t *Tracker) lockedUntil(rec *domain.Identity, now time.Time) time.Time {
	if rec.LockedAt == nil {
		return now.Add(t.lockDuration)
	}
	return rec.LockedAt.Add(t.lockDuration)
}
