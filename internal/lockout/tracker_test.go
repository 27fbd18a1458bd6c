package lockout_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/edge-gateway/internal/config"
	"github.com/spec-kit/edge-gateway/internal/domain"
	"github.com/spec-kit/edge-gateway/internal/lockout"
	"github.com/spec-kit/edge-gateway/internal/repository"
)

var errWrongPassword = errors.New("wrong password")

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingObserver struct {
	mu       sync.Mutex
	failures []int
	locked   []time.Time
	unlocked int
}

func (o *recordingObserver) OnFailure(_ context.Context, _ string, attempts int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.failures = append(o.failures, attempts)
}

func (o *recordingObserver) OnLocked(_ context.Context, _ string, until time.Time) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.locked = append(o.locked, until)
}

func (o *recordingObserver) OnUnlocked(context.Context, string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.unlocked++
}

type fixture struct {
	store    repository.IdentityRepository
	tracker  *lockout.Tracker
	clock    *clock
	observer *recordingObserver
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := repository.NewMemoryIdentityRepository()
	require.NoError(t, store.Create(context.Background(), &domain.Identity{
		Username:     "alice",
		Email:        "alice@example.com",
		PasswordHash: "right",
		Enabled:      true,
		Roles:        []string{domain.RoleUser},
	}))

	c := &clock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	obs := &recordingObserver{}
	cfg := config.AuthConfig{MaxLoginAttempts: 5, LockDuration: 30 * time.Minute}
	return &fixture{
		store:    store,
		tracker:  lockout.NewTracker(store, cfg, lockout.WithClock(c.Now), lockout.WithObserver(obs)),
		clock:    c,
		observer: obs,
	}
}

func password(p string) func(*domain.Identity) error {
	return func(i *domain.Identity) error {
		if i.PasswordHash != p {
			return errWrongPassword
		}
		return nil
	}
}

func (f *fixture) attempt(p string) (*domain.Identity, error) {
	return f.tracker.Attempt(context.Background(), "alice", password(p))
}

func (f *fixture) record(t *testing.T) *domain.Identity {
	t.Helper()
	rec, err := f.store.FindIdentity(context.Background(), "alice")
	require.NoError(t, err)
	return rec
}

func TestAttempt_SuccessResetsCounter(t *testing.T) {
	f := newFixture(t)

	_, err := f.attempt("wrong")
	require.ErrorIs(t, err, lockout.ErrInvalidCredentials)
	assert.Equal(t, 1, f.record(t).FailedAttempts)

	rec, err := f.attempt("right")
	require.NoError(t, err)
	assert.Equal(t, "alice", rec.Username)

	stored := f.record(t)
	assert.Zero(t, stored.FailedAttempts)
	require.NotNil(t, stored.LastLoginAt)
	assert.Equal(t, f.clock.Now(), *stored.LastLoginAt)
}

func TestAttempt_LocksOnThreshold(t *testing.T) {
	f := newFixture(t)

	for i := 1; i <= 4; i++ {
		_, err := f.attempt("wrong")
		require.ErrorIs(t, err, lockout.ErrInvalidCredentials, "attempt %d", i)
	}

	_, err := f.attempt("wrong")
	var locked *lockout.LockedError
	require.ErrorAs(t, err, &locked)
	assert.Equal(t, f.clock.Now().Add(30*time.Minute), locked.Until)

	stored := f.record(t)
	assert.True(t, stored.Locked)
	assert.Equal(t, 5, stored.FailedAttempts)
	assert.Equal(t, []int{1, 2, 3, 4, 5}, f.observer.failures)
	assert.Len(t, f.observer.locked, 1)
}

func TestAttempt_LockedRejectsEvenCorrectPasswordWithoutCounting(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 5; i++ {
		_, _ = f.attempt("wrong")
	}

	f.clock.Advance(10 * time.Minute)
	_, err := f.attempt("wrong")
	assert.True(t, lockout.IsLocked(err))
	_, err = f.attempt("right")
	assert.True(t, lockout.IsLocked(err))

	assert.Equal(t, 5, f.record(t).FailedAttempts)
}

func TestAttempt_UnlocksAfterDuration(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 5; i++ {
		_, _ = f.attempt("wrong")
	}

	f.clock.Advance(30*time.Minute - time.Second)
	_, err := f.attempt("right")
	require.True(t, lockout.IsLocked(err))

	f.clock.Advance(time.Second)
	rec, err := f.attempt("right")
	require.NoError(t, err)
	assert.False(t, rec.Locked)

	stored := f.record(t)
	assert.False(t, stored.Locked)
	assert.Nil(t, stored.LockedAt)
	assert.Zero(t, stored.FailedAttempts)
	assert.Equal(t, 1, f.observer.unlocked)
}

func TestAttempt_FailureAfterExpiredLockStartsFresh(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 5; i++ {
		_, _ = f.attempt("wrong")
	}
	f.clock.Advance(time.Hour)

	_, err := f.attempt("wrong")
	require.ErrorIs(t, err, lockout.ErrInvalidCredentials)
	assert.Equal(t, 1, f.record(t).FailedAttempts)
}

func TestAttempt_UnknownIdentity(t *testing.T) {
	f := newFixture(t)

	_, err := f.tracker.Attempt(context.Background(), "nobody", password("x"))
	require.ErrorIs(t, err, lockout.ErrInvalidCredentials)
	assert.Empty(t, f.observer.failures)
}

func TestAttempt_Disabled(t *testing.T) {
	store := repository.NewMemoryIdentityRepository()
	require.NoError(t, store.Create(context.Background(), &domain.Identity{
		Username: "bob", Email: "bob@example.com", PasswordHash: "pw", Enabled: false,
	}))
	tracker := lockout.NewTracker(store, config.AuthConfig{MaxLoginAttempts: 5, LockDuration: time.Minute})

	_, err := tracker.Attempt(context.Background(), "bob", password("pw"))
	require.ErrorIs(t, err, lockout.ErrAccountDisabled)

	rec, err := store.FindIdentity(context.Background(), "bob")
	require.NoError(t, err)
	assert.Zero(t, rec.FailedAttempts)
}

func TestAttempt_ConcurrentFailuresAreNotLost(t *testing.T) {
	f := newFixture(t)
	cfg := config.AuthConfig{MaxLoginAttempts: 100, LockDuration: time.Minute}
	tracker := lockout.NewTracker(f.store, cfg, lockout.WithClock(f.clock.Now))

	const workers = 40
	var wg sync.WaitGroup
	var invalid atomic.Int32
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := tracker.Attempt(context.Background(), "alice", password("wrong"))
			if errors.Is(err, lockout.ErrInvalidCredentials) {
				invalid.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(workers), invalid.Load())
	assert.Equal(t, workers, f.record(t).FailedAttempts)
}

func TestAttempt_ConcurrentFailuresLockExactlyOnce(t *testing.T) {
	f := newFixture(t)

	const workers = 12
	var wg sync.WaitGroup
	var invalid, locked atomic.Int32
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.attempt("wrong")
			switch {
			case errors.Is(err, lockout.ErrInvalidCredentials):
				invalid.Add(1)
			case lockout.IsLocked(err):
				locked.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(4), invalid.Load())
	assert.Equal(t, int32(workers-4), locked.Load())
	assert.Len(t, f.observer.locked, 1)
	assert.Equal(t, 5, f.record(t).FailedAttempts)
}

func TestStatus_AppliesExpiryWithoutWriting(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 5; i++ {
		_, _ = f.attempt("wrong")
	}

	rec, err := f.tracker.Status(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, domain.LockStateLocked, rec.State())

	f.clock.Advance(31 * time.Minute)
	rec, err = f.tracker.Status(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, domain.LockStateUnlocked, rec.State())
	assert.True(t, f.record(t).Locked)
}

func TestAttempt_LockWithoutTimestampExpiresAfterOneWindow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.UpdateFailedAttempts(ctx, "alice", 5))
	require.NoError(t, f.store.UpdateLockState(ctx, "alice", true, nil))

	start := f.clock.Now()
	_, err := f.attempt("right")
	var locked *lockout.LockedError
	require.ErrorAs(t, err, &locked)
	assert.Equal(t, start.Add(30*time.Minute), locked.Until)
	require.NotNil(t, f.record(t).LockedAt)
	assert.Equal(t, start, *f.record(t).LockedAt)

	f.clock.Advance(20 * time.Minute)
	_, err = f.attempt("right")
	require.ErrorAs(t, err, &locked)
	assert.Equal(t, start.Add(30*time.Minute), locked.Until, "the window does not slide")

	f.clock.Advance(10 * time.Minute)
	rec, err := f.attempt("right")
	require.NoError(t, err)
	assert.False(t, rec.Locked)
	assert.Equal(t, 1, f.observer.unlocked)
}

type failingStore struct {
	lockout.CredentialStore
}

func (failingStore) FindIdentity(context.Context, string) (*domain.Identity, error) {
	return nil, errors.New("connection refused")
}

func TestAttempt_StoreErrorIsNotInvalidCredentials(t *testing.T) {
	tracker := lockout.NewTracker(failingStore{}, config.AuthConfig{})

	_, err := tracker.Attempt(context.Background(), "alice", password("x"))
	require.Error(t, err)
	assert.NotErrorIs(t, err, lockout.ErrInvalidCredentials)
	assert.Equal(t, 30*time.Minute, tracker.LockDuration())
}
