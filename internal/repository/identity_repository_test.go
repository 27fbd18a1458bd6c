package repository

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/edge-gateway/internal/domain"
	"github.com/spec-kit/edge-gateway/internal/persistence"
)

func TestFailureState_AfterFailure(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.FixedZone("CET", 3600))
	earlier := now.Add(-5 * time.Minute)

	tests := []struct {
		name        string
		in          failureState
		wantFailed  int
		wantLocked  bool
		wantLockAt  *time.Time
		wantChanged bool
	}{
		{
			name:        "below threshold counts",
			in:          failureState{failed: 1},
			wantFailed:  2,
			wantChanged: true,
		},
		{
			name:        "reaching threshold locks at now",
			in:          failureState{failed: 2},
			wantFailed:  3,
			wantLocked:  true,
			wantLockAt:  &now,
			wantChanged: true,
		},
		{
			name:       "existing lock is left alone",
			in:         failureState{failed: 3, locked: true, lockedAt: &earlier},
			wantFailed: 3,
			wantLocked: true,
			wantLockAt: &earlier,
		},
		{
			name:        "lock without timestamp is stamped, not counted",
			in:          failureState{failed: 3, locked: true},
			wantFailed:  3,
			wantLocked:  true,
			wantLockAt:  &now,
			wantChanged: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, changed := tt.in.afterFailure(3, now)
			assert.Equal(t, tt.wantChanged, changed)
			assert.Equal(t, tt.wantFailed, got.failed)
			assert.Equal(t, tt.wantLocked, got.locked)
			if tt.wantLockAt == nil {
				assert.Nil(t, got.lockedAt)
				return
			}
			require.NotNil(t, got.lockedAt)
			assert.True(t, tt.wantLockAt.Equal(*got.lockedAt))
		})
	}
}

// postgresPool connects to EDGE_GATEWAY_TEST_POSTGRES_DSN and applies the
// migrations. Tests that need it are skipped when the variable is unset.
func postgresPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	dsn := os.Getenv("EDGE_GATEWAY_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("EDGE_GATEWAY_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	require.NoError(t, persistence.RunMigrations(ctx, pool, zap.NewNop()))
	return pool
}

func TestIdentityRepository_RecordFailureSerializesWriters(t *testing.T) {
	pool := postgresPool(t)
	ctx := context.Background()
	repo := NewIdentityRepository(pool).(*identityRepository)

	username := "lockout_" + time.Now().Format("150405.000000")
	require.NoError(t, repo.Create(ctx, &domain.Identity{
		Username:     username,
		Email:        username + "@example.com",
		PasswordHash: "x",
		Enabled:      true,
		Roles:        []string{domain.RoleUser},
	}))
	t.Cleanup(func() {
		_, _ = pool.Exec(context.Background(), `DELETE FROM identities WHERE username=$1`, username)
	})

	now := time.Now().UTC().Truncate(time.Microsecond)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := repo.RecordFailure(ctx, username, 5, now)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	rec, err := repo.FindIdentity(ctx, username)
	require.NoError(t, err)
	assert.Equal(t, 5, rec.FailedAttempts, "attempts after the lock are not counted")
	assert.True(t, rec.Locked)
	require.NotNil(t, rec.LockedAt)
	assert.True(t, now.Equal(*rec.LockedAt))

	_, _, err = repo.RecordFailure(ctx, "missing_"+username, 5, now)
	assert.ErrorIs(t, err, domain.ErrIdentityNotFound)
}
