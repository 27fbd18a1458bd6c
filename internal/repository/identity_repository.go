package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/edge-gateway/internal/domain"
)

// IdentityRepository defines persistence access for identity auth records.
type IdentityRepository interface {
	Create(ctx context.Context, identity *domain.Identity) error
	ExistsByUsername(ctx context.Context, username string) (bool, error)
	ExistsByEmail(ctx context.Context, email string) (bool, error)
	Count(ctx context.Context) (int, error)
	FindIdentity(ctx context.Context, username string) (*domain.Identity, error)
	UpdateFailedAttempts(ctx context.Context, username string, count int) error
	UpdateLockState(ctx context.Context, username string, locked bool, lockedAt *time.Time) error
	UpdateLastSuccess(ctx context.Context, username string, at time.Time) error
}

type identityRepository struct {
	pool *pgxpool.Pool
}

// NewIdentityRepository returns a Postgres-backed implementation.
func NewIdentityRepository(pool *pgxpool.Pool) IdentityRepository {
	return &identityRepository{pool: pool}
}

const identityColumns = `id, username, email, password_hash, enabled, roles,
        failed_attempts, locked, locked_at, last_login_at, created_at, updated_at`

func (r *identityRepository) Create(ctx context.Context, identity *domain.Identity) error {
	const query = `
        INSERT INTO identities (username, email, password_hash, enabled, roles)
        VALUES ($1, $2, $3, $4, $5)
        RETURNING id, created_at, updated_at`

	err := r.pool.QueryRow(ctx, query,
		identity.Username,
		identity.Email,
		identity.PasswordHash,
		identity.Enabled,
		identity.Roles,
	).Scan(&identity.ID, &identity.CreatedAt, &identity.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return domain.ErrIdentityExists
		}
		return err
	}
	return nil
}

func (r *identityRepository) ExistsByUsername(ctx context.Context, username string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM identities WHERE username=$1)`, username).Scan(&exists)
	return exists, err
}

func (r *identityRepository) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM identities WHERE lower(email)=lower($1))`, email).Scan(&exists)
	return exists, err
}

func (r *identityRepository) Count(ctx context.Context) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM identities`).Scan(&n)
	return n, err
}

func (r *identityRepository) FindIdentity(ctx context.Context, username string) (*domain.Identity, error) {
	query := `SELECT ` + identityColumns + ` FROM identities WHERE username=$1`
	identity, err := scanIdentity(r.pool.QueryRow(ctx, query, username))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrIdentityNotFound
	}
	return identity, err
}

func (r *identityRepository) UpdateFailedAttempts(ctx context.Context, username string, count int) error {
	return r.exec(ctx, `
        UPDATE identities SET failed_attempts=$1, updated_at=NOW()
        WHERE username=$2`, count, username)
}

func (r *identityRepository) UpdateLockState(ctx context.Context, username string, locked bool, lockedAt *time.Time) error {
	return r.exec(ctx, `
        UPDATE identities SET locked=$1, locked_at=$2, updated_at=NOW()
        WHERE username=$3`, locked, lockedAt, username)
}

func (r *identityRepository) UpdateLastSuccess(ctx context.Context, username string, at time.Time) error {
	return r.exec(ctx, `
        UPDATE identities SET last_login_at=$1, updated_at=NOW()
        WHERE username=$2`, at, username)
}

// RecordFailure increments the failure counter under a row lock and locks the
// identity once maxAttempts is reached.
func (r *identityRepository) RecordFailure(ctx context.Context, username string, maxAttempts int, now time.Time) (int, *time.Time, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, nil, fmt.Errorf("begin failure tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var row failureState
	err = tx.QueryRow(ctx, `
        SELECT failed_attempts, locked, locked_at
        FROM identities
        WHERE username=$1
        FOR UPDATE`, username).Scan(&row.failed, &row.locked, &row.lockedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil, domain.ErrIdentityNotFound
		}
		return 0, nil, fmt.Errorf("lock identity row: %w", err)
	}

	next, changed := row.afterFailure(maxAttempts, now)
	if changed {
		_, err = tx.Exec(ctx, `
        UPDATE identities
        SET failed_attempts=$1, locked=$2, locked_at=$3, updated_at=NOW()
        WHERE username=$4`, next.failed, next.locked, next.lockedAt, username)
		if err != nil {
			return 0, nil, fmt.Errorf("update failed attempts: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, nil, fmt.Errorf("commit failure tx: %w", err)
	}
	return next.failed, next.lockedAt, nil
}

// failureState is the lockout slice of an identity row.
type failureState struct {
	failed   int
	locked   bool
	lockedAt *time.Time
}

// afterFailure applies one failed attempt. A row another instance already
// locked is returned unchanged; a lock missing its timestamp gets one at now.
func (s failureState) afterFailure(maxAttempts int, now time.Time) (failureState, bool) {
	if s.locked && s.lockedAt != nil {
		return s, false
	}
	at := now.UTC()
	if s.locked {
		s.lockedAt = &at
		return s, true
	}
	s.failed++
	if s.failed >= maxAttempts {
		s.locked = true
		s.lockedAt = &at
	}
	return s, true
}

func (r *identityRepository) exec(ctx context.Context, query string, args ...any) error {
	cmd, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return domain.ErrIdentityNotFound
	}
	return nil
}

func scanIdentity(row pgx.Row) (*domain.Identity, error) {
	var identity domain.Identity
	if err := row.Scan(
		&identity.ID,
		&identity.Username,
		&identity.Email,
		&identity.PasswordHash,
		&identity.Enabled,
		&identity.Roles,
		&identity.FailedAttempts,
		&identity.Locked,
		&identity.LockedAt,
		&identity.LastLoginAt,
		&identity.CreatedAt,
		&identity.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &identity, nil
}
