package repository

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/spec-kit/edge-gateway/internal/domain"
)

type memoryIdentityRepository struct {
	mu         sync.RWMutex
	byUsername map[string]*domain.Identity
	now        func() time.Time
}

// NewMemoryIdentityRepository returns an in-process store for development and tests.
func NewMemoryIdentityRepository() IdentityRepository {
	return &memoryIdentityRepository{
		byUsername: make(map[string]*domain.Identity),
		now:        time.Now,
	}
}

func (r *memoryIdentityRepository) Create(_ context.Context, identity *domain.Identity) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byUsername[identity.Username]; ok {
		return domain.ErrIdentityExists
	}
	if r.emailTaken(identity.Email) {
		return domain.ErrIdentityExists
	}

	now := r.now()
	identity.ID = uuid.NewString()
	identity.CreatedAt = now
	identity.UpdatedAt = now
	r.byUsername[identity.Username] = identity.Clone()
	return nil
}

func (r *memoryIdentityRepository) ExistsByUsername(_ context.Context, username string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byUsername[username]
	return ok, nil
}

func (r *memoryIdentityRepository) ExistsByEmail(_ context.Context, email string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.emailTaken(email), nil
}

func (r *memoryIdentityRepository) Count(_ context.Context) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUsername), nil
}

func (r *memoryIdentityRepository) FindIdentity(_ context.Context, username string) (*domain.Identity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	identity, ok := r.byUsername[username]
	if !ok {
		return nil, domain.ErrIdentityNotFound
	}
	return identity.Clone(), nil
}

func (r *memoryIdentityRepository) UpdateFailedAttempts(_ context.Context, username string, count int) error {
	return r.update(username, func(i *domain.Identity) {
		i.FailedAttempts = count
	})
}

func (r *memoryIdentityRepository) UpdateLockState(_ context.Context, username string, locked bool, lockedAt *time.Time) error {
	return r.update(username, func(i *domain.Identity) {
		i.Locked = locked
		if lockedAt == nil {
			i.LockedAt = nil
			return
		}
		at := *lockedAt
		i.LockedAt = &at
	})
}

func (r *memoryIdentityRepository) UpdateLastSuccess(_ context.Context, username string, at time.Time) error {
	return r.update(username, func(i *domain.Identity) {
		i.LastLoginAt = &at
	})
}

func (r *memoryIdentityRepository) update(username string, fn func(*domain.Identity)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	identity, ok := r.byUsername[username]
	if !ok {
		return domain.ErrIdentityNotFound
	}
	fn(identity)
	identity.UpdatedAt = r.now()
	return nil
}

func (r *memoryIdentityRepository) emailTaken(email string) bool {
	if email == "" {
		return false
	}
	for _, identity := range r.byUsername {
		if strings.EqualFold(identity.Email, email) {
			return true
		}
	}
	return false
}
