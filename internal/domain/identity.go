package domain

import (
	"errors"
	"time"
)

// Well-known roles.
const (
	RoleUser  = "USER"
	RoleAdmin = "ADMIN"
)

// ErrIdentityNotFound is returned by credential stores for unknown keys.
var ErrIdentityNotFound = errors.New("identity not found")

// ErrIdentityExists is returned when registering a duplicate username or email.
var ErrIdentityExists = errors.New("identity already exists")

// LockState is the lockout state of an identity.
type LockState string

const (
	LockStateUnlocked LockState = "UNLOCKED"
	LockStateLocked   LockState = "LOCKED"
)

// Identity is the auth record of a single account.
type Identity struct {
	ID             string
	Username       string
	Email          string
	PasswordHash   string
	Enabled        bool
	Roles          []string
	FailedAttempts int
	Locked         bool
	LockedAt       *time.Time
	LastLoginAt    *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// State reports the lock state as an enum.
func (i *Identity) State() LockState {
	if i.Locked {
		return LockStateLocked
	}
	return LockStateUnlocked
}

// HasRole reports whether the identity carries role.
func (i *Identity) HasRole(role string) bool {
	for _, r := range i.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// Clone returns a deep copy so stores never hand out shared pointers.
func (i *Identity) Clone() *Identity {
	if i == nil {
		return nil
	}
	out := *i
	out.Roles = append([]string(nil), i.Roles...)
	if i.LockedAt != nil {
		t := *i.LockedAt
		out.LockedAt = &t
	}
	if i.LastLoginAt != nil {
		t := *i.LastLoginAt
		out.LastLoginAt = &t
	}
	return &out
}
