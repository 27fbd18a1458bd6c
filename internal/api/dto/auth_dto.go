package dto

import "time"

// RegisterRequest payload for new accounts.
type RegisterRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginRequest payload for login.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// RefreshRequest payload for token refresh.
type RefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// AuthResponse is returned by login and refresh.
type AuthResponse struct {
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken"`
	TokenType    string    `json:"tokenType"`
	ExpiresIn    int64     `json:"expiresIn"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	Roles        []string  `json:"roles"`
	LoginTime    time.Time `json:"loginTime"`
}

// IdentityResponse describes a registered account.
type IdentityResponse struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	Roles     []string  `json:"roles"`
	Enabled   bool      `json:"enabled"`
	CreatedAt time.Time `json:"createdAt"`
}

// PrincipalResponse is returned by token validation.
type PrincipalResponse struct {
	ID          string     `json:"id"`
	Username    string     `json:"username"`
	Email       string     `json:"email"`
	Roles       []string   `json:"roles"`
	Enabled     bool       `json:"enabled"`
	LastLoginAt *time.Time `json:"lastLoginAt,omitempty"`
}

// LockStatusResponse reports an account's lockout state.
type LockStatusResponse struct {
	Username       string     `json:"username"`
	State          string     `json:"state"`
	FailedAttempts int        `json:"failedAttempts"`
	LockedAt       *time.Time `json:"lockedAt,omitempty"`
	LockedUntil    *time.Time `json:"lockedUntil,omitempty"`
}
