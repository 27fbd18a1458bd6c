package domain

import "time"

// TokenKind differentiates short-lived access tokens from refresh tokens.
type TokenKind string

const (
	TokenKindAccess  TokenKind = "access"
	TokenKindRefresh TokenKind = "refresh"
)

// Valid reports whether k is a kind the token service handles.
func (k TokenKind) Valid() bool {
	return k == TokenKindAccess || k == TokenKindRefresh
}

// Token describes the claims carried by an issued credential.
type Token struct {
	ID        string
	Subject   string
	Roles     []string
	Kind      TokenKind
	IssuedAt  time.Time
	ExpiresAt time.Time
}
