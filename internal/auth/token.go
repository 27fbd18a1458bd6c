package auth

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/spec-kit/edge-gateway/internal/config"
	"github.com/spec-kit/edge-gateway/internal/domain"
)

// TokenErrorKind classifies verification failures.
type TokenErrorKind string

const (
	TokenExpired      TokenErrorKind = "EXPIRED"
	TokenMalformed    TokenErrorKind = "MALFORMED"
	TokenBadSignature TokenErrorKind = "BAD_SIGNATURE"
	TokenUnsupported  TokenErrorKind = "UNSUPPORTED"
)

// TokenError is the only error type returned by Verify.
type TokenError struct {
	Kind TokenErrorKind
	Err  error
}

func (e *TokenError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("token %s: %v", strings.ToLower(string(e.Kind)), e.Err)
	}
	return "token " + strings.ToLower(string(e.Kind))
}

func (e *TokenError) Unwrap() error {
	return e.Err
}

// IsTokenError reports whether err is a TokenError of the given kind.
func IsTokenError(err error, kind TokenErrorKind) bool {
	var te *TokenError
	return errors.As(err, &te) && te.Kind == kind
}

var errUnsupportedAlg = errors.New("unsupported signing algorithm")

// Claims describes JWT payload.
type Claims struct {
	Roles []string         `json:"roles,omitempty"`
	Kind  domain.TokenKind `json:"kind"`
	jwt.RegisteredClaims
}

// TokenService issues and verifies bearer tokens. It holds no state beyond the
// signing key and lifetimes, so one instance is shared by all requests.
type TokenService struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// NewTokenService builds a service from the auth configuration.
func NewTokenService(cfg config.AuthConfig) *TokenService {
	return NewTokenServiceWithClock(cfg, time.Now)
}

// NewTokenServiceWithClock is NewTokenService with an injectable clock.
func NewTokenServiceWithClock(cfg config.AuthConfig, now func() time.Time) *TokenService {
	if now == nil {
		now = time.Now
	}
	accessTTL := cfg.AccessTokenTTL
	if accessTTL <= 0 {
		accessTTL = 24 * time.Hour
	}
	refreshTTL := cfg.RefreshTokenTTL
	if refreshTTL <= 0 {
		refreshTTL = 7 * 24 * time.Hour
	}
	return &TokenService{
		secret:     []byte(cfg.JWTSecret),
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		now:        now,
	}
}

// Lifetime returns the validity window for kind.
func (s *TokenService) Lifetime(kind domain.TokenKind) time.Duration {
	if kind == domain.TokenKindRefresh {
		return s.refreshTTL
	}
	return s.accessTTL
}

// Issue builds and signs a token for subject.
func (s *TokenService) Issue(subject string, roles []string, kind domain.TokenKind) (string, time.Time, error) {
	if subject == "" {
		return "", time.Time{}, errors.New("subject is required")
	}
	if !kind.Valid() {
		return "", time.Time{}, fmt.Errorf("unknown token kind %q", kind)
	}

	issuedAt := s.now().Truncate(time.Second)
	expiresAt := issuedAt.Add(s.Lifetime(kind))
	claims := &Claims{
		Roles: normalizeRoles(roles),
		Kind:  kind,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// Verify validates signature and expiry and returns the token claims.
func (s *TokenService) Verify(tokenStr string) (*domain.Token, error) {
	if strings.TrimSpace(tokenStr) == "" {
		return nil, &TokenError{Kind: TokenMalformed, Err: errors.New("empty token")}
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, errUnsupportedAlg
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now), jwt.WithIssuedAt(), jwt.WithExpirationRequired())
	if err != nil {
		return nil, classify(err)
	}

	if claims.Subject == "" {
		return nil, &TokenError{Kind: TokenMalformed, Err: errors.New("missing subject")}
	}
	if !claims.Kind.Valid() {
		return nil, &TokenError{Kind: TokenUnsupported, Err: fmt.Errorf("unknown token kind %q", claims.Kind)}
	}

	tok := &domain.Token{
		ID:      claims.ID,
		Subject: claims.Subject,
		Roles:   normalizeRoles(claims.Roles),
		Kind:    claims.Kind,
	}
	if claims.IssuedAt != nil {
		tok.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		tok.ExpiresAt = claims.ExpiresAt.Time
	}
	return tok, nil
}

// VerifyKind verifies the token and requires it to be of kind.
func (s *TokenService) VerifyKind(tokenStr string, kind domain.TokenKind) (*domain.Token, error) {
	tok, err := s.Verify(tokenStr)
	if err != nil {
		return nil, err
	}
	if tok.Kind != kind {
		return nil, &TokenError{Kind: TokenUnsupported, Err: fmt.Errorf("expected %s token, got %s", kind, tok.Kind)}
	}
	return tok, nil
}

// SubjectOf returns the subject of a verifiable token.
func (s *TokenService) SubjectOf(tokenStr string) (string, error) {
	tok, err := s.Verify(tokenStr)
	if err != nil {
		return "", err
	}
	return tok.Subject, nil
}

// RolesOf returns the role set of a verifiable token.
func (s *TokenService) RolesOf(tokenStr string) ([]string, error) {
	tok, err := s.Verify(tokenStr)
	if err != nil {
		return nil, err
	}
	return tok.Roles, nil
}

// classify maps jwt parser errors onto the four failure kinds. Signature and
// algorithm problems are checked before claim validation errors because the
// parser only validates claims on a verified signature.
func classify(err error) *TokenError {
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed):
		return &TokenError{Kind: TokenMalformed, Err: err}
	case errors.Is(err, jwt.ErrTokenUnverifiable), errors.Is(err, errUnsupportedAlg):
		return &TokenError{Kind: TokenUnsupported, Err: err}
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return &TokenError{Kind: TokenBadSignature, Err: err}
	case errors.Is(err, jwt.ErrTokenExpired):
		return &TokenError{Kind: TokenExpired, Err: err}
	default:
		return &TokenError{Kind: TokenMalformed, Err: err}
	}
}

func normalizeRoles(roles []string) []string {
	set := make(map[string]struct{}, len(roles))
	out := make([]string, 0, len(roles))
	for _, r := range roles {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		if _, dup := set[r]; dup {
			continue
		}
		set[r] = struct{}{}
		out = append(out, r)
	}
	sort.Strings(out)
	return out
}
