package service

import (
	"context"
	"errors"
	"net/mail"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/edge-gateway/internal/auth"
	"github.com/spec-kit/edge-gateway/internal/config"
	"github.com/spec-kit/edge-gateway/internal/domain"
	"github.com/spec-kit/edge-gateway/internal/events"
	"github.com/spec-kit/edge-gateway/internal/lockout"
	"github.com/spec-kit/edge-gateway/internal/repository"
	apperrors "github.com/spec-kit/edge-gateway/pkg/util"
)

const minPasswordLength = 6

var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_]{3,50}$`)

// RegisterInput carries a new account's credentials.
type RegisterInput struct {
	Username string
	Email    string
	Password string
}

// Session is the result of a successful login or refresh.
type Session struct {
	Identity     *domain.Identity
	AccessToken  string
	RefreshToken string
	ExpiresIn    time.Duration
	IssuedAt     time.Time
}

// UserPrincipal is the caller resolved from a valid access token.
type UserPrincipal struct {
	ID          string
	Username    string
	Email       string
	Roles       []string
	Enabled     bool
	LastLoginAt *time.Time
}

// AuthService coordinates registration, login and token refresh.
type AuthService struct {
	identities repository.IdentityRepository
	tracker    *lockout.Tracker
	tokens     *auth.TokenService
	events     events.Dispatcher
	logger     *zap.Logger
	bcryptCost int
	now        func() time.Time
}

// AuthDependencies encapsulates collaborators of the auth service.
type AuthDependencies struct {
	Identities repository.IdentityRepository
	Tokens     *auth.TokenService
	Events     events.Dispatcher
	Logger     *zap.Logger
	Clock      func() time.Time
}

// NewAuthService builds the service and its lockout tracker.
func NewAuthService(cfg config.Config, deps AuthDependencies) *AuthService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := deps.Clock
	if now == nil {
		now = time.Now
	}
	tokens := deps.Tokens
	if tokens == nil {
		tokens = auth.NewTokenServiceWithClock(cfg.Auth, now)
	}

	s := &AuthService{
		identities: deps.Identities,
		tokens:     tokens,
		events:     deps.Events,
		logger:     logger,
		bcryptCost: cfg.Auth.BcryptCost,
		now:        now,
	}
	s.tracker = lockout.NewTracker(deps.Identities, cfg.Auth,
		lockout.WithClock(now),
		lockout.WithLogger(logger),
		lockout.WithObserver(&lockoutEvents{service: s}),
	)
	return s
}

// Tokens exposes the token service shared with the auth middleware.
func (s *AuthService) Tokens() *auth.TokenService {
	return s.tokens
}

// Register creates an enabled account with the USER role.
func (s *AuthService) Register(ctx context.Context, in RegisterInput) (*domain.Identity, error) {
	in.Username = strings.TrimSpace(in.Username)
	in.Email = strings.TrimSpace(in.Email)
	if err := validateRegistration(in); err != nil {
		return nil, err
	}
	s.logger.Info("registration attempt", zap.String("username", in.Username))

	exists, err := s.identities.ExistsByUsername(ctx, in.Username)
	if err != nil {
		return nil, apperrors.NewInternalError(err)
	}
	if exists {
		return nil, apperrors.NewConflict("Username already exists", map[string]any{"field": "username"})
	}
	exists, err = s.identities.ExistsByEmail(ctx, in.Email)
	if err != nil {
		return nil, apperrors.NewInternalError(err)
	}
	if exists {
		return nil, apperrors.NewConflict("Email already exists", map[string]any{"field": "email"})
	}

	hash, err := auth.HashPassword(in.Password, s.bcryptCost)
	if err != nil {
		return nil, apperrors.NewInternalError(err)
	}
	identity := &domain.Identity{
		Username:     in.Username,
		Email:        in.Email,
		PasswordHash: hash,
		Enabled:      true,
		Roles:        []string{domain.RoleUser},
	}
	if err := s.identities.Create(ctx, identity); err != nil {
		if errors.Is(err, domain.ErrIdentityExists) {
			return nil, apperrors.NewConflict("Username or email already exists", nil)
		}
		return nil, apperrors.NewInternalError(err)
	}

	s.logger.Info("identity registered", zap.String("username", identity.Username))
	s.publish(ctx, events.EventIdentityRegistered, identity.Username, events.IdentityRegisteredPayload{
		Email: identity.Email,
		Roles: identity.Roles,
	})
	return identity, nil
}

// Login checks the password under lockout protection and issues a token pair.
func (s *AuthService) Login(ctx context.Context, username, password string) (*Session, error) {
	s.logger.Info("login attempt", zap.String("username", username))
	if username == "" || password == "" {
		return nil, apperrors.NewValidationError("username and password are required", nil)
	}

	identity, err := s.tracker.Attempt(ctx, username, func(i *domain.Identity) error {
		return auth.ComparePassword(i.PasswordHash, password)
	})
	if err != nil {
		return nil, s.loginError(ctx, username, err)
	}

	session, err := s.issue(identity)
	if err != nil {
		return nil, apperrors.NewInternalError(err)
	}
	s.logger.Info("login succeeded", zap.String("username", identity.Username))
	s.publish(ctx, events.EventLoginSucceeded, identity.Username, nil)
	return session, nil
}

func (s *AuthService) loginError(ctx context.Context, username string, err error) error {
	var locked *lockout.LockedError
	switch {
	case errors.Is(err, lockout.ErrInvalidCredentials):
		return apperrors.NewUnauthorized(apperrors.CodeInvalidCredentials, "Invalid username or password")
	case errors.As(err, &locked):
		s.publish(ctx, events.EventLoginFailed, username, events.LoginFailedPayload{Reason: "locked"})
		return apperrors.NewLocked("Account is locked due to multiple failed login attempts", map[string]any{
			"lockedUntil": locked.Until.UTC().Format(time.RFC3339),
		})
	case errors.Is(err, lockout.ErrAccountDisabled):
		s.publish(ctx, events.EventLoginFailed, username, events.LoginFailedPayload{Reason: "disabled"})
		return apperrors.NewForbidden(apperrors.CodeAccountDisabled, "Account is disabled")
	default:
		s.logger.Error("login failed on store error", zap.String("username", username), zap.Error(err))
		return apperrors.NewInternalError(err)
	}
}

// Refresh exchanges a refresh token for a new token pair.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*Session, error) {
	invalid := apperrors.NewUnauthorized(apperrors.CodeInvalidToken, "Invalid refresh token")

	tok, err := s.tokens.VerifyKind(refreshToken, domain.TokenKindRefresh)
	if err != nil {
		auth.LogTokenFailure(s.logger, err, "refresh")
		return nil, invalid
	}
	identity, err := s.identities.FindIdentity(ctx, tok.Subject)
	if err != nil {
		if errors.Is(err, domain.ErrIdentityNotFound) {
			s.logger.Warn("refresh for unknown identity", zap.String("username", tok.Subject))
			return nil, invalid
		}
		return nil, apperrors.NewInternalError(err)
	}
	if !identity.Enabled {
		s.logger.Warn("refresh for disabled identity", zap.String("username", identity.Username))
		return nil, invalid
	}

	session, err := s.issue(identity)
	if err != nil {
		return nil, apperrors.NewInternalError(err)
	}
	s.publish(ctx, events.EventTokenRefreshed, identity.Username, nil)
	return session, nil
}

// Validate resolves an access token to the principal it was issued for.
// Roles come from the token, not the store.
func (s *AuthService) Validate(ctx context.Context, accessToken string) (*UserPrincipal, error) {
	tok, err := s.tokens.VerifyKind(accessToken, domain.TokenKindAccess)
	if err != nil {
		return nil, apperrors.NewUnauthorized(apperrors.CodeInvalidToken, "Invalid token")
	}
	identity, err := s.identities.FindIdentity(ctx, tok.Subject)
	if err != nil {
		if errors.Is(err, domain.ErrIdentityNotFound) {
			return nil, apperrors.NewNotFound("User", map[string]any{"username": tok.Subject})
		}
		return nil, apperrors.NewInternalError(err)
	}
	return &UserPrincipal{
		ID:          identity.ID,
		Username:    identity.Username,
		Email:       identity.Email,
		Roles:       tok.Roles,
		Enabled:     identity.Enabled,
		LastLoginAt: identity.LastLoginAt,
	}, nil
}

// LockStatus reports the effective lock state of an account.
func (s *AuthService) LockStatus(ctx context.Context, username string) (*domain.Identity, error) {
	identity, err := s.tracker.Status(ctx, username)
	if err != nil {
		if errors.Is(err, domain.ErrIdentityNotFound) {
			return nil, apperrors.NewNotFound("User", map[string]any{"username": username})
		}
		return nil, apperrors.NewInternalError(err)
	}
	return identity, nil
}

// LockDuration is the configured lock length.
func (s *AuthService) LockDuration() time.Duration {
	return s.tracker.LockDuration()
}

// Logout is a no-op for stateless tokens; it only records the event.
func (s *AuthService) Logout(_ context.Context, username string) error {
	s.logger.Info("logout", zap.String("username", username))
	return nil
}

// SeedUsers creates the default admin and test accounts on an empty store.
func (s *AuthService) SeedUsers(ctx context.Context) error {
	count, err := s.identities.Count(ctx)
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	seeds := []struct {
		username, email, password string
		roles                     []string
	}{
		{"admin", "admin@example.com", "Admin@123", []string{domain.RoleAdmin, domain.RoleUser}},
		{"testuser", "test@example.com", "Test@123", []string{domain.RoleUser}},
	}
	for _, seed := range seeds {
		hash, err := auth.HashPassword(seed.password, s.bcryptCost)
		if err != nil {
			return err
		}
		err = s.identities.Create(ctx, &domain.Identity{
			Username:     seed.username,
			Email:        seed.email,
			PasswordHash: hash,
			Enabled:      true,
			Roles:        seed.roles,
		})
		if err != nil && !errors.Is(err, domain.ErrIdentityExists) {
			return err
		}
		s.logger.Info("seeded identity", zap.String("username", seed.username), zap.Strings("roles", seed.roles))
	}
	return nil
}

func (s *AuthService) issue(identity *domain.Identity) (*Session, error) {
	access, _, err := s.tokens.Issue(identity.Username, identity.Roles, domain.TokenKindAccess)
	if err != nil {
		return nil, err
	}
	refresh, _, err := s.tokens.Issue(identity.Username, nil, domain.TokenKindRefresh)
	if err != nil {
		return nil, err
	}
	return &Session{
		Identity:     identity,
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    s.tokens.Lifetime(domain.TokenKindAccess),
		IssuedAt:     s.now(),
	}, nil
}

func (s *AuthService) publish(ctx context.Context, t events.EventType, username string, payload interface{}) {
	if s.events == nil {
		return
	}
	err := s.events.Publish(ctx, events.Event{
		ID:        uuid.NewString(),
		Type:      t,
		Username:  username,
		Timestamp: s.now(),
		Payload:   payload,
	})
	if err != nil {
		s.logger.Warn("event handler failed", zap.String("event", string(t)), zap.Error(err))
	}
}

func validateRegistration(in RegisterInput) error {
	details := map[string]any{}
	if !usernamePattern.MatchString(in.Username) {
		details["username"] = "must be 3-50 letters, digits or underscores"
	}
	if addr, err := mail.ParseAddress(in.Email); err != nil || addr.Address != in.Email {
		details["email"] = "must be a valid email address"
	}
	if len(in.Password) < minPasswordLength {
		details["password"] = "must be at least 6 characters"
	}
	if len(details) > 0 {
		return apperrors.NewValidationError("invalid registration request", details)
	}
	return nil
}

// lockoutEvents turns tracker transitions into security events.
type lockoutEvents struct {
	service *AuthService
}

func (o *lockoutEvents) OnFailure(ctx context.Context, key string, attempts int) {
	o.service.publish(ctx, events.EventLoginFailed, key, events.LoginFailedPayload{
		Reason:   "invalid_credentials",
		Attempts: attempts,
	})
}

func (o *lockoutEvents) OnLocked(ctx context.Context, key string, until time.Time) {
	o.service.publish(ctx, events.EventAccountLocked, key, events.AccountLockedPayload{Until: until})
}

func (o *lockoutEvents) OnUnlocked(ctx context.Context, key string) {
	o.service.publish(ctx, events.EventAccountUnlocked, key, nil)
}
