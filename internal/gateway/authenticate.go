package gateway

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/spec-kit/edge-gateway/internal/auth"
	"github.com/spec-kit/edge-gateway/internal/domain"
	apperrors "github.com/spec-kit/edge-gateway/pkg/util"
)

// Identity headers forwarded to upstream services.
const (
	UserIDHeader    = "X-User-Id"
	UserRolesHeader = "X-User-Roles"
)

// AuthenticateFilter verifies bearer tokens and enforces admin-only paths.
type AuthenticateFilter struct {
	tokens      *auth.TokenService
	publicPaths []string
	logger      *zap.Logger
}

// NewAuthenticateFilter constructs the filter. publicPaths are matched on
// whole path segments.
func NewAuthenticateFilter(tokens *auth.TokenService, publicPaths []string, logger *zap.Logger) *AuthenticateFilter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthenticateFilter{
		tokens:      tokens,
		publicPaths: append([]string(nil), publicPaths...),
		logger:      logger,
	}
}

// Name implements Filter.
func (f *AuthenticateFilter) Name() string { return "authenticate" }

// Apply implements Filter.
func (f *AuthenticateFilter) Apply(c *fiber.Ctx, next Next) error {
	// Identity headers are only ever set by this filter.
	c.Request().Header.Del(UserIDHeader)
	c.Request().Header.Del(UserRolesHeader)

	path := c.Path()
	if f.IsPublic(path) {
		return next()
	}

	token, ok := auth.ExtractBearer(c.Get(fiber.HeaderAuthorization))
	if !ok {
		f.logger.Warn("missing authorization header",
			zap.String("trace_id", TraceID(c)),
			zap.String("path", path),
		)
		return apperrors.NewUnauthorized(apperrors.CodeMissingToken, "Missing Authorization header")
	}

	verified, err := f.tokens.VerifyKind(token, domain.TokenKindAccess)
	if err != nil {
		auth.LogTokenFailure(f.logger, err, path)
		return apperrors.NewUnauthorized(apperrors.CodeInvalidToken, "Invalid or expired token")
	}

	if auth.IsAdminPath(c.Method(), path) && !auth.IsAdmin(verified.Roles) {
		f.logger.Warn("admin path denied",
			zap.String("trace_id", TraceID(c)),
			zap.String("subject", verified.Subject),
			zap.String("method", c.Method()),
			zap.String("path", path),
		)
		return apperrors.NewForbidden(apperrors.CodeAccessDenied, "Access denied")
	}

	c.Request().Header.Set(UserIDHeader, verified.Subject)
	c.Request().Header.Set(UserRolesHeader, strings.Join(verified.Roles, ","))
	auth.SetPrincipal(c, &auth.Principal{Subject: verified.Subject, Roles: verified.Roles, Token: token})
	return next()
}

// IsPublic reports whether path bypasses authentication.
func (f *AuthenticateFilter) IsPublic(path string) bool {
	for _, p := range f.publicPaths {
		p = strings.TrimRight(p, "/")
		if p == "" {
			continue
		}
		if path == p || strings.HasPrefix(path, p+"/") {
			return true
		}
	}
	return false
}
