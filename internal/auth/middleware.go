package auth

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/spec-kit/edge-gateway/internal/domain"
	apperrors "github.com/spec-kit/edge-gateway/pkg/util"
)

const principalKey = "auth_principal"

// Principal represents the authenticated caller.
type Principal struct {
	Subject string
	Roles   []string
	Token   string
}

// ExtractBearer pulls the token out of an Authorization header value.
func ExtractBearer(header string) (string, bool) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", false
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	return token, token != ""
}

// AuthMiddleware validates access tokens on the auth service's own routes.
type AuthMiddleware struct {
	tokens *TokenService
	logger *zap.Logger
}

// NewAuthMiddleware constructs middleware.
func NewAuthMiddleware(tokens *TokenService, logger *zap.Logger) *AuthMiddleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthMiddleware{tokens: tokens, logger: logger}
}

// Handle enforces authentication for protected routes.
func (m *AuthMiddleware) Handle(c *fiber.Ctx) error {
	token, ok := ExtractBearer(c.Get(fiber.HeaderAuthorization))
	if !ok {
		return apperrors.NewUnauthorized(apperrors.CodeMissingToken, "missing authorization header")
	}

	verified, err := m.tokens.VerifyKind(token, domain.TokenKindAccess)
	if err != nil {
		LogTokenFailure(m.logger, err, c.Path())
		return apperrors.NewUnauthorized(apperrors.CodeInvalidToken, "invalid or expired token")
	}

	c.Locals(principalKey, &Principal{Subject: verified.Subject, Roles: verified.Roles, Token: token})
	return c.Next()
}

// LogTokenFailure records a verification failure at warn with its kind.
func LogTokenFailure(logger *zap.Logger, err error, path string) {
	kind := TokenMalformed
	var te *TokenError
	if errors.As(err, &te) {
		kind = te.Kind
	}
	logger.Warn("token rejected",
		zap.String("kind", string(kind)),
		zap.String("path", path),
		zap.Error(err),
	)
}

// SetPrincipal stores the principal on the request.
func SetPrincipal(c *fiber.Ctx, p *Principal) {
	c.Locals(principalKey, p)
}

// PrincipalFromContext retrieves the authenticated entity.
func PrincipalFromContext(c *fiber.Ctx) (*Principal, bool) {
	val := c.Locals(principalKey)
	if val == nil {
		return nil, false
	}
	principal, ok := val.(*Principal)
	return principal, ok
}
