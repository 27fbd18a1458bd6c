package auth

import (
	"net/http"
	"regexp"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/edge-gateway/internal/domain"
	apperrors "github.com/spec-kit/edge-gateway/pkg/util"
)

var (
	userActionPath = regexp.MustCompile(`^/users/[^/]+/(activate|deactivate|roles|verify-email|verify-phone)(/.*)?$`)
	userByIDPath   = regexp.MustCompile(`^/users/[^/]+/?$`)
)

// IsAdminPath classifies requests that require the ADMIN role. It depends on
// nothing but the method and path.
func IsAdminPath(method, path string) bool {
	method = strings.ToUpper(method)
	path = strings.TrimRight(path, "/")
	if path == "" {
		path = "/"
	}

	if hasPathPrefix(path, "/eureka") || hasPathPrefix(path, "/config") {
		return true
	}
	if !hasPathPrefix(path, "/users") {
		return false
	}
	if strings.Contains(path, "/admin") || userActionPath.MatchString(path) {
		return true
	}

	switch path {
	case "/users":
		return method == http.MethodGet || method == http.MethodPost
	case "/users/search":
		return method == http.MethodPost
	case "/users/stats":
		return method == http.MethodGet
	case "/users/me":
		return false
	}
	return method == http.MethodDelete && userByIDPath.MatchString(path)
}

// HasRole reports whether roles contains role.
func HasRole(roles []string, role string) bool {
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}

// IsAdmin reports whether roles grant administrative access.
func IsAdmin(roles []string) bool {
	return HasRole(roles, domain.RoleAdmin)
}

// RequireRole rejects callers whose principal lacks role. It must run after
// AuthMiddleware.
func RequireRole(role string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		p, ok := PrincipalFromContext(c)
		if !ok {
			return apperrors.NewUnauthorized(apperrors.CodeMissingToken, "Missing Authorization header")
		}
		if !HasRole(p.Roles, role) {
			return apperrors.NewForbidden(apperrors.CodeAccessDenied, "Access denied")
		}
		return c.Next()
	}
}

func hasPathPrefix(path, prefix string) bool {
	return path == prefix || strings.HasPrefix(path, prefix+"/")
}
