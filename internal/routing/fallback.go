package routing

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/spec-kit/edge-gateway/internal/domain"
	apperrors "github.com/spec-kit/edge-gateway/pkg/util"
)

var fallbackMessages = map[string]string{
	domain.RouteFamilyAuth:    "Authentication service is temporarily unavailable. Please try again later.",
	domain.RouteFamilyUser:    "User service is temporarily unavailable. Please try again later.",
	domain.RouteFamilyGeneric: "Service is temporarily unavailable. Please try again later.",
}

// FamilyOf maps a fallback path such as /fallback/users to its family, or ""
// when the path names no known family.
func FamilyOf(fallbackPath string) string {
	family := strings.TrimPrefix(strings.TrimRight(fallbackPath, "/"), "/fallback/")
	if _, ok := fallbackMessages[family]; ok {
		return family
	}
	return ""
}

// FallbackError is the fixed 503 payload for a route family.
func FallbackError(family string) error {
	msg, ok := fallbackMessages[family]
	if !ok {
		msg = fallbackMessages[domain.RouteFamilyGeneric]
	}
	return apperrors.NewServiceUnavailable(msg)
}

func routeFamily(r *domain.RouteDescriptor) string {
	if r.CircuitBreaker != nil {
		if f := FamilyOf(r.CircuitBreaker.FallbackPath); f != "" {
			return f
		}
	}
	return domain.RouteFamilyGeneric
}

// FallbackHandler serves GET /fallback/:family.
type FallbackHandler struct {
	logger *zap.Logger
}

// NewFallbackHandler constructs the handler.
func NewFallbackHandler(logger *zap.Logger) *FallbackHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FallbackHandler{logger: logger}
}

// Serve answers with the family's unavailable payload.
func (h *FallbackHandler) Serve(c *fiber.Ctx) error {
	family := c.Params("family")
	if _, ok := fallbackMessages[family]; !ok {
		family = domain.RouteFamilyGeneric
	}
	h.logger.Warn("fallback triggered", zap.String("family", family))
	return FallbackError(family)
}
