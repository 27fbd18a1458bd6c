package http

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"

	"github.com/spec-kit/edge-gateway/internal/api/http/handlers"
	"github.com/spec-kit/edge-gateway/internal/auth"
	"github.com/spec-kit/edge-gateway/internal/domain"
	"github.com/spec-kit/edge-gateway/internal/gateway"
	"github.com/spec-kit/edge-gateway/internal/observability"
	"github.com/spec-kit/edge-gateway/internal/routing"
)

// AuthRouteConfig bundles dependencies for the auth service routes.
type AuthRouteConfig struct {
	Health         *handlers.HealthHandler
	Auth           *handlers.AuthHandler
	AuthMiddleware *auth.AuthMiddleware
	Metrics        *observability.Metrics
}

// RegisterAuthRoutes wires the auth service HTTP routes.
func RegisterAuthRoutes(app *fiber.App, cfg AuthRouteConfig) {
	registerProbes(app, cfg.Health, cfg.Metrics)

	authGroup := app.Group("/auth")
	authGroup.Post("/register", cfg.Auth.Register)
	authGroup.Post("/login", cfg.Auth.Login)
	authGroup.Post("/refresh", cfg.Auth.Refresh)
	authGroup.Get("/validate", cfg.Auth.Validate)

	protected := authGroup.Group("", cfg.AuthMiddleware.Handle)
	protected.Post("/logout", cfg.Auth.Logout)
	protected.Get("/admin/lockout/:username", auth.RequireRole(domain.RoleAdmin), cfg.Auth.LockStatus)
}

// GatewayRouteConfig bundles dependencies for the gateway routes.
type GatewayRouteConfig struct {
	Health   *handlers.HealthHandler
	Chain    *gateway.Chain
	Fallback *routing.FallbackHandler
	Metrics  *observability.Metrics
}

// RegisterGatewayRoutes wires local endpoints and sends everything else
// through the filter chain.
func RegisterGatewayRoutes(app *fiber.App, cfg GatewayRouteConfig) {
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Client-ID",
		ExposeHeaders: strings.Join([]string{
			gateway.TraceHeader,
			gateway.HeaderRateLimit,
			gateway.HeaderRateRemaining,
			gateway.HeaderRateReset,
			fiber.HeaderRetryAfter,
		}, ", "),
	}))
	app.Use(keepResponseHeaders(
		fiber.HeaderAccessControlAllowOrigin,
		fiber.HeaderAccessControlAllowCredentials,
		fiber.HeaderAccessControlExposeHeaders,
		fiber.HeaderVary,
	))

	registerProbes(app, cfg.Health, cfg.Metrics)
	app.Get("/fallback/:family", cfg.Fallback.Serve)
	app.All("/*", cfg.Chain.Handle)
}

// keepResponseHeaders puts back headers set by earlier middleware once the
// rest of the chain returns. Proxied responses replace the whole header set and
// fallbacks reset it.
func keepResponseHeaders(names ...string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		saved := make(map[string]string, len(names))
		for _, name := range names {
			if v := c.GetRespHeader(name); v != "" {
				saved[name] = v
			}
		}
		err := c.Next()
		for name, v := range saved {
			if name == fiber.HeaderVary {
				c.Append(name, strings.Split(v, ", ")...)
				continue
			}
			c.Set(name, v)
		}
		return err
	}
}

func registerProbes(app *fiber.App, health *handlers.HealthHandler, metrics *observability.Metrics) {
	app.Get("/health/live", health.Live)
	app.Get("/health/ready", health.Ready)
	app.Get("/actuator/health", health.Ready)
	if metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))
	}
}
