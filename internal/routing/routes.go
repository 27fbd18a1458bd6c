// Package routing maps admitted requests onto upstream services, each route
// guarded by its own circuit breaker.
package routing

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/spec-kit/edge-gateway/internal/config"
	"github.com/spec-kit/edge-gateway/internal/domain"
)

// Route filter names accepted in descriptors.
const (
	FilterStripPrefix   = "strip-prefix"
	FilterSecureHeaders = "secure-headers"
)

type routeFile struct {
	Routes []domain.RouteDescriptor `yaml:"routes"`
}

// DefaultRoutes is the built-in route table.
func DefaultRoutes(cfg config.GatewayConfig) []domain.RouteDescriptor {
	authCB := &domain.CircuitBreakerPolicy{Name: "auth-service-cb", FallbackPath: "/fallback/auth"}
	return []domain.RouteDescriptor{
		{
			ID:             "auth-service-public",
			Paths:          []string{"/auth/login", "/auth/register", "/auth/refresh"},
			Upstream:       cfg.AuthServiceURL,
			CircuitBreaker: authCB,
		},
		{
			ID:             "auth-service-protected",
			Paths:          []string{"/auth/**"},
			Upstream:       cfg.AuthServiceURL,
			CircuitBreaker: authCB,
		},
		{
			ID:       "user-service",
			Paths:    []string{"/users/**"},
			Upstream: cfg.UserServiceURL,
			CircuitBreaker: &domain.CircuitBreakerPolicy{
				Name:         "user-service-cb",
				FallbackPath: "/fallback/users",
			},
		},
		{
			ID:       "eureka-server",
			Paths:    []string{"/eureka/**"},
			Filters:  []string{FilterStripPrefix},
			Upstream: cfg.EurekaURL,
		},
		{
			ID:       "config-server",
			Paths:    []string{"/config/**"},
			Filters:  []string{FilterStripPrefix},
			Upstream: cfg.ConfigServerURL,
		},
		{
			ID:       "swagger-ui",
			Paths:    []string{"/swagger-ui/**", "/v3/api-docs/**", "/webjars/**"},
			Filters:  []string{FilterSecureHeaders},
			Upstream: cfg.DocsURL,
		},
	}
}

// LoadRoutes reads the routes file named in cfg, or returns the defaults when
// none is configured. Environment references in the file are expanded.
func LoadRoutes(cfg config.GatewayConfig) ([]domain.RouteDescriptor, error) {
	if cfg.RoutesFile == "" {
		routes := DefaultRoutes(cfg)
		return routes, ValidateRoutes(routes)
	}
	data, err := os.ReadFile(cfg.RoutesFile)
	if err != nil {
		return nil, fmt.Errorf("read routes file: %w", err)
	}
	return ParseRoutes([]byte(os.ExpandEnv(string(data))))
}

// ParseRoutes decodes and validates a YAML route table.
func ParseRoutes(data []byte) ([]domain.RouteDescriptor, error) {
	var file routeFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("decode routes: %w", err)
	}
	if err := ValidateRoutes(file.Routes); err != nil {
		return nil, err
	}
	return file.Routes, nil
}

// ValidateRoutes checks ids, patterns, upstreams, filters and fallbacks.
func ValidateRoutes(routes []domain.RouteDescriptor) error {
	if len(routes) == 0 {
		return errors.New("no routes defined")
	}
	var errs []error
	ids := make(map[string]struct{}, len(routes))
	for i, r := range routes {
		if r.ID == "" {
			errs = append(errs, fmt.Errorf("route %d: id is required", i))
		} else if _, dup := ids[r.ID]; dup {
			errs = append(errs, fmt.Errorf("route %s: duplicate id", r.ID))
		}
		ids[r.ID] = struct{}{}

		if len(r.Paths) == 0 {
			errs = append(errs, fmt.Errorf("route %s: at least one path is required", r.ID))
		}
		for _, p := range r.Paths {
			if !strings.HasPrefix(p, "/") {
				errs = append(errs, fmt.Errorf("route %s: path %q must start with /", r.ID, p))
			}
			if strings.Contains(strings.TrimSuffix(p, "/**"), "*") {
				errs = append(errs, fmt.Errorf("route %s: path %q may only end in /**", r.ID, p))
			}
		}

		u, err := url.Parse(r.Upstream)
		if err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("route %s: upstream %q is not an absolute url", r.ID, r.Upstream))
		}

		for _, f := range r.Filters {
			if f != FilterStripPrefix && f != FilterSecureHeaders {
				errs = append(errs, fmt.Errorf("route %s: unknown filter %q", r.ID, f))
			}
		}

		if cb := r.CircuitBreaker; cb != nil {
			if cb.Name == "" {
				errs = append(errs, fmt.Errorf("route %s: circuit breaker name is required", r.ID))
			}
			if cb.FallbackPath != "" && FamilyOf(cb.FallbackPath) == "" {
				errs = append(errs, fmt.Errorf("route %s: unknown fallback %q", r.ID, cb.FallbackPath))
			}
		}
	}
	return errors.Join(errs...)
}
