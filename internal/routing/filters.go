package routing

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/edge-gateway/internal/domain"
)

func hasFilter(r *domain.RouteDescriptor, name string) bool {
	for _, f := range r.Filters {
		if f == name {
			return true
		}
	}
	return false
}

// upstreamPath applies path rewriting filters.
func upstreamPath(r *domain.RouteDescriptor, path string) string {
	if !hasFilter(r, FilterStripPrefix) {
		return path
	}
	return stripFirstSegment(path)
}

func stripFirstSegment(path string) string {
	trimmed := strings.TrimPrefix(path, "/")
	idx := strings.IndexByte(trimmed, '/')
	if idx < 0 {
		return "/"
	}
	return trimmed[idx:]
}

// applyResponseFilters decorates a forwarded response.
func applyResponseFilters(r *domain.RouteDescriptor, c *fiber.Ctx) {
	if hasFilter(r, FilterSecureHeaders) {
		c.Set(fiber.HeaderXContentTypeOptions, "nosniff")
		c.Set(fiber.HeaderXFrameOptions, "DENY")
		c.Set(fiber.HeaderReferrerPolicy, "no-referrer")
	}
}
