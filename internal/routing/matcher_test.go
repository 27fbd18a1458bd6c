package routing

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/spec-kit/edge-gateway/internal/domain"
)

func TestTableMatch(t *testing.T) {
	table := NewTable(DefaultRoutes(testGatewayConfig()))

	tests := []struct {
		path  string
		route string
	}{
		{"/auth/login", "auth-service-public"},
		{"/auth/register", "auth-service-public"},
		{"/auth/validate", "auth-service-protected"},
		{"/auth/login/extra", "auth-service-protected"},
		{"/auth", "auth-service-protected"},
		{"/users", "user-service"},
		{"/users/42/roles/ADMIN", "user-service"},
		{"/eureka/apps", "eureka-server"},
		{"/v3/api-docs/swagger-config", "swagger-ui"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			r, ok := table.Match(tt.path)
			if assert.True(t, ok) {
				assert.Equal(t, tt.route, r.ID)
			}
		})
	}

	for _, miss := range []string{"/", "/usersx", "/orders/1", "/authentication"} {
		_, ok := table.Match(miss)
		assert.False(t, ok, miss)
	}
}

func TestTableMatchLongestPrefixWins(t *testing.T) {
	table := NewTable([]domain.RouteDescriptor{
		{ID: "api", Paths: []string{"/api/**"}, Upstream: "http://a"},
		{ID: "api-v2", Paths: []string{"/api/v2/**"}, Upstream: "http://b"},
		{ID: "api-v2-dup", Paths: []string{"/api/v2/**"}, Upstream: "http://c"},
	})

	r, ok := table.Match("/api/v2/things")
	assert.True(t, ok)
	assert.Equal(t, "api-v2", r.ID)

	r, ok = table.Match("/api/v1/things")
	assert.True(t, ok)
	assert.Equal(t, "api", r.ID)
}

func TestStripFirstSegment(t *testing.T) {
	assert.Equal(t, "/apps/x", stripFirstSegment("/eureka/apps/x"))
	assert.Equal(t, "/", stripFirstSegment("/eureka"))
	assert.Equal(t, "/", stripFirstSegment("/eureka/"))
}

func TestFamilyOf(t *testing.T) {
	assert.Equal(t, domain.RouteFamilyAuth, FamilyOf("/fallback/auth"))
	assert.Equal(t, domain.RouteFamilyUser, FamilyOf("/fallback/users/"))
	assert.Equal(t, "", FamilyOf("/fallback/orders"))
}
