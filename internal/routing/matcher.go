package routing

import (
	"strings"

	"github.com/spec-kit/edge-gateway/internal/domain"
)

type pattern struct {
	route  *domain.RouteDescriptor
	exact  string
	prefix string
}

// Table resolves request paths to route descriptors.
type Table struct {
	exact    map[string]*domain.RouteDescriptor
	prefixes []pattern
}

// NewTable indexes routes. Exact patterns win over /** patterns; among /**
// patterns the longest prefix wins and ties go to the earlier route.
func NewTable(routes []domain.RouteDescriptor) *Table {
	t := &Table{exact: make(map[string]*domain.RouteDescriptor)}
	for i := range routes {
		r := &routes[i]
		for _, p := range r.Paths {
			if strings.HasSuffix(p, "/**") {
				t.prefixes = append(t.prefixes, pattern{route: r, prefix: strings.TrimSuffix(p, "/**")})
				continue
			}
			if _, taken := t.exact[p]; !taken {
				t.exact[p] = r
			}
		}
	}
	return t
}

// Match returns the route for path.
func (t *Table) Match(path string) (*domain.RouteDescriptor, bool) {
	if r, ok := t.exact[path]; ok {
		return r, true
	}
	var best *pattern
	for i := range t.prefixes {
		p := &t.prefixes[i]
		if path != p.prefix && !strings.HasPrefix(path, p.prefix+"/") {
			continue
		}
		if best == nil || len(p.prefix) > len(best.prefix) {
			best = p
		}
	}
	if best == nil {
		return nil, false
	}
	return best.route, true
}
