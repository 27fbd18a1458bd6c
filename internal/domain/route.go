package domain

// Route families select the fallback payload served when a breaker trips.
const (
	RouteFamilyAuth    = "auth"
	RouteFamilyUser    = "users"
	RouteFamilyGeneric = "generic"
)

// CircuitBreakerPolicy names the breaker protecting a route and its fallback.
type CircuitBreakerPolicy struct {
	Name         string `yaml:"name"`
	FallbackPath string `yaml:"fallbackPath"`
}

// RouteDescriptor maps path predicates to an upstream target. Descriptors are
// loaded once at startup and never mutated.
type RouteDescriptor struct {
	ID             string                `yaml:"id"`
	Paths          []string              `yaml:"paths"`
	Filters        []string              `yaml:"filters"`
	Upstream       string                `yaml:"upstream"`
	CircuitBreaker *CircuitBreakerPolicy `yaml:"circuitBreaker"`
}
