package routing

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/proxy"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/spec-kit/edge-gateway/internal/config"
	"github.com/spec-kit/edge-gateway/internal/domain"
	"github.com/spec-kit/edge-gateway/internal/observability"
	apperrors "github.com/spec-kit/edge-gateway/pkg/util"
)

var errUpstreamStatus = errors.New("upstream returned server error")

// Dispatcher forwards requests to the matched route's upstream.
type Dispatcher struct {
	table    *Table
	breakers map[string]*routeBreaker
	timeout  time.Duration
	logger   *zap.Logger
	metrics  *observability.Metrics
	now      func() time.Time
}

// routeBreaker trips on the failure ratio over a rolling window of recent
// outcomes. gobreaker handles the open and half-open states.
type routeBreaker struct {
	cb     *gobreaker.CircuitBreaker
	window *failureWindow
}

// NewDispatcher builds one breaker per distinct breaker name in routes.
func NewDispatcher(routes []domain.RouteDescriptor, cfg config.GatewayConfig, logger *zap.Logger, metrics *observability.Metrics) (*Dispatcher, error) {
	if err := ValidateRoutes(routes); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Dispatcher{
		table:    NewTable(routes),
		breakers: make(map[string]*routeBreaker),
		timeout:  cfg.UpstreamTimeout,
		logger:   logger,
		metrics:  metrics,
		now:      time.Now,
	}
	if d.timeout <= 0 {
		d.timeout = 5 * time.Second
	}
	for _, r := range routes {
		if r.CircuitBreaker == nil {
			continue
		}
		if _, ok := d.breakers[r.CircuitBreaker.Name]; ok {
			continue
		}
		d.breakers[r.CircuitBreaker.Name] = d.newBreaker(r.CircuitBreaker.Name, cfg)
	}
	return d, nil
}

func (d *Dispatcher) newBreaker(name string, cfg config.GatewayConfig) *routeBreaker {
	window := newFailureWindow(cfg.BreakerInterval, func() time.Time { return d.now() })
	return &routeBreaker{
		cb:     gobreaker.NewCircuitBreaker(d.breakerSettings(name, cfg, window)),
		window: window,
	}
}

func (d *Dispatcher) breakerSettings(name string, cfg config.GatewayConfig, window *failureWindow) gobreaker.Settings {
	minRequests := uint32(cfg.BreakerMinRequests)
	if minRequests == 0 {
		minRequests = 5
	}
	ratio := cfg.BreakerFailureRatio
	if ratio <= 0 {
		ratio = 0.5
	}
	// Counts from gobreaker are ignored in the closed state; the window decides.
	return gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     cfg.BreakerOpenTimeout,
		ReadyToTrip: func(gobreaker.Counts) bool {
			requests, failures := window.totals()
			if requests < minRequests {
				return false
			}
			return float64(failures)/float64(requests) >= ratio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			window.reset()
			d.logger.Info("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
			d.metrics.RecordBreakerTransition(name, from.String(), to.String())
		},
	}
}

// Handle is the terminal handler of the gateway filter chain.
func (d *Dispatcher) Handle(c *fiber.Ctx) error {
	route, ok := d.table.Match(c.Path())
	if !ok {
		return apperrors.NewDomainError(apperrors.CodeRouteNotFound,
			fmt.Sprintf("No route found for %s %s", c.Method(), c.Path()), fiber.StatusNotFound, nil)
	}

	start := time.Now()
	err := d.dispatch(c, route)
	status := c.Response().StatusCode()
	if err != nil {
		status = apperrors.ToDomainError(err).HTTPStatus
	}
	d.metrics.RecordRequest(route.ID, c.Method(), status, time.Since(start))
	return err
}

func (d *Dispatcher) dispatch(c *fiber.Ctx, route *domain.RouteDescriptor) error {
	if route.CircuitBreaker == nil {
		if err := d.forward(c, route); err != nil {
			d.logger.Error("upstream request failed",
				zap.String("route", route.ID),
				zap.Error(err),
			)
			c.Response().Reset()
			return FallbackError(domain.RouteFamilyGeneric)
		}
		applyResponseFilters(route, c)
		return nil
	}

	b := d.breakers[route.CircuitBreaker.Name]
	_, err := b.cb.Execute(func() (interface{}, error) {
		err := d.forward(c, route)
		if err == nil && c.Response().StatusCode() >= fiber.StatusInternalServerError {
			err = errUpstreamStatus
		}
		b.window.record(err != nil)
		return nil, err
	})
	if err != nil {
		family := routeFamily(route)
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			d.logger.Warn("circuit open; serving fallback",
				zap.String("route", route.ID),
				zap.String("breaker", route.CircuitBreaker.Name),
				zap.String("family", family),
			)
		} else {
			d.logger.Warn("upstream failure; serving fallback",
				zap.String("route", route.ID),
				zap.String("family", family),
				zap.Int("upstream_status", c.Response().StatusCode()),
				zap.Error(err),
			)
		}
		c.Response().Reset()
		return FallbackError(family)
	}
	applyResponseFilters(route, c)
	return nil
}

func (d *Dispatcher) forward(c *fiber.Ctx, route *domain.RouteDescriptor) error {
	target := strings.TrimRight(route.Upstream, "/") + upstreamPath(route, c.Path())
	if q := string(c.Request().URI().QueryString()); q != "" {
		target += "?" + q
	}
	return proxy.DoTimeout(c, target, d.timeout)
}

// BreakerState reports the state of the named breaker.
func (d *Dispatcher) BreakerState(name string) (gobreaker.State, bool) {
	b, ok := d.breakers[name]
	if !ok {
		return gobreaker.StateClosed, false
	}
	return b.cb.State(), true
}

// Match exposes route resolution for diagnostics and tests.
func (d *Dispatcher) Match(path string) (*domain.RouteDescriptor, bool) {
	return d.table.Match(path)
}
