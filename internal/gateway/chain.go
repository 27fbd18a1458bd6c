// Package gateway runs every inbound request through an ordered filter chain
// before handing it to the route dispatcher.
package gateway

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/edge-gateway/internal/observability"
	apperrors "github.com/spec-kit/edge-gateway/pkg/util"
)

// Next continues with the remaining filters and the terminal handler.
type Next func() error

// Filter is one stage of the admission pipeline. A filter short-circuits by
// returning an error without calling next.
type Filter interface {
	Name() string
	Apply(c *fiber.Ctx, next Next) error
}

// Chain is a fixed, ordered list of filters in front of a terminal handler.
type Chain struct {
	filters  []Filter
	terminal fiber.Handler
	metrics  *observability.Metrics
}

// NewChain builds a chain. Filters run in the order given.
func NewChain(terminal fiber.Handler, metrics *observability.Metrics, filters ...Filter) *Chain {
	return &Chain{
		filters:  append([]Filter(nil), filters...),
		terminal: terminal,
		metrics:  metrics,
	}
}

// Names lists the filters in execution order.
func (ch *Chain) Names() []string {
	names := make([]string, len(ch.filters))
	for i, f := range ch.filters {
		names[i] = f.Name()
	}
	return names
}

// Handle is the fiber handler that drives the chain.
func (ch *Chain) Handle(c *fiber.Ctx) error {
	return ch.run(c, 0)
}

func (ch *Chain) run(c *fiber.Ctx, i int) error {
	if i == len(ch.filters) {
		return ch.terminal(c)
	}

	f := ch.filters[i]
	called := false
	err := f.Apply(c, func() error {
		called = true
		return ch.run(c, i+1)
	})
	if err != nil && !called {
		ch.metrics.RecordRejection(f.Name(), apperrors.ToDomainError(err).Code)
	}
	return err
}
