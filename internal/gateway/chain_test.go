package gateway

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/spec-kit/edge-gateway/pkg/util"
)

type recordingFilter struct {
	name  string
	log   *[]string
	block error
}

func (f recordingFilter) Name() string { return f.name }

func (f recordingFilter) Apply(_ *fiber.Ctx, next Next) error {
	*f.log = append(*f.log, f.name+":in")
	if f.block != nil {
		return f.block
	}
	err := next()
	*f.log = append(*f.log, f.name+":out")
	return err
}

func errorHandler(c *fiber.Ctx, err error) error {
	de := apperrors.ToDomainError(err)
	return c.Status(de.HTTPStatus).JSON(apperrors.Failure(de, c.Path()))
}

func newChainApp(chain *Chain) *fiber.App {
	app := fiber.New(fiber.Config{ErrorHandler: errorHandler})
	app.All("/*", chain.Handle)
	return app
}

func TestChainRunsFiltersInOrder(t *testing.T) {
	var log []string
	terminal := func(c *fiber.Ctx) error {
		log = append(log, "dispatch")
		return c.SendStatus(http.StatusNoContent)
	}
	chain := NewChain(terminal, nil,
		recordingFilter{name: "a", log: &log},
		recordingFilter{name: "b", log: &log},
		recordingFilter{name: "c", log: &log},
	)
	assert.Equal(t, []string{"a", "b", "c"}, chain.Names())

	resp, err := newChainApp(chain).Test(httptest.NewRequest(http.MethodGet, "/x", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, []string{"a:in", "b:in", "c:in", "dispatch", "c:out", "b:out", "a:out"}, log)
}

func TestChainShortCircuitSkipsRemainingFilters(t *testing.T) {
	var log []string
	dispatched := false
	terminal := func(c *fiber.Ctx) error {
		dispatched = true
		return nil
	}
	chain := NewChain(terminal, nil,
		recordingFilter{name: "a", log: &log},
		recordingFilter{name: "b", log: &log, block: apperrors.NewForbidden(apperrors.CodeAccessDenied, "no")},
		recordingFilter{name: "c", log: &log},
	)

	resp, err := newChainApp(chain).Test(httptest.NewRequest(http.MethodGet, "/x", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.False(t, dispatched)
	assert.Equal(t, []string{"a:in", "b:in", "a:out"}, log)
}

func TestChainPlainErrorBecomesInternal(t *testing.T) {
	var log []string
	chain := NewChain(func(*fiber.Ctx) error { return nil }, nil,
		recordingFilter{name: "a", log: &log, block: errors.New("boom")},
	)
	resp, err := newChainApp(chain).Test(httptest.NewRequest(http.MethodGet, "/x", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}
