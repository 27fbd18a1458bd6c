package gateway

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	apperrors "github.com/spec-kit/edge-gateway/pkg/util"
)

// TraceHeader carries the per-request trace id in both directions.
const TraceHeader = "X-Trace-ID"

const traceIDKey = "trace_id"

// TraceFilter tags each request with a short trace id and logs its start and
// completion.
type TraceFilter struct {
	logger *zap.Logger
	now    func() time.Time
}

// NewTraceFilter constructs the trace-tag filter.
func NewTraceFilter(logger *zap.Logger) *TraceFilter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TraceFilter{logger: logger, now: time.Now}
}

// Name implements Filter.
func (f *TraceFilter) Name() string { return "trace-tag" }

// Apply implements Filter.
func (f *TraceFilter) Apply(c *fiber.Ctx, next Next) error {
	traceID := NewTraceID()
	c.Locals(traceIDKey, traceID)
	c.Request().Header.Set(TraceHeader, traceID)
	c.Set(TraceHeader, traceID)

	start := f.now()
	f.logger.Info("gateway request",
		zap.String("trace_id", traceID),
		zap.String("method", c.Method()),
		zap.String("path", c.Path()),
		zap.String("remote_addr", c.IP()),
		zap.String("user_agent", c.Get(fiber.HeaderUserAgent)),
	)

	err := next()

	// Upstream responses replace the header set, so tag again on the way out.
	c.Set(TraceHeader, traceID)
	status := c.Response().StatusCode()
	if err != nil {
		status = apperrors.ToDomainError(err).HTTPStatus
	}
	f.logger.Info("gateway response",
		zap.String("trace_id", traceID),
		zap.Int("status", status),
		zap.Duration("duration", f.now().Sub(start)),
		zap.String("path", c.Path()),
	)
	return err
}

// NewTraceID returns an 8 character id.
func NewTraceID() string {
	return uuid.NewString()[:8]
}

// TraceID returns the trace id of the current request, if tagged.
func TraceID(c *fiber.Ctx) string {
	id, _ := c.Locals(traceIDKey).(string)
	return id
}
