package gateway

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/spec-kit/edge-gateway/internal/observability"
	"github.com/spec-kit/edge-gateway/internal/ratelimit"
	apperrors "github.com/spec-kit/edge-gateway/pkg/util"
)

// Rate limit response headers.
const (
	HeaderRateLimit     = "X-RateLimit-Limit"
	HeaderRateRemaining = "X-RateLimit-Remaining"
	HeaderRateReset     = "X-RateLimit-Reset"
)

// RateLimitFilter admits requests through the fixed-window limiter.
type RateLimitFilter struct {
	limiter        *ratelimit.Limiter
	clientIDHeader string
	metrics        *observability.Metrics
	logger         *zap.Logger
	now            func() time.Time
}

// NewRateLimitFilter constructs the filter.
func NewRateLimitFilter(limiter *ratelimit.Limiter, clientIDHeader string, metrics *observability.Metrics, logger *zap.Logger) *RateLimitFilter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RateLimitFilter{
		limiter:        limiter,
		clientIDHeader: clientIDHeader,
		metrics:        metrics,
		logger:         logger,
		now:            time.Now,
	}
}

// Name implements Filter.
func (f *RateLimitFilter) Name() string { return "rate-limit" }

// Apply implements Filter.
func (f *RateLimitFilter) Apply(c *fiber.Ctx, next Next) error {
	client := ClientKey(c, f.clientIDHeader)
	d := f.limiter.Admit(c.UserContext(), client, c.Path())

	if d.Degraded {
		f.metrics.RecordRateDecision("degraded")
		return next()
	}

	if !d.Allowed {
		f.metrics.RecordRateDecision("denied")
		setRateHeaders(c, d)
		retryAfter := int(d.ResetAt.Sub(f.now()).Round(time.Second) / time.Second)
		if retryAfter < 1 {
			retryAfter = 1
		}
		c.Set(fiber.HeaderRetryAfter, strconv.Itoa(retryAfter))
		f.logger.Warn("rate limit exceeded",
			zap.String("trace_id", TraceID(c)),
			zap.String("client", client),
			zap.Int("limit", d.Limit),
			zap.String("path", c.Path()),
		)
		return apperrors.NewTooManyRequests("Rate limit exceeded. Please try again later.", map[string]any{
			"limit":             d.Limit,
			"resetAt":           d.ResetAt.Unix(),
			"retryAfterSeconds": retryAfter,
		})
	}

	f.metrics.RecordRateDecision("allowed")
	err := next()
	setRateHeaders(c, d)
	return err
}

func setRateHeaders(c *fiber.Ctx, d ratelimit.Decision) {
	c.Set(HeaderRateLimit, strconv.Itoa(d.Limit))
	c.Set(HeaderRateRemaining, strconv.Itoa(d.Remaining))
	c.Set(HeaderRateReset, strconv.FormatInt(d.ResetAt.Unix(), 10))
}
