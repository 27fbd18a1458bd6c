package http

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/spec-kit/edge-gateway/internal/gateway"
	"github.com/spec-kit/edge-gateway/internal/observability"
	apperrors "github.com/spec-kit/edge-gateway/pkg/util"
)

// RegisterMiddlewares attaches global middlewares such as panic recovery and logging.
// Pass a nil metrics when requests are already recorded downstream.
func RegisterMiddlewares(app *fiber.App, logger *zap.Logger, metrics *observability.Metrics, timeout time.Duration) {
	if timeout > 0 {
		app.Use(requestTimeoutMiddleware(timeout))
	}
	app.Use(recoverMiddleware(logger))
	app.Use(observability.RequestLogger(logger, metrics))
}

// ErrorHandler renders every error as the standard failure envelope.
func ErrorHandler(logger *zap.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		domainErr := toDomainError(err)
		if domainErr.HTTPStatus >= fiber.StatusInternalServerError {
			logger.Error("request failed",
				zap.String("path", c.Path()),
				zap.String("code", domainErr.Code),
				zap.Error(err),
			)
		}
		return c.Status(domainErr.HTTPStatus).JSON(apperrors.Failure(domainErr, c.Path()))
	}
}

func toDomainError(err error) *apperrors.DomainError {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return apperrors.NewDomainError(codeForStatus(fe.Code), fe.Message, fe.Code, nil)
	}
	return apperrors.ToDomainError(err)
}

func codeForStatus(status int) string {
	switch status {
	case fiber.StatusNotFound:
		return apperrors.CodeNotFound
	case fiber.StatusBadRequest, fiber.StatusUnprocessableEntity:
		return apperrors.CodeValidationFailed
	case fiber.StatusUnauthorized:
		return apperrors.CodeInvalidToken
	case fiber.StatusForbidden:
		return apperrors.CodeAccessDenied
	case fiber.StatusServiceUnavailable, fiber.StatusRequestTimeout:
		return apperrors.CodeServiceUnavailable
	}
	if status >= fiber.StatusInternalServerError {
		return apperrors.CodeInternal
	}
	return fmt.Sprintf("HTTP_%d", status)
}

func requestTimeoutMiddleware(timeout time.Duration) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), timeout)
		defer cancel()
		c.SetUserContext(ctx)
		return c.Next()
	}
}

func recoverMiddleware(logger *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) (err error) {
		defer func() {
			if r := recover(); r != nil {
				stack := debug.Stack()
				logger.Error("panic recovered",
					zap.Any("panic", r),
					zap.String("trace_id", gateway.TraceID(c)),
					zap.ByteString("stack", stack),
				)
				observability.CapturePanic(r, c.Method(), c.Path(), gateway.TraceID(c), stack)
				err = apperrors.NewInternalError(nil)
			}
		}()
		return c.Next()
	}
}
