package observability

import (
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/spec-kit/edge-gateway/internal/config"
)

// InitSentry configures the global hub. Without a DSN it does nothing.
func InitSentry(cfg config.SentryConfig, app config.AppConfig) error {
	if cfg.DSN == "" {
		return nil
	}
	return sentry.Init(sentry.ClientOptions{
		Dsn:              cfg.DSN,
		Environment:      app.Env,
		Release:          app.Name + "@" + app.Version,
		AttachStacktrace: true,
	})
}

// FlushSentry drains buffered events before exit.
func FlushSentry() {
	sentry.Flush(2 * time.Second)
}

// CapturePanic reports a recovered panic with request context.
func CapturePanic(rec interface{}, method, path, traceID string, stack []byte) {
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("method", method)
		scope.SetTag("path", path)
		if traceID != "" {
			scope.SetTag("trace_id", traceID)
		}
		scope.SetExtra("stack", string(stack))
		sentry.CaptureMessage(fmt.Sprintf("panic in request: %v", rec))
	})
}
