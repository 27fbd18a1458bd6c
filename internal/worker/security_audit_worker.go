package worker

import (
	"context"

	"go.uber.org/zap"

	"github.com/spec-kit/edge-gateway/internal/events"
	"github.com/spec-kit/edge-gateway/internal/observability"
)

// SecurityAuditWorker turns security events into audit log lines and metrics.
type SecurityAuditWorker struct {
	logger  *zap.Logger
	metrics *observability.Metrics
}

// NewSecurityAuditWorker constructs the worker.
func NewSecurityAuditWorker(logger *zap.Logger, metrics *observability.Metrics) *SecurityAuditWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SecurityAuditWorker{logger: logger.Named("audit"), metrics: metrics}
}

// StartSecurityAuditWorker subscribes the worker to every security event.
func StartSecurityAuditWorker(dispatcher events.Dispatcher, w *SecurityAuditWorker) {
	if dispatcher == nil || w == nil {
		return
	}
	for _, t := range events.AllEventTypes {
		dispatcher.Subscribe(t, w.Handle)
	}
}

// Handle records one event.
func (w *SecurityAuditWorker) Handle(_ context.Context, e events.Event) error {
	w.metrics.RecordLockoutEvent(string(e.Type))

	fields := []zap.Field{
		zap.String("event_id", e.ID),
		zap.String("event", string(e.Type)),
		zap.String("username", e.Username),
		zap.Time("at", e.Timestamp),
	}
	switch p := e.Payload.(type) {
	case events.LoginFailedPayload:
		fields = append(fields, zap.String("reason", p.Reason), zap.Int("attempts", p.Attempts))
	case events.AccountLockedPayload:
		fields = append(fields, zap.Time("until", p.Until))
	case events.IdentityRegisteredPayload:
		fields = append(fields, zap.String("email", p.Email), zap.Strings("roles", p.Roles))
	}

	switch e.Type {
	case events.EventAccountLocked, events.EventLoginFailed:
		w.logger.Warn("security event", fields...)
	default:
		w.logger.Info("security event", fields...)
	}
	return nil
}
