package eventsink

import (
	"context"
	"log/slog"

	"github.com/Mukasa-Matthew/HMS-frontend-sub000/internal/infrastructure/logging"
	"github.com/Mukasa-Matthew/HMS-frontend-sub000/internal/session"
)

// Log writes each event as one structured log record.
type Log struct {
	logger *logging.Logger
}

// NewLog returns a sink logging through logger.
func NewLog(logger *logging.Logger) *Log {
	return &Log{logger: logger.With("component", "session.events")}
}

// HandleSessionEvent implements session.EventSink.
func (l *Log) HandleSessionEvent(e session.Event) {
	attrs := []any{"event", e.Type, "state", e.State}
	if e.UserID != "" {
		attrs = append(attrs, "user_id", e.UserID, "role", e.Role)
	}
	if e.TenantID != "" {
		attrs = append(attrs, "tenant_id", e.TenantID)
	}
	if e.Type == session.EventRenewed || e.Type == session.EventRenewalFailed {
		attrs = append(attrs, "reactive", e.Reactive, "waiters", e.Waiters, "duration", e.Duration)
	}
	if e.Error != "" {
		attrs = append(attrs, "class", e.Class, "error", e.Error)
	}

	l.logger.Log(context.Background(), levelFor(e.Type), "session event", attrs...)
}

func levelFor(t session.EventType) slog.Level {
	switch t {
	case session.EventForcedLogout, session.EventRenewalFailed:
		return slog.LevelWarn
	case session.EventRenewed, session.EventVerified, session.EventHydrated:
		return slog.LevelDebug
	default:
		return slog.LevelInfo
	}
}
