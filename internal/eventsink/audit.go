package eventsink

import (
	"context"
	"time"

	"github.com/Mukasa-Matthew/HMS-frontend-sub000/internal/audit"
	"github.com/Mukasa-Matthew/HMS-frontend-sub000/internal/infrastructure/logging"
	"github.com/Mukasa-Matthew/HMS-frontend-sub000/internal/session"
)

const (
	auditQueueSize = 256
	auditTimeout   = 5 * time.Second
)

// EntryWriter stores one audit entry. *audit.SQLiteRepository satisfies it.
type EntryWriter interface {
	Create(ctx context.Context, e *audit.Entry) error
}

// Audit records events in the session audit trail from Run.
type Audit struct {
	*queue
	w        EntryWriter
	clientID string
}

// NewAudit returns a sink writing to w. Call Run to start delivery.
func NewAudit(w EntryWriter, clientID string, logger *logging.Logger) *Audit {
	s := &Audit{w: w, clientID: clientID}
	s.queue = newQueue(auditQueueSize, logger.With("component", "eventsink.audit"), s.record)
	return s
}

func (s *Audit) record(e session.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), auditTimeout)
	defer cancel()

	entry := auditEntry(s.clientID, e)
	if err := s.w.Create(ctx, &entry); err != nil {
		s.logger.Warn("recording session event failed", "event", e.Type, "error", err)
	}
}

// auditEntry maps an event onto an entry. The event ID is kept so entries
// can be matched against the MQTT feed.
func auditEntry(clientID string, e session.Event) audit.Entry {
	details := map[string]any{}
	switch e.Type {
	case session.EventRenewed, session.EventRenewalFailed:
		details["reactive"] = e.Reactive
		details["waiters"] = e.Waiters
		details["duration_ms"] = e.Duration.Milliseconds()
	}
	if e.Class != "" {
		details["class"] = e.Class
	}
	if e.Error != "" {
		details["error"] = e.Error
	}

	return audit.Entry{
		ID:        e.ID,
		EventType: string(e.Type),
		State:     e.State,
		ClientID:  clientID,
		UserID:    string(e.UserID),
		Role:      string(e.Role),
		TenantID:  string(e.TenantID),
		Details:   details,
		CreatedAt: e.Time,
	}
}
