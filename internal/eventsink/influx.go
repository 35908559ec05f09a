package eventsink

import (
	"time"

	"github.com/Mukasa-Matthew/HMS-frontend-sub000/internal/session"
)

// Measurement names.
const (
	MeasurementEvents   = "session_events"
	MeasurementRenewals = "session_renewals"
)

// PointWriter queues one point. *influxdb.Client satisfies it.
type PointWriter interface {
	WritePointWithTime(measurement string, tags map[string]string, fields map[string]any, ts time.Time)
}

// Influx records every event in session_events and each renewal cycle in
// session_renewals.
type Influx struct {
	w        PointWriter
	clientID string
}

// NewInflux returns a sink writing through w, tagging points with clientID.
func NewInflux(w PointWriter, clientID string) *Influx {
	return &Influx{w: w, clientID: clientID}
}

// HandleSessionEvent implements session.EventSink.
func (s *Influx) HandleSessionEvent(e session.Event) {
	tags := map[string]string{
		"client": s.clientID,
		"type":   string(e.Type),
		"state":  e.State,
	}
	if e.Role != "" {
		tags["role"] = string(e.Role)
	}
	fields := map[string]any{"event_id": e.ID}
	if e.UserID != "" {
		fields["user_id"] = string(e.UserID)
	}
	if e.TenantID != "" {
		fields["tenant_id"] = string(e.TenantID)
	}
	if e.Class != "" {
		fields["class"] = e.Class
	}
	s.w.WritePointWithTime(MeasurementEvents, tags, fields, e.Time)

	if e.Type != session.EventRenewed && e.Type != session.EventRenewalFailed {
		return
	}
	trigger := "proactive"
	if e.Reactive {
		trigger = "reactive"
	}
	outcome := "success"
	if e.Type == session.EventRenewalFailed {
		outcome = e.Class
		if outcome == "" {
			outcome = "failure"
		}
	}
	s.w.WritePointWithTime(MeasurementRenewals,
		map[string]string{"client": s.clientID, "trigger": trigger, "outcome": outcome},
		map[string]any{
			"duration_ms": float64(e.Duration) / float64(time.Millisecond),
			"waiters":     e.Waiters,
		},
		e.Time)
}
