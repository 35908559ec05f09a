package eventsink

import "github.com/Mukasa-Matthew/HMS-frontend-sub000/internal/session"

// Multi fans an event out to every sink in order.
type Multi []session.EventSink

// HandleSessionEvent implements session.EventSink.
func (m Multi) HandleSessionEvent(e session.Event) {
	for _, s := range m {
		if s != nil {
			s.HandleSessionEvent(e)
		}
	}
}
