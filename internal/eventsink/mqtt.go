package eventsink

import (
	"github.com/Mukasa-Matthew/HMS-frontend-sub000/internal/infrastructure/logging"
	"github.com/Mukasa-Matthew/HMS-frontend-sub000/internal/session"
)

// mqttQueueSize bounds events waiting for the broker.
const mqttQueueSize = 64

// Publisher publishes one session event on the console's feed.
// *mqtt.Client satisfies it.
type Publisher interface {
	PublishSessionEvent(eventType string, v any) error
}

// MQTT publishes events to the broker from Run.
type MQTT struct {
	*queue
	pub Publisher
}

// NewMQTT returns a sink publishing through pub. Call Run to start delivery.
func NewMQTT(pub Publisher, logger *logging.Logger) *MQTT {
	s := &MQTT{pub: pub}
	s.queue = newQueue(mqttQueueSize, logger.With("component", "eventsink.mqtt"), s.publish)
	return s
}

func (s *MQTT) publish(e session.Event) {
	if err := s.pub.PublishSessionEvent(string(e.Type), e); err != nil {
		s.logger.Warn("publishing session event failed", "event", e.Type, "error", err)
	}
}
