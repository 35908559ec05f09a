package mqtt

import (
	"fmt"
	"strings"
)

// TopicPrefix is the root of every console topic.
const TopicPrefix = "hms/console"

// Topics builds console topic names.
//
//	mqtt.Topics{}.SessionEvent("frontdesk-01", "login")
//	// hms/console/frontdesk-01/session/login
type Topics struct{}

// Status is the retained online/offline topic of one console.
func (Topics) Status(clientID string) string {
	return fmt.Sprintf("%s/%s/status", TopicPrefix, clientID)
}

// SessionEvent is the topic a console publishes one event type on.
func (Topics) SessionEvent(clientID, eventType string) string {
	return fmt.Sprintf("%s/%s/session/%s", TopicPrefix, clientID, eventType)
}

// AllSessionEvents matches session events from every console.
func (Topics) AllSessionEvents() string {
	return TopicPrefix + "/+/session/#"
}

// AllStatus matches the status topic of every console.
func (Topics) AllStatus() string {
	return TopicPrefix + "/+/status"
}

// ParseSessionTopic splits a session event topic into its client ID and
// event type.
func ParseSessionTopic(topic string) (clientID, eventType string, ok bool) {
	rest, found := strings.CutPrefix(topic, TopicPrefix+"/")
	if !found {
		return "", "", false
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 3 || parts[1] != "session" || parts[0] == "" || parts[2] == "" {
		return "", "", false
	}
	return parts[0], parts[2], true
}

// validSegment reports whether s can be used as a single topic level.
func validSegment(s string) bool {
	return s != "" && !strings.ContainsAny(s, "/+#")
}
