package session

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Mukasa-Matthew/HMS-frontend-sub000/internal/auth"
)

// State is the session state machine.
type State int

const (
	StateUninitialized State = iota
	StateHydrating
	StateAuthenticated
	StateRenewing
	StateAnonymous
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateHydrating:
		return "hydrating"
	case StateAuthenticated:
		return "authenticated"
	case StateRenewing:
		return "renewing"
	case StateAnonymous:
		return "anonymous"
	default:
		return "unknown"
	}
}

// HasIdentity reports whether an identity is held in state s.
func (s State) HasIdentity() bool {
	return s == StateAuthenticated || s == StateRenewing
}

// EventType names a session event.
type EventType string

const (
	EventHydrated       EventType = "hydrated"
	EventLogin          EventType = "login"
	EventVerified       EventType = "verified"
	EventRenewed        EventType = "renewed"
	EventRenewalFailed  EventType = "renewal_failed"
	EventLogout         EventType = "logout"
	EventForcedLogout   EventType = "forced_logout"
	EventExternalChange EventType = "external_change"
)

// Event is published on every identity or renewal change. It never carries
// credentials.
type Event struct {
	ID       string        `json:"id"`
	Type     EventType     `json:"type"`
	Time     time.Time     `json:"time"`
	State    string        `json:"state"`
	UserID   auth.ID       `json:"user_id,omitempty"`
	Role     auth.Role     `json:"role,omitempty"`
	TenantID auth.ID       `json:"tenant_id,omitempty"`
	Reactive bool          `json:"reactive,omitempty"`
	Waiters  int           `json:"waiters,omitempty"`
	Duration time.Duration `json:"duration_ns,omitempty"`
	Class    string        `json:"class,omitempty"`
	Error    string        `json:"error,omitempty"`
}

// EventSink receives session events. HandleSessionEvent is called
// synchronously from the session layer and must not block.
type EventSink interface {
	HandleSessionEvent(Event)
}

// EventSinkFunc adapts a function to EventSink.
type EventSinkFunc func(Event)

// HandleSessionEvent implements EventSink.
func (f EventSinkFunc) HandleSessionEvent(e Event) { f(e) }

func newEvent(t EventType, state State, ident *auth.Identity) Event {
	e := Event{
		ID:    uuid.NewString(),
		Type:  t,
		Time:  time.Now().UTC(),
		State: state.String(),
	}
	if ident != nil {
		e.UserID = ident.ID
		e.Role = ident.Role
		e.TenantID = ident.Tenant()
	}
	return e
}

// subscriberBuffer is the per-subscriber backlog. A subscriber that falls
// further behind loses events.
const subscriberBuffer = 16

// broadcaster fans events out to subscribers without blocking the publisher.
type broadcaster struct {
	mu     sync.Mutex
	next   int
	subs   map[int]chan Event
	closed bool
}

func (b *broadcaster) subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, subscriberBuffer)
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	if b.subs == nil {
		b.subs = make(map[int]chan Event)
	}
	id := b.next
	b.next++
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if c, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(c)
			}
		})
	}
}

func (b *broadcaster) publish(e Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

func (b *broadcaster) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
