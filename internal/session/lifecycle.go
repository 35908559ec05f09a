package session

import "sync"

// Phase is the boot progress of a Manager.
type Phase int

const (
	PhaseUninitialized Phase = iota
	PhaseHydrating
	PhaseReady
)

func (p Phase) String() string {
	switch p {
	case PhaseUninitialized:
		return "uninitialized"
	case PhaseHydrating:
		return "hydrating"
	case PhaseReady:
		return "ready"
	default:
		return "unknown"
	}
}

// Lifecycle is a one-shot boot state machine:
// Uninitialized -> Hydrating -> Ready. It never moves backwards.
type Lifecycle struct {
	mu    sync.Mutex
	phase Phase
	ready chan struct{}
}

// NewLifecycle returns a lifecycle in PhaseUninitialized.
func NewLifecycle() *Lifecycle {
	return &Lifecycle{ready: make(chan struct{})}
}

// Begin moves Uninitialized to Hydrating. It returns false if boot already
// started, in which case the caller must do nothing.
func (l *Lifecycle) Begin() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.phase != PhaseUninitialized {
		return false
	}
	l.phase = PhaseHydrating
	return true
}

// Finish moves Hydrating to Ready and releases Ready waiters.
func (l *Lifecycle) Finish() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.phase != PhaseHydrating {
		return
	}
	l.phase = PhaseReady
	close(l.ready)
}

// Phase returns the current phase.
func (l *Lifecycle) Phase() Phase {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.phase
}

// Ready is closed once the lifecycle reaches PhaseReady.
func (l *Lifecycle) Ready() <-chan struct{} {
	return l.ready
}
