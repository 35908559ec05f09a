package session

import (
	"errors"
	"fmt"
)

// Class is the outcome of classifying a failed request.
type Class int

const (
	// Retryable is an ordinary application error. Not a session concern.
	Retryable Class = iota

	// AuthExpired means the access credential likely expired. Eligible for
	// exactly one renewal attempt.
	AuthExpired

	// AuthInvalid is fatal: the session is cleared and the operator is sent
	// to the login surface.
	AuthInvalid

	// Transient covers network failures and 5xx responses. Never ends a session.
	Transient
)

func (c Class) String() string {
	switch c {
	case Retryable:
		return "retryable"
	case AuthExpired:
		return "auth_expired"
	case AuthInvalid:
		return "auth_invalid"
	case Transient:
		return "transient"
	default:
		return fmt.Sprintf("class(%d)", int(c))
	}
}

// Sentinel errors. An *Error matches the sentinel for its class with errors.Is.
var (
	ErrRetryable   = errors.New("session: request failed")
	ErrAuthExpired = errors.New("session: credential expired")
	ErrAuthInvalid = errors.New("session: credential invalid")
	ErrTransient   = errors.New("session: transient failure")

	ErrRenewalRejected   = errors.New("session: renewal rejected")
	ErrRenewalTimeout    = errors.New("session: renewal timed out")
	ErrRenewalPanicked   = errors.New("session: renewal panicked")
	ErrNotAuthenticated  = errors.New("session: not authenticated")
	ErrInvalidCredential = errors.New("session: username or password rejected")
	ErrBadIdentity       = errors.New("session: identity provider returned an unusable identity")
	ErrSessionEnded      = errors.New("session: ended while the request was in flight")
)

// Error is a classified session failure.
type Error struct {
	Class    Class
	Op       string // "verify", "renew", "login", "replay"
	Endpoint string
	Status   int // 0 when no response was received
	Err      error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("session %s %s: %s", e.Op, e.Endpoint, e.Class)
	if e.Status != 0 {
		msg += fmt.Sprintf(" (status %d)", e.Status)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the class sentinel, so callers can test
// errors.Is(err, session.ErrAuthInvalid) without unwrapping.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrRetryable:
		return e.Class == Retryable
	case ErrAuthExpired:
		return e.Class == AuthExpired
	case ErrAuthInvalid:
		return e.Class == AuthInvalid
	case ErrTransient:
		return e.Class == Transient
	}
	return false
}

// ClassOf returns the class carried by err, and false if err is not a
// session failure.
func ClassOf(err error) (Class, bool) {
	var se *Error
	if errors.As(err, &se) {
		return se.Class, true
	}
	return 0, false
}

// IsFatal reports whether err ends the session.
func IsFatal(err error) bool {
	c, ok := ClassOf(err)
	return ok && c == AuthInvalid
}
