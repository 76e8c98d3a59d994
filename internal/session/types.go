package session

import (
	"errors"
	"time"
)

// Status is the lifecycle state of one session.
//
// Graph:
//
//	initializing -> qr_pending -> authenticating -> ready
//	ready <-> disconnected (transient, bounded reconnection)
//	any -> error (fatal)
//	any -> disconnected (explicit logout / permanent cause; terminal)
type Status string

const (
	StatusInitializing   Status = "initializing"
	StatusQRPending      Status = "qr_pending"
	StatusAuthenticating Status = "authenticating"
	StatusReady          Status = "ready"
	StatusDisconnected   Status = "disconnected"
	StatusError          Status = "error"
)

// Terminal reports whether no further transitions are expected.
// A transient disconnect is NOT terminal; the controller flags terminality
// separately because "disconnected" covers both cases.
func (s Status) Terminal() bool {
	return s == StatusError
}

var (
	ErrDuplicateSession  = errors.New("owner already has an active session")
	ErrSessionNotFound   = errors.New("session not found")
	ErrNotReady          = errors.New("session is not ready")
	ErrInvalidTransition = errors.New("invalid session state transition")
	ErrStopped           = errors.New("session registry is stopped")
)

// Session is the in-memory record for one connection. It is owned exclusively
// by the Registry; callers receive copies.
type Session struct {
	ID                string
	OwnerID           string
	Status            Status
	Phone             string
	LastActivity      time.Time
	CreatedAt         time.Time
	ReconnectAttempts int
	LastError         string

	// Terminal marks a disconnected session that will not reconnect
	// (permanent cause or explicit destroy).
	Terminal bool
}

// OwnerEvent is what the push channel delivers to the session's owner.
type OwnerEvent struct {
	SessionID string
	OwnerID   string
	Kind      string // "qr", "authenticated", "ready", "disconnected", "error"
	QR        string
	Phone     string
	Message   string
}
