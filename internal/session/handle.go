package session

import "context"

// HandleState is the platform-defined live connection state reported by the
// automated client.
type HandleState string

const (
	HandleConnected  HandleState = "connected"
	HandleConnecting HandleState = "connecting"
	HandlePairing    HandleState = "pairing"
	HandleTimeout    HandleState = "timeout"
	HandleConflict   HandleState = "conflict"
	HandleUnpaired   HandleState = "unpaired"
	HandleClosed     HandleState = "closed"
)

// RecoverableHandleState reports whether the watchdog may safely re-invoke
// Initialize for this state. Anything else is either healthy or needs the
// event-driven path (conflict/unpaired surface as disconnect events).
func RecoverableHandleState(st HandleState) bool {
	switch st {
	case HandleTimeout, HandleClosed:
		return true
	default:
		return false
	}
}

// DisconnectReason classifies why the platform dropped a session.
type DisconnectReason string

const (
	ReasonLogout   DisconnectReason = "logout"
	ReasonConflict DisconnectReason = "conflict"
	ReasonUnpaired DisconnectReason = "unpaired"
	ReasonBlocked  DisconnectReason = "tos_block"
	ReasonNetwork  DisconnectReason = "network"
	ReasonUnknown  DisconnectReason = "unknown"
)

// Permanent reports whether the cause requires the owner to re-pair.
// The set is fixed; everything else is treated as transient.
func (r DisconnectReason) Permanent() bool {
	switch r {
	case ReasonLogout, ReasonConflict, ReasonUnpaired, ReasonBlocked:
		return true
	default:
		return false
	}
}

// EventKind enumerates what a handle can emit.
type EventKind string

const (
	EventQR            EventKind = "qr"
	EventAuthenticated EventKind = "authenticated"
	EventReady         EventKind = "ready"
	EventDisconnected  EventKind = "disconnected"
	EventAuthFailure   EventKind = "auth_failure"
)

// HandleEvent is one asynchronous signal from the automated client.
type HandleEvent struct {
	Kind    EventKind
	QR      string           // EventQR
	Reason  DisconnectReason // EventDisconnected
	Message string           // EventAuthFailure
}

// Handle is the per-session automated-browser-backed client. It is an
// external collaborator: sendpilot consumes this contract and never
// reimplements the underlying wire protocol.
//
// A Handle is owned exclusively by its session and destroyed with it.
// At most one Initialize call may be in flight at a time.
type Handle interface {
	Initialize(ctx context.Context) error
	State(ctx context.Context) (HandleState, error)
	PhoneNumber(ctx context.Context) (string, error)
	SendText(ctx context.Context, target, body string) error
	SendPresenceAvailable(ctx context.Context) error
	Logout(ctx context.Context) error
	Destroy(ctx context.Context) error

	// Page exposes the underlying automated page for synthetic
	// interaction injection (activity simulation).
	Page() Page

	// Events delivers handle signals. The channel is closed on Destroy.
	Events() <-chan HandleEvent
}

// Page is the slice of the automated browser page the activity simulator
// touches. All calls are best-effort.
type Page interface {
	MoveMouse(ctx context.Context, x, y int) error
	PressKey(ctx context.Context, key string) error
	SetVisible(ctx context.Context, visible bool) error
}

// HandleFactory creates the client for a new session.
type HandleFactory func(sessionID string) (Handle, error)
