package session

import "fmt"

// Effect is a side effect the controller must execute after a transition.
// The machine itself is pure: it only decides the new status and the effect
// list, which keeps transition logic unit-testable without a real handle.
type Effect string

const (
	EffectNotifyOwner   Effect = "notify_owner"
	EffectResolvePhone  Effect = "resolve_phone"
	EffectResetAttempts Effect = "reset_attempts"
	EffectAttachHealth  Effect = "attach_health"
	EffectDetachHealth  Effect = "detach_health"
	EffectReconnect     Effect = "schedule_reconnect"
	EffectDestroyHandle Effect = "destroy_handle"
	EffectPersist       Effect = "persist"
)

// Transition consumes one handle event in the current status and returns the
// next status plus the effects to run. Terminality of a disconnect is part of
// the result: callers must check reason.Permanent() via the returned effects
// (EffectDestroyHandle only appears on terminal paths).
func Transition(cur Status, ev HandleEvent) (Status, []Effect, error) {
	if cur == StatusError {
		return cur, nil, fmt.Errorf("%w: %s in %s", ErrInvalidTransition, ev.Kind, cur)
	}

	switch ev.Kind {
	case EventQR:
		// A fresh code can be offered on first pairing, on code rotation,
		// and after a reconnect whose restore failed.
		switch cur {
		case StatusInitializing, StatusQRPending, StatusDisconnected:
			return StatusQRPending, []Effect{EffectNotifyOwner, EffectPersist}, nil
		}

	case EventAuthenticated:
		// Restored sessions may pair without showing a code again.
		switch cur {
		case StatusInitializing, StatusQRPending, StatusDisconnected:
			return StatusAuthenticating, []Effect{EffectNotifyOwner, EffectPersist}, nil
		}

	case EventReady:
		// ready is only reachable through authenticating, or directly from a
		// transient disconnect when the platform restores the session.
		switch cur {
		case StatusAuthenticating, StatusDisconnected:
			return StatusReady, []Effect{
				EffectResolvePhone,
				EffectResetAttempts,
				EffectAttachHealth,
				EffectNotifyOwner,
				EffectPersist,
			}, nil
		}

	case EventDisconnected:
		if ev.Reason.Permanent() {
			return StatusDisconnected, []Effect{
				EffectDetachHealth,
				EffectNotifyOwner,
				EffectDestroyHandle,
				EffectPersist,
			}, nil
		}
		return StatusDisconnected, []Effect{
			EffectDetachHealth,
			EffectReconnect,
			EffectPersist,
		}, nil

	case EventAuthFailure:
		return StatusError, []Effect{
			EffectDetachHealth,
			EffectNotifyOwner,
			EffectDestroyHandle,
			EffectPersist,
		}, nil
	}

	return cur, nil, fmt.Errorf("%w: %s in %s", ErrInvalidTransition, ev.Kind, cur)
}
