package session

import (
	"errors"
	"testing"
)

func TestTransitionHappyPath(t *testing.T) {
	t.Parallel()

	st, _, err := Transition(StatusInitializing, HandleEvent{Kind: EventQR})
	if err != nil || st != StatusQRPending {
		t.Fatalf("qr: %v %v", st, err)
	}
	st, _, err = Transition(st, HandleEvent{Kind: EventAuthenticated})
	if err != nil || st != StatusAuthenticating {
		t.Fatalf("auth: %v %v", st, err)
	}
	st, effects, err := Transition(st, HandleEvent{Kind: EventReady})
	if err != nil || st != StatusReady {
		t.Fatalf("ready: %v %v", st, err)
	}
	if !hasEffect(effects, EffectAttachHealth) || !hasEffect(effects, EffectResetAttempts) {
		t.Fatalf("ready effects missing health/reset: %v", effects)
	}
}

func TestTransitionReadyNeverFromInitializing(t *testing.T) {
	t.Parallel()

	// ready must pass through authenticating; a handle claiming ready
	// straight from boot is a protocol violation.
	if _, _, err := Transition(StatusInitializing, HandleEvent{Kind: EventReady}); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("err = %v, want ErrInvalidTransition", err)
	}
	if _, _, err := Transition(StatusQRPending, HandleEvent{Kind: EventReady}); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("err = %v, want ErrInvalidTransition", err)
	}
}

func TestTransitionQRRotation(t *testing.T) {
	t.Parallel()

	// A fresh code while already waiting stays in qr_pending.
	st, _, err := Transition(StatusQRPending, HandleEvent{Kind: EventQR})
	if err != nil || st != StatusQRPending {
		t.Fatalf("rotation: %v %v", st, err)
	}
}

func TestTransitionRestoreSkipsQR(t *testing.T) {
	t.Parallel()

	// A restored session may authenticate without showing a code.
	st, _, err := Transition(StatusInitializing, HandleEvent{Kind: EventAuthenticated})
	if err != nil || st != StatusAuthenticating {
		t.Fatalf("restore: %v %v", st, err)
	}
	// Or come back ready straight from a transient disconnect.
	st, _, err = Transition(StatusDisconnected, HandleEvent{Kind: EventReady})
	if err != nil || st != StatusReady {
		t.Fatalf("restore from disconnect: %v %v", st, err)
	}
}

func TestTransitionDisconnectReasons(t *testing.T) {
	t.Parallel()

	// Transient: reconnect, no handle destruction, no owner ping.
	st, effects, err := Transition(StatusReady, HandleEvent{Kind: EventDisconnected, Reason: ReasonNetwork})
	if err != nil || st != StatusDisconnected {
		t.Fatalf("transient: %v %v", st, err)
	}
	if !hasEffect(effects, EffectReconnect) || hasEffect(effects, EffectDestroyHandle) {
		t.Fatalf("transient effects: %v", effects)
	}

	// Permanent: destroy the handle and tell the owner; never reconnect.
	st, effects, err = Transition(StatusReady, HandleEvent{Kind: EventDisconnected, Reason: ReasonLogout})
	if err != nil || st != StatusDisconnected {
		t.Fatalf("permanent: %v %v", st, err)
	}
	if !hasEffect(effects, EffectDestroyHandle) || !hasEffect(effects, EffectNotifyOwner) || hasEffect(effects, EffectReconnect) {
		t.Fatalf("permanent effects: %v", effects)
	}
	if !hasEffect(effects, EffectDetachHealth) {
		t.Fatalf("permanent missing health detach: %v", effects)
	}
}

func TestTransitionAuthFailureIsFatal(t *testing.T) {
	t.Parallel()

	st, effects, err := Transition(StatusQRPending, HandleEvent{Kind: EventAuthFailure, Message: "bad creds"})
	if err != nil || st != StatusError {
		t.Fatalf("auth failure: %v %v", st, err)
	}
	if !hasEffect(effects, EffectDestroyHandle) {
		t.Fatalf("fatal effects: %v", effects)
	}
	// Nothing leaves the error state.
	if _, _, err := Transition(StatusError, HandleEvent{Kind: EventReady}); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("err = %v, want ErrInvalidTransition", err)
	}
}

func TestDisconnectReasonPermanence(t *testing.T) {
	t.Parallel()

	for _, r := range []DisconnectReason{ReasonLogout, ReasonConflict, ReasonUnpaired, ReasonBlocked} {
		if !r.Permanent() {
			t.Fatalf("%s should be permanent", r)
		}
	}
	for _, r := range []DisconnectReason{ReasonNetwork, ReasonUnknown} {
		if r.Permanent() {
			t.Fatalf("%s should be transient", r)
		}
	}
}

func hasEffect(effects []Effect, e Effect) bool {
	for _, x := range effects {
		if x == e {
			return true
		}
	}
	return false
}
