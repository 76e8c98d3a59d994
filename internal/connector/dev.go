// Package connector provides session handle implementations. The only
// in-tree driver is the dev simulator; real platform connectors live in the
// embedding binary and are injected as a session.HandleFactory.
package connector

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"sendpilot/internal/session"
	"sendpilot/pkg/logx"
)

// DevFactory returns a factory producing simulated handles. The simulator
// walks a new session through qr -> authenticated -> ready on a short clock
// and logs outbound messages instead of delivering them. It exists so the
// daemon, its pacing and its lifecycle paths can run end to end without a
// platform account.
func DevFactory(log logx.Logger) session.HandleFactory {
	log = log.With(logx.String("component", "connector.dev"))
	return func(sessionID string) (session.Handle, error) {
		return &devHandle{
			id:     sessionID,
			log:    log.With(logx.String("session_id", sessionID)),
			events: make(chan session.HandleEvent, 16),
			state:  session.HandleConnecting,
			phone:  "+10000000000",
		}, nil
	}
}

type devHandle struct {
	id     string
	log    logx.Logger
	events chan session.HandleEvent

	mu     sync.Mutex
	state  session.HandleState
	phone  string
	closed bool
}

func (h *devHandle) Initialize(ctx context.Context) error {
	go h.pair()
	return nil
}

// pair emits the pairing sequence the way a real connector would after its
// page comes up.
func (h *devHandle) pair() {
	steps := []struct {
		wait  time.Duration
		ev    session.HandleEvent
		state session.HandleState
	}{
		{50 * time.Millisecond, session.HandleEvent{Kind: session.EventQR, QR: uuid.NewString()}, session.HandlePairing},
		{100 * time.Millisecond, session.HandleEvent{Kind: session.EventAuthenticated}, session.HandlePairing},
		{50 * time.Millisecond, session.HandleEvent{Kind: session.EventReady}, session.HandleConnected},
	}
	for _, s := range steps {
		time.Sleep(s.wait)
		// Send under the lock so Destroy cannot close the channel between
		// the closed check and the send.
		h.mu.Lock()
		if h.closed {
			h.mu.Unlock()
			return
		}
		h.state = s.state
		select {
		case h.events <- s.ev:
		default:
		}
		h.mu.Unlock()
	}
}

func (h *devHandle) State(ctx context.Context) (session.HandleState, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state, nil
}

func (h *devHandle) PhoneNumber(ctx context.Context) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.phone, nil
}

func (h *devHandle) SendText(ctx context.Context, target, body string) error {
	h.log.Info("simulated send",
		logx.String("target", target),
		logx.Int("bytes", len(body)))
	return nil
}

func (h *devHandle) SendPresenceAvailable(ctx context.Context) error { return nil }

func (h *devHandle) Logout(ctx context.Context) error {
	h.mu.Lock()
	h.state = session.HandleUnpaired
	h.mu.Unlock()
	return nil
}

func (h *devHandle) Destroy(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	h.state = session.HandleClosed
	close(h.events)
	return nil
}

func (h *devHandle) Page() session.Page { return devPage{} }

func (h *devHandle) Events() <-chan session.HandleEvent { return h.events }

type devPage struct{}

func (devPage) MoveMouse(context.Context, int, int) error { return nil }
func (devPage) PressKey(context.Context, string) error    { return nil }
func (devPage) SetVisible(context.Context, bool) error    { return nil }
