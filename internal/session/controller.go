package session

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"sendpilot/internal/eventbus"
	rtsup "sendpilot/internal/runtime/supervisor"
	logx "sendpilot/pkg/logx"
)

// Controller drives one session's state machine. It owns the handle for the
// session's lifetime, consumes its events, and executes the effects the
// machine produces. Sessions are mutually independent; the controller never
// takes locks outside its own.
type Controller struct {
	mu   sync.Mutex
	sess Session

	handle Handle
	reg    *Registry
	sup    *rtsup.Supervisor
	log    logx.Logger

	// initInFlight enforces at most one Initialize call per session,
	// shared between startup, watchdog recovery and reconnection.
	initInFlight atomic.Bool
	destroyOnce  sync.Once
}

func newController(id, ownerID string, handle Handle, reg *Registry, sup *rtsup.Supervisor) *Controller {
	return &Controller{
		sess: Session{
			ID:        id,
			OwnerID:   ownerID,
			Status:    StatusInitializing,
			CreatedAt: time.Now(),
		},
		handle: handle,
		reg:    reg,
		sup:    sup,
		log: reg.log.With(
			logx.String("session_id", id),
			logx.String("owner_id", ownerID),
		),
	}
}

// ID and OwnerID are immutable after construction.
func (c *Controller) ID() string      { return c.sess.ID }
func (c *Controller) OwnerID() string { return c.sess.OwnerID }

// Status returns the current lifecycle status.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sess.Status
}

// Terminal reports whether the session reached a terminal state.
func (c *Controller) Terminal() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sess.Terminal || c.sess.Status == StatusError
}

// Snapshot returns a copy of the session record.
func (c *Controller) Snapshot() Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sess
}

// start launches the event loop and the first Initialize call.
func (c *Controller) start(ctx context.Context) {
	c.sup.Go0("session.events."+c.sess.ID, func(ctx context.Context) {
		c.run(ctx)
	})
	c.initialize()
	c.reg.persist(c.Snapshot())
}

// initialize invokes the handle's Initialize exactly once at a time.
// An unrecoverable failure moves the session to the error state.
func (c *Controller) initialize() {
	if !c.initInFlight.CompareAndSwap(false, true) {
		return
	}
	c.sup.Go0("session.init."+c.sess.ID, func(ctx context.Context) {
		defer c.initInFlight.Store(false)
		ictx, cancel := context.WithTimeout(ctx, c.reg.cfg.InitTimeout)
		defer cancel()
		if err := c.handle.Initialize(ictx); err != nil {
			if c.Terminal() {
				return
			}
			c.mu.Lock()
			attempts := c.sess.ReconnectAttempts
			c.mu.Unlock()
			if attempts > 0 {
				// Reconnection path: apply the same bounded policy again.
				c.log.Warn("reconnect initialize failed", logx.Err(err))
				c.scheduleReconnect()
				return
			}
			c.fail("initialization failed: " + err.Error())
		}
	})
}

func (c *Controller) run(ctx context.Context) {
	events := c.handle.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			c.apply(ctx, ev)
		}
	}
}

func (c *Controller) apply(ctx context.Context, ev HandleEvent) {
	c.mu.Lock()
	if c.sess.Terminal || c.sess.Status == StatusError {
		c.mu.Unlock()
		return
	}
	next, effects, err := Transition(c.sess.Status, ev)
	if err != nil {
		prev := c.sess.Status
		c.mu.Unlock()
		c.log.Warn("ignoring handle event",
			logx.String("event", string(ev.Kind)),
			logx.String("status", string(prev)),
		)
		return
	}
	prev := c.sess.Status
	c.sess.Status = next
	if ev.Kind == EventDisconnected && ev.Reason.Permanent() {
		c.sess.Terminal = true
		c.sess.LastError = "disconnected: " + string(ev.Reason)
	}
	if ev.Kind == EventAuthFailure {
		c.sess.Terminal = true
		c.sess.LastError = ev.Message
	}
	c.mu.Unlock()

	c.log.Info("session transition",
		logx.String("from", string(prev)),
		logx.String("to", string(next)),
		logx.String("event", string(ev.Kind)),
	)

	for _, eff := range effects {
		c.execute(ctx, eff, ev)
	}
}

func (c *Controller) execute(ctx context.Context, eff Effect, ev HandleEvent) {
	switch eff {
	case EffectResolvePhone:
		pctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		phone, err := c.handle.PhoneNumber(pctx)
		cancel()
		if err != nil {
			c.log.Warn("phone resolution failed", logx.Err(err))
		} else {
			c.mu.Lock()
			c.sess.Phone = phone
			c.mu.Unlock()
		}

	case EffectResetAttempts:
		c.mu.Lock()
		c.sess.ReconnectAttempts = 0
		c.sess.LastActivity = time.Now()
		c.mu.Unlock()

	case EffectAttachHealth:
		c.reg.health.Attach(c)

	case EffectDetachHealth:
		c.reg.health.Detach(c.sess.ID)

	case EffectNotifyOwner:
		c.publishOwnerEvent(ev)

	case EffectReconnect:
		c.scheduleReconnect()

	case EffectDestroyHandle:
		dctx, cancel := context.WithTimeout(ctx, 30*time.Second)
		if err := c.handle.Destroy(dctx); err != nil {
			c.log.Warn("handle destroy failed", logx.Err(err))
		}
		cancel()

	case EffectPersist:
		c.reg.persist(c.Snapshot())
	}
}

func (c *Controller) publishOwnerEvent(ev HandleEvent) {
	snap := c.Snapshot()
	oe := OwnerEvent{
		SessionID: snap.ID,
		OwnerID:   snap.OwnerID,
		Phone:     snap.Phone,
	}
	var typ string
	switch ev.Kind {
	case EventQR:
		typ = eventbus.TypeSessionQR
		oe.Kind = "qr"
		oe.QR = ev.QR
	case EventAuthenticated:
		typ = eventbus.TypeSessionAuthenticated
		oe.Kind = "authenticated"
	case EventReady:
		typ = eventbus.TypeSessionReady
		oe.Kind = "ready"
	case EventDisconnected:
		typ = eventbus.TypeSessionDisconnected
		oe.Kind = "disconnected"
		oe.Message = string(ev.Reason)
	case EventAuthFailure:
		typ = eventbus.TypeSessionError
		oe.Kind = "error"
		oe.Message = ev.Message
	default:
		return
	}
	c.reg.bus.Publish(eventbus.Event{Type: typ, Data: oe})
}

// fail moves the session to the terminal error state: timers stop, the
// handle is destroyed, the owner is told to re-pair.
func (c *Controller) fail(msg string) {
	c.mu.Lock()
	if c.sess.Terminal || c.sess.Status == StatusError {
		c.mu.Unlock()
		return
	}
	c.sess.Status = StatusError
	c.sess.Terminal = true
	c.sess.LastError = msg
	snap := c.sess
	c.mu.Unlock()

	c.log.Error("session failed", logx.String("cause", msg))

	c.reg.health.Detach(snap.ID)
	c.reg.bus.Publish(eventbus.Event{Type: eventbus.TypeSessionError, Data: OwnerEvent{
		SessionID: snap.ID,
		OwnerID:   snap.OwnerID,
		Kind:      "error",
		Message:   msg,
	}})
	c.sup.Go0("session.destroyhandle."+snap.ID, func(ctx context.Context) {
		dctx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		_ = c.handle.Destroy(dctx)
	})
	c.reg.persist(snap)
}

// Destroy is the explicit teardown path. Ordering is load-bearing:
// stop health timers, then destroy the handle, then drop the record.
func (c *Controller) Destroy(ctx context.Context) {
	c.destroyOnce.Do(func() {
		c.mu.Lock()
		c.sess.Status = StatusDisconnected
		c.sess.Terminal = true
		snap := c.sess
		c.mu.Unlock()

		c.reg.health.Detach(snap.ID)

		dctx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		if err := c.handle.Logout(dctx); err != nil {
			c.log.Debug("logout failed during destroy", logx.Err(err))
		}
		if err := c.handle.Destroy(dctx); err != nil {
			c.log.Warn("handle destroy failed", logx.Err(err))
		}

		c.reg.bus.Publish(eventbus.Event{Type: eventbus.TypeSessionDestroyed, Data: OwnerEvent{
			SessionID: snap.ID,
			OwnerID:   snap.OwnerID,
			Kind:      "disconnected",
		}})
		c.reg.remove(snap.ID)
		c.log.Info("session destroyed")
	})
}

// ---- delivery / health capabilities ----

// SendMessage delivers one message through the live connection.
// Only a ready session can send.
func (c *Controller) SendMessage(ctx context.Context, target, body string) error {
	c.mu.Lock()
	if c.sess.Status != StatusReady {
		c.mu.Unlock()
		return ErrNotReady
	}
	c.mu.Unlock()

	if err := c.handle.SendText(ctx, target, body); err != nil {
		return err
	}
	c.Touch()
	return nil
}

// SendPresence emits a lightweight "available" signal.
func (c *Controller) SendPresence(ctx context.Context) error {
	return c.handle.SendPresenceAvailable(ctx)
}

// LiveState queries the handle's platform connection state.
func (c *Controller) LiveState(ctx context.Context) (HandleState, error) {
	return c.handle.State(ctx)
}

// Reinitialize re-invokes the handle's Initialize if none is in flight.
// Used by the watchdog on known-recoverable states; it never force-changes
// the lifecycle status, which stays event-driven.
func (c *Controller) Reinitialize() {
	if c.Terminal() {
		return
	}
	c.initialize()
}

// Page exposes the automated page for the activity simulator.
func (c *Controller) Page() Page { return c.handle.Page() }

// Touch refreshes the last-activity timestamp.
func (c *Controller) Touch() {
	c.mu.Lock()
	c.sess.LastActivity = time.Now()
	c.mu.Unlock()
}
