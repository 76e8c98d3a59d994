package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"sendpilot/internal/eventbus"
	rtsup "sendpilot/internal/runtime/supervisor"
	"sendpilot/internal/store"
	logx "sendpilot/pkg/logx"
)

// HealthSink is implemented by the health monitor. The registry/controller
// side only ever attaches on ready and detaches on terminal transitions;
// both calls are idempotent.
type HealthSink interface {
	Attach(c *Controller)
	Detach(sessionID string)
}

type noopHealth struct{}

func (noopHealth) Attach(*Controller) {}
func (noopHealth) Detach(string)      {}

// Config controls session lifecycle behavior shared by all sessions.
type Config struct {
	MaxReconnectAttempts int
	ReconnectDelay       time.Duration
	InitTimeout          time.Duration
}

func (c *Config) normalize() {
	if c.MaxReconnectAttempts <= 0 {
		c.MaxReconnectAttempts = 5
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = 30 * time.Second
	}
	if c.InitTimeout <= 0 {
		c.InitTimeout = 2 * time.Minute
	}
}

// Registry owns the session map and is the single source of in-process truth
// for "is this owner's session ready". Store writes are fire-and-forget
// mirrors; the persisted copy is eventually consistent.
type Registry struct {
	mu      sync.Mutex
	byID    map[string]*Controller
	byOwner map[string]*Controller

	cfg     Config
	factory HandleFactory
	st      store.Store
	bus     eventbus.Bus
	log     logx.Logger
	health  HealthSink

	sup *rtsup.Supervisor
}

func NewRegistry(cfg Config, factory HandleFactory, st store.Store, bus eventbus.Bus, log logx.Logger) *Registry {
	cfg.normalize()
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Registry{
		byID:    map[string]*Controller{},
		byOwner: map[string]*Controller{},
		cfg:     cfg,
		factory: factory,
		st:      st,
		bus:     bus,
		log:     log,
		health:  noopHealth{},
	}
}

// SetHealth wires the health monitor. Must be called before Start.
func (r *Registry) SetHealth(h HealthSink) {
	if h != nil {
		r.health = h
	}
}

func (r *Registry) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sup != nil {
		return
	}
	r.sup = rtsup.New(ctx,
		rtsup.WithLogger(r.log.With(logx.String("comp", "session"))),
		rtsup.WithCancelOnError(false),
	)
}

// Stop destroys all sessions and waits for controller goroutines.
func (r *Registry) Stop(ctx context.Context) {
	r.mu.Lock()
	sup := r.sup
	r.sup = nil
	ctrls := make([]*Controller, 0, len(r.byID))
	for _, c := range r.byID {
		ctrls = append(ctrls, c)
	}
	r.mu.Unlock()

	for _, c := range ctrls {
		c.Destroy(ctx)
	}
	if sup != nil {
		_ = sup.Stop(ctx)
	}
}

// StartSession creates and initializes a session for the owner.
//
// An owner may hold at most one active (non-terminal) session; a second start
// is rejected rather than racing two heavyweight handles. A lingering
// terminal session is replaced so the owner can re-pair.
func (r *Registry) StartSession(ctx context.Context, ownerID string) (string, error) {
	r.mu.Lock()
	sup := r.sup
	if sup == nil {
		r.mu.Unlock()
		return "", ErrStopped
	}
	if prev, ok := r.byOwner[ownerID]; ok {
		if !prev.Terminal() {
			r.mu.Unlock()
			return "", ErrDuplicateSession
		}
		delete(r.byID, prev.ID())
		delete(r.byOwner, ownerID)
	}

	id := uuid.NewString()
	handle, err := r.factory(id)
	if err != nil {
		r.mu.Unlock()
		return "", err
	}

	c := newController(id, ownerID, handle, r, sup)
	r.byID[id] = c
	r.byOwner[ownerID] = c
	r.mu.Unlock()

	r.log.Info("session starting",
		logx.String("session_id", id),
		logx.String("owner_id", ownerID),
	)
	c.start(ctx)
	return id, nil
}

// DestroySession tears the session down: health timers first, then the
// handle, then the record.
func (r *Registry) DestroySession(ctx context.Context, id string) error {
	r.mu.Lock()
	c, ok := r.byID[id]
	r.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}
	c.Destroy(ctx)
	return nil
}

// Get returns a copy of the session record.
func (r *Registry) Get(id string) (Session, error) {
	r.mu.Lock()
	c, ok := r.byID[id]
	r.mu.Unlock()
	if !ok {
		return Session{}, ErrSessionNotFound
	}
	return c.Snapshot(), nil
}

// GetByOwner returns a copy of the owner's session record.
func (r *Registry) GetByOwner(ownerID string) (Session, error) {
	r.mu.Lock()
	c, ok := r.byOwner[ownerID]
	r.mu.Unlock()
	if !ok {
		return Session{}, ErrSessionNotFound
	}
	return c.Snapshot(), nil
}

// All returns copies of every session record.
func (r *Registry) All() []Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Session, 0, len(r.byID))
	for _, c := range r.byID {
		out = append(out, c.Snapshot())
	}
	return out
}

// ReadyByOwner returns the owner's controller when its session is ready.
// This is the dispatch path: a non-ready session is a delivery failure,
// not a deferral.
func (r *Registry) ReadyByOwner(ownerID string) (*Controller, error) {
	r.mu.Lock()
	c, ok := r.byOwner[ownerID]
	r.mu.Unlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	if c.Status() != StatusReady {
		return nil, ErrNotReady
	}
	return c, nil
}

// FirstReady returns some ready controller, if any. Selection order is
// incidental; callers must not assume fairness.
func (r *Registry) FirstReady() (*Controller, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.byID {
		if c.Status() == StatusReady {
			return c, true
		}
	}
	return nil, false
}

// remove drops the record after the controller has torn down its handle.
func (r *Registry) remove(id string) {
	r.mu.Lock()
	c, ok := r.byID[id]
	if ok {
		delete(r.byID, id)
		delete(r.byOwner, c.sess.OwnerID) // OwnerID is immutable
	}
	sup := r.sup
	r.mu.Unlock()
	if !ok || sup == nil {
		return
	}
	sup.Go0("session.unpersist", func(ctx context.Context) {
		cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := r.st.DeleteSession(cctx, id); err != nil {
			r.log.Warn("session delete mirror failed", logx.String("session_id", id), logx.Err(err))
		}
	})
}

// persist mirrors the record to the store. Fire-and-forget: registry truth
// and persisted truth may transiently diverge.
func (r *Registry) persist(s Session) {
	r.mu.Lock()
	sup := r.sup
	r.mu.Unlock()
	if sup == nil {
		return
	}
	sup.Go0("session.persist", func(ctx context.Context) {
		cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		err := r.st.UpsertSession(cctx, store.Session{
			ID:                s.ID,
			OwnerID:           s.OwnerID,
			Status:            string(s.Status),
			Phone:             s.Phone,
			LastActivity:      s.LastActivity,
			CreatedAt:         s.CreatedAt,
			ReconnectAttempts: s.ReconnectAttempts,
			LastError:         s.LastError,
		})
		if err != nil {
			r.log.Warn("session persist mirror failed", logx.String("session_id", s.ID), logx.Err(err))
		}
	})
}
