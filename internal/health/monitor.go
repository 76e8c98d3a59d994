package health

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"sendpilot/internal/session"
	"sendpilot/pkg/logx"
)

// Config holds the timer intervals for one session's health checks.
type Config struct {
	// HeartbeatInterval paces the presence ping that keeps the platform
	// from marking the account idle.
	HeartbeatInterval time.Duration
	// WatchdogInterval paces the live-state probe; WatchdogTimeout bounds
	// each probe call.
	WatchdogInterval time.Duration
	WatchdogTimeout  time.Duration
	// ActivityInterval paces the best-effort page activity simulation.
	ActivityInterval time.Duration

	// Seed, when non-zero, makes the activity jitter reproducible.
	Seed int64
}

func (c *Config) normalize() {
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 45 * time.Second
	}
	if c.WatchdogInterval <= 0 {
		c.WatchdogInterval = 2 * time.Minute
	}
	if c.WatchdogTimeout <= 0 {
		c.WatchdogTimeout = 30 * time.Second
	}
	if c.ActivityInterval <= 0 {
		c.ActivityInterval = 5 * time.Minute
	}
}

// Monitor runs the per-session health timers. The session registry attaches
// a controller when it reaches ready and detaches it on disconnect or
// destroy; attach and detach are idempotent per session id.
type Monitor struct {
	cfg Config
	log logx.Logger

	mu     sync.Mutex
	closed bool
	sets   map[string]*TimerSet
}

var _ session.HealthSink = (*Monitor)(nil)

func NewMonitor(cfg Config, log logx.Logger) *Monitor {
	cfg.normalize()
	return &Monitor{
		cfg:  cfg,
		log:  log.With(logx.String("component", "health")),
		sets: make(map[string]*TimerSet),
	}
}

// Attach starts the timer bundle for the controller's session. A second
// attach for the same session id is a no-op.
func (m *Monitor) Attach(c *session.Controller) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	if _, ok := m.sets[c.ID()]; ok {
		m.mu.Unlock()
		return
	}
	ts := newTimerSet()
	m.sets[c.ID()] = ts
	m.mu.Unlock()

	seed := m.cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))

	ts.Start(context.Background(), []timerSpec{
		{name: "heartbeat", interval: m.cfg.HeartbeatInterval, fn: m.heartbeat(c)},
		{name: "watchdog", interval: m.cfg.WatchdogInterval, fn: m.watchdog(c)},
		{name: "activity", interval: m.cfg.ActivityInterval, fn: m.activity(c, rng)},
	})
	m.log.Debug("health timers attached", logx.String("session_id", c.ID()))
}

// Detach stops and removes the session's timers. Unknown ids are ignored.
func (m *Monitor) Detach(sessionID string) {
	m.mu.Lock()
	ts, ok := m.sets[sessionID]
	if ok {
		delete(m.sets, sessionID)
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	ts.Stop()
	m.log.Debug("health timers detached", logx.String("session_id", sessionID))
}

// Stop detaches every session. Used on shutdown, before sessions are torn down.
func (m *Monitor) Stop() {
	m.mu.Lock()
	m.closed = true
	sets := m.sets
	m.sets = make(map[string]*TimerSet)
	m.mu.Unlock()
	for _, ts := range sets {
		ts.Stop()
	}
}

func (m *Monitor) heartbeat(c *session.Controller) func(ctx context.Context) {
	return func(ctx context.Context) {
		pctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if err := c.SendPresence(pctx); err != nil {
			// Not fatal on its own; the watchdog decides on recovery.
			m.log.Debug("heartbeat failed",
				logx.String("session_id", c.ID()), logx.Err(err))
			return
		}
		c.Touch()
	}
}

func (m *Monitor) watchdog(c *session.Controller) func(ctx context.Context) {
	return func(ctx context.Context) {
		pctx, cancel := context.WithTimeout(ctx, m.cfg.WatchdogTimeout)
		defer cancel()
		st, err := c.LiveState(pctx)
		if err != nil {
			m.log.Warn("watchdog probe failed",
				logx.String("session_id", c.ID()), logx.Err(err))
			return
		}
		if !session.RecoverableHandleState(st) {
			return
		}
		// The watchdog only re-runs initialization; it never forces a
		// state transition itself. Conflict and logout arrive as events.
		m.log.Info("watchdog recovering session",
			logx.String("session_id", c.ID()), logx.String("state", string(st)))
		c.Reinitialize()
	}
}

func (m *Monitor) activity(c *session.Controller, rng *rand.Rand) func(ctx context.Context) {
	return func(ctx context.Context) {
		pctx, cancel := context.WithTimeout(ctx, 15*time.Second)
		defer cancel()
		res := SimulateActivity(pctx, c.Page(), rng)
		if err := res.Err(); err != nil {
			m.log.Trace("activity simulation incomplete",
				logx.String("session_id", c.ID()), logx.Err(err))
		}
	}
}
