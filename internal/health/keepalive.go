package health

import (
	"context"
	"math/rand"
	"strings"
	"time"

	"sendpilot/internal/session"
	"sendpilot/internal/variation"
	"sendpilot/pkg/logx"
)

// KeepaliveConfig controls the process-wide keepalive messenger.
type KeepaliveConfig struct {
	Enabled         bool
	MinInterval     time.Duration
	MaxInterval     time.Duration
	OperatorAddress string

	// Seed, when non-zero, makes interval choice reproducible.
	Seed int64
}

func (c *KeepaliveConfig) normalize() {
	if c.MinInterval <= 0 {
		c.MinInterval = 8 * time.Minute
	}
	if c.MaxInterval < c.MinInterval {
		c.MaxInterval = c.MinInterval + 4*time.Minute
	}
}

// keepalivePool is the base text varied on every send so the operator
// address receives real, non-identical traffic.
var keepalivePool = []string{
	"still here, all good",
	"ping, systems nominal",
	"hello, routine check-in",
	"quick hello from the desk",
}

// Keepalive periodically sends one content-varied message to the operator
// address through whichever session is ready first. There is one Keepalive
// per process, not per session.
type Keepalive struct {
	cfg  KeepaliveConfig
	reg  *session.Registry
	vary *variation.Engine
	log  logx.Logger
	rng  *rand.Rand
}

func NewKeepalive(cfg KeepaliveConfig, reg *session.Registry, vary *variation.Engine, log logx.Logger) *Keepalive {
	cfg.normalize()
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Keepalive{
		cfg:  cfg,
		reg:  reg,
		vary: vary,
		log:  log.With(logx.String("component", "keepalive")),
		rng:  rand.New(rand.NewSource(seed)),
	}
}

// Run loops until ctx is cancelled. Intended to be hosted by a supervisor.
func (k *Keepalive) Run(ctx context.Context) error {
	if !k.cfg.Enabled {
		<-ctx.Done()
		return nil
	}
	if strings.TrimSpace(k.cfg.OperatorAddress) == "" {
		// Config validation rejects this combination; a directly built
		// Keepalive must not fire at an empty address either.
		k.log.Warn("enabled without an operator address, staying idle")
		<-ctx.Done()
		return nil
	}
	for {
		timer := time.NewTimer(k.nextInterval())
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
		k.tick(ctx)
	}
}

// nextInterval picks a uniform point inside [min, max]. Randomizing the
// period avoids a detectable fixed cadence.
func (k *Keepalive) nextInterval() time.Duration {
	span := k.cfg.MaxInterval - k.cfg.MinInterval
	if span <= 0 {
		return k.cfg.MinInterval
	}
	return k.cfg.MinInterval + time.Duration(k.rng.Int63n(int64(span)+1))
}

func (k *Keepalive) tick(ctx context.Context) {
	c, ok := k.reg.FirstReady()
	if !ok {
		// Nothing ready; skip silently and wait for the next cycle.
		k.log.Trace("no ready session, skipping")
		return
	}

	pctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	// Re-verify against the live client: the registry status can lag a
	// handle that silently dropped its connection.
	st, err := c.LiveState(pctx)
	if err != nil || st != session.HandleConnected {
		k.log.Debug("ready session not live, skipping",
			logx.String("session_id", c.ID()), logx.Err(err))
		return
	}

	body := k.vary.Render(keepalivePool[k.rng.Intn(len(keepalivePool))], keepalivePool, variation.Fields{})
	if err := c.SendMessage(pctx, k.cfg.OperatorAddress, body); err != nil {
		k.log.Warn("keepalive send failed",
			logx.String("session_id", c.ID()), logx.Err(err))
		return
	}
	k.log.Debug("keepalive sent", logx.String("session_id", c.ID()))
}
