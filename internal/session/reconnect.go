package session

import (
	"context"
	"fmt"
	"time"

	logx "sendpilot/pkg/logx"
)

// scheduleReconnect applies the bounded reconnection policy after a
// transient disconnect: bump the attempt counter, give up with a terminal
// error once the maximum is exceeded, otherwise wait the configured delay
// and re-invoke Initialize. A failed re-init lands back here, so the bound
// holds across repeated failures; a successful return to ready resets the
// counter (EffectResetAttempts).
func (c *Controller) scheduleReconnect() {
	c.mu.Lock()
	if c.sess.Terminal || c.sess.Status == StatusError {
		c.mu.Unlock()
		return
	}
	c.sess.ReconnectAttempts++
	attempt := c.sess.ReconnectAttempts
	c.mu.Unlock()

	max := c.reg.cfg.MaxReconnectAttempts
	if attempt > max {
		c.fail(fmt.Sprintf("reconnection failed after %d attempts", max))
		return
	}

	delay := c.reg.cfg.ReconnectDelay
	c.log.Info("reconnect scheduled",
		logx.Int("attempt", attempt),
		logx.Int("max", max),
		logx.Duration("delay", delay),
	)

	c.sup.Go0("session.reconnect."+c.sess.ID, func(ctx context.Context) {
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		if c.Terminal() {
			return
		}
		c.initialize()
	})
}
