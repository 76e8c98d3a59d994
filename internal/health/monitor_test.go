package health

import (
	"testing"
	"time"

	"sendpilot/pkg/logx"
)

func TestMonitorDetachUnknownID(t *testing.T) {
	t.Parallel()

	m := NewMonitor(Config{}, logx.Nop())
	m.Detach("no-such-session") // must be a no-op
	m.Stop()
}

func TestConfigDefaults(t *testing.T) {
	t.Parallel()

	var c Config
	c.normalize()
	if c.HeartbeatInterval != 45*time.Second {
		t.Fatalf("HeartbeatInterval = %v", c.HeartbeatInterval)
	}
	if c.WatchdogInterval != 2*time.Minute || c.WatchdogTimeout != 30*time.Second {
		t.Fatalf("watchdog defaults = %v/%v", c.WatchdogInterval, c.WatchdogTimeout)
	}
	if c.ActivityInterval != 5*time.Minute {
		t.Fatalf("ActivityInterval = %v", c.ActivityInterval)
	}
}

func TestKeepaliveConfigNormalize(t *testing.T) {
	t.Parallel()

	c := KeepaliveConfig{MinInterval: 10 * time.Minute, MaxInterval: time.Minute}
	c.normalize()
	if c.MaxInterval < c.MinInterval {
		t.Fatalf("max %v below min %v after normalize", c.MaxInterval, c.MinInterval)
	}
}
