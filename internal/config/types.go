package config

import (
	"fmt"
	"strings"
)

type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Storage   StorageConfig   `json:"storage"`
	Connector ConnectorConfig `json:"connector"`
	Session   SessionConfig   `json:"session"`
	Health    HealthConfig    `json:"health"`
	Notifier  NotifierConfig  `json:"notifier"`
	Campaign  CampaignConfig  `json:"campaign"`
}

// ConnectorConfig selects the platform connector backing new sessions.
//
// Driver values:
//   - "dev": in-process simulator, no external platform (default)
//
// Real connectors are linked in by the embedding binary and injected as a
// session handle factory; they are not selected here.
type ConnectorConfig struct {
	Driver string `json:"driver"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig controls the system-of-record.
//
// Driver values:
//   - "sqlite": SQLite database file (default)
//   - "memory": in-process only, state is lost on restart
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)

	// Retention is how long resolved queue items (sent/failed/cancelled)
	// are kept before the hourly prune job removes them.
	Retention string `json:"retention,omitempty"`
}

// SessionConfig controls per-session lifecycle behavior.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type SessionConfig struct {
	// MaxReconnectAttempts bounds automatic reconnection after a transient
	// disconnect. Once exceeded the session is moved to the error state.
	MaxReconnectAttempts int    `json:"max_reconnect_attempts"`
	ReconnectDelay       string `json:"reconnect_delay"`

	// InitTimeout bounds a single handle Initialize call.
	InitTimeout string `json:"init_timeout,omitempty"`
}

// HealthConfig controls the per-session health timers and the process-wide
// keepalive messenger.
type HealthConfig struct {
	HeartbeatInterval string `json:"heartbeat_interval"`
	WatchdogInterval  string `json:"watchdog_interval"`
	WatchdogTimeout   string `json:"watchdog_timeout,omitempty"`
	ActivityInterval  string `json:"activity_interval"`

	Keepalive KeepaliveConfig `json:"keepalive"`
}

// KeepaliveConfig controls the process-wide keepalive messenger.
//
// The messenger fires at a random point inside [min_interval, max_interval]
// and sends one real, content-varied message to the operator address through
// the first ready session.
type KeepaliveConfig struct {
	Enabled         bool   `json:"enabled"`
	MinInterval     string `json:"min_interval"`
	MaxInterval     string `json:"max_interval"`
	OperatorAddress string `json:"operator_address"`
}

// NotifierConfig controls the async owner push pipeline.
type NotifierConfig struct {
	Enabled       bool   `json:"enabled"`
	Workers       int    `json:"workers"`
	QueueSize     int    `json:"queue_size"`
	RatePerSec    int    `json:"rate_per_sec"`
	RetryMax      int    `json:"retry_max"`
	RetryBase     string `json:"retry_base"`
	RetryMaxDelay string `json:"retry_max_delay"`
	DedupWindow   string `json:"dedup_window"`
}

// CampaignConfig controls the dispatch loop and the per-item retry policy.
type CampaignConfig struct {
	// DispatchInterval is the poll interval of the dispatch loop.
	DispatchInterval string `json:"dispatch_interval"`
	// BatchFetchLimit bounds how many due items one tick may process.
	BatchFetchLimit int `json:"batch_fetch_limit"`

	RetryMax      int    `json:"retry_max"`
	RetryBase     string `json:"retry_base"`
	RetryMaxDelay string `json:"retry_max_delay"`
}

// Normalize fills defaults and validates cross-field constraints.
// It is called after every successful parse (initial load and hot reload).
func (c *Config) Normalize() error {
	if strings.TrimSpace(c.Logging.Level) == "" {
		c.Logging.Level = "info"
	}

	switch strings.ToLower(strings.TrimSpace(c.Storage.Driver)) {
	case "", "sqlite", "sqlite3":
		c.Storage.Driver = "sqlite"
		if strings.TrimSpace(c.Storage.Path) == "" {
			c.Storage.Path = "./sendpilot.db"
		}
	case "memory":
		c.Storage.Driver = "memory"
	default:
		return fmt.Errorf("storage.driver: unknown driver %q", c.Storage.Driver)
	}

	switch strings.ToLower(strings.TrimSpace(c.Connector.Driver)) {
	case "", "dev":
		c.Connector.Driver = "dev"
	default:
		return fmt.Errorf("connector.driver: unknown driver %q", c.Connector.Driver)
	}

	if c.Session.MaxReconnectAttempts <= 0 {
		c.Session.MaxReconnectAttempts = 5
	}
	if c.Notifier.Workers <= 0 {
		c.Notifier.Workers = 2
	}
	if c.Notifier.QueueSize <= 0 {
		c.Notifier.QueueSize = 512
	}
	if c.Notifier.RatePerSec <= 0 {
		c.Notifier.RatePerSec = 3
	}
	if c.Campaign.BatchFetchLimit <= 0 {
		c.Campaign.BatchFetchLimit = 10
	}
	if c.Campaign.RetryMax <= 0 {
		c.Campaign.RetryMax = 3
	}

	if c.Health.Keepalive.Enabled && strings.TrimSpace(c.Health.Keepalive.OperatorAddress) == "" {
		return fmt.Errorf("health.keepalive: operator_address is required when enabled")
	}

	// Parse all duration fields once so malformed configs are rejected early.
	for _, f := range []struct {
		path string
		raw  string
	}{
		{"storage.busy_timeout", c.Storage.BusyTimeout},
		{"storage.retention", c.Storage.Retention},
		{"session.reconnect_delay", c.Session.ReconnectDelay},
		{"session.init_timeout", c.Session.InitTimeout},
		{"health.heartbeat_interval", c.Health.HeartbeatInterval},
		{"health.watchdog_interval", c.Health.WatchdogInterval},
		{"health.watchdog_timeout", c.Health.WatchdogTimeout},
		{"health.activity_interval", c.Health.ActivityInterval},
		{"health.keepalive.min_interval", c.Health.Keepalive.MinInterval},
		{"health.keepalive.max_interval", c.Health.Keepalive.MaxInterval},
		{"notifier.retry_base", c.Notifier.RetryBase},
		{"notifier.retry_max_delay", c.Notifier.RetryMaxDelay},
		{"notifier.dedup_window", c.Notifier.DedupWindow},
		{"campaign.dispatch_interval", c.Campaign.DispatchInterval},
		{"campaign.retry_base", c.Campaign.RetryBase},
		{"campaign.retry_max_delay", c.Campaign.RetryMaxDelay},
	} {
		if _, err := ParseDurationField(f.path, f.raw); err != nil {
			return err
		}
	}
	return nil
}
