package store

import (
	"context"
	"errors"
	"strings"
	"time"

	logx "sendpilot/pkg/logx"
)

var (
	ErrNotFound = errors.New("not found")
)

// Config configures the system-of-record.
//
// Driver values:
//   - "sqlite": SQLite database file
//   - "memory": in-process maps (tests, throwaway runs)
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Store is the keyed CRUD surface consumed by the session registry and the
// campaign pipeline. Calls are independent; no cross-call transactions are
// assumed, so readers must tolerate eventual consistency (the in-memory
// registry remains the source of truth for live session state).
type Store interface {
	// Sessions (fire-and-forget mirror of the registry).
	UpsertSession(ctx context.Context, s Session) error
	DeleteSession(ctx context.Context, id string) error
	ListSessions(ctx context.Context) ([]Session, error)

	// Campaigns.
	UpsertCampaign(ctx context.Context, c *Campaign) error
	GetCampaign(ctx context.Context, id string) (*Campaign, error)
	UpdateCampaignStatus(ctx context.Context, id, status string) error
	// BumpCampaignCounters adds the deltas to the campaign's counters.
	// dailyDate stamps the day the daily counter belongs to.
	BumpCampaignCounters(ctx context.Context, id string, d CounterDelta, dailyDate string) error
	ResetDailyCounters(ctx context.Context) error

	// Contacts.
	UpsertContact(ctx context.Context, c *Contact) error
	ListContactsByOwner(ctx context.Context, ownerID string) ([]Contact, error)
	UpdateContactResult(ctx context.Context, id string, at time.Time, failed bool, errMsg string) error

	// Queue items.
	InsertQueueItems(ctx context.Context, items []QueueItem) error
	DueQueueItems(ctx context.Context, now time.Time, limit int) ([]QueueItem, error)
	UpdateQueueItem(ctx context.Context, item *QueueItem) error
	CancelPendingItems(ctx context.Context, campaignID string) (int, error)
	CountQueueItems(ctx context.Context, campaignID string) (map[string]int, error)
	PruneResolvedItems(ctx context.Context, olderThan time.Time) (int, error)

	Close() error
}

// CounterDelta is a partial update of campaign counters.
type CounterDelta struct {
	Sent      int
	Delivered int
	Read      int
	Replied   int
	Failed    int
	DailySent int
}

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "memory":
		return NewMemory(), nil
	default:
		return nil, errors.New("unknown storage driver: " + cfg.Driver)
	}
}
