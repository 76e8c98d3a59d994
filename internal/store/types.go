package store

import "time"

// Campaign status values.
const (
	CampaignDraft     = "draft"
	CampaignScheduled = "scheduled"
	CampaignSending   = "sending"
	CampaignPaused    = "paused"
	CampaignCancelled = "cancelled"
	CampaignCompleted = "completed"
)

// Queue item status values.
const (
	ItemPending    = "pending"
	ItemProcessing = "processing"
	ItemSent       = "sent"
	ItemFailed     = "failed"
	ItemCancelled  = "cancelled"
)

// Session is the persisted mirror of an in-memory session record.
//
// The registry is the single writer of in-process truth; these rows are
// fire-and-forget copies and may transiently lag behind it.
type Session struct {
	ID                string
	OwnerID           string
	Status            string
	Phone             string
	LastActivity      time.Time
	CreatedAt         time.Time
	ReconnectAttempts int
	LastError         string
}

// SendSettings is the anti-ban pacing knob set of one campaign.
type SendSettings struct {
	MinDelaySec   int    `json:"min_delay_sec"`
	MaxDelaySec   int    `json:"max_delay_sec"`
	BatchSize     int    `json:"batch_size"`
	BatchPauseMin int    `json:"batch_pause_min"`
	DailyLimit    int    `json:"daily_limit"`
	QuietStart    string `json:"quiet_start,omitempty"` // "HH:MM", empty disables
	QuietEnd      string `json:"quiet_end,omitempty"`   // "HH:MM"
	Randomize     bool   `json:"randomize"`
}

// Filter selects recipients from the owner's contact roster.
// Zero-valued fields do not constrain.
type Filter struct {
	Statuses        []string `json:"statuses,omitempty"`
	Sources         []string `json:"sources,omitempty"`
	Tags            []string `json:"tags,omitempty"` // any-overlap
	Languages       []string `json:"languages,omitempty"`
	MinIntent       int      `json:"min_intent,omitempty"`
	MaxIntent       int      `json:"max_intent,omitempty"` // 0 means unbounded
	MinSatisfaction int      `json:"min_satisfaction,omitempty"`
	NotContactedFor string   `json:"not_contacted_for,omitempty"` // Go duration, e.g. "720h"
	HasEmail        bool     `json:"has_email,omitempty"`
}

type Campaign struct {
	ID         string
	OwnerID    string
	Name       string
	Status     string
	Template   string
	Variations []string
	Settings   SendSettings
	Filter     Filter

	SentCount      int
	DeliveredCount int
	ReadCount      int
	RepliedCount   int
	FailedCount    int
	DailySent      int
	DailyDate      string // "2006-01-02"; DailySent counts sends on this day

	CreatedAt time.Time
	UpdatedAt time.Time
}

type QueueItem struct {
	ID          string
	CampaignID  string
	ContactID   string
	OwnerID     string
	Message     string
	Target      string
	Priority    int
	ScheduledAt time.Time
	Status      string
	RetryCount  int
	LastError   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type Contact struct {
	ID             string
	OwnerID        string
	Name           string
	Company        string
	Phone          string
	Email          string
	Status         string
	Source         string
	Tags           []string
	Language       string
	Satisfaction   int
	PurchaseIntent int
	LastContactAt  *time.Time
	Failed         bool
	LastError      string
}
