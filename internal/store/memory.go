package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Memory is an in-process Store used by tests and throwaway runs.
// All methods copy values in and out so callers cannot alias internal state.
type Memory struct {
	mu        sync.Mutex
	sessions  map[string]Session
	campaigns map[string]*Campaign
	contacts  map[string]*Contact
	items     map[string]*QueueItem
}

func NewMemory() *Memory {
	return &Memory{
		sessions:  map[string]Session{},
		campaigns: map[string]*Campaign{},
		contacts:  map[string]*Contact{},
		items:     map[string]*QueueItem{},
	}
}

func (m *Memory) Close() error { return nil }

// ---- sessions ----

func (m *Memory) UpsertSession(_ context.Context, s Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now()
	}
	m.sessions[s.ID] = s
	return nil
}

func (m *Memory) DeleteSession(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	return nil
}

func (m *Memory) ListSessions(_ context.Context) ([]Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// ---- campaigns ----

func (m *Memory) UpsertCampaign(_ context.Context, c *Campaign) error {
	m.PutCampaign(c)
	return nil
}

// PutCampaign is the no-context convenience used by tests.
func (m *Memory) PutCampaign(c *Campaign) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *c
	m.campaigns[c.ID] = &cp
}

func (m *Memory) GetCampaign(_ context.Context, id string) (*Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *Memory) UpdateCampaignStatus(_ context.Context, id, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[id]
	if !ok {
		return ErrNotFound
	}
	c.Status = status
	c.UpdatedAt = time.Now()
	return nil
}

func (m *Memory) BumpCampaignCounters(_ context.Context, id string, d CounterDelta, dailyDate string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[id]
	if !ok {
		return ErrNotFound
	}
	c.SentCount += d.Sent
	c.DeliveredCount += d.Delivered
	c.ReadCount += d.Read
	c.RepliedCount += d.Replied
	c.FailedCount += d.Failed
	if c.DailyDate == dailyDate {
		c.DailySent += d.DailySent
	} else {
		c.DailySent = d.DailySent
	}
	c.DailyDate = dailyDate
	c.UpdatedAt = time.Now()
	return nil
}

func (m *Memory) ResetDailyCounters(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.campaigns {
		c.DailySent = 0
	}
	return nil
}

// ---- contacts ----

func (m *Memory) UpsertContact(_ context.Context, c *Contact) error {
	m.PutContact(c)
	return nil
}

// PutContact is the no-context convenience used by tests.
func (m *Memory) PutContact(c *Contact) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *c
	m.contacts[c.ID] = &cp
}

func (m *Memory) ListContactsByOwner(_ context.Context, ownerID string) ([]Contact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Contact
	for _, c := range m.contacts {
		if c.OwnerID == ownerID {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) UpdateContactResult(_ context.Context, id string, at time.Time, failed bool, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.contacts[id]
	if !ok {
		return ErrNotFound
	}
	t := at
	c.LastContactAt = &t
	c.Failed = failed
	c.LastError = errMsg
	return nil
}

// ---- queue items ----

func (m *Memory) InsertQueueItems(_ context.Context, items []QueueItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	for i := range items {
		it := items[i]
		if it.CreatedAt.IsZero() {
			it.CreatedAt = now
		}
		if it.UpdatedAt.IsZero() {
			it.UpdatedAt = now
		}
		m.items[it.ID] = &it
	}
	return nil
}

func (m *Memory) DueQueueItems(_ context.Context, now time.Time, limit int) ([]QueueItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit <= 0 {
		limit = 10
	}
	var due []QueueItem
	for _, it := range m.items {
		if it.Status == ItemPending && !it.ScheduledAt.After(now) {
			due = append(due, *it)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].Priority != due[j].Priority {
			return due[i].Priority > due[j].Priority
		}
		return due[i].ScheduledAt.Before(due[j].ScheduledAt)
	})
	if len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (m *Memory) UpdateQueueItem(_ context.Context, item *QueueItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[item.ID]
	if !ok {
		return ErrNotFound
	}
	item.UpdatedAt = time.Now()
	*it = *item
	return nil
}

// GetQueueItem returns a copy of one item (test helper).
func (m *Memory) GetQueueItem(id string) (QueueItem, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[id]
	if !ok {
		return QueueItem{}, false
	}
	return *it, true
}

func (m *Memory) CancelPendingItems(_ context.Context, campaignID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	now := time.Now()
	for _, it := range m.items {
		if it.CampaignID == campaignID && it.Status == ItemPending {
			it.Status = ItemCancelled
			it.UpdatedAt = now
			n++
		}
	}
	return n, nil
}

func (m *Memory) CountQueueItems(_ context.Context, campaignID string) (map[string]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := map[string]int{
		ItemPending: 0, ItemProcessing: 0, ItemSent: 0, ItemFailed: 0, ItemCancelled: 0,
	}
	for _, it := range m.items {
		if it.CampaignID == campaignID {
			counts[it.Status]++
		}
	}
	return counts, nil
}

func (m *Memory) PruneResolvedItems(_ context.Context, olderThan time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, it := range m.items {
		switch it.Status {
		case ItemSent, ItemFailed, ItemCancelled:
			if it.UpdatedAt.Before(olderThan) {
				delete(m.items, id)
				n++
			}
		}
	}
	return n, nil
}

var _ Store = (*Memory)(nil)
