package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"sendpilot/pkg/logx"
)

// openStores returns one store per driver so every test runs against both
// the sqlite and the in-memory implementation.
func openStores(t *testing.T) map[string]Store {
	t.Helper()
	sq, err := Open(Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "test.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = sq.Close() })
	return map[string]Store{
		"sqlite": sq,
		"memory": NewMemory(),
	}
}

func seedCampaign(t *testing.T, st Store, c *Campaign) {
	t.Helper()
	if err := st.UpsertCampaign(context.Background(), c); err != nil {
		t.Fatalf("seed campaign: %v", err)
	}
}

func seedContact(t *testing.T, st Store, c *Contact) {
	t.Helper()
	if err := st.UpsertContact(context.Background(), c); err != nil {
		t.Fatalf("seed contact: %v", err)
	}
}

func TestSessionRoundTrip(t *testing.T) {
	t.Parallel()
	for name, st := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			now := time.Now().Truncate(time.Millisecond)
			s := Session{
				ID: "s1", OwnerID: "o1", Status: "ready", Phone: "+1",
				LastActivity: now, CreatedAt: now, ReconnectAttempts: 2,
			}
			if err := st.UpsertSession(ctx, s); err != nil {
				t.Fatalf("upsert: %v", err)
			}
			// Upsert replaces.
			s.Status = "disconnected"
			if err := st.UpsertSession(ctx, s); err != nil {
				t.Fatalf("upsert 2: %v", err)
			}

			list, err := st.ListSessions(ctx)
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			if len(list) != 1 {
				t.Fatalf("sessions = %d, want 1", len(list))
			}
			got := list[0]
			if got.Status != "disconnected" || got.ReconnectAttempts != 2 {
				t.Fatalf("round trip: %+v", got)
			}
			if !got.LastActivity.Equal(now) {
				t.Fatalf("LastActivity = %v, want %v", got.LastActivity, now)
			}

			if err := st.DeleteSession(ctx, "s1"); err != nil {
				t.Fatalf("delete: %v", err)
			}
			list, _ = st.ListSessions(ctx)
			if len(list) != 0 {
				t.Fatalf("sessions after delete = %d", len(list))
			}
		})
	}
}

func TestCampaignCounters(t *testing.T) {
	t.Parallel()
	for name, st := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			seedCampaign(t, st, &Campaign{ID: "c1", OwnerID: "o1", Status: CampaignSending})

			if err := st.BumpCampaignCounters(ctx, "c1", CounterDelta{Sent: 1, DailySent: 1}, "2026-03-01"); err != nil {
				t.Fatalf("bump: %v", err)
			}
			if err := st.BumpCampaignCounters(ctx, "c1", CounterDelta{Sent: 1, DailySent: 1}, "2026-03-01"); err != nil {
				t.Fatalf("bump 2: %v", err)
			}
			c, err := st.GetCampaign(ctx, "c1")
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			if c.SentCount != 2 || c.DailySent != 2 || c.DailyDate != "2026-03-01" {
				t.Fatalf("counters: %+v", c)
			}

			// A new day restarts the daily counter but not the totals.
			if err := st.BumpCampaignCounters(ctx, "c1", CounterDelta{Sent: 1, DailySent: 1}, "2026-03-02"); err != nil {
				t.Fatalf("bump day 2: %v", err)
			}
			c, _ = st.GetCampaign(ctx, "c1")
			if c.SentCount != 3 || c.DailySent != 1 || c.DailyDate != "2026-03-02" {
				t.Fatalf("rollover: %+v", c)
			}

			if err := st.ResetDailyCounters(ctx); err != nil {
				t.Fatalf("reset: %v", err)
			}
			c, _ = st.GetCampaign(ctx, "c1")
			if c.DailySent != 0 {
				t.Fatalf("DailySent after reset = %d", c.DailySent)
			}
		})
	}
}

func TestGetCampaignNotFound(t *testing.T) {
	t.Parallel()
	for name, st := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			if _, err := st.GetCampaign(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("err = %v, want ErrNotFound", err)
			}
		})
	}
}

func TestDueQueueItemsOrderAndLimit(t *testing.T) {
	t.Parallel()
	for name, st := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			now := time.Now()
			items := []QueueItem{
				{ID: "late", CampaignID: "c1", ScheduledAt: now.Add(-time.Minute), Status: ItemPending},
				{ID: "early", CampaignID: "c1", ScheduledAt: now.Add(-time.Hour), Status: ItemPending},
				{ID: "future", CampaignID: "c1", ScheduledAt: now.Add(time.Hour), Status: ItemPending},
				{ID: "urgent", CampaignID: "c1", ScheduledAt: now.Add(-time.Second), Status: ItemPending, Priority: 5},
				{ID: "done", CampaignID: "c1", ScheduledAt: now.Add(-time.Hour), Status: ItemSent},
			}
			if err := st.InsertQueueItems(ctx, items); err != nil {
				t.Fatalf("insert: %v", err)
			}

			due, err := st.DueQueueItems(ctx, now, 10)
			if err != nil {
				t.Fatalf("due: %v", err)
			}
			// Priority first, then oldest schedule. Future and resolved
			// items never appear.
			want := []string{"urgent", "early", "late"}
			if len(due) != len(want) {
				t.Fatalf("due = %d items, want %d", len(due), len(want))
			}
			for i, id := range want {
				if due[i].ID != id {
					t.Fatalf("due[%d] = %s, want %s", i, due[i].ID, id)
				}
			}

			due, _ = st.DueQueueItems(ctx, now, 1)
			if len(due) != 1 || due[0].ID != "urgent" {
				t.Fatalf("limited due = %+v", due)
			}
		})
	}
}

func TestCancelPendingItems(t *testing.T) {
	t.Parallel()
	for name, st := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			now := time.Now()
			items := []QueueItem{
				{ID: "p1", CampaignID: "c1", ScheduledAt: now, Status: ItemPending},
				{ID: "p2", CampaignID: "c1", ScheduledAt: now, Status: ItemPending},
				{ID: "s1", CampaignID: "c1", ScheduledAt: now, Status: ItemSent},
				{ID: "other", CampaignID: "c2", ScheduledAt: now, Status: ItemPending},
			}
			if err := st.InsertQueueItems(ctx, items); err != nil {
				t.Fatalf("insert: %v", err)
			}
			n, err := st.CancelPendingItems(ctx, "c1")
			if err != nil {
				t.Fatalf("cancel: %v", err)
			}
			if n != 2 {
				t.Fatalf("cancelled = %d, want 2", n)
			}
			counts, _ := st.CountQueueItems(ctx, "c1")
			if counts[ItemCancelled] != 2 || counts[ItemSent] != 1 {
				t.Fatalf("counts = %v", counts)
			}
			// Other campaign untouched.
			counts, _ = st.CountQueueItems(ctx, "c2")
			if counts[ItemPending] != 1 {
				t.Fatalf("other campaign counts = %v", counts)
			}
		})
	}
}

func TestPruneResolvedItems(t *testing.T) {
	t.Parallel()
	for name, st := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			old := time.Now().Add(-48 * time.Hour)
			fresh := time.Now()
			items := []QueueItem{
				{ID: "old-sent", CampaignID: "c1", ScheduledAt: old, Status: ItemSent, UpdatedAt: old},
				{ID: "old-pending", CampaignID: "c1", ScheduledAt: old, Status: ItemPending, UpdatedAt: old},
				{ID: "new-sent", CampaignID: "c1", ScheduledAt: fresh, Status: ItemSent, UpdatedAt: fresh},
			}
			if err := st.InsertQueueItems(ctx, items); err != nil {
				t.Fatalf("insert: %v", err)
			}
			n, err := st.PruneResolvedItems(ctx, time.Now().Add(-24*time.Hour))
			if err != nil {
				t.Fatalf("prune: %v", err)
			}
			if n != 1 {
				t.Fatalf("pruned = %d, want 1 (only resolved and old)", n)
			}
			counts, _ := st.CountQueueItems(ctx, "c1")
			if counts[ItemPending] != 1 || counts[ItemSent] != 1 {
				t.Fatalf("counts after prune = %v", counts)
			}
		})
	}
}

func TestContactResultUpdates(t *testing.T) {
	t.Parallel()
	for name, st := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			seedContact(t, st, &Contact{ID: "ct1", OwnerID: "o1", Name: "Ann", Tags: []string{"vip"}})

			at := time.Now().Truncate(time.Millisecond)
			if err := st.UpdateContactResult(ctx, "ct1", at, false, ""); err != nil {
				t.Fatalf("update: %v", err)
			}
			list, err := st.ListContactsByOwner(ctx, "o1")
			if err != nil || len(list) != 1 {
				t.Fatalf("list: %v (%d)", err, len(list))
			}
			c := list[0]
			if c.LastContactAt == nil || !c.LastContactAt.Equal(at) || c.Failed {
				t.Fatalf("after success: %+v", c)
			}
			if len(c.Tags) != 1 || c.Tags[0] != "vip" {
				t.Fatalf("tags lost: %v", c.Tags)
			}

			if err := st.UpdateContactResult(ctx, "ct1", at, true, "blocked"); err != nil {
				t.Fatalf("update fail: %v", err)
			}
			list, _ = st.ListContactsByOwner(ctx, "o1")
			if !list[0].Failed || list[0].LastError != "blocked" {
				t.Fatalf("after failure: %+v", list[0])
			}
		})
	}
}

func TestCampaignSettingsRoundTrip(t *testing.T) {
	t.Parallel()
	for name, st := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			in := &Campaign{
				ID: "c1", OwnerID: "o1", Status: CampaignDraft,
				Template:   "hi {first_name}",
				Variations: []string{"hello {first_name}", "hey there"},
				Settings: SendSettings{
					MinDelaySec: 30, MaxDelaySec: 120, BatchSize: 10,
					BatchPauseMin: 15, DailyLimit: 200,
					QuietStart: "22:00", QuietEnd: "08:00", Randomize: true,
				},
				Filter: Filter{Statuses: []string{"lead"}, MinIntent: 5, NotContactedFor: "720h"},
			}
			seedCampaign(t, st, in)

			out, err := st.GetCampaign(ctx, "c1")
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			if out.Settings != in.Settings {
				t.Fatalf("settings: got %+v want %+v", out.Settings, in.Settings)
			}
			if len(out.Variations) != 2 || out.Filter.NotContactedFor != "720h" {
				t.Fatalf("json columns: %+v", out)
			}
		})
	}
}
