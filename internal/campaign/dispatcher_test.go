package campaign

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"sendpilot/internal/eventbus"
	"sendpilot/internal/store"
	"sendpilot/pkg/logx"
)

type sentMsg struct {
	ownerID, target, body string
}

type fakeGateway struct {
	mu   sync.Mutex
	sent []sentMsg
	err  error
}

func (g *fakeGateway) SendByOwner(ctx context.Context, ownerID, target, body string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return g.err
	}
	g.sent = append(g.sent, sentMsg{ownerID, target, body})
	return nil
}

func (g *fakeGateway) count() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.sent)
}

type dispatchFixture struct {
	st   *store.Memory
	gw   *fakeGateway
	disp *Dispatcher
	now  time.Time
}

func newDispatchFixture(t *testing.T, retry RetryPolicy) *dispatchFixture {
	t.Helper()
	st := store.NewMemory()
	gw := &fakeGateway{}
	d := NewDispatcher(DispatcherConfig{Retry: retry}, st, gw, eventbus.New(), logx.Nop())
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return now }
	return &dispatchFixture{st: st, gw: gw, disp: d, now: now}
}

func (f *dispatchFixture) seed(t *testing.T, camp *store.Campaign, items ...store.QueueItem) {
	t.Helper()
	f.st.PutCampaign(camp)
	if len(items) > 0 {
		if err := f.st.InsertQueueItems(context.Background(), items); err != nil {
			t.Fatalf("seed items: %v", err)
		}
	}
}

func dueItem(id string, at time.Time) store.QueueItem {
	return store.QueueItem{
		ID:          id,
		CampaignID:  "camp-1",
		ContactID:   "contact-1",
		OwnerID:     "owner-1",
		Message:     "hi there",
		Target:      "+15550001",
		ScheduledAt: at,
		Status:      store.ItemPending,
	}
}

func sendingCampaign(set store.SendSettings) *store.Campaign {
	return &store.Campaign{
		ID:       "camp-1",
		OwnerID:  "owner-1",
		Status:   store.CampaignSending,
		Settings: set,
	}
}

func TestDispatchSendsDueItem(t *testing.T) {
	t.Parallel()

	f := newDispatchFixture(t, RetryPolicy{})
	f.st.PutContact(&store.Contact{ID: "contact-1", OwnerID: "owner-1"})
	f.seed(t, sendingCampaign(store.SendSettings{}), dueItem("item-1", f.now))

	f.disp.Tick(context.Background())

	if f.gw.count() != 1 {
		t.Fatalf("gateway calls = %d, want 1", f.gw.count())
	}
	it, _ := f.st.GetQueueItem("item-1")
	if it.Status != store.ItemSent {
		t.Fatalf("item status = %q, want sent", it.Status)
	}
	camp, _ := f.st.GetCampaign(context.Background(), "camp-1")
	if camp.SentCount != 1 || camp.DailySent != 1 {
		t.Fatalf("counters = sent %d daily %d, want 1/1", camp.SentCount, camp.DailySent)
	}
}

func TestDispatchSkipsFutureItems(t *testing.T) {
	t.Parallel()

	f := newDispatchFixture(t, RetryPolicy{})
	f.seed(t, sendingCampaign(store.SendSettings{}), dueItem("item-1", f.now.Add(time.Hour)))

	f.disp.Tick(context.Background())
	if f.gw.count() != 0 {
		t.Fatalf("future item dispatched")
	}
}

func TestDispatchSentItemNeverRedispatched(t *testing.T) {
	t.Parallel()

	f := newDispatchFixture(t, RetryPolicy{})
	f.seed(t, sendingCampaign(store.SendSettings{}), dueItem("item-1", f.now))

	f.disp.Tick(context.Background())
	f.disp.Tick(context.Background())
	if f.gw.count() != 1 {
		t.Fatalf("gateway calls = %d, want exactly 1", f.gw.count())
	}
}

func TestDispatchPausedCampaignDefersItems(t *testing.T) {
	t.Parallel()

	f := newDispatchFixture(t, RetryPolicy{})
	camp := sendingCampaign(store.SendSettings{})
	camp.Status = store.CampaignPaused
	sched := f.now.Add(-time.Minute)
	f.seed(t, camp, dueItem("item-1", sched))

	f.disp.Tick(context.Background())

	if f.gw.count() != 0 {
		t.Fatal("sent despite paused campaign")
	}
	it, _ := f.st.GetQueueItem("item-1")
	if it.Status != store.ItemPending || !it.ScheduledAt.Equal(sched) {
		t.Fatalf("pause changed the item: status %q scheduled %v, want pending/%v",
			it.Status, it.ScheduledAt, sched)
	}

	// Back to sending: the deferred item flows on its original clock.
	if err := f.st.UpdateCampaignStatus(context.Background(), "camp-1", store.CampaignSending); err != nil {
		t.Fatalf("resume campaign: %v", err)
	}
	f.disp.Tick(context.Background())

	if f.gw.count() != 1 {
		t.Fatalf("gateway calls after resume = %d, want 1", f.gw.count())
	}
	it, _ = f.st.GetQueueItem("item-1")
	if it.Status != store.ItemSent {
		t.Fatalf("item status after resume = %q, want sent", it.Status)
	}
}

func TestDispatchCancelledCampaignCancelsItems(t *testing.T) {
	t.Parallel()

	f := newDispatchFixture(t, RetryPolicy{})
	camp := sendingCampaign(store.SendSettings{})
	camp.Status = store.CampaignCancelled
	f.seed(t, camp, dueItem("item-1", f.now))

	f.disp.Tick(context.Background())

	if f.gw.count() != 0 {
		t.Fatal("sent despite cancelled campaign")
	}
	it, _ := f.st.GetQueueItem("item-1")
	if it.Status != store.ItemCancelled {
		t.Fatalf("item status = %q, want cancelled", it.Status)
	}
}

// flakyStore injects transient failures into campaign reads.
type flakyStore struct {
	store.Store
	mu    sync.Mutex
	fails int
}

func (s *flakyStore) GetCampaign(ctx context.Context, id string) (*store.Campaign, error) {
	s.mu.Lock()
	fail := s.fails > 0
	if fail {
		s.fails--
	}
	s.mu.Unlock()
	if fail {
		return nil, errors.New("database is locked")
	}
	return s.Store.GetCampaign(ctx, id)
}

func TestDispatchTransientStoreErrorDefersItem(t *testing.T) {
	t.Parallel()

	mem := store.NewMemory()
	flaky := &flakyStore{Store: mem, fails: 1}
	gw := &fakeGateway{}
	d := NewDispatcher(DispatcherConfig{Retry: RetryPolicy{}}, flaky, gw, eventbus.New(), logx.Nop())
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return now }

	mem.PutCampaign(sendingCampaign(store.SendSettings{}))
	if err := mem.InsertQueueItems(context.Background(), []store.QueueItem{dueItem("item-1", now)}); err != nil {
		t.Fatalf("seed items: %v", err)
	}

	d.Tick(context.Background())

	it, _ := mem.GetQueueItem("item-1")
	if it.Status != store.ItemPending {
		t.Fatalf("item status after store error = %q, want pending", it.Status)
	}
	if gw.count() != 0 {
		t.Fatal("sent despite failed campaign load")
	}

	// The store recovered; the next tick delivers.
	d.Tick(context.Background())
	if gw.count() != 1 {
		t.Fatalf("gateway calls after recovery = %d, want 1", gw.count())
	}
}

func TestDispatchMissingCampaignCancelsItem(t *testing.T) {
	t.Parallel()

	f := newDispatchFixture(t, RetryPolicy{})
	if err := f.st.InsertQueueItems(context.Background(), []store.QueueItem{dueItem("item-1", f.now)}); err != nil {
		t.Fatalf("seed items: %v", err)
	}

	f.disp.Tick(context.Background())

	it, _ := f.st.GetQueueItem("item-1")
	if it.Status != store.ItemCancelled {
		t.Fatalf("orphan item status = %q, want cancelled", it.Status)
	}
}

func TestDispatchDailyCapLeavesScheduleUntouched(t *testing.T) {
	t.Parallel()

	f := newDispatchFixture(t, RetryPolicy{})
	camp := sendingCampaign(store.SendSettings{DailyLimit: 5})
	camp.DailySent = 5
	camp.DailyDate = f.now.Format("2006-01-02")
	sched := f.now.Add(-time.Minute)
	f.seed(t, camp, dueItem("item-1", sched))

	f.disp.Tick(context.Background())

	if f.gw.count() != 0 {
		t.Fatal("sent past the daily cap")
	}
	it, _ := f.st.GetQueueItem("item-1")
	if it.Status != store.ItemPending {
		t.Fatalf("item status = %q, want pending", it.Status)
	}
	if !it.ScheduledAt.Equal(sched) {
		t.Fatalf("deferral moved the schedule: %v -> %v", sched, it.ScheduledAt)
	}
}

func TestDispatchQuietHoursDefers(t *testing.T) {
	t.Parallel()

	f := newDispatchFixture(t, RetryPolicy{})
	// 23:00, inside a 22:00-08:00 window that wraps midnight.
	f.now = time.Date(2026, 3, 1, 23, 0, 0, 0, time.UTC)
	f.disp.now = func() time.Time { return f.now }
	sched := f.now.Add(-time.Minute)
	f.seed(t, sendingCampaign(store.SendSettings{QuietStart: "22:00", QuietEnd: "08:00"}), dueItem("item-1", sched))

	f.disp.Tick(context.Background())

	if f.gw.count() != 0 {
		t.Fatal("sent inside quiet hours")
	}
	it, _ := f.st.GetQueueItem("item-1")
	if it.Status != store.ItemPending || !it.ScheduledAt.Equal(sched) {
		t.Fatalf("quiet-hour deferral changed the item: %+v", it)
	}
}

func TestDispatchRetriesWithBackoff(t *testing.T) {
	t.Parallel()

	f := newDispatchFixture(t, RetryPolicy{Base: 30 * time.Second, MaxAttempts: 3})
	f.gw.err = errors.New("send blew up")
	f.seed(t, sendingCampaign(store.SendSettings{}), dueItem("item-1", f.now))

	f.disp.Tick(context.Background())

	it, _ := f.st.GetQueueItem("item-1")
	if it.Status != store.ItemPending || it.RetryCount != 1 {
		t.Fatalf("item = status %q retries %d, want pending/1", it.Status, it.RetryCount)
	}
	if want := f.now.Add(30 * time.Second); !it.ScheduledAt.Equal(want) {
		t.Fatalf("retry scheduled at %v, want %v", it.ScheduledAt, want)
	}
	if it.LastError == "" {
		t.Fatal("LastError not recorded")
	}
}

func TestDispatchRetryExhausted(t *testing.T) {
	t.Parallel()

	f := newDispatchFixture(t, RetryPolicy{Base: time.Second, MaxAttempts: 2})
	f.gw.err = errors.New("still down")
	f.st.PutContact(&store.Contact{ID: "contact-1", OwnerID: "owner-1"})
	item := dueItem("item-1", f.now)
	item.RetryCount = 2
	f.seed(t, sendingCampaign(store.SendSettings{}), item)

	f.disp.Tick(context.Background())

	it, _ := f.st.GetQueueItem("item-1")
	if it.Status != store.ItemFailed {
		t.Fatalf("item status = %q, want failed", it.Status)
	}
	camp, _ := f.st.GetCampaign(context.Background(), "camp-1")
	if camp.FailedCount != 1 {
		t.Fatalf("FailedCount = %d, want 1", camp.FailedCount)
	}
	contacts, _ := f.st.ListContactsByOwner(context.Background(), "owner-1")
	if len(contacts) != 1 || !contacts[0].Failed {
		t.Fatalf("contact not flagged failed: %+v", contacts)
	}
}

func TestDispatchCompletesCampaign(t *testing.T) {
	t.Parallel()

	f := newDispatchFixture(t, RetryPolicy{})
	f.seed(t, sendingCampaign(store.SendSettings{}), dueItem("item-1", f.now))

	f.disp.Tick(context.Background())

	camp, _ := f.st.GetCampaign(context.Background(), "camp-1")
	if camp.Status != store.CampaignCompleted {
		t.Fatalf("campaign status = %q, want completed", camp.Status)
	}
}

func TestRetryPolicyDelay(t *testing.T) {
	t.Parallel()

	p := RetryPolicy{Base: 10 * time.Second, MaxDelay: 60 * time.Second, MaxAttempts: 5}
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 10 * time.Second},
		{1, 20 * time.Second},
		{2, 40 * time.Second},
		{3, 60 * time.Second}, // capped
		{10, 60 * time.Second},
	}
	for _, tc := range cases {
		if got := p.Delay(tc.attempt); got != tc.want {
			t.Fatalf("Delay(%d) = %v, want %v", tc.attempt, got, tc.want)
		}
	}
	// Monotonic until the cap.
	prev := time.Duration(0)
	for i := 0; i < 12; i++ {
		d := p.Delay(i)
		if d < prev {
			t.Fatalf("Delay(%d) = %v below previous %v", i, d, prev)
		}
		prev = d
	}
}
