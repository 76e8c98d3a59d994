package campaign

import (
	"context"
	"errors"
	"time"

	"sendpilot/internal/eventbus"
	"sendpilot/internal/session"
	"sendpilot/internal/store"
	"sendpilot/pkg/logx"
)

// Gateway sends one message through the owner's ready session.
type Gateway interface {
	SendByOwner(ctx context.Context, ownerID, target, body string) error
}

// RegistryGateway adapts the session registry to the Gateway interface.
type RegistryGateway struct {
	Reg *session.Registry
}

func (g RegistryGateway) SendByOwner(ctx context.Context, ownerID, target, body string) error {
	c, err := g.Reg.ReadyByOwner(ownerID)
	if err != nil {
		return err
	}
	return c.SendMessage(ctx, target, body)
}

// DispatcherConfig controls the dispatch loop.
type DispatcherConfig struct {
	// Interval is the poll period for due items.
	Interval time.Duration
	// FetchLimit bounds how many due items one tick may handle.
	FetchLimit int
	Retry      RetryPolicy
}

func (c *DispatcherConfig) normalize() {
	if c.Interval <= 0 {
		c.Interval = 2 * time.Second
	}
	if c.FetchLimit <= 0 {
		c.FetchLimit = 10
	}
	c.Retry.normalize()
}

// Dispatcher drains due queue items: one failed item never blocks the rest
// of the tick, and every pacing decision (daily cap, quiet hours) leaves the
// item's scheduled time untouched so ordering survives a deferral.
type Dispatcher struct {
	cfg DispatcherConfig
	st  store.Store
	gw  Gateway
	bus eventbus.Bus
	log logx.Logger

	now func() time.Time
}

func NewDispatcher(cfg DispatcherConfig, st store.Store, gw Gateway, bus eventbus.Bus, log logx.Logger) *Dispatcher {
	cfg.normalize()
	return &Dispatcher{
		cfg: cfg,
		st:  st,
		gw:  gw,
		bus: bus,
		log: log.With(logx.String("component", "dispatch")),
		now: time.Now,
	}
}

// Run polls until ctx is cancelled. Intended to be hosted by a supervisor.
func (d *Dispatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			d.Tick(ctx)
		}
	}
}

// Tick processes one batch of due items.
func (d *Dispatcher) Tick(ctx context.Context) {
	now := d.now()
	items, err := d.st.DueQueueItems(ctx, now, d.cfg.FetchLimit)
	if err != nil {
		d.log.Error("fetch due items failed", logx.Err(err))
		return
	}
	for i := range items {
		d.dispatch(ctx, &items[i], now)
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, item *store.QueueItem, now time.Time) {
	// Claim the item first so a crash mid-send cannot double-deliver on
	// the next tick.
	item.Status = store.ItemProcessing
	item.UpdatedAt = now
	if err := d.st.UpdateQueueItem(ctx, item); err != nil {
		d.log.Error("claim item failed", logx.String("item_id", item.ID), logx.Err(err))
		return
	}

	camp, err := d.st.GetCampaign(ctx, item.CampaignID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// True orphan; no owner will ever claim it again.
			d.resolve(ctx, item, store.ItemCancelled, "campaign missing", now)
			return
		}
		// Transient store failure: put the item back and let the next
		// tick pick it up again.
		d.log.Error("load campaign failed",
			logx.String("campaign_id", item.CampaignID), logx.Err(err))
		d.revert(ctx, item, now)
		return
	}
	switch camp.Status {
	case store.CampaignSending:
	case store.CampaignPaused, store.CampaignScheduled:
		// The queue survives a pause; items wait on their original clock
		// and flow again once the campaign is back to sending.
		d.revert(ctx, item, now)
		return
	default:
		// cancelled, completed, or back in draft: nothing left to deliver.
		d.resolve(ctx, item, store.ItemCancelled, "campaign "+camp.Status, now)
		return
	}

	set := camp.Settings
	today := now.Format("2006-01-02")
	if set.DailyLimit > 0 && camp.DailyDate == today && camp.DailySent >= set.DailyLimit {
		// Cap reached: put the item back untouched; it becomes due again
		// after the midnight counter reset.
		d.revert(ctx, item, now)
		return
	}
	if InQuietHours(now, set.QuietStart, set.QuietEnd) {
		d.revert(ctx, item, now)
		return
	}

	if err := d.gw.SendByOwner(ctx, item.OwnerID, item.Target, item.Message); err != nil {
		d.retry(ctx, item, camp, err, now)
		return
	}

	d.resolve(ctx, item, store.ItemSent, "", now)
	if err := d.st.BumpCampaignCounters(ctx, camp.ID, store.CounterDelta{Sent: 1, DailySent: 1}, today); err != nil {
		d.log.Error("bump counters failed", logx.String("campaign_id", camp.ID), logx.Err(err))
	}
	if err := d.st.UpdateContactResult(ctx, item.ContactID, now, false, ""); err != nil {
		d.log.Warn("update contact failed", logx.String("contact_id", item.ContactID), logx.Err(err))
	}
	d.bus.Publish(eventbus.Event{Type: eventbus.TypeItemSent, Time: now, Data: map[string]any{
		"campaign_id": camp.ID, "item_id": item.ID, "contact_id": item.ContactID,
	}})
	d.maybeComplete(ctx, camp.ID, now)
}

// retry reschedules a failed item with exponential backoff, or marks it
// terminally failed once attempts run out.
func (d *Dispatcher) retry(ctx context.Context, item *store.QueueItem, camp *store.Campaign, cause error, now time.Time) {
	if d.cfg.Retry.Exhausted(item.RetryCount) {
		d.log.Warn("item failed permanently",
			logx.String("item_id", item.ID),
			logx.Int("retries", item.RetryCount),
			logx.Err(cause))
		d.resolve(ctx, item, store.ItemFailed, cause.Error(), now)
		if err := d.st.BumpCampaignCounters(ctx, camp.ID, store.CounterDelta{Failed: 1}, now.Format("2006-01-02")); err != nil {
			d.log.Error("bump counters failed", logx.String("campaign_id", camp.ID), logx.Err(err))
		}
		if err := d.st.UpdateContactResult(ctx, item.ContactID, now, true, cause.Error()); err != nil {
			d.log.Warn("update contact failed", logx.String("contact_id", item.ContactID), logx.Err(err))
		}
		d.bus.Publish(eventbus.Event{Type: eventbus.TypeItemFailed, Time: now, Data: map[string]any{
			"campaign_id": camp.ID, "item_id": item.ID, "error": cause.Error(),
		}})
		d.maybeComplete(ctx, camp.ID, now)
		return
	}

	delay := d.cfg.Retry.Delay(item.RetryCount)
	item.RetryCount++
	item.Status = store.ItemPending
	item.LastError = cause.Error()
	item.ScheduledAt = now.Add(delay)
	item.UpdatedAt = now
	if err := d.st.UpdateQueueItem(ctx, item); err != nil {
		d.log.Error("reschedule item failed", logx.String("item_id", item.ID), logx.Err(err))
		return
	}
	d.log.Debug("item rescheduled",
		logx.String("item_id", item.ID),
		logx.Int("retry", item.RetryCount),
		logx.Duration("delay", delay),
		logx.Err(cause))
}

// revert returns a claimed item to pending without touching its schedule.
func (d *Dispatcher) revert(ctx context.Context, item *store.QueueItem, now time.Time) {
	item.Status = store.ItemPending
	item.UpdatedAt = now
	if err := d.st.UpdateQueueItem(ctx, item); err != nil {
		d.log.Error("revert item failed", logx.String("item_id", item.ID), logx.Err(err))
	}
}

func (d *Dispatcher) resolve(ctx context.Context, item *store.QueueItem, status, lastErr string, now time.Time) {
	item.Status = status
	item.LastError = lastErr
	item.UpdatedAt = now
	if err := d.st.UpdateQueueItem(ctx, item); err != nil {
		d.log.Error("resolve item failed", logx.String("item_id", item.ID), logx.Err(err))
	}
}

// maybeComplete marks the campaign completed once no pending or processing
// items remain.
func (d *Dispatcher) maybeComplete(ctx context.Context, campaignID string, now time.Time) {
	counts, err := d.st.CountQueueItems(ctx, campaignID)
	if err != nil {
		d.log.Error("count items failed", logx.String("campaign_id", campaignID), logx.Err(err))
		return
	}
	if counts[store.ItemPending]+counts[store.ItemProcessing] > 0 {
		return
	}
	// Re-check status: a pause or cancel may have landed since this tick
	// claimed its items.
	camp, err := d.st.GetCampaign(ctx, campaignID)
	if err != nil || camp.Status != store.CampaignSending {
		return
	}
	if err := d.st.UpdateCampaignStatus(ctx, campaignID, store.CampaignCompleted); err != nil {
		d.log.Error("complete campaign failed", logx.String("campaign_id", campaignID), logx.Err(err))
		return
	}
	d.log.Info("campaign completed", logx.String("campaign_id", campaignID))
	d.bus.Publish(eventbus.Event{Type: eventbus.TypeCampaignCompleted, Time: now, Data: map[string]any{
		"campaign_id": campaignID, "owner_id": camp.OwnerID,
	}})
}
