package campaign

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"sendpilot/internal/eventbus"
	"sendpilot/internal/runtime/supervisor"
	"sendpilot/internal/store"
	"sendpilot/pkg/logx"
)

var (
	ErrAlreadySending = errors.New("campaign is already sending")
	// ErrInvalidState is returned when a lifecycle call does not apply to
	// the campaign's current status.
	ErrInvalidState = errors.New("invalid campaign state for operation")
)

// ServiceConfig holds the housekeeping knobs. Dispatch loop tuning lives in
// DispatcherConfig.
type ServiceConfig struct {
	// Retention is how long resolved queue items are kept before pruning.
	Retention time.Duration
}

func (c *ServiceConfig) normalize() {
	if c.Retention <= 0 {
		c.Retention = 7 * 24 * time.Hour
	}
}

// Service is the campaign lifecycle API: it builds queues, runs the
// dispatch loop, and owns the scheduled housekeeping (daily counter reset,
// resolved-item pruning).
type Service struct {
	cfg   ServiceConfig
	st    store.Store
	sched *Scheduler
	disp  *Dispatcher
	bus   eventbus.Bus
	log   logx.Logger

	cron *cron.Cron
	sup  *supervisor.Supervisor
}

func NewService(cfg ServiceConfig, st store.Store, sched *Scheduler, disp *Dispatcher, bus eventbus.Bus, log logx.Logger) *Service {
	cfg.normalize()
	return &Service{
		cfg:   cfg,
		st:    st,
		sched: sched,
		disp:  disp,
		bus:   bus,
		log:   log.With(logx.String("component", "campaign")),
	}
}

// Start launches the dispatch loop and housekeeping jobs. Idempotent.
func (s *Service) Start(ctx context.Context) error {
	if s.sup != nil {
		return nil
	}
	s.sup = supervisor.New(ctx, supervisor.WithLogger(s.log))
	s.sup.GoRestart("campaign-dispatch", s.disp.Run,
		supervisor.WithRestartBackoff(time.Second, 30*time.Second),
		supervisor.WithStopOnCleanExit(true))

	s.cron = cron.New()
	if _, err := s.cron.AddFunc("0 0 * * *", s.resetDaily); err != nil {
		return fmt.Errorf("schedule daily reset: %w", err)
	}
	if _, err := s.cron.AddFunc("0 * * * *", s.prune); err != nil {
		return fmt.Errorf("schedule prune: %w", err)
	}
	s.cron.Start()
	s.log.Info("campaign service started")
	return nil
}

// Stop halts the dispatch loop and cron jobs. Idempotent.
func (s *Service) Stop(ctx context.Context) error {
	if s.cron != nil {
		cronCtx := s.cron.Stop()
		select {
		case <-cronCtx.Done():
		case <-ctx.Done():
		}
		s.cron = nil
	}
	if s.sup != nil {
		err := s.sup.Stop(ctx)
		s.sup = nil
		return err
	}
	return nil
}

// StartCampaign resolves the filter, enqueues paced items and flips the
// campaign to sending. It returns the number of queued recipients.
func (s *Service) StartCampaign(ctx context.Context, id string) (int, error) {
	camp, err := s.st.GetCampaign(ctx, id)
	if err != nil {
		return 0, err
	}
	switch camp.Status {
	case store.CampaignSending:
		return 0, ErrAlreadySending
	case store.CampaignDraft, store.CampaignScheduled, store.CampaignCompleted, store.CampaignCancelled:
	default:
		return 0, fmt.Errorf("%w: %s (use resume)", ErrInvalidState, camp.Status)
	}

	contacts, err := s.st.ListContactsByOwner(ctx, camp.OwnerID)
	if err != nil {
		return 0, err
	}
	now := time.Now()
	items, err := s.sched.Build(camp, contacts, now)
	if err != nil {
		return 0, err
	}
	if err := s.st.InsertQueueItems(ctx, items); err != nil {
		return 0, err
	}
	if err := s.st.UpdateCampaignStatus(ctx, id, store.CampaignSending); err != nil {
		return 0, err
	}
	s.log.Info("campaign started",
		logx.String("campaign_id", id),
		logx.Int("queued", len(items)))
	s.bus.Publish(eventbus.Event{Type: eventbus.TypeCampaignStarted, Time: now, Data: map[string]any{
		"campaign_id": id, "owner_id": camp.OwnerID, "queued": len(items),
	}})
	return len(items), nil
}

// Pause stops dispatching without touching queued items. In-flight items
// finish; pending items stay scheduled and resume on their original clock.
func (s *Service) Pause(ctx context.Context, id string) error {
	return s.transition(ctx, id, store.CampaignPaused, store.CampaignSending)
}

// Resume flips a paused campaign back to sending.
func (s *Service) Resume(ctx context.Context, id string) error {
	return s.transition(ctx, id, store.CampaignSending, store.CampaignPaused)
}

// Cancel terminates the campaign and cancels every still-pending item.
// In-flight items finish on their own.
func (s *Service) Cancel(ctx context.Context, id string) error {
	if err := s.transition(ctx, id, store.CampaignCancelled,
		store.CampaignSending, store.CampaignPaused, store.CampaignScheduled); err != nil {
		return err
	}
	n, err := s.st.CancelPendingItems(ctx, id)
	if err != nil {
		return err
	}
	s.log.Info("campaign cancelled",
		logx.String("campaign_id", id),
		logx.Int("items_cancelled", n))
	return nil
}

func (s *Service) transition(ctx context.Context, id, to string, from ...string) error {
	camp, err := s.st.GetCampaign(ctx, id)
	if err != nil {
		return err
	}
	ok := false
	for _, f := range from {
		if camp.Status == f {
			ok = true
			break
		}
	}
	if !ok {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidState, camp.Status, to)
	}
	return s.st.UpdateCampaignStatus(ctx, id, to)
}

// Stats is a campaign's progress snapshot.
type Stats struct {
	CampaignID string         `json:"campaign_id"`
	Status     string         `json:"status"`
	Sent       int            `json:"sent"`
	Delivered  int            `json:"delivered"`
	Read       int            `json:"read"`
	Replied    int            `json:"replied"`
	Failed     int            `json:"failed"`
	DailySent  int            `json:"daily_sent"`
	Queue      map[string]int `json:"queue"`

	DeliveryRate float64 `json:"delivery_rate"`
	ReadRate     float64 `json:"read_rate"`
	ReplyRate    float64 `json:"reply_rate"`
	FailureRate  float64 `json:"failure_rate"`
}

// GetStats returns counters plus derived rates for one campaign.
func (s *Service) GetStats(ctx context.Context, id string) (*Stats, error) {
	camp, err := s.st.GetCampaign(ctx, id)
	if err != nil {
		return nil, err
	}
	counts, err := s.st.CountQueueItems(ctx, id)
	if err != nil {
		return nil, err
	}
	st := &Stats{
		CampaignID: id,
		Status:     camp.Status,
		Sent:       camp.SentCount,
		Delivered:  camp.DeliveredCount,
		Read:       camp.ReadCount,
		Replied:    camp.RepliedCount,
		Failed:     camp.FailedCount,
		DailySent:  camp.DailySent,
		Queue:      counts,
	}
	if camp.SentCount > 0 {
		st.DeliveryRate = rate(camp.DeliveredCount, camp.SentCount)
		st.ReadRate = rate(camp.ReadCount, camp.SentCount)
		st.ReplyRate = rate(camp.RepliedCount, camp.SentCount)
	}
	if total := camp.SentCount + camp.FailedCount; total > 0 {
		st.FailureRate = rate(camp.FailedCount, total)
	}
	return st, nil
}

func rate(part, whole int) float64 {
	return float64(part) / float64(whole)
}

func (s *Service) resetDaily() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := s.st.ResetDailyCounters(ctx); err != nil {
		s.log.Error("daily counter reset failed", logx.Err(err))
		return
	}
	s.log.Info("daily counters reset")
}

func (s *Service) prune() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	n, err := s.st.PruneResolvedItems(ctx, time.Now().Add(-s.cfg.Retention))
	if err != nil {
		s.log.Error("queue prune failed", logx.Err(err))
		return
	}
	if n > 0 {
		s.log.Debug("queue pruned", logx.Int("items", n))
	}
}
