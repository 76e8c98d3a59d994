package notifier

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"sendpilot/internal/eventbus"
	"sendpilot/internal/runtime/supervisor"
	"sendpilot/internal/session"
	"sendpilot/pkg/logx"
)

// Pusher delivers one rendered notification to its owner. Implementations
// must be safe for concurrent use.
type Pusher interface {
	Push(ctx context.Context, ownerID, message string) error
}

// LogPusher writes notifications to the log. It is the default sink when no
// outward push channel is configured.
type LogPusher struct {
	Log logx.Logger
}

func (p LogPusher) Push(_ context.Context, ownerID, message string) error {
	p.Log.Info("owner notification",
		logx.String("owner_id", ownerID),
		logx.String("message", message))
	return nil
}

type Config struct {
	Enabled    bool
	Workers    int
	QueueSize  int
	RatePerSec int

	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration

	// DedupWindow suppresses identical owner+kind notifications that
	// arrive within the window. Zero disables deduplication.
	DedupWindow time.Duration
}

func (c *Config) normalize() {
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 512
	}
	if c.RatePerSec <= 0 {
		c.RatePerSec = 3
	}
	if c.RetryMax < 0 {
		c.RetryMax = 0
	}
	if c.RetryBase <= 0 {
		c.RetryBase = time.Second
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = 30 * time.Second
	}
}

type notification struct {
	ownerID string
	kind    string
	message string
}

// Service is the async owner push pipeline: bus events are rendered into
// short texts, deduplicated, queued, and delivered by a rate-limited worker
// pool. A full queue drops; losing a notification must never stall session
// or campaign work.
type Service struct {
	cfg     Config
	pusher  Pusher
	bus     eventbus.Bus
	log     logx.Logger
	limiter *rate.Limiter

	mu     sync.Mutex
	recent map[string]time.Time
	queue  chan notification
	sup    *supervisor.Supervisor
	unsub  func()
}

func New(cfg Config, pusher Pusher, bus eventbus.Bus, log logx.Logger) *Service {
	cfg.normalize()
	return &Service{
		cfg:     cfg,
		pusher:  pusher,
		bus:     bus,
		log:     log.With(logx.String("component", "notifier")),
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
		recent:  make(map[string]time.Time),
	}
}

// Start subscribes to the bus and launches the worker pool. Idempotent.
func (s *Service) Start(ctx context.Context) {
	if !s.cfg.Enabled || s.sup != nil {
		return
	}
	s.sup = supervisor.New(ctx, supervisor.WithLogger(s.log))
	s.queue = make(chan notification, s.cfg.QueueSize)

	ch, unsub := s.bus.Subscribe(s.cfg.QueueSize)
	s.unsub = unsub
	s.sup.Go0("notifier-bridge", func(ctx context.Context) {
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-ch:
				if !ok {
					return
				}
				s.ingest(ev)
			}
		}
	})

	for i := 0; i < s.cfg.Workers; i++ {
		s.sup.Go0(fmt.Sprintf("notifier-worker-%d", i), s.worker)
	}
	s.log.Info("notifier started", logx.Int("workers", s.cfg.Workers))
}

// Stop drains nothing: queued notifications still in flight are dropped.
func (s *Service) Stop(ctx context.Context) {
	if s.sup == nil {
		return
	}
	if s.unsub != nil {
		s.unsub()
	}
	_ = s.sup.Stop(ctx)
	s.sup = nil
}

// ingest renders a bus event and enqueues it, or drops it when the queue is
// full or the event repeats within the dedup window.
func (s *Service) ingest(ev eventbus.Event) {
	n, ok := render(ev)
	if !ok {
		return
	}
	if s.isDuplicate(n) {
		return
	}
	select {
	case s.queue <- n:
	default:
		s.log.Warn("notification queue full, dropping",
			logx.String("owner_id", n.ownerID), logx.String("kind", n.kind))
	}
}

func (s *Service) isDuplicate(n notification) bool {
	if s.cfg.DedupWindow <= 0 {
		return false
	}
	key := n.ownerID + "|" + n.kind
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	if last, ok := s.recent[key]; ok && now.Sub(last) < s.cfg.DedupWindow {
		return true
	}
	s.recent[key] = now
	// Drop stale entries opportunistically so the map stays bounded.
	for k, v := range s.recent {
		if now.Sub(v) >= s.cfg.DedupWindow {
			delete(s.recent, k)
		}
	}
	return false
}

func (s *Service) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case n := <-s.queue:
			s.deliver(ctx, n)
		}
	}
}

// deliver pushes with bounded exponential backoff.
func (s *Service) deliver(ctx context.Context, n notification) {
	if err := s.limiter.Wait(ctx); err != nil {
		return
	}
	delay := s.cfg.RetryBase
	for attempt := 0; ; attempt++ {
		err := s.pusher.Push(ctx, n.ownerID, n.message)
		if err == nil {
			return
		}
		if attempt >= s.cfg.RetryMax {
			s.log.Warn("notification dropped after retries",
				logx.String("owner_id", n.ownerID),
				logx.Int("attempts", attempt+1),
				logx.Err(err))
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		delay *= 2
		if delay > s.cfg.RetryMaxDelay {
			delay = s.cfg.RetryMaxDelay
		}
	}
}

// render maps a bus event to owner-facing text. Events without an owner
// destination are skipped.
func render(ev eventbus.Event) (notification, bool) {
	switch ev.Type {
	case eventbus.TypeSessionQR, eventbus.TypeSessionAuthenticated,
		eventbus.TypeSessionReady, eventbus.TypeSessionDisconnected,
		eventbus.TypeSessionError:
		oe, ok := ev.Data.(session.OwnerEvent)
		if !ok {
			return notification{}, false
		}
		return notification{ownerID: oe.OwnerID, kind: oe.Kind, message: ownerText(oe)}, true

	case eventbus.TypeCampaignStarted, eventbus.TypeCampaignCompleted:
		data, ok := ev.Data.(map[string]any)
		if !ok {
			return notification{}, false
		}
		ownerID, _ := data["owner_id"].(string)
		campaignID, _ := data["campaign_id"].(string)
		if ownerID == "" {
			return notification{}, false
		}
		msg := "Campaign " + campaignID + " completed"
		kind := "campaign_completed"
		if ev.Type == eventbus.TypeCampaignStarted {
			kind = "campaign_started"
			if q, ok := data["queued"].(int); ok {
				msg = fmt.Sprintf("Campaign %s started: %d messages queued", campaignID, q)
			} else {
				msg = "Campaign " + campaignID + " started"
			}
		}
		return notification{ownerID: ownerID, kind: kind, message: msg}, true
	}
	return notification{}, false
}

func ownerText(oe session.OwnerEvent) string {
	switch oe.Kind {
	case "qr":
		return "Scan the QR code to link your account"
	case "authenticated":
		return "Account authenticated, finishing connection"
	case "ready":
		if oe.Phone != "" {
			return "Session ready on " + oe.Phone
		}
		return "Session ready"
	case "disconnected":
		if oe.Message != "" {
			return "Session disconnected (" + oe.Message + "), please re-link"
		}
		return "Session disconnected, please re-link"
	case "error":
		if oe.Message != "" {
			return "Session failed: " + oe.Message
		}
		return "Session failed, please re-link"
	default:
		return "Session update: " + oe.Kind
	}
}
