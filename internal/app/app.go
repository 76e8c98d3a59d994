package app

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"sendpilot/internal/campaign"
	"sendpilot/internal/config"
	"sendpilot/internal/connector"
	"sendpilot/internal/eventbus"
	"sendpilot/internal/health"
	"sendpilot/internal/notifier"
	"sendpilot/internal/runtime/supervisor"
	"sendpilot/internal/session"
	"sendpilot/internal/store"
	"sendpilot/internal/variation"
	"sendpilot/pkg/logx"
)

// Options configures construction. Factory and Pusher are the two injection
// points for a real platform: nil selects the dev connector and the logging
// pusher.
type Options struct {
	ConfigPath string
	Factory    session.HandleFactory
	Pusher     notifier.Pusher
}

// App wires the full daemon: config, logging, store, session registry,
// health timers, campaign pipeline and the owner notifier.
type App struct {
	cfgMgr *config.Manager
	logSvc *logx.Service
	log    logx.Logger

	st        store.Store
	bus       eventbus.Bus
	registry  *session.Registry
	monitor   *health.Monitor
	keepalive *health.Keepalive
	campaigns *campaign.Service
	notifier  *notifier.Service

	sup     *supervisor.Supervisor
	cfgSub  chan *config.Config
	started bool
}

func New(opts Options) (*App, error) {
	mgr := config.NewManager(opts.ConfigPath)
	cfg, err := mgr.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	mgr.SetLogger(log)

	st, err := store.Open(store.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: config.DurationOrDefault(cfg.Storage.BusyTimeout, 0),
	}, log)
	if err != nil {
		_ = logSvc.Close()
		return nil, fmt.Errorf("open store: %w", err)
	}

	bus := eventbus.New()

	factory := opts.Factory
	if factory == nil {
		factory = connector.DevFactory(log)
	}
	registry := session.NewRegistry(session.Config{
		MaxReconnectAttempts: cfg.Session.MaxReconnectAttempts,
		ReconnectDelay:       config.DurationOrDefault(cfg.Session.ReconnectDelay, 0),
		InitTimeout:          config.DurationOrDefault(cfg.Session.InitTimeout, 0),
	}, factory, st, bus, log)

	monitor := health.NewMonitor(health.Config{
		HeartbeatInterval: config.DurationOrDefault(cfg.Health.HeartbeatInterval, 0),
		WatchdogInterval:  config.DurationOrDefault(cfg.Health.WatchdogInterval, 0),
		WatchdogTimeout:   config.DurationOrDefault(cfg.Health.WatchdogTimeout, 0),
		ActivityInterval:  config.DurationOrDefault(cfg.Health.ActivityInterval, 0),
	}, log)
	registry.SetHealth(monitor)

	vary := variation.New(variation.DefaultConfig(), rand.New(rand.NewSource(time.Now().UnixNano())))
	keepalive := health.NewKeepalive(health.KeepaliveConfig{
		Enabled:         cfg.Health.Keepalive.Enabled,
		MinInterval:     config.DurationOrDefault(cfg.Health.Keepalive.MinInterval, 0),
		MaxInterval:     config.DurationOrDefault(cfg.Health.Keepalive.MaxInterval, 0),
		OperatorAddress: cfg.Health.Keepalive.OperatorAddress,
	}, registry, vary, log)

	sched := campaign.NewScheduler(vary, rand.New(rand.NewSource(time.Now().UnixNano())))
	disp := campaign.NewDispatcher(campaign.DispatcherConfig{
		Interval:   config.DurationOrDefault(cfg.Campaign.DispatchInterval, 0),
		FetchLimit: cfg.Campaign.BatchFetchLimit,
		Retry: campaign.RetryPolicy{
			Base:        config.DurationOrDefault(cfg.Campaign.RetryBase, 0),
			MaxDelay:    config.DurationOrDefault(cfg.Campaign.RetryMaxDelay, 0),
			MaxAttempts: cfg.Campaign.RetryMax,
		},
	}, st, campaign.RegistryGateway{Reg: registry}, bus, log)
	campaigns := campaign.NewService(campaign.ServiceConfig{
		Retention: config.DurationOrDefault(cfg.Storage.Retention, 0),
	}, st, sched, disp, bus, log)

	pusher := opts.Pusher
	if pusher == nil {
		pusher = notifier.LogPusher{Log: log}
	}
	notif := notifier.New(notifier.Config{
		Enabled:       cfg.Notifier.Enabled,
		Workers:       cfg.Notifier.Workers,
		QueueSize:     cfg.Notifier.QueueSize,
		RatePerSec:    cfg.Notifier.RatePerSec,
		RetryMax:      cfg.Notifier.RetryMax,
		RetryBase:     config.DurationOrDefault(cfg.Notifier.RetryBase, 0),
		RetryMaxDelay: config.DurationOrDefault(cfg.Notifier.RetryMaxDelay, 0),
		DedupWindow:   config.DurationOrDefault(cfg.Notifier.DedupWindow, 0),
	}, pusher, bus, log)

	return &App{
		cfgMgr:    mgr,
		logSvc:    logSvc,
		log:       log,
		st:        st,
		bus:       bus,
		registry:  registry,
		monitor:   monitor,
		keepalive: keepalive,
		campaigns: campaigns,
		notifier:  notif,
	}, nil
}

// Start brings every component up. Consumers first (notifier), then
// sessions, then the producers that need ready sessions.
func (a *App) Start(ctx context.Context) error {
	if a.started {
		return nil
	}
	a.started = true
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log))

	a.notifier.Start(ctx)
	a.registry.Start(ctx)
	if err := a.campaigns.Start(ctx); err != nil {
		return err
	}
	a.sup.GoRestart("keepalive", a.keepalive.Run,
		supervisor.WithRestartBackoff(time.Second, time.Minute),
		supervisor.WithStopOnCleanExit(true))

	a.sup.GoRestart("config-watch", a.cfgMgr.Watch,
		supervisor.WithRestartBackoff(time.Second, time.Minute))
	a.cfgSub = a.cfgMgr.Subscribe(4)
	a.sup.Go0("config-reload", a.reloadLoop)

	a.log.Info("sendpilot started")
	return nil
}

// reloadLoop applies hot-reloadable settings from config file changes.
// Only the logging sinks change live; everything else needs a restart.
func (a *App) reloadLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-a.cfgSub:
			if !ok {
				return
			}
			a.logSvc.Apply(logx.Config{
				Level:   cfg.Logging.Level,
				Console: cfg.Logging.Console,
				File: logx.FileConfig{
					Enabled: cfg.Logging.File.Enabled,
					Path:    cfg.Logging.File.Path,
				},
			})
			a.log.Info("configuration reloaded", logx.String("level", cfg.Logging.Level))
		}
	}
}

// Stop tears the daemon down. Order matters: stop producing (dispatch,
// keepalive), stop health timers, destroy sessions, then drain the edges.
func (a *App) Stop(ctx context.Context) {
	if !a.started {
		return
	}
	a.started = false

	if err := a.campaigns.Stop(ctx); err != nil {
		a.log.Warn("campaign service stop", logx.Err(err))
	}
	if a.sup != nil {
		_ = a.sup.Stop(ctx) // keepalive, config watch
		a.sup = nil
	}
	if a.cfgSub != nil {
		a.cfgMgr.Unsubscribe(a.cfgSub)
		a.cfgSub = nil
	}
	a.monitor.Stop()
	a.registry.Stop(ctx)
	a.notifier.Stop(ctx)
	if err := a.st.Close(); err != nil {
		a.log.Warn("store close", logx.Err(err))
	}
	a.log.Info("sendpilot stopped")
	_ = a.logSvc.Close()
}

// ---- exposed API ----

func (a *App) StartSession(ctx context.Context, ownerID string) (string, error) {
	return a.registry.StartSession(ctx, ownerID)
}

func (a *App) DestroySession(ctx context.Context, id string) error {
	return a.registry.DestroySession(ctx, id)
}

func (a *App) GetSession(id string) (session.Session, error) {
	return a.registry.Get(id)
}

func (a *App) GetSessionByOwner(ownerID string) (session.Session, error) {
	return a.registry.GetByOwner(ownerID)
}

func (a *App) GetAllSessions() []session.Session {
	return a.registry.All()
}

func (a *App) StartCampaign(ctx context.Context, id string) (int, error) {
	return a.campaigns.StartCampaign(ctx, id)
}

func (a *App) PauseCampaign(ctx context.Context, id string) error {
	return a.campaigns.Pause(ctx, id)
}

func (a *App) ResumeCampaign(ctx context.Context, id string) error {
	return a.campaigns.Resume(ctx, id)
}

func (a *App) CancelCampaign(ctx context.Context, id string) error {
	return a.campaigns.Cancel(ctx, id)
}

func (a *App) CampaignStats(ctx context.Context, id string) (*campaign.Stats, error) {
	return a.campaigns.GetStats(ctx, id)
}

// Logger exposes the root logger for the embedding binary.
func (a *App) Logger() logx.Logger { return a.log }
