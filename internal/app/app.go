package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"reminderd/internal/admin"
	"reminderd/internal/alert"
	"reminderd/internal/config"
	"reminderd/internal/directory"
	"reminderd/internal/eventbus"
	"reminderd/internal/mailer"
	"reminderd/internal/metrics"
	"reminderd/internal/reminder"
	rtsup "reminderd/internal/runtime/supervisor"
	"reminderd/internal/scheduler"
	"reminderd/internal/storage"
	"reminderd/internal/transport"
	"reminderd/internal/transport/telegram"
	logx "reminderd/pkg/logx"
)

const (
	jobTick  = "tick"
	jobSweep = "sweep"

	sweepTimeout = time.Minute
)

type App struct {
	version string
	started time.Time

	cfgm *config.Manager
	sup  *rtsup.Supervisor
	sd   *sdNotifier

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store
	chat  transport.Sender

	dir     *directory.Client
	mail    *mailer.Mailer
	metrics *metrics.Metrics
	driver  *reminder.Driver
	sweeper *reminder.Sweeper
	sched   *scheduler.Service
	alerts  *alert.Service
	admin   *admin.Service

	mu           sync.Mutex
	schedEnabled bool
}

// New loads cfgPath and builds every component. Nothing runs until Start.
func New(cfgPath, version string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	bootLog := logx.NewConsole("INFO")

	var chat transport.Sender
	if strings.TrimSpace(cfg.Telegram.Token) != "" {
		timeout, err := config.ParseDurationOrDefault("telegram.timeout", cfg.Telegram.Timeout, 15*time.Second)
		if err != nil {
			return nil, err
		}
		tg, err := telegram.New(telegram.Config{Token: cfg.Telegram.Token, Timeout: timeout},
			bootLog.With(logx.String("comp", "telegram")))
		if err != nil {
			return nil, fmt.Errorf("telegram: %w", err)
		}
		chat = tg
	}

	logSvc, log := logx.New(mapLogConfig(cfg), chat)
	appLog := log.With(logx.String("comp", "app"))

	bus := eventbus.New()
	m := metrics.New()

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(sc, log)
	if err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}
	closeOnErr := func(err error) (*App, error) {
		_ = store.Close()
		_ = logSvc.Close()
		return nil, err
	}

	dir, err := directory.New(mapDirectoryConfig(cfg), log)
	if err != nil {
		return closeOnErr(fmt.Errorf("directory: %w", err))
	}
	mail, err := mailer.New(mapMailerConfig(cfg), log)
	if err != nil {
		return closeOnErr(err)
	}

	driver, err := reminder.NewDriver(reminder.Options{
		Sessions:      dir,
		Registrations: dir,
		Emails:        dir,
		Ledger:        store,
		Deliverer:     mail,
		Settings:      mapSettings(cfg),
		Log:           log,
		Bus:           bus,
		Observer:      m,
		Auditor:       store,
	})
	if err != nil {
		return closeOnErr(err)
	}
	sweeper := reminder.NewSweeper(store, cfg.Reminder.Retention(), log, bus, m)

	acfg, err := mapAlertConfig(cfg)
	if err != nil {
		return closeOnErr(err)
	}
	admCfg, err := mapAdminConfig(cfg)
	if err != nil {
		return closeOnErr(err)
	}

	a := &App{
		version: version,
		cfgm:    cfgm,
		sd:      newSDNotifier(log),
		log:     appLog,
		logs:    logSvc,
		bus:     bus,
		store:   store,
		chat:    chat,
		dir:     dir,
		mail:    mail,
		metrics: m,
		driver:  driver,
		sweeper: sweeper,
		sched:   scheduler.New(cfg.Scheduler.Location(), log),
		alerts:  alert.New(acfg, chat, log, bus),
	}
	if err := a.registerJobs(cfg); err != nil {
		return closeOnErr(err)
	}
	a.admin = admin.New(admCfg, admin.Deps{
		Engine:   driver,
		Stats:    store,
		Mailer:   mail,
		Metrics:  m.Handler(),
		Record:   m,
		Audit:    store,
		CheckNow: func() bool { return a.sched.RunNow(jobTick) },
		Health:   a.health,
		Config:   func() any { return config.Redacted(a.cfgm.Get()) },
		Version:  version,
	}, log)

	appLog.Info("app initialized",
		logx.String("version", version),
		logx.String("storage", orMemory(sc.Driver)),
		logx.String("tz", cfg.Scheduler.Location().String()),
		logx.Bool("alerts", acfg.Enabled),
		logx.Bool("admin", admCfg.Enabled),
	)
	return a, nil
}

func orMemory(driver string) string {
	if driver == "" {
		return "memory"
	}
	return driver
}

func (a *App) registerJobs(cfg *config.Config) error {
	err := a.sched.Add(jobTick, cfg.Scheduler.TickSpec(), 0, func(ctx context.Context) error {
		a.driver.Tick(ctx)
		return nil
	})
	if err != nil {
		return fmt.Errorf("scheduler.tick: %w", err)
	}
	err = a.sched.Add(jobSweep, cfg.Scheduler.SweepSpec(), sweepTimeout, func(ctx context.Context) error {
		_, err := a.sweeper.Sweep(ctx, time.Now())
		return err
	})
	if err != nil {
		return fmt.Errorf("scheduler.sweep: %w", err)
	}
	return nil
}

// Done is closed when the app supervisor context is canceled.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.started = time.Now()
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	c := a.sup.Context()

	a.cfgm.SetLogger(a.log)
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if _, err := mapAlertConfig(cfg); err != nil {
			return err
		}
		_, err := mapAdminConfig(cfg)
		return err
	})
	a.cfgm.OnReject(func(err error) {
		a.bus.Publish(eventbus.Event{Type: eventbus.TypeConfigReloadError, Time: time.Now(), Data: err.Error()})
	})

	if a.alerts.Enabled() {
		a.alerts.Start(c)
	}

	cfg := a.cfgm.Get()
	if cfg.Scheduler.IsEnabled() {
		a.sched.Start(c)
		a.setSchedEnabled(true)
		if cfg.Scheduler.RunOnStart {
			a.sched.RunNow(jobTick)
		}
	} else {
		a.log.Warn("scheduler disabled; reminders only go out via manual triggers")
	}

	if a.admin.Enabled() {
		a.admin.Start(c)
	}

	a.sup.Go("events.log", func(c context.Context) error {
		events, unsub := a.bus.Subscribe(128)
		defer unsub()
		for {
			select {
			case <-c.Done():
				return nil
			case e, ok := <-events:
				if !ok {
					return nil
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(sub)
		last := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return nil
			case next, ok := <-sub:
				if !ok {
					return nil
				}
				a.applyConfig(c, last, next)
				last = next
			}
		}
	})
	a.sup.Go("config.watch", a.cfgm.Watch)

	if a.sd.WatchdogEnabled() {
		a.sup.Go("systemd.watchdog", a.sd.runWatchdog)
	}
	a.sd.Ready()

	a.log.Info("app started")
	return nil
}

func (a *App) setSchedEnabled(v bool) {
	a.mu.Lock()
	a.schedEnabled = v
	a.mu.Unlock()
}

func (a *App) schedulerEnabled() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.schedEnabled
}

// applyConfig pushes the reloadable parts of next into running components.
func (a *App) applyConfig(ctx context.Context, prev, next *config.Config) {
	sections, attrs := config.SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	a.sd.Reloading()
	defer a.sd.Ready()

	if restart := config.RestartRequired(sections); len(restart) > 0 {
		a.log.Warn("config sections changed that need a restart to take effect", logx.Strings("sections", restart))
	}

	a.logs.Apply(mapLogConfig(next))

	var errs []error
	if err := a.driver.Apply(mapSettings(next)); err != nil {
		errs = append(errs, fmt.Errorf("reminder: %w", err))
	}
	a.store.SetMaxRetries(next.Reminder.EffectiveMaxRetries())
	a.sweeper.SetHorizon(next.Reminder.Retention())
	a.dir.SetWindows(searchWindows(next))

	a.sched.SetLocation(next.Scheduler.Location())
	if err := a.registerJobs(next); err != nil {
		errs = append(errs, err)
	}
	wasOn, on := a.schedulerEnabled(), next.Scheduler.IsEnabled()
	switch {
	case wasOn && !on:
		a.log.Info("scheduler disabled via config")
		stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		_ = a.sched.Stop(stopCtx)
		cancel()
		a.setSchedEnabled(false)
	case !wasOn && on:
		a.log.Info("scheduler enabled via config")
		a.sched.Start(ctx)
		a.setSchedEnabled(true)
	}

	if acfg, err := mapAlertConfig(next); err != nil {
		errs = append(errs, err)
	} else {
		wasOn := a.alerts.Enabled()
		a.alerts.Apply(acfg)
		switch {
		case wasOn && !acfg.Enabled:
			stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
			a.alerts.Stop(stopCtx)
			cancel()
		case !wasOn && acfg.Enabled:
			a.alerts.Start(ctx)
		}
	}

	if err := errors.Join(errs...); err != nil {
		a.log.Error("config reload partially applied", logx.Err(err))
		a.bus.Publish(eventbus.Event{Type: eventbus.TypeConfigReloadError, Time: time.Now(), Data: err.Error()})
		return
	}
	a.bus.Publish(eventbus.Event{Type: eventbus.TypeConfigReloaded, Time: time.Now(), Data: sections})
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) health() map[string]any {
	out := map[string]any{
		"uptime":    time.Since(a.started).Round(time.Second).String(),
		"scheduler": map[string]any{"enabled": a.schedulerEnabled(), "tz": a.sched.Location().String(), "jobs": a.sched.Snapshot()},
	}
	if a.sup != nil {
		out["supervisor"] = a.sup.Snapshot()
	}
	if a.alerts.Enabled() {
		out["alerts"] = a.alerts.History()
	}
	ahead, back := a.dir.Windows()
	out["directory"] = map[string]string{"lookahead": ahead.String(), "lookback": back.String()}
	return out
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	if reason == "" {
		reason = StopUnknown
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sd.Stopping()
	a.sup.Cancel()

	// step bounds one shutdown action so a stuck component cannot stall the rest.
	step := func(name string, limit time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx := ctx
		if dl, ok := ctx.Deadline(); !ok || time.Until(dl) > limit {
			var cancel context.CancelFunc
			stepCtx, cancel = context.WithTimeout(ctx, limit)
			defer cancel()
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Duration("elapsed", time.Since(start)),
			)
		}
	}

	step("admin", 2*time.Second, func(c context.Context) error { a.admin.Stop(c); return nil })
	step("scheduler", 5*time.Second, a.sched.Stop)
	step("alerts", 2*time.Second, func(c context.Context) error { a.alerts.Stop(c); return nil })
	step("storage", time.Second, func(context.Context) error { return a.store.Close() })
	step("directory", time.Second, func(context.Context) error { a.dir.Close(); return nil })
	step("supervisor", 2*time.Second, a.sup.Wait)

	a.log.Info("stopped")
	return a.logs.Close()
}
