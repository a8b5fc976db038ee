package app

import (
	"context"
	"fmt"
	"time"

	"vigil/internal/config"
	"vigil/internal/escalation"
	"vigil/internal/eventbus"
	"vigil/internal/health"
	"vigil/internal/ledger"
	"vigil/internal/metrics"
	"vigil/internal/notifier"
	"vigil/internal/observability/inspect"
	"vigil/internal/runtime/supervisor"
	"vigil/internal/task/scheduler"
	logx "vigil/pkg/logx"
	"vigil/pkg/systemd"
)

// App wires the scheduler, health monitor and escalation machine together
// with their ledger, notification and config plumbing.
type App struct {
	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	metrics *metrics.Metrics
	store   ledger.Store
	rec     *ledger.Recorder

	// ownStore is set when build opened the store; injected stores stay
	// open for the caller.
	ownStore bool

	notif   *notifier.Service
	machine *escalation.Machine
	sched   *scheduler.Service
	monitor *health.Monitor
	inspect *inspect.Server

	sd              systemd.Notifier
	statusPath      string
	statusInterval  time.Duration
	monitorInterval time.Duration

	// injected by options
	sampler  health.Sampler
	channels []notifier.Channel
}

type Option func(*App)

// WithSampler replaces the host sampler (tests, containers).
func WithSampler(s health.Sampler) Option { return func(a *App) { a.sampler = s } }

// WithStore uses st instead of opening the configured ledger. The caller
// keeps ownership: the app never closes it.
func WithStore(st ledger.Store) Option { return func(a *App) { a.store = st } }

// WithSystemd replaces the sd_notify sender.
func WithSystemd(n systemd.Notifier) Option { return func(a *App) { a.sd = n } }

// WithChannels adds notification channels next to the configured ones.
func WithChannels(chs ...notifier.Channel) Option {
	return func(a *App) { a.channels = append(a.channels, chs...) }
}

// New loads the config at cfgPath and builds every component. Nothing runs
// until Start.
func New(cfgPath string, opts ...Option) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	a := &App{cfgm: cfgm}
	for _, o := range opts {
		o(a)
	}

	logSvc, log := logx.NewService(mapLogConfig(cfg))
	a.logs = logSvc
	a.log = log.With(logx.String("comp", "app"))
	a.bus = eventbus.New()

	if err := a.build(cfg, log); err != nil {
		_ = a.closeStore()
		_ = logSvc.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(cfg *config.Config, log logx.Logger) error {
	comp := func(name string) logx.Logger { return log.With(logx.String("comp", name)) }

	mt, err := metrics.New(metrics.Config{Enabled: cfg.Metrics.Enabled})
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}
	a.metrics = mt

	if a.store == nil {
		lc, err := mapLedgerConfig(cfg)
		if err != nil {
			return err
		}
		st, err := ledger.Open(lc, comp("ledger"))
		if err != nil {
			return fmt.Errorf("ledger: %w", err)
		}
		a.store, a.ownStore = st, true
		a.log.Info("ledger opened", logx.String("driver", lc.Driver), logx.String("path", lc.Path))
	}
	a.rec = ledger.NewRecorder(a.store, comp("ledger"))

	ncfg, err := mapNotifierConfig(cfg)
	if err != nil {
		return err
	}
	chs, err := buildChannels(cfg, comp("notifier"))
	if err != nil {
		return err
	}
	chs = append(chs, a.channels...)
	a.notif = notifier.New(ncfg, comp("notifier"), a.bus, chs...)

	ecfg, err := mapEscalationConfig(cfg)
	if err != nil {
		return err
	}
	a.machine = escalation.New(ecfg, comp("escalation"),
		escalation.WithNotifier(a.notif),
		escalation.WithBus(a.bus),
		escalation.WithMetrics(mt),
	)

	mcfg, err := mapMonitorConfig(cfg)
	if err != nil {
		return err
	}
	a.monitorInterval = mcfg.Interval
	sampler := a.sampler
	if sampler == nil {
		sampler = health.NewHostSampler(cfg.Monitor.DiskPath)
	}

	scfg, err := mapSchedulerConfig(cfg)
	if err != nil {
		return err
	}
	// Successful task runs count as liveness.
	a.sched = scheduler.New(scfg, comp("scheduler"),
		scheduler.WithBus(a.bus),
		scheduler.WithErrorSink(a.machine),
		scheduler.WithActivity(func() { a.monitor.NotifyActivity() }),
		scheduler.WithMetrics(mt),
	)
	a.monitor = health.NewMonitor(mcfg, sampler, comp("health"),
		health.WithTasks(a.sched),
		health.WithEvaluator(a.machine),
		health.WithBus(a.bus),
		health.WithMetrics(mt),
		health.WithHeartbeat(a.sd.Watchdog),
	)

	if a.statusPath, a.statusInterval, err = mapStatus(cfg); err != nil {
		return err
	}
	a.inspect = inspect.New(mapInspectConfig(cfg), statusSource{a}, mt.Reader(), comp("inspect"))
	return a.registerTasks(cfg)
}

func (a *App) closeStore() error {
	if !a.ownStore || a.store == nil {
		return nil
	}
	return a.store.Close()
}

func (a *App) Scheduler() *scheduler.Service { return a.sched }

func (a *App) Monitor() *health.Monitor { return a.monitor }

func (a *App) Escalation() *escalation.Machine { return a.machine }

func (a *App) Notifier() *notifier.Service { return a.notif }

func (a *App) Store() ledger.Store { return a.store }

func (a *App) Metrics() *metrics.Metrics { return a.metrics }

func (a *App) Logger() logx.Logger { return a.log }

// Done is closed when the app supervisor context is canceled (fatal error or Stop).
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
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	run := a.sup.Context()

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		_, err := mapSchedulerConfig(cfg)
		return err
	})

	events, unsub := a.bus.Subscribe(256)
	a.sup.Go("ledger.events", func(c context.Context) error {
		defer unsub()
		return a.recordEvents(c, events)
	})

	if err := a.inspect.Start(run); err != nil {
		return err
	}
	a.sched.Start(run)
	a.monitor.Start(run)

	sub := a.cfgm.Subscribe(4)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(sub)
		return a.applyReloads(c, sub)
	})
	a.sup.Go("config.watch", a.cfgm.Watch)

	a.machine.UpdateState("running")
	a.rec.Record(ledger.ComponentCognitive, "vigil started", map[string]any{
		"tasks":    a.sched.Len(),
		"channels": a.notif.Channels(),
	})
	if err := checkWatchdog(a.monitorInterval, systemd.WatchdogInterval()); err != nil {
		a.log.Warn("systemd watchdog may fire", logx.Err(err))
	}
	if ok, err := a.sd.Ready(); err != nil {
		a.log.Warn("sd_notify ready failed", logx.Err(err))
	} else if ok {
		a.log.Debug("sd_notify ready sent")
	}
	a.log.Info("app started",
		logx.Int("tasks", a.sched.Len()),
		logx.Any("channels", a.notif.Channels()),
		logx.String("status", a.statusPath),
		logx.String("config", a.cfgm.Path()),
	)
	return nil
}

// checkWatchdog reports a monitor interval too slow for WatchdogSec. The
// monitor pings once per good cycle and systemd advises pinging at half the
// watchdog period. wd == 0 means no watchdog.
func checkWatchdog(interval, wd time.Duration) error {
	if wd <= 0 || interval <= 0 {
		return nil
	}
	if interval > wd/2 {
		return fmt.Errorf("monitor.interval %s exceeds half of WatchdogSec %s", interval, wd)
	}
	return nil
}

// applyReloads applies live-reloadable settings (logging). Everything else
// needs a restart.
func (a *App) applyReloads(ctx context.Context, sub <-chan *config.Config) error {
	last := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return nil
		case cfg, ok := <-sub:
			if !ok {
				return nil
			}
			a.logs.Apply(mapLogConfig(cfg))
			if restartNeeded(last, cfg) {
				a.log.Warn("config changed outside logging; restart required for it to take effect")
			}
			last = cfg
		}
	}
}

func restartNeeded(prev, next *config.Config) bool {
	if prev == nil || next == nil {
		return false
	}
	a, b := *prev, *next
	a.Logging, b.Logging = config.LoggingConfig{}, config.LoggingConfig{}
	return config.Hash(&a) != config.Hash(&b)
}

func (a *App) Stop(ctx context.Context) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping")
	_, _ = a.sd.Stopping()
	a.machine.UpdateState("stopping")
	a.sup.Cancel()

	// step bounds a shutdown step so one component can't stall the rest.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		sctx, cancel := context.WithTimeout(ctx, max)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(sctx)
		}()
		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-sctx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Duration("elapsed", time.Since(start)),
			)
		}
	}

	step("inspect", 2*time.Second, a.inspect.Stop)
	step("monitor", 2*time.Second, a.monitor.Stop)
	step("scheduler", 3*time.Second, a.sched.Stop)
	step("status", time.Second, a.writeStatus)
	step("notifications", 5*time.Second, a.machine.Flush)
	step("supervisor", 2*time.Second, a.sup.Wait)
	a.rec.Record(ledger.ComponentCognitive, "vigil stopped", nil)
	step("ledger", time.Second, func(context.Context) error { return a.closeStore() })
	step("metrics", time.Second, a.metrics.Shutdown)

	c := a.sup.Counters()
	a.log.Info("stopped",
		logx.Uint64("goroutines_started", c.Started),
		logx.Uint64("restarts", c.Restarts),
	)
	return a.logs.Close()
}
