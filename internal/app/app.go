// Package app wires the notifyd daemon together.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"notifyd/internal/config"
	"notifyd/internal/dispatch"
	"notifyd/internal/eventbus"
	"notifyd/internal/metrics"
	"notifyd/internal/runtime/supervisor"
	"notifyd/internal/schedule"
	"notifyd/internal/storage"
	"notifyd/pkg/logx"
	"notifyd/pkg/mediator"
	"notifyd/pkg/notification"

	"github.com/coreos/go-systemd/v22/daemon"
	"golang.org/x/sync/errgroup"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	root logx.Logger
	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	store   storage.Store
	journal *journal

	med       *mediator.Mediator
	disp      *dispatch.Service
	runner    *schedule.Runner
	collector *metrics.Collector
	server    *metrics.Server

	// drain parents the dispatch workers. It survives cancellation of the
	// run context so Stop can still drain the queue.
	drain context.Context

	sdNotify func(state string) (bool, error)
}

type Option func(*App)

// WithSdNotify replaces the systemd notify call. Tests use it to observe
// READY/STOPPING.
func WithSdNotify(fn func(state string) (bool, error)) Option {
	return func(a *App) { a.sdNotify = fn }
}

// New loads the config at cfgPath and builds every component. Nothing runs
// until Start.
func New(cfgPath string, opts ...Option) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logSvc, root := logx.New(mapLogging(cfg))
	log := root.With(logx.String("comp", "app"))

	a := &App{
		cfgm:      cfgm,
		root:      root,
		log:       log,
		logs:      logSvc,
		bus:       eventbus.New(),
		collector: metrics.New(),
		sdNotify:  func(state string) (bool, error) { return daemon.SdNotify(false, state) },
	}
	for _, o := range opts {
		if o != nil {
			o(a)
		}
	}

	ok := false
	defer func() {
		if !ok {
			a.closeEarly()
		}
	}()

	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, root.With(logx.String("comp", "storage")))
		if err != nil {
			return nil, fmt.Errorf("open storage: %w", err)
		}
		a.store = st
		a.journal = newJournal(st, root)
		log.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	medOpts := []mediator.Option{
		mediator.WithLogger(root.With(logx.String("comp", "mediator"))),
		mediator.WithOrder(ByLevelThenPriority),
		mediator.WithPanicRecovery(true),
		mediator.WithObserver(a.collector),
	}
	if a.journal != nil {
		medOpts = append(medOpts, mediator.WithObserver(a.journal))
	}
	a.med = mediator.New(medOpts...)
	if err := a.registerHandlers(cfg); err != nil {
		return nil, fmt.Errorf("register handlers: %w", err)
	}

	dcfg, err := mapDispatchConfig(cfg)
	if err != nil {
		return nil, err
	}
	a.disp = dispatch.New(dcfg, a.med, root, a.bus, a.store)
	a.collector.MustRegisterGaugeFunc("dispatch_queue_depth", "Notifications waiting in the dispatch queue.",
		func() float64 { return float64(a.disp.Depth()) })

	loc, err := schedule.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("timezone: %w", err)
	}
	a.runner = schedule.NewRunner(scheduleSink{a}, root, schedule.WithLocation(loc))
	if err := a.runner.Apply(mapSchedules(cfg)); err != nil {
		return nil, err
	}

	a.server = metrics.NewServer(a.collector, root)
	if a.store != nil {
		a.server.Handle("/deliveries", deliveriesHandler(a.store))
	}

	ok = true
	return a, nil
}

func (a *App) closeEarly() {
	if a.store != nil {
		_ = a.store.Close()
	}
	_ = a.logs.Close()
}

// scheduleSink enqueues fired envelopes, publishing directly when the
// dispatch queue is disabled.
type scheduleSink struct{ a *App }

func (s scheduleSink) Enqueue(ctx context.Context, n notification.Notification) error {
	if s.a.disp.Enabled() {
		return s.a.disp.Enqueue(ctx, n)
	}
	return s.a.med.Publish(ctx, n)
}

func (a *App) Mediator() *mediator.Mediator   { return a.med }
func (a *App) Dispatch() *dispatch.Service    { return a.disp }
func (a *App) Schedules() *schedule.Runner    { return a.runner }
func (a *App) Bus() eventbus.Bus              { return a.bus }
func (a *App) Store() storage.Store           { return a.store }
func (a *App) Metrics() *metrics.Collector    { return a.collector }
func (a *App) MetricsServer() *metrics.Server { return a.server }
func (a *App) Config() *config.Config         { return a.cfgm.Get() }

// Done is closed when the app context is canceled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error recorded by the app supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) validate(_ context.Context, cfg *config.Config) error {
	if _, _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	if _, err := mapDispatchConfig(cfg); err != nil {
		return err
	}
	if _, err := mapMetricsConfig(cfg); err != nil {
		return err
	}
	return a.runner.Validate(mapSchedules(cfg))
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	run := a.sup.Context()
	a.drain = context.WithoutCancel(ctx)

	a.cfgm.SetLogger(a.root.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(a.validate)

	if a.journal != nil {
		a.sup.Go("journal", a.journal.run)
	}
	a.disp.Start(a.drain)
	a.runner.Start(run)

	mcfg, err := mapMetricsConfig(a.cfgm.Get())
	if err != nil {
		return err
	}
	a.server.Reconfigure(run, mcfg)

	events, unsub := a.bus.Subscribe(256)
	a.sup.Go("eventbus.metrics", func(c context.Context) error {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return nil
			case e, ok := <-events:
				if !ok {
					return nil
				}
				a.collector.CountEvent(e.Type)
				a.log.Trace("event", logx.String("type", e.Type), logx.Time("time", e.Time))
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
				next = latest(sub, next)
				a.applyConfig(c, last, next)
				last = next
			}
		}
	})
	a.sup.Go("config.watch", a.cfgm.Watch)

	if sent, err := a.sdNotify(daemon.SdNotifyReady); err != nil {
		a.log.Warn("systemd notify failed", logx.Err(err))
	} else if sent {
		a.log.Debug("systemd notified", logx.String("state", "ready"))
	}
	a.log.Info("app started",
		logx.Int("handlers", len(a.med.Entries())),
		logx.Int("schedules", len(a.runner.Entries())),
		logx.Bool("dispatch", a.disp.Enabled()),
		logx.Bool("storage", a.store != nil),
	)
	return nil
}

// latest drains sub and returns the newest config seen.
func latest(sub <-chan *config.Config, cur *config.Config) *config.Config {
	for {
		select {
		case newer, ok := <-sub:
			if !ok {
				return cur
			}
			if newer != nil {
				cur = newer
			}
		default:
			return cur
		}
	}
}

func (a *App) applyConfig(ctx context.Context, prev, next *config.Config) {
	sections, attrs, handlersChanged := config.SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	changed := map[string]bool{}
	for _, s := range sections {
		changed[s] = true
	}

	if changed["logging"] {
		a.logs.Apply(mapLogging(next))
	}
	if changed["storage"] {
		a.log.Warn("storage config changed; restart required for changes to take effect")
	}
	if changed["handlers"] {
		a.applyOrdering(next)
		a.log.Debug("handler blocks changed; only priority and level apply without restart", logx.Any("handlers", handlersChanged))
	}
	if changed["dispatch"] {
		if dcfg, err := mapDispatchConfig(next); err != nil {
			a.log.Warn("invalid dispatch config; keeping previous", logx.Err(err))
		} else {
			wasEnabled := a.disp.Enabled()
			a.disp.Apply(dcfg)
			switch {
			case wasEnabled && !dcfg.Enabled:
				stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				a.disp.Stop(stopCtx)
				cancel()
				a.log.Info("dispatch disabled via config")
			case !wasEnabled && dcfg.Enabled:
				a.disp.Start(a.drain)
				a.log.Info("dispatch enabled via config")
			}
		}
	}
	if changed["schedules"] {
		if next.Timezone != prev.Timezone {
			a.log.Warn("timezone changed; restart required for changes to take effect")
		}
		if err := a.runner.Apply(mapSchedules(next)); err != nil {
			a.log.Warn("invalid schedules; keeping previous", logx.Err(err))
		}
	}
	if changed["metrics"] {
		if mcfg, err := mapMetricsConfig(next); err != nil {
			a.log.Warn("invalid metrics config; keeping previous", logx.Err(err))
		} else {
			a.server.Reconfigure(ctx, mcfg)
		}
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

// Stop shuts the daemon down within ctx: intake first, then the dispatch
// queue drains, then background loops and storage.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	if _, err := a.sdNotify(daemon.SdNotifyStopping); err != nil {
		a.log.Debug("systemd notify failed", logx.Err(err))
	}

	var errs []error
	// Intake and telemetry stop independently.
	var g errgroup.Group
	g.Go(func() error {
		return a.step(ctx, "schedules", 2*time.Second, func(c context.Context) error { a.runner.Stop(c); return nil })
	})
	g.Go(func() error {
		return a.step(ctx, "metrics", time.Second, func(c context.Context) error { a.server.Stop(c); return nil })
	})
	errs = append(errs, g.Wait())

	errs = append(errs, a.step(ctx, "dispatch", 3*time.Second, func(c context.Context) error { a.disp.Stop(c); return nil }))

	a.sup.Cancel()
	errs = append(errs, a.step(ctx, "supervisor", 2*time.Second, a.sup.Wait))
	errs = append(errs, a.step(ctx, "storage", time.Second, func(context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	}))

	a.log.Info("stopped")
	_ = a.logs.Close()
	return errors.Join(errs...)
}

// step runs fn bounded by max and by ctx's own deadline. A step that ignores
// its context is abandoned and reported.
func (a *App) step(ctx context.Context, name string, max time.Duration, fn func(context.Context) error) error {
	start := time.Now()
	stepCtx, cancel := context.WithTimeout(ctx, max)
	defer cancel()

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
		if err != nil && !errors.Is(err, context.Canceled) {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			return fmt.Errorf("%s: %w", name, err)
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		return nil
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		return nil
	}
}
