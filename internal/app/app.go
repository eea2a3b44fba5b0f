package app

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"remindd/internal/api"
	"remindd/internal/config"
	"remindd/internal/notifier"
	"remindd/internal/reminder"
	"remindd/internal/runtime/supervisor"
	"remindd/internal/storage"
	logx "remindd/pkg/logx"
)

// App wires the store, notifier, scheduler and HTTP API together and owns
// their lifecycle.
type App struct {
	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service

	store storage.Store
	notif *notifier.Service
	sched *reminder.Scheduler
	reg   *prometheus.Registry
	http  *api.Server

	schedRunning atomic.Bool
	closed       atomic.Bool
}

// NewApp loads .env and the config file and builds every component. Nothing
// runs until Start.
func NewApp(cfgPath string) (*App, error) {
	if err := config.LoadDotEnv(); err != nil {
		return nil, err
	}
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLoggingConfig(cfg))
	log = log.With(logx.String("comp", "app"))

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	log.Info("storage opened", logx.String("driver", sc.Driver))

	a := &App{
		cfgm:  cfgm,
		log:   log,
		logs:  logSvc,
		store: store,
		reg:   prometheus.NewRegistry(),
	}
	if err := a.build(cfg); err != nil {
		_ = store.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(cfg *config.Config) error {
	a.reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	ncfg, err := mapNotifierConfig(cfg)
	if err != nil {
		return err
	}
	a.notif, err = notifier.Build(ncfg, a.log)
	if err != nil {
		return fmt.Errorf("notifier: %w", err)
	}
	a.log.Info("notifier ready", logx.String("driver", a.notif.Driver()), logx.Bool("enabled", a.notif.Enabled()))

	rc, err := mapReminderConfig(cfg)
	if err != nil {
		return err
	}
	a.sched, err = reminder.New(rc, a.store, a.notif, a.log, reminder.WithMetrics(reminder.NewMetrics(a.reg)))
	if err != nil {
		return err
	}

	hc, err := mapHTTPConfig(cfg)
	if err != nil {
		return err
	}
	if hc.Enabled {
		router := api.NewRouter(api.Deps{
			Scheduler:    a.sched,
			Notifier:     a.notif,
			Location:     rc.Location,
			Gatherer:     a.reg,
			Health:       a.Healthy,
			Tasks:        a.Tasks,
			AllowOrigins: hc.AllowOrigins,
			Pprof:        hc.Pprof,
			Log:          a.log,
		})
		a.http = api.NewServer(hc.Addr, router, hc.ShutdownTimeout, a.log)
	}
	return nil
}

func (a *App) Scheduler() *reminder.Scheduler { return a.sched }

func (a *App) Config() *config.Config { return a.cfgm.Get() }

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Tasks reports the supervised goroutines; nil before Start.
func (a *App) Tasks() []supervisor.TaskState {
	if a.sup == nil {
		return nil
	}
	return a.sup.Tasks()
}

// Healthy returns nil while every supervised task is fine.
func (a *App) Healthy() error {
	if err := a.Err(); err != nil {
		return err
	}
	if a.sup != nil && a.sup.Context().Err() != nil {
		return fmt.Errorf("app stopping")
	}
	return nil
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	// transactional config reload: validate before commit/publish
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return validateConfig(cfg)
	})

	if a.cfgm.Get().Reminders.IsEnabled() {
		a.sched.Start(a.sup.Context())
		a.schedRunning.Store(true)
	} else {
		a.log.Info("reminder scheduler disabled by config")
	}

	if a.http != nil {
		// A failed listen (port still held by the previous process) is retried
		// a few times before the app gives up.
		a.sup.GoRestart("http", a.http.Run,
			supervisor.WithRestartBackoff(time.Second, 10*time.Second),
			supervisor.WithMaxRestarts(5))
	}

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config in the channel.
				for drained := false; !drained; {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						drained = true
					}
				}
				a.applyConfig(c, lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	a.sup.GoRestart("config.watch", a.cfgm.Watch)
	a.sup.Go0("systemd.watchdog", a.watchdogLoop)

	a.notifySystemd(daemon.SdNotifyReady)
	a.log.Info("app started", logx.String("config", a.cfgm.Path()))
	return nil
}

func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	if rs := config.RestartRequired(sections); len(rs) > 0 {
		a.log.Warn("config changed; restart required for changes to take effect", logx.String("sections", strings.Join(rs, ",")))
	}

	a.logs.Apply(mapLoggingConfig(newCfg))

	if ncfg, err := mapNotifierConfig(newCfg); err != nil {
		a.log.Warn("invalid notifier config; keeping previous", logx.Err(err))
	} else {
		if oldCfg.Notifier.Driver != newCfg.Notifier.Driver || oldCfg.Notifier.MirrorTelegram != newCfg.Notifier.MirrorTelegram {
			a.log.Warn("notifier driver changed; restart required for changes to take effect")
		}
		a.notif.Apply(ncfg)
	}

	if oldCfg.Reminders.Tick != newCfg.Reminders.Tick ||
		oldCfg.Reminders.Timezone != newCfg.Reminders.Timezone ||
		oldCfg.Reminders.StoreKey != newCfg.Reminders.StoreKey ||
		oldCfg.Reminders.DispatchTimeout != newCfg.Reminders.DispatchTimeout {
		a.log.Warn("reminders schedule changed; restart required for changes to take effect")
	}
	switch wasOn, on := a.schedRunning.Load(), newCfg.Reminders.IsEnabled(); {
	case wasOn && !on:
		a.log.Info("reminder scheduler disabled via config")
		a.sched.Stop()
		a.schedRunning.Store(false)
	case !wasOn && on:
		a.log.Info("reminder scheduler enabled via config")
		a.sched.Start(a.sup.Context())
		a.schedRunning.Store(true)
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return a.Close()
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.notifySystemd(daemon.SdNotifyStopping)

	// First, cancel the app run context so background loops start unwinding immediately.
	a.sup.Cancel()

	// Supervised tasks (http, config watch/reload) first so no new reminders
	// arrive, then the tick loop, which lets in-flight dispatches finish.
	a.step(ctx, "supervisor", 7*time.Second, a.sup.Stop)
	a.step(ctx, "scheduler", 35*time.Second, func(c context.Context) error {
		a.sched.Stop()
		a.schedRunning.Store(false)
		return nil
	})

	a.log.Info("stopped")
	return a.Close()
}

// Close releases the store and log sinks. It is used directly by one-shot
// CLI commands that never call Start.
func (a *App) Close() error {
	if !a.closed.CompareAndSwap(false, true) {
		return nil
	}
	var err error
	if a.store != nil {
		err = a.store.Close()
	}
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return err
}

// step runs one shutdown step with an upper bound so one component can't
// stall the whole stop.
func (a *App) step(ctx context.Context, name string, max time.Duration, fn func(context.Context) error) {
	start := time.Now()
	a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", max))

	stepCtx := ctx
	if max > 0 {
		// respect the caller's deadline; never extend it
		if dl, ok := ctx.Deadline(); ok {
			if rem := time.Until(dl); rem < max {
				max = rem
			}
		}
		var cancel context.CancelFunc
		stepCtx, cancel = context.WithTimeout(ctx, max)
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
		took := time.Since(start)
		if took >= 500*time.Millisecond {
			a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
		} else {
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
		}
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)",
			logx.String("name", name), logx.Err(stepCtx.Err()), logx.Duration("elapsed", time.Since(start)))
		go func() {
			err := <-done
			took := time.Since(start)
			if err != nil {
				a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err), logx.Duration("took", took))
			} else {
				a.log.Info("stop step finished after deadline", logx.String("name", name), logx.Duration("took", took))
			}
		}()
	}
}
