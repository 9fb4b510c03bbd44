// Package app wires configuration, logging, storage, jobs, and the engine
// into one runnable unit.
package app

import (
	"context"
	"time"

	"paperbase/internal/config"
	"paperbase/internal/eventbus"
	"paperbase/internal/httpapi"
	"paperbase/internal/jobs"
	"paperbase/internal/metrics"
	"paperbase/internal/runtime/supervisor"
	"paperbase/internal/storage"
	"paperbase/internal/task/engine"
	"paperbase/internal/task/scheduler"
	logx "paperbase/pkg/logx"
)

type App struct {
	cfgPath string
	cfgm    *config.Manager

	log     logx.Logger
	logs    *logx.Service
	bus     eventbus.Bus
	store   storage.Store
	metrics *metrics.Set

	sched  *scheduler.Service
	engine *engine.Service
	api    *httpapi.Service

	schedulerEnabled bool

	sup    *supervisor.Supervisor
	handle *engine.Handle
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLoggingConfig(cfg))
	log = log.With(logx.String("comp", "app"))
	cfgm.SetLogger(log.With(logx.String("comp", "config")))
	cfgm.SetValidator(func(_ context.Context, c *config.Config) error {
		return c.Validate()
	})

	bus := eventbus.New()
	m := metrics.New()

	// Storage (optional)
	var store storage.Store
	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	st, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}
	if st != nil {
		store = st
		log.Info("run history storage enabled", logx.String("driver", sc.Driver))
	}

	checkInterval, err := config.ParseDurationOrDefault(
		"scheduler.check_interval", cfg.Scheduler.CheckInterval, scheduler.DefaultCheckInterval)
	if err != nil {
		return nil, err
	}
	sched := scheduler.New(scheduler.Config{
		Enabled:       cfg.Scheduler.SchedulerEnabled(),
		CheckInterval: checkInterval,
	}, log.With(logx.String("comp", "scheduler")), bus, store, m)

	built, err := jobs.Build(cfg.Jobs, jobs.Deps{
		Log:   log.With(logx.String("comp", "jobs")),
		Store: store,
	})
	if err != nil {
		return nil, err
	}
	for _, t := range built {
		if err := sched.AddTask(t); err != nil {
			return nil, err
		}
	}

	shutdownTimeout, err := config.ParseDurationOrDefault(
		"engine.shutdown_timeout", cfg.Engine.ShutdownTimeout, engine.DefaultShutdownTimeout)
	if err != nil {
		return nil, err
	}
	eng := engine.New(engine.Config{ShutdownTimeout: shutdownTimeout},
		sched, log.With(logx.String("comp", "engine")))

	api := httpapi.New(httpapi.Config{
		Enabled: cfg.HTTP.Enabled,
		Addr:    cfg.HTTP.ListenAddr(),
		Token:   cfg.HTTP.Token,
	}, eng, store, m, log.With(logx.String("comp", "httpapi")))

	return &App{
		cfgPath:          cfgPath,
		cfgm:             cfgm,
		log:              log,
		logs:             logSvc,
		bus:              bus,
		store:            store,
		metrics:          m,
		sched:            sched,
		engine:           eng,
		api:              api,
		schedulerEnabled: cfg.Scheduler.SchedulerEnabled(),
	}, nil
}

// Start brings up the HTTP surface, config hot reload, and the engine.
func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log))
	a.sup.Go("config.watch", a.cfgm.Watch)
	a.sup.Go0("config.apply", a.reloadLoop)

	if err := a.api.Start(ctx); err != nil {
		return err
	}

	if !a.schedulerEnabled {
		a.log.Warn("scheduler disabled by config; no tasks will run")
		return nil
	}
	a.handle = a.engine.RunInBackground(ctx)
	a.log.Info("started", logx.Int("tasks", a.sched.Status().TotalTasks))
	return nil
}

// Wait blocks until the engine exits (signal, Shutdown, or loop failure).
func (a *App) Wait(ctx context.Context) error {
	if a.handle == nil {
		<-ctx.Done()
		return nil
	}
	return a.handle.Wait(ctx)
}

func (a *App) Stop(ctx context.Context) error {
	a.engine.Shutdown()
	if a.handle != nil {
		_ = a.handle.Wait(ctx)
	}
	_ = a.api.Stop(ctx)
	if a.sup != nil {
		sctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		_ = a.sup.Stop(sctx)
		cancel()
	}
	if a.store != nil {
		_ = a.store.Close()
	}
	a.log.Info("stopped")
	return a.logs.Close()
}

func (a *App) Engine() *engine.Service { return a.engine }

// reloadLoop applies hot-reloaded configs. Only logging and job
// enabled/disabled flags take effect live; schedule, storage, and HTTP
// changes need a restart.
func (a *App) reloadLoop(ctx context.Context) {
	ch := a.cfgm.Subscribe(4)
	defer a.cfgm.Unsubscribe(ch)

	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-ch:
			if !ok {
				return
			}
			a.apply(cfg)
		}
	}
}

func (a *App) apply(cfg *config.Config) {
	if cfg == nil {
		return
	}
	a.logs.Apply(mapLoggingConfig(cfg))

	for name, decl := range cfg.Jobs {
		t, ok := a.sched.GetTask(name)
		if !ok {
			continue
		}
		if decl.JobEnabled() == t.Enabled() {
			continue
		}
		if decl.JobEnabled() {
			t.Enable()
		} else {
			t.Disable()
		}
		a.log.Info("job toggled by config reload",
			logx.String("task", name), logx.Bool("enabled", decl.JobEnabled()))
	}
}

func mapLoggingConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.ConsoleEnabled(),
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	busy, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return storage.Config{}, err
	}
	retention, err := config.ParseDurationField("storage.retention", cfg.Storage.Retention)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: busy,
		Retention:   retention,
	}, nil
}
