// Package app wires the daemon together: config, logging, surface,
// display, registry, reaper, readiness tracker, ingest handlers, sweep
// and the stdin event feed.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"beacon/internal/config"
	"beacon/internal/display"
	"beacon/internal/eventbus"
	"beacon/internal/ingest"
	"beacon/internal/progress"
	"beacon/internal/readiness"
	"beacon/internal/runtime/supervisor"
	"beacon/internal/storage"
	"beacon/internal/surface"
	consolesurf "beacon/internal/surface/console"
	telegramsurf "beacon/internal/surface/telegram"
	"beacon/internal/sweep"
	logx "beacon/pkg/logx"
)

// StopReason describes why the daemon is shutting down.
type StopReason string

const (
	StopUnknown    StopReason = "unknown"
	StopSIGINT     StopReason = "sigint"
	StopSIGTERM    StopReason = "sigterm"
	StopFeedClosed StopReason = "feed_closed"
	StopFatalError StopReason = "fatal_error"
)

type App struct {
	cfgPath string

	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	surf     surface.Surface
	disp     *display.Adapter
	reg      *progress.Registry
	reaper   *progress.Reaper
	tracker  *readiness.Tracker
	handlers *ingest.Handlers
	sweeper  *sweep.Service

	feed *Feed
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))

	bus := eventbus.New()

	// Storage (optional)
	var store storage.Store
	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
		if err != nil {
			return nil, err
		}
		store = st
		log.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	surf, err := buildSurface(cfg, log)
	if err != nil {
		return nil, err
	}

	dcfg, err := mapDisplayConfig(cfg)
	if err != nil {
		return nil, err
	}
	disp := display.New(dcfg, surf, log.With(logx.String("comp", "display")), bus, store)

	reg := progress.NewRegistry(disp, log.With(logx.String("comp", "registry")))

	rcfg, err := mapReaperConfig(cfg)
	if err != nil {
		return nil, err
	}
	reaper := progress.NewReaper(rcfg, reg, progress.WallClock{}, log.With(logx.String("comp", "reaper")), bus)

	tracker := readiness.NewTracker(log.With(logx.String("comp", "readiness")), bus, store)

	handlers := ingest.NewHandlers(reg, reaper, tracker, disp,
		cfg.Ingest.Exclude, log.With(logx.String("comp", "ingest")))

	swcfg, err := mapSweepConfig(cfg)
	if err != nil {
		return nil, err
	}
	sweeper := sweep.New(swcfg, store, log.With(logx.String("comp", "sweep")), bus)
	if swcfg.Enabled {
		if err := sweeper.ParseSpec(swcfg.Spec); err != nil {
			return nil, fmt.Errorf("sweep.spec: %w", err)
		}
	}

	return &App{
		cfgPath:  cfgPath,
		cfgm:     cfgm,
		log:      log,
		logs:     logSvc,
		bus:      bus,
		store:    store,
		surf:     surf,
		disp:     disp,
		reg:      reg,
		reaper:   reaper,
		tracker:  tracker,
		handlers: handlers,
		sweeper:  sweeper,
	}, nil
}

// Handlers exposes the ingest entry points (library embedding).
func (a *App) Handlers() *ingest.Handlers { return a.handlers }

// Readiness exposes the per-resource readiness tracker.
func (a *App) Readiness() *readiness.Tracker { return a.tracker }

// Registry exposes the progress aggregate.
func (a *App) Registry() *progress.Registry { return a.reg }

// Done is closed when the app supervisor context is canceled (fatal
// error or Stop()).
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

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	// transactional config reload: validate before commit/publish
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if err := config.Validate(cfg); err != nil {
			return err
		}
		if sw := cfg.Sweep; sw != nil && sw.Enabled {
			if err := a.sweeper.ParseSpec(sw.Spec); err != nil {
				return fmt.Errorf("sweep.spec: %w", err)
			}
		}
		return nil
	})

	a.disp.Start(a.sup)

	if err := a.sweeper.Start(a.sup.Context()); err != nil {
		return err
	}

	if a.feed != nil {
		a.sup.Go("feed.read", func(c context.Context) error {
			return a.feed.Run(c, a.handlers)
		})
	}

	// Debug visibility into internal events.
	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	// hot reload config fan-out
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
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						goto APPLY
					}
				}
			APPLY:
				a.applyConfig(c, lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	// Each Watch call is one watcher session; a broken session comes
	// back with backoff instead of killing the app.
	a.sup.GoRestart("config.watch", a.cfgm.Watch)

	a.log.Info("app started")
	return nil
}

func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Debug("config reload received, but no effective changes detected")
		return
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Debug("config change summary", fields...)

	for _, s := range sections {
		switch s {
		case "logging":
			a.logs.Apply(logx.Config{
				Level:   newCfg.Logging.Level,
				Console: newCfg.Logging.Console,
				File: logx.FileConfig{
					Enabled: newCfg.Logging.File.Enabled,
					Path:    newCfg.Logging.File.Path,
				},
			})
		case "display":
			dcfg, err := mapDisplayConfig(newCfg)
			if err != nil {
				a.log.Warn("invalid display config; keeping previous", logx.Err(err))
				continue
			}
			a.disp.Apply(dcfg)
		case "reaper":
			rcfg, err := mapReaperConfig(newCfg)
			if err != nil {
				a.log.Warn("invalid reaper config; keeping previous", logx.Err(err))
				continue
			}
			a.reaper.Apply(rcfg)
		case "ingest":
			a.handlers.SetExclusions(newCfg.Ingest.Exclude)
		case "storage":
			a.log.Warn("storage config changed; restart required for changes to take effect")
		case "sweep":
			swcfg, err := mapSweepConfig(newCfg)
			if err != nil {
				a.log.Warn("invalid sweep config; keeping previous", logx.Err(err))
				continue
			}
			stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
			a.sweeper.Stop(stopCtx)
			cancel()
			a.sweeper = sweep.New(swcfg, a.store, a.log.With(logx.String("comp", "sweep")), a.bus)
			if err := a.sweeper.Start(ctx); err != nil {
				a.log.Warn("sweep restart failed", logx.Err(err))
			}
		case "surface":
			a.log.Warn("surface config changed; restart required for changes to take effect")
		}
	}

	a.log.Info("config reloaded", fields...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	a.sup.Cancel()

	// Bounded shutdown steps so one component can't stall the stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			if dl, ok := ctx.Deadline(); ok {
				if rem := time.Until(dl); rem > 0 && rem < max {
					max = rem
				}
			}
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
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		}
	}

	step("sweep", 2*time.Second, func(c context.Context) error { a.sweeper.Stop(c); return nil })
	step("storage", 1*time.Second, func(c context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	active, started := a.sup.Counters()
	a.log.Debug("supervisor drained", logx.Int64("active", active), logx.Uint64("started", started))

	a.log.Info("stopped")
	if a.logs != nil {
		a.logs.Close()
	}
	return nil
}

func buildSurface(cfg *config.Config, log logx.Logger) (surface.Surface, error) {
	switch strings.TrimSpace(strings.ToLower(cfg.Surface.Kind)) {
	case "", "console":
		var cc config.SurfaceConsoleConfig
		if cfg.Surface.Console != nil {
			cc = *cfg.Surface.Console
		}
		return consolesurf.New(consolesurf.Config{ForceAppend: cc.ForceAppend}), nil
	case "telegram":
		tg := cfg.Surface.Telegram
		timeout, err := config.ParseDurationOrDefault("surface.telegram.timeout", tg.Timeout, 10*time.Second)
		if err != nil {
			return nil, err
		}
		return telegramsurf.New(telegramsurf.Config{
			Token:    tg.Token,
			ChatID:   tg.ChatID,
			ThreadID: tg.ThreadID,
			Timeout:  timeout,
		}, log.With(logx.String("comp", "telegram")))
	default:
		return nil, fmt.Errorf("surface.kind: unknown kind %q", cfg.Surface.Kind)
	}
}

func mapDisplayConfig(cfg *config.Config) (display.Config, error) {
	d := cfg.Display

	spinInterval, err := config.ParseDurationField("display.spinner_interval", d.SpinnerInterval)
	if err != nil {
		return display.Config{}, err
	}
	finalTimeout, err := config.ParseDurationField("display.final_timeout", d.FinalTimeout)
	if err != nil {
		return display.Config{}, err
	}
	dedupWindow, err := config.ParseDurationField("display.dedup_window", d.DedupWindow)
	if err != nil {
		return display.Config{}, err
	}

	spinner, doneIcon := true, true
	if d.Spinner != nil {
		spinner = *d.Spinner
	}
	if d.DoneIcon != nil {
		doneIcon = *d.DoneIcon
	}

	return display.Config{
		Mode:             display.Mode(strings.TrimSpace(strings.ToLower(d.Mode))),
		SpinnerEnabled:   spinner,
		DoneIconEnabled:  doneIcon,
		SpinnerInterval:  spinInterval,
		FinalTimeout:     finalTimeout,
		Width:            d.Width,
		AppendRatePerSec: d.AppendRatePerSec,
		DedupWindow:      dedupWindow,
		DedupMaxEntries:  d.DedupMaxEntries,
	}, nil
}

func mapReaperConfig(cfg *config.Config) (progress.ReaperConfig, error) {
	taskGrace, err := config.ParseDurationField("reaper.task_grace", cfg.Reaper.TaskGrace)
	if err != nil {
		return progress.ReaperConfig{}, err
	}
	clientGrace, err := config.ParseDurationField("reaper.client_grace", cfg.Reaper.ClientGrace)
	if err != nil {
		return progress.ReaperConfig{}, err
	}
	return progress.ReaperConfig{TaskGrace: taskGrace, ClientGrace: clientGrace}, nil
}

func mapSweepConfig(cfg *config.Config) (sweep.Config, error) {
	if cfg.Sweep == nil {
		return sweep.Config{}, nil
	}
	staleAfter, err := config.ParseDurationField("sweep.stale_after", cfg.Sweep.StaleAfter)
	if err != nil {
		return sweep.Config{}, err
	}
	return sweep.Config{
		Enabled:    cfg.Sweep.Enabled,
		Spec:       cfg.Sweep.Spec,
		StaleAfter: staleAfter,
		Timezone:   cfg.Sweep.Timezone,
	}, nil
}
