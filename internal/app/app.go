// Package app wires the bot together: config, logging, storage, the Telegram
// adapter, the timer scheduler, the refresh trigger, the notifier, and the
// command router.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"prayerbot/internal/config"
	"prayerbot/internal/notifier"
	"prayerbot/internal/refresh"
	rtsup "prayerbot/internal/runtime/supervisor"
	"prayerbot/internal/schedule"
	"prayerbot/internal/source"
	"prayerbot/internal/storage"
	kit "prayerbot/internal/transport"
	telegram "prayerbot/internal/transport/telegram/adapter"
	"prayerbot/internal/transport/telegram/router"
	logx "prayerbot/pkg/logx"
)

type App struct {
	cfgm *config.Manager
	sup  *rtsup.Supervisor

	log  logx.Logger
	logs *logx.Service

	store   storage.Store
	adapter kit.Adapter
	sched   *schedule.Service
	notif   *notifier.Service
	refresh *refresh.Service
	router  *router.Router

	updates chan kit.Update
}

// emptySubs stands in for the subscriber store when storage is disabled.
type emptySubs struct{}

func (emptySubs) Subscribers(context.Context) ([]int64, error) { return nil, nil }

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
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

	// Storage (optional)
	var store storage.Store
	if cfg.Storage != nil {
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, 5*time.Second)
		if err != nil {
			return nil, err
		}
		store, err = storage.Open(storage.Config{
			Driver:      cfg.Storage.Driver,
			Path:        cfg.Storage.Path,
			BusyTimeout: busy,
		}, log.With(logx.String("comp", "storage")))
		if err != nil {
			return nil, err
		}
		if store != nil {
			log.Info("storage enabled", logx.String("driver", cfg.Storage.Driver))
		}
	}

	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	ad, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
	}, log.With(logx.String("comp", "telegram")))
	if err != nil {
		return nil, err
	}

	var subs notifier.SubscriberSource = emptySubs{}
	if store != nil {
		subs = store
	}
	notif := notifier.New(mapNotifierConfig(cfg), ad, subs, log.With(logx.String("comp", "notifier")))
	// Broadcast recipients are subscribers, so their menu shows unsubscribe.
	notif.SetMarkup(router.Menu(true))

	sched := schedule.New(notif, log.With(logx.String("comp", "scheduler")))

	srcTimeout, err := config.ParseDurationOrDefault("source.timeout", cfg.Source.Timeout, 15*time.Second)
	if err != nil {
		return nil, err
	}
	src, err := source.New(source.Config{
		URL:     cfg.Source.URL,
		Timeout: srcTimeout,
	}, log.With(logx.String("comp", "source")))
	if err != nil {
		return nil, err
	}

	var schedStore refresh.ScheduleStore
	if store != nil {
		schedStore = store
	}
	ref, err := refresh.New(refresh.Config{
		Timezone:     cfg.Schedule.Timezone,
		RefreshTimes: cfg.Schedule.RefreshTimes,
	}, src, sched, schedStore, log.With(logx.String("comp", "refresh")))
	if err != nil {
		return nil, err
	}

	var subStore router.SubscriberStore
	if store != nil {
		subStore = store
	}
	rtr := router.New(ad, subStore, sched, log.With(logx.String("comp", "router")))
	rtr.SetWelcomeImage(cfg.Telegram.WelcomeImage)

	return &App{
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		store:   store,
		adapter: ad,
		sched:   sched,
		notif:   notif,
		refresh: ref,
		router:  rtr,
		updates: make(chan kit.Update, 256),
	}, nil
}

func mapNotifierConfig(cfg *config.Config) notifier.Config {
	return notifier.Config{
		RatePerSec: float64(cfg.Notifier.RatePerSec),
		QueueSize:  cfg.Notifier.QueueSize,
	}
}

// Done is closed when the app supervisor context is cancelled (fatal error or
// Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor, if any.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))

	// Transactional config reload: validate before commit/publish.
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if strings.TrimSpace(cfg.Telegram.Token) == "" {
			return fmt.Errorf("telegram.token is required")
		}
		if strings.TrimSpace(cfg.Source.URL) == "" {
			return fmt.Errorf("source.url is required")
		}
		if _, err := config.ParseDurationField("telegram.poll_timeout", cfg.Telegram.PollTimeout); err != nil {
			return err
		}
		if _, err := config.ParseDurationField("source.timeout", cfg.Source.Timeout); err != nil {
			return err
		}
		if tz := strings.TrimSpace(cfg.Schedule.Timezone); tz != "" {
			if _, err := time.LoadLocation(tz); err != nil {
				return fmt.Errorf("schedule.timezone: invalid %q: %w", tz, err)
			}
		}
		for _, rt := range cfg.Schedule.RefreshTimes {
			if _, err := time.Parse("15:04", strings.TrimSpace(rt)); err != nil {
				return fmt.Errorf("schedule.refresh_times: %q is not HH:MM", rt)
			}
		}
		if cfg.Storage != nil {
			if _, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout); err != nil {
				return err
			}
		}
		return nil
	})

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}
	if err := a.notif.Start(a.sup.Context()); err != nil {
		return err
	}
	if err := a.refresh.Start(a.sup.Context()); err != nil {
		return err
	}

	a.sup.Go("router.dispatch", func(c context.Context) error {
		return a.router.Run(c, a.updates)
	})

	// Hot-reload fan-out. Most sections require a restart; logging and the
	// notifier pipeline apply live.
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				a.applyConfig(newCfg)
			}
		}
	})
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started")
	return nil
}

func (a *App) applyConfig(cfg *config.Config) {
	if cfg == nil {
		return
	}
	a.logs.Apply(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	a.notif.Apply(mapNotifierConfig(cfg))
	if err := a.refresh.Apply(refresh.Config{
		Timezone:     cfg.Schedule.Timezone,
		RefreshTimes: cfg.Schedule.RefreshTimes,
	}); err != nil {
		a.log.Warn("invalid refresh config; keeping previous", logx.Err(err))
	}
	a.log.Info("config reloaded; telegram/source/storage changes need a restart")
}

func (a *App) Stop(ctx context.Context) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping")
	a.sup.Cancel()

	// Bound each shutdown step so one component cannot stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
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
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name))
		}
	}

	step("refresh", 2*time.Second, func(c context.Context) error { a.refresh.Stop(c); return nil })
	step("scheduler", 1*time.Second, func(context.Context) error { a.sched.Stop(); return nil })
	step("notifier", 2*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	step("adapter", 3*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	if a.store != nil {
		step("storage", 1*time.Second, func(context.Context) error { return a.store.Close() })
	}

	wctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := a.sup.Wait(wctx); err != nil && wctx.Err() == nil {
		a.log.Warn("shutdown finished with error", logx.Err(err))
	}

	a.logs.Close()
	return nil
}
