// Package core wires the daemon together: config, logging, storage, the
// timer service, the collaborators and the retention sweep.
package core

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"timerd/internal/adapters/telegram"
	"timerd/internal/config"
	"timerd/internal/kit"
	"timerd/internal/logging"
	"timerd/internal/storage"
	"timerd/internal/tasks"
	"timerd/internal/timer"
)

type App struct {
	mgr       *config.Manager
	log       zerolog.Logger
	logCloser io.Closer

	store   storage.Store
	timers  *timer.Service
	tasks   *tasks.Service
	adapter *telegram.Adapter
	sweep   *cron.Cron

	watchWG sync.WaitGroup
}

func NewApp(cfgPath string) (*App, error) {
	boot := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	mgr := config.NewManager(cfgPath, boot)
	cfg, err := mgr.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	log, logCloser, err := logging.New(cfg.Logging.Level, cfg.Logging.File)
	if err != nil {
		return nil, err
	}
	mgr.SetLogger(log.With().Str("comp", "config").Logger())

	store, err := storage.Open(cfg.Storage, log.With().Str("comp", "storage").Logger())
	if err != nil {
		if logCloser != nil {
			_ = logCloser.Close()
		}
		return nil, err
	}

	taskSvc := tasks.New(store, log.With().Str("comp", "tasks").Logger())

	app := &App{
		mgr:       mgr,
		log:       log,
		logCloser: logCloser,
		store:     store,
		tasks:     taskSvc,
	}
	fail := func(err error) (*App, error) {
		app.closePartial()
		return nil, err
	}

	tick, err := cfg.Scheduler.TickDuration()
	if err != nil {
		return fail(err)
	}

	var inbox kit.Inbox
	if cfg.Telegram.Token != "" {
		pollTimeout, err := cfg.Telegram.PollTimeoutDuration()
		if err != nil {
			return fail(err)
		}
		adapter, err := telegram.New(telegram.Config{
			Token:       cfg.Telegram.Token,
			ChatID:      cfg.Telegram.ChatID,
			PollTimeout: pollTimeout,
			RatePerSec:  cfg.Telegram.RatePerSec,
		}, taskSvc, log.With().Str("comp", "telegram").Logger())
		if err != nil {
			return fail(fmt.Errorf("telegram adapter: %w", err))
		}
		app.adapter = adapter
		inbox = adapter
	} else {
		inbox = logInbox{log: log.With().Str("comp", "inbox").Logger()}
	}

	app.timers = timer.New(store, taskSvc, inbox,
		log.With().Str("comp", "timer").Logger(),
		timer.Options{Tick: tick})
	if app.adapter != nil {
		app.adapter.BindTimers(app.timers)
	}
	return app, nil
}

// closePartial releases what NewApp already opened when a later init step
// fails.
func (a *App) closePartial() {
	if a.store != nil {
		_ = a.store.Close()
	}
	if a.logCloser != nil {
		_ = a.logCloser.Close()
	}
}

func (a *App) Start(ctx context.Context) error {
	if err := a.timers.Start(ctx); err != nil {
		return err
	}
	if a.adapter != nil {
		a.adapter.Start(ctx)
	}

	if a.mgr.Get().Retention.On() {
		a.sweep = cron.New()
		schedule := a.mgr.Get().Retention.CronSchedule()
		_, err := a.sweep.AddFunc(schedule, func() {
			maxAge, err := a.mgr.Get().Retention.MaxAgeDuration()
			if err != nil {
				return
			}
			a.timers.PruneTerminal(context.Background(), maxAge)
		})
		if err != nil {
			return fmt.Errorf("retention schedule %q: %w", schedule, err)
		}
		a.sweep.Start()
	}

	a.watchWG.Add(1)
	go func() {
		defer a.watchWG.Done()
		if err := a.mgr.Watch(ctx, a.applyConfig); err != nil {
			a.log.Warn().Err(err).Msg("config watch stopped")
		}
	}()

	// Best-effort: no-ops outside systemd.
	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)
	return nil
}

func (a *App) Stop(ctx context.Context) error {
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	if a.sweep != nil {
		<-a.sweep.Stop().Done()
	}
	if a.adapter != nil {
		a.adapter.Stop()
	}
	a.timers.Stop(ctx)
	a.watchWG.Wait()
	err := a.store.Close()
	if a.logCloser != nil {
		_ = a.logCloser.Close()
	}
	return err
}

// applyConfig handles hot reloads. Only settings that can change without a
// restart are applied: log level and retention age. Tick, storage backend
// and the Telegram wiring need a restart, which is logged rather than
// silently ignored.
func (a *App) applyConfig(cfg *config.Config) {
	if err := logging.SetLevel(cfg.Logging.Level); err != nil {
		a.log.Warn().Err(err).Msg("reload: bad log level ignored")
	}
	a.log.Info().Msg("config applied; storage/telegram/tick changes take effect on restart")
}

// logInbox is the fallback delivery path when no Telegram adapter is
// configured: the message lands in the log.
type logInbox struct {
	log zerolog.Logger
}

func (l logInbox) Deliver(ctx context.Context, message string) error {
	l.log.Info().Str("message", message).Msg("inbox delivery")
	return nil
}
