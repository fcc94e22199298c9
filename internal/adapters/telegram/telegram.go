// Package telegram is the operator surface of the daemon: it delivers
// inbox messages to the configured chat and exposes the timer commands.
package telegram

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	"timerd/internal/tasks"
	"timerd/internal/timer"
)

type Config struct {
	Token       string
	ChatID      int64
	PollTimeout time.Duration
	RatePerSec  int
}

type Adapter struct {
	cfg Config
	log zerolog.Logger

	bot     *tele.Bot
	chat    *tele.Chat
	limiter *rate.Limiter

	timers *timer.Service
	tasks  *tasks.Service

	runMu   sync.Mutex
	running bool
	runWG   sync.WaitGroup
}

func New(cfg Config, taskSvc *tasks.Service, log zerolog.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.ChatID == 0 {
		return nil, errors.New("telegram chat_id is empty")
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	perSec := cfg.RatePerSec
	if perSec <= 0 {
		perSec = 1
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: timeout},
	})
	if err != nil {
		return nil, err
	}
	a := &Adapter{
		cfg:     cfg,
		log:     log,
		bot:     b,
		chat:    &tele.Chat{ID: cfg.ChatID},
		limiter: rate.NewLimiter(rate.Limit(perSec), perSec),
		tasks:   taskSvc,
	}
	a.registerHandlers()
	return a, nil
}

// BindTimers attaches the timer service the command handlers drive. The
// adapter and the timer service reference each other (the adapter is the
// engine's inbox), so this runs as a second wiring step before Start.
func (a *Adapter) BindTimers(svc *timer.Service) { a.timers = svc }

// Deliver implements kit.Inbox. Outgoing messages share one rate limiter so
// a burst of firings cannot trip Telegram's flood control.
func (a *Adapter) Deliver(ctx context.Context, message string) error {
	if err := a.limiter.Wait(ctx); err != nil {
		return err
	}
	_, err := a.bot.Send(a.chat, message, &tele.SendOptions{DisableWebPagePreview: true})
	return err
}

// Start launches the long poller. It returns immediately; the poller stops
// when ctx is cancelled.
func (a *Adapter) Start(ctx context.Context) {
	a.runMu.Lock()
	defer a.runMu.Unlock()
	if a.running {
		return
	}
	a.running = true

	a.runWG.Add(2)
	go func() {
		defer a.runWG.Done()
		<-ctx.Done()
		a.bot.Stop()
	}()
	go func() {
		defer a.runWG.Done()
		a.log.Info().Int64("chat_id", a.cfg.ChatID).Msg("telegram adapter started")
		a.bot.Start() // blocks until Stop()
	}()
}

func (a *Adapter) Stop() {
	a.runMu.Lock()
	defer a.runMu.Unlock()
	if !a.running {
		return
	}
	a.running = false
	a.runWG.Wait()
	a.log.Info().Msg("telegram adapter stopped")
}

// fromOwnChat rejects commands arriving from anywhere but the configured
// chat; the bot manages schedules for exactly one operator.
func (a *Adapter) fromOwnChat(c tele.Context) bool {
	return c.Chat() != nil && c.Chat().ID == a.cfg.ChatID
}
