// Package app wires configuration, storage, the dialogue engine, the reminder
// scheduler and the Telegram adapter into one runnable unit.
package app

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"tasksbot/internal/config"
	"tasksbot/internal/dialog"
	"tasksbot/internal/reminder"
	"tasksbot/internal/runtime/supervisor"
	"tasksbot/internal/store"
	"tasksbot/internal/transport"
	"tasksbot/internal/transport/telegram/adapter"
	"tasksbot/pkg/logx"
)

const (
	updateBuffer  = 256
	handleTimeout = 10 * time.Second
)

type App struct {
	cfgMgr *config.Manager

	log       logx.Logger
	logCloser io.Closer

	store   store.Store
	adapter transport.Adapter
	engine  *dialog.Engine
	rem     *reminder.Service

	sup     *supervisor.Supervisor
	updates chan transport.Update
}

// New loads and validates the config, then builds every component. Nothing
// starts running until Start is called.
func New(configPath string) (*App, error) {
	mgr := config.NewManager(configPath)
	cfg, err := mgr.Load()
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", configPath, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	log, logCloser, err := logx.New(cfg.LogConfig())
	if err != nil {
		return nil, fmt.Errorf("init logging: %w", err)
	}
	mgr.SetLogger(log.With(logx.String("comp", "config")))

	storeCfg, err := cfg.StoreConfig()
	if err != nil {
		return nil, err
	}
	st, err := store.Open(storeCfg, log.With(logx.String("comp", "store")))
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	pollTimeout, err := cfg.PollTimeout()
	if err != nil {
		return nil, err
	}
	tg, err := adapter.New(adapter.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
	}, log.With(logx.String("comp", "telegram")))
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("init telegram: %w", err)
	}

	engine := dialog.New(st, log.With(logx.String("comp", "dialog")))

	remCfg, err := cfg.ReminderConfig()
	if err != nil {
		return nil, err
	}
	rem := reminder.New(remCfg, st, tg, log.With(logx.String("comp", "reminder")))

	return &App{
		cfgMgr:    mgr,
		log:       log,
		logCloser: logCloser,
		store:     st,
		adapter:   tg,
		engine:    engine,
		rem:       rem,
	}, nil
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log.With(logx.String("comp", "app"))))
	a.updates = make(chan transport.Update, updateBuffer)

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return fmt.Errorf("start telegram: %w", err)
	}

	a.sup.Go("updates.router", a.routeUpdates)

	// Hot-reload: re-parse the config on file change and apply what can be
	// applied live (reminder settings, for now). Token and storage changes
	// need a restart.
	a.sup.GoRestart("config.watch", func(c context.Context) {
		if err := a.cfgMgr.Watch(c); err != nil {
			a.log.Warn("config watch stopped", logx.Err(err))
		}
	}, time.Second, 30*time.Second)
	reloads := a.cfgMgr.Subscribe(1)
	a.sup.Go("config.apply", func(c context.Context) {
		for {
			select {
			case <-c.Done():
				return
			case cfg := <-reloads:
				a.applyConfig(cfg)
			}
		}
	})

	if err := a.rem.Start(a.sup.Context()); err != nil {
		return fmt.Errorf("start reminder: %w", err)
	}

	a.log.Info("started")
	return nil
}

func (a *App) applyConfig(cfg *config.Config) {
	if cfg == nil {
		return
	}
	remCfg, err := cfg.ReminderConfig()
	if err != nil {
		a.log.Warn("reloaded config rejected", logx.Err(err))
		return
	}
	a.rem.Apply(remCfg)
	a.log.Info("config applied", logx.Bool("reminder_enabled", remCfg.Enabled),
		logx.Duration("reminder_interval", remCfg.Interval))
}

// Stop shuts components down in reverse dependency order: scheduler first so
// no new sends start, then the adapter, then background goroutines, storage
// and finally the log sink.
func (a *App) Stop(ctx context.Context) {
	a.rem.Stop(ctx)
	if err := a.adapter.Stop(ctx); err != nil {
		a.log.Warn("telegram stop", logx.Err(err))
	}

	if a.sup != nil {
		a.sup.Cancel()
		wctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := a.sup.Wait(wctx); err != nil {
			a.log.Warn("shutdown timed out", logx.Err(err))
		}
		cancel()
	}

	if err := a.store.Close(); err != nil {
		a.log.Warn("store close", logx.Err(err))
	}
	a.log.Info("stopped")
	if a.logCloser != nil {
		_ = a.logCloser.Close()
	}
}

func (a *App) routeUpdates(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case up := <-a.updates:
			hctx, cancel := context.WithTimeout(ctx, handleTimeout)
			a.handleUpdate(hctx, up)
			cancel()
		}
	}
}

func (a *App) handleUpdate(ctx context.Context, up transport.Update) {
	switch up.Kind {
	case transport.UpdateMessage:
		if up.Message == nil {
			return
		}
		a.handleMessage(ctx, up.Message)
	case transport.UpdateCallback:
		if up.Callback == nil {
			return
		}
		a.handleCallback(ctx, up.Callback)
	}
}

func (a *App) handleMessage(ctx context.Context, msg *transport.Message) {
	var (
		res dialog.Result
		err error
	)
	if cmd, ok := parseCommand(msg.Text); ok {
		res, err = a.engine.HandleCommand(ctx, msg, cmd)
	} else {
		res, err = a.engine.HandleText(ctx, msg)
	}
	if err != nil {
		a.log.Error("message handling failed",
			logx.Int64("chat", msg.ChatID), logx.Err(err))
		return
	}
	a.execute(ctx, msg.ChatID, "", res)
}

func (a *App) handleCallback(ctx context.Context, cb *transport.Callback) {
	res, err := a.engine.HandleCallback(ctx, cb)
	if err != nil {
		a.log.Error("callback handling failed",
			logx.Int64("chat", cb.ChatID), logx.String("data", cb.Data), logx.Err(err))
		// Still release the client's loading spinner.
		_ = a.adapter.AnswerCallback(ctx, cb.ID, "", false)
		return
	}
	a.execute(ctx, cb.ChatID, cb.ID, res)
}

// execute runs a dialogue result's effects in order: replies, keyboard edit,
// callback answer. A failed effect is logged; later effects still run so the
// callback query never stays unanswered.
func (a *App) execute(ctx context.Context, chatID int64, callbackID string, res dialog.Result) {
	target := transport.ChatTarget{ChatID: chatID}
	for _, r := range res.Replies {
		opt := &transport.SendOptions{ReplyTo: r.ReplyTo, Keyboard: r.Keyboard}
		if _, err := a.adapter.SendText(ctx, target, r.Text, opt); err != nil {
			a.log.Error("send failed", logx.Int64("chat", chatID), logx.Err(err))
		}
	}
	if res.EditKeyboard != nil {
		ref := transport.MessageRef{ChatID: chatID, MessageID: res.EditKeyboard.MessageID}
		if err := a.adapter.EditKeyboard(ctx, ref, res.EditKeyboard.Keyboard); err != nil {
			a.log.Error("keyboard edit failed", logx.Int64("chat", chatID), logx.Err(err))
		}
	}
	if callbackID != "" {
		var text string
		var alert bool
		if res.Answer != nil {
			text, alert = res.Answer.Text, res.Answer.Alert
		}
		if err := a.adapter.AnswerCallback(ctx, callbackID, text, alert); err != nil {
			a.log.Error("callback answer failed", logx.Int64("chat", chatID), logx.Err(err))
		}
	}
}

// parseCommand extracts "start" from "/start" or "/start@SomeBot". Non-command
// text returns ok=false.
func parseCommand(text string) (string, bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", false
	}
	cmd := strings.Fields(text)[0][1:]
	if at := strings.IndexByte(cmd, '@'); at >= 0 {
		cmd = cmd[:at]
	}
	if cmd == "" {
		return "", false
	}
	return strings.ToLower(cmd), true
}
