// Package reminder is the periodic reminder scheduler: on a fixed cadence it
// selects chats whose heartbeat is due, collects their due tasks, dispatches
// one notification per task concurrently, and advances due markers.
package reminder

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"tasksbot/internal/due"
	"tasksbot/internal/store"
	"tasksbot/internal/transport"
	"tasksbot/pkg/logx"
)

type Config struct {
	Enabled         bool
	Interval        time.Duration // tick cadence; default 60s
	DispatchTimeout time.Duration // per-notification send timeout; default 15s
	MaxConcurrent   int           // dispatch fan-out bound; default 8
	RatePerSec      int           // outbound send rate limit; default 25
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = time.Minute
	}
	if c.DispatchTimeout <= 0 {
		c.DispatchTimeout = 15 * time.Second
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 8
	}
	if c.RatePerSec <= 0 {
		c.RatePerSec = 25
	}
	return c
}

type Service struct {
	mu  sync.Mutex
	cfg Config

	store  store.Store
	sender transport.Sender
	log    logx.Logger
	now    func() time.Time

	limiter *rate.Limiter
	c       *cron.Cron

	runCtx    context.Context
	runCancel context.CancelFunc
	tickCount uint64
}

func New(cfg Config, st store.Store, sender transport.Sender, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	cfg = cfg.withDefaults()
	return &Service{
		cfg:     cfg,
		store:   st,
		sender:  sender,
		log:     log,
		now:     time.Now,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
	}
}

// Apply reconfigures a running service. Enabled and interval changes start,
// stop or restart the cadence; other knobs take effect on the next tick.
func (s *Service) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	s.mu.Lock()
	defer s.mu.Unlock()

	changed := cfg.Interval != s.cfg.Interval || cfg.Enabled != s.cfg.Enabled
	s.cfg = cfg
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)

	if !changed || s.runCtx == nil {
		return
	}
	s.stopCronLocked()
	if !cfg.Enabled {
		s.log.Info("reminder disabled")
		return
	}
	if err := s.startCronLocked(s.runCtx); err != nil {
		s.log.Error("restart reminder cadence", logx.Err(err))
		return
	}
	s.log.Info("reminder cadence updated", logx.Duration("interval", cfg.Interval))
}

// Start begins the tick loop. Ticks are serialized: a tick that is still
// running when the next cadence fires causes that firing to be skipped.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runCtx != nil {
		return nil
	}
	// The run context outlives ctx so Apply can enable the scheduler later
	// even when it starts disabled.
	s.runCtx, s.runCancel = context.WithCancel(context.WithoutCancel(ctx))
	if !s.cfg.Enabled {
		s.log.Info("reminder disabled")
		return nil
	}
	if err := s.startCronLocked(s.runCtx); err != nil {
		s.runCancel()
		s.runCtx, s.runCancel = nil, nil
		return err
	}
	s.log.Info("reminder started", logx.Duration("interval", s.cfg.Interval))
	return nil
}

func (s *Service) startCronLocked(runCtx context.Context) error {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	_, err := c.AddFunc("@every "+s.cfg.Interval.String(), func() {
		if runCtx.Err() != nil {
			return
		}
		s.tick(runCtx)
	})
	if err != nil {
		return fmt.Errorf("register tick: %w", err)
	}
	c.Start()
	s.c = c
	return nil
}

func (s *Service) stopCronLocked() {
	if s.c == nil {
		return
	}
	<-s.c.Stop().Done()
	s.c = nil
}

// Stop requests graceful shutdown: no new tick starts, and Stop returns once
// the in-flight tick (and its dispatches) have settled or ctx expires.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	cancel := s.runCancel
	s.c = nil
	s.runCtx, s.runCancel = nil, nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}

	if c != nil {
		stopCtx := c.Stop()
		select {
		case <-stopCtx.Done():
		case <-ctx.Done():
			s.log.Warn("reminder stop timed out; abandoning in-flight tick")
		}
	}
	cancel()
	s.log.Info("reminder stopped")
}

func (s *Service) snapshot() (Config, *rate.Limiter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg, s.limiter
}

// tick runs one scheduling round. Store failures abort the round and are
// retried on the next tick; dispatch failures are isolated per task.
func (s *Service) tick(ctx context.Context) {
	s.mu.Lock()
	s.tickCount++
	n := s.tickCount
	s.mu.Unlock()

	now := s.now()
	log := s.log.With(logx.Uint64("tick", n))
	log.Debug("checking tasks to remind")

	chats, err := s.store.ListDueChats(ctx, now)
	if err != nil {
		log.Error("list due chats", logx.Err(err))
		return
	}
	if len(chats) == 0 {
		return
	}

	chatIDs := make([]string, 0, len(chats))
	for _, c := range chats {
		chatIDs = append(chatIDs, c.ID)
	}

	floor, err := s.store.ListDueFloorTasks(ctx, chatIDs, due.StartOfDay(now))
	if err != nil {
		log.Error("list due floor tasks", logx.Err(err))
		return
	}
	exact, err := s.store.ListDueExactTasks(ctx, now)
	if err != nil {
		log.Error("list due exact tasks", logx.Err(err))
		return
	}
	tasks := append(floor, exact...)
	log.Debug("due set collected", logx.Int("chats", len(chats)), logx.Int("tasks", len(tasks)))

	if len(tasks) > 0 {
		cfg, limiter := s.snapshot()
		g := new(errgroup.Group)
		g.SetLimit(cfg.MaxConcurrent)
		for _, task := range tasks {
			task := task
			g.Go(func() error {
				s.dispatch(ctx, task, cfg, limiter)
				return nil
			})
		}
		_ = g.Wait()
	}

	// Heartbeats advance for every selected chat, dispatched or not, so each
	// chat is re-examined at most a day from its notify time.
	s.advanceHeartbeats(ctx, chats, log)
}

// dispatch sends one reminder and reschedules the task. On send failure the
// task row stays untouched so the next qualifying tick retries it.
func (s *Service) dispatch(ctx context.Context, task store.Task, cfg Config, limiter *rate.Limiter) {
	log := s.log.With(logx.Int64("task", task.ID), logx.String("chat", task.ChatID))

	chatID, err := strconv.ParseInt(task.ChatID, 10, 64)
	if err != nil {
		log.Error("task has malformed chat id", logx.Err(err))
		return
	}

	if err := limiter.Wait(ctx); err != nil {
		return
	}

	sctx, cancel := context.WithTimeout(ctx, cfg.DispatchTimeout)
	defer cancel()
	ref, err := s.sender.SendText(sctx, transport.ChatTarget{ChatID: chatID}, task.Content, &transport.SendOptions{
		ReplyTo:  task.MessageID,
		Keyboard: doneKeyboard(task.ID),
	})
	if err != nil {
		log.Warn("reminder send failed; will retry next tick", logx.Err(err))
		return
	}

	nextDue := due.Next(s.now(), task.PeriodDays, task.DueAt)
	if _, err := s.store.UpdateTask(ctx, task.ID, store.TaskPatch{
		DueAt:        &nextDue,
		LastNotifyID: &ref.MessageID,
	}); err != nil {
		log.Error("reschedule after dispatch", logx.Err(err))
		return
	}
	log.Debug("reminder dispatched", logx.Time("next_due", nextDue))
}

func (s *Service) advanceHeartbeats(ctx context.Context, chats []store.Chat, log logx.Logger) {
	now := s.now()
	for _, chat := range chats {
		next := due.Next(now, 1, chat.NextCheckAt)
		if _, err := s.store.UpdateChat(ctx, chat.ID, store.ChatPatch{NextCheckAt: &next}); err != nil {
			log.Error("advance chat heartbeat", logx.String("chat", chat.ID), logx.Err(err))
			continue
		}
		log.Debug("chat heartbeat advanced", logx.String("chat", chat.ID), logx.Time("next_check", next))
	}
}

// doneKeyboard is the single-button acknowledgement keyboard attached to
// every reminder message.
func doneKeyboard(taskID int64) transport.Keyboard {
	return transport.Keyboard{{
		{Label: "Сделано ✅", Data: "mark/" + strconv.FormatInt(taskID, 10)},
	}}
}
