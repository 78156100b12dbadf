// Package dialog is the per-chat dialogue state machine. One inbound event
// maps to a deterministic state transition plus an ordered list of outbound
// effects; the caller executes the effects against the transport.
package dialog

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"tasksbot/internal/due"
	"tasksbot/internal/store"
	"tasksbot/internal/transport"
	"tasksbot/pkg/logx"
)

// Reply is one outbound message.
type Reply struct {
	Text     string
	ReplyTo  int // thread to this message id (0 = none)
	Keyboard transport.Keyboard
}

// Answer acknowledges the originating callback query.
type Answer struct {
	Text  string
	Alert bool
}

// KeyboardEdit replaces the inline keyboard of an existing message.
type KeyboardEdit struct {
	MessageID int
	Keyboard  transport.Keyboard
}

// Result is the ordered side-effect list of one handled event.
type Result struct {
	Replies      []Reply
	Answer       *Answer
	EditKeyboard *KeyboardEdit
}

func reply(text string) Result {
	return Result{Replies: []Reply{{Text: text}}}
}

type Engine struct {
	store store.Store
	log   logx.Logger
	now   func() time.Time
}

func New(st store.Store, log logx.Logger) *Engine {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Engine{store: st, log: log, now: time.Now}
}

func chatKey(id int64) string { return strconv.FormatInt(id, 10) }

// ensureChat loads the chat record, creating it lazily on first contact.
// New chats start in StateAwaitTask with the heartbeat a day out.
func (e *Engine) ensureChat(ctx context.Context, id int64, title string) (store.Chat, bool, error) {
	key := chatKey(id)
	chat, err := e.store.GetChat(ctx, key)
	if err == nil {
		return chat, false, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return store.Chat{}, false, fmt.Errorf("get chat %s: %w", key, err)
	}

	chat = store.Chat{
		ID:          key,
		Name:        title,
		State:       store.StateAwaitTask,
		NextCheckAt: e.now().Add(24 * time.Hour),
	}
	if err := e.store.CreateChat(ctx, chat); err != nil {
		return store.Chat{}, false, fmt.Errorf("create chat %s: %w", key, err)
	}
	e.log.Info("chat registered", logx.String("chat", key), logx.String("name", title))
	return chat, true, nil
}

// HandleCommand processes a slash command ("start", "menu" — no slash).
func (e *Engine) HandleCommand(ctx context.Context, msg *transport.Message, cmd string) (Result, error) {
	chat, created, err := e.ensureChat(ctx, msg.ChatID, msg.ChatTitle)
	if err != nil {
		return Result{}, err
	}

	switch cmd {
	case "start":
		if created {
			return reply(textGreetingNew), nil
		}
		return reply(textGreetingBack(chat.State)), nil
	case "menu":
		kb, err := e.menuKeyboard(ctx, chat.ID)
		if err != nil {
			return Result{}, err
		}
		return Result{Replies: []Reply{{Text: textMenuTitle, Keyboard: kb}}}, nil
	default:
		return reply(textUnexpected), nil
	}
}

// HandleText processes a free-text message against the chat's current state.
func (e *Engine) HandleText(ctx context.Context, msg *transport.Message) (Result, error) {
	// A freshly created chat starts in StateAwaitTask, so the very first
	// message becomes the first task's text.
	chat, _, err := e.ensureChat(ctx, msg.ChatID, msg.ChatTitle)
	if err != nil {
		return Result{}, err
	}

	switch {
	case chat.State == store.StateAwaitNotifyTime:
		return e.setNotifyTime(ctx, chat, msg.Text)
	case chat.State == store.StateAwaitTask:
		return e.createTask(ctx, chat, msg)
	case chat.State == store.StateAwaitPeriod && chat.EditingTaskID != nil:
		return e.setPeriod(ctx, chat, msg.Text)
	default:
		return reply(textUnexpected), nil
	}
}

func (e *Engine) setNotifyTime(ctx context.Context, chat store.Chat, text string) (Result, error) {
	hour, minute, err := due.ParseHHMM(text)
	if err != nil {
		return reply(textBadTime), nil
	}

	normal := store.StateNormal
	next := due.WithClock(chat.NextCheckAt, hour, minute)
	_, err = e.store.UpdateChat(ctx, chat.ID, store.ChatPatch{
		State:            &normal,
		NextCheckAt:      &next,
		ClearEditingTask: true,
	})
	if err != nil {
		return Result{}, fmt.Errorf("update chat %s: %w", chat.ID, err)
	}
	return reply(textTimeSet(hour, minute)), nil
}

func (e *Engine) createTask(ctx context.Context, chat store.Chat, msg *transport.Message) (Result, error) {
	now := e.now()
	task, err := e.store.CreateTask(ctx, store.Task{
		ChatID:     chat.ID,
		Content:    msg.Text,
		MessageID:  msg.ID,
		PeriodDays: 1,
		DueAt:      now,
		LastDoneAt: now,
	})
	if err != nil {
		return Result{}, fmt.Errorf("create task: %w", err)
	}

	await := store.StateAwaitPeriod
	_, err = e.store.UpdateChat(ctx, chat.ID, store.ChatPatch{State: &await, EditingTaskID: &task.ID})
	if err != nil {
		return Result{}, fmt.Errorf("update chat %s: %w", chat.ID, err)
	}
	e.log.Debug("task created", logx.String("chat", chat.ID), logx.Int64("task", task.ID))
	return reply(textAskPeriod), nil
}

func (e *Engine) setPeriod(ctx context.Context, chat store.Chat, text string) (Result, error) {
	days, err := strconv.Atoi(strings.TrimSpace(text))
	if err != nil || days < 1 {
		return reply(textBadPeriod), nil
	}

	taskID := *chat.EditingTaskID
	normal := store.StateNormal
	if _, err := e.store.UpdateChat(ctx, chat.ID, store.ChatPatch{State: &normal, ClearEditingTask: true}); err != nil {
		return Result{}, fmt.Errorf("update chat %s: %w", chat.ID, err)
	}

	task, err := e.store.UpdateTask(ctx, taskID, store.TaskPatch{PeriodDays: &days})
	if errors.Is(err, store.ErrNotFound) {
		return reply(textNoTask(taskID)), nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("update task %d: %w", taskID, err)
	}
	return Result{Replies: []Reply{{Text: textPeriodSet(days), ReplyTo: task.MessageID}}}, nil
}

// HandleCallback processes an inline-button press.
func (e *Engine) HandleCallback(ctx context.Context, cb *transport.Callback) (Result, error) {
	chat, _, err := e.ensureChat(ctx, cb.ChatID, cb.ChatTitle)
	if err != nil {
		return Result{}, err
	}

	switch cb.Data {
	case "new":
		return e.cbNewTask(ctx, chat)
	case "setup/time":
		return e.cbSetupTime(ctx, chat)
	}

	action, id, ok := splitAction(cb.Data)
	if !ok {
		return Result{Answer: &Answer{Text: textUnexpected}}, nil
	}

	switch action {
	case "mark":
		return e.cbMarkDone(ctx, id, cb.FromID)
	case "time":
		return e.cbEditPeriod(ctx, chat, id)
	case "delete":
		return e.cbDeleteTask(ctx, chat, id, cb.MessageID)
	default:
		return Result{Answer: &Answer{Text: textUnexpected}}, nil
	}
}

func splitAction(data string) (action string, id int64, ok bool) {
	action, raw, found := strings.Cut(data, "/")
	if !found {
		return "", 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return "", 0, false
	}
	return action, id, true
}

func (e *Engine) cbNewTask(ctx context.Context, chat store.Chat) (Result, error) {
	await := store.StateAwaitTask
	_, err := e.store.UpdateChat(ctx, chat.ID, store.ChatPatch{State: &await, ClearEditingTask: true})
	if err != nil {
		return Result{}, fmt.Errorf("update chat %s: %w", chat.ID, err)
	}
	return Result{
		Replies: []Reply{{Text: textAskTask}},
		Answer:  &Answer{Text: textAskTask},
	}, nil
}

func (e *Engine) cbSetupTime(ctx context.Context, chat store.Chat) (Result, error) {
	await := store.StateAwaitNotifyTime
	_, err := e.store.UpdateChat(ctx, chat.ID, store.ChatPatch{State: &await})
	if err != nil {
		return Result{}, fmt.Errorf("update chat %s: %w", chat.ID, err)
	}
	text := textSetupTime(chat.NextCheckAt.Hour(), chat.NextCheckAt.Minute())
	return Result{
		Replies: []Reply{{Text: text}},
		Answer:  &Answer{Text: text},
	}, nil
}

func (e *Engine) cbMarkDone(ctx context.Context, taskID, userID int64) (Result, error) {
	now := e.now()
	task, err := e.store.UpdateTask(ctx, taskID, store.TaskPatch{
		LastDoneAt:   &now,
		DoneByUserID: &userID,
	})
	if errors.Is(err, store.ErrNotFound) {
		return Result{Answer: &Answer{Text: textNoTask(taskID), Alert: true}}, nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("update task %d: %w", taskID, err)
	}
	return Result{Answer: &Answer{Text: textMarkedDone(task.Content, task.PeriodDays), Alert: true}}, nil
}

func (e *Engine) cbEditPeriod(ctx context.Context, chat store.Chat, taskID int64) (Result, error) {
	task, err := e.store.GetTask(ctx, taskID)
	if errors.Is(err, store.ErrNotFound) {
		return Result{Answer: &Answer{Text: textNoTask(taskID), Alert: true}}, nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("get task %d: %w", taskID, err)
	}

	await := store.StateAwaitPeriod
	_, err = e.store.UpdateChat(ctx, chat.ID, store.ChatPatch{State: &await, EditingTaskID: &task.ID})
	if err != nil {
		return Result{}, fmt.Errorf("update chat %s: %w", chat.ID, err)
	}
	text := textAskPeriodFor(task.Content)
	return Result{
		Replies: []Reply{{Text: text}},
		Answer:  &Answer{Text: text},
	}, nil
}

func (e *Engine) cbDeleteTask(ctx context.Context, chat store.Chat, taskID int64, menuMsgID int) (Result, error) {
	task, err := e.store.GetTask(ctx, taskID)
	if errors.Is(err, store.ErrNotFound) {
		return Result{Answer: &Answer{Text: textNoTask(taskID), Alert: true}}, nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("get task %d: %w", taskID, err)
	}

	if err := e.store.DeleteTask(ctx, taskID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Result{Answer: &Answer{Text: textNoTask(taskID), Alert: true}}, nil
		}
		return Result{}, fmt.Errorf("delete task %d: %w", taskID, err)
	}
	e.log.Info("task deleted", logx.String("chat", chat.ID), logx.Int64("task", taskID))

	kb, err := e.menuKeyboard(ctx, chat.ID)
	if err != nil {
		return Result{}, err
	}
	return Result{
		Replies:      []Reply{{Text: textDeleted, ReplyTo: task.MessageID}},
		Answer:       &Answer{Text: textDeleted, Alert: true},
		EditKeyboard: &KeyboardEdit{MessageID: menuMsgID, Keyboard: kb},
	}, nil
}

// menuKeyboard builds the actions keyboard: a header row plus one row per
// owned task (mark / edit period / delete).
func (e *Engine) menuKeyboard(ctx context.Context, chatID string) (transport.Keyboard, error) {
	tasks, err := e.store.ListChatTasks(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("list tasks of %s: %w", chatID, err)
	}

	kb := transport.Keyboard{{
		{Label: labelNewTask, Data: "new"},
		{Label: labelSetupTime, Data: "setup/time"},
	}}
	for _, t := range tasks {
		id := strconv.FormatInt(t.ID, 10)
		kb = append(kb, []transport.Button{
			{Label: "➡️" + t.Content, Data: "mark/" + id},
			{Label: labelEditTime, Data: "time/" + id},
			{Label: labelDelete, Data: "delete/" + id},
		})
	}
	return kb, nil
}
