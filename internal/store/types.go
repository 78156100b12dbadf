package store

import (
	"errors"
	"time"
)

var ErrNotFound = errors.New("record not found")

// Config configures the entity store.
//
// Driver values:
//   - "sqlite": SQLite database file (default)
//   - "memory": in-process map store (tests, throwaway runs)
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// ChatState is the dialogue position of a chat.
type ChatState int

const (
	StateNormal ChatState = iota
	StateAwaitTask
	StateAwaitPeriod
	StateAwaitNotifyTime
	// StateAwaitTaskNotifyTime is declared for schema compatibility; no
	// dialogue transition enters it and the engine treats it as unknown input.
	StateAwaitTaskNotifyTime
)

// Chat is one Telegram chat the bot talks to. Never deleted.
//
// EditingTaskID is set exactly while State is StateAwaitPeriod (the task
// whose period is being entered); it is nil in every other state.
// NextCheckAt is the reminder heartbeat: the earliest moment the reminder
// service re-examines this chat's tasks.
type Chat struct {
	ID            string
	Name          string
	State         ChatState
	EditingTaskID *int64
	NextCheckAt   time.Time
}

// Task is one recurring reminder owned by a chat.
//
// DueAt is always a calendar date combined with the task's original
// time-of-day. ExactTime selects the due rule: false means due once the
// scheduled date has arrived, true means due at the full timestamp.
type Task struct {
	ID           int64
	ChatID       string
	Content      string
	MessageID    int // inbound message that created the task
	LastNotifyID int // most recent reminder message
	PeriodDays   int
	ExactTime    bool
	DueAt        time.Time
	LastDoneAt   time.Time
	DoneByUserID int64
}

// ChatPatch updates individual chat fields atomically. Nil pointers leave
// the field untouched; ClearEditingTask wins over EditingTaskID.
type ChatPatch struct {
	Name             *string
	State            *ChatState
	EditingTaskID    *int64
	ClearEditingTask bool
	NextCheckAt      *time.Time
}

// TaskPatch updates individual task fields atomically.
type TaskPatch struct {
	PeriodDays   *int
	ExactTime    *bool
	DueAt        *time.Time
	LastNotifyID *int
	LastDoneAt   *time.Time
	DoneByUserID *int64
}
