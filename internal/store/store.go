package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"tasksbot/pkg/logx"
)

// Store is the persistence API shared by the dialogue engine and the
// reminder service. Each update is a single-record atomic read-modify-write
// keyed by primary id; no cross-record transactions are needed.
type Store interface {
	GetChat(ctx context.Context, id string) (Chat, error)
	CreateChat(ctx context.Context, c Chat) error
	UpdateChat(ctx context.Context, id string, p ChatPatch) (Chat, error)
	// ListDueChats returns chats whose heartbeat is due: next_check_at <= now.
	ListDueChats(ctx context.Context, now time.Time) ([]Chat, error)

	GetTask(ctx context.Context, id int64) (Task, error)
	CreateTask(ctx context.Context, t Task) (Task, error)
	UpdateTask(ctx context.Context, id int64, p TaskPatch) (Task, error)
	DeleteTask(ctx context.Context, id int64) error
	ListChatTasks(ctx context.Context, chatID string) ([]Task, error)
	// ListDueFloorTasks returns date-granularity tasks of the given chats
	// with due_at <= cutoff (start of today).
	ListDueFloorTasks(ctx context.Context, chatIDs []string, cutoff time.Time) ([]Task, error)
	// ListDueExactTasks returns exact-time tasks with due_at <= now,
	// regardless of chat heartbeat.
	ListDueExactTasks(ctx context.Context, now time.Time) ([]Task, error)

	Close() error
}

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "memory":
		return NewMemory(), nil
	default:
		return nil, errors.New("unknown storage driver: " + cfg.Driver)
	}
}
