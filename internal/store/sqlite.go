package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"tasksbot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

const chatCols = "chat_id, name, state, editing_task_id, next_check_at"

func scanChat(row interface{ Scan(...any) error }) (Chat, error) {
	var (
		c       Chat
		state   int
		editing sql.NullInt64
		nextMS  int64
	)
	if err := row.Scan(&c.ID, &c.Name, &state, &editing, &nextMS); err != nil {
		return Chat{}, err
	}
	c.State = ChatState(state)
	if editing.Valid {
		v := editing.Int64
		c.EditingTaskID = &v
	}
	c.NextCheckAt = time.UnixMilli(nextMS).Local()
	return c, nil
}

func (s *sqliteStore) GetChat(ctx context.Context, id string) (Chat, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+chatCols+` FROM chats WHERE chat_id = ?`, id)
	c, err := scanChat(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Chat{}, ErrNotFound
	}
	return c, err
}

func (s *sqliteStore) CreateChat(ctx context.Context, c Chat) error {
	var editing any
	if c.EditingTaskID != nil {
		editing = *c.EditingTaskID
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chats(chat_id, name, state, editing_task_id, next_check_at) VALUES(?,?,?,?,?)`,
		c.ID, c.Name, int(c.State), editing, c.NextCheckAt.UnixMilli(),
	)
	return err
}

func (s *sqliteStore) UpdateChat(ctx context.Context, id string, p ChatPatch) (Chat, error) {
	sets := make([]string, 0, 4)
	args := make([]any, 0, 5)
	if p.Name != nil {
		sets = append(sets, "name = ?")
		args = append(args, *p.Name)
	}
	if p.State != nil {
		sets = append(sets, "state = ?")
		args = append(args, int(*p.State))
	}
	switch {
	case p.ClearEditingTask:
		sets = append(sets, "editing_task_id = NULL")
	case p.EditingTaskID != nil:
		sets = append(sets, "editing_task_id = ?")
		args = append(args, *p.EditingTaskID)
	}
	if p.NextCheckAt != nil {
		sets = append(sets, "next_check_at = ?")
		args = append(args, p.NextCheckAt.UnixMilli())
	}
	if len(sets) == 0 {
		return s.GetChat(ctx, id)
	}
	args = append(args, id)
	res, err := s.db.ExecContext(ctx, `UPDATE chats SET `+strings.Join(sets, ", ")+` WHERE chat_id = ?`, args...)
	if err != nil {
		return Chat{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return Chat{}, ErrNotFound
	}
	return s.GetChat(ctx, id)
}

func (s *sqliteStore) ListDueChats(ctx context.Context, now time.Time) ([]Chat, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+chatCols+` FROM chats WHERE next_check_at <= ? ORDER BY chat_id`, now.UnixMilli())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Chat
	for rows.Next() {
		c, err := scanChat(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

const taskCols = "id, chat_id, content, message_id, last_notify_id, period_days, exact_time, due_at, last_done_at, done_by_user_id"

func scanTask(row interface{ Scan(...any) error }) (Task, error) {
	var (
		t             Task
		exact         int
		dueMS, doneMS int64
	)
	if err := row.Scan(&t.ID, &t.ChatID, &t.Content, &t.MessageID, &t.LastNotifyID,
		&t.PeriodDays, &exact, &dueMS, &doneMS, &t.DoneByUserID); err != nil {
		return Task{}, err
	}
	t.ExactTime = exact != 0
	t.DueAt = time.UnixMilli(dueMS).Local()
	t.LastDoneAt = time.UnixMilli(doneMS).Local()
	return t, nil
}

func (s *sqliteStore) GetTask(ctx context.Context, id int64) (Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskCols+` FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Task{}, ErrNotFound
	}
	return t, err
}

func (s *sqliteStore) CreateTask(ctx context.Context, t Task) (Task, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO tasks(chat_id, content, message_id, last_notify_id, period_days, exact_time, due_at, last_done_at, done_by_user_id)
		 VALUES(?,?,?,?,?,?,?,?,?)`,
		t.ChatID, t.Content, t.MessageID, t.LastNotifyID, t.PeriodDays, boolInt(t.ExactTime),
		t.DueAt.UnixMilli(), t.LastDoneAt.UnixMilli(), t.DoneByUserID,
	)
	if err != nil {
		return Task{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Task{}, err
	}
	t.ID = id
	return t, nil
}

func (s *sqliteStore) UpdateTask(ctx context.Context, id int64, p TaskPatch) (Task, error) {
	sets := make([]string, 0, 6)
	args := make([]any, 0, 7)
	if p.PeriodDays != nil {
		sets = append(sets, "period_days = ?")
		args = append(args, *p.PeriodDays)
	}
	if p.ExactTime != nil {
		sets = append(sets, "exact_time = ?")
		args = append(args, boolInt(*p.ExactTime))
	}
	if p.DueAt != nil {
		sets = append(sets, "due_at = ?")
		args = append(args, p.DueAt.UnixMilli())
	}
	if p.LastNotifyID != nil {
		sets = append(sets, "last_notify_id = ?")
		args = append(args, *p.LastNotifyID)
	}
	if p.LastDoneAt != nil {
		sets = append(sets, "last_done_at = ?")
		args = append(args, p.LastDoneAt.UnixMilli())
	}
	if p.DoneByUserID != nil {
		sets = append(sets, "done_by_user_id = ?")
		args = append(args, *p.DoneByUserID)
	}
	if len(sets) == 0 {
		return s.GetTask(ctx, id)
	}
	args = append(args, id)
	res, err := s.db.ExecContext(ctx, `UPDATE tasks SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return Task{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return Task{}, ErrNotFound
	}
	return s.GetTask(ctx, id)
}

func (s *sqliteStore) DeleteTask(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqliteStore) ListChatTasks(ctx context.Context, chatID string) ([]Task, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+taskCols+` FROM tasks WHERE chat_id = ? ORDER BY id`, chatID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTasks(rows)
}

func (s *sqliteStore) ListDueFloorTasks(ctx context.Context, chatIDs []string, cutoff time.Time) ([]Task, error) {
	if len(chatIDs) == 0 {
		return nil, nil
	}
	ph := strings.Repeat("?,", len(chatIDs))
	ph = ph[:len(ph)-1]
	args := make([]any, 0, len(chatIDs)+1)
	for _, id := range chatIDs {
		args = append(args, id)
	}
	args = append(args, cutoff.UnixMilli())

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+taskCols+` FROM tasks WHERE chat_id IN (`+ph+`) AND exact_time = 0 AND due_at <= ? ORDER BY id`,
		args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTasks(rows)
}

func (s *sqliteStore) ListDueExactTasks(ctx context.Context, now time.Time) ([]Task, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+taskCols+` FROM tasks WHERE exact_time = 1 AND due_at <= ? ORDER BY id`, now.UnixMilli())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTasks(rows)
}

func collectTasks(rows *sql.Rows) ([]Task, error) {
	var out []Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
