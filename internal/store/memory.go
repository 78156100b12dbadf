package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Memory is a map-backed Store. It serializes all record access behind one
// mutex, matching the single-writer atomicity the sqlite store provides.
type Memory struct {
	mu     sync.Mutex
	chats  map[string]Chat
	tasks  map[int64]Task
	nextID int64
}

func NewMemory() *Memory {
	return &Memory{
		chats:  map[string]Chat{},
		tasks:  map[int64]Task{},
		nextID: 1,
	}
}

func (m *Memory) Close() error { return nil }

func (m *Memory) GetChat(_ context.Context, id string) (Chat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.chats[id]
	if !ok {
		return Chat{}, ErrNotFound
	}
	return c, nil
}

func (m *Memory) CreateChat(_ context.Context, c Chat) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chats[c.ID] = c
	return nil
}

func (m *Memory) UpdateChat(_ context.Context, id string, p ChatPatch) (Chat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.chats[id]
	if !ok {
		return Chat{}, ErrNotFound
	}
	if p.Name != nil {
		c.Name = *p.Name
	}
	if p.State != nil {
		c.State = *p.State
	}
	switch {
	case p.ClearEditingTask:
		c.EditingTaskID = nil
	case p.EditingTaskID != nil:
		v := *p.EditingTaskID
		c.EditingTaskID = &v
	}
	if p.NextCheckAt != nil {
		c.NextCheckAt = *p.NextCheckAt
	}
	m.chats[id] = c
	return c, nil
}

func (m *Memory) ListDueChats(_ context.Context, now time.Time) ([]Chat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Chat
	for _, c := range m.chats {
		if !c.NextCheckAt.After(now) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) GetTask(_ context.Context, id int64) (Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return Task{}, ErrNotFound
	}
	return t, nil
}

func (m *Memory) CreateTask(_ context.Context, t Task) (Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t.ID = m.nextID
	m.nextID++
	m.tasks[t.ID] = t
	return t, nil
}

func (m *Memory) UpdateTask(_ context.Context, id int64, p TaskPatch) (Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return Task{}, ErrNotFound
	}
	if p.PeriodDays != nil {
		t.PeriodDays = *p.PeriodDays
	}
	if p.ExactTime != nil {
		t.ExactTime = *p.ExactTime
	}
	if p.DueAt != nil {
		t.DueAt = *p.DueAt
	}
	if p.LastNotifyID != nil {
		t.LastNotifyID = *p.LastNotifyID
	}
	if p.LastDoneAt != nil {
		t.LastDoneAt = *p.LastDoneAt
	}
	if p.DoneByUserID != nil {
		t.DoneByUserID = *p.DoneByUserID
	}
	m.tasks[id] = t
	return t, nil
}

func (m *Memory) DeleteTask(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tasks[id]; !ok {
		return ErrNotFound
	}
	delete(m.tasks, id)
	return nil
}

func (m *Memory) ListChatTasks(_ context.Context, chatID string) ([]Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Task
	for _, t := range m.tasks {
		if t.ChatID == chatID {
			out = append(out, t)
		}
	}
	sortTasks(out)
	return out, nil
}

func (m *Memory) ListDueFloorTasks(_ context.Context, chatIDs []string, cutoff time.Time) ([]Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make(map[string]bool, len(chatIDs))
	for _, id := range chatIDs {
		ids[id] = true
	}
	var out []Task
	for _, t := range m.tasks {
		if !t.ExactTime && ids[t.ChatID] && !t.DueAt.After(cutoff) {
			out = append(out, t)
		}
	}
	sortTasks(out)
	return out, nil
}

func (m *Memory) ListDueExactTasks(_ context.Context, now time.Time) ([]Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Task
	for _, t := range m.tasks {
		if t.ExactTime && !t.DueAt.After(now) {
			out = append(out, t)
		}
	}
	sortTasks(out)
	return out, nil
}

func sortTasks(ts []Task) {
	sort.Slice(ts, func(i, j int) bool { return ts[i].ID < ts[j].ID })
}
