package reminder

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"tasksbot/internal/store"
	"tasksbot/internal/transport"
	"tasksbot/pkg/logx"
)

var testNow = time.Date(2024, 5, 10, 14, 30, 0, 0, time.Local)

type sentMsg struct {
	chatID int64
	text   string
	opt    transport.SendOptions
}

// fakeSender records sends and can fail selected task contents. It also
// tracks the peak number of concurrent SendText calls.
type fakeSender struct {
	mu       sync.Mutex
	sent     []sentMsg
	fail     map[string]bool
	nextID   int
	inflight int
	peak     int
	delay    time.Duration
}

func (f *fakeSender) SendText(ctx context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) (transport.MessageRef, error) {
	f.mu.Lock()
	f.inflight++
	if f.inflight > f.peak {
		f.peak = f.inflight
	}
	delay := f.delay
	f.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.inflight--
	if f.fail[text] {
		return transport.MessageRef{}, errors.New("telegram says no")
	}
	f.nextID++
	o := transport.SendOptions{}
	if opt != nil {
		o = *opt
	}
	f.sent = append(f.sent, sentMsg{chatID: to.ChatID, text: text, opt: o})
	return transport.MessageRef{ChatID: to.ChatID, MessageID: f.nextID}, nil
}

func (f *fakeSender) EditKeyboard(ctx context.Context, ref transport.MessageRef, kb transport.Keyboard) error {
	return nil
}

func (f *fakeSender) AnswerCallback(ctx context.Context, id, text string, alert bool) error {
	return nil
}

func (f *fakeSender) sentTexts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.sent))
	for _, m := range f.sent {
		out = append(out, m.text)
	}
	return out
}

func newService(t *testing.T) (*Service, *store.Memory, *fakeSender) {
	t.Helper()
	st := store.NewMemory()
	snd := &fakeSender{fail: map[string]bool{}}
	s := New(Config{Enabled: true}, st, snd, logx.Nop())
	s.now = func() time.Time { return testNow }
	return s, st, snd
}

func dueChat(t *testing.T, st store.Store, id string, at time.Time) {
	t.Helper()
	if err := st.CreateChat(context.Background(), store.Chat{ID: id, State: store.StateNormal, NextCheckAt: at}); err != nil {
		t.Fatalf("CreateChat: %v", err)
	}
}

func addTask(t *testing.T, st store.Store, task store.Task) store.Task {
	t.Helper()
	created, err := st.CreateTask(context.Background(), task)
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	return created
}

func TestTickDispatchesAndReschedules(t *testing.T) {
	s, st, snd := newService(t)
	ctx := context.Background()

	heartbeat := time.Date(2024, 5, 10, 10, 0, 0, 0, time.Local)
	dueChat(t, st, "42", heartbeat)

	// Floor task scheduled yesterday at 09:00, period 3.
	orig := time.Date(2024, 5, 9, 9, 0, 0, 0, time.Local)
	task := addTask(t, st, store.Task{ChatID: "42", Content: "Buy milk", MessageID: 7, PeriodDays: 3, DueAt: orig, LastDoneAt: orig})

	s.tick(ctx)

	if got := snd.sentTexts(); len(got) != 1 || got[0] != "Buy milk" {
		t.Fatalf("sent = %v, want [Buy milk]", got)
	}
	sent := snd.sent[0]
	if sent.chatID != 42 || sent.opt.ReplyTo != 7 {
		t.Fatalf("unexpected send: %+v", sent)
	}
	if len(sent.opt.Keyboard) != 1 || sent.opt.Keyboard[0][0].Data != "mark/1" {
		t.Fatalf("unexpected keyboard: %+v", sent.opt.Keyboard)
	}

	got, err := st.GetTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	// today + 3 days at the task's original 09:00.
	want := time.Date(2024, 5, 13, 9, 0, 0, 0, time.Local)
	if !got.DueAt.Equal(want) {
		t.Fatalf("DueAt = %v, want %v", got.DueAt, want)
	}
	if got.LastNotifyID == 0 {
		t.Fatal("LastNotifyID not recorded")
	}

	chat, _ := st.GetChat(ctx, "42")
	// tomorrow at the heartbeat's original 10:00.
	wantBeat := time.Date(2024, 5, 11, 10, 0, 0, 0, time.Local)
	if !chat.NextCheckAt.Equal(wantBeat) {
		t.Fatalf("NextCheckAt = %v, want %v", chat.NextCheckAt, wantBeat)
	}
}

func TestTickIdempotentWithoutTimePassage(t *testing.T) {
	s, st, snd := newService(t)
	ctx := context.Background()

	dueChat(t, st, "42", testNow.Add(-time.Hour))
	addTask(t, st, store.Task{ChatID: "42", Content: "floor", PeriodDays: 1, DueAt: testNow.AddDate(0, 0, -1), LastDoneAt: testNow})
	addTask(t, st, store.Task{ChatID: "42", Content: "exact", ExactTime: true, PeriodDays: 2, DueAt: testNow.Add(-time.Minute), LastDoneAt: testNow})

	s.tick(ctx)
	s.tick(ctx)

	if got := snd.sentTexts(); len(got) != 2 {
		t.Fatalf("sent %d notifications across two ticks, want 2: %v", len(got), got)
	}
}

func TestExactModeDoesNotFireEarly(t *testing.T) {
	s, st, snd := newService(t)
	ctx := context.Background()

	dueChat(t, st, "42", testNow.Add(-time.Hour))
	addTask(t, st, store.Task{ChatID: "42", Content: "later", ExactTime: true, PeriodDays: 1, DueAt: testNow.Add(time.Hour), LastDoneAt: testNow})

	s.tick(ctx)

	if got := snd.sentTexts(); len(got) != 0 {
		t.Fatalf("early dispatch of exact-mode task: %v", got)
	}
	// Heartbeat still advances even with nothing due.
	chat, _ := st.GetChat(ctx, "42")
	if !chat.NextCheckAt.After(testNow) {
		t.Fatalf("heartbeat not advanced: %v", chat.NextCheckAt)
	}
}

func TestTickSkipsWhenNoChatIsDue(t *testing.T) {
	s, st, snd := newService(t)
	ctx := context.Background()

	dueChat(t, st, "42", testNow.Add(time.Hour))
	addTask(t, st, store.Task{ChatID: "42", Content: "exact", ExactTime: true, PeriodDays: 1, DueAt: testNow.Add(-time.Minute), LastDoneAt: testNow})

	s.tick(ctx)

	if got := snd.sentTexts(); len(got) != 0 {
		t.Fatalf("dispatch without any due chat: %v", got)
	}
	chat, _ := st.GetChat(ctx, "42")
	if !chat.NextCheckAt.Equal(testNow.Add(time.Hour)) {
		t.Fatalf("heartbeat of non-due chat touched: %v", chat.NextCheckAt)
	}
}

func TestDispatchFailureIsIsolated(t *testing.T) {
	s, st, snd := newService(t)
	ctx := context.Background()

	dueChat(t, st, "42", testNow.Add(-time.Hour))
	broken := addTask(t, st, store.Task{ChatID: "42", Content: "broken", PeriodDays: 1, DueAt: testNow.AddDate(0, 0, -1), LastDoneAt: testNow})
	fine := addTask(t, st, store.Task{ChatID: "42", Content: "fine", PeriodDays: 1, DueAt: testNow.AddDate(0, 0, -1), LastDoneAt: testNow})
	snd.mu.Lock()
	snd.fail["broken"] = true
	snd.mu.Unlock()

	s.tick(ctx)

	if got := snd.sentTexts(); len(got) != 1 || got[0] != "fine" {
		t.Fatalf("sent = %v, want [fine]", got)
	}

	// Failed task untouched: retried on the next qualifying tick.
	b, _ := st.GetTask(ctx, broken.ID)
	if !b.DueAt.Equal(broken.DueAt) || b.LastNotifyID != 0 {
		t.Fatalf("failed task was mutated: %+v", b)
	}

	f, _ := st.GetTask(ctx, fine.ID)
	if !f.DueAt.After(testNow) {
		t.Fatalf("successful task not rescheduled: %v", f.DueAt)
	}

	// Heartbeat advance is unconditional.
	chat, _ := st.GetChat(ctx, "42")
	if !chat.NextCheckAt.After(testNow) {
		t.Fatalf("heartbeat not advanced after partial failure: %v", chat.NextCheckAt)
	}
}

func TestHeartbeatAdvancesWithoutTasks(t *testing.T) {
	s, st, snd := newService(t)
	ctx := context.Background()

	beat := time.Date(2024, 5, 9, 18, 15, 0, 0, time.Local)
	dueChat(t, st, "42", beat)

	s.tick(ctx)

	if len(snd.sentTexts()) != 0 {
		t.Fatal("nothing should have been sent")
	}
	chat, _ := st.GetChat(ctx, "42")
	want := time.Date(2024, 5, 11, 18, 15, 0, 0, time.Local)
	if !chat.NextCheckAt.Equal(want) {
		t.Fatalf("NextCheckAt = %v, want %v (tomorrow at the old time-of-day)", chat.NextCheckAt, want)
	}
}

func TestDispatchFanOutIsBounded(t *testing.T) {
	st := store.NewMemory()
	snd := &fakeSender{fail: map[string]bool{}, delay: 20 * time.Millisecond}
	s := New(Config{Enabled: true, MaxConcurrent: 2, RatePerSec: 1000}, st, snd, logx.Nop())
	s.now = func() time.Time { return testNow }
	ctx := context.Background()

	dueChat(t, st, "42", testNow.Add(-time.Hour))
	for i := 0; i < 6; i++ {
		addTask(t, st, store.Task{ChatID: "42", Content: "task " + strings.Repeat("x", i+1), PeriodDays: 1, DueAt: testNow.AddDate(0, 0, -1), LastDoneAt: testNow})
	}

	s.tick(ctx)

	snd.mu.Lock()
	peak, sent := snd.peak, len(snd.sent)
	snd.mu.Unlock()
	if sent != 6 {
		t.Fatalf("sent = %d, want 6", sent)
	}
	if peak > 2 {
		t.Fatalf("peak concurrency = %d, want <= 2", peak)
	}
}

func TestRescheduleRoundTrip(t *testing.T) {
	s, st, _ := newService(t)
	ctx := context.Background()

	// Period 3, due today at 09:00; dispatch now (14:30).
	orig := time.Date(2024, 5, 10, 9, 0, 0, 0, time.Local)
	task := addTask(t, st, store.Task{ChatID: "42", Content: "round trip", PeriodDays: 3, DueAt: orig, LastDoneAt: orig})

	cfg, limiter := s.snapshot()
	s.dispatch(ctx, task, cfg, limiter)

	got, _ := st.GetTask(ctx, task.ID)
	want := time.Date(2024, 5, 13, 9, 0, 0, 0, time.Local)
	if !got.DueAt.Equal(want) {
		t.Fatalf("DueAt = %v, want exactly 3 days later at 09:00 (%v)", got.DueAt, want)
	}
}

func (s *Service) cronRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.c != nil
}

func TestApplySurvivesDisableEnableCycle(t *testing.T) {
	s, _, _ := newService(t)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop(context.Background())

	base, _ := s.snapshot()
	off := base
	off.Enabled = false
	s.Apply(off)
	if s.cronRunning() {
		t.Fatal("cadence still running after disable")
	}

	s.Apply(base)
	if !s.cronRunning() {
		t.Fatal("cadence not restarted after re-enable")
	}
}

func TestApplyEnablesWhenStartedDisabled(t *testing.T) {
	st := store.NewMemory()
	snd := &fakeSender{fail: map[string]bool{}}
	s := New(Config{Enabled: false}, st, snd, logx.Nop())

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop(context.Background())
	if s.cronRunning() {
		t.Fatal("cadence running despite disabled config")
	}

	s.Apply(Config{Enabled: true})
	if !s.cronRunning() {
		t.Fatal("cadence not started by enabling reload")
	}
}

func TestStartStop(t *testing.T) {
	s, st, _ := newService(t)
	dueChat(t, st, "42", testNow.Add(time.Hour))

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	// Second start is a no-op.
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start twice: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s.Stop(ctx)
	// Stop again is safe.
	s.Stop(ctx)
}
