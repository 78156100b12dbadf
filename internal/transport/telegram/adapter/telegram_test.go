package adapter

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	tele "gopkg.in/telebot.v4"

	kit "tasksbot/internal/transport"
	"tasksbot/pkg/logx"
)

// bareAdapter builds an adapter without a live bot so the lifecycle and
// conversion logic can run offline.
func bareAdapter() *Adapter {
	a := &Adapter{log: logx.Nop()}
	var nilOut chan<- kit.Update
	a.out.Store(nilOut)
	return a
}

func TestStopReturnsPromptlyAndIsIdempotent(t *testing.T) {
	a := bareAdapter()
	out := make(chan kit.Update, 1)
	if err := a.Start(context.Background(), out); err != nil {
		t.Fatalf("Start: %v", err)
	}

	done := make(chan struct{})
	go func() {
		if err := a.Stop(context.Background()); err != nil {
			t.Errorf("Stop: %v", err)
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not return")
	}

	// Stop without a running adapter is a no-op.
	if err := a.Stop(context.Background()); err != nil {
		t.Fatalf("second Stop: %v", err)
	}

	// After Stop the output channel is detached; nothing is delivered or
	// counted against it.
	a.sendUpdate(kit.Update{Kind: kit.UpdateMessage})
	select {
	case up := <-out:
		t.Fatalf("update delivered after Stop: %+v", up)
	default:
	}
}

func TestSendUpdateCountsDropsWhenChannelFull(t *testing.T) {
	a := bareAdapter()
	out := make(chan kit.Update, 1)
	a.out.Store((chan<- kit.Update)(out))

	a.sendUpdate(kit.Update{Kind: kit.UpdateMessage})
	a.sendUpdate(kit.Update{Kind: kit.UpdateMessage})

	if n := atomic.LoadUint64(&a.droppedUpdates); n != 1 {
		t.Fatalf("droppedUpdates = %d, want 1", n)
	}
	if len(out) != 1 {
		t.Fatalf("delivered = %d, want 1", len(out))
	}
}

func TestToMarkup(t *testing.T) {
	t.Parallel()
	if m := toMarkup(nil); m != nil {
		t.Fatalf("toMarkup(nil) = %+v, want nil", m)
	}

	kb := kit.Keyboard{
		{{Label: "📝 Добавить дело", Data: "new"}},
		{{Label: "➡️Купить молоко", Data: "mark/7"}, {Label: "🗑", Data: "delete/7"}},
	}
	m := toMarkup(kb)
	if len(m.InlineKeyboard) != 2 {
		t.Fatalf("rows = %d, want 2", len(m.InlineKeyboard))
	}
	got := m.InlineKeyboard[1][0]
	if got.Text != "➡️Купить молоко" || got.Data != "mark/7" {
		t.Fatalf("unexpected button: %+v", got)
	}
}

func TestChatTitleFallsBackToUsername(t *testing.T) {
	t.Parallel()
	group := &tele.Message{
		Chat:   &tele.Chat{Title: "Семья", Type: tele.ChatGroup},
		Sender: &tele.User{Username: "alice"},
	}
	if got := chatTitle(group); got != "Семья" {
		t.Fatalf("chatTitle(group) = %q", got)
	}

	private := &tele.Message{
		Chat:   &tele.Chat{Type: tele.ChatPrivate},
		Sender: &tele.User{Username: "alice"},
	}
	if got := chatTitle(private); got != "alice" {
		t.Fatalf("chatTitle(private) = %q", got)
	}

	if got := chatTitle(nil); got != "" {
		t.Fatalf("chatTitle(nil) = %q", got)
	}
}
