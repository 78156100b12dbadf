package transport

import "context"

type UpdateKind string

const (
	UpdateMessage  UpdateKind = "message"
	UpdateCallback UpdateKind = "callback"
)

type Update struct {
	Kind     UpdateKind
	Message  *Message
	Callback *Callback
}

type Message struct {
	ID           int
	ChatID       int64
	ChatTitle    string // group title or sender username
	FromID       int64
	FromUsername string
	Text         string
	IsGroup      bool
}

type Callback struct {
	ID        string
	FromID    int64
	ChatID    int64
	ChatTitle string
	MessageID int
	Data      string
}

type ChatTarget struct {
	ChatID int64
}

type MessageRef struct {
	ChatID    int64
	MessageID int
}

// Button is one inline-keyboard button. Data encodes an action and an
// optional task id, e.g. "mark/42", "delete/42", "time/42", "new",
// "setup/time".
type Button struct {
	Label string
	Data  string
}

// Keyboard is a logical inline keyboard: rows of buttons. Adapters convert
// it to their wire representation.
type Keyboard [][]Button

type SendOptions struct {
	// ReplyTo threads the outgoing message to an earlier one (0 = none).
	ReplyTo  int
	Keyboard Keyboard
}

// Sender is the outbound half of an adapter. The reminder service and the
// app's effect executor depend on this interface only.
type Sender interface {
	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
	EditKeyboard(ctx context.Context, ref MessageRef, kb Keyboard) error
	AnswerCallback(ctx context.Context, callbackID string, text string, alert bool) error
}

type Adapter interface {
	Sender

	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error
}
