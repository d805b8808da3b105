// Package kit defines the transport-neutral types shared between the core
// runtime, chat adapters and plugins. Adapters translate these into their
// platform's wire types.
package kit

import "context"

type UpdateKind string

const (
	UpdateMessage  UpdateKind = "message"
	UpdateCallback UpdateKind = "callback"
)

// Update is one inbound event from a chat adapter.
type Update struct {
	Kind     UpdateKind
	Message  *Message
	Callback *Callback
}

type Message struct {
	ID           int
	ChatID       int64
	ThreadID     int
	FromID       int64
	FromUsername string
	Text         string
}

type Callback struct {
	ID        string
	ChatID    int64
	ThreadID  int
	FromID    int64
	MessageID int
	Data      string
}

// ChatTarget addresses a chat (and optionally a topic thread) for outbound sends.
type ChatTarget struct {
	ChatID   int64
	ThreadID int
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool

	// ReplyMarkupAdapter carries adapter-specific markup (e.g. *tele.ReplyMarkup).
	// Adapters type-assert; a mismatch is silently ignored.
	ReplyMarkupAdapter any
}

type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

// Notification is a free-text message routed through the notify service.
type Notification struct {
	Channel  string
	Priority int
	Target   ChatTarget
	Text     string
	Options  *SendOptions
}

type BotCommand struct {
	Command     string
	Description string
}

// Adapter is the chat platform boundary. Start pushes inbound updates into
// out until ctx is cancelled; sends are safe for concurrent use.
type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
	EditText(ctx context.Context, ref MessageRef, text string, opt *SendOptions) error
	AnswerCallback(ctx context.Context, callbackID string, text string) error
}
