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
	FromID       int64
	FromUsername string
	Text         string
}

type Callback struct {
	ID        string
	FromID    int64
	ChatID    int64
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

// Entity is a rich-formatting span over the message text
// (UTF-16 offsets, Telegram convention).
type Entity struct {
	Type   string
	Offset int
	Length int
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
	Entities       []Entity
	// ReplyMarkupAdapter carries adapter-specific markup
	// (Telegram: *telebot.ReplyMarkup).
	ReplyMarkupAdapter any
}

// Adapter is the messaging-platform boundary. Start pumps incoming updates
// into out until Stop.
type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
	AnswerCallback(ctx context.Context, callbackID string, text string) error
}
