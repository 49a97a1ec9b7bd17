package transport

import (
	"context"
	"errors"
)

// ErrMessageGone is returned by deletes when the message no longer exists.
var ErrMessageGone = errors.New("message not found")

// Target addresses a chat (and optionally a forum topic inside it).
type Target struct {
	ChatID   int64
	ThreadID int
}

func (t Target) IsZero() bool { return t.ChatID == 0 }

// MessageRef identifies a message that was sent by the channel.
type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
}

// Severity is the highlight tier of a rendered card.
type Severity string

const (
	SeverityNormal   Severity = "normal"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// CardField is one labelled value inside a card.
type CardField struct {
	Name   string
	Value  string
	Inline bool
}

// Card is the displayable unit handed to a Channel. Adapters decide how to
// lay it out (Telegram renders it as an HTML block).
type Card struct {
	Title       string
	Description string
	Severity    Severity
	Fields      []CardField
	Thumbnail   string
	Timestamp   string
}

// Channel is the outbound chat surface used by the dispatch queue.
//
// Ready is closed once the channel can accept sends; it never reopens.
type Channel interface {
	Ready() <-chan struct{}

	SendText(ctx context.Context, to Target, text string, opt *SendOptions) (MessageRef, error)
	// SendCards sends up to MaxCardsPerSend cards plus optional leading text.
	// An adapter may split the payload over several messages; every ref is returned.
	SendCards(ctx context.Context, to Target, cards []Card, leading string) ([]MessageRef, error)

	DeleteMessage(ctx context.Context, ref MessageRef) error
	DeleteMessages(ctx context.Context, refs []MessageRef) error
}

// RecentFetcher is implemented by channels that can list recent history
// (Telegram bots cannot; chat platforms with history APIs can).
type RecentFetcher interface {
	FetchRecent(ctx context.Context, to Target, limit int) ([]MessageRef, error)
}

// Adapter is a Channel with a lifecycle.
type Adapter interface {
	Channel
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// MaxCardsPerSend is the batch size the dispatch queue uses for SendCards.
const MaxCardsPerSend = 10
