// Package transport defines the outbound operator channel used for alerts
// and the optional log sink. Reminder mail does not go through here; see
// internal/mailer.
package transport

import "context"

type ChatTarget struct {
	ChatID   int64
	ThreadID int // forum topic thread id (0 if none)
}

func (t ChatTarget) IsZero() bool { return t.ChatID == 0 }

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
}

// Sender delivers short text messages to an operator chat.
type Sender interface {
	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) error
}

// Nop discards every message. Used when no operator channel is configured.
type Nop struct{}

func (Nop) SendText(context.Context, ChatTarget, string, *SendOptions) error { return nil }
