package domain

import "context"

// Channel is a user-facing chat surface (web, Telegram, Discord, Slack).
type Channel interface {
	Name() string
	Start(ctx context.Context, bus MessageBus) error
	Stop() error
	Send(ctx context.Context, chatID string, content string) error
}
