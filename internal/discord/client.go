package discord

import "context"

// Client is the Discord surface the rest of the bridge uses. Gateway is the
// real implementation; discordtest.Client is an in-memory one.
type Client interface {
	// Connected reports whether the gateway is live.
	Connected() bool
	// BotID is the bot's own user id, empty while disconnected.
	BotID() string

	// FetchThread looks up a thread. Returns ErrThreadNotFound when it was
	// deleted or the bot cannot see it.
	FetchThread(ctx context.Context, threadID string) (*Thread, error)
	// UnarchiveThread reopens an archived thread.
	UnarchiveThread(ctx context.Context, threadID string) error
	// CreateThread opens a new thread in the configured channel: a forum post
	// for forum channels, a thread under the seed message otherwise.
	CreateThread(ctx context.Context, name string, seed Message) (*Thread, error)
	// RenameThread sets a thread's name.
	RenameThread(ctx context.Context, threadID, name string) error
	// DeleteThread deletes a thread.
	DeleteThread(ctx context.Context, threadID string) error

	// SendMessage posts to a channel or thread and returns the message id.
	SendMessage(ctx context.Context, channelID string, msg Message) (string, error)
	// React adds an emoji reaction to a message.
	React(ctx context.Context, channelID, messageID, emoji string) error
}
