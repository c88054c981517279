// Package telegraph bridges gift exchanges to chat platforms (Slack, Discord).
package telegraph

import (
	"context"
	"errors"
	"time"
)

// Adapter is the interface that platform-specific implementations must satisfy.
// Each adapter handles connection management, group posts, private messages
// and reachability checks for a single chat platform.
type Adapter interface {
	// Connect establishes a connection to the chat platform.
	Connect(ctx context.Context) error

	// Listen returns a channel of inbound events from the platform.
	// The channel is closed when the adapter is closed. Listen must only be
	// called after Connect.
	Listen(ctx context.Context) (<-chan InboundMessage, error)

	// Post publishes text in a group channel and returns the message id.
	Post(ctx context.Context, channelID, text string) (string, error)

	// Edit replaces the text of a message previously returned by Post.
	Edit(ctx context.Context, channelID, messageID, text string) error

	// SendDirect sends text to a user privately and returns the message id.
	SendDirect(ctx context.Context, userID, text string) (string, error)

	// EditDirect replaces the text of a message previously returned by
	// SendDirect.
	EditDirect(ctx context.Context, userID, messageID, text string) error

	// Probe reports whether userID can currently be messaged privately.
	Probe(ctx context.Context, userID string) (bool, error)

	// Close gracefully shuts down the adapter connection.
	Close() error
}

// Kind classifies an InboundMessage.
type Kind string

const (
	KindMessage      Kind = "message"
	KindBotRemoved   Kind = "bot_removed"
	KindBotAdded     Kind = "bot_added"
	KindBotMuted     Kind = "bot_muted"
	KindBotUnmuted   Kind = "bot_unmuted"
	KindChatMigrated Kind = "chat_migrated"
)

// ErrCannotPost is wrapped by adapters when the platform refuses a group
// post or edit because the bot lacks permission in the channel.
var ErrCannotPost = errors.New("telegraph: bot cannot post in channel")

// InboundMessage represents an event received from the chat platform.
type InboundMessage struct {
	Platform     string    // e.g. "slack", "discord"
	Kind         Kind      // empty is treated as KindMessage
	ChannelID    string    // platform-specific channel identifier
	ChannelTitle string    // human-readable channel name, when known
	NewChannelID string    // target channel of a KindChatMigrated event
	UserID       string    // platform-specific user identifier
	UserName     string    // human-readable username
	Text         string    // raw message text
	IsDirect     bool      // sent in a private conversation with the bot
	IsAdmin      bool      // sender administers the channel
	Timestamp    time.Time // when the message was sent
}

// BotUserIDer is an optional interface that adapters can implement to
// expose the bot's own user ID. This enables self-message filtering.
type BotUserIDer interface {
	BotUserID() string
}
