// Package discord implements the telegraph Adapter for Discord using the Gateway WebSocket.
package discord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/abdomilano6222222/tg-secret-santa-bot/internal/telegraph"
	"github.com/bwmarrin/discordgo"
)

const (
	// maxRetries is the max number of retries for rate-limited API calls.
	maxRetries = 3
	// baseBackoff is the initial backoff duration for rate-limit retries.
	baseBackoff = 2 * time.Second
	// maxBackoff caps the exponential backoff.
	maxBackoff = 2 * time.Minute
	// inboundBuffer is the capacity of the inbound event channel.
	inboundBuffer = 100
)

const (
	// adminPermissions lets a member cancel any exchange of a channel.
	adminPermissions = discordgo.PermissionAdministrator | discordgo.PermissionManageChannels
	// postPermissions are all needed for the bot to post in a channel.
	postPermissions = discordgo.PermissionViewChannel | discordgo.PermissionSendMessages
)

// session abstracts the discordgo.Session methods we use, enabling test mocks.
type session interface {
	Open() error
	Close() error
	Channel(channelID string) (*discordgo.Channel, error)
	UserChannelPermissions(userID, channelID string) (int64, error)
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageEdit(channelID, messageID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	UserChannelCreate(recipientID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	AddHandler(handler interface{}) func()
}

// realSession wraps *discordgo.Session to implement the session interface.
type realSession struct {
	s *discordgo.Session
}

func (r *realSession) Open() error  { return r.s.Open() }
func (r *realSession) Close() error { return r.s.Close() }
func (r *realSession) Channel(channelID string) (*discordgo.Channel, error) {
	return r.s.State.Channel(channelID)
}
func (r *realSession) UserChannelPermissions(userID, channelID string) (int64, error) {
	return r.s.State.UserChannelPermissions(userID, channelID)
}
func (r *realSession) ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	return r.s.ChannelMessageSend(channelID, content, options...)
}
func (r *realSession) ChannelMessageEdit(channelID, messageID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	return r.s.ChannelMessageEdit(channelID, messageID, content, options...)
}
func (r *realSession) UserChannelCreate(recipientID string, options ...discordgo.RequestOption) (*discordgo.Channel, error) {
	return r.s.UserChannelCreate(recipientID, options...)
}
func (r *realSession) AddHandler(handler interface{}) func() {
	return r.s.AddHandler(handler)
}

// Adapter implements telegraph.Adapter for Discord via the Gateway WebSocket.
type Adapter struct {
	sess        session
	botToken    string
	botUserID   string
	log         *slog.Logger
	mu          sync.Mutex
	connected   bool
	closed      bool
	inbound     chan telegraph.InboundMessage
	removers    []func()
	muted       map[string]bool // channels the bot was last seen unable to post in
	baseBackoff time.Duration
	maxBackoff  time.Duration
}

// AdapterOpts holds parameters for creating a Discord Adapter.
type AdapterOpts struct {
	BotToken string // Discord bot token
	Logger   *slog.Logger
	// For testing: inject a mock session instead of real Discord API.
	Session session
}

// New creates a Discord Adapter.
func New(opts AdapterOpts) (*Adapter, error) {
	if opts.Session == nil && opts.BotToken == "" {
		return nil, fmt.Errorf("discord: bot token is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	a := &Adapter{
		botToken:    opts.BotToken,
		log:         logger.With("component", "discord"),
		inbound:     make(chan telegraph.InboundMessage, inboundBuffer),
		muted:       make(map[string]bool),
		baseBackoff: baseBackoff,
		maxBackoff:  maxBackoff,
	}
	if opts.Session != nil {
		a.sess = opts.Session
	}
	return a, nil
}

// Connect establishes the Discord Gateway WebSocket connection.
func (a *Adapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return fmt.Errorf("discord: adapter already closed")
	}
	if a.connected {
		return nil
	}

	// Create real session if not injected (production path).
	if a.sess == nil {
		dg, err := discordgo.New("Bot " + a.botToken)
		if err != nil {
			return fmt.Errorf("discord: create session: %w", err)
		}
		dg.Identify.Intents = discordgo.IntentsGuilds |
			discordgo.IntentsGuildMessages |
			discordgo.IntentsDirectMessages |
			discordgo.IntentsMessageContent
		a.sess = &realSession{s: dg}
	}

	// Capture bot user ID on connect/reconnect.
	a.removers = append(a.removers, a.sess.AddHandler(func(_ *discordgo.Session, r *discordgo.Ready) {
		a.mu.Lock()
		a.botUserID = r.User.ID
		a.mu.Unlock()
		a.log.Info("connected", "user", r.User.Username, "bot_user_id", r.User.ID)
	}))

	// discordgo reconnects on its own; log for observability.
	a.removers = append(a.removers, a.sess.AddHandler(func(_ *discordgo.Session, _ *discordgo.Disconnect) {
		a.log.Warn("gateway disconnected, discordgo will auto-reconnect")
	}))

	if err := a.sess.Open(); err != nil {
		return fmt.Errorf("discord: open gateway: %w", err)
	}

	a.connected = true
	return nil
}

// Listen returns a channel of inbound events from Discord. Registers message
// and membership handlers on the Gateway session. Must be called after Connect.
func (a *Adapter) Listen(ctx context.Context) (<-chan telegraph.InboundMessage, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.connected {
		return nil, fmt.Errorf("discord: not connected")
	}

	a.removers = append(a.removers,
		a.sess.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageCreate) {
			a.handleMessage(m)
		}),
		a.sess.AddHandler(func(_ *discordgo.Session, g *discordgo.GuildDelete) {
			a.handleGuildDelete(g)
		}),
		a.sess.AddHandler(func(_ *discordgo.Session, g *discordgo.GuildCreate) {
			a.handleGuildCreate(g)
		}),
		a.sess.AddHandler(func(_ *discordgo.Session, c *discordgo.ChannelDelete) {
			a.handleChannelDelete(c)
		}),
		a.sess.AddHandler(func(_ *discordgo.Session, c *discordgo.ChannelUpdate) {
			a.handleChannelUpdate(c)
		}),
	)
	return a.inbound, nil
}

// Post sends text to a channel and returns the message ID.
func (a *Adapter) Post(ctx context.Context, channelID, text string) (string, error) {
	if err := a.ready(); err != nil {
		return "", err
	}
	if channelID == "" {
		return "", fmt.Errorf("discord: no channel specified")
	}
	var msg *discordgo.Message
	err := a.retryOnRateLimit(ctx, func() error {
		var apiErr error
		msg, apiErr = a.sess.ChannelMessageSend(channelID, text)
		return apiErr
	})
	if err != nil {
		return "", fmt.Errorf("discord: send message: %w", cannotPost(err))
	}
	return msg.ID, nil
}

// Edit replaces the content of a message.
func (a *Adapter) Edit(ctx context.Context, channelID, messageID, text string) error {
	if err := a.ready(); err != nil {
		return err
	}
	err := a.retryOnRateLimit(ctx, func() error {
		_, apiErr := a.sess.ChannelMessageEdit(channelID, messageID, text)
		return apiErr
	})
	if err != nil {
		return fmt.Errorf("discord: edit message: %w", cannotPost(err))
	}
	return nil
}

// SendDirect sends text in the DM channel of userID and returns the message ID.
func (a *Adapter) SendDirect(ctx context.Context, userID, text string) (string, error) {
	dm, err := a.dmChannel(ctx, userID)
	if err != nil {
		return "", err
	}
	return a.Post(ctx, dm, text)
}

// EditDirect replaces the content of a message in the DM channel of userID.
func (a *Adapter) EditDirect(ctx context.Context, userID, messageID, text string) error {
	dm, err := a.dmChannel(ctx, userID)
	if err != nil {
		return err
	}
	return a.Edit(ctx, dm, messageID, text)
}

// Probe reports whether a DM channel can be opened with userID. Discord only
// refuses a DM when the message itself is sent, so a user who closed their
// DMs to server members passes the probe and fails on delivery.
func (a *Adapter) Probe(ctx context.Context, userID string) (bool, error) {
	if _, err := a.dmChannel(ctx, userID); err != nil {
		var restErr *discordgo.RESTError
		if errors.As(err, &restErr) && restErr.Response != nil &&
			(restErr.Response.StatusCode == http.StatusForbidden || restErr.Response.StatusCode == http.StatusNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (a *Adapter) dmChannel(ctx context.Context, userID string) (string, error) {
	if err := a.ready(); err != nil {
		return "", err
	}
	var ch *discordgo.Channel
	err := a.retryOnRateLimit(ctx, func() error {
		var apiErr error
		ch, apiErr = a.sess.UserChannelCreate(userID)
		return apiErr
	})
	if err != nil {
		return "", fmt.Errorf("discord: open dm with %s: %w", userID, err)
	}
	return ch.ID, nil
}

func (a *Adapter) ready() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.connected {
		return fmt.Errorf("discord: not connected")
	}
	return nil
}

// Close gracefully shuts down the adapter connection.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true
	a.connected = false
	for _, remove := range a.removers {
		remove()
	}
	a.removers = nil
	close(a.inbound)
	if a.sess != nil {
		return a.sess.Close()
	}
	return nil
}

// BotUserID returns the bot's Discord user ID (available after Ready).
func (a *Adapter) BotUserID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.botUserID
}

// SetBotUserID sets the bot user ID (used for self-message filtering).
func (a *Adapter) SetBotUserID(id string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.botUserID = id
}

// emit queues msg unless the adapter is closed. Events are dropped when the
// consumer falls a full buffer behind.
func (a *Adapter) emit(msg telegraph.InboundMessage) {
	msg.Platform = "discord"
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	select {
	case a.inbound <- msg:
	default:
		a.log.Warn("inbound buffer full, dropping event", "kind", msg.Kind, "channel", msg.ChannelID)
	}
}

// handleMessage converts a Discord message event to an InboundMessage.
func (a *Adapter) handleMessage(m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot {
		return
	}
	if m.Author.ID == a.BotUserID() {
		return
	}

	msg := telegraph.InboundMessage{
		Kind:      telegraph.KindMessage,
		ChannelID: m.ChannelID,
		UserID:    m.Author.ID,
		UserName:  displayName(m),
		Text:      m.Content,
		IsDirect:  m.GuildID == "",
	}
	msg.Timestamp, _ = discordgo.SnowflakeTimestamp(m.ID)

	if !msg.IsDirect {
		if ch, err := a.sess.Channel(m.ChannelID); err == nil {
			msg.ChannelTitle = ch.Name
		}
		if perms, err := a.sess.UserChannelPermissions(m.Author.ID, m.ChannelID); err == nil {
			msg.IsAdmin = perms&adminPermissions != 0
		}
	}
	a.emit(msg)
}

// displayName prefers the server nickname, then the global display name.
func displayName(m *discordgo.MessageCreate) string {
	if m.Member != nil && m.Member.Nick != "" {
		return m.Member.Nick
	}
	if m.Author.GlobalName != "" {
		return m.Author.GlobalName
	}
	return m.Author.Username
}

// handleGuildDelete reports every text channel of a guild the bot was removed
// from. Outages (Unavailable) are not removals.
func (a *Adapter) handleGuildDelete(g *discordgo.GuildDelete) {
	if g.Guild == nil || g.Unavailable || g.BeforeDelete == nil {
		return
	}
	for _, ch := range g.BeforeDelete.Channels {
		if ch.Type == discordgo.ChannelTypeGuildText {
			a.emit(telegraph.InboundMessage{Kind: telegraph.KindBotRemoved, ChannelID: ch.ID})
		}
	}
}

// handleGuildCreate reports the text channels of a guild the bot can post in.
// Discord also sends it for every guild on connect.
func (a *Adapter) handleGuildCreate(g *discordgo.GuildCreate) {
	if g.Guild == nil || g.Unavailable {
		return
	}
	for _, ch := range g.Channels {
		if ch.Type == discordgo.ChannelTypeGuildText {
			a.emit(telegraph.InboundMessage{Kind: telegraph.KindBotAdded, ChannelID: ch.ID, ChannelTitle: ch.Name})
		}
	}
}

func (a *Adapter) handleChannelDelete(c *discordgo.ChannelDelete) {
	if c.Channel == nil || c.Type != discordgo.ChannelTypeGuildText {
		return
	}
	a.emit(telegraph.InboundMessage{Kind: telegraph.KindBotRemoved, ChannelID: c.ID})
}

// handleChannelUpdate reports a text channel in which the bot lost or regained
// the permission to post. Permissions are read from the state cache, which
// discordgo updates before handlers run.
func (a *Adapter) handleChannelUpdate(c *discordgo.ChannelUpdate) {
	if c.Channel == nil || c.Type != discordgo.ChannelTypeGuildText {
		return
	}
	botID := a.BotUserID()
	if botID == "" {
		return
	}
	perms, err := a.sess.UserChannelPermissions(botID, c.ID)
	if err != nil {
		a.log.Debug("read channel permissions", "channel", c.ID, "error", err)
		return
	}
	canPost := perms&postPermissions == postPermissions

	a.mu.Lock()
	wasMuted := a.muted[c.ID]
	if canPost {
		delete(a.muted, c.ID)
	} else {
		a.muted[c.ID] = true
	}
	a.mu.Unlock()

	switch {
	case wasMuted && canPost:
		a.emit(telegraph.InboundMessage{Kind: telegraph.KindBotUnmuted, ChannelID: c.ID, ChannelTitle: c.Name})
	case !wasMuted && !canPost:
		a.emit(telegraph.InboundMessage{Kind: telegraph.KindBotMuted, ChannelID: c.ID, ChannelTitle: c.Name})
	}
}

// cannotPost marks Discord's missing access or permission refusals with
// telegraph.ErrCannotPost.
func cannotPost(err error) error {
	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) && restErr.Message != nil &&
		(restErr.Message.Code == discordgo.ErrCodeMissingPermissions || restErr.Message.Code == discordgo.ErrCodeMissingAccess) {
		return fmt.Errorf("%w: %w", telegraph.ErrCannotPost, err)
	}
	return err
}

// retryOnRateLimit calls fn and retries with exponential backoff on Discord
// rate limit errors. It respects context cancellation.
func (a *Adapter) retryOnRateLimit(ctx context.Context, fn func() error) error {
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}

		var restErr *discordgo.RESTError
		if !errors.As(err, &restErr) || restErr.Response == nil || restErr.Response.StatusCode != http.StatusTooManyRequests {
			return err
		}
		if attempt == maxRetries {
			return err
		}

		wait := time.Duration(math.Pow(2, float64(attempt))) * a.baseBackoff
		if wait > a.maxBackoff {
			wait = a.maxBackoff
		}
		a.log.Warn("rate limited", "attempt", attempt+1, "max_retries", maxRetries, "retry_in", wait)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return nil
}
