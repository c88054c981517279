// Package slack implements the telegraph Adapter for Slack using Socket Mode.
package slack

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/abdomilano6222222/tg-secret-santa-bot/internal/telegraph"
	slackapi "github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"
)

const (
	// maxRetries is the max number of retries for rate-limited API calls.
	maxRetries = 3
	// baseBackoff is the initial backoff duration for reconnection.
	baseBackoff = 2 * time.Second
	// maxBackoff caps the exponential backoff for reconnection.
	maxBackoff = 2 * time.Minute
	// maxReconnectAttempts limits reconnection retries before giving up.
	maxReconnectAttempts = 10
)

// slackClient abstracts the Slack API methods we use, enabling test mocks.
type slackClient interface {
	AuthTest() (*slackapi.AuthTestResponse, error)
	PostMessage(channelID string, options ...slackapi.MsgOption) (string, string, error)
	UpdateMessage(channelID, timestamp string, options ...slackapi.MsgOption) (string, string, string, error)
	OpenConversation(params *slackapi.OpenConversationParameters) (*slackapi.Channel, bool, bool, error)
	GetConversationInfo(input *slackapi.GetConversationInfoInput) (*slackapi.Channel, error)
	GetUserInfo(userID string) (*slackapi.User, error)
}

// socketClient abstracts the Socket Mode client methods we use.
type socketClient interface {
	Run() error
	EventsChan() chan socketmode.Event
	Ack(req socketmode.Request, payload ...interface{})
}

// realSocketClient wraps *socketmode.Client to implement socketClient.
type realSocketClient struct {
	client *socketmode.Client
}

func (r *realSocketClient) Run() error                        { return r.client.Run() }
func (r *realSocketClient) EventsChan() chan socketmode.Event { return r.client.Events }
func (r *realSocketClient) Ack(req socketmode.Request, payload ...interface{}) {
	r.client.Ack(req, payload...)
}

// Adapter implements telegraph.Adapter for Slack Socket Mode.
type Adapter struct {
	client       slackClient
	socket       socketClient
	botUserID    string
	appToken     string
	botToken     string
	log          *slog.Logger
	mu           sync.Mutex
	connected    bool
	closed       bool
	inbound      chan telegraph.InboundMessage
	cancelFunc   context.CancelFunc
	dms          map[string]string // user ID -> IM channel ID
	titles       map[string]string // channel ID -> name
	baseBackoff  time.Duration     // reconnection base backoff (default: baseBackoff const)
	maxBackoff   time.Duration     // reconnection max backoff (default: maxBackoff const)
	maxReconnect int               // max reconnection attempts (default: maxReconnectAttempts)
}

// AdapterOpts holds parameters for creating a Slack Adapter.
type AdapterOpts struct {
	AppToken string // xapp-... Slack app-level token for Socket Mode
	BotToken string // xoxb-... Slack bot token
	Logger   *slog.Logger
	// For testing: inject mock clients instead of real Slack API.
	Client slackClient
	Socket socketClient
}

// New creates a Slack Adapter.
func New(opts AdapterOpts) (*Adapter, error) {
	if opts.Client == nil && opts.BotToken == "" {
		return nil, fmt.Errorf("slack: bot token is required")
	}
	if opts.Socket == nil && opts.AppToken == "" {
		return nil, fmt.Errorf("slack: app token is required for socket mode")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	a := &Adapter{
		appToken:     opts.AppToken,
		botToken:     opts.BotToken,
		log:          logger.With("component", "slack"),
		inbound:      make(chan telegraph.InboundMessage, 100),
		dms:          make(map[string]string),
		titles:       make(map[string]string),
		baseBackoff:  baseBackoff,
		maxBackoff:   maxBackoff,
		maxReconnect: maxReconnectAttempts,
	}
	if opts.Client != nil {
		a.client = opts.Client
	}
	if opts.Socket != nil {
		a.socket = opts.Socket
	}
	return a, nil
}

// Connect establishes the Socket Mode WebSocket connection.
func (a *Adapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return fmt.Errorf("slack: adapter already closed")
	}
	if a.connected {
		return nil
	}

	// Create real clients if not injected (production path).
	if a.client == nil {
		api := slackapi.New(a.botToken, slackapi.OptionAppLevelToken(a.appToken))
		a.client = api
		a.socket = &realSocketClient{client: socketmode.New(api)}
	}

	// Get bot user ID for self-message filtering.
	auth, err := a.client.AuthTest()
	if err != nil {
		return fmt.Errorf("slack: auth test: %w", err)
	}
	a.botUserID = auth.UserID

	a.connected = true
	return nil
}

// Listen returns a channel of inbound events. Starts the Socket Mode
// event pump in a background goroutine. Must be called after Connect.
func (a *Adapter) Listen(ctx context.Context) (<-chan telegraph.InboundMessage, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.connected {
		return nil, fmt.Errorf("slack: not connected")
	}

	listenCtx, cancel := context.WithCancel(ctx)
	a.cancelFunc = cancel

	// Start socket mode in background with reconnection logic.
	go a.runWithReconnect(listenCtx)
	// Pump events from socket mode to inbound channel.
	go a.pumpEvents(listenCtx)

	return a.inbound, nil
}

// Post sends text to a channel and returns the message timestamp, which
// Slack uses as the message ID.
func (a *Adapter) Post(ctx context.Context, channelID, text string) (string, error) {
	if err := a.ready(); err != nil {
		return "", err
	}
	if channelID == "" {
		return "", fmt.Errorf("slack: no channel specified")
	}
	var ts string
	err := retryOnRateLimit(ctx, func() error {
		var apiErr error
		_, ts, apiErr = a.client.PostMessage(channelID, slackapi.MsgOptionText(text, false))
		return apiErr
	})
	if err != nil {
		return "", fmt.Errorf("slack: post message: %w", cannotPost(err))
	}
	return ts, nil
}

// Edit replaces the text of the message posted at timestamp messageID.
func (a *Adapter) Edit(ctx context.Context, channelID, messageID, text string) error {
	if err := a.ready(); err != nil {
		return err
	}
	err := retryOnRateLimit(ctx, func() error {
		_, _, _, apiErr := a.client.UpdateMessage(channelID, messageID, slackapi.MsgOptionText(text, false))
		return apiErr
	})
	if err != nil {
		return fmt.Errorf("slack: update message: %w", cannotPost(err))
	}
	return nil
}

// SendDirect posts text in the IM channel of userID.
func (a *Adapter) SendDirect(ctx context.Context, userID, text string) (string, error) {
	im, err := a.imChannel(ctx, userID)
	if err != nil {
		return "", err
	}
	return a.Post(ctx, im, text)
}

// EditDirect replaces the text of a message in the IM channel of userID.
func (a *Adapter) EditDirect(ctx context.Context, userID, messageID, text string) error {
	im, err := a.imChannel(ctx, userID)
	if err != nil {
		return err
	}
	return a.Edit(ctx, im, messageID, text)
}

// Probe reports whether an IM channel can be opened with userID. Slack API
// refusals (deactivated users, other bots) mean unreachable; transport
// failures are returned as errors.
func (a *Adapter) Probe(ctx context.Context, userID string) (bool, error) {
	if _, err := a.imChannel(ctx, userID); err != nil {
		var apiErr slackapi.SlackErrorResponse
		if errors.As(err, &apiErr) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (a *Adapter) imChannel(ctx context.Context, userID string) (string, error) {
	if err := a.ready(); err != nil {
		return "", err
	}
	a.mu.Lock()
	im, ok := a.dms[userID]
	a.mu.Unlock()
	if ok {
		return im, nil
	}

	var ch *slackapi.Channel
	err := retryOnRateLimit(ctx, func() error {
		var apiErr error
		ch, _, _, apiErr = a.client.OpenConversation(&slackapi.OpenConversationParameters{
			Users:    []string{userID},
			ReturnIM: true,
		})
		return apiErr
	})
	if err != nil {
		return "", fmt.Errorf("slack: open conversation with %s: %w", userID, err)
	}
	a.mu.Lock()
	a.dms[userID] = ch.ID
	a.mu.Unlock()
	return ch.ID, nil
}

// cannotPost marks Slack refusals caused by channel restrictions with
// telegraph.ErrCannotPost.
func cannotPost(err error) error {
	var apiErr slackapi.SlackErrorResponse
	if !errors.As(err, &apiErr) {
		return err
	}
	if apiErr.Err == "is_archived" || strings.HasPrefix(apiErr.Err, "restricted_action") {
		return fmt.Errorf("%w: %w", telegraph.ErrCannotPost, err)
	}
	return err
}

func (a *Adapter) ready() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.connected {
		return fmt.Errorf("slack: not connected")
	}
	return nil
}

// Close shuts down the adapter and closes the inbound channel.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true
	a.connected = false
	if a.cancelFunc != nil {
		a.cancelFunc()
	}
	close(a.inbound)
	return nil
}

// BotUserID returns the bot's Slack user ID (available after Connect).
func (a *Adapter) BotUserID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.botUserID
}

// runWithReconnect runs the Socket Mode client and retries with exponential
// backoff when Run() returns an error (e.g., reconnection failure).
func (a *Adapter) runWithReconnect(ctx context.Context) {
	for attempt := 0; attempt < a.maxReconnect; attempt++ {
		err := a.socket.Run()
		if err == nil {
			return // clean shutdown
		}

		select {
		case <-ctx.Done():
			return
		default:
		}

		wait := time.Duration(math.Pow(2, float64(attempt))) * a.baseBackoff
		if wait > a.maxBackoff {
			wait = a.maxBackoff
		}
		a.log.Warn("socket mode disconnected", "attempt", attempt+1, "max_attempts", a.maxReconnect, "error", err, "retry_in", wait)

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
	a.log.Error("socket mode exhausted reconnection attempts, giving up", "attempts", a.maxReconnect)
}

// pumpEvents reads Socket Mode events and converts them to InboundMessages.
func (a *Adapter) pumpEvents(ctx context.Context) {
	events := a.socket.EventsChan()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			a.handleSocketEvent(evt)
		}
	}
}

// handleSocketEvent processes a single Socket Mode event.
func (a *Adapter) handleSocketEvent(evt socketmode.Event) {
	switch evt.Type {
	case socketmode.EventTypeEventsAPI:
		eventsAPIEvent, ok := evt.Data.(slackevents.EventsAPIEvent)
		if !ok {
			return
		}
		if evt.Request != nil {
			a.socket.Ack(*evt.Request)
		}
		a.handleEventsAPI(eventsAPIEvent)

	case socketmode.EventTypeConnecting:
		a.log.Debug("connecting to Socket Mode")

	case socketmode.EventTypeConnected:
		a.log.Info("connected to Socket Mode")

	case socketmode.EventTypeConnectionError:
		a.log.Warn("connection error", "error", evt.Data)

	case socketmode.EventTypeDisconnect:
		a.log.Info("server requested disconnect, will reconnect")
	}
}

// handleEventsAPI processes Events API callbacks.
func (a *Adapter) handleEventsAPI(event slackevents.EventsAPIEvent) {
	if event.Type != slackevents.CallbackEvent {
		return
	}
	switch ev := event.InnerEvent.Data.(type) {
	case *slackevents.MessageEvent:
		a.handleMessage(ev)
	case *slackevents.AppMentionEvent:
		a.handleAppMention(ev)
	case *slackevents.MemberLeftChannelEvent:
		if ev.User == a.BotUserID() {
			a.emit(telegraph.InboundMessage{Kind: telegraph.KindBotRemoved, ChannelID: ev.Channel})
		}
	case *slackevents.MemberJoinedChannelEvent:
		if ev.User == a.BotUserID() {
			a.emit(telegraph.InboundMessage{Kind: telegraph.KindBotAdded, ChannelID: ev.Channel})
		}
	case *slackevents.ChannelDeletedEvent:
		a.emit(telegraph.InboundMessage{Kind: telegraph.KindBotRemoved, ChannelID: ev.Channel})
	case *slackevents.ChannelArchiveEvent:
		a.emit(telegraph.InboundMessage{Kind: telegraph.KindBotMuted, ChannelID: ev.Channel})
	case *slackevents.GroupArchiveEvent:
		a.emit(telegraph.InboundMessage{Kind: telegraph.KindBotMuted, ChannelID: ev.Channel})
	case *slackevents.ChannelUnarchiveEvent:
		a.emit(telegraph.InboundMessage{Kind: telegraph.KindBotUnmuted, ChannelID: ev.Channel})
	case *slackevents.GroupUnarchiveEvent:
		a.emit(telegraph.InboundMessage{Kind: telegraph.KindBotUnmuted, ChannelID: ev.Channel})
	}
}

// handleMessage converts a Slack message event to an InboundMessage.
func (a *Adapter) handleMessage(ev *slackevents.MessageEvent) {
	botID := a.BotUserID()
	if ev.User == botID {
		return
	}
	// Posting permissions changed; the next refused post mutes the chat again.
	if ev.SubType == slackapi.MsgSubTypeChannelPostingPermissions {
		a.emit(telegraph.InboundMessage{Kind: telegraph.KindBotUnmuted, ChannelID: ev.Channel})
		return
	}
	// Filter bot messages and message subtypes (edits, deletes, etc.).
	if ev.BotID != "" || ev.SubType != "" {
		return
	}
	direct := ev.ChannelType == "im"
	// Channel messages mentioning the bot also arrive as app_mention.
	if !direct && botID != "" && strings.Contains(ev.Text, "<@"+botID+">") {
		return
	}
	a.emitMessage(ev.Channel, ev.User, ev.Text, ev.TimeStamp, direct)
}

// handleAppMention converts a Slack @mention event to an InboundMessage.
func (a *Adapter) handleAppMention(ev *slackevents.AppMentionEvent) {
	// Filter self-mentions (shouldn't happen but be safe).
	if ev.User == a.BotUserID() {
		return
	}
	a.emitMessage(ev.Channel, ev.User, ev.Text, ev.TimeStamp, false)
}

func (a *Adapter) emitMessage(channelID, userID, text, ts string, direct bool) {
	name, admin := a.resolveUser(userID)
	msg := telegraph.InboundMessage{
		Kind:      telegraph.KindMessage,
		ChannelID: channelID,
		UserID:    userID,
		UserName:  name,
		Text:      text,
		IsDirect:  direct,
		IsAdmin:   admin,
		Timestamp: parseSlackTimestamp(ts),
	}
	if !direct {
		msg.ChannelTitle = a.channelTitle(channelID)
	}
	a.emit(msg)
}

// emit queues msg unless the adapter is closed.
func (a *Adapter) emit(msg telegraph.InboundMessage) {
	msg.Platform = "slack"
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

// resolveUser looks up a user's display name and whether they administer
// the workspace. Falls back to the user ID.
func (a *Adapter) resolveUser(userID string) (string, bool) {
	if userID == "" {
		return "", false
	}
	user, err := a.client.GetUserInfo(userID)
	if err != nil {
		return userID, false
	}
	admin := user.IsAdmin || user.IsOwner
	if user.Profile.DisplayName != "" {
		return user.Profile.DisplayName, admin
	}
	if user.RealName != "" {
		return user.RealName, admin
	}
	return userID, admin
}

// channelTitle returns the cached name of a channel, looking it up once.
func (a *Adapter) channelTitle(channelID string) string {
	a.mu.Lock()
	title, ok := a.titles[channelID]
	a.mu.Unlock()
	if ok {
		return title
	}
	ch, err := a.client.GetConversationInfo(&slackapi.GetConversationInfoInput{ChannelID: channelID})
	if err != nil {
		return ""
	}
	a.mu.Lock()
	a.titles[channelID] = ch.Name
	a.mu.Unlock()
	return ch.Name
}

// retryOnRateLimit calls fn and retries with backoff on Slack rate limit errors.
// It respects context cancellation and the RetryAfter duration from Slack.
func retryOnRateLimit(ctx context.Context, fn func() error) error {
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}

		var rle *slackapi.RateLimitedError
		if !errors.As(err, &rle) {
			return err // not a rate limit error, don't retry
		}
		if attempt == maxRetries {
			return err
		}

		wait := rle.RetryAfter
		if wait <= 0 {
			wait = time.Duration(math.Pow(2, float64(attempt))) * time.Second
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return nil
}

// parseSlackTimestamp converts a Slack timestamp (e.g., "1234567890.123456")
// to a time.Time.
func parseSlackTimestamp(ts string) time.Time {
	sec, _, _ := strings.Cut(ts, ".")
	n, err := strconv.ParseInt(sec, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.Unix(n, 0)
}
