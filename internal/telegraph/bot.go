package telegraph

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/abdomilano6222222/tg-secret-santa-bot/internal/exchange"
	"github.com/abdomilano6222222/tg-secret-santa-bot/internal/santa"
	"golang.org/x/sync/errgroup"
)

// Exchange is the part of the coordinator the bot drives.
type Exchange interface {
	Limits() exchange.Limits
	Get(ctx context.Context, chatID int64) (*santa.Session, error)
	Open(ctx context.Context, chatID int64, chatTitle string, creatorID int64, creatorName string) (*santa.Session, error)
	Join(ctx context.Context, chatID, userID int64, name string) (exchange.JoinResult, error)
	SetJoinCorrelation(ctx context.Context, chatID, userID int64, correlationID string) error
	Leave(ctx context.Context, chatID, userID int64) (exchange.LeaveResult, error)
	Rename(ctx context.Context, chatID, userID int64, name string) (*santa.Session, bool, error)
	Cancel(ctx context.Context, chatID, userID int64, elevated bool) (*santa.Session, error)
	StartMatching(ctx context.Context, chatID, userID int64) (exchange.MatchResult, error)
	Migrate(ctx context.Context, oldChatID, newChatID int64) (*santa.Session, error)
	MarkUnreachable(ctx context.Context, chatID int64) (*santa.Session, error)
	ClearUnreachable(ctx context.Context, chatID int64) error
	SetMuted(ctx context.Context, chatID int64, muted bool) (*santa.Session, error)
}

// Bot turns platform events into exchange operations and publishes their
// outcome. It is also the coordinator's Messenger and Announcer, so it is
// created first and bound to the coordinator with Bind.
type Bot struct {
	adapter  Adapter
	dir      Directory
	ex       Exchange
	log      *slog.Logger
	handlers int
}

// BotOpts holds parameters for creating a Bot.
type BotOpts struct {
	Adapter   Adapter
	Directory Directory // defaults to NumericDirectory
	Logger    *slog.Logger
	// Handlers bounds the inbound events processed concurrently. Defaults to 16.
	Handlers int
}

// NewBot creates a Bot.
func NewBot(opts BotOpts) (*Bot, error) {
	if opts.Adapter == nil {
		return nil, fmt.Errorf("telegraph: bot: adapter is required")
	}
	b := &Bot{
		adapter:  opts.Adapter,
		dir:      opts.Directory,
		log:      opts.Logger,
		handlers: opts.Handlers,
	}
	if b.dir == nil {
		b.dir = NumericDirectory{}
	}
	if b.log == nil {
		b.log = slog.Default()
	}
	b.log = b.log.With("component", "telegraph")
	if b.handlers <= 0 {
		b.handlers = 16
	}
	return b, nil
}

// Bind attaches the coordinator. It must be called before Run.
func (b *Bot) Bind(ex Exchange) { b.ex = ex }

// Run connects the adapter and handles inbound events until ctx is cancelled
// or the adapter closes its channel. On shutdown it closes the adapter.
func (b *Bot) Run(ctx context.Context) error {
	if b.ex == nil {
		return fmt.Errorf("telegraph: bot: no exchange bound")
	}
	if err := b.adapter.Connect(ctx); err != nil {
		return fmt.Errorf("telegraph: connect: %w", err)
	}
	inbound, err := b.adapter.Listen(ctx)
	if err != nil {
		b.adapter.Close()
		return fmt.Errorf("telegraph: listen: %w", err)
	}
	b.log.Info("bot online")

	g := new(errgroup.Group)
	g.SetLimit(b.handlers)
	defer func() {
		g.Wait()
		if err := b.adapter.Close(); err != nil {
			b.log.Warn("close adapter", "error", err)
		}
		b.log.Info("bot stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-inbound:
			if !ok {
				b.log.Info("inbound channel closed")
				return nil
			}
			g.Go(func() error {
				b.Handle(ctx, msg)
				return nil
			})
		}
	}
}

// Handle processes one inbound event.
func (b *Bot) Handle(ctx context.Context, msg InboundMessage) {
	switch msg.Kind {
	case KindBotRemoved:
		b.handleRemoved(ctx, msg)
	case KindBotAdded:
		b.handleAdded(ctx, msg)
	case KindBotMuted:
		b.handleMuted(ctx, msg, true)
	case KindBotUnmuted:
		b.handleMuted(ctx, msg, false)
	case KindChatMigrated:
		b.handleMigrated(ctx, msg)
	case KindMessage, "":
		if msg.UserID == "" || msg.UserID == b.botUserID() {
			return
		}
		args, ok := parseCommand(msg.Text)
		if !ok {
			return
		}
		if msg.IsDirect {
			b.handleDirect(ctx, msg, args)
		} else {
			b.handleGroup(ctx, msg, args)
		}
	default:
		b.log.Debug("ignoring event", "kind", msg.Kind)
	}
}

func (b *Bot) botUserID() string {
	if bui, ok := b.adapter.(BotUserIDer); ok {
		return bui.BotUserID()
	}
	return ""
}

func (b *Bot) minParticipants() int {
	if b.ex == nil {
		return 2
	}
	return b.ex.Limits().MinParticipants
}

func (b *Bot) handleRemoved(ctx context.Context, msg InboundMessage) {
	chatID, err := b.dir.ID(ctx, msg.ChannelID)
	if err != nil {
		b.log.Error("resolve chat", "channel", msg.ChannelID, "error", err)
		return
	}
	s, err := b.ex.MarkUnreachable(ctx, chatID)
	if err != nil {
		b.log.Error("mark chat unreachable", "chat_id", chatID, "error", err)
		return
	}
	if s == nil {
		b.log.Info("removed from chat", "chat_id", chatID)
		return
	}
	b.log.Info("removed from chat, exchange dropped", "chat_id", chatID, "participants", s.Count())
	for _, p := range s.Participants {
		if p.JoinCorrelationID == "" {
			continue
		}
		b.editDirect(ctx, p.ID, p.JoinCorrelationID, FormatClosed(s, "This Secret Santa was cancelled because I can no longer post in its channel"))
	}
}

func (b *Bot) handleAdded(ctx context.Context, msg InboundMessage) {
	chatID, err := b.dir.ID(ctx, msg.ChannelID)
	if err != nil {
		b.log.Error("resolve chat", "channel", msg.ChannelID, "error", err)
		return
	}
	if err := b.ex.ClearUnreachable(ctx, chatID); err != nil {
		b.log.Error("clear unreachable marker", "chat_id", chatID, "error", err)
		return
	}
	b.log.Info("added to chat", "chat_id", chatID)
}

func (b *Bot) handleMuted(ctx context.Context, msg InboundMessage, muted bool) {
	chatID, err := b.dir.ID(ctx, msg.ChannelID)
	if err != nil {
		b.log.Error("resolve chat", "channel", msg.ChannelID, "error", err)
		return
	}
	b.setMuted(ctx, chatID, muted)
}

// setMuted records the posting permission of chatID. An unmuted exchange
// gets its announcement re-rendered, since edits were skipped meanwhile.
func (b *Bot) setMuted(ctx context.Context, chatID int64, muted bool) {
	s, err := b.ex.SetMuted(ctx, chatID, muted)
	if err != nil {
		b.log.Error("record posting permission", "chat_id", chatID, "muted", muted, "error", err)
		return
	}
	if !muted {
		b.refresh(ctx, s)
	}
}

// noteSendFailure mutes chatID when err says the bot lost its permission
// to post there.
func (b *Bot) noteSendFailure(ctx context.Context, chatID int64, err error) {
	if b.ex == nil || !errors.Is(err, ErrCannotPost) {
		return
	}
	b.log.Info("cannot post in chat, marking it muted", "chat_id", chatID)
	b.setMuted(ctx, chatID, true)
}

func (b *Bot) handleMigrated(ctx context.Context, msg InboundMessage) {
	oldID, err := b.dir.ID(ctx, msg.ChannelID)
	if err != nil {
		b.log.Error("resolve chat", "channel", msg.ChannelID, "error", err)
		return
	}
	newID, err := b.dir.ID(ctx, msg.NewChannelID)
	if err != nil {
		b.log.Error("resolve chat", "channel", msg.NewChannelID, "error", err)
		return
	}
	s, err := b.ex.Migrate(ctx, oldID, newID)
	if err != nil {
		b.log.Error("migrate exchange", "chat_id", newID, "old_chat_id", oldID, "error", err)
		return
	}
	if s != nil {
		b.log.Info("exchange migrated", "chat_id", newID, "old_chat_id", oldID)
		b.refresh(ctx, s)
	}
}

// Probe implements exchange.Messenger.
func (b *Bot) Probe(ctx context.Context, userID int64) (bool, error) {
	ext, err := b.dir.External(ctx, userID)
	if err != nil {
		return false, err
	}
	return b.adapter.Probe(ctx, ext)
}

// DeliverPrivate implements exchange.Messenger.
func (b *Bot) DeliverPrivate(ctx context.Context, userID int64, a exchange.Assignment) (string, error) {
	ext, err := b.dir.External(ctx, userID)
	if err != nil {
		return "", err
	}
	return b.adapter.SendDirect(ctx, ext, FormatAssignment(a))
}

// Announce implements exchange.Announcer.
func (b *Bot) Announce(ctx context.Context, s *santa.Session) (string, error) {
	ext, err := b.dir.External(ctx, s.ChatID)
	if err != nil {
		return "", err
	}
	return b.adapter.Post(ctx, ext, FormatAnnouncement(s, b.minParticipants()))
}

// Withdraw implements exchange.Announcer.
func (b *Bot) Withdraw(ctx context.Context, s *santa.Session) error {
	ext, err := b.dir.External(ctx, s.ChatID)
	if err != nil {
		return err
	}
	return b.adapter.Edit(ctx, ext, s.CorrelationID, "_This announcement is out of date: another Secret Santa is already running in this channel._")
}

// OnExpired replaces the announcement of a session removed by the expiry
// sweep. It is meant to be passed as exchange.Options.OnExpired. Muted chats
// are left alone.
func (b *Bot) OnExpired(ctx context.Context, s *santa.Session) {
	if s.Muted {
		b.log.Info("cannot edit expired announcement, chat is muted", "chat_id", s.ChatID)
		return
	}
	reason := "This Secret Santa expired"
	if b.ex != nil {
		if days := int(b.ex.Limits().Timeout.Hours() / 24); days > 0 {
			reason = fmt.Sprintf("This Secret Santa expired (%d days passed since it was created)", days)
		}
	}
	b.editAnnouncement(ctx, s.ChatID, s.CorrelationID, FormatClosed(s, reason))
}

func (b *Bot) editAnnouncement(ctx context.Context, chatID int64, messageID, text string) {
	if messageID == "" {
		return
	}
	ext, err := b.dir.External(ctx, chatID)
	if err != nil {
		b.log.Warn("resolve chat", "chat_id", chatID, "error", err)
		return
	}
	if err := b.adapter.Edit(ctx, ext, messageID, text); err != nil {
		b.log.Warn("edit announcement", "chat_id", chatID, "error", err)
		b.noteSendFailure(ctx, chatID, err)
	}
}

func (b *Bot) editDirect(ctx context.Context, userID int64, messageID, text string) {
	ext, err := b.dir.External(ctx, userID)
	if err != nil {
		b.log.Warn("resolve user", "user_id", userID, "error", err)
		return
	}
	if err := b.adapter.EditDirect(ctx, ext, messageID, text); err != nil {
		b.log.Debug("edit private message", "user_id", userID, "error", err)
	}
}

// refresh re-renders the announcement of an open session.
func (b *Bot) refresh(ctx context.Context, s *santa.Session) {
	if s == nil || !s.Open() || s.Muted {
		return
	}
	b.editAnnouncement(ctx, s.ChatID, s.CorrelationID, FormatAnnouncement(s, b.minParticipants()))
}

func (b *Bot) reply(ctx context.Context, channelID, text string) {
	_, err := b.adapter.Post(ctx, channelID, text)
	if err == nil {
		return
	}
	b.log.Warn("send reply", "channel", channelID, "error", err)
	if chatID, idErr := b.dir.ID(ctx, channelID); idErr == nil {
		b.noteSendFailure(ctx, chatID, err)
	}
}

func (b *Bot) replyDirect(ctx context.Context, userID, text string) {
	if _, err := b.adapter.SendDirect(ctx, userID, text); err != nil {
		b.log.Warn("send private reply", "user", userID, "error", err)
	}
}

// names renders the roster names of ids.
func names(s *santa.Session, ids []int64) string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.Name(id))
	}
	return strings.Join(out, ", ")
}
