package telegraph

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/abdomilano6222222/tg-secret-santa-bot/internal/exchange"
)

// mentionRe matches a leading bot mention: Discord <@ID> / <@!ID> or Slack <@U123>.
var mentionRe = regexp.MustCompile(`^<@!?[A-Za-z0-9]+>\s*`)

// channelRefRe matches a channel reference: <#ID> or Slack's <#ID|name>.
var channelRefRe = regexp.MustCompile(`^<#([A-Za-z0-9]+)(?:\|[^>]*)?>$`)

// knownCommands is the set of commands accepted after a bot mention.
var knownCommands = map[string]bool{
	"new":    true,
	"join":   true,
	"leave":  true,
	"start":  true,
	"cancel": true,
	"rename": true,
	"status": true,
	"help":   true,
}

// parseCommand extracts the arguments of a "!santa" command, or of a bot
// mention followed by a known command. ok is false for any other text.
func parseCommand(text string) (args []string, ok bool) {
	text = strings.TrimSpace(text)
	if text == commandPrefix {
		return nil, true
	}
	if rest, found := strings.CutPrefix(text, commandPrefix+" "); found {
		return strings.Fields(rest), true
	}
	if loc := mentionRe.FindStringIndex(text); loc != nil {
		fields := strings.Fields(text[loc[1]:])
		if len(fields) > 0 && knownCommands[fields[0]] {
			return fields, true
		}
	}
	return nil, false
}

// directCommands are the commands accepted in a private conversation.
var directCommands = map[string]bool{
	"join":   true,
	"leave":  true,
	"rename": true,
}

// channelRef extracts the channel id from a mention or a bare id.
func channelRef(arg string) string {
	if m := channelRefRe.FindStringSubmatch(arg); m != nil {
		return m[1]
	}
	return strings.TrimPrefix(arg, "#")
}

func (b *Bot) handleGroup(ctx context.Context, msg InboundMessage, args []string) {
	if len(args) == 0 {
		b.reply(ctx, msg.ChannelID, helpText())
		return
	}
	chatID, err := b.dir.ID(ctx, msg.ChannelID)
	if err != nil {
		b.log.Error("resolve chat", "channel", msg.ChannelID, "error", err)
		return
	}
	userID, err := b.dir.ID(ctx, msg.UserID)
	if err != nil {
		b.log.Error("resolve user", "user", msg.UserID, "error", err)
		return
	}
	log := b.log.With("chat_id", chatID, "user_id", userID, "command", args[0])

	var reply string
	switch args[0] {
	case "new":
		reply, err = b.cmdNew(ctx, msg, chatID, userID)
	case "join":
		reply, err = b.cmdJoin(ctx, msg, chatID, userID, strings.Join(args[1:], " "))
	case "leave":
		reply, err = b.cmdLeave(ctx, chatID, userID)
	case "rename":
		reply, err = b.cmdRename(ctx, chatID, userID, strings.Join(args[1:], " "))
	case "start":
		reply, err = b.cmdStart(ctx, chatID, userID)
	case "cancel":
		reply, err = b.cmdCancel(ctx, chatID, userID, msg.IsAdmin)
	case "status":
		reply, err = b.cmdStatus(ctx, chatID)
	case "help":
		reply = helpText()
	default:
		reply = fmt.Sprintf("Unknown command: `%s`\n\n%s", args[0], helpText())
	}
	if err != nil {
		log.Error("command failed", "error", err)
		reply = "⚠️ Something went wrong, please try again."
	}
	if reply != "" {
		b.reply(ctx, msg.ChannelID, reply)
	}
}

func (b *Bot) cmdNew(ctx context.Context, msg InboundMessage, chatID, userID int64) (string, error) {
	s, err := b.ex.Open(ctx, chatID, msg.ChannelTitle, userID, displayName(msg))
	if errors.Is(err, exchange.ErrAlreadyActive) {
		return fmt.Sprintf("🎅 There is already an active Secret Santa in this channel! You can ask %s (or an admin) to cancel it with `%s cancel`.",
			s.CreatorName, commandPrefix), nil
	}
	return "", err
}

func (b *Bot) cmdJoin(ctx context.Context, msg InboundMessage, chatID, userID int64, name string) (string, error) {
	if name == "" {
		name = displayName(msg)
	}
	res, err := b.ex.Join(ctx, chatID, userID, name)
	switch {
	case errors.Is(err, exchange.ErrNoSession):
		return noSessionText(), nil
	case errors.Is(err, exchange.ErrChatUnreachable):
		return "😔 I was removed from that channel, so its Secret Santa is over.", nil
	case errors.Is(err, exchange.ErrChatMuted):
		return "😔 I can't post in that channel right now. New participants can join once I'm allowed to post there again.", nil
	case errors.Is(err, exchange.ErrSessionClosed):
		return "This Secret Santa has already started.", nil
	case errors.Is(err, exchange.ErrSessionFull):
		return fmt.Sprintf("Sorry, this Secret Santa reached the maximum of %d participants 😔", b.ex.Limits().MaxParticipants), nil
	case err != nil:
		return "", err
	}
	s := res.Session
	b.refresh(ctx, s)

	var notes []string
	corr, err := b.adapter.SendDirect(ctx, msg.UserID, formatJoined(s, b.minParticipants(), userID))
	if err != nil {
		b.log.Info("join acknowledgement not delivered", "chat_id", chatID, "user_id", userID, "error", err)
		notes = append(notes, fmt.Sprintf("%s, I can't message you privately. Open a direct conversation with me so I can send you your match!", s.Name(userID)))
	} else if err := b.ex.SetJoinCorrelation(ctx, chatID, userID, corr); err != nil {
		b.log.Warn("store join correlation", "chat_id", chatID, "user_id", userID, "error", err)
	}
	if res.DuplicateName != "" {
		notes = append(notes, fmt.Sprintf("Heads up: another participant is called %q. Use `%s rename <name>` to avoid confusion ⛄",
			res.DuplicateName, commandPrefix))
	}
	return strings.Join(notes, "\n"), nil
}

func (b *Bot) cmdLeave(ctx context.Context, chatID, userID int64) (string, error) {
	res, err := b.ex.Leave(ctx, chatID, userID)
	switch {
	case errors.Is(err, exchange.ErrNoSession):
		return noSessionText(), nil
	case errors.Is(err, exchange.ErrSessionClosed):
		return "This Secret Santa has already started.", nil
	case err != nil:
		return "", err
	}
	if !res.Removed {
		return "❄️ You are not taking part in this Secret Santa.", nil
	}
	b.refresh(ctx, res.Session)
	if res.JoinCorrelationID != "" {
		b.editDirect(ctx, userID, res.JoinCorrelationID, formatLeft(res.Session))
	}
	return "", nil
}

func (b *Bot) cmdRename(ctx context.Context, chatID, userID int64, name string) (string, error) {
	if name == "" {
		return fmt.Sprintf("Usage: `%s rename <name>`", commandPrefix), nil
	}
	s, changed, err := b.ex.Rename(ctx, chatID, userID, name)
	switch {
	case errors.Is(err, exchange.ErrNoSession):
		return noSessionText(), nil
	case err != nil:
		return "", err
	}
	if !changed {
		if !s.Has(userID) {
			return "❄️ You are not taking part in this Secret Santa.", nil
		}
		if !s.Open() {
			return "This Secret Santa has already started.", nil
		}
		return "", nil
	}
	b.refresh(ctx, s)
	return fmt.Sprintf("Your name was updated to: %s", s.Name(userID)), nil
}

func (b *Bot) cmdStart(ctx context.Context, chatID, userID int64) (string, error) {
	res, err := b.ex.StartMatching(ctx, chatID, userID)
	s := res.Session
	switch {
	case errors.Is(err, exchange.ErrNoSession):
		return noSessionText(), nil
	case errors.Is(err, exchange.ErrForbidden):
		return fmt.Sprintf("❌ Only %s can start the matching.", s.CreatorName), nil
	case errors.Is(err, exchange.ErrInsufficientParticipants):
		return fmt.Sprintf("%d more participants needed to start.", s.MissingCount(b.minParticipants())), nil
	case errors.Is(err, exchange.ErrSessionClosed):
		return "This Secret Santa has already started.", nil
	case errors.Is(err, exchange.ErrRosterChanged):
		return "The participants changed while I was checking them, please try again.", nil
	case errors.Is(err, exchange.ErrMatchingFailed):
		return "⚠️ Something went wrong while drawing the pairs, please try again.", nil
	case err != nil:
		return "", err
	}
	if len(res.Unreachable) > 0 {
		return fmt.Sprintf("😔 I can't start because I can't message some participants privately: %s. They need to open a direct conversation with me first.",
			names(s, res.Unreachable)), nil
	}

	b.editAnnouncement(ctx, chatID, s.CorrelationID, FormatStarted(s))
	reply := "🎁 Everyone received their match privately!"
	if len(res.Undelivered) > 0 {
		reply = fmt.Sprintf("🎁 Pairs drawn! I could not deliver the match of: %s. Please check your private messages settings.",
			names(s, res.Undelivered))
	}
	return reply, nil
}

func (b *Bot) cmdCancel(ctx context.Context, chatID, userID int64, elevated bool) (string, error) {
	s, err := b.ex.Cancel(ctx, chatID, userID, elevated)
	switch {
	case errors.Is(err, exchange.ErrForbidden):
		return fmt.Sprintf("❌ Only %s or an admin can cancel this Secret Santa.", s.CreatorName), nil
	case err != nil:
		return "", err
	case s == nil:
		return noSessionText(), nil
	}
	b.editAnnouncement(ctx, chatID, s.CorrelationID, FormatClosed(s, "This Secret Santa was cancelled"))
	return "Secret Santa cancelled.", nil
}

func (b *Bot) cmdStatus(ctx context.Context, chatID int64) (string, error) {
	s, err := b.ex.Get(ctx, chatID)
	if errors.Is(err, exchange.ErrNoSession) {
		return noSessionText(), nil
	}
	if err != nil {
		return "", err
	}
	return formatStatus(s, b.minParticipants()), nil
}

// handleDirect serves the commands sent in a private conversation, which
// name the channel they apply to.
func (b *Bot) handleDirect(ctx context.Context, msg InboundMessage, args []string) {
	if len(args) == 0 || args[0] == "help" {
		b.replyDirect(ctx, msg.UserID, helpText())
		return
	}
	if !directCommands[args[0]] || len(args) < 2 {
		b.replyDirect(ctx, msg.UserID, fmt.Sprintf("Usage: `%s join <channel> [name]`, `%s leave <channel>` or `%s rename <channel> <name>`",
			commandPrefix, commandPrefix, commandPrefix))
		return
	}
	chatID, err := b.dir.ID(ctx, channelRef(args[1]))
	if err != nil {
		b.replyDirect(ctx, msg.UserID, fmt.Sprintf("I don't know the channel %s.", args[1]))
		return
	}
	userID, err := b.dir.ID(ctx, msg.UserID)
	if err != nil {
		b.log.Error("resolve user", "user", msg.UserID, "error", err)
		return
	}

	var reply string
	switch args[0] {
	case "join":
		reply, err = b.cmdJoin(ctx, msg, chatID, userID, strings.Join(args[2:], " "))
	case "leave":
		reply, err = b.cmdLeave(ctx, chatID, userID)
		if err == nil && reply == "" {
			reply = "❄️ You were removed from that Secret Santa."
		}
	case "rename":
		reply, err = b.cmdRename(ctx, chatID, userID, strings.Join(args[2:], " "))
	}
	if err != nil {
		b.log.Error("command failed", "chat_id", chatID, "user_id", userID, "command", args[0], "error", err)
		reply = "⚠️ Something went wrong, please try again."
	}
	if reply != "" {
		b.replyDirect(ctx, msg.UserID, reply)
	}
}

func displayName(msg InboundMessage) string {
	if msg.UserName != "" {
		return msg.UserName
	}
	return msg.UserID
}

func noSessionText() string {
	return fmt.Sprintf("There is no active Secret Santa here 😔 Start one with `%s new`.", commandPrefix)
}
