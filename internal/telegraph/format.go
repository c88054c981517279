package telegraph

import (
	"fmt"
	"strings"

	"github.com/abdomilano6222222/tg-secret-santa-bot/internal/exchange"
	"github.com/abdomilano6222222/tg-secret-santa-bot/internal/santa"
)

// commandPrefix is the text prefix that identifies a bot command.
const commandPrefix = "!santa"

// participantList renders the roster as a numbered list in join order.
func participantList(s *santa.Session) string {
	var b strings.Builder
	for i, p := range s.Participants {
		fmt.Fprintf(&b, "%d. %s\n", i+1, p.Name)
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// FormatAnnouncement renders the announcement of an open exchange.
func FormatAnnouncement(s *santa.Session, minParticipants int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🎅 %s started a Secret Santa!\n", s.CreatorName)
	fmt.Fprintf(&b, "Type `%s join` to take part", commandPrefix)
	if s.Count() == 0 {
		b.WriteString(".")
		return b.String()
	}
	b.WriteString(".\n\nParticipants:\n")
	b.WriteString(participantList(s))
	if missing := s.MissingCount(minParticipants); missing > 0 {
		fmt.Fprintf(&b, "\n\n%d more needed to start", missing)
	} else {
		fmt.Fprintf(&b, "\n\n%s can start the matching with `%s start`", s.CreatorName, commandPrefix)
	}
	return b.String()
}

// FormatStarted replaces the announcement once pairs are drawn.
func FormatStarted(s *santa.Session) string {
	return fmt.Sprintf("🎁 This Secret Santa was started. Everyone received their match privately!\n\nParticipants:\n%s",
		participantList(s))
}

// FormatClosed replaces the announcement of a session that ended without a
// draw: cancelled, expired or dropped because the bot lost access.
func FormatClosed(s *santa.Session, reason string) string {
	text := "_" + reason + "_"
	if s.Count() > 0 {
		text += "\n\nParticipants:\n" + participantList(s)
	}
	return text
}

// FormatAssignment renders the private message that tells a giver their match.
func FormatAssignment(a exchange.Assignment) string {
	where := "your group"
	if a.ChatTitle != "" {
		where = a.ChatTitle
	}
	return fmt.Sprintf("🎅🎁 You are the Secret Santa of *%s* in %s!", a.ReceiverName, where)
}

func formatJoined(s *santa.Session, minParticipants int, userID int64) string {
	where := "the group"
	if s.ChatTitle != "" {
		where = s.ChatTitle
	}
	wait := fmt.Sprintf("Now wait for %s to start it", s.CreatorName)
	if userID == s.CreatorID {
		wait = fmt.Sprintf("You can start it with `%s start` in the group once at least %d people joined",
			commandPrefix, minParticipants)
	}
	return fmt.Sprintf("🎄 You joined the Secret Santa of %s!\n%s. You will receive your match here.", where, wait)
}

func formatLeft(s *santa.Session) string {
	where := "the group"
	if s.ChatTitle != "" {
		where = s.ChatTitle
	}
	return fmt.Sprintf("❄️ You left the Secret Santa of %s.", where)
}

func formatStatus(s *santa.Session, minParticipants int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Secret Santa by %s, %s\n", s.CreatorName, s.State)
	fmt.Fprintf(&b, "Participants: %d", s.Count())
	if missing := s.MissingCount(minParticipants); missing > 0 {
		fmt.Fprintf(&b, " (%d more needed)", missing)
	}
	if s.Count() > 0 {
		b.WriteString("\n")
		b.WriteString(participantList(s))
	}
	return b.String()
}

// helpText returns the command reference.
func helpText() string {
	var b strings.Builder
	b.WriteString("*Secret Santa commands:*\n")
	fmt.Fprintf(&b, "`%s new` — start a new Secret Santa in this channel\n", commandPrefix)
	fmt.Fprintf(&b, "`%s join [name]` — take part\n", commandPrefix)
	fmt.Fprintf(&b, "`%s leave` — stop taking part\n", commandPrefix)
	fmt.Fprintf(&b, "`%s rename <name>` — change how you are listed\n", commandPrefix)
	fmt.Fprintf(&b, "`%s start` — draw the pairs (creator only)\n", commandPrefix)
	fmt.Fprintf(&b, "`%s cancel` — cancel (creator or admins)\n", commandPrefix)
	fmt.Fprintf(&b, "`%s status` — show participants\n", commandPrefix)
	b.WriteString("\nIn a private message:\n")
	fmt.Fprintf(&b, "`%s join <channel> [name]` — join the Secret Santa of a channel\n", commandPrefix)
	fmt.Fprintf(&b, "`%s leave <channel>` — leave the Secret Santa of a channel\n", commandPrefix)
	fmt.Fprintf(&b, "`%s rename <channel> <name>` — rename yourself there\n", commandPrefix)
	return b.String()
}
