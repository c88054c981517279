package telegraph

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/abdomilano6222222/tg-secret-santa-bot/internal/exchange"
	"github.com/abdomilano6222222/tg-secret-santa-bot/internal/registry"
)

type botFixture struct {
	bot     *Bot
	adapter *MockAdapter
	coord   *exchange.Coordinator
}

func newBotFixture(t *testing.T) *botFixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	adapter := NewMockAdapter()
	adapter.SetBotUserID("999")

	bot, err := NewBot(BotOpts{Adapter: adapter, Logger: logger})
	if err != nil {
		t.Fatalf("NewBot: %v", err)
	}
	coord, err := exchange.New(exchange.Options{
		Registry:  registry.NewMemory(),
		Messenger: bot,
		Announcer: bot,
		Limits: exchange.Limits{
			MinParticipants: 3,
			MaxParticipants: 4,
			Timeout:         7 * 24 * time.Hour,
			NameMaxLength:   16,
		},
		OnExpired: bot.OnExpired,
		Logger:    logger,
	})
	if err != nil {
		t.Fatalf("exchange.New: %v", err)
	}
	bot.Bind(coord)
	return &botFixture{bot: bot, adapter: adapter, coord: coord}
}

func (f *botFixture) say(user, name, text string) {
	f.bot.Handle(context.Background(), InboundMessage{
		Platform:     "discord",
		ChannelID:    "100",
		ChannelTitle: "Office",
		UserID:       user,
		UserName:     name,
		Text:         text,
	})
}

func (f *botFixture) dm(user, text string) {
	f.bot.Handle(context.Background(), InboundMessage{
		Platform: "discord",
		UserID:   user,
		Text:     text,
		IsDirect: true,
	})
}

// announcement returns the current text of the exchange announcement, which
// is always the first message the fixture's chat receives.
func (f *botFixture) announcement(t *testing.T) string {
	t.Helper()
	msg, ok := f.adapter.Message("msg-1")
	if !ok || msg.ChannelID != "100" {
		t.Fatalf("no announcement posted, got %+v", msg)
	}
	return msg.Text
}

func (f *botFixture) lastReply(t *testing.T) string {
	t.Helper()
	msg, ok := f.adapter.LastSent()
	if !ok {
		t.Fatal("nothing sent")
	}
	return msg.Text
}

func (f *botFixture) openWithParticipants(t *testing.T) {
	t.Helper()
	f.say("1", "Alice", "!santa new")
	f.say("1", "Alice", "!santa join")
	f.say("2", "Bob", "!santa join")
	f.say("3", "Carol", "!santa join")
}

func TestNewBot_RequiresAdapter(t *testing.T) {
	if _, err := NewBot(BotOpts{}); err == nil {
		t.Fatal("expected error for nil adapter")
	}
}

func TestRun_RequiresExchange(t *testing.T) {
	b, _ := NewBot(BotOpts{Adapter: NewMockAdapter()})
	if err := b.Run(context.Background()); err == nil {
		t.Fatal("expected error without bound exchange")
	}
}

func TestBot_NewPostsAnnouncement(t *testing.T) {
	f := newBotFixture(t)
	f.say("1", "Alice", "!santa new")

	if !strings.Contains(f.announcement(t), "Alice started a Secret Santa") {
		t.Errorf("announcement = %q", f.announcement(t))
	}
	s, err := f.coord.Get(context.Background(), 100)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if s.CorrelationID != "msg-1" || s.ChatTitle != "Office" {
		t.Errorf("session = %+v", s)
	}
	if s.Count() != 0 {
		t.Errorf("creator must not be auto-joined, count = %d", s.Count())
	}
}

func TestBot_NewTwice(t *testing.T) {
	f := newBotFixture(t)
	f.say("1", "Alice", "!santa new")
	f.say("2", "Bob", "!santa new")

	if !strings.Contains(f.lastReply(t), "already an active Secret Santa") {
		t.Errorf("reply = %q", f.lastReply(t))
	}
	if !strings.Contains(f.lastReply(t), "Alice") {
		t.Errorf("reply should name the creator: %q", f.lastReply(t))
	}
}

func TestBot_JoinEditsAnnouncementAndAcknowledges(t *testing.T) {
	f := newBotFixture(t)
	f.say("1", "Alice", "!santa new")
	f.say("2", "Bob", "!santa join")

	text := f.announcement(t)
	if !strings.Contains(text, "1. Bob") || !strings.Contains(text, "2 more needed") {
		t.Errorf("announcement = %q", text)
	}
	acks := f.adapter.DirectTo("2")
	if len(acks) != 1 || !strings.Contains(acks[0].Text, "You joined the Secret Santa of Office") {
		t.Fatalf("acks = %+v", acks)
	}
	s, _ := f.coord.Get(context.Background(), 100)
	p, _ := s.Participant(2)
	if p.JoinCorrelationID != acks[0].ID {
		t.Errorf("join correlation = %q, want %q", p.JoinCorrelationID, acks[0].ID)
	}
}

func TestBot_JoinWithCustomName(t *testing.T) {
	f := newBotFixture(t)
	f.say("1", "Alice", "!santa new")
	f.say("2", "bob_1987", "!santa join Bobby Tables")

	if !strings.Contains(f.announcement(t), "1. Bobby Tables") {
		t.Errorf("announcement = %q", f.announcement(t))
	}
}

func TestBot_JoinUnreachableStillJoins(t *testing.T) {
	f := newBotFixture(t)
	f.adapter.SetUnreachable("2", true)
	f.say("1", "Alice", "!santa new")
	f.say("2", "Bob", "!santa join")

	if !strings.Contains(f.lastReply(t), "can't message you privately") {
		t.Errorf("reply = %q", f.lastReply(t))
	}
	s, _ := f.coord.Get(context.Background(), 100)
	if !s.Has(2) {
		t.Error("unreachable user should still be on the roster")
	}
}

func TestBot_JoinDuplicateName(t *testing.T) {
	f := newBotFixture(t)
	f.say("1", "Alice", "!santa new")
	f.say("2", "Bob", "!santa join")
	f.say("3", "Bob", "!santa join")

	if !strings.Contains(f.lastReply(t), `another participant is called "Bob"`) {
		t.Errorf("reply = %q", f.lastReply(t))
	}
}

func TestBot_JoinFull(t *testing.T) {
	f := newBotFixture(t)
	f.say("1", "Alice", "!santa new")
	for _, u := range []string{"1", "2", "3", "4"} {
		f.say(u, "U"+u, "!santa join")
	}
	f.say("5", "Eve", "!santa join")

	if !strings.Contains(f.lastReply(t), "maximum of 4 participants") {
		t.Errorf("reply = %q", f.lastReply(t))
	}
}

func TestBot_JoinWithoutSession(t *testing.T) {
	f := newBotFixture(t)
	f.say("2", "Bob", "!santa join")
	if !strings.Contains(f.lastReply(t), "no active Secret Santa") {
		t.Errorf("reply = %q", f.lastReply(t))
	}
}

func TestBot_LeaveRetractsAcknowledgement(t *testing.T) {
	f := newBotFixture(t)
	f.say("1", "Alice", "!santa new")
	f.say("2", "Bob", "!santa join")
	f.say("2", "Bob", "!santa leave")

	if strings.Contains(f.announcement(t), "Bob") {
		t.Errorf("announcement still lists Bob: %q", f.announcement(t))
	}
	acks := f.adapter.DirectTo("2")
	if len(acks) != 1 || !strings.Contains(acks[0].Text, "You left") {
		t.Errorf("acks = %+v", acks)
	}
}

func TestBot_LeaveNotParticipant(t *testing.T) {
	f := newBotFixture(t)
	f.say("1", "Alice", "!santa new")
	f.say("2", "Bob", "!santa leave")
	if !strings.Contains(f.lastReply(t), "not taking part") {
		t.Errorf("reply = %q", f.lastReply(t))
	}
}

func TestBot_Rename(t *testing.T) {
	f := newBotFixture(t)
	f.say("1", "Alice", "!santa new")
	f.say("2", "Bob", "!santa join")
	f.say("2", "Bob", "!santa rename Robert")

	if !strings.Contains(f.lastReply(t), "updated to: Robert") {
		t.Errorf("reply = %q", f.lastReply(t))
	}
	if !strings.Contains(f.announcement(t), "1. Robert") {
		t.Errorf("announcement = %q", f.announcement(t))
	}
	f.say("2", "Bob", "!santa rename")
	if !strings.Contains(f.lastReply(t), "Usage") {
		t.Errorf("reply = %q", f.lastReply(t))
	}
}

func TestBot_StartDeliversMatches(t *testing.T) {
	f := newBotFixture(t)
	f.openWithParticipants(t)
	f.say("1", "Alice", "!santa start")

	if !strings.Contains(f.lastReply(t), "Everyone received their match") {
		t.Errorf("reply = %q", f.lastReply(t))
	}
	if !strings.Contains(f.announcement(t), "was started") {
		t.Errorf("announcement = %q", f.announcement(t))
	}
	for _, u := range []string{"1", "2", "3"} {
		dms := f.adapter.DirectTo(u)
		if len(dms) == 0 || !strings.Contains(dms[len(dms)-1].Text, "You are the Secret Santa of") {
			t.Errorf("user %s did not receive a match: %+v", u, dms)
		}
	}
	if _, err := f.coord.Get(context.Background(), 100); !errors.Is(err, exchange.ErrNoSession) {
		t.Errorf("Get after start = %v, want ErrNoSession", err)
	}
}

func TestBot_StartByOtherUser(t *testing.T) {
	f := newBotFixture(t)
	f.openWithParticipants(t)
	f.say("2", "Bob", "!santa start")
	if !strings.Contains(f.lastReply(t), "Only Alice can start") {
		t.Errorf("reply = %q", f.lastReply(t))
	}
}

func TestBot_StartInsufficient(t *testing.T) {
	f := newBotFixture(t)
	f.say("1", "Alice", "!santa new")
	f.say("1", "Alice", "!santa join")
	f.say("1", "Alice", "!santa start")
	if !strings.Contains(f.lastReply(t), "2 more participants needed") {
		t.Errorf("reply = %q", f.lastReply(t))
	}
}

func TestBot_StartBlockedByUnreachable(t *testing.T) {
	f := newBotFixture(t)
	f.openWithParticipants(t)
	f.adapter.SetUnreachable("3", true)
	f.say("1", "Alice", "!santa start")

	reply := f.lastReply(t)
	if !strings.Contains(reply, "Carol") || strings.Contains(reply, "Bob") {
		t.Errorf("reply = %q", reply)
	}
	s, err := f.coord.Get(context.Background(), 100)
	if err != nil || !s.Open() {
		t.Errorf("session should still be open: %v", err)
	}
}

func TestBot_Cancel(t *testing.T) {
	f := newBotFixture(t)
	f.say("1", "Alice", "!santa new")
	f.say("2", "Bob", "!santa cancel")
	if !strings.Contains(f.lastReply(t), "Only Alice or an admin") {
		t.Errorf("reply = %q", f.lastReply(t))
	}

	f.bot.Handle(context.Background(), InboundMessage{
		ChannelID: "100", UserID: "2", UserName: "Bob", Text: "!santa cancel", IsAdmin: true,
	})
	if !strings.Contains(f.announcement(t), "was cancelled") {
		t.Errorf("announcement = %q", f.announcement(t))
	}
	f.say("1", "Alice", "!santa cancel")
	if !strings.Contains(f.lastReply(t), "no active Secret Santa") {
		t.Errorf("reply = %q", f.lastReply(t))
	}
}

func TestBot_Status(t *testing.T) {
	f := newBotFixture(t)
	f.say("1", "Alice", "!santa status")
	if !strings.Contains(f.lastReply(t), "no active Secret Santa") {
		t.Errorf("reply = %q", f.lastReply(t))
	}
	f.say("1", "Alice", "!santa new")
	f.say("2", "Bob", "!santa join")
	f.say("1", "Alice", "!santa status")
	reply := f.lastReply(t)
	if !strings.Contains(reply, "Participants: 1 (2 more needed)") || !strings.Contains(reply, "1. Bob") {
		t.Errorf("reply = %q", reply)
	}
}

func TestBot_HelpAndUnknown(t *testing.T) {
	f := newBotFixture(t)
	f.say("1", "Alice", "!santa")
	if !strings.Contains(f.lastReply(t), "Secret Santa commands") {
		t.Errorf("reply = %q", f.lastReply(t))
	}
	f.say("1", "Alice", "!santa dance")
	if !strings.Contains(f.lastReply(t), "Unknown command: `dance`") {
		t.Errorf("reply = %q", f.lastReply(t))
	}
}

func TestBot_IgnoresSelfAndChatter(t *testing.T) {
	f := newBotFixture(t)
	f.say("999", "santa-bot", "!santa new")
	f.say("1", "Alice", "merry christmas")
	f.say("1", "Alice", "!santanew")
	if n := f.adapter.SentCount(); n != 0 {
		t.Errorf("sent %d messages, want 0", n)
	}
}

func TestBot_MentionCommand(t *testing.T) {
	f := newBotFixture(t)
	f.say("1", "Alice", "<@999> new")
	if !strings.Contains(f.announcement(t), "Alice started") {
		t.Errorf("announcement = %q", f.announcement(t))
	}
}

func TestBot_DirectLeave(t *testing.T) {
	f := newBotFixture(t)
	f.say("1", "Alice", "!santa new")
	f.say("2", "Bob", "!santa join")
	f.dm("2", "!santa leave <#100>")

	s, _ := f.coord.Get(context.Background(), 100)
	if s.Has(2) {
		t.Error("Bob should have left")
	}
	dms := f.adapter.DirectTo("2")
	if !strings.Contains(dms[len(dms)-1].Text, "removed from that Secret Santa") {
		t.Errorf("dms = %+v", dms)
	}
	if strings.Contains(f.announcement(t), "Bob") {
		t.Errorf("announcement still lists Bob: %q", f.announcement(t))
	}
}

func TestBot_DirectRename(t *testing.T) {
	f := newBotFixture(t)
	f.say("1", "Alice", "!santa new")
	f.say("2", "Bob", "!santa join")
	f.dm("2", "!santa rename 100 Robert")

	if !strings.Contains(f.announcement(t), "1. Robert") {
		t.Errorf("announcement = %q", f.announcement(t))
	}
}

func TestBot_DirectUsage(t *testing.T) {
	f := newBotFixture(t)
	f.dm("2", "!santa start")
	dms := f.adapter.DirectTo("2")
	if len(dms) != 1 || !strings.Contains(dms[0].Text, "Usage") {
		t.Errorf("dms = %+v", dms)
	}
}

func TestBot_RemovedAndReadded(t *testing.T) {
	f := newBotFixture(t)
	ctx := context.Background()
	f.say("1", "Alice", "!santa new")
	f.say("2", "Bob", "!santa join")

	f.bot.Handle(ctx, InboundMessage{Kind: KindBotRemoved, ChannelID: "100"})
	if _, err := f.coord.Join(ctx, 100, 3, "Carol"); !errors.Is(err, exchange.ErrChatUnreachable) {
		t.Errorf("Join after removal = %v, want ErrChatUnreachable", err)
	}
	acks := f.adapter.DirectTo("2")
	if !strings.Contains(acks[0].Text, "can no longer post") {
		t.Errorf("join acknowledgement not updated: %q", acks[0].Text)
	}

	f.bot.Handle(ctx, InboundMessage{Kind: KindBotAdded, ChannelID: "100"})
	if _, err := f.coord.Join(ctx, 100, 3, "Carol"); !errors.Is(err, exchange.ErrNoSession) {
		t.Errorf("Join after re-add = %v, want ErrNoSession", err)
	}
}

func TestBot_JoinAfterRemoval(t *testing.T) {
	f := newBotFixture(t)
	f.say("1", "Alice", "!santa new")
	f.say("2", "Bob", "!santa join")
	f.bot.Handle(context.Background(), InboundMessage{Kind: KindBotRemoved, ChannelID: "100"})

	f.dm("3", "!santa join 100 Carol")
	dms := f.adapter.DirectTo("3")
	if len(dms) != 1 || !strings.Contains(dms[0].Text, "I was removed from that channel") {
		t.Errorf("dms = %+v", dms)
	}

	f.say("4", "Dan", "!santa join")
	if !strings.Contains(f.lastReply(t), "I was removed from that channel") {
		t.Errorf("reply = %q", f.lastReply(t))
	}
}

func TestBot_DirectJoin(t *testing.T) {
	f := newBotFixture(t)
	f.say("1", "Alice", "!santa new")

	f.dm("2", "!santa join 100 Bobby")
	if !strings.Contains(f.announcement(t), "1. Bobby") {
		t.Errorf("announcement = %q", f.announcement(t))
	}
	s, err := f.coord.Get(context.Background(), 100)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if p, ok := s.Participant(2); !ok || p.JoinCorrelationID == "" {
		t.Errorf("participant = %+v, %v", p, ok)
	}
}

func TestBot_MutedChatRefusesJoins(t *testing.T) {
	f := newBotFixture(t)
	ctx := context.Background()
	f.say("1", "Alice", "!santa new")
	f.say("2", "Bob", "!santa join")
	f.bot.Handle(ctx, InboundMessage{Kind: KindBotMuted, ChannelID: "100"})

	f.dm("3", "!santa join 100 Carol")
	dms := f.adapter.DirectTo("3")
	if len(dms) != 1 || !strings.Contains(dms[0].Text, "can't post in that channel") {
		t.Errorf("dms = %+v", dms)
	}
	if strings.Contains(f.announcement(t), "Carol") {
		t.Errorf("announcement = %q", f.announcement(t))
	}

	f.bot.Handle(ctx, InboundMessage{Kind: KindBotUnmuted, ChannelID: "100"})
	f.dm("3", "!santa join 100 Carol")
	if !strings.Contains(f.announcement(t), "2. Carol") {
		t.Errorf("announcement after unmute = %q", f.announcement(t))
	}
}

func TestBot_PostFailureMutesChat(t *testing.T) {
	f := newBotFixture(t)
	ctx := context.Background()
	f.say("1", "Alice", "!santa new")
	f.adapter.SetPostFailure("100", true)

	f.say("2", "Bob", "!santa join")
	s, err := f.coord.Get(ctx, 100)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !s.Muted {
		t.Error("chat not marked muted after a refused edit")
	}
	if _, err := f.coord.Join(ctx, 100, 3, "Carol"); !errors.Is(err, exchange.ErrChatMuted) {
		t.Errorf("Join = %v, want ErrChatMuted", err)
	}
}

func TestBot_OnExpiredSkipsMutedChat(t *testing.T) {
	f := newBotFixture(t)
	ctx := context.Background()
	f.say("1", "Alice", "!santa new")
	f.bot.Handle(ctx, InboundMessage{Kind: KindBotMuted, ChannelID: "100"})
	s, _ := f.coord.Get(ctx, 100)

	f.bot.OnExpired(ctx, s)
	msg, _ := f.adapter.Message("msg-1")
	if msg.Edits != 0 || strings.Contains(msg.Text, "expired") {
		t.Errorf("announcement edited in muted chat: %+v", msg)
	}
}

func TestBot_WithdrawRetractsAnnouncement(t *testing.T) {
	f := newBotFixture(t)
	f.say("1", "Alice", "!santa new")
	s, _ := f.coord.Get(context.Background(), 100)

	if err := f.bot.Withdraw(context.Background(), s); err != nil {
		t.Fatalf("Withdraw: %v", err)
	}
	if !strings.Contains(f.announcement(t), "out of date") {
		t.Errorf("announcement = %q", f.announcement(t))
	}
}

func TestBot_ChatMigrated(t *testing.T) {
	f := newBotFixture(t)
	ctx := context.Background()
	f.say("1", "Alice", "!santa new")
	f.say("2", "Bob", "!santa join")

	f.bot.Handle(ctx, InboundMessage{Kind: KindChatMigrated, ChannelID: "100", NewChannelID: "200"})

	s, err := f.coord.Get(ctx, 200)
	if err != nil {
		t.Fatalf("Get new chat: %v", err)
	}
	if !s.Has(2) {
		t.Error("roster not carried over")
	}
	msg, ok := f.adapter.Message(s.CorrelationID)
	if !ok || msg.ChannelID != "200" || !strings.Contains(msg.Text, "1. Bob") {
		t.Errorf("new announcement = %+v", msg)
	}
	if _, err := f.coord.Get(ctx, 100); !errors.Is(err, exchange.ErrNoSession) {
		t.Errorf("old chat = %v, want ErrNoSession", err)
	}
}

func TestBot_OnExpiredEditsAnnouncement(t *testing.T) {
	f := newBotFixture(t)
	f.say("1", "Alice", "!santa new")
	s, _ := f.coord.Get(context.Background(), 100)

	f.bot.OnExpired(context.Background(), s)
	if !strings.Contains(f.announcement(t), "expired (7 days passed") {
		t.Errorf("announcement = %q", f.announcement(t))
	}
}

func TestBot_RunHandlesInbound(t *testing.T) {
	f := newBotFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.bot.Run(ctx) }()

	// Run connects before listening; wait for it so SimulateInbound is read.
	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, err := f.adapter.Listen(ctx); err == nil || time.Now().After(deadline) {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	f.adapter.SimulateInbound(InboundMessage{ChannelID: "100", UserID: "1", UserName: "Alice", Text: "!santa new"})
	for f.adapter.SentCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if f.adapter.SentCount() != 1 {
		t.Fatalf("sent = %d, want 1", f.adapter.SentCount())
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		text string
		want string
		ok   bool
	}{
		{"!santa", "", true},
		{"  !santa join  ", "join", true},
		{"!santa join Bobby Tables", "join Bobby Tables", true},
		{"!santanew", "", false},
		{"hello", "", false},
		{"<@999> start", "start", true},
		{"<@!999> status", "status", true},
		{"<@U0BOT> cancel", "cancel", true},
		{"<@999> hello there", "", false},
	}
	for _, tt := range tests {
		args, ok := parseCommand(tt.text)
		if ok != tt.ok || strings.Join(args, " ") != tt.want {
			t.Errorf("parseCommand(%q) = %v, %v; want %q, %v", tt.text, args, ok, tt.want, tt.ok)
		}
	}
}

func TestChannelRef(t *testing.T) {
	tests := map[string]string{
		"<#100>":          "100",
		"<#C0123|office>": "C0123",
		"#C0123":          "C0123",
		"100":             "100",
	}
	for in, want := range tests {
		if got := channelRef(in); got != want {
			t.Errorf("channelRef(%q) = %q, want %q", in, got, want)
		}
	}
}
