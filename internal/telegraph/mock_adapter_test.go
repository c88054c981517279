package telegraph

import (
	"context"
	"testing"
)

// Compile-time interface compliance checks.
var _ Adapter = (*MockAdapter)(nil)
var _ BotUserIDer = (*MockAdapter)(nil)

func TestMockAdapter_ConnectAndClose(t *testing.T) {
	m := NewMockAdapter()
	ctx := context.Background()

	if err := m.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	// Connect after close should fail.
	if err := m.Connect(ctx); err == nil {
		t.Fatal("Connect after Close should fail")
	}
	// Double close should be safe.
	if err := m.Close(); err != nil {
		t.Fatalf("double Close should succeed: %v", err)
	}
}

func TestMockAdapter_ListenRequiresConnect(t *testing.T) {
	m := NewMockAdapter()
	if _, err := m.Listen(context.Background()); err == nil {
		t.Fatal("Listen before Connect should fail")
	}
}

func TestMockAdapter_PostAndEdit(t *testing.T) {
	m := NewMockAdapter()
	ctx := context.Background()

	id, err := m.Post(ctx, "C1", "hello")
	if err != nil {
		t.Fatalf("Post: %v", err)
	}
	if err := m.Edit(ctx, "C1", id, "edited"); err != nil {
		t.Fatalf("Edit: %v", err)
	}
	msg, ok := m.Message(id)
	if !ok || msg.Text != "edited" || msg.Edits != 1 {
		t.Errorf("message = %+v", msg)
	}
	if err := m.Edit(ctx, "C2", id, "x"); err == nil {
		t.Error("editing in another channel should fail")
	}
}

func TestMockAdapter_DirectAndProbe(t *testing.T) {
	m := NewMockAdapter()
	ctx := context.Background()

	id, err := m.SendDirect(ctx, "U1", "psst")
	if err != nil {
		t.Fatalf("SendDirect: %v", err)
	}
	if err := m.EditDirect(ctx, "U2", id, "x"); err == nil {
		t.Error("editing another user's message should fail")
	}

	m.SetUnreachable("U1", true)
	if ok, _ := m.Probe(ctx, "U1"); ok {
		t.Error("Probe should report unreachable user")
	}
	if _, err := m.SendDirect(ctx, "U1", "again"); err == nil {
		t.Error("SendDirect to unreachable user should fail")
	}
	if got := len(m.DirectTo("U1")); got != 1 {
		t.Errorf("DirectTo = %d messages, want 1", got)
	}
}

func TestMockAdapter_SimulateInbound(t *testing.T) {
	m := NewMockAdapter()
	ctx := context.Background()
	m.Connect(ctx)
	ch, _ := m.Listen(ctx)

	m.SimulateInbound(InboundMessage{ChannelID: "C1", Text: "!santa"})
	got := <-ch
	if got.Text != "!santa" || got.Timestamp.IsZero() {
		t.Errorf("inbound = %+v", got)
	}
}
