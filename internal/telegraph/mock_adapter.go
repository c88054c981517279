package telegraph

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// SentMessage is a message recorded by MockAdapter.
type SentMessage struct {
	ID        string
	ChannelID string // set for group posts
	UserID    string // set for private messages
	Text      string
	Edits     int
}

// MockAdapter implements Adapter for testing. It records posted and private
// messages and allows simulating inbound events via SimulateInbound.
type MockAdapter struct {
	mu          sync.Mutex
	connected   bool
	closed      bool
	inbound     chan InboundMessage
	sent        []*SentMessage
	counter     int
	botUserID   string
	unreachable map[string]bool
	failPost    map[string]bool
}

// NewMockAdapter creates a MockAdapter with a buffered inbound channel.
func NewMockAdapter() *MockAdapter {
	return &MockAdapter{
		inbound:     make(chan InboundMessage, 100),
		unreachable: make(map[string]bool),
		failPost:    make(map[string]bool),
	}
}

// BotUserID returns the configured bot user ID (implements BotUserIDer).
func (m *MockAdapter) BotUserID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.botUserID
}

// SetBotUserID sets the bot user ID for testing.
func (m *MockAdapter) SetBotUserID(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.botUserID = id
}

// Connect marks the adapter as connected.
func (m *MockAdapter) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("mock adapter: already closed")
	}
	m.connected = true
	return nil
}

// Listen returns the inbound message channel. Must be called after Connect.
func (m *MockAdapter) Listen(ctx context.Context) (<-chan InboundMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return nil, fmt.Errorf("mock adapter: not connected")
	}
	return m.inbound, nil
}

// Post records a group message.
func (m *MockAdapter) Post(ctx context.Context, channelID, text string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failPost[channelID] {
		return "", fmt.Errorf("mock adapter: post to %s: %w", channelID, ErrCannotPost)
	}
	return m.record(&SentMessage{ChannelID: channelID, Text: text}), nil
}

// Edit replaces the text of a recorded group message.
func (m *MockAdapter) Edit(ctx context.Context, channelID, messageID, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failPost[channelID] {
		return fmt.Errorf("mock adapter: edit in %s: %w", channelID, ErrCannotPost)
	}
	msg := m.find(messageID)
	if msg == nil || msg.ChannelID != channelID {
		return fmt.Errorf("mock adapter: message %s not found in %s", messageID, channelID)
	}
	msg.Text = text
	msg.Edits++
	return nil
}

// SendDirect records a private message. Unreachable users fail.
func (m *MockAdapter) SendDirect(ctx context.Context, userID, text string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.unreachable[userID] {
		return "", fmt.Errorf("mock adapter: %s cannot be messaged", userID)
	}
	return m.record(&SentMessage{UserID: userID, Text: text}), nil
}

// EditDirect replaces the text of a recorded private message.
func (m *MockAdapter) EditDirect(ctx context.Context, userID, messageID, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg := m.find(messageID)
	if msg == nil || msg.UserID != userID {
		return fmt.Errorf("mock adapter: private message %s not found for %s", messageID, userID)
	}
	msg.Text = text
	msg.Edits++
	return nil
}

// Probe reports false for users marked with SetUnreachable.
func (m *MockAdapter) Probe(ctx context.Context, userID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.unreachable[userID], nil
}

// Close shuts down the mock adapter and closes the inbound channel.
func (m *MockAdapter) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	m.connected = false
	close(m.inbound)
	return nil
}

func (m *MockAdapter) record(msg *SentMessage) string {
	m.counter++
	msg.ID = fmt.Sprintf("msg-%d", m.counter)
	m.sent = append(m.sent, msg)
	return msg.ID
}

func (m *MockAdapter) find(id string) *SentMessage {
	for _, msg := range m.sent {
		if msg.ID == id {
			return msg
		}
	}
	return nil
}

// --- Test helpers ---

// SimulateInbound sends an event into the inbound channel as if it came
// from the chat platform. Safe to call from any goroutine.
func (m *MockAdapter) SimulateInbound(msg InboundMessage) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	m.inbound <- msg
}

// SetUnreachable makes Probe and SendDirect fail for userID.
func (m *MockAdapter) SetUnreachable(userID string, unreachable bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unreachable[userID] = unreachable
}

// SetPostFailure makes Post and Edit fail for channelID with ErrCannotPost.
func (m *MockAdapter) SetPostFailure(channelID string, fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failPost[channelID] = fail
}

// Message returns a copy of the recorded message with id.
func (m *MockAdapter) Message(id string) (SentMessage, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if msg := m.find(id); msg != nil {
		return *msg, true
	}
	return SentMessage{}, false
}

// LastSent returns the most recently recorded message.
// Returns zero value and false if nothing has been sent.
func (m *MockAdapter) LastSent() (SentMessage, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		return SentMessage{}, false
	}
	return *m.sent[len(m.sent)-1], true
}

// SentCount returns the number of recorded messages.
func (m *MockAdapter) SentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

// AllSent returns a copy of all recorded messages.
func (m *MockAdapter) AllSent() []SentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SentMessage, len(m.sent))
	for i, msg := range m.sent {
		out[i] = *msg
	}
	return out
}

// DirectTo returns the private messages recorded for userID.
func (m *MockAdapter) DirectTo(userID string) []SentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []SentMessage
	for _, msg := range m.sent {
		if msg.UserID == userID {
			out = append(out, *msg)
		}
	}
	return out
}
