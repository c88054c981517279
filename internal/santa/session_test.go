package santa

import (
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/abdomilano6222222/tg-secret-santa-bot/internal/draft"
)

var testNow = time.Date(2025, 12, 1, 18, 30, 0, 0, time.UTC)

func newTestSession(t *testing.T) *Session {
	t.Helper()
	return New(100, "Office", 1, "Alice", testNow, 16)
}

func TestNew(t *testing.T) {
	s := newTestSession(t)
	if s.State != StateOpen {
		t.Errorf("State = %q, want %q", s.State, StateOpen)
	}
	if s.StartedAt != nil {
		t.Error("StartedAt should be nil for an open session")
	}
	if s.Count() != 0 {
		t.Errorf("Count = %d, want 0", s.Count())
	}
	if s.NameLimit != 16 {
		t.Errorf("NameLimit = %d, want 16", s.NameLimit)
	}
}

func TestNew_DefaultNameLimit(t *testing.T) {
	s := New(1, "", 1, "x", testNow, 0)
	if s.NameLimit != DefaultNameLimit {
		t.Errorf("NameLimit = %d, want %d", s.NameLimit, DefaultNameLimit)
	}
}

func TestMissingCount(t *testing.T) {
	s := newTestSession(t)
	s.Add(1, "A")
	if got := s.MissingCount(3); got != 2 {
		t.Errorf("MissingCount(3) = %d, want 2", got)
	}
	s.Add(2, "B")
	s.Add(3, "C")
	s.Add(4, "D")
	if got := s.MissingCount(3); got != 0 {
		t.Errorf("MissingCount(3) = %d, want 0", got)
	}
}

func TestStart(t *testing.T) {
	s := newTestSession(t)
	s.Add(1, "A")
	s.Add(2, "B")
	pairs := []draft.Pair{{Giver: 1, Receiver: 2}, {Giver: 2, Receiver: 1}}
	if err := s.Start(pairs, testNow.Add(time.Hour)); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if s.State != StateStarted {
		t.Errorf("State = %q, want started", s.State)
	}
	if s.StartedAt == nil || !s.StartedAt.Equal(testNow.Add(time.Hour)) {
		t.Errorf("StartedAt = %v", s.StartedAt)
	}
	if r, ok := s.ReceiverOf(2); !ok || r != 1 {
		t.Errorf("ReceiverOf(2) = %d, %v", r, ok)
	}
	if err := s.Start(pairs, testNow); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("second Start err = %v, want ErrInvalidTransition", err)
	}
}

func TestTerminalTransitions(t *testing.T) {
	s := newTestSession(t)
	if err := s.Cancel(); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if !s.State.Terminal() {
		t.Error("cancelled should be terminal")
	}
	if err := s.Expire(); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Expire after cancel err = %v", err)
	}

	e := newTestSession(t)
	if err := e.Expire(); err != nil {
		t.Fatalf("Expire: %v", err)
	}
	if err := e.Start(nil, testNow); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Start after expire err = %v", err)
	}
	if StateStarted.Terminal() || StateOpen.Terminal() {
		t.Error("open/started must not be terminal")
	}
}

func TestRoundTrip(t *testing.T) {
	s := newTestSession(t)
	s.CorrelationID = "chan-1:msg-9"
	s.Add(30, "Zed")
	s.Add(10, "Ann")
	s.Add(20, "Bob")
	s.SetJoinCorrelation(10, "dm-10:1")

	data, err := s.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	got, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if !reflect.DeepEqual(got, s) {
		t.Errorf("round trip mismatch:\n got  %+v\n want %+v", got, s)
	}
	if ids := got.IDs(); !reflect.DeepEqual(ids, []int64{30, 10, 20}) {
		t.Errorf("IDs = %v, want insertion order", ids)
	}
}

func TestRoundTrip_Started(t *testing.T) {
	s := newTestSession(t)
	s.Add(1, "A")
	s.Add(2, "B")
	s.Start([]draft.Pair{{Giver: 1, Receiver: 2}, {Giver: 2, Receiver: 1}}, testNow.Add(time.Minute))
	s.SetMatchCorrelation(1, "dm-1:5")

	data, err := s.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	got, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if !reflect.DeepEqual(got, s) {
		t.Errorf("round trip mismatch:\n got  %+v\n want %+v", got, s)
	}
}

func TestRoundTrip_OmitsAbsentFields(t *testing.T) {
	s := newTestSession(t)
	data, _ := s.Marshal()
	for _, key := range []string{"started_at", "correlation_id", "pairs"} {
		if strings.Contains(string(data), key) {
			t.Errorf("record %s should not contain %q", data, key)
		}
	}
}

func TestUnmarshal_Invalid(t *testing.T) {
	tests := map[string]string{
		"garbage":           "{",
		"missing state":     `{"chat_id":1}`,
		"started no time":   `{"chat_id":1,"state":"started"}`,
		"open with started": `{"chat_id":1,"state":"open","started_at":"2025-01-01T00:00:00Z"}`,
	}
	for name, in := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := Unmarshal([]byte(in)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestClone_IsDeep(t *testing.T) {
	s := newTestSession(t)
	s.Add(1, "A")
	s.Add(2, "B")
	s.Start([]draft.Pair{{Giver: 1, Receiver: 2}, {Giver: 2, Receiver: 1}}, testNow)

	c := s.Clone()
	c.Participants[0].Name = "changed"
	c.Pairs[0].Receiver = 99
	*c.StartedAt = testNow.Add(time.Hour)

	if s.Participants[0].Name != "A" {
		t.Error("clone shares participants")
	}
	if s.Pairs[0].Receiver != 2 {
		t.Error("clone shares pairs")
	}
	if !s.StartedAt.Equal(testNow) {
		t.Error("clone shares StartedAt")
	}
}
