// Package santa models a single gift exchange: the chat it belongs to, its
// ordered roster of participants and its lifecycle state.
package santa

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/abdomilano6222222/tg-secret-santa-bot/internal/draft"
)

// DefaultNameLimit is used when a session is created without a name limit.
const DefaultNameLimit = 32

// State is the lifecycle state of a Session.
type State string

const (
	StateOpen      State = "open"
	StateStarted   State = "started"
	StateCancelled State = "cancelled"
	StateExpired   State = "expired"
)

// Terminal reports whether no further transition can leave s.
func (s State) Terminal() bool {
	return s == StateCancelled || s == StateExpired
}

var (
	// ErrSessionClosed is returned by roster mutations once the session is
	// no longer open.
	ErrSessionClosed = errors.New("santa: session is closed")
	// ErrInvalidTransition is returned when a state change is not allowed
	// from the current state.
	ErrInvalidTransition = errors.New("santa: invalid state transition")
)

// Participant is one roster entry.
type Participant struct {
	ID                 int64  `json:"id"`
	Name               string `json:"name"`
	JoinCorrelationID  string `json:"join_correlation_id,omitempty"`
	MatchCorrelationID string `json:"match_correlation_id,omitempty"`
}

// Session is one gift exchange scoped to a chat. Participants keep their join
// order, which is also the numbering used when the roster is displayed.
// Muted is set while the bot cannot post in the chat.
type Session struct {
	ChatID        int64         `json:"chat_id"`
	ChatTitle     string        `json:"chat_title,omitempty"`
	CreatorID     int64         `json:"creator_id"`
	CreatorName   string        `json:"creator_name"`
	CreatedAt     time.Time     `json:"created_at"`
	StartedAt     *time.Time    `json:"started_at,omitempty"`
	CorrelationID string        `json:"correlation_id,omitempty"`
	State         State         `json:"state"`
	Muted         bool          `json:"muted,omitempty"`
	NameLimit     int           `json:"name_limit"`
	Participants  []Participant `json:"participants"`
	Pairs         []draft.Pair  `json:"pairs,omitempty"`
}

// New returns an open session with an empty roster.
func New(chatID int64, chatTitle string, creatorID int64, creatorName string, now time.Time, nameLimit int) *Session {
	if nameLimit <= 0 {
		nameLimit = DefaultNameLimit
	}
	return &Session{
		ChatID:       chatID,
		ChatTitle:    chatTitle,
		CreatorID:    creatorID,
		CreatorName:  Truncate(creatorName, nameLimit),
		CreatedAt:    now.UTC(),
		State:        StateOpen,
		NameLimit:    nameLimit,
		Participants: []Participant{},
	}
}

// Open reports whether the roster still accepts changes.
func (s *Session) Open() bool { return s.State == StateOpen }

// Started reports whether matching has completed.
func (s *Session) Started() bool { return s.State == StateStarted }

// Count returns the number of participants.
func (s *Session) Count() int { return len(s.Participants) }

// MissingCount returns how many more participants are needed to reach min.
func (s *Session) MissingCount(min int) int {
	if n := min - len(s.Participants); n > 0 {
		return n
	}
	return 0
}

// Age returns how long ago the session was created.
func (s *Session) Age(now time.Time) time.Duration {
	return now.Sub(s.CreatedAt)
}

// Start records a successful match.
func (s *Session) Start(pairs []draft.Pair, now time.Time) error {
	if s.State != StateOpen {
		return fmt.Errorf("%w: start from %s", ErrInvalidTransition, s.State)
	}
	at := now.UTC()
	s.State = StateStarted
	s.StartedAt = &at
	s.Pairs = append([]draft.Pair(nil), pairs...)
	return nil
}

// Cancel marks an open session as cancelled.
func (s *Session) Cancel() error {
	if s.State != StateOpen {
		return fmt.Errorf("%w: cancel from %s", ErrInvalidTransition, s.State)
	}
	s.State = StateCancelled
	return nil
}

// Expire marks an open session as expired.
func (s *Session) Expire() error {
	if s.State != StateOpen {
		return fmt.Errorf("%w: expire from %s", ErrInvalidTransition, s.State)
	}
	s.State = StateExpired
	return nil
}

// ReceiverOf returns who giverID was assigned to.
func (s *Session) ReceiverOf(giverID int64) (int64, bool) {
	for _, p := range s.Pairs {
		if p.Giver == giverID {
			return p.Receiver, true
		}
	}
	return 0, false
}

// Clone returns a deep copy of s.
func (s *Session) Clone() *Session {
	c := *s
	if s.StartedAt != nil {
		at := *s.StartedAt
		c.StartedAt = &at
	}
	c.Participants = append([]Participant{}, s.Participants...)
	if s.Pairs != nil {
		c.Pairs = append([]draft.Pair(nil), s.Pairs...)
	}
	return &c
}

// Marshal encodes the session as a JSON record.
func (s *Session) Marshal() ([]byte, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("santa: marshal session %d: %w", s.ChatID, err)
	}
	return data, nil
}

// Unmarshal decodes a record produced by Marshal.
func Unmarshal(data []byte) (*Session, error) {
	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("santa: unmarshal session: %w", err)
	}
	if s.Participants == nil {
		s.Participants = []Participant{}
	}
	if s.State == "" {
		return nil, fmt.Errorf("santa: unmarshal session %d: missing state", s.ChatID)
	}
	if (s.StartedAt != nil) != (s.State == StateStarted) {
		return nil, fmt.Errorf("santa: unmarshal session %d: started_at inconsistent with state %s", s.ChatID, s.State)
	}
	return &s, nil
}
