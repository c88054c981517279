package exchange

import (
	"context"
	"errors"
	"fmt"

	"github.com/abdomilano6222222/tg-secret-santa-bot/internal/santa"
)

// Open creates a new exchange in chatID and announces it. If the chat already
// has one, the existing session is returned together with ErrAlreadyActive.
//
// The announcement is posted outside the chat lock. When another exchange
// was stored in the meantime the new announcement is withdrawn and the
// winner is returned with ErrAlreadyActive.
func (c *Coordinator) Open(ctx context.Context, chatID int64, chatTitle string, creatorID int64, creatorName string) (*santa.Session, error) {
	existing, err := c.getLocked(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, ErrAlreadyActive
	}

	s := santa.New(chatID, chatTitle, creatorID, creatorName, c.now(), c.limits.NameMaxLength)
	corr, err := c.announcer.Announce(ctx, s)
	if err != nil {
		return nil, fmt.Errorf("exchange: announce in %d: %w", chatID, err)
	}
	s.CorrelationID = corr

	existing, err = c.putIfAbsent(ctx, s)
	if err != nil || existing != nil {
		c.withdraw(ctx, s)
		if err != nil {
			return nil, err
		}
		return existing, ErrAlreadyActive
	}
	// Posting worked, so the bot is evidently back in the chat.
	if err := c.reg.ClearUnreachable(ctx, chatID); err != nil {
		c.log.Warn("clear unreachable marker", "chat_id", chatID, "error", err)
	}
	c.log.Info("exchange opened", "chat_id", chatID, "user_id", creatorID)
	return s, nil
}

func (c *Coordinator) getLocked(ctx context.Context, chatID int64) (*santa.Session, error) {
	unlock := c.locks.Lock(chatID)
	defer unlock()
	return c.reg.GetActive(ctx, chatID)
}

// putIfAbsent stores s unless its chat got an active session, which is then
// returned instead.
func (c *Coordinator) putIfAbsent(ctx context.Context, s *santa.Session) (*santa.Session, error) {
	unlock := c.locks.Lock(s.ChatID)
	defer unlock()

	existing, err := c.reg.GetActive(ctx, s.ChatID)
	if err != nil || existing != nil {
		return existing, err
	}
	return nil, c.reg.PutActive(ctx, s)
}

// withdraw retracts an announcement that was posted but never stored.
func (c *Coordinator) withdraw(ctx context.Context, s *santa.Session) {
	c.log.Info("withdrawing stray announcement", "chat_id", s.ChatID)
	if err := c.announcer.Withdraw(ctx, s); err != nil {
		c.log.Warn("withdraw announcement", "chat_id", s.ChatID, "error", err)
	}
}

// JoinResult describes a successful join.
type JoinResult struct {
	Session *santa.Session
	// Rejoined is set when the user was already on the roster.
	Rejoined bool
	// DuplicateName is the name of another participant equal to the joining
	// user's name, if any.
	DuplicateName string
}

// Join adds userID to the exchange of chatID.
func (c *Coordinator) Join(ctx context.Context, chatID, userID int64, name string) (JoinResult, error) {
	unlock := c.locks.Lock(chatID)
	defer unlock()

	s, err := c.reg.GetActive(ctx, chatID)
	if err != nil {
		return JoinResult{}, err
	}
	if s == nil {
		gone, err := c.reg.IsRecentlyUnreachable(ctx, chatID)
		if err != nil {
			return JoinResult{}, err
		}
		if gone {
			return JoinResult{}, ErrChatUnreachable
		}
		return JoinResult{}, ErrNoSession
	}
	if s.Muted {
		return JoinResult{Session: s}, ErrChatMuted
	}
	if !s.Open() {
		return JoinResult{}, ErrSessionClosed
	}

	rejoin := s.Has(userID)
	if !rejoin && c.limits.MaxParticipants > 0 && s.Count() >= c.limits.MaxParticipants {
		return JoinResult{Session: s}, ErrSessionFull
	}

	// The joining user's own previous entry never counts as a duplicate.
	others := s.Clone()
	others.Remove(userID)
	dup, _ := others.DuplicateName(name)

	if err := s.Add(userID, name); err != nil {
		return JoinResult{}, err
	}
	if err := c.reg.PutActive(ctx, s); err != nil {
		return JoinResult{}, err
	}
	c.log.Debug("participant joined", "chat_id", chatID, "user_id", userID, "rejoin", rejoin)
	return JoinResult{Session: s, Rejoined: rejoin, DuplicateName: dup}, nil
}

// SetJoinCorrelation records the private acknowledgement sent to userID. It
// does nothing when the session or the participant is gone.
func (c *Coordinator) SetJoinCorrelation(ctx context.Context, chatID, userID int64, correlationID string) error {
	return c.update(ctx, chatID, func(s *santa.Session) bool {
		if !s.Has(userID) {
			return false
		}
		s.SetJoinCorrelation(userID, correlationID)
		return true
	})
}

// LeaveResult describes the outcome of Leave.
type LeaveResult struct {
	Session *santa.Session
	// Removed is false when the user was not a participant.
	Removed bool
	// JoinCorrelationID addresses the private join acknowledgement that
	// should be retracted.
	JoinCorrelationID string
}

// Leave removes userID from the exchange of chatID.
func (c *Coordinator) Leave(ctx context.Context, chatID, userID int64) (LeaveResult, error) {
	unlock := c.locks.Lock(chatID)
	defer unlock()

	s, err := c.reg.GetActive(ctx, chatID)
	if err != nil {
		return LeaveResult{}, err
	}
	if s == nil {
		return LeaveResult{}, ErrNoSession
	}
	p, ok := s.Participant(userID)
	if !ok {
		return LeaveResult{Session: s}, nil
	}
	if err := s.Remove(userID); err != nil {
		return LeaveResult{}, err
	}
	if err := c.reg.PutActive(ctx, s); err != nil {
		return LeaveResult{}, err
	}
	c.log.Debug("participant left", "chat_id", chatID, "user_id", userID)
	return LeaveResult{Session: s, Removed: true, JoinCorrelationID: p.JoinCorrelationID}, nil
}

// Rename updates the stored name of userID and reports whether it changed.
func (c *Coordinator) Rename(ctx context.Context, chatID, userID int64, name string) (*santa.Session, bool, error) {
	unlock := c.locks.Lock(chatID)
	defer unlock()

	s, err := c.reg.GetActive(ctx, chatID)
	if err != nil {
		return nil, false, err
	}
	if s == nil {
		return nil, false, ErrNoSession
	}
	if !s.Rename(userID, name) {
		return s, false, nil
	}
	if err := c.reg.PutActive(ctx, s); err != nil {
		return nil, false, err
	}
	return s, true, nil
}

// Cancel removes the exchange of chatID. Only the creator or an admin may
// cancel; elevated callers (chat administrators, checked by the caller) pass
// elevated=true. Cancelling a chat with no exchange returns (nil, nil).
func (c *Coordinator) Cancel(ctx context.Context, chatID, userID int64, elevated bool) (*santa.Session, error) {
	unlock := c.locks.Lock(chatID)
	defer unlock()

	s, err := c.reg.GetActive(ctx, chatID)
	if err != nil || s == nil {
		return nil, err
	}
	if s.CreatorID != userID && !elevated && !c.admin(ctx, chatID, userID) {
		return s, ErrForbidden
	}
	if err := s.Cancel(); err != nil {
		return nil, err
	}
	if err := c.reg.RemoveActive(ctx, chatID); err != nil {
		return nil, err
	}
	c.log.Info("exchange cancelled", "chat_id", chatID, "user_id", userID)
	return s, nil
}

func (c *Coordinator) admin(ctx context.Context, chatID, userID int64) bool {
	return c.isAdmin != nil && c.isAdmin(ctx, chatID, userID)
}

// Migrate moves the exchange of oldChatID to newChatID, keeping the roster
// verbatim and posting a fresh announcement. It returns (nil, nil) when the
// old chat had no exchange.
//
// As in Open, the announcement is posted outside the locks. The roster is
// re-read once they are held again, so joins that raced the announcement
// are kept.
func (c *Coordinator) Migrate(ctx context.Context, oldChatID, newChatID int64) (*santa.Session, error) {
	old, err := c.checkMigratable(ctx, oldChatID, newChatID)
	if err != nil || old == nil || oldChatID == newChatID {
		return old, err
	}

	s := santa.New(newChatID, old.ChatTitle, old.CreatorID, old.CreatorName, c.now(), old.NameLimit)
	s.Participants = append(s.Participants, old.Participants...)
	corr, err := c.announcer.Announce(ctx, s)
	if err != nil {
		return nil, fmt.Errorf("exchange: announce in %d: %w", newChatID, err)
	}
	s.CorrelationID = corr

	existing, err := c.moveLocked(ctx, oldChatID, s)
	if err != nil || existing != nil {
		c.withdraw(ctx, s)
		switch {
		case errors.Is(err, ErrNoSession):
			return nil, nil
		case err != nil:
			return nil, err
		}
		return existing, ErrAlreadyActive
	}
	c.log.Info("exchange migrated", "chat_id", newChatID, "old_chat_id", oldChatID, "participants", s.Count())
	return s, nil
}

func (c *Coordinator) checkMigratable(ctx context.Context, oldChatID, newChatID int64) (*santa.Session, error) {
	unlock := c.locks.LockPair(oldChatID, newChatID)
	defer unlock()

	old, err := c.reg.GetActive(ctx, oldChatID)
	if err != nil || old == nil || oldChatID == newChatID {
		return old, err
	}
	if existing, err := c.reg.GetActive(ctx, newChatID); err != nil {
		return nil, err
	} else if existing != nil {
		return existing, ErrAlreadyActive
	}
	return old, nil
}

// moveLocked stores s in place of the active session of oldChatID, taking
// over its current roster. It returns the session already active in
// s.ChatID, if any, without moving anything.
func (c *Coordinator) moveLocked(ctx context.Context, oldChatID int64, s *santa.Session) (*santa.Session, error) {
	unlock := c.locks.LockPair(oldChatID, s.ChatID)
	defer unlock()

	if existing, err := c.reg.GetActive(ctx, s.ChatID); err != nil || existing != nil {
		return existing, err
	}
	old, err := c.reg.GetActive(ctx, oldChatID)
	if err != nil {
		return nil, err
	}
	if old == nil {
		return nil, ErrNoSession
	}
	s.Participants = append(s.Participants[:0], old.Participants...)
	return nil, c.reg.Migrate(ctx, oldChatID, s)
}

// MarkUnreachable records that the bot was removed from chatID and drops its
// active exchange, which is returned if there was one.
func (c *Coordinator) MarkUnreachable(ctx context.Context, chatID int64) (*santa.Session, error) {
	unlock := c.locks.Lock(chatID)
	defer unlock()

	if err := c.reg.MarkUnreachable(ctx, chatID, c.now()); err != nil {
		return nil, err
	}
	s, err := c.reg.GetActive(ctx, chatID)
	if err != nil || s == nil {
		return nil, err
	}
	if err := c.reg.RemoveActive(ctx, chatID); err != nil {
		return nil, err
	}
	c.log.Info("dropped exchange of unreachable chat", "chat_id", chatID, "participants", s.Count())
	return s, nil
}

// ClearUnreachable forgets that the bot was removed from chatID.
func (c *Coordinator) ClearUnreachable(ctx context.Context, chatID int64) error {
	return c.reg.ClearUnreachable(ctx, chatID)
}

// SetMuted records whether the bot can post in chatID. The flag lives on the
// active session, so it is dropped together with it; the session is returned
// if there is one. Muted exchanges refuse joins.
func (c *Coordinator) SetMuted(ctx context.Context, chatID int64, muted bool) (*santa.Session, error) {
	unlock := c.locks.Lock(chatID)
	defer unlock()

	s, err := c.reg.GetActive(ctx, chatID)
	if err != nil || s == nil || s.Muted == muted {
		return s, err
	}
	s.Muted = muted
	if err := c.reg.PutActive(ctx, s); err != nil {
		return nil, err
	}
	c.log.Info("chat posting permission changed", "chat_id", chatID, "muted", muted)
	return s, nil
}

// update applies fn to the active session of chatID under its lock and
// persists it when fn reports a change. A missing session is not an error.
func (c *Coordinator) update(ctx context.Context, chatID int64, fn func(s *santa.Session) bool) error {
	unlock := c.locks.Lock(chatID)
	defer unlock()

	s, err := c.reg.GetActive(ctx, chatID)
	if err != nil || s == nil {
		return err
	}
	if !fn(s) {
		return nil
	}
	return c.reg.PutActive(ctx, s)
}
