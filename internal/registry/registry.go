// Package registry persists active sessions, the archive of started sessions
// and the markers of chats the bot was removed from.
//
// Operations are keyed and not transactional across keys, with one
// exception: Migrate moves a session between chat ids atomically.
package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/abdomilano6222222/tg-secret-santa-bot/internal/santa"
)

var (
	// ErrNotStarted is returned when archiving a session that never matched.
	ErrNotStarted = errors.New("registry: only started sessions can be archived")
	// ErrTerminal is returned when storing a cancelled or expired session as
	// active.
	ErrTerminal = errors.New("registry: terminal sessions cannot be active")
)

// Registry stores session records.
type Registry interface {
	// GetActive returns the active session of chatID, or nil if there is none.
	GetActive(ctx context.Context, chatID int64) (*santa.Session, error)
	// PutActive creates or replaces the active session of s.ChatID.
	PutActive(ctx context.Context, s *santa.Session) error
	// RemoveActive deletes the active session of chatID. Missing is not an error.
	RemoveActive(ctx context.Context, chatID int64) error
	// Migrate removes the active session of oldChatID and stores s under
	// s.ChatID in one step: either both happen or neither does.
	Migrate(ctx context.Context, oldChatID int64, s *santa.Session) error
	// ListActive returns every active session.
	ListActive(ctx context.Context) ([]*santa.Session, error)

	// Archive stores a copy of a started session keyed by
	// (ChatID, CorrelationID). Archiving the same key again replaces it.
	Archive(ctx context.Context, s *santa.Session) error
	// ListArchive returns the archived sessions of chatID, oldest first.
	ListArchive(ctx context.Context, chatID int64) ([]*santa.Session, error)
	// ArchiveStats counts archived sessions and the chats they belong to.
	ArchiveStats(ctx context.Context) (ArchiveStats, error)
	// PurgeArchive deletes archived sessions started before cutoff.
	PurgeArchive(ctx context.Context, cutoff time.Time) (int, error)

	// MarkUnreachable records that the bot was removed from chatID at at.
	MarkUnreachable(ctx context.Context, chatID int64, at time.Time) error
	// ClearUnreachable drops the marker of chatID.
	ClearUnreachable(ctx context.Context, chatID int64) error
	// IsRecentlyUnreachable reports whether chatID has a marker that has not
	// been purged yet.
	IsRecentlyUnreachable(ctx context.Context, chatID int64) (bool, error)
	// PurgeUnreachable deletes markers recorded before cutoff.
	PurgeUnreachable(ctx context.Context, cutoff time.Time) (int, error)

	Close() error
}

// ArchiveStats summarises the archive.
type ArchiveStats struct {
	Chats    int `json:"chats"`
	Sessions int `json:"sessions"`
}

func checkActive(s *santa.Session) error {
	if s.State.Terminal() {
		return fmt.Errorf("%w: chat %d is %s", ErrTerminal, s.ChatID, s.State)
	}
	return nil
}

func checkArchivable(s *santa.Session) error {
	if s.State != santa.StateStarted || s.StartedAt == nil {
		return ErrNotStarted
	}
	return nil
}
