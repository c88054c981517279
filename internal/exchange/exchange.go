// Package exchange coordinates the lifecycle of gift exchanges: creating them,
// changing their rosters, matching, cancellation, chat migration and the
// periodic sweeps that reclaim stale state.
//
// Every mutation of a chat's session runs under that chat's lock from the
// registry Locker. Calls into the messaging collaborators that may be slow
// (reachability probes and private deliveries) run outside of it.
package exchange

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/abdomilano6222222/tg-secret-santa-bot/internal/config"
	"github.com/abdomilano6222222/tg-secret-santa-bot/internal/draft"
	"github.com/abdomilano6222222/tg-secret-santa-bot/internal/registry"
	"github.com/abdomilano6222222/tg-secret-santa-bot/internal/santa"
)

var (
	ErrAlreadyActive            = errors.New("exchange: chat already has an active exchange")
	ErrNoSession                = errors.New("exchange: no active exchange in chat")
	ErrChatUnreachable          = errors.New("exchange: bot was removed from chat")
	ErrChatMuted                = errors.New("exchange: bot cannot post in chat")
	ErrSessionFull              = errors.New("exchange: exchange is full")
	ErrForbidden                = errors.New("exchange: not allowed")
	ErrInsufficientParticipants = errors.New("exchange: not enough participants")
	ErrRosterChanged            = errors.New("exchange: roster changed while checking participants")

	// ErrSessionClosed and ErrMatchingFailed are the santa and draft errors,
	// re-exported so callers only need this package.
	ErrSessionClosed  = santa.ErrSessionClosed
	ErrMatchingFailed = draft.ErrMatchingFailed
)

// Assignment is the payload of one private match notification.
type Assignment struct {
	ChatID       int64
	ChatTitle    string
	GiverID      int64
	GiverName    string
	ReceiverID   int64
	ReceiverName string
}

// Messenger reaches participants privately.
type Messenger interface {
	// Probe reports whether userID can currently receive private messages.
	Probe(ctx context.Context, userID int64) (bool, error)
	// DeliverPrivate sends a to userID and returns the correlation id of the
	// sent message.
	DeliverPrivate(ctx context.Context, userID int64, a Assignment) (string, error)
}

// Announcer publishes the chat announcement of a new exchange.
type Announcer interface {
	// Announce posts the announcement of s and returns its correlation id.
	Announce(ctx context.Context, s *santa.Session) (string, error)
	// Withdraw retracts the announcement of s, identified by
	// s.CorrelationID, that lost a race with another exchange of its chat.
	Withdraw(ctx context.Context, s *santa.Session) error
}

// Limits are the tunables applied by the coordinator.
type Limits struct {
	MinParticipants      int
	MaxParticipants      int // 0 means unlimited
	Timeout              time.Duration
	ArchiveRetention     time.Duration
	UnreachableRetention time.Duration
	NameMaxLength        int
}

// LimitsFromConfig copies the exchange limits out of cfg.
func LimitsFromConfig(cfg config.SantaConfig) Limits {
	return Limits{
		MinParticipants:      cfg.MinParticipants,
		MaxParticipants:      cfg.MaxParticipants,
		Timeout:              cfg.Timeout,
		ArchiveRetention:     cfg.ArchiveRetention,
		UnreachableRetention: cfg.UnreachableRetention,
		NameMaxLength:        cfg.NameMaxLength,
	}
}

// Options configures a Coordinator.
type Options struct {
	Registry  registry.Registry
	Locker    *registry.Locker // defaults to a new Locker
	Matcher   *draft.Matcher   // defaults to a crypto-seeded Matcher
	Messenger Messenger
	Announcer Announcer
	Limits    Limits
	// IsAdmin reports whether userID may cancel any exchange in chatID.
	IsAdmin func(ctx context.Context, chatID, userID int64) bool
	// OnExpired is called, outside any lock, for each session the expiry
	// sweep removed.
	OnExpired func(ctx context.Context, s *santa.Session)
	Now       func() time.Time
	Logger    *slog.Logger
	// Parallelism bounds concurrent probes, deliveries and per-chat sweep
	// work. Defaults to 8.
	Parallelism int
}

// Coordinator runs exchange operations against a registry.
type Coordinator struct {
	reg       registry.Registry
	locks     *registry.Locker
	matcher   *draft.Matcher
	messenger Messenger
	announcer Announcer
	limits    Limits
	isAdmin   func(ctx context.Context, chatID, userID int64) bool
	onExpired func(ctx context.Context, s *santa.Session)
	now       func() time.Time
	log       *slog.Logger
	parallel  int
}

// New returns a Coordinator. Registry, Messenger and Announcer are required.
func New(opts Options) (*Coordinator, error) {
	if opts.Registry == nil {
		return nil, fmt.Errorf("exchange: registry is required")
	}
	if opts.Messenger == nil {
		return nil, fmt.Errorf("exchange: messenger is required")
	}
	if opts.Announcer == nil {
		return nil, fmt.Errorf("exchange: announcer is required")
	}
	c := &Coordinator{
		reg:       opts.Registry,
		locks:     opts.Locker,
		matcher:   opts.Matcher,
		messenger: opts.Messenger,
		announcer: opts.Announcer,
		limits:    opts.Limits,
		isAdmin:   opts.IsAdmin,
		onExpired: opts.OnExpired,
		now:       opts.Now,
		log:       opts.Logger,
		parallel:  opts.Parallelism,
	}
	if c.locks == nil {
		c.locks = registry.NewLocker()
	}
	if c.matcher == nil {
		m, err := draft.NewMatcher(draft.DefaultAttempts, draft.DefaultInvalidPicks)
		if err != nil {
			return nil, fmt.Errorf("exchange: %w", err)
		}
		c.matcher = m
	}
	if c.limits.MinParticipants < 2 {
		c.limits.MinParticipants = 2
	}
	if c.limits.NameMaxLength <= 0 {
		c.limits.NameMaxLength = santa.DefaultNameLimit
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.log == nil {
		c.log = slog.Default()
	}
	c.log = c.log.With("component", "exchange")
	if c.parallel <= 0 {
		c.parallel = 8
	}
	return c, nil
}

// Limits returns the limits in effect.
func (c *Coordinator) Limits() Limits { return c.limits }

// Get returns the active session of chatID, or ErrNoSession.
func (c *Coordinator) Get(ctx context.Context, chatID int64) (*santa.Session, error) {
	s, err := c.reg.GetActive(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, ErrNoSession
	}
	return s, nil
}

// Active lists every active session.
func (c *Coordinator) Active(ctx context.Context) ([]*santa.Session, error) {
	return c.reg.ListActive(ctx)
}

// History lists the archived sessions of chatID, oldest first.
func (c *Coordinator) History(ctx context.Context, chatID int64) ([]*santa.Session, error) {
	return c.reg.ListArchive(ctx, chatID)
}

// Stats summarises ongoing and archived exchanges.
type Stats struct {
	ActiveSessions   int `json:"active_sessions"`
	Participants     int `json:"participants"`
	ArchivedChats    int `json:"archived_chats"`
	ArchivedSessions int `json:"archived_sessions"`
}

// Stats counts active sessions, their participants and the archive.
func (c *Coordinator) Stats(ctx context.Context) (Stats, error) {
	active, err := c.reg.ListActive(ctx)
	if err != nil {
		return Stats{}, err
	}
	st := Stats{ActiveSessions: len(active)}
	for _, s := range active {
		st.Participants += s.Count()
	}
	archived, err := c.reg.ArchiveStats(ctx)
	if err != nil {
		return Stats{}, err
	}
	st.ArchivedChats = archived.Chats
	st.ArchivedSessions = archived.Sessions
	return st, nil
}
