package exchange

import (
	"context"
	"errors"
	"fmt"

	"github.com/abdomilano6222222/tg-secret-santa-bot/internal/draft"
	"github.com/abdomilano6222222/tg-secret-santa-bot/internal/santa"
	"golang.org/x/sync/errgroup"
)

// MatchResult describes the outcome of StartMatching.
type MatchResult struct {
	Session *santa.Session
	// Unreachable lists, in roster order, the participants the bot cannot
	// message privately. When non-empty, nothing was matched.
	Unreachable []int64
	// Undelivered lists, in roster order, the givers whose assignment could
	// not be sent after a successful match.
	Undelivered []int64
	// FailedAttempts and Failures count transient draw failures.
	FailedAttempts int
	Failures       map[draft.Outcome]int
}

// Matched reports whether the exchange was started.
func (r MatchResult) Matched() bool {
	return r.Session != nil && r.Session.Started()
}

// StartMatching draws the pairs of chatID's exchange on behalf of userID,
// who must be its creator.
//
// Participants are probed before the chat lock is taken. If any of them is
// unreachable the result lists them and the session is left as it was. After
// a successful draw the session is archived, removed from the active set and
// every giver is sent their assignment.
func (c *Coordinator) StartMatching(ctx context.Context, chatID, userID int64) (MatchResult, error) {
	snapshot, err := c.checkStartable(ctx, chatID, userID)
	if err != nil {
		return MatchResult{Session: snapshot}, err
	}

	unreachable, err := c.probe(ctx, snapshot.IDs())
	if err != nil {
		return MatchResult{}, err
	}
	if len(unreachable) > 0 {
		c.log.Info("matching blocked by unreachable participants", "chat_id", chatID, "unreachable", len(unreachable))
		return MatchResult{Session: snapshot, Unreachable: unreachable}, nil
	}

	s, res, err := c.matchLocked(ctx, chatID, userID, snapshot)
	if err != nil {
		return MatchResult{Session: s}, err
	}

	result := MatchResult{
		Session:        s,
		FailedAttempts: res.FailedAttempts,
		Failures:       res.Failures,
	}
	result.Undelivered = c.deliver(ctx, s)
	if err := c.reg.Archive(ctx, s); err != nil {
		c.log.Error("archive match correlation ids", "chat_id", chatID, "error", err)
	}
	return result, nil
}

func (c *Coordinator) checkStartable(ctx context.Context, chatID, userID int64) (*santa.Session, error) {
	unlock := c.locks.Lock(chatID)
	defer unlock()

	s, err := c.reg.GetActive(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, ErrNoSession
	}
	if err := c.validateStart(s, userID); err != nil {
		return s, err
	}
	return s, nil
}

func (c *Coordinator) validateStart(s *santa.Session, userID int64) error {
	if s.CreatorID != userID {
		return ErrForbidden
	}
	if !s.Open() {
		return ErrSessionClosed
	}
	if s.Count() < c.limits.MinParticipants {
		return fmt.Errorf("%w: %d more needed", ErrInsufficientParticipants, s.MissingCount(c.limits.MinParticipants))
	}
	return nil
}

// probe asks the messenger about every id concurrently and returns the
// unreachable ones in input order. Probe errors count as unreachable.
func (c *Coordinator) probe(ctx context.Context, ids []int64) ([]int64, error) {
	reachable := make([]bool, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.parallel)
	for i, id := range ids {
		g.Go(func() error {
			ok, err := c.messenger.Probe(gctx, id)
			if err != nil {
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}
				c.log.Warn("probe participant", "user_id", id, "error", err)
				return nil
			}
			reachable[i] = ok
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("exchange: probe participants: %w", err)
	}
	var unreachable []int64
	for i, ok := range reachable {
		if !ok {
			unreachable = append(unreachable, ids[i])
		}
	}
	return unreachable, nil
}

// matchLocked re-validates the session under the chat lock, draws the pairs
// and moves the started session from the active set to the archive.
func (c *Coordinator) matchLocked(ctx context.Context, chatID, userID int64, probed *santa.Session) (*santa.Session, *draft.Result, error) {
	unlock := c.locks.Lock(chatID)
	defer unlock()

	s, err := c.reg.GetActive(ctx, chatID)
	if err != nil {
		return nil, nil, err
	}
	if s == nil || s.CorrelationID != probed.CorrelationID {
		return nil, nil, ErrNoSession
	}
	if err := c.validateStart(s, userID); err != nil {
		return s, nil, err
	}
	for _, id := range s.IDs() {
		if !probed.Has(id) {
			return s, nil, ErrRosterChanged
		}
	}

	res, err := c.matcher.Match(s.IDs())
	if err != nil {
		if errors.Is(err, draft.ErrMatchingFailed) {
			c.log.Error("matching failed", "chat_id", chatID, "participants", s.Count(), "error", err)
		}
		return s, nil, err
	}
	if res.FailedAttempts > 0 {
		c.log.Warn("matching needed retries", "chat_id", chatID, "failed_attempts", res.FailedAttempts)
	}

	if err := s.Start(res.Pairs, c.now()); err != nil {
		return s, res, err
	}
	// Archive before removing: a crash in between leaves a duplicate
	// archive entry rather than a lost exchange.
	if err := c.reg.Archive(ctx, s); err != nil {
		return nil, res, err
	}
	if err := c.reg.RemoveActive(ctx, chatID); err != nil {
		return nil, res, err
	}
	c.log.Info("exchange started", "chat_id", chatID, "participants", s.Count())
	return s, res, nil
}

// deliver sends every assignment of s, in roster order, and records the
// correlation ids on s. It returns the givers whose delivery failed.
func (c *Coordinator) deliver(ctx context.Context, s *santa.Session) []int64 {
	givers := s.IDs()
	corrs := make([]string, len(givers))
	var g errgroup.Group
	g.SetLimit(c.parallel)
	for i, giver := range givers {
		receiver, ok := s.ReceiverOf(giver)
		if !ok {
			c.log.Error("giver has no assignment", "chat_id", s.ChatID, "user_id", giver)
			continue
		}
		a := Assignment{
			ChatID:       s.ChatID,
			ChatTitle:    s.ChatTitle,
			GiverID:      giver,
			GiverName:    s.Name(giver),
			ReceiverID:   receiver,
			ReceiverName: s.Name(receiver),
		}
		g.Go(func() error {
			corr, err := c.messenger.DeliverPrivate(ctx, giver, a)
			if err != nil {
				c.log.Warn("deliver assignment", "chat_id", s.ChatID, "user_id", giver, "error", err)
				return nil
			}
			corrs[i] = corr
			return nil
		})
	}
	g.Wait()

	var undelivered []int64
	for i, giver := range givers {
		if corrs[i] == "" {
			undelivered = append(undelivered, giver)
			continue
		}
		s.SetMatchCorrelation(giver, corrs[i])
	}
	return undelivered
}
