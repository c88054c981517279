package exchange

import (
	"context"
	"sync/atomic"

	"github.com/abdomilano6222222/tg-secret-santa-bot/internal/santa"
	"golang.org/x/sync/errgroup"
)

// ExpireSweep expires every open exchange older than the configured timeout
// and removes it from the active set. Chats are processed in parallel, each
// under its own lock, and a session that changed since it was listed is left
// alone. It returns the number of sessions expired.
func (c *Coordinator) ExpireSweep(ctx context.Context) (int, error) {
	if c.limits.Timeout <= 0 {
		return 0, nil
	}
	active, err := c.reg.ListActive(ctx)
	if err != nil {
		return 0, err
	}
	now := c.now()

	var expired atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.parallel)
	for _, listed := range active {
		if !listed.Open() || listed.Age(now) <= c.limits.Timeout {
			continue
		}
		g.Go(func() error {
			s, err := c.expireOne(gctx, listed)
			if err != nil || s == nil {
				return err
			}
			expired.Add(1)
			if c.onExpired != nil {
				c.onExpired(gctx, s)
			}
			return nil
		})
	}
	err = g.Wait()
	n := int(expired.Load())
	if n > 0 {
		c.log.Info("expired stale exchanges", "count", n)
	}
	return n, err
}

func (c *Coordinator) expireOne(ctx context.Context, listed *santa.Session) (*santa.Session, error) {
	unlock := c.locks.Lock(listed.ChatID)
	defer unlock()

	s, err := c.reg.GetActive(ctx, listed.ChatID)
	if err != nil || s == nil {
		return nil, err
	}
	if s.CorrelationID != listed.CorrelationID || !s.Open() || s.Age(c.now()) <= c.limits.Timeout {
		return nil, nil
	}
	if err := s.Expire(); err != nil {
		return nil, err
	}
	if err := c.reg.RemoveActive(ctx, s.ChatID); err != nil {
		return nil, err
	}
	c.log.Debug("exchange expired", "chat_id", s.ChatID, "participants", s.Count())
	return s, nil
}

// PurgeResult counts the records removed by PurgeSweep.
type PurgeResult struct {
	Archived    int `json:"archived"`
	Unreachable int `json:"unreachable"`
}

// PurgeSweep deletes archived exchanges started before the archive retention
// window and unreachable-chat markers older than their retention window.
func (c *Coordinator) PurgeSweep(ctx context.Context) (PurgeResult, error) {
	now := c.now()
	var res PurgeResult
	if c.limits.ArchiveRetention > 0 {
		n, err := c.reg.PurgeArchive(ctx, now.Add(-c.limits.ArchiveRetention))
		if err != nil {
			return res, err
		}
		res.Archived = n
	}
	if c.limits.UnreachableRetention > 0 {
		n, err := c.reg.PurgeUnreachable(ctx, now.Add(-c.limits.UnreachableRetention))
		if err != nil {
			return res, err
		}
		res.Unreachable = n
	}
	c.log.Info("purged auxiliary records", "archived", res.Archived, "unreachable", res.Unreachable)
	return res, nil
}
