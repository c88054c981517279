package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/abdomilano6222222/tg-secret-santa-bot/internal/santa"
	"github.com/redis/go-redis/v9"
)

const (
	activeKeyPrefix  = "santa:active:"
	activeSetKey     = "santa:active"
	archiveKeyPrefix = "santa:archive:"
	archiveIndexKey  = "santa:archive:index"
	unreachableKey   = "santa:unreachable"
)

// Redis is a Registry backed by a Redis server.
//
// Active records live under santa:active:<chat> with their chat ids in the
// santa:active set. Archived records are hash fields of santa:archive:<chat>
// keyed by correlation id, indexed by start time in the santa:archive:index
// sorted set. Unreachable markers are members of the santa:unreachable sorted
// set scored by the time they were recorded.
type Redis struct {
	client *redis.Client
}

// NewRedis returns a registry using client.
func NewRedis(client *redis.Client) (*Redis, error) {
	if client == nil {
		return nil, fmt.Errorf("registry: redis client is required")
	}
	return &Redis{client: client}, nil
}

func activeKey(chatID int64) string {
	return activeKeyPrefix + strconv.FormatInt(chatID, 10)
}

func archiveKey(chatID int64) string {
	return archiveKeyPrefix + strconv.FormatInt(chatID, 10)
}

func archiveMember(chatID int64, correlationID string) string {
	return strconv.FormatInt(chatID, 10) + "|" + correlationID
}

func parseArchiveMember(member string) (int64, string, error) {
	chat, corr, ok := strings.Cut(member, "|")
	if !ok {
		return 0, "", fmt.Errorf("registry: malformed archive member %q", member)
	}
	chatID, err := strconv.ParseInt(chat, 10, 64)
	if err != nil {
		return 0, "", fmt.Errorf("registry: malformed archive member %q: %w", member, err)
	}
	return chatID, corr, nil
}

func score(t time.Time) float64 {
	return float64(t.UnixMilli())
}

// GetActive implements Registry.
func (r *Redis) GetActive(ctx context.Context, chatID int64) (*santa.Session, error) {
	val, err := r.client.Get(ctx, activeKey(chatID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("registry: get active %d: %w", chatID, err)
	}
	return santa.Unmarshal(val)
}

// PutActive implements Registry.
func (r *Redis) PutActive(ctx context.Context, s *santa.Session) error {
	if err := checkActive(s); err != nil {
		return err
	}
	data, err := s.Marshal()
	if err != nil {
		return err
	}
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, activeKey(s.ChatID), data, 0)
		pipe.SAdd(ctx, activeSetKey, s.ChatID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("registry: put active %d: %w", s.ChatID, err)
	}
	return nil
}

// RemoveActive implements Registry.
func (r *Redis) RemoveActive(ctx context.Context, chatID int64) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, activeKey(chatID))
		pipe.SRem(ctx, activeSetKey, chatID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("registry: remove active %d: %w", chatID, err)
	}
	return nil
}

// Migrate implements Registry with a single MULTI/EXEC block.
func (r *Redis) Migrate(ctx context.Context, oldChatID int64, s *santa.Session) error {
	if err := checkActive(s); err != nil {
		return err
	}
	data, err := s.Marshal()
	if err != nil {
		return err
	}
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, activeKey(oldChatID))
		pipe.SRem(ctx, activeSetKey, oldChatID)
		pipe.Set(ctx, activeKey(s.ChatID), data, 0)
		pipe.SAdd(ctx, activeSetKey, s.ChatID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("registry: migrate %d -> %d: %w", oldChatID, s.ChatID, err)
	}
	return nil
}

// ListActive implements Registry.
func (r *Redis) ListActive(ctx context.Context) ([]*santa.Session, error) {
	members, err := r.client.SMembers(ctx, activeSetKey).Result()
	if err != nil {
		return nil, fmt.Errorf("registry: list active: %w", err)
	}
	if len(members) == 0 {
		return []*santa.Session{}, nil
	}
	keys := make([]string, len(members))
	for i, m := range members {
		keys[i] = activeKeyPrefix + m
	}
	vals, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("registry: list active: %w", err)
	}
	sessions := make([]*santa.Session, 0, len(vals))
	for _, v := range vals {
		str, ok := v.(string)
		if !ok {
			// Removed between SMEMBERS and MGET.
			continue
		}
		s, err := santa.Unmarshal([]byte(str))
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	sort.Slice(sessions, func(i, j int) bool { return sessions[i].ChatID < sessions[j].ChatID })
	return sessions, nil
}

// Archive implements Registry.
func (r *Redis) Archive(ctx context.Context, s *santa.Session) error {
	if err := checkArchivable(s); err != nil {
		return err
	}
	data, err := s.Marshal()
	if err != nil {
		return err
	}
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, archiveKey(s.ChatID), s.CorrelationID, data)
		pipe.ZAdd(ctx, archiveIndexKey, redis.Z{
			Score:  score(*s.StartedAt),
			Member: archiveMember(s.ChatID, s.CorrelationID),
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("registry: archive %d: %w", s.ChatID, err)
	}
	return nil
}

// ListArchive implements Registry.
func (r *Redis) ListArchive(ctx context.Context, chatID int64) ([]*santa.Session, error) {
	vals, err := r.client.HVals(ctx, archiveKey(chatID)).Result()
	if err != nil {
		return nil, fmt.Errorf("registry: list archive %d: %w", chatID, err)
	}
	sessions := make([]*santa.Session, 0, len(vals))
	for _, v := range vals {
		s, err := santa.Unmarshal([]byte(v))
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	sort.Slice(sessions, func(i, j int) bool { return sessions[i].StartedAt.Before(*sessions[j].StartedAt) })
	return sessions, nil
}

// ArchiveStats implements Registry.
func (r *Redis) ArchiveStats(ctx context.Context) (ArchiveStats, error) {
	members, err := r.client.ZRange(ctx, archiveIndexKey, 0, -1).Result()
	if err != nil {
		return ArchiveStats{}, fmt.Errorf("registry: archive stats: %w", err)
	}
	chats := make(map[int64]struct{})
	for _, m := range members {
		chatID, _, err := parseArchiveMember(m)
		if err != nil {
			return ArchiveStats{}, err
		}
		chats[chatID] = struct{}{}
	}
	return ArchiveStats{Chats: len(chats), Sessions: len(members)}, nil
}

// PurgeArchive implements Registry.
func (r *Redis) PurgeArchive(ctx context.Context, cutoff time.Time) (int, error) {
	members, err := r.client.ZRangeByScore(ctx, archiveIndexKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatFloat(score(cutoff), 'f', -1, 64),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("registry: purge archive: %w", err)
	}
	if len(members) == 0 {
		return 0, nil
	}
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, m := range members {
			chatID, corr, err := parseArchiveMember(m)
			if err != nil {
				return err
			}
			pipe.HDel(ctx, archiveKey(chatID), corr)
			pipe.ZRem(ctx, archiveIndexKey, m)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("registry: purge archive: %w", err)
	}
	return len(members), nil
}

// MarkUnreachable implements Registry.
func (r *Redis) MarkUnreachable(ctx context.Context, chatID int64, at time.Time) error {
	err := r.client.ZAdd(ctx, unreachableKey, redis.Z{Score: score(at), Member: chatID}).Err()
	if err != nil {
		return fmt.Errorf("registry: mark unreachable %d: %w", chatID, err)
	}
	return nil
}

// ClearUnreachable implements Registry.
func (r *Redis) ClearUnreachable(ctx context.Context, chatID int64) error {
	if err := r.client.ZRem(ctx, unreachableKey, chatID).Err(); err != nil {
		return fmt.Errorf("registry: clear unreachable %d: %w", chatID, err)
	}
	return nil
}

// IsRecentlyUnreachable implements Registry.
func (r *Redis) IsRecentlyUnreachable(ctx context.Context, chatID int64) (bool, error) {
	err := r.client.ZScore(ctx, unreachableKey, strconv.FormatInt(chatID, 10)).Err()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("registry: check unreachable %d: %w", chatID, err)
	}
	return true, nil
}

// PurgeUnreachable implements Registry.
func (r *Redis) PurgeUnreachable(ctx context.Context, cutoff time.Time) (int, error) {
	n, err := r.client.ZRemRangeByScore(ctx, unreachableKey,
		"-inf", "("+strconv.FormatFloat(score(cutoff), 'f', -1, 64)).Result()
	if err != nil {
		return 0, fmt.Errorf("registry: purge unreachable: %w", err)
	}
	return int(n), nil
}

// Close closes the client.
func (r *Redis) Close() error {
	return r.client.Close()
}
