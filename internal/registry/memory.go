package registry

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/abdomilano6222222/tg-secret-santa-bot/internal/santa"
)

// Memory is an in-process Registry. Records are stored serialized, the same
// way the persistent backends store them, so callers never share state with
// the registry.
type Memory struct {
	mu          sync.RWMutex
	active      map[int64][]byte
	archive     map[int64]map[string]archiveEntry
	unreachable map[int64]time.Time
}

type archiveEntry struct {
	startedAt time.Time
	record    []byte
}

// NewMemory returns an empty in-memory registry.
func NewMemory() *Memory {
	return &Memory{
		active:      make(map[int64][]byte),
		archive:     make(map[int64]map[string]archiveEntry),
		unreachable: make(map[int64]time.Time),
	}
}

// GetActive implements Registry.
func (m *Memory) GetActive(ctx context.Context, chatID int64) (*santa.Session, error) {
	m.mu.RLock()
	data, ok := m.active[chatID]
	m.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	return santa.Unmarshal(data)
}

// PutActive implements Registry.
func (m *Memory) PutActive(ctx context.Context, s *santa.Session) error {
	if err := checkActive(s); err != nil {
		return err
	}
	data, err := s.Marshal()
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.active[s.ChatID] = data
	m.mu.Unlock()
	return nil
}

// RemoveActive implements Registry.
func (m *Memory) RemoveActive(ctx context.Context, chatID int64) error {
	m.mu.Lock()
	delete(m.active, chatID)
	m.mu.Unlock()
	return nil
}

// Migrate implements Registry.
func (m *Memory) Migrate(ctx context.Context, oldChatID int64, s *santa.Session) error {
	if err := checkActive(s); err != nil {
		return err
	}
	data, err := s.Marshal()
	if err != nil {
		return err
	}
	m.mu.Lock()
	delete(m.active, oldChatID)
	m.active[s.ChatID] = data
	m.mu.Unlock()
	return nil
}

// ListActive implements Registry.
func (m *Memory) ListActive(ctx context.Context) ([]*santa.Session, error) {
	m.mu.RLock()
	records := make([][]byte, 0, len(m.active))
	for _, data := range m.active {
		records = append(records, data)
	}
	m.mu.RUnlock()

	sessions := make([]*santa.Session, 0, len(records))
	for _, data := range records {
		s, err := santa.Unmarshal(data)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	sort.Slice(sessions, func(i, j int) bool { return sessions[i].ChatID < sessions[j].ChatID })
	return sessions, nil
}

// Archive implements Registry.
func (m *Memory) Archive(ctx context.Context, s *santa.Session) error {
	if err := checkArchivable(s); err != nil {
		return err
	}
	data, err := s.Marshal()
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	chat, ok := m.archive[s.ChatID]
	if !ok {
		chat = make(map[string]archiveEntry)
		m.archive[s.ChatID] = chat
	}
	chat[s.CorrelationID] = archiveEntry{startedAt: *s.StartedAt, record: data}
	return nil
}

// ListArchive implements Registry.
func (m *Memory) ListArchive(ctx context.Context, chatID int64) ([]*santa.Session, error) {
	m.mu.RLock()
	entries := make([]archiveEntry, 0, len(m.archive[chatID]))
	for _, e := range m.archive[chatID] {
		entries = append(entries, e)
	}
	m.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool { return entries[i].startedAt.Before(entries[j].startedAt) })
	sessions := make([]*santa.Session, 0, len(entries))
	for _, e := range entries {
		s, err := santa.Unmarshal(e.record)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, nil
}

// ArchiveStats implements Registry.
func (m *Memory) ArchiveStats(ctx context.Context) (ArchiveStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var st ArchiveStats
	for _, chat := range m.archive {
		st.Chats++
		st.Sessions += len(chat)
	}
	return st, nil
}

// PurgeArchive implements Registry.
func (m *Memory) PurgeArchive(ctx context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	purged := 0
	for chatID, chat := range m.archive {
		for corr, e := range chat {
			if e.startedAt.Before(cutoff) {
				delete(chat, corr)
				purged++
			}
		}
		if len(chat) == 0 {
			delete(m.archive, chatID)
		}
	}
	return purged, nil
}

// MarkUnreachable implements Registry.
func (m *Memory) MarkUnreachable(ctx context.Context, chatID int64, at time.Time) error {
	m.mu.Lock()
	m.unreachable[chatID] = at
	m.mu.Unlock()
	return nil
}

// ClearUnreachable implements Registry.
func (m *Memory) ClearUnreachable(ctx context.Context, chatID int64) error {
	m.mu.Lock()
	delete(m.unreachable, chatID)
	m.mu.Unlock()
	return nil
}

// IsRecentlyUnreachable implements Registry.
func (m *Memory) IsRecentlyUnreachable(ctx context.Context, chatID int64) (bool, error) {
	m.mu.RLock()
	_, ok := m.unreachable[chatID]
	m.mu.RUnlock()
	return ok, nil
}

// PurgeUnreachable implements Registry.
func (m *Memory) PurgeUnreachable(ctx context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	purged := 0
	for chatID, at := range m.unreachable {
		if at.Before(cutoff) {
			delete(m.unreachable, chatID)
			purged++
		}
	}
	return purged, nil
}

// Close implements Registry.
func (m *Memory) Close() error { return nil }
