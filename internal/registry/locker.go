package registry

import "sync"

// Locker serializes read-modify-write sequences per chat id. Entries are
// reference counted so the map only holds chats with a pending holder.
type Locker struct {
	mu    sync.Mutex
	locks map[int64]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

// NewLocker returns an empty Locker.
func NewLocker() *Locker {
	return &Locker{locks: make(map[int64]*keyLock)}
}

// Lock blocks until chatID is held and returns the matching unlock function.
func (l *Locker) Lock(chatID int64) (unlock func()) {
	l.mu.Lock()
	kl, ok := l.locks[chatID]
	if !ok {
		kl = &keyLock{}
		l.locks[chatID] = kl
	}
	kl.refs++
	l.mu.Unlock()

	kl.mu.Lock()
	return func() {
		kl.mu.Unlock()
		l.mu.Lock()
		kl.refs--
		if kl.refs == 0 {
			delete(l.locks, chatID)
		}
		l.mu.Unlock()
	}
}

// LockPair holds two chat ids at once, always acquiring the smaller id first
// so concurrent migrations cannot deadlock.
func (l *Locker) LockPair(a, b int64) (unlock func()) {
	if a == b {
		return l.Lock(a)
	}
	if b < a {
		a, b = b, a
	}
	first := l.Lock(a)
	second := l.Lock(b)
	return func() {
		second()
		first()
	}
}

// held returns how many chat ids currently have a holder or waiter.
func (l *Locker) held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
