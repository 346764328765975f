package lock

import (
	"context"
	"sync"
	"time"
)

// LocalLocker only guards against overlapping holders within the process,
// it is used when no redis is configured for a single replica setup
type LocalLocker struct {
	mu      sync.Mutex
	expires map[string]time.Time
	now     func() time.Time
}

func (l *LocalLocker) TryLock(_ context.Context, name string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if expiry, ok := l.expires[name]; ok && now.Before(expiry) {
		return false, nil
	}
	l.expires[name] = now.Add(ttl)
	return true, nil
}

func (l *LocalLocker) Unlock(_ context.Context, name string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.expires, name)
	return nil
}

func NewLocalLocker(currentTime func() time.Time) *LocalLocker {
	return &LocalLocker{
		expires: map[string]time.Time{},
		now:     currentTime,
	}
}
