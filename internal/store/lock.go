package store

import (
	"context"
	"sync"
	"time"
)

// Locker serializes leaderboard rebuilds. Acquire reports false when another
// holder already owns the key; expired holds are reclaimed.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

// LocalLocker is an in-process Locker for single-instance deployments.
type LocalLocker struct {
	mu    sync.Mutex
	holds map[string]time.Time
	now   func() time.Time
}

// NewLocalLocker creates an empty in-process locker.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{
		holds: make(map[string]time.Time),
		now:   time.Now,
	}
}

// Acquire takes the key unless an unexpired hold exists. A ttl of zero or
// less always acquires without recording a hold.
func (l *LocalLocker) Acquire(_ context.Context, key string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		return true, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if expiresAt, held := l.holds[key]; held && now.Before(expiresAt) {
		return false, nil
	}
	l.holds[key] = now.Add(ttl)
	return true, nil
}

// Release drops the hold on key, if any.
func (l *LocalLocker) Release(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.holds, key)
	return nil
}
