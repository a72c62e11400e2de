package cacheutil

import (
	"sync"
	"time"
)

// CachedValue represents a cached value with its fetch timestamp.
type CachedValue[T any] struct {
	Value     T
	FetchedAt time.Time
}

// ReadThrough implements a thread-safe read-through cache with
// double-checked locking. checkCache runs under RLock; on a miss the
// write lock is taken, the cache is re-checked with a fresh timestamp
// (another goroutine may have populated it in the gap), and only then is
// fetchAndCache invoked.
func ReadThrough[T any](
	mu *sync.RWMutex,
	checkCache func(now time.Time) (T, bool),
	fetchAndCache func(now time.Time) (T, error),
) (T, error) {
	now := time.Now()
	mu.RLock()
	if value, ok := checkCache(now); ok {
		mu.RUnlock()
		return value, nil
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()

	now = time.Now()
	if value, ok := checkCache(now); ok {
		return value, nil
	}
	return fetchAndCache(now)
}

// WriteThrough executes a write operation and invalidates cache entries
// on success, keeping cached reads consistent with mutations.
func WriteThrough(invalidate func(), operation func() error) error {
	if err := operation(); err != nil {
		return err
	}
	invalidate()
	return nil
}
