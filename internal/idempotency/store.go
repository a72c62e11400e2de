package idempotency

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/telar-co/promo-server/internal/config"
)

// Response is a recorded HTTP response that can be replayed for a repeated
// Idempotency-Key.
type Response struct {
	StatusCode int
	Headers    map[string]string
	Body       []byte
	CachedAt   time.Time
}

// Store keeps recorded responses keyed by idempotency key.
type Store interface {
	Get(ctx context.Context, key string) (*Response, bool)
	Set(ctx context.Context, key string, response *Response, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// MemoryStore is an in-process Store with LRU eviction and TTL expiry.
// A background janitor sweeps expired entries so long-idle keys do not
// pin memory until the next Get.
type MemoryStore struct {
	mu         sync.Mutex
	entries    map[string]*entry
	lru        *list.List
	maxEntries int

	stopJanitor chan struct{}
	janitorDone chan struct{}
}

type entry struct {
	key       string
	response  *Response
	expiresAt time.Time
	element   *list.Element
}

const (
	defaultMaxEntries  = 10000
	janitorSweepPeriod = 5 * time.Minute
)

// NewMemoryStore creates a store capped at defaultMaxEntries.
func NewMemoryStore() *MemoryStore {
	return NewMemoryStoreWithSize(defaultMaxEntries)
}

// NewMemoryStoreWithSize creates a store with a custom entry cap.
func NewMemoryStoreWithSize(maxEntries int) *MemoryStore {
	if maxEntries <= 0 {
		maxEntries = defaultMaxEntries
	}
	s := &MemoryStore{
		entries:     make(map[string]*entry),
		lru:         list.New(),
		maxEntries:  maxEntries,
		stopJanitor: make(chan struct{}),
		janitorDone: make(chan struct{}),
	}
	go s.janitor()
	return s
}

// NewStoreFromConfig builds the store sized per config. Returns nil when the
// middleware is disabled so callers can skip wiring it entirely.
func NewStoreFromConfig(cfg config.IdempotencyConfig) *MemoryStore {
	if !cfg.Enabled {
		return nil
	}
	return NewMemoryStoreWithSize(cfg.MaxEntries)
}

// Get returns the recorded response for key, if present and not expired.
func (s *MemoryStore) Get(ctx context.Context, key string) (*Response, bool) {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return nil, false
	}
	if now.After(e.expiresAt) {
		s.removeLocked(e)
		return nil, false
	}

	s.lru.MoveToFront(e.element)
	return e.response, true
}

// Set records a response for key. Existing entries are overwritten and
// refreshed; when the cap is reached the least recently used entry is
// evicted first so the map never exceeds maxEntries.
func (s *MemoryStore) Set(ctx context.Context, key string, response *Response, ttl time.Duration) error {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.entries[key]; ok {
		e.response = response
		e.expiresAt = now.Add(ttl)
		s.lru.MoveToFront(e.element)
		return nil
	}

	if len(s.entries) >= s.maxEntries {
		s.evictOldestLocked()
	}

	e := &entry{
		key:       key,
		response:  response,
		expiresAt: now.Add(ttl),
	}
	e.element = s.lru.PushFront(e)
	s.entries[key] = e
	return nil
}

// Delete removes the recorded response for key.
func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.entries[key]; ok {
		s.removeLocked(e)
	}
	return nil
}

// Stop shuts down the janitor goroutine.
func (s *MemoryStore) Stop() {
	close(s.stopJanitor)
	<-s.janitorDone
}

func (s *MemoryStore) evictOldestLocked() {
	back := s.lru.Back()
	if back == nil {
		return
	}
	s.removeLocked(back.Value.(*entry))
}

func (s *MemoryStore) removeLocked(e *entry) {
	s.lru.Remove(e.element)
	delete(s.entries, e.key)
}

func (s *MemoryStore) janitor() {
	defer close(s.janitorDone)

	ticker := time.NewTicker(janitorSweepPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopJanitor:
			return
		case <-ticker.C:
			s.sweepExpired(time.Now())
		}
	}
}

func (s *MemoryStore) sweepExpired(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var expired []*entry
	for _, e := range s.entries {
		if now.After(e.expiresAt) {
			expired = append(expired, e)
		}
	}
	for _, e := range expired {
		s.removeLocked(e)
	}
}
