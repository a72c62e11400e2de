package idempotency

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/telar-co/promo-server/internal/config"
)

func testResponse(body string) *Response {
	return &Response{
		StatusCode: 200,
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       []byte(body),
		CachedAt:   time.Now(),
	}
}

func TestMemoryStore_SetGetDelete(t *testing.T) {
	store := NewMemoryStoreWithSize(10)
	defer store.Stop()

	ctx := context.Background()

	if _, found := store.Get(ctx, "missing"); found {
		t.Fatal("expected miss for unknown key")
	}

	if err := store.Set(ctx, "k1", testResponse(`{"valid":true}`), 5*time.Minute); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	got, found := store.Get(ctx, "k1")
	if !found {
		t.Fatal("expected to find k1")
	}
	if got.StatusCode != 200 {
		t.Errorf("StatusCode = %d, want 200", got.StatusCode)
	}
	if string(got.Body) != `{"valid":true}` {
		t.Errorf("Body = %s", got.Body)
	}

	if err := store.Delete(ctx, "k1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, found := store.Get(ctx, "k1"); found {
		t.Error("expected k1 gone after delete")
	}
}

func TestMemoryStore_Expiration(t *testing.T) {
	store := NewMemoryStoreWithSize(10)
	defer store.Stop()

	ctx := context.Background()
	if err := store.Set(ctx, "short", testResponse("{}"), 10*time.Millisecond); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	if _, found := store.Get(ctx, "short"); !found {
		t.Fatal("expected hit before expiry")
	}

	time.Sleep(50 * time.Millisecond)

	if _, found := store.Get(ctx, "short"); found {
		t.Fatal("expected miss after expiry")
	}
}

func TestMemoryStore_ExpiredEntryRemovedOnGet(t *testing.T) {
	store := NewMemoryStoreWithSize(10)
	defer store.Stop()

	ctx := context.Background()
	_ = store.Set(ctx, "stale", testResponse("{}"), 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	_, _ = store.Get(ctx, "stale")

	store.mu.Lock()
	_, stillThere := store.entries["stale"]
	lruLen := store.lru.Len()
	store.mu.Unlock()

	if stillThere {
		t.Error("expected expired entry dropped from map on read")
	}
	if lruLen != 0 {
		t.Errorf("lru length = %d, want 0", lruLen)
	}
}

func TestMemoryStore_EvictsOldestAtCap(t *testing.T) {
	store := NewMemoryStoreWithSize(3)
	defer store.Stop()

	ctx := context.Background()
	for i := 1; i <= 3; i++ {
		_ = store.Set(ctx, fmt.Sprintf("k%d", i), testResponse("{}"), 5*time.Minute)
	}

	// Touch k1 so k2 becomes the oldest.
	_, _ = store.Get(ctx, "k1")

	_ = store.Set(ctx, "k4", testResponse("{}"), 5*time.Minute)

	if _, found := store.Get(ctx, "k2"); found {
		t.Error("expected k2 evicted as least recently used")
	}
	for _, key := range []string{"k1", "k3", "k4"} {
		if _, found := store.Get(ctx, key); !found {
			t.Errorf("expected %s to survive eviction", key)
		}
	}
}

func TestMemoryStore_UpdateRefreshesEntry(t *testing.T) {
	store := NewMemoryStoreWithSize(10)
	defer store.Stop()

	ctx := context.Background()
	_ = store.Set(ctx, "k", testResponse(`{"version":1}`), 5*time.Minute)

	updated := testResponse(`{"version":2}`)
	updated.StatusCode = 201
	_ = store.Set(ctx, "k", updated, 5*time.Minute)

	got, found := store.Get(ctx, "k")
	if !found {
		t.Fatal("expected updated entry")
	}
	if got.StatusCode != 201 || string(got.Body) != `{"version":2}` {
		t.Errorf("got status %d body %s", got.StatusCode, got.Body)
	}

	store.mu.Lock()
	size := len(store.entries)
	store.mu.Unlock()
	if size != 1 {
		t.Errorf("entries = %d, want 1 after in-place update", size)
	}
}

func TestMemoryStore_ConcurrentSetNeverExceedsCap(t *testing.T) {
	const maxEntries = 100
	const workers = 20
	const opsPerWorker = 50

	store := NewMemoryStoreWithSize(maxEntries)
	defer store.Stop()

	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for j := 0; j < opsPerWorker; j++ {
				key := fmt.Sprintf("w%d-k%d", worker, j)
				_ = store.Set(ctx, key, testResponse("{}"), time.Minute)
				_, _ = store.Get(ctx, key)
			}
		}(i)
	}
	wg.Wait()

	store.mu.Lock()
	size := len(store.entries)
	lruLen := store.lru.Len()
	store.mu.Unlock()

	if size > maxEntries {
		t.Errorf("entries = %d, exceeds cap %d", size, maxEntries)
	}
	if size != lruLen {
		t.Errorf("entries = %d but lru = %d", size, lruLen)
	}
}

func TestMemoryStore_SweepExpired(t *testing.T) {
	store := NewMemoryStoreWithSize(10)
	defer store.Stop()

	ctx := context.Background()
	_ = store.Set(ctx, "stale", testResponse("{}"), 10*time.Millisecond)
	_ = store.Set(ctx, "fresh", testResponse("{}"), time.Hour)

	store.sweepExpired(time.Now().Add(time.Second))

	store.mu.Lock()
	_, staleThere := store.entries["stale"]
	_, freshThere := store.entries["fresh"]
	store.mu.Unlock()

	if staleThere {
		t.Error("expected stale entry swept")
	}
	if !freshThere {
		t.Error("expected fresh entry kept")
	}
}

func TestNewStoreFromConfig(t *testing.T) {
	if s := NewStoreFromConfig(config.IdempotencyConfig{Enabled: false}); s != nil {
		t.Error("expected nil store when disabled")
	}

	s := NewStoreFromConfig(config.IdempotencyConfig{Enabled: true, MaxEntries: 5})
	if s == nil {
		t.Fatal("expected store when enabled")
	}
	defer s.Stop()
	if s.maxEntries != 5 {
		t.Errorf("maxEntries = %d, want 5", s.maxEntries)
	}

	// Zero max falls back to the default cap.
	d := NewStoreFromConfig(config.IdempotencyConfig{Enabled: true})
	defer d.Stop()
	if d.maxEntries != defaultMaxEntries {
		t.Errorf("maxEntries = %d, want %d", d.maxEntries, defaultMaxEntries)
	}
}
