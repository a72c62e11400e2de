package callbacks

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// NoopDLQStore discards all failed callbacks.
type NoopDLQStore struct{}

func (NoopDLQStore) SaveFailedCallback(context.Context, FailedCallback) error { return nil }
func (NoopDLQStore) ListFailedCallbacks(context.Context, int) ([]FailedCallback, error) {
	return []FailedCallback{}, nil
}
func (NoopDLQStore) DeleteFailedCallback(context.Context, string) error { return nil }

// MemoryDLQStore stores failed callbacks in memory (for testing/development).
type MemoryDLQStore struct {
	mu        sync.RWMutex
	callbacks map[string]FailedCallback
}

// NewMemoryDLQStore creates an in-memory DLQ store.
func NewMemoryDLQStore() *MemoryDLQStore {
	return &MemoryDLQStore{
		callbacks: make(map[string]FailedCallback),
	}
}

func (m *MemoryDLQStore) SaveFailedCallback(ctx context.Context, cb FailedCallback) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks[cb.ID] = cb
	return nil
}

func (m *MemoryDLQStore) ListFailedCallbacks(ctx context.Context, limit int) ([]FailedCallback, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]FailedCallback, 0, len(m.callbacks))
	for _, cb := range m.callbacks {
		result = append(result, cb)
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}

func (m *MemoryDLQStore) DeleteFailedCallback(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.callbacks, id)
	return nil
}

// FileDLQStore stores failed callbacks in a JSON file.
type FileDLQStore struct {
	mu        sync.RWMutex
	filePath  string
	callbacks map[string]FailedCallback
}

// NewFileDLQStore creates a file-based DLQ store, loading any existing data.
func NewFileDLQStore(filePath string) (*FileDLQStore, error) {
	if dir := filepath.Dir(filePath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create DLQ directory: %w", err)
		}
	}

	store := &FileDLQStore{
		filePath:  filePath,
		callbacks: make(map[string]FailedCallback),
	}

	if err := store.load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("load DLQ file: %w", err)
	}

	return store, nil
}

func (f *FileDLQStore) SaveFailedCallback(ctx context.Context, cb FailedCallback) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.callbacks[cb.ID] = cb
	return f.persist()
}

func (f *FileDLQStore) ListFailedCallbacks(ctx context.Context, limit int) ([]FailedCallback, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	result := make([]FailedCallback, 0, len(f.callbacks))
	for _, cb := range f.callbacks {
		result = append(result, cb)
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}

func (f *FileDLQStore) DeleteFailedCallback(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	delete(f.callbacks, id)
	return f.persist()
}

func (f *FileDLQStore) load() error {
	data, err := os.ReadFile(f.filePath)
	if err != nil {
		return err
	}

	var callbacks map[string]FailedCallback
	if err := json.Unmarshal(data, &callbacks); err != nil {
		return fmt.Errorf("unmarshal DLQ data: %w", err)
	}

	f.callbacks = callbacks
	return nil
}

func (f *FileDLQStore) persist() error {
	data, err := json.MarshalIndent(f.callbacks, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal DLQ data: %w", err)
	}

	// Write to temp file first, then rename (atomic operation)
	tmpPath := f.filePath + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("write DLQ file: %w", err)
	}

	if err := os.Rename(tmpPath, f.filePath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename DLQ file: %w", err)
	}

	return nil
}

// Close ensures all data is persisted (no-op for file store).
func (f *FileDLQStore) Close() error {
	return nil
}
