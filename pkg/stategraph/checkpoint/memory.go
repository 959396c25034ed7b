package checkpoint

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory checkpoint store for testing and
// single-process use. Data is lost when the process exits.
type MemoryStore struct {
	mu      sync.RWMutex
	threads map[string][]memEntry // append order is chronological per thread
	closed  bool
}

type memEntry struct {
	info Info
	data []byte
}

// NewMemoryStore creates a new in-memory checkpoint store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		threads: make(map[string][]memEntry),
	}
}

// Put implements Store.
func (m *MemoryStore) Put(ctx context.Context, info Info, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}

	// Copy data to avoid retaining the caller's slice.
	stored := make([]byte, len(data))
	copy(stored, data)

	info.Size = int64(len(data))
	m.threads[info.ThreadID] = append(m.threads[info.ThreadID], memEntry{
		info: info,
		data: stored,
	})
	return nil
}

// Get implements Store.
func (m *MemoryStore) Get(ctx context.Context, threadID, id string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStoreClosed
	}

	for _, e := range m.threads[threadID] {
		if e.info.ID == id {
			result := make([]byte, len(e.data))
			copy(result, e.data)
			return result, nil
		}
	}
	return nil, ErrNotFound
}

// Latest implements Store.
func (m *MemoryStore) Latest(ctx context.Context, threadID string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStoreClosed
	}

	entries := m.threads[threadID]
	if len(entries) == 0 {
		return nil, ErrNotFound
	}

	last := entries[len(entries)-1]
	result := make([]byte, len(last.data))
	copy(result, last.data)
	return result, nil
}

// List implements Store.
func (m *MemoryStore) List(ctx context.Context, threadID string) ([]Info, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStoreClosed
	}

	entries := m.threads[threadID]
	infos := make([]Info, 0, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		infos = append(infos, entries[i].info)
	}
	return infos, nil
}

// Delete implements Store.
func (m *MemoryStore) Delete(ctx context.Context, threadID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}

	entries := m.threads[threadID]
	for i, e := range entries {
		if e.info.ID == id {
			m.threads[threadID] = append(entries[:i:i], entries[i+1:]...)
			return nil
		}
	}
	return nil
}

// DeleteThread implements Store.
func (m *MemoryStore) DeleteThread(ctx context.Context, threadID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}

	delete(m.threads, threadID)
	return nil
}

// Close implements Store.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	m.threads = nil
	return nil
}

// Len returns the total number of checkpoints across all threads.
// Useful for testing.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, entries := range m.threads {
		count += len(entries)
	}
	return count
}
