package cache

import (
	"container/list"
	"context"
	"sync"
)

// DefaultMemoryEntries bounds a MemoryProvider built with a non-positive cap.
const DefaultMemoryEntries = 256

type memoryEntry struct {
	key   string
	value []byte
}

// MemoryProvider keeps up to maxEntries entries in process memory and evicts
// the least recently used one when full. It is the fast tier in front of
// DiskProvider and the default store in tests.
type MemoryProvider struct {
	mu         sync.Mutex
	maxEntries int
	order      *list.List
	items      map[string]*list.Element
}

// NewMemoryProvider returns an empty in-memory store holding at most
// maxEntries values.
func NewMemoryProvider(maxEntries int) *MemoryProvider {
	if maxEntries <= 0 {
		maxEntries = DefaultMemoryEntries
	}
	return &MemoryProvider{
		maxEntries: maxEntries,
		order:      list.New(),
		items:      make(map[string]*list.Element),
	}
}

// Get returns a copy of the stored bytes and marks the entry as recently used.
func (m *MemoryProvider) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	el, ok := m.items[key]
	if !ok {
		return nil, ErrCacheMiss
	}
	m.order.MoveToFront(el)
	return append([]byte(nil), el.Value.(*memoryEntry).value...), nil
}

// SetNX stores a copy of value if key is absent.
func (m *MemoryProvider) SetNX(_ context.Context, key string, value []byte) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.items[key]; exists {
		return false, nil
	}
	m.items[key] = m.order.PushFront(&memoryEntry{key: key, value: append([]byte(nil), value...)})
	for m.order.Len() > m.maxEntries {
		m.removeElement(m.order.Back())
	}
	return true, nil
}

// Delete drops key if present.
func (m *MemoryProvider) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if el, ok := m.items[key]; ok {
		m.removeElement(el)
	}
	return nil
}

func (m *MemoryProvider) removeElement(el *list.Element) {
	m.order.Remove(el)
	delete(m.items, el.Value.(*memoryEntry).key)
}

// Len returns the number of stored entries.
func (m *MemoryProvider) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.order.Len()
}

// Close drops all entries.
func (m *MemoryProvider) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.order.Init()
	m.items = make(map[string]*list.Element)
	return nil
}
