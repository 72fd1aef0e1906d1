package cache

import (
	"container/list"
	"context"
	"sync"
	"time"
)

type memoryItem struct {
	key     string
	value   []byte
	expires time.Time
}

// MemoryStore is an in-process Store bounded by maxEntries. When full, the
// oldest inserted key is evicted.
type MemoryStore struct {
	mu         sync.Mutex
	items      map[string]*list.Element
	order      *list.List
	maxEntries int
	now        func() time.Time
}

// NewMemoryStore creates an in-memory store. maxEntries <= 0 means unbounded.
func NewMemoryStore(maxEntries int) *MemoryStore {
	return &MemoryStore{
		items:      make(map[string]*list.Element),
		order:      list.New(),
		maxEntries: maxEntries,
		now:        time.Now,
	}
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	el, ok := s.items[key]
	if !ok {
		return nil, ErrMiss
	}
	item := el.Value.(*memoryItem)
	if !item.expires.IsZero() && !s.now().Before(item.expires) {
		s.order.Remove(el)
		delete(s.items, key)
		return nil, ErrMiss
	}
	return item.value, nil
}

// Set implements Store.
func (s *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var expires time.Time
	if ttl > 0 {
		expires = s.now().Add(ttl)
	}

	if el, ok := s.items[key]; ok {
		item := el.Value.(*memoryItem)
		item.value = value
		item.expires = expires
		return nil
	}

	s.items[key] = s.order.PushBack(&memoryItem{key: key, value: value, expires: expires})

	for s.maxEntries > 0 && s.order.Len() > s.maxEntries {
		oldest := s.order.Front()
		s.order.Remove(oldest)
		delete(s.items, oldest.Value.(*memoryItem).key)
	}
	return nil
}

// Len returns the number of stored entries, expired ones included.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	return nil
}
