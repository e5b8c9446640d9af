package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store used in tests and ephemeral setups.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[string]map[string]Item
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string]map[string]Item)}
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, namespace, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	it, ok := s.items[namespace][key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), it.Value...), nil
}

// Put implements Store.
func (s *MemoryStore) Put(_ context.Context, namespace, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.items[namespace] == nil {
		s.items[namespace] = make(map[string]Item)
	}
	s.items[namespace][key] = Item{
		Namespace: namespace,
		Key:       key,
		Value:     append([]byte(nil), value...),
		UpdatedAt: time.Now(),
	}
	return nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(_ context.Context, namespace, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items[namespace], key)
	return nil
}

// List implements Store, newest first.
func (s *MemoryStore) List(_ context.Context, namespace string) ([]Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	items := make([]Item, 0, len(s.items[namespace]))
	for _, it := range s.items[namespace] {
		items = append(items, it)
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].UpdatedAt.Equal(items[j].UpdatedAt) {
			return items[i].Key < items[j].Key
		}
		return items[i].UpdatedAt.After(items[j].UpdatedAt)
	})
	return items, nil
}

// Search implements Store with case-insensitive term matching. Items matching
// more query terms rank higher.
func (s *MemoryStore) Search(ctx context.Context, namespace, query string, limit int) ([]Item, error) {
	if limit <= 0 {
		limit = 50
	}
	items, err := s.List(ctx, namespace)
	if err != nil {
		return nil, err
	}
	terms := strings.Fields(strings.ToLower(query))
	if len(terms) == 0 {
		if len(items) > limit {
			items = items[:limit]
		}
		return items, nil
	}

	type scored struct {
		item Item
		hits int
	}
	var matches []scored
	for _, it := range items {
		value := strings.ToLower(string(it.Value))
		hits := 0
		for _, term := range terms {
			if strings.Contains(value, term) {
				hits++
			}
		}
		if hits > 0 {
			matches = append(matches, scored{item: it, hits: hits})
		}
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].hits > matches[j].hits
	})

	out := make([]Item, 0, len(matches))
	for _, m := range matches {
		out = append(out, m.item)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}
