package kv

import (
	"context"
	"sync"
)

// MemoryStore keeps values in process memory. Used for tests and for
// throwaway sessions (STORAGE_DRIVER=memory).
type MemoryStore struct {
	mu     sync.RWMutex
	items  map[string]string
	closed bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string]string)}
}

func (s *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return "", false, ErrClosed
	}
	v, ok := s.items[key]
	return v, ok, nil
}

func (s *MemoryStore) MultiGet(_ context.Context, keys ...string) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	out := make(map[string]string, len(keys))
	for _, k := range keys {
		if v, ok := s.items[k]; ok {
			out[k] = v
		}
	}
	return out, nil
}

func (s *MemoryStore) MultiSet(_ context.Context, pairs map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	for k, v := range pairs {
		s.items[k] = v
	}
	return nil
}

func (s *MemoryStore) MultiRemove(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	for _, k := range keys {
		delete(s.items, k)
	}
	return nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
