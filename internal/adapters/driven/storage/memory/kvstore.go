package memory

import (
	"context"
	"sync"

	"github.com/custodia-labs/catalog-sync/internal/core/domain"
	"github.com/custodia-labs/catalog-sync/internal/core/ports/driven"
)

// Ensure KVStore implements the interface.
var _ driven.KVStore = (*KVStore)(nil)

// KVStore is an in-memory implementation of driven.KVStore.
type KVStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewKVStore creates a new in-memory key-value store.
func NewKVStore() *KVStore {
	return &KVStore{
		data: make(map[string][]byte),
	}
}

// Get retrieves a value by key.
func (s *KVStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[key]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return clone(v), nil
}

// Set stores a value.
func (s *KVStore) Set(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = clone(value)
	return nil
}

// Delete removes a key.
func (s *KVStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}

// Update applies fn under the store lock.
func (s *KVStore) Update(_ context.Context, key string, fn driven.UpdateFunc) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, exists := s.data[key]
	next, write, err := fn(clone(cur), exists)
	if err != nil || !write {
		return false, err
	}
	if next == nil {
		delete(s.data, key)
	} else {
		s.data[key] = clone(next)
	}
	return true, nil
}

// Keys returns the number of stored keys.
func (s *KVStore) Keys() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
