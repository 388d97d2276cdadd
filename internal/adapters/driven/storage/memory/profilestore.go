package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/custodia-labs/catalog-sync/internal/core/domain"
	"github.com/custodia-labs/catalog-sync/internal/core/ports/driven"
)

// Ensure ProfileStore implements the interface.
var _ driven.ProfileStore = (*ProfileStore)(nil)

// ProfileStore holds scope profiles in memory.
type ProfileStore struct {
	mu       sync.RWMutex
	profiles map[string]domain.Profile
}

// NewProfileStore creates a store seeded with the given profiles.
func NewProfileStore(profiles ...domain.Profile) *ProfileStore {
	s := &ProfileStore{profiles: make(map[string]domain.Profile)}
	for _, p := range profiles {
		s.profiles[p.ID] = p
	}
	return s
}

// Put adds or replaces a profile.
func (s *ProfileStore) Put(p domain.Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[p.ID] = p
}

// Get returns the profile of a scope. The default scope always resolves.
func (s *ProfileStore) Get(_ context.Context, scope string) (*domain.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if p, ok := s.profiles[scope]; ok {
		return &p, nil
	}
	if scope == "" {
		p := domain.DefaultProfile()
		return &p, nil
	}
	return nil, domain.ErrNotFound
}

// List returns every profile ordered by ID.
func (s *ProfileStore) List(_ context.Context) ([]domain.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Profile, 0, len(s.profiles))
	for _, p := range s.profiles {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
