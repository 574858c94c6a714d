package cache

import (
	"context"
	"sync"

	"listing-enricher/internal/models"
)

// MemoryStore keeps the cache table in process memory. Used for dry runs.
type MemoryStore struct {
	mu      sync.Mutex
	entries []models.CacheEntry
	saves   int
}

// NewMemoryStore creates a store seeded with entries.
func NewMemoryStore(entries ...models.CacheEntry) *MemoryStore {
	return &MemoryStore{entries: entries}
}

func (s *MemoryStore) Load(ctx context.Context) ([]models.CacheEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.CacheEntry(nil), s.entries...), nil
}

func (s *MemoryStore) Save(ctx context.Context, entries []models.CacheEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append([]models.CacheEntry(nil), entries...)
	s.saves++
	return nil
}

// Saves returns how many times Save was called.
func (s *MemoryStore) Saves() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}
