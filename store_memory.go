package gobtcmini

import (
	"context"
	"sync"
)

// MemoryStore keeps the watchlist in process memory.
type MemoryStore struct {
	mu      sync.Mutex
	entries []WatchlistEntry
	saves   int
}

// NewMemoryStore returns a store seeded with entries.
func NewMemoryStore(entries ...WatchlistEntry) *MemoryStore {
	return &MemoryStore{entries: cloneEntries(entries)}
}

func (s *MemoryStore) Load(_ context.Context) ([]WatchlistEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneEntries(s.entries), nil
}

func (s *MemoryStore) Save(_ context.Context, entries []WatchlistEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = cloneEntries(entries)
	s.saves++
	return nil
}

// Saves returns how many times Save was called.
func (s *MemoryStore) Saves() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}

func cloneEntries(entries []WatchlistEntry) []WatchlistEntry {
	if len(entries) == 0 {
		return nil
	}
	cloned := make([]WatchlistEntry, len(entries))
	for i, entry := range entries {
		cloned[i] = entry.clone()
	}
	return cloned
}
