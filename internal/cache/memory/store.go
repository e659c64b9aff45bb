// Package memory keeps remote-call cache entries in process memory.
package memory

import (
	"context"
	"sync"

	"github.com/JakeFAU/mcp-directory-crawler/internal/remote"
)

// Store implements remote.Cache with a map.
type Store struct {
	mu      sync.RWMutex
	entries map[string]remote.Entry
}

// New creates an empty in-memory cache.
func New() *Store {
	return &Store{entries: make(map[string]remote.Entry)}
}

// Get returns the entry for identity.
func (s *Store) Get(_ context.Context, identity string) (remote.Entry, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[identity]
	return e, ok, nil
}

// Set stores a copy of entry.
func (s *Store) Set(_ context.Context, entry remote.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry.Payload = append([]byte(nil), entry.Payload...)
	s.entries[entry.Identity] = entry
	return nil
}

// Len reports how many entries are cached.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
