package checkpoint

import (
	"context"
	"sync"

	"github.com/JakeFAU/mcp-directory-crawler/internal/clock/system"
	"github.com/JakeFAU/mcp-directory-crawler/internal/crawler"
)

// MemoryStore keeps checkpoints in memory, for dry runs and tests.
type MemoryStore struct {
	mu    sync.Mutex
	clock crawler.Clock
	data  map[string]crawler.Checkpoint
}

// NewMemoryStore creates an empty in-memory checkpoint store.
func NewMemoryStore(clock crawler.Clock) *MemoryStore {
	if clock == nil {
		clock = system.New()
	}
	return &MemoryStore{clock: clock, data: make(map[string]crawler.Checkpoint)}
}

// Load returns the checkpoint for id.
func (s *MemoryStore) Load(_ context.Context, id string) (crawler.Checkpoint, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp, ok := s.data[id]
	return cp, ok, nil
}

// SaveSection records fields for section.
func (s *MemoryStore) SaveSection(_ context.Context, id string, section crawler.Section, fields crawler.Fields) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := s.data[id]
	cp.SetSection(section, fields)
	cp.LastUpdated = s.clock.Now()
	s.data[id] = cp
	return nil
}
