// Package checkpoint persists per-target extraction progress so an
// interrupted crawl resumes without redoing finished sections.
package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/JakeFAU/mcp-directory-crawler/internal/clock/system"
	"github.com/JakeFAU/mcp-directory-crawler/internal/crawler"
)

// FileStore keeps one JSON document per target identity under a directory.
type FileStore struct {
	dir   string
	clock crawler.Clock
	// Serializes read-modify-write of a single document.
	mu sync.Mutex
}

// NewFileStore creates a file-backed checkpoint store. The directory is
// created on first save.
func NewFileStore(dir string, clock crawler.Clock) (*FileStore, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("checkpoint directory is required")
	}
	if clock == nil {
		clock = system.New()
	}
	return &FileStore{dir: filepath.Clean(dir), clock: clock}, nil
}

// Load reads the checkpoint for id.
func (s *FileStore) Load(_ context.Context, id string) (crawler.Checkpoint, bool, error) {
	return s.read(id)
}

// SaveSection merges fields for section into the checkpoint for id and
// rewrites the whole document.
func (s *FileStore) SaveSection(_ context.Context, id string, section crawler.Section, fields crawler.Fields) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp, _, err := s.read(id)
	if err != nil {
		// An unreadable document is replaced rather than blocking progress.
		cp = crawler.Checkpoint{}
	}
	cp.SetSection(section, fields)
	cp.LastUpdated = s.clock.Now()

	raw, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}
	if err := os.MkdirAll(s.dir, 0o750); err != nil {
		return fmt.Errorf("create checkpoint dir: %w", err)
	}
	tmp, err := os.CreateTemp(s.dir, ".checkpoint-*")
	if err != nil {
		return fmt.Errorf("create temp checkpoint: %w", err)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck // gone after a successful rename
	if _, err := tmp.Write(raw); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close checkpoint: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path(id)); err != nil {
		return fmt.Errorf("commit checkpoint: %w", err)
	}
	return nil
}

func (s *FileStore) read(id string) (crawler.Checkpoint, bool, error) {
	raw, err := os.ReadFile(s.path(id))
	if errors.Is(err, os.ErrNotExist) {
		return crawler.Checkpoint{}, false, nil
	}
	if err != nil {
		return crawler.Checkpoint{}, false, fmt.Errorf("read checkpoint: %w", err)
	}
	var cp crawler.Checkpoint
	if err := json.Unmarshal(raw, &cp); err != nil {
		return crawler.Checkpoint{}, false, fmt.Errorf("decode checkpoint: %w", err)
	}
	return cp, true, nil
}

func (s *FileStore) path(id string) string {
	return filepath.Join(s.dir, crawler.SafeName(id)+".json")
}
