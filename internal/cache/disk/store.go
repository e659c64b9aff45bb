// Package disk persists remote-call cache entries as one JSON file per identity.
package disk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/JakeFAU/mcp-directory-crawler/internal/crawler"
	"github.com/JakeFAU/mcp-directory-crawler/internal/remote"
)

// Config captures the parameters for the on-disk cache.
type Config struct {
	// Dir is created on first write.
	Dir string `mapstructure:"dir"`
}

// Store implements remote.Cache on the local filesystem.
type Store struct {
	dir string
}

// New creates a disk-backed cache rooted at cfg.Dir.
func New(cfg Config) (*Store, error) {
	if strings.TrimSpace(cfg.Dir) == "" {
		return nil, fmt.Errorf("cache directory is required")
	}
	return &Store{dir: filepath.Clean(cfg.Dir)}, nil
}

// Get reads the entry for identity. A missing file is a miss, not an error.
func (s *Store) Get(_ context.Context, identity string) (remote.Entry, bool, error) {
	path, err := s.path(identity)
	if err != nil {
		return remote.Entry{}, false, err
	}
	raw, err := os.ReadFile(path) // #nosec G304 -- path is confined to the cache dir.
	if errors.Is(err, os.ErrNotExist) {
		return remote.Entry{}, false, nil
	}
	if err != nil {
		return remote.Entry{}, false, fmt.Errorf("read cache entry: %w", err)
	}
	var entry remote.Entry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return remote.Entry{}, false, fmt.Errorf("decode cache entry: %w", err)
	}
	return entry, true, nil
}

// Set writes entry, replacing any previous file atomically.
func (s *Store) Set(_ context.Context, entry remote.Entry) error {
	path, err := s.path(entry.Identity)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(s.dir, 0o750); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}
	tmp, err := os.CreateTemp(s.dir, ".entry-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck // gone after a successful rename
	if _, err := tmp.Write(raw); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write cache entry: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close cache entry: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("commit cache entry: %w", err)
	}
	return nil
}

func (s *Store) path(identity string) (string, error) {
	if strings.TrimSpace(identity) == "" {
		return "", fmt.Errorf("cache identity is required")
	}
	return filepath.Join(s.dir, crawler.SafeName(identity)+".json"), nil
}
