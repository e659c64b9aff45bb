// Package memory implements crawler.Store in process memory for dry runs and
// tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/JakeFAU/mcp-directory-crawler/internal/crawler"
)

// Store keeps servers and their children in maps. Writes counts every
// mutating call so callers can assert idempotence.
type Store struct {
	mu      sync.RWMutex
	servers map[string]crawler.Server
	tools   map[string][]crawler.Tool
	clients map[string][]crawler.CompatibleClient
	metrics map[string][]crawler.MetricsSnapshot
	health  map[string][]crawler.HealthSnapshot
	writes  int
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		servers: map[string]crawler.Server{},
		tools:   map[string][]crawler.Tool{},
		clients: map[string][]crawler.CompatibleClient{},
		metrics: map[string][]crawler.MetricsSnapshot{},
		health:  map[string][]crawler.HealthSnapshot{},
	}
}

// Writes returns the number of mutating calls made so far.
func (s *Store) Writes() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.writes
}

// Servers returns all servers ordered by slug.
func (s *Store) Servers() []crawler.Server {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]crawler.Server, 0, len(s.servers))
	for _, srv := range s.servers {
		out = append(out, srv)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slug < out[j].Slug })
	return out
}

// Metrics returns the recorded metrics snapshots for serverID.
func (s *Store) Metrics(serverID string) []crawler.MetricsSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]crawler.MetricsSnapshot(nil), s.metrics[serverID]...)
}

// Health returns the recorded health snapshots for serverID.
func (s *Store) Health(serverID string) []crawler.HealthSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]crawler.HealthSnapshot(nil), s.health[serverID]...)
}

func (s *Store) find(match func(crawler.Server) bool) (crawler.Server, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, srv := range s.servers {
		if match(srv) {
			return srv, nil
		}
	}
	return crawler.Server{}, crawler.ErrNotFound
}

// FindServerByExternalID implements crawler.Store.
func (s *Store) FindServerByExternalID(_ context.Context, externalID string) (crawler.Server, error) {
	if externalID == "" {
		return crawler.Server{}, crawler.ErrNotFound
	}
	return s.find(func(srv crawler.Server) bool { return srv.ExternalID == externalID })
}

// FindServerBySlug implements crawler.Store.
func (s *Store) FindServerBySlug(_ context.Context, slug string) (crawler.Server, error) {
	if slug == "" {
		return crawler.Server{}, crawler.ErrNotFound
	}
	return s.find(func(srv crawler.Server) bool { return srv.Slug == slug })
}

// FindServerByName matches names case-insensitively.
func (s *Store) FindServerByName(_ context.Context, name string) (crawler.Server, error) {
	if name == "" {
		return crawler.Server{}, crawler.ErrNotFound
	}
	return s.find(func(srv crawler.Server) bool { return strings.EqualFold(srv.Name, name) })
}

// InsertServer enforces the unique id, external id, and slug constraints.
func (s *Store) InsertServer(_ context.Context, server crawler.Server) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.servers[server.ID]; ok {
		return fmt.Errorf("insert server %s: duplicate id", server.ID)
	}
	for _, existing := range s.servers {
		if server.ExternalID != "" && existing.ExternalID == server.ExternalID {
			return fmt.Errorf("insert server %s: duplicate external_id %q", server.ID, server.ExternalID)
		}
		if existing.Slug == server.Slug {
			return fmt.Errorf("insert server %s: duplicate slug %q", server.ID, server.Slug)
		}
	}
	server.Tags = append([]string(nil), server.Tags...)
	s.servers[server.ID] = server
	s.writes++
	return nil
}

// UpdateServer applies column changes to an existing server.
func (s *Store) UpdateServer(_ context.Context, id string, changes map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	srv, ok := s.servers[id]
	if !ok {
		return fmt.Errorf("update server %s: %w", id, crawler.ErrNotFound)
	}
	updated, err := srv.ApplyColumns(changes)
	if err != nil {
		return fmt.Errorf("update server %s: %w", id, err)
	}
	s.servers[id] = updated
	s.writes++
	return nil
}

// ListServersWithoutReadme returns servers whose README was never processed,
// ordered by creation time.
func (s *Store) ListServersWithoutReadme(_ context.Context, limit int) ([]crawler.Server, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []crawler.Server
	for _, srv := range s.servers {
		if srv.ReadmeProcessedAt == nil {
			out = append(out, srv)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].Slug < out[j].Slug
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ListTools implements crawler.Store.
func (s *Store) ListTools(_ context.Context, serverID string) ([]crawler.Tool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]crawler.Tool(nil), s.tools[serverID]...), nil
}

// ReplaceTools deletes and reinserts the tools of serverID.
func (s *Store) ReplaceTools(_ context.Context, serverID string, tools []crawler.Tool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tools[serverID] = append([]crawler.Tool(nil), tools...)
	s.writes++
	return nil
}

// InsertTools implements crawler.Store.
func (s *Store) InsertTools(_ context.Context, serverID string, tools []crawler.Tool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tools[serverID] = append(s.tools[serverID], tools...)
	s.writes++
	return nil
}

// ListClients implements crawler.Store.
func (s *Store) ListClients(_ context.Context, serverID string) ([]crawler.CompatibleClient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]crawler.CompatibleClient(nil), s.clients[serverID]...), nil
}

// ReplaceClients deletes and reinserts the clients of serverID.
func (s *Store) ReplaceClients(_ context.Context, serverID string, clients []crawler.CompatibleClient) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[serverID] = append([]crawler.CompatibleClient(nil), clients...)
	s.writes++
	return nil
}

// InsertClients implements crawler.Store.
func (s *Store) InsertClients(_ context.Context, serverID string, clients []crawler.CompatibleClient) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[serverID] = append(s.clients[serverID], clients...)
	s.writes++
	return nil
}

// InsertMetrics implements crawler.Store.
func (s *Store) InsertMetrics(_ context.Context, serverID string, snapshot crawler.MetricsSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics[serverID] = append(s.metrics[serverID], snapshot)
	s.writes++
	return nil
}

// InsertHealth implements crawler.Store.
func (s *Store) InsertHealth(_ context.Context, serverID string, snapshot crawler.HealthSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.health[serverID] = append(s.health[serverID], snapshot)
	s.writes++
	return nil
}
