package crawler

import (
	"context"
	"time"
)

// Store persists servers and their child records.
type Store interface {
	FindServerByExternalID(ctx context.Context, externalID string) (Server, error)
	FindServerBySlug(ctx context.Context, slug string) (Server, error)
	FindServerByName(ctx context.Context, name string) (Server, error)
	InsertServer(ctx context.Context, server Server) error
	UpdateServer(ctx context.Context, id string, changes map[string]any) error
	ListServersWithoutReadme(ctx context.Context, limit int) ([]Server, error)

	ListTools(ctx context.Context, serverID string) ([]Tool, error)
	ReplaceTools(ctx context.Context, serverID string, tools []Tool) error
	InsertTools(ctx context.Context, serverID string, tools []Tool) error
	ListClients(ctx context.Context, serverID string) ([]CompatibleClient, error)
	ReplaceClients(ctx context.Context, serverID string, clients []CompatibleClient) error
	InsertClients(ctx context.Context, serverID string, clients []CompatibleClient) error
	InsertMetrics(ctx context.Context, serverID string, snapshot MetricsSnapshot) error
	InsertHealth(ctx context.Context, serverID string, snapshot HealthSnapshot) error
}

// Checkpoint holds the fields already extracted per section for one target.
type Checkpoint struct {
	Overview    *Fields   `json:"overview,omitempty"`
	Tools       *Fields   `json:"tools,omitempty"`
	API         *Fields   `json:"api,omitempty"`
	LastUpdated time.Time `json:"lastUpdated"`
}

// Section returns the saved fields for s, or nil if the section never completed.
func (c Checkpoint) Section(s Section) *Fields {
	switch s {
	case SectionOverview:
		return c.Overview
	case SectionTools:
		return c.Tools
	case SectionAPI:
		return c.API
	default:
		return nil
	}
}

// SetSection stores fields for s.
func (c *Checkpoint) SetSection(s Section, f Fields) {
	switch s {
	case SectionOverview:
		c.Overview = &f
	case SectionTools:
		c.Tools = &f
	case SectionAPI:
		c.API = &f
	}
}

// CheckpointStore persists per-target extraction progress.
type CheckpointStore interface {
	// Load returns the checkpoint for id; ok is false when none exists.
	Load(ctx context.Context, id string) (cp Checkpoint, ok bool, err error)
	// SaveSection records fields for one section and refreshes LastUpdated.
	SaveSection(ctx context.Context, id string, section Section, fields Fields) error
}

// ExtractInput is handed to every extraction strategy.
type ExtractInput struct {
	Target  Target
	Section Section
	URL     string
}

// Extractor is one extraction strategy for a section.
type Extractor interface {
	Name() string
	Extract(ctx context.Context, in ExtractInput) Result
}

// PageLoader renders a page and optionally evaluates script inside it.
type PageLoader interface {
	Load(ctx context.Context, url string, script string) (RawSection, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces record IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
