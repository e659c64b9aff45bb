package crawler

import (
	"encoding/json"
	"fmt"
	"time"
)

// Server is the persisted directory entry. JSON tags double as column names.
type Server struct {
	ID                string              `json:"id"`
	ExternalID        string              `json:"external_id"`
	Slug              string              `json:"slug"`
	Name              string              `json:"name"`
	Owner             string              `json:"owner"`
	Description       string              `json:"description"`
	Category          string              `json:"category"`
	Tags              []string            `json:"tags"`
	Homepage          string              `json:"homepage"`
	Source            string              `json:"source"`
	Stars             int                 `json:"stars"`
	Forks             int                 `json:"forks"`
	OpenIssues        int                 `json:"open_issues"`
	Contributors      int                 `json:"contributors"`
	LastRepoUpdate    *time.Time          `json:"last_repo_update"`
	Install           InstallInstructions `json:"install_instructions"`
	Verified          bool                `json:"verified"`
	PackageRegistry   string              `json:"package_registry"`
	PackageName       string              `json:"package_name"`
	ReadmeProcessedAt *time.Time          `json:"readme_processed_at"`
	CreatedAt         time.Time           `json:"created_at"`
	UpdatedAt         time.Time           `json:"updated_at"`
}

// MetricsSnapshot is a point-in-time copy of repository counters.
type MetricsSnapshot struct {
	Stars        int       `json:"stars"`
	Forks        int       `json:"forks"`
	OpenIssues   int       `json:"open_issues"`
	Contributors int       `json:"contributors"`
	CapturedAt   time.Time `json:"captured_at"`
}

// Health statuses recorded for new servers.
const (
	HealthOnline  = "online"
	HealthUnknown = "unknown"
)

// HealthSnapshot records the observed availability of a server.
type HealthSnapshot struct {
	Status    string    `json:"status"`
	CheckedAt time.Time `json:"checked_at"`
}

// Record is a normalized server ready for reconciliation. Nil Tools or
// Clients mean "no new list", not "clear the list".
type Record struct {
	Server  Server
	Tools   []Tool
	Clients []CompatibleClient
}

// Metrics returns the counters of s as a snapshot taken at ts.
func (s Server) Metrics(ts time.Time) MetricsSnapshot {
	return MetricsSnapshot{
		Stars:        s.Stars,
		Forks:        s.Forks,
		OpenIssues:   s.OpenIssues,
		Contributors: s.Contributors,
		CapturedAt:   ts,
	}
}

// Columns returns the non-empty updatable columns of s. Identity and
// bookkeeping columns (id, created_at, updated_at) are never included.
func (s Server) Columns() map[string]any {
	cols := map[string]any{}
	putString := func(name, v string) {
		if v != "" {
			cols[name] = v
		}
	}
	putInt := func(name string, v int) {
		if v != 0 {
			cols[name] = v
		}
	}
	putString("external_id", s.ExternalID)
	putString("slug", s.Slug)
	putString("name", s.Name)
	putString("owner", s.Owner)
	putString("description", s.Description)
	putString("category", s.Category)
	putString("homepage", s.Homepage)
	putString("source", s.Source)
	putString("package_registry", s.PackageRegistry)
	putString("package_name", s.PackageName)
	putInt("stars", s.Stars)
	putInt("forks", s.Forks)
	putInt("open_issues", s.OpenIssues)
	putInt("contributors", s.Contributors)
	if len(s.Tags) > 0 {
		cols["tags"] = s.Tags
	}
	if s.LastRepoUpdate != nil {
		cols["last_repo_update"] = s.LastRepoUpdate.UTC()
	}
	if !s.Install.IsEmpty() {
		cols["install_instructions"] = s.Install
	}
	if s.Verified {
		cols["verified"] = true
	}
	if s.ReadmeProcessedAt != nil {
		cols["readme_processed_at"] = s.ReadmeProcessedAt.UTC()
	}
	return cols
}

// ApplyColumns returns a copy of s with the given column values set.
func (s Server) ApplyColumns(changes map[string]any) (Server, error) {
	raw, err := json.Marshal(changes)
	if err != nil {
		return Server{}, fmt.Errorf("marshal changes: %w", err)
	}
	out := s
	out.Tags = append([]string(nil), s.Tags...)
	if _, ok := changes["install_instructions"]; ok {
		out.Install = InstallInstructions{}
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return Server{}, fmt.Errorf("apply changes: %w", err)
	}
	return out, nil
}
