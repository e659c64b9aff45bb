package crawler

import (
	"encoding/json"
	"time"
)

// Section names one logical tab of a directory entry.
type Section string

// Sections of a directory entry, crawled in this order.
const (
	SectionOverview Section = "overview"
	SectionTools    Section = "tools"
	SectionAPI      Section = "api"
)

// Sections lists every section in crawl order.
var Sections = []Section{SectionOverview, SectionTools, SectionAPI}

// RawSection is the rendered content of one section page.
type RawSection struct {
	URL       string
	HTML      string
	Text      string
	Evaluated json.RawMessage
}

// RepoStats holds repository popularity counters.
type RepoStats struct {
	Stars        int        `json:"stars"`
	Forks        int        `json:"forks"`
	OpenIssues   int        `json:"open_issues"`
	Contributors int        `json:"contributors"`
	LastUpdated  *time.Time `json:"last_updated,omitempty"`
}

// Parameter describes one argument of a tool.
type Parameter struct {
	Name        string `json:"name"`
	Type        string `json:"type,omitempty"`
	Description string `json:"description,omitempty"`
	Required    bool   `json:"required,omitempty"`
}

// Tool is a single capability exposed by a server.
type Tool struct {
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	Parameters  []Parameter `json:"parameters,omitempty"`
	Example     string      `json:"example,omitempty"`
}

// CompatibleClient names an MCP client known to work with a server.
type CompatibleClient struct {
	Name string `json:"name"`
	URL  string `json:"url,omitempty"`
}

// Install platform keys.
const (
	PlatformNode   = "node"
	PlatformPython = "python"
	PlatformDocker = "docker"
	PlatformRust   = "rust"
	PlatformGo     = "go"
	PlatformConfig = "config"
	PlatformManual = "manual"
)

// InstallPlatforms is the skeleton every stored install record carries.
var InstallPlatforms = []string{
	PlatformNode, PlatformPython, PlatformDocker, PlatformRust, PlatformGo, PlatformConfig, PlatformManual,
}

// InstallInstructions maps a platform to its install command.
type InstallInstructions struct {
	Platforms  map[string]string `json:"platforms"`
	CodeBlocks []string          `json:"code_blocks,omitempty"`
}

// EmptyInstall returns an install record with every platform present and blank.
func EmptyInstall() InstallInstructions {
	platforms := make(map[string]string, len(InstallPlatforms))
	for _, p := range InstallPlatforms {
		platforms[p] = ""
	}
	return InstallInstructions{Platforms: platforms}
}

// IsEmpty reports whether no platform has a command and no code was captured.
func (i InstallInstructions) IsEmpty() bool {
	for _, cmd := range i.Platforms {
		if cmd != "" {
			return false
		}
	}
	return len(i.CodeBlocks) == 0
}

// Set records cmd for platform unless one is already present.
func (i *InstallInstructions) Set(platform, cmd string) {
	if cmd == "" {
		return
	}
	if i.Platforms == nil {
		i.Platforms = map[string]string{}
	}
	if i.Platforms[platform] == "" {
		i.Platforms[platform] = cmd
	}
}

// Fields is a partially filled record produced by extraction. Zero values
// mean "unknown".
type Fields struct {
	Name            string               `json:"name,omitempty"`
	Slug            string               `json:"slug,omitempty"`
	Owner           string               `json:"owner,omitempty"`
	Description     string               `json:"description,omitempty"`
	Category        string               `json:"category,omitempty"`
	Tags            []string             `json:"tags,omitempty"`
	RepositoryURL   string               `json:"repository_url,omitempty"`
	Homepage        string               `json:"homepage,omitempty"`
	PackageRegistry string               `json:"package_registry,omitempty"`
	PackageName     string               `json:"package_name,omitempty"`
	Stats           *RepoStats           `json:"stats,omitempty"`
	Install         *InstallInstructions `json:"install,omitempty"`
	Tools           []Tool               `json:"tools,omitempty"`
	Clients         []CompatibleClient   `json:"clients,omitempty"`
	Verified        *bool                `json:"verified,omitempty"`
	Text            string               `json:"text,omitempty"`
}

// IsEmpty reports whether no field carries a value.
func (f Fields) IsEmpty() bool {
	return f.Name == "" && f.Slug == "" && f.Owner == "" && f.Description == "" &&
		f.Category == "" && len(f.Tags) == 0 && f.RepositoryURL == "" && f.Homepage == "" &&
		f.PackageRegistry == "" && f.PackageName == "" &&
		f.Stats == nil && (f.Install == nil || f.Install.IsEmpty()) && len(f.Tools) == 0 &&
		len(f.Clients) == 0 && f.Verified == nil && f.Text == ""
}

// Merge fills fields that are still unknown from other. Known values are never
// replaced; list fields are unioned.
func (f *Fields) Merge(other Fields) {
	fillString(&f.Name, other.Name)
	fillString(&f.Slug, other.Slug)
	fillString(&f.Owner, other.Owner)
	fillString(&f.Description, other.Description)
	fillString(&f.Category, other.Category)
	fillString(&f.RepositoryURL, other.RepositoryURL)
	fillString(&f.Homepage, other.Homepage)
	fillString(&f.PackageRegistry, other.PackageRegistry)
	fillString(&f.PackageName, other.PackageName)
	fillString(&f.Text, other.Text)
	f.Tags = unionStrings(f.Tags, other.Tags)
	f.Tools = mergeTools(f.Tools, other.Tools)
	f.Clients = mergeClients(f.Clients, other.Clients)
	if f.Verified == nil && other.Verified != nil {
		v := *other.Verified
		f.Verified = &v
	}
	if other.Stats != nil {
		if f.Stats == nil {
			f.Stats = &RepoStats{}
		}
		fillInt(&f.Stats.Stars, other.Stats.Stars)
		fillInt(&f.Stats.Forks, other.Stats.Forks)
		fillInt(&f.Stats.OpenIssues, other.Stats.OpenIssues)
		fillInt(&f.Stats.Contributors, other.Stats.Contributors)
		if f.Stats.LastUpdated == nil {
			f.Stats.LastUpdated = other.Stats.LastUpdated
		}
	}
	if other.Install != nil && !other.Install.IsEmpty() {
		if f.Install == nil {
			f.Install = &InstallInstructions{}
		}
		for platform, cmd := range other.Install.Platforms {
			f.Install.Set(platform, cmd)
		}
		f.Install.CodeBlocks = unionStrings(f.Install.CodeBlocks, other.Install.CodeBlocks)
	}
}

func fillString(dst *string, v string) {
	if *dst == "" {
		*dst = v
	}
}

func fillInt(dst *int, v int) {
	if *dst == 0 {
		*dst = v
	}
}

func unionStrings(a, b []string) []string {
	if len(b) == 0 {
		return a
	}
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, s := range append(append([]string(nil), a...), b...) {
		if _, ok := seen[s]; ok || s == "" {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

func mergeTools(a, b []Tool) []Tool {
	if len(b) == 0 {
		return a
	}
	seen := make(map[string]struct{}, len(a))
	for _, t := range a {
		seen[t.Name] = struct{}{}
	}
	for _, t := range b {
		if _, ok := seen[t.Name]; ok || t.Name == "" {
			continue
		}
		seen[t.Name] = struct{}{}
		a = append(a, t)
	}
	return a
}

func mergeClients(a, b []CompatibleClient) []CompatibleClient {
	if len(b) == 0 {
		return a
	}
	seen := make(map[string]struct{}, len(a))
	for _, c := range a {
		seen[normalizeKey(c.Name)] = struct{}{}
	}
	for _, c := range b {
		key := normalizeKey(c.Name)
		if _, ok := seen[key]; ok || key == "" {
			continue
		}
		seen[key] = struct{}{}
		a = append(a, c)
	}
	return a
}
