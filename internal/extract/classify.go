package extract

import (
	"regexp"
	"strings"

	"github.com/JakeFAU/mcp-directory-crawler/internal/crawler"
)

var wordSplit = regexp.MustCompile(`[^a-z0-9]+`)

var tagStopwords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "with": {}, "that": {},
	"this": {}, "has": {}, "are": {}, "from": {},
}

const maxDerivedTags = 10

// DeriveTags builds tags from free text: distinct lower-case words longer
// than two characters that are not stopwords, at most ten.
func DeriveTags(parts ...string) []string {
	text := strings.ToLower(strings.Join(parts, " "))
	seen := map[string]struct{}{}
	var tags []string
	for _, w := range wordSplit.Split(text, -1) {
		if len(w) <= 2 {
			continue
		}
		if _, stop := tagStopwords[w]; stop {
			continue
		}
		if _, dup := seen[w]; dup {
			continue
		}
		seen[w] = struct{}{}
		tags = append(tags, w)
		if len(tags) == maxDerivedTags {
			break
		}
	}
	return tags
}

// Categories assigned by DetermineCategory.
const (
	CategoryAuth     = "auth"
	CategoryDatabase = "database"
	CategoryAI       = "ai"
	CategoryFiles    = "files"
	CategoryWeb      = "web"
	CategoryOther    = "other"
)

// DetermineCategory applies a keyword heuristic over name and description.
func DetermineCategory(name, description string) string {
	n := strings.ToLower(name)
	d := strings.ToLower(description)
	switch {
	case strings.Contains(n, "auth") || strings.Contains(d, "auth") || strings.Contains(d, "login"):
		return CategoryAuth
	case strings.Contains(d, "database") || strings.Contains(d, "storage") || strings.Contains(n, "db"):
		return CategoryDatabase
	case strings.Contains(d, "ai") || strings.Contains(d, "llm") || strings.Contains(d, "language model"):
		return CategoryAI
	case strings.Contains(d, "file") || strings.Contains(d, "document"):
		return CategoryFiles
	case strings.Contains(d, "web") || strings.Contains(d, "http"):
		return CategoryWeb
	default:
		return CategoryOther
	}
}

// DefaultInstall returns install commands implied by a package registry.
// Unknown registries yield nil.
func DefaultInstall(registry, pkg string) *crawler.InstallInstructions {
	if pkg == "" {
		return nil
	}
	install := crawler.EmptyInstall()
	switch strings.ToLower(registry) {
	case "npm":
		install.Set(crawler.PlatformNode, "npm install "+pkg)
		install.CodeBlocks = []string{"npm install " + pkg, "yarn add " + pkg}
	case "pip", "pypi":
		install.Set(crawler.PlatformPython, "pip install "+pkg)
	case "cargo":
		install.Set(crawler.PlatformRust, "cargo add "+pkg)
	case "go":
		install.Set(crawler.PlatformGo, "go get "+pkg)
	default:
		return nil
	}
	return &install
}

// ClassifyCommand maps an install snippet to a platform key.
func ClassifyCommand(snippet string) string {
	s := strings.ToLower(snippet)
	switch {
	case strings.Contains(s, "\"mcpservers\""):
		return crawler.PlatformConfig
	case strings.Contains(s, "docker "):
		return crawler.PlatformDocker
	case strings.Contains(s, "npx ") || strings.Contains(s, "npm ") ||
		strings.Contains(s, "yarn ") || strings.Contains(s, "pnpm ") || strings.Contains(s, "bunx "):
		return crawler.PlatformNode
	case strings.Contains(s, "pip ") || strings.Contains(s, "pipx ") ||
		strings.Contains(s, "uvx ") || strings.Contains(s, "uv "):
		return crawler.PlatformPython
	case strings.Contains(s, "cargo "):
		return crawler.PlatformRust
	case strings.Contains(s, "go install ") || strings.Contains(s, "go get "):
		return crawler.PlatformGo
	default:
		return crawler.PlatformManual
	}
}
