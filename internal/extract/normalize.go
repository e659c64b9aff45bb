// Package extract holds the field extraction strategies (structured API,
// DOM patterns, free-text regexes, README sections) and the normalization
// helpers they share.
package extract

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/JakeFAU/mcp-directory-crawler/internal/crawler"
)

var (
	nonSlugChars = regexp.MustCompile(`[^a-z0-9]+`)
	spaceRuns    = regexp.MustCompile(`\s+`)
)

// Slugify lower-cases s, spells out "&", and collapses everything that is not
// a letter or digit into single hyphens.
func Slugify(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, "&", " and ")
	s = nonSlugChars.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}

// NameFromSlug turns "mongo-db-mcp" into "Mongo Db Mcp".
func NameFromSlug(slug string) string {
	parts := strings.FieldsFunc(slug, func(r rune) bool { return r == '-' || r == '_' })
	for i, p := range parts {
		runes := []rune(p)
		runes[0] = unicode.ToUpper(runes[0])
		parts[i] = string(runes)
	}
	return strings.Join(parts, " ")
}

// CleanText trims s and collapses internal whitespace.
func CleanText(s string) string {
	return strings.TrimSpace(spaceRuns.ReplaceAllString(s, " "))
}

// NormalizeTags lower-cases, trims, and de-duplicates tags, dropping blanks
// and a leading "#".
func NormalizeTags(tags []string) []string {
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		tag = strings.ToLower(CleanText(strings.TrimPrefix(strings.TrimSpace(tag), "#")))
		if tag == "" {
			continue
		}
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	return out
}

// toolStopwords are never tool names, whatever the source.
var toolStopwords = map[string]struct{}{
	"example": {}, "function": {}, "test": {},
}

// FilterToolNames drops candidates shorter than four characters or found in
// the stopword list, and collapses repeated names. The first occurrence of a
// name wins.
func FilterToolNames(tools []crawler.Tool) []crawler.Tool {
	seen := make(map[string]struct{}, len(tools))
	out := make([]crawler.Tool, 0, len(tools))
	for _, t := range tools {
		t.Name = strings.TrimSpace(strings.Trim(t.Name, "`*"))
		t.Description = CleanText(t.Description)
		if len(t.Name) < 4 {
			continue
		}
		if _, stop := toolStopwords[strings.ToLower(t.Name)]; stop {
			continue
		}
		if _, dup := seen[t.Name]; dup {
			continue
		}
		seen[t.Name] = struct{}{}
		out = append(out, t)
	}
	return out
}

// ToolPrefix guesses the snake_case prefix a server uses for its tool names,
// e.g. "mongodb" for "mongodb-mcp-server".
func ToolPrefix(slug string) string {
	for _, part := range strings.Split(strings.ToLower(slug), "-") {
		switch part {
		case "", "mcp", "server", "model", "context", "protocol":
			continue
		}
		return part
	}
	return ""
}
