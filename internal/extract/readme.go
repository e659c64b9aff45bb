package extract

import (
	"regexp"
	"strings"

	"github.com/JakeFAU/mcp-directory-crawler/internal/crawler"
)

// ReadmeSection is one heading-delimited block of a markdown document. The
// content before the first heading is keyed "overview".
type ReadmeSection struct {
	Key     string
	Heading string
	Level   int
	Body    string
}

// Heading synonym sets used to locate well-known README sections.
var (
	InstallHeadings = []string{"installation", "install", "getting_started", "quickstart", "quick_start", "setup"}
	ToolHeadings    = []string{"tools", "available_tools", "features", "capabilities", "functions", "api", "commands"}
	ConfigHeadings  = []string{"configuration", "config", "usage", "usage_with_claude_desktop"}
)

var (
	atxHeading    = regexp.MustCompile(`^(#{1,6})\s+(.+?)\s*#*\s*$`)
	headingStrip  = regexp.MustCompile(`[^a-z0-9 ]+`)
	fencedBlock   = regexp.MustCompile("(?s)```[^\\n]*\\n(.*?)```")
	installLine   = regexp.MustCompile(`(?m)^\s*\$?\s*((?:npm install|npm i|npx|pip install|pipx install|uvx|docker run|cargo install|go install)\s+[^\n` + "`" + `]+)`)
	badgeOrImage  = regexp.MustCompile(`!\[[^\]]*\]\([^)]*\)|\[!\[[^\]]*\]\([^)]*\)\]\([^)]*\)|<img[^>]*>`)
	markdownLinks = regexp.MustCompile(`\[([^\]]+)\]\([^)]*\)`)
)

// NormalizeHeading maps "🚀 Getting Started!" to "getting_started".
func NormalizeHeading(h string) string {
	h = strings.ToLower(markdownLinks.ReplaceAllString(h, "$1"))
	h = headingStrip.ReplaceAllString(h, " ")
	return strings.Join(strings.Fields(h), "_")
}

// SplitSections splits markdown on ATX headings, ignoring "#" lines inside
// fenced code blocks.
func SplitSections(markdown string) []ReadmeSection {
	sections := []ReadmeSection{{Key: "overview"}}
	var body strings.Builder
	inFence := false
	flush := func() {
		sections[len(sections)-1].Body = strings.TrimSpace(body.String())
		body.Reset()
	}
	for _, line := range strings.Split(markdown, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			inFence = !inFence
		}
		if !inFence {
			if m := atxHeading.FindStringSubmatch(line); m != nil {
				flush()
				sections = append(sections, ReadmeSection{
					Key:     NormalizeHeading(m[2]),
					Heading: strings.TrimSpace(m[2]),
					Level:   len(m[1]),
				})
				continue
			}
		}
		body.WriteString(line)
		body.WriteByte('\n')
	}
	flush()
	return sections
}

// FindSection returns the first section whose key matches a synonym exactly,
// falling back to the first whose key contains one.
func FindSection(sections []ReadmeSection, synonyms []string) (ReadmeSection, bool) {
	for _, s := range sections {
		for _, syn := range synonyms {
			if s.Key == syn {
				return s, true
			}
		}
	}
	for _, s := range sections {
		if s.Key == "overview" {
			continue
		}
		for _, syn := range synonyms {
			if strings.Contains(s.Key, syn) {
				return s, true
			}
		}
	}
	return ReadmeSection{}, false
}

// CodeBlocks returns the contents of fenced code blocks in text.
func CodeBlocks(text string) []string {
	var blocks []string
	for _, m := range fencedBlock.FindAllStringSubmatch(text, -1) {
		if b := strings.TrimSpace(m[1]); b != "" {
			blocks = append(blocks, b)
		}
	}
	return blocks
}

// InstallFromReadme extracts install commands. It prefers code blocks in an
// installation section and falls back to scanning the whole document for
// well-known install command lines. Nil means nothing was found.
func InstallFromReadme(markdown string) *crawler.InstallInstructions {
	sections := SplitSections(markdown)
	install := crawler.EmptyInstall()

	if s, ok := FindSection(sections, InstallHeadings); ok {
		blocks := CodeBlocks(s.Body)
		for _, b := range blocks {
			install.Set(ClassifyCommand(b), firstCommand(b))
		}
		install.CodeBlocks = blocks
		for _, m := range installLine.FindAllStringSubmatch(s.Body, -1) {
			install.Set(ClassifyCommand(m[1]+" "), strings.TrimSpace(m[1]))
		}
	}
	if s, ok := FindSection(sections, ConfigHeadings); ok {
		for _, b := range CodeBlocks(s.Body) {
			if ClassifyCommand(b) == crawler.PlatformConfig {
				install.Set(crawler.PlatformConfig, b)
			}
		}
	}
	if install.IsEmpty() {
		for _, m := range installLine.FindAllStringSubmatch(markdown, -1) {
			install.Set(ClassifyCommand(m[1]+" "), strings.TrimSpace(m[1]))
		}
	}
	if install.IsEmpty() {
		return nil
	}
	return &install
}

// ParseReadme extracts description, install instructions, and tools from a
// README. prefix is the expected tool-name prefix (see ToolPrefix).
func ParseReadme(markdown, prefix string) crawler.Fields {
	sections := SplitSections(markdown)
	f := crawler.Fields{
		Description: readmeDescription(sections),
		Install:     InstallFromReadme(markdown),
	}
	if s, ok := FindSection(sections, ToolHeadings); ok {
		f.Tools = ToolsFromText(sectionWithChildren(sections, s), prefix)
	}
	if len(f.Tools) == 0 {
		f.Tools = ToolsFromText(markdown, prefix)
	}
	return f
}

// readmeDescription is the first prose paragraph, skipping badges and images.
func readmeDescription(sections []ReadmeSection) string {
	for _, s := range sections {
		for _, para := range strings.Split(s.Body, "\n\n") {
			para = badgeOrImage.ReplaceAllString(para, "")
			para = markdownLinks.ReplaceAllString(para, "$1")
			para = CleanText(para)
			if len(para) < 20 || strings.HasPrefix(para, "```") || strings.HasPrefix(para, "<") ||
				strings.HasPrefix(para, "|") || strings.HasPrefix(para, ">") {
				continue
			}
			return para
		}
	}
	return ""
}

// sectionWithChildren joins s with the deeper-level sections that follow it.
func sectionWithChildren(sections []ReadmeSection, s ReadmeSection) string {
	var b strings.Builder
	collecting := false
	for _, cur := range sections {
		if !collecting {
			if cur.Key == s.Key && cur.Heading == s.Heading {
				collecting = true
				b.WriteString(cur.Body)
				b.WriteString("\n")
			}
			continue
		}
		if cur.Level <= s.Level {
			break
		}
		b.WriteString(strings.Repeat("#", cur.Level) + " " + cur.Heading + "\n")
		b.WriteString(cur.Body)
		b.WriteString("\n")
	}
	return b.String()
}

func firstCommand(block string) string {
	if ClassifyCommand(block) == crawler.PlatformConfig {
		return block
	}
	for _, line := range strings.Split(block, "\n") {
		line = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), "$"))
		if line != "" && !strings.HasPrefix(line, "#") && !strings.HasPrefix(line, "//") {
			return line
		}
	}
	return ""
}
