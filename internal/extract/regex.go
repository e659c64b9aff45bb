package extract

import (
	"regexp"
	"strings"

	"github.com/JakeFAU/mcp-directory-crawler/internal/crawler"
)

var (
	funcDeclPattern = regexp.MustCompile(`\bfunction\s+([A-Za-z_][A-Za-z0-9_]*)\s*\(`)
	tableRowPattern = regexp.MustCompile("(?m)^\\s*\\|\\s*`?([A-Za-z_][A-Za-z0-9_-]*)`?\\s*\\|\\s*([^|\\n]*?)\\s*\\|")
	labelPattern    = regexp.MustCompile("(?i)\\*\\*(?:tool|function)(?:\\s+name)?:?\\*\\*:?\\s*`?([A-Za-z_][A-Za-z0-9_-]*)`?(?:\\s*[-:]\\s*([^\\n]+))?")
	bulletPattern   = regexp.MustCompile("(?m)^\\s*(?:[-*+]|\\d+\\.)\\s+(?:\\*\\*)?`([a-z][a-z0-9_]*[a-z0-9])`(?:\\*\\*)?\\s*(?:[-:–—]\\s*(.+))?$")
	headingPattern  = regexp.MustCompile("(?m)^#{3,4}\\s+`?([a-z][a-z0-9]*(?:_[a-z0-9]+)+)`?\\s*$")
)

// textNoise holds words the free-text patterns pick up from prose, tables and
// code samples. Structured sources are not filtered against it.
var textNoise = map[string]struct{}{
	"name": {}, "tool": {}, "tools": {}, "functions": {},
	"description": {}, "parameters": {}, "params": {}, "param": {}, "type": {},
	"examples": {}, "tests": {}, "usage": {}, "returns": {}, "return": {},
	"string": {}, "number": {}, "boolean": {}, "object": {}, "array": {},
	"true": {}, "false": {}, "null": {}, "none": {}, "required": {}, "optional": {},
	"default": {}, "value": {}, "input": {}, "output": {}, "result": {},
	"install": {}, "config": {}, "server": {}, "client": {}, "const": {},
	"async": {}, "await": {}, "import": {}, "export": {}, "from": {},
}

// ToolsFromText scans free text (markdown or page text) for tool names using
// several patterns: names carrying the server's snake_case prefix, function
// declarations, markdown table rows, bold "Tool:" labels, backticked bullet
// items, and snake_case headings. Common prose and code words are dropped
// before FilterToolNames runs.
func ToolsFromText(text, prefix string) []crawler.Tool {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	var found []crawler.Tool
	add := func(name, desc string) {
		if _, noise := textNoise[strings.ToLower(strings.Trim(name, "`* "))]; noise {
			return
		}
		found = append(found, crawler.Tool{Name: name, Description: desc})
	}

	for _, m := range bulletPattern.FindAllStringSubmatch(text, -1) {
		add(m[1], m[2])
	}
	for _, m := range tableRowPattern.FindAllStringSubmatch(text, -1) {
		if isTableHeader(m[1], m[2]) {
			continue
		}
		add(m[1], m[2])
	}
	for _, m := range labelPattern.FindAllStringSubmatch(text, -1) {
		add(m[1], m[2])
	}
	for _, m := range headingPattern.FindAllStringSubmatch(text, -1) {
		add(m[1], "")
	}
	for _, m := range funcDeclPattern.FindAllStringSubmatch(text, -1) {
		add(m[1], "")
	}
	if prefix != "" {
		prefixPattern := regexp.MustCompile(`(?i)\b(` + regexp.QuoteMeta(prefix) + `_[a-z0-9_]*[a-z0-9])\b`)
		for _, m := range prefixPattern.FindAllStringSubmatch(text, -1) {
			add(strings.ToLower(m[1]), "")
		}
	}
	return FilterToolNames(found)
}

func isTableHeader(first, second string) bool {
	f := strings.ToLower(strings.Trim(first, "-: "))
	s := strings.ToLower(strings.Trim(second, "-: "))
	if f == "" {
		return true
	}
	switch f {
	case "name", "tool", "tools", "function", "command", "parameter":
		return true
	}
	return s == "description"
}
