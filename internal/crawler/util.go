package crawler

import (
	"regexp"
	"strings"
)

var invalidFilenameChars = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// SafeName maps an identity onto a string usable as a file name.
func SafeName(id string) string {
	name := strings.Trim(invalidFilenameChars.ReplaceAllString(id, "_"), "._")
	if name == "" {
		return "_"
	}
	return name
}

func normalizeKey(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
