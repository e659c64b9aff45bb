package github

import (
	"regexp"
	"strings"
)

var repoURLPattern = regexp.MustCompile(`(?i)github\.com[/:]([A-Za-z0-9_.-]+)/([A-Za-z0-9_.-]+)`)

// ParseRepoURL extracts owner and repository from https, ssh, or bare
// github.com URLs. A trailing ".git" is dropped.
func ParseRepoURL(raw string) (owner, repo string, ok bool) {
	m := repoURLPattern.FindStringSubmatch(strings.TrimSpace(raw))
	if m == nil {
		return "", "", false
	}
	owner, repo = m[1], strings.TrimSuffix(m[2], ".git")
	if owner == "" || repo == "" || repo == "." || repo == ".." {
		return "", "", false
	}
	return owner, repo, true
}

// CanonicalURL is the external identifier for a repository.
func CanonicalURL(owner, repo string) string {
	return "https://github.com/" + strings.ToLower(owner) + "/" + strings.ToLower(repo)
}

// RepoID is the lower-cased "owner/repo" form of a repository.
func RepoID(owner, repo string) string {
	return strings.ToLower(owner + "/" + repo)
}
