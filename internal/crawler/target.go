package crawler

import (
	"fmt"
	"net/url"
	"strings"
)

// Target identifies one directory entry to crawl.
type Target struct {
	Owner string
	Slug  string
	URLs  map[Section]string
}

// Identity returns the stable key used for checkpoints and logging.
func (t Target) Identity() string {
	if t.Owner == "" {
		return t.Slug
	}
	return t.Owner + "-" + t.Slug
}

// URL returns the page URL for a section, or "" when the section is absent.
func (t Target) URL(section Section) string {
	return t.URLs[section]
}

// Validate rejects targets without a slug or with malformed section URLs.
func (t Target) Validate() error {
	if strings.TrimSpace(t.Slug) == "" {
		return fmt.Errorf("%w: slug is required", ErrInvalidTarget)
	}
	if len(t.URLs) == 0 {
		return fmt.Errorf("%w: %s has no section urls", ErrInvalidTarget, t.Identity())
	}
	for section, raw := range t.URLs {
		u, err := url.Parse(raw)
		if err != nil || !u.IsAbs() || u.Host == "" {
			return fmt.Errorf("%w: %s url %q", ErrInvalidTarget, section, raw)
		}
	}
	return nil
}

// TabLayout describes how a directory exposes the sections of an entry.
// ServerURLTemplate contains {owner} and {slug} placeholders.
type TabLayout struct {
	ServerURLTemplate string
	ToolsSuffix       string
	APISuffix         string
}

// Target builds a target for owner/slug according to the layout.
func (l TabLayout) Target(owner, slug string) (Target, error) {
	if strings.TrimSpace(slug) == "" {
		return Target{}, fmt.Errorf("%w: slug is required", ErrInvalidTarget)
	}
	tmpl := l.ServerURLTemplate
	if owner == "" {
		tmpl = strings.Replace(tmpl, "{owner}/", "", 1)
	}
	base := strings.NewReplacer("{owner}", url.PathEscape(owner), "{slug}", url.PathEscape(slug)).
		Replace(tmpl)
	t := Target{
		Owner: owner,
		Slug:  slug,
		URLs: map[Section]string{
			SectionOverview: base,
			SectionTools:    base + l.ToolsSuffix,
			SectionAPI:      base + l.APISuffix,
		},
	}
	if err := t.Validate(); err != nil {
		return Target{}, err
	}
	return t, nil
}

// Ref extracts owner and slug from a page URL produced by the layout,
// including its tools and api pages. Links outside the layout are rejected.
func (l TabLayout) Ref(rawURL string) (owner, slug string, ok bool) {
	cut := strings.Index(l.ServerURLTemplate, "{")
	if cut < 0 {
		return "", "", false
	}
	prefix, err := url.Parse(l.ServerURLTemplate[:cut])
	if err != nil {
		return "", "", false
	}
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || !strings.EqualFold(u.Host, prefix.Host) || !strings.HasPrefix(u.Path, prefix.Path) {
		return "", "", false
	}
	rest := strings.Trim(strings.TrimPrefix(u.Path, prefix.Path), "/")
	for _, suffix := range []string{l.ToolsSuffix, l.APISuffix} {
		if s := strings.Trim(suffix, "/"); s != "" {
			rest = strings.TrimSuffix(rest, "/"+s)
		}
	}
	if unescaped, err := url.PathUnescape(rest); err == nil {
		rest = unescaped
	}
	owner, slug, err = ParseTargetRef(rest)
	if err != nil {
		return "", "", false
	}
	if !strings.Contains(l.ServerURLTemplate, "{owner}") && owner != "" {
		return "", "", false
	}
	return owner, slug, true
}

// ParseTargetRef splits "owner/slug" (or a bare "slug") into its parts.
func ParseTargetRef(ref string) (owner, slug string, err error) {
	ref = strings.Trim(strings.TrimSpace(ref), "/")
	if ref == "" {
		return "", "", fmt.Errorf("%w: empty reference", ErrInvalidTarget)
	}
	parts := strings.Split(ref, "/")
	switch len(parts) {
	case 1:
		return "", parts[0], nil
	case 2:
		if parts[0] == "" || parts[1] == "" {
			return "", "", fmt.Errorf("%w: %q", ErrInvalidTarget, ref)
		}
		return parts[0], parts[1], nil
	default:
		return "", "", fmt.Errorf("%w: %q", ErrInvalidTarget, ref)
	}
}
