package pipeline

import (
	"errors"
	"strings"

	"github.com/JakeFAU/mcp-directory-crawler/internal/batch"
	"github.com/JakeFAU/mcp-directory-crawler/internal/crawler"
	"github.com/JakeFAU/mcp-directory-crawler/internal/extract"
	"github.com/JakeFAU/mcp-directory-crawler/internal/github"
	"github.com/JakeFAU/mcp-directory-crawler/internal/reconcile"
)

// ErrNoName is returned by BuildRecord for fields without a name.
var ErrNoName = errors.New("record has no name")

// BuildRecord normalizes extracted fields into a persistable record. Derived
// values (slug, tags, category, external id, default install) are filled in
// where extraction left them blank.
func BuildRecord(f crawler.Fields) (crawler.Record, error) {
	name := extract.CleanText(f.Name)
	if name == "" {
		return crawler.Record{}, ErrNoName
	}
	description := extract.CleanText(f.Description)

	srv := crawler.Server{
		Slug:            recordSlug(f, name),
		Name:            name,
		Owner:           strings.TrimSpace(f.Owner),
		Description:     description,
		Category:        f.Category,
		Tags:            extract.NormalizeTags(f.Tags),
		Homepage:        normalizeLink(f.Homepage),
		Source:          normalizeLink(f.RepositoryURL),
		PackageRegistry: f.PackageRegistry,
		PackageName:     f.PackageName,
	}
	if len(srv.Tags) == 0 {
		srv.Tags = extract.DeriveTags(name, description)
	}
	if srv.Category == "" {
		srv.Category = extract.DetermineCategory(name, description)
	}
	if owner, repo, ok := github.ParseRepoURL(f.RepositoryURL); ok {
		srv.ExternalID = github.CanonicalURL(owner, repo)
		srv.Source = srv.ExternalID
		if srv.Owner == "" {
			srv.Owner = owner
		}
	}
	if f.Stats != nil {
		srv.Stars = f.Stats.Stars
		srv.Forks = f.Stats.Forks
		srv.OpenIssues = f.Stats.OpenIssues
		srv.Contributors = f.Stats.Contributors
		srv.LastRepoUpdate = f.Stats.LastUpdated
	}
	if f.Install != nil {
		srv.Install = *f.Install
	}
	if def := extract.DefaultInstall(f.PackageRegistry, f.PackageName); def != nil {
		for platform, cmd := range def.Platforms {
			srv.Install.Set(platform, cmd)
		}
		if len(srv.Install.CodeBlocks) == 0 {
			srv.Install.CodeBlocks = def.CodeBlocks
		}
	}
	if f.Verified != nil {
		srv.Verified = *f.Verified
	}

	rec := crawler.Record{Server: srv}
	if len(f.Tools) > 0 {
		rec.Tools = f.Tools
	}
	if len(f.Clients) > 0 {
		rec.Clients = f.Clients
	}
	return rec, nil
}

func recordSlug(f crawler.Fields, name string) string {
	switch {
	case f.Slug != "" && f.Owner != "":
		return extract.Slugify(f.Owner + "-" + f.Slug)
	case f.Slug != "":
		return extract.Slugify(f.Slug)
	default:
		return extract.Slugify(name)
	}
}

// OutcomeFor maps a reconcile action onto a batch outcome. Unchanged records
// count as skipped.
func OutcomeFor(action reconcile.Action) batch.Outcome {
	switch action {
	case reconcile.ActionInserted:
		return batch.OutcomeAdded
	case reconcile.ActionUpdated:
		return batch.OutcomeUpdated
	default:
		return batch.OutcomeSkipped
	}
}

// normalizeLink canonicalizes absolute links and keeps anything else as given.
func normalizeLink(raw string) string {
	raw = strings.TrimSpace(raw)
	if u, err := crawler.NormalizeURL(raw); err == nil {
		return u
	}
	return raw
}
