// Package pipeline wires extraction, enrichment, and reconciliation into the
// per-target functions run by the batch driver.
package pipeline

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/mcp-directory-crawler/internal/batch"
	"github.com/JakeFAU/mcp-directory-crawler/internal/crawler"
	"github.com/JakeFAU/mcp-directory-crawler/internal/github"
	"github.com/JakeFAU/mcp-directory-crawler/internal/logging"
	"github.com/JakeFAU/mcp-directory-crawler/internal/reconcile"
	"github.com/JakeFAU/mcp-directory-crawler/internal/sources/pulse"
)

// Aggregator crawls every section of a target.
type Aggregator interface {
	CrawlTarget(ctx context.Context, target crawler.Target) (crawler.Fields, error)
}

// Applier reconciles a record with the datastore.
type Applier interface {
	Apply(ctx context.Context, rec crawler.Record) (reconcile.Result, error)
}

// RepoStats looks up repository counters.
type RepoStats interface {
	Stats(ctx context.Context, owner, repo string) (github.Repository, crawler.RepoStats, error)
}

// Pipeline processes directory targets and API listings.
type Pipeline struct {
	agg     Aggregator
	applier Applier
	repos   RepoStats
	logger  *zap.Logger
}

// New builds a Pipeline. agg may be nil for API-only sources and repos may
// be nil to skip GitHub enrichment.
func New(agg Aggregator, applier Applier, repos RepoStats, logger *zap.Logger) *Pipeline {
	return &Pipeline{agg: agg, applier: applier, repos: repos, logger: logging.OrNop(logger).Named("pipeline")}
}

// CrawlTarget extracts, enriches, and reconciles one directory target.
func (p *Pipeline) CrawlTarget(ctx context.Context, target crawler.Target) (batch.Outcome, error) {
	if p.agg == nil {
		return "", fmt.Errorf("crawl %s: no aggregator configured", target.Identity())
	}
	fields, err := p.agg.CrawlTarget(ctx, target)
	if err != nil {
		return "", fmt.Errorf("crawl %s: %w", target.Identity(), err)
	}
	return p.process(ctx, target.Identity(), fields)
}

// SyncServer reconciles one PulseMCP listing entry.
func (p *Pipeline) SyncServer(ctx context.Context, s pulse.Server) (batch.Outcome, error) {
	return p.process(ctx, s.Name, s.Fields())
}

func (p *Pipeline) process(ctx context.Context, id string, fields crawler.Fields) (batch.Outcome, error) {
	p.enrich(ctx, &fields)
	rec, err := BuildRecord(fields)
	if err != nil {
		return "", fmt.Errorf("build record %s: %w", id, err)
	}
	res, err := p.applier.Apply(ctx, rec)
	if err != nil {
		return "", fmt.Errorf("reconcile %s: %w", id, err)
	}
	if len(res.ChildErrors) > 0 {
		p.logger.Warn("record written with child failures",
			zap.String("target", id),
			zap.String("id", res.ID),
			zap.Errors("errors", res.ChildErrors),
		)
	}
	return OutcomeFor(res.Action), nil
}

// enrich replaces repository counters with live GitHub values and fills
// blank descriptive fields from the repository.
func (p *Pipeline) enrich(ctx context.Context, f *crawler.Fields) {
	if p.repos == nil {
		return
	}
	owner, repo, ok := github.ParseRepoURL(f.RepositoryURL)
	if !ok {
		return
	}
	r, stats, err := p.repos.Stats(ctx, owner, repo)
	if errors.Is(err, crawler.ErrNotFound) {
		p.logger.Debug("repository not found", zap.String("repo", owner+"/"+repo))
		return
	}
	if err != nil {
		p.logger.Warn("repository lookup failed", zap.String("repo", owner+"/"+repo), zap.Error(err))
		return
	}
	f.Stats = &stats
	f.Merge(crawler.Fields{Description: r.Description, Homepage: r.Homepage, Tags: r.Topics})
}
