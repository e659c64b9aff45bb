package pipeline

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/mcp-directory-crawler/internal/batch"
	"github.com/JakeFAU/mcp-directory-crawler/internal/clock/system"
	"github.com/JakeFAU/mcp-directory-crawler/internal/crawler"
	"github.com/JakeFAU/mcp-directory-crawler/internal/extract"
	"github.com/JakeFAU/mcp-directory-crawler/internal/github"
	"github.com/JakeFAU/mcp-directory-crawler/internal/logging"
	"github.com/JakeFAU/mcp-directory-crawler/internal/reconcile"
)

// Readmes fetches repository READMEs.
type Readmes interface {
	Readme(ctx context.Context, owner, repo string) (string, error)
}

// Updater writes diffed changes to an existing server.
type Updater interface {
	Update(ctx context.Context, existing crawler.Server, rec crawler.Record) (reconcile.Result, error)
}

// ReadmeProcessor fills descriptions, install instructions, and tools of
// persisted servers from their GitHub READMEs.
type ReadmeProcessor struct {
	store   crawler.Store
	readmes Readmes
	updater Updater
	clock   crawler.Clock
	dryRun  bool
	logger  *zap.Logger
}

// NewReadmeProcessor builds a ReadmeProcessor. With dryRun set nothing is
// written.
func NewReadmeProcessor(store crawler.Store, readmes Readmes, updater Updater, clock crawler.Clock, dryRun bool, logger *zap.Logger) *ReadmeProcessor {
	if clock == nil {
		clock = system.New()
	}
	return &ReadmeProcessor{
		store:   store,
		readmes: readmes,
		updater: updater,
		clock:   clock,
		dryRun:  dryRun,
		logger:  logging.OrNop(logger).Named("readme"),
	}
}

// Pending lists up to limit servers whose README was never processed.
func (p *ReadmeProcessor) Pending(ctx context.Context, limit int) ([]crawler.Server, error) {
	servers, err := p.store.ListServersWithoutReadme(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending readmes: %w", err)
	}
	return servers, nil
}

// Run processes pending servers through the batch driver.
func (p *ReadmeProcessor) Run(ctx context.Context, driver *batch.Driver, limit int) (*batch.Summary, error) {
	servers, err := p.Pending(ctx, limit)
	if err != nil {
		return nil, err
	}
	return batch.Process(ctx, driver, servers,
		func(s crawler.Server) string { return s.Slug },
		p.ProcessServer), nil
}

// ProcessServer parses the README of srv and writes what it adds. Servers
// without a GitHub repository or README are marked processed so they are
// not retried.
func (p *ReadmeProcessor) ProcessServer(ctx context.Context, srv crawler.Server) (batch.Outcome, error) {
	now := p.clock.Now()
	candidate := crawler.Server{ReadmeProcessedAt: &now}

	owner, repo, ok := github.ParseRepoURL(srv.ExternalID)
	if !ok {
		owner, repo, ok = github.ParseRepoURL(srv.Source)
	}
	if !ok {
		p.logger.Debug("no repository, marking processed", zap.String("slug", srv.Slug))
		return p.write(ctx, srv, crawler.Record{Server: candidate})
	}

	markdown, err := p.readmes.Readme(ctx, owner, repo)
	if errors.Is(err, crawler.ErrNotFound) {
		p.logger.Info("readme not found", zap.String("slug", srv.Slug), zap.String("repo", owner+"/"+repo))
		return p.write(ctx, srv, crawler.Record{Server: candidate})
	}
	if err != nil {
		return "", fmt.Errorf("fetch readme %s/%s: %w", owner, repo, err)
	}

	parsed := extract.ParseReadme(markdown, extract.ToolPrefix(srv.Slug))
	if srv.Description == "" {
		candidate.Description = parsed.Description
	}
	if parsed.Install != nil {
		install := crawler.EmptyInstall()
		for platform, cmd := range srv.Install.Platforms {
			install.Set(platform, cmd)
		}
		for platform, cmd := range parsed.Install.Platforms {
			install.Set(platform, cmd)
		}
		install.CodeBlocks = srv.Install.CodeBlocks
		if len(install.CodeBlocks) == 0 {
			install.CodeBlocks = parsed.Install.CodeBlocks
		}
		candidate.Install = install
	}

	rec := crawler.Record{Server: candidate}
	if len(parsed.Tools) > 0 {
		existing, err := p.store.ListTools(ctx, srv.ID)
		if err != nil {
			return "", fmt.Errorf("list tools %s: %w", srv.ID, err)
		}
		if len(existing) == 0 {
			rec.Tools = parsed.Tools
		}
	}

	p.logger.Info("readme parsed",
		zap.String("slug", srv.Slug),
		zap.Bool("description", candidate.Description != ""),
		zap.Bool("install", !candidate.Install.IsEmpty()),
		zap.Int("tools", len(rec.Tools)),
	)
	return p.write(ctx, srv, rec)
}

func (p *ReadmeProcessor) write(ctx context.Context, srv crawler.Server, rec crawler.Record) (batch.Outcome, error) {
	if p.dryRun {
		p.logger.Info("dry run, skipping write", zap.String("slug", srv.Slug))
		return batch.OutcomeSkipped, nil
	}
	res, err := p.updater.Update(ctx, srv, rec)
	if err != nil {
		return "", fmt.Errorf("update %s: %w", srv.Slug, err)
	}
	for _, cerr := range res.ChildErrors {
		p.logger.Warn("readme child write failed", zap.String("slug", srv.Slug), zap.Error(cerr))
	}
	return OutcomeFor(res.Action), nil
}
