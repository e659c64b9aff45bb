// Package aggregator crawls the sections of one target through ordered
// extraction chains and merges the results into a single partial record,
// checkpointing each completed section so interrupted crawls resume.
package aggregator

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/mcp-directory-crawler/internal/crawler"
	"github.com/JakeFAU/mcp-directory-crawler/internal/extract"
	"github.com/JakeFAU/mcp-directory-crawler/internal/logging"
	"github.com/JakeFAU/mcp-directory-crawler/internal/metrics"
)

// Chains maps each section to its extraction strategies in priority order.
type Chains map[crawler.Section][]crawler.Extractor

// DefaultChains uses the structured strategy first everywhere and falls back
// to DOM patterns for tools only. A nil primary leaves the fallback as the
// sole strategy.
func DefaultChains(primary, toolsFallback crawler.Extractor) Chains {
	chain := func(es ...crawler.Extractor) []crawler.Extractor {
		out := make([]crawler.Extractor, 0, len(es))
		for _, e := range es {
			if e != nil {
				out = append(out, e)
			}
		}
		return out
	}
	return Chains{
		crawler.SectionOverview: chain(primary),
		crawler.SectionTools:    chain(primary, toolsFallback),
		crawler.SectionAPI:      chain(primary),
	}
}

// Aggregator runs extraction chains for targets.
type Aggregator struct {
	chains      Chains
	checkpoints crawler.CheckpointStore
	logger      *zap.Logger
	refresh     bool
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithRefresh ignores saved checkpoints and re-extracts every section. Fresh
// results still overwrite the checkpoint.
func WithRefresh(refresh bool) Option {
	return func(a *Aggregator) { a.refresh = refresh }
}

// New builds an Aggregator. A nil checkpoint store disables resumption.
func New(chains Chains, checkpoints crawler.CheckpointStore, logger *zap.Logger, opts ...Option) *Aggregator {
	a := &Aggregator{
		chains:      chains,
		checkpoints: checkpoints,
		logger:      logging.OrNop(logger).Named("aggregator"),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// CrawlTarget extracts every section of target and returns the merged
// record. It fails with *crawler.ExtractionFailure only when no name can be
// found or derived, and with crawler.ErrInvalidTarget for malformed targets.
func (a *Aggregator) CrawlTarget(ctx context.Context, target crawler.Target) (crawler.Fields, error) {
	if err := target.Validate(); err != nil {
		return crawler.Fields{}, err
	}
	id := target.Identity()
	log := a.logger.With(zap.String("target", id))

	cp := a.loadCheckpoint(ctx, id, log)
	var (
		record crawler.Fields
		texts  = map[crawler.Section]string{}
	)
	for _, section := range crawler.Sections {
		if err := ctx.Err(); err != nil {
			return crawler.Fields{}, fmt.Errorf("crawl %s: %w", id, err)
		}
		url := target.URL(section)
		if url == "" {
			continue
		}
		if saved := cp.Section(section); saved != nil {
			log.Debug("section restored from checkpoint", zap.String("section", string(section)))
			record.Merge(*saved)
			texts[section] = saved.Text
			metrics.ObserveSection(string(section), "checkpoint", crawler.StatusOK.String())
			continue
		}

		fields, completed := a.runSection(ctx, log, crawler.ExtractInput{Target: target, Section: section, URL: url})
		record.Merge(fields)
		texts[section] = fields.Text
		if completed {
			a.saveCheckpoint(ctx, id, section, fields, log)
		}
	}

	if record.Name == "" {
		record.Name = extract.NameFromSlug(target.Slug)
	}
	if record.Name == "" {
		return crawler.Fields{}, &crawler.ExtractionFailure{Target: id, Partial: record}
	}
	if record.Slug == "" {
		record.Slug = target.Slug
	}
	if record.Owner == "" {
		record.Owner = target.Owner
	}

	free := strings.TrimSpace(texts[crawler.SectionOverview] + "\n\n" + texts[crawler.SectionAPI])
	if free != "" {
		recoverFromText(&record, free, target.Slug, log)
	}
	return record, nil
}

// recoverFromText fills tools and install commands that no strategy produced
// by scanning the overview and api page text.
func recoverFromText(record *crawler.Fields, text, slug string, log *zap.Logger) {
	if len(record.Tools) == 0 {
		record.Tools = extract.ToolsFromText(text, extract.ToolPrefix(slug))
		if len(record.Tools) > 0 {
			log.Info("tools recovered from page text", zap.Int("tools", len(record.Tools)))
			metrics.ObserveSection(string(crawler.SectionTools), "text_fallback", crawler.StatusOK.String())
		}
	}
	if record.Install == nil || record.Install.IsEmpty() {
		if install := extract.InstallFromReadme(text); install != nil {
			record.Install = install
			log.Info("install commands recovered from page text")
			metrics.ObserveSection(string(crawler.SectionAPI), "text_fallback", crawler.StatusOK.String())
		}
	}
}

// runSection walks the section's chain until the fields the section is
// responsible for are present. completed is false when every strategy failed,
// which leaves the section to be retried on the next run.
func (a *Aggregator) runSection(ctx context.Context, log *zap.Logger, in crawler.ExtractInput) (crawler.Fields, bool) {
	var (
		fields    crawler.Fields
		completed bool
	)
	chain := a.chains[in.Section]
	for _, e := range chain {
		res := safeExtract(ctx, e, in)
		metrics.ObserveSection(string(in.Section), e.Name(), res.Status.String())
		switch res.Status {
		case crawler.StatusFailed:
			log.Warn("section strategy failed",
				zap.String("section", string(in.Section)),
				zap.String("strategy", e.Name()),
				zap.Error(res.Err),
			)
			continue
		case crawler.StatusEmpty:
			log.Info("section strategy found nothing",
				zap.String("section", string(in.Section)),
				zap.String("strategy", e.Name()),
			)
		}
		completed = true
		fields.Merge(res.Fields)
		if satisfied(in.Section, fields) {
			break
		}
	}
	if len(chain) == 0 {
		completed = true
	}
	return fields, completed
}

// satisfied reports whether fields already carry what the section is sought for.
func satisfied(section crawler.Section, f crawler.Fields) bool {
	switch section {
	case crawler.SectionOverview:
		return f.Name != "" && f.Description != ""
	case crawler.SectionTools:
		return len(f.Tools) > 0
	case crawler.SectionAPI:
		return (f.Install != nil && !f.Install.IsEmpty()) || len(f.Clients) > 0
	default:
		return !f.IsEmpty()
	}
}

func safeExtract(ctx context.Context, e crawler.Extractor, in crawler.ExtractInput) (res crawler.Result) {
	defer func() {
		if r := recover(); r != nil {
			res = crawler.Failed(fmt.Errorf("%s extractor panicked: %v", e.Name(), r))
		}
	}()
	return e.Extract(ctx, in)
}

func (a *Aggregator) loadCheckpoint(ctx context.Context, id string, log *zap.Logger) crawler.Checkpoint {
	if a.checkpoints == nil || a.refresh {
		return crawler.Checkpoint{}
	}
	cp, ok, err := a.checkpoints.Load(ctx, id)
	if err != nil {
		log.Warn("checkpoint unreadable, starting fresh", zap.Error(err))
		return crawler.Checkpoint{}
	}
	if !ok {
		return crawler.Checkpoint{}
	}
	return cp
}

func (a *Aggregator) saveCheckpoint(ctx context.Context, id string, section crawler.Section, fields crawler.Fields, log *zap.Logger) {
	if a.checkpoints == nil {
		return
	}
	if err := a.checkpoints.SaveSection(ctx, id, section, fields); err != nil {
		log.Warn("checkpoint write failed", zap.String("section", string(section)), zap.Error(err))
	}
}
