package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/mcp-directory-crawler/internal/app"
	"github.com/JakeFAU/mcp-directory-crawler/internal/batch"
	"github.com/JakeFAU/mcp-directory-crawler/internal/crawler"
)

// newCrawlCmd creates the 'crawl' subcommand, which walks directory pages
// section by section and reconciles each server into the catalog.
func newCrawlCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "crawl",
		Short: "Crawl directory pages for MCP servers",
		Long: `Crawls the overview, tools, and API pages of every configured target
(crawl.targets) or of every server linked from crawl.listing_url. Progress
per section is checkpointed so an interrupted run resumes where it stopped.
When PROCESS_READMES is set, GitHub READMEs are processed afterwards.`,
		RunE: runCrawlCommand,
	}
}

func runCrawlCommand(cmd *cobra.Command, _ []string) error {
	a, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	set, err := a.Targets(ctx)
	if err != nil {
		return fmt.Errorf("resolve targets: %w", err)
	}
	agg, err := a.Aggregator()
	if err != nil {
		return fmt.Errorf("build aggregator: %w", err)
	}
	a.Logger().Info("crawl starting", zap.Int("targets", len(set.Targets)))

	summary := batch.Process(ctx, a.CrawlDriver(), set.Targets, crawler.Target.Identity, a.Pipeline(agg).CrawlTarget)
	for _, w := range set.Warnings {
		summary.Note("listing discovery", w)
	}
	if err := summary.Render(cmd.OutOrStdout(), "Directory crawl"); err != nil {
		return err
	}
	return maybeProcessReadmes(cmd, a)
}

func maybeProcessReadmes(cmd *cobra.Command, a *app.App) error {
	cfg := a.Config()
	if !cfg.Crawl.ProcessReadmes {
		return nil
	}
	summary, err := a.ReadmeProcessor(false).Run(cmd.Context(), a.ReadmeDriver(), cfg.Crawl.ReadmeLimit)
	if err != nil {
		return fmt.Errorf("process readmes: %w", err)
	}
	return summary.Render(cmd.OutOrStdout(), "README processing")
}
