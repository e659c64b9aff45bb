package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/mcp-directory-crawler/internal/batch"
	"github.com/JakeFAU/mcp-directory-crawler/internal/sources/pulse"
)

func newSyncPulseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync-pulse",
		Short: "Sync servers from the PulseMCP directory API",
		Long: `Pages through the PulseMCP server listing, enriches each server with
GitHub repository stats, and reconciles it into the catalog in concurrent
chunks of crawl.concurrent_batch_size.`,
		RunE: runSyncPulseCommand,
	}
}

func runSyncPulseCommand(cmd *cobra.Command, _ []string) error {
	a, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	client, err := a.Pulse()
	if err != nil {
		return err
	}
	servers, listErr := client.Servers(ctx)
	if listErr != nil {
		a.Logger().Warn("pulse listing incomplete", zap.Int("servers", len(servers)), zap.Error(listErr))
	}

	summary := batch.Process(ctx, a.APIDriver(), servers, pulseName, a.Pipeline(nil).SyncServer)
	if listErr != nil {
		summary.Note("pulse listing", listErr)
	}
	if err := summary.Render(cmd.OutOrStdout(), "PulseMCP sync"); err != nil {
		return fmt.Errorf("render summary: %w", err)
	}
	return maybeProcessReadmes(cmd, a)
}

func pulseName(s pulse.Server) string {
	return s.Name
}
