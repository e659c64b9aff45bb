package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newProcessReadmesCmd() *cobra.Command {
	var (
		dryRun bool
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "process-readmes",
		Short: "Fill descriptions, install steps, and tools from GitHub READMEs",
		Long: `Loads servers whose README has not been processed yet, fetches each
README from GitHub (main, then master), and merges the description, install
instructions, and tools it documents. With --dryrun nothing is written.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("limit") {
				limit = a.Config().Crawl.ReadmeLimit
			}
			summary, err := a.ReadmeProcessor(dryRun).Run(cmd.Context(), a.ReadmeDriver(), limit)
			if err != nil {
				return fmt.Errorf("process readmes: %w", err)
			}
			title := "README processing"
			if dryRun {
				title += " (dry run)"
			}
			return summary.Render(cmd.OutOrStdout(), title)
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dryrun", false, "parse READMEs and report without writing")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum servers to process (default crawl.readme_limit, 0 for all)")
	return cmd
}
