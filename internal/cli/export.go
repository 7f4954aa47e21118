package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/BenjaminSRussell/siteaudit/internal/export"
)

func newExportCmd() *cobra.Command {
	config := export.SitemapConfig{}

	cmd := &cobra.Command{
		Use:   "export-sitemap",
		Short: "Export crawl results to sitemap",
		Long:  `Export successfully crawled URLs from a results directory to XML sitemap format`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			count, err := export.ExportSitemap(config)
			if err != nil {
				return fmt.Errorf("export failed: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Successfully exported %d URLs to %s\n", count, config.OutputFile)
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&config.DataDir, "data-dir", "./data", "Directory holding results.jsonl")
	flags.StringVar(&config.OutputFile, "output", "sitemap.xml", "Output file path")
	flags.BoolVar(&config.IncludeLastmod, "include-lastmod", true, "Include lastmod in sitemap")
	flags.StringVar(&config.Changefreq, "changefreq", "", "Changefreq value for every entry")
	flags.Float64Var(&config.DefaultPriority, "default-priority", 0.5, "Default priority value")
	return cmd
}
