package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/BenjaminSRussell/siteaudit/internal/storage"
	"github.com/BenjaminSRussell/siteaudit/internal/types"
)

func newReportCmd() *cobra.Command {
	var (
		dbPath  string
		dataDir string
		crawlID string
		filter  storage.PageFilter
	)

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Print stored page results as JSON lines",
		Long: `Read results written by a previous crawl, from a SQLite database (--db) or a
results directory (--data-dir), and print the matching pages as JSON lines.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if dbPath != "" {
				return reportSQLite(cmd, dbPath, crawlID, filter)
			}
			return reportDataDir(cmd, dataDir, filter)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&dbPath, "db", "", "SQLite database written by crawl or serve")
	flags.StringVar(&dataDir, "data-dir", "", "Directory holding results.jsonl")
	flags.StringVar(&crawlID, "crawl", "", "Crawl id in the database (default: latest)")
	flags.BoolVar(&filter.FailedOnly, "failed", false, "Only pages that failed")
	flags.BoolVar(&filter.MissingAlt, "missing-alt", false, "Only pages with images missing alt text")
	flags.IntVar(&filter.StatusCode, "status", 0, "Only pages with this status code")
	cmd.MarkFlagsOneRequired("db", "data-dir")
	cmd.MarkFlagsMutuallyExclusive("db", "data-dir")

	return cmd
}

func reportSQLite(cmd *cobra.Command, dbPath, crawlID string, filter storage.PageFilter) error {
	store, err := storage.NewSQLiteStorage(dbPath)
	if err != nil {
		return err
	}
	defer store.Close()

	if crawlID == "" {
		if crawlID, err = store.LatestCrawl(); err != nil {
			return err
		}
	}

	stats, err := store.GetStats(crawlID)
	if err != nil {
		return fmt.Errorf("failed to read crawl stats: %w", err)
	}
	pages, err := store.QueryPages(crawlID, filter)
	if err != nil {
		return fmt.Errorf("failed to query pages: %w", err)
	}

	fmt.Fprintf(cmd.ErrOrStderr(), "Crawl %s: pages=%d ok=%d failed=%d redirects=%d missing_alt=%d\n",
		crawlID, stats.TotalPages, stats.SuccessfulPages, stats.FailedPages, stats.Redirects, stats.MissingAltPages)
	return writePages(cmd.OutOrStdout(), pages)
}

func reportDataDir(cmd *cobra.Command, dataDir string, filter storage.PageFilter) error {
	results, err := storage.LoadResults(dataDir)
	if err != nil {
		return err
	}

	if target, err := storage.LoadTarget(dataDir); err == nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "Seed: %s\n", target.BaseURL)
	}

	pages := make([]types.PageResult, 0, len(results))
	for _, r := range results {
		if filter.StatusCode != 0 && r.StatusCode != filter.StatusCode {
			continue
		}
		if filter.FailedOnly && !r.Failed() {
			continue
		}
		if filter.MissingAlt && len(r.ImagesWithoutAlt) == 0 {
			continue
		}
		pages = append(pages, r)
	}

	fmt.Fprintf(cmd.ErrOrStderr(), "Pages: %d of %d\n", len(pages), len(results))
	return writePages(cmd.OutOrStdout(), pages)
}

func writePages(w io.Writer, pages []types.PageResult) error {
	enc := json.NewEncoder(w)
	for _, p := range pages {
		if err := enc.Encode(p); err != nil {
			return err
		}
	}
	return nil
}
