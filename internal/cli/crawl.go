package cli

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/BenjaminSRussell/siteaudit/internal/config"
	"github.com/BenjaminSRussell/siteaudit/internal/crawler"
	"github.com/BenjaminSRussell/siteaudit/internal/progress"
	"github.com/BenjaminSRussell/siteaudit/internal/storage"
	"github.com/BenjaminSRussell/siteaudit/internal/types"
)

func newCrawlCmd(root *rootOptions) *cobra.Command {
	var (
		target       types.CrawlTarget
		concurrency  int
		maxDepth     int
		dataDir      string
		dbPath       string
		ignoreRobots bool
	)

	cmd := &cobra.Command{
		Use:   "crawl <url>",
		Short: "Crawl a site and stream page results as JSON lines",
		Long: `Crawl every in-scope page reachable from the given URL, breadth-first,
printing one JSON event per page to stdout followed by {"status":"Completed"}.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := root.setup(cmd)
			if err != nil {
				return err
			}

			flags := cmd.Flags()
			if flags.Changed("concurrency") {
				cfg.Crawl.Concurrency = concurrency
			}
			if flags.Changed("max-depth") {
				cfg.Crawl.MaxDepth = maxDepth
			}
			if flags.Changed("ignore-robots") {
				cfg.Robots.Ignore = ignoreRobots
			}
			if flags.Changed("data-dir") {
				cfg.Storage.DataDir = dataDir
			}
			if flags.Changed("db") {
				cfg.Storage.SQLitePath = dbPath
			}

			target.BaseURL = args[0]
			if _, err := crawler.ValidateTarget(target.BaseURL); err != nil {
				return err
			}

			c, err := crawler.New(cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to create crawler: %w", err)
			}

			sinks := []progress.Sink{progress.NewJSONLinesSink(cmd.OutOrStdout())}

			if cfg.Storage.DataDir != "" {
				store, err := storage.New(cfg.Storage.DataDir)
				if err != nil {
					return err
				}
				defer store.Close()
				if err := store.SaveTarget(target); err != nil {
					return err
				}
				sinks = append(sinks, store)
			}

			var (
				db      *storage.SQLiteStorage
				crawlID string
			)
			if cfg.Storage.SQLitePath != "" {
				db, err = storage.NewSQLiteStorage(cfg.Storage.SQLitePath)
				if err != nil {
					return err
				}
				defer db.Close()
				if crawlID, err = db.BeginCrawl(target); err != nil {
					return err
				}
				sinks = append(sinks, db.Sink(crawlID))
			}

			results, err := runCrawl(cmd.Context(), c, cfg, logger, target, sinks)
			if err != nil {
				return fmt.Errorf("crawl failed: %w", err)
			}
			if db != nil {
				if err := db.FinishCrawl(crawlID, results); err != nil {
					logger.WithError(err).Warn("failed to record crawl totals")
				}
			}

			fmt.Fprintf(cmd.ErrOrStderr(), "Discovered: %d, Processed: %d, Errors: %d\n",
				results.Discovered, results.Processed, results.Errors)
			return nil
		},
	}

	flags := cmd.Flags()
	flags.BoolVar(&target.CheckAltText, "alt", false, "Report images without alt text")
	flags.StringVar(&target.SearchTerm, "search", "", "Case-sensitive term to look for on each page")
	flags.IntVar(&concurrency, "concurrency", config.DefaultConcurrency, "Pages fetched per wave")
	flags.IntVar(&maxDepth, "max-depth", 0, "Maximum link depth from the start page (0 = unlimited)")
	flags.StringVar(&dataDir, "data-dir", "", "Also append results to <dir>/results.jsonl")
	flags.StringVar(&dbPath, "db", "", "Also store results in this SQLite database")
	flags.BoolVar(&ignoreRobots, "ignore-robots", false, "Ignore robots.txt")

	return cmd
}

// runCrawl drives one crawl into the reporter and waits for both to finish.
func runCrawl(ctx context.Context, c *crawler.Crawler, cfg config.Config, logger logrus.FieldLogger, target types.CrawlTarget, sinks []progress.Sink) (*types.Results, error) {
	out := make(chan progress.Message, cfg.Crawl.Concurrency)
	reporter := progress.NewReporter(logger, cfg.Crawl.BatchSize, sinks...)

	type crawlResult struct {
		results *types.Results
		err     error
	}
	done := make(chan crawlResult, 1)
	go func() {
		results, err := c.Crawl(ctx, target, out)
		done <- crawlResult{results, err}
	}()

	stats := reporter.Run(ctx, out)
	res := <-done

	logger.WithFields(logrus.Fields{
		"delivered":  stats.Results,
		"flushes":    stats.Flushes,
		"dead_sinks": stats.DeadSinks,
	}).Debug("reporter finished")

	return res.results, res.err
}
