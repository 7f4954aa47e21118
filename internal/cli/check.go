package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/BenjaminSRussell/siteaudit/internal/crawler"
	"github.com/BenjaminSRussell/siteaudit/internal/progress"
)

func newCheckCmd(root *rootOptions) *cobra.Command {
	var concurrency int

	cmd := &cobra.Command{
		Use:   "check <url>...",
		Short: "Fetch a fixed list of URLs without following links",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := root.setup(cmd)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("concurrency") {
				cfg.Server.CheckListConcurrency = concurrency
			}

			c, err := crawler.New(cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to create crawler: %w", err)
			}

			out := make(chan progress.Message, cfg.Server.CheckListConcurrency)
			reporter := progress.NewReporter(logger, cfg.Crawl.BatchSize, progress.NewJSONLinesSink(cmd.OutOrStdout()))

			done := make(chan struct{})
			var processed, failed int
			go func() {
				defer close(done)
				results := c.CheckURLs(cmd.Context(), args, cfg.Server.CheckListConcurrency, out)
				processed, failed = results.Processed, results.Errors
			}()

			reporter.Run(cmd.Context(), out)
			<-done

			fmt.Fprintf(cmd.ErrOrStderr(), "Checked: %d, Errors: %d\n", processed, failed)
			return nil
		},
	}

	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "Concurrent checks (default from config)")
	return cmd
}
