package cli

import (
	"github.com/spf13/cobra"

	"github.com/BenjaminSRussell/siteaudit/internal/server"
	"github.com/BenjaminSRussell/siteaudit/internal/storage"
)

func newServeCmd(root *rootOptions) *cobra.Command {
	var (
		addr   string
		dbPath string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the streaming crawl API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := root.setup(cmd)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("addr") {
				cfg.Server.Addr = addr
			}
			if cmd.Flags().Changed("db") {
				cfg.Storage.SQLitePath = dbPath
			}

			var store *storage.SQLiteStorage
			if cfg.Storage.SQLitePath != "" {
				store, err = storage.NewSQLiteStorage(cfg.Storage.SQLitePath)
				if err != nil {
					return err
				}
				defer store.Close()
			}

			return server.New(cfg, logger, store).Run(cmd.Context())
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default from config)")
	cmd.Flags().StringVar(&dbPath, "db", "", "Persist every crawl to this SQLite database")
	return cmd
}
