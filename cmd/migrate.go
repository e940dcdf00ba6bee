package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rogerjeasy/hslu-rag-backend/db"
	"github.com/rogerjeasy/hslu-rag-backend/internal/config"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := initLogger()

		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		if err := db.Migrate(cfg.PostgresURL(), logger); err != nil {
			return fmt.Errorf("running migrations: %w", err)
		}
		logger.Info("migrations applied", "database", cfg.PostgresDBName)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
