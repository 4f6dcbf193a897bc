package app

import (
	"context"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"untestables/store"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	RunE: func(_ *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		ctx := context.Background()
		logger := componentLogger("migrate")
		db, err := store.New(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			return errors.Wrap(err, "connecting to database")
		}
		defer db.Close()

		if err := db.Migrate(ctx); err != nil {
			return errors.Wrap(err, "applying schema")
		}
		logger.Infof("schema is up to date")
		return nil
	},
}
