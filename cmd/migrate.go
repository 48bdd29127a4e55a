package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"mediapipe/internal/logging"
	"mediapipe/internal/storage"
)

func newMigrateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger := logging.NewComponentLogger(cfg.logger, "migrations")

			switch cfg.Database.Driver {
			case "postgres":
				db, err := storage.OpenPostgresSQL(cfg.Database.DSN)
				if err != nil {
					return err
				}
				defer db.Close()
				if err := storage.RunMigrations(db, "postgres", logger); err != nil {
					return err
				}
			case "sqlite":
				repo, err := storage.NewSQLite(cfg.Database.DSN, cfg.logger)
				if err != nil {
					return err
				}
				if err := repo.Close(); err != nil {
					return err
				}
			default:
				fmt.Fprintf(cmd.OutOrStdout(), "driver %q has no schema to migrate\n", cfg.Database.Driver)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s schema is up to date\n", cfg.Database.Driver)
			return nil
		},
	}
}
