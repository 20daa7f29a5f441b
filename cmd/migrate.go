package main

import (
	"errors"

	"github.com/spf13/cobra"

	"imgpipe/internal/models"
	"imgpipe/internal/storage"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the embedded Postgres migrations",
	Args:  cobra.NoArgs,
	RunE:  runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(_ *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.TableDriver != models.TableDriverPostgres {
		logger.Info().Str("driver", cfg.TableDriver).Msg("nothing to migrate, table is created on open")
		return nil
	}
	if cfg.DatabaseURL == "" {
		return errors.New("DATABASE_URL is required")
	}
	if err := storage.Migrate(cfg.DatabaseURL); err != nil {
		return err
	}
	logger.Info().Msg("migrations applied")
	return nil
}
