package main

import (
	"github.com/cheetahbyte/plg/internal/db"
	"github.com/spf13/cobra"
)

var migrateTo int32

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	Long:  "Apply pending database migrations. With --to the schema moves up or down to that version; --to 0 drops everything.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, logger, err := loadConfig("migrate")
		if err != nil {
			return err
		}
		store, err := db.Open(cmd.Context(), cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer store.Close()

		if cmd.Flags().Changed("to") {
			if err := store.MigrateTo(cmd.Context(), migrateTo); err != nil {
				return err
			}
			logger.Info().Int32("version", migrateTo).Msg("Schema migrated")
			return nil
		}

		n, err := store.Migrate(cmd.Context())
		if err != nil {
			return err
		}
		logger.Info().Int("applied", n).Msg("Migrations complete")
		return nil
	},
}

var migrateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the applied and the latest schema version",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, _, err := loadConfig("migrate")
		if err != nil {
			return err
		}
		store, err := db.Open(cmd.Context(), cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer store.Close()

		current, latest, err := store.SchemaVersion(cmd.Context())
		if err != nil {
			return err
		}
		cmd.Printf("version %d of %d\n", current, latest)
		return nil
	},
}

func init() {
	migrateCmd.Flags().Int32Var(&migrateTo, "to", 0, "target schema version")
	migrateCmd.AddCommand(migrateStatusCmd)
}
