package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/whisper/polyglot/internal/postgres"
)

func newMigrateCmd() *cobra.Command {
	var steps int

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or roll back the Postgres schema",
		Long:  `Runs the embedded SQL migrations against DATABASE_URL.`,
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cfg.DatabaseURL == "" {
				return fmt.Errorf("DATABASE_URL is not set")
			}
			db, err := postgres.Open(cmd.Context(), cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer db.Close()
			return postgres.MigrateUp(db, log)
		},
	}

	downCmd := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations (all unless --steps is given)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cfg.DatabaseURL == "" {
				return fmt.Errorf("DATABASE_URL is not set")
			}
			db, err := postgres.Open(cmd.Context(), cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer db.Close()
			return postgres.MigrateDown(db, steps, log)
		},
	}
	downCmd.Flags().IntVar(&steps, "steps", 0, "Number of migrations to roll back (0 = all)")

	migrateCmd.AddCommand(upCmd, downCmd)
	return migrateCmd
}
