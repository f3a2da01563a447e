package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fleetops/driver-ledger/internal/pkg/database"
)

func init() {
	rootCmd.AddCommand(migrateCmd)
	migrateCmd.AddCommand(migrateUpCmd)
	migrateCmd.AddCommand(migrateDownCmd)
	migrateCmd.AddCommand(migrateVersionCmd)

	migrateDownCmd.Flags().Int("steps", 1, "Number of migrations to roll back")
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the ledger schema",
}

// ─── migrate up ─────────────────────────────────────────────────────────────

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all pending migrations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
			return err
		}
		return printVersion(cmd)
	},
}

// ─── migrate down ───────────────────────────────────────────────────────────

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back migrations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		steps, _ := cmd.Flags().GetInt("steps")
		if steps < 1 {
			return fmt.Errorf("--steps must be at least 1")
		}
		if err := database.RollbackMigrations(cfg.DatabaseURL, steps); err != nil {
			return err
		}
		return printVersion(cmd)
	},
}

// ─── migrate version ────────────────────────────────────────────────────────

var migrateVersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the current schema version",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return printVersion(cmd)
	},
}

func printVersion(cmd *cobra.Command) error {
	version, dirty, err := database.MigrationVersion(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	if version == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No migrations applied")
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Schema version: %d", version)
	if dirty {
		fmt.Fprint(cmd.OutOrStdout(), " (dirty)")
	}
	fmt.Fprintln(cmd.OutOrStdout())
	return nil
}
