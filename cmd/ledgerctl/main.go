// Command ledgerctl is the operator CLI for the driver ledger: schema
// migrations, balance reconciliation and access tokens for scripting.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/fleetops/driver-ledger/internal/config"
	"github.com/fleetops/driver-ledger/internal/pkg/logger"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:           "ledgerctl",
	Short:         "Operate the driver spending ledger",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg = config.Load()
		if url, _ := cmd.Flags().GetString("database-url"); url != "" {
			cfg.DatabaseURL = url
		}
		return logger.Init(logger.Config{Level: cfg.LogLevel, Environment: cfg.Env, LogFile: cfg.LogFile})
	},
}

func init() {
	rootCmd.PersistentFlags().String("database-url", "", "Postgres URL (defaults to DATABASE_URL)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
