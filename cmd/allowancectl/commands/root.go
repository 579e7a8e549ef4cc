package commands

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/sheikh-saqib/allowance-ledger/internal/logger"
	"github.com/sheikh-saqib/allowance-ledger/internal/storage/postgres"
	"github.com/spf13/cobra"
)

var (
	// Global flags
	dbURL      string
	verbose    bool
	jsonOutput bool
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "allowancectl",
	Short: "Operator tooling for the allowance ledger",
	Long: `allowancectl works directly against the ledger database.

Commands:
  migrate    - Apply the schema
  reconcile  - Compare an account's balance with its ledger
  history    - Print an account's ledger`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	_ = godotenv.Load()

	rootCmd.PersistentFlags().StringVar(&dbURL, "db", os.Getenv("DATABASE_URL"), "Database connection URL (or set DATABASE_URL)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
}

func cliLogger() zerolog.Logger {
	level := "warn"
	if verbose {
		level = "debug"
	}
	return logger.New(level, true)
}

func openDB(ctx context.Context) (*sql.DB, error) {
	if dbURL == "" {
		return nil, errors.New("database URL is required (--db or DATABASE_URL)")
	}
	return postgres.Open(ctx, dbURL, cliLogger())
}
