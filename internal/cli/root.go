package cli

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	dbPath string
)

var rootCmd = &cobra.Command{
	Use:   "tuneloop",
	Short: "tuneloop - a self-tuning feedback loop for content performance",
	Long: `tuneloop closes the loop between published-content performance and the
configuration that drives publishing. It runs A/B experiments, rolls raw
metrics into daily snapshots, detects declining trends, and turns both
signals into auditable tuning proposals.

Running without a subcommand starts the server (same as 'tuneloop serve').`,
	RunE: runServe, // Default action is to start server
}

func Execute() error {
	// A .env alongside the binary is optional; real env always wins.
	_ = godotenv.Load()
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", getEnvOrDefault("TL_DB_PATH", "./tuneloop.db"), "database path")
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
