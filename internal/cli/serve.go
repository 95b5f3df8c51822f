package cli

import (
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tuneloop/tuneloop/internal/server"
)

var port int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	Long: `Start the tuneloop HTTP server.

The server provides:
  - Observation endpoint for the publishing pipeline
  - Experiment results API
  - Token-protected review dashboard for pending proposals
  - Health check endpoint

Example:
  tuneloop serve --port 8080`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVarP(&port, "port", "p", 0, "port to listen on (default TL_PORT or 8080)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	return withApp(func(a *app) error {
		listenPort := port
		if listenPort == 0 {
			listenPort = a.cfg.Port
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		srv := server.New(a.store, a.engine, a.coord, a.log, listenPort, getTokenFilePath())
		return srv.Start(ctx)
	})
}

// getTokenFilePath returns the path to the token file
func getTokenFilePath() string {
	// Store token file alongside the database
	dir := filepath.Dir(dbPath)
	return filepath.Join(dir, ".tuneloop-token")
}
