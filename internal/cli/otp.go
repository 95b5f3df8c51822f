package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tuneloop/tuneloop/internal/config"
)

var otpCmd = &cobra.Command{
	Use:   "otp",
	Short: "Show the current review token",
	Long:  `Print the access token for the review dashboard of the currently running server.`,
	RunE:  runOTP,
}

func init() {
	rootCmd.AddCommand(otpCmd)
}

func runOTP(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(getTokenFilePath())
	if os.IsNotExist(err) {
		return fmt.Errorf("no token file found; is the server running? (tuneloop serve)")
	}
	if err != nil {
		return fmt.Errorf("failed to read token file: %w", err)
	}

	token := strings.TrimSpace(string(data))
	if token == "" {
		return fmt.Errorf("token file is empty; restart the server to mint a new token")
	}

	fmt.Printf("Review token: %s\n", token)
	if cfg, err := config.Load(); err == nil {
		fmt.Printf("Dashboard: http://localhost:%d/review?token=%s\n", cfg.Port, token)
	}
	return nil
}
