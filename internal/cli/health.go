package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tuneloop/tuneloop/internal/store"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Show recent health scores",
	Long:  `Show the health score of recent daily snapshots, newest first.`,
	RunE:  runHealth,
}

func init() {
	rootCmd.AddCommand(healthCmd)
}

func runHealth(cmd *cobra.Command, args []string) error {
	return withStore(func(s *store.SQLiteStore) error {
		snaps, err := s.ListSnapshots(context.Background(), store.PeriodDaily, 14)
		if err != nil {
			return fmt.Errorf("failed to list snapshots: %w", err)
		}

		if len(snaps) == 0 {
			fmt.Println("No snapshots yet. Run 'tuneloop snapshot' or 'tuneloop cycle' first.")
			return nil
		}

		for _, snap := range snaps {
			score := "unscored"
			if snap.HealthScore != nil {
				score = fmt.Sprintf("%5.1f/100", *snap.HealthScore)
			}
			fmt.Printf("%s  %s  engagement %s  conversion %s\n",
				snap.Date.Format("2006-01-02"),
				score,
				formatPercent(snap.AvgEngagementRate),
				formatPercent(snap.ConversionRate),
			)
		}

		return nil
	})
}
