package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/tuneloop/tuneloop/internal/store"
	"github.com/tuneloop/tuneloop/internal/trend"
)

func init() {
	rootCmd.AddCommand(newSnapshotCmd())
}

func newSnapshotCmd() *cobra.Command {
	var (
		period string
		asOf   string
	)

	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Build a performance snapshot",
		Long: `Aggregate raw performance records into a snapshot for one period.
Building the same (date, period) twice returns the existing snapshot.

Examples:
  tuneloop snapshot
  tuneloop snapshot --period weekly
  tuneloop snapshot --as-of 2026-08-30`,
		RunE: func(cmd *cobra.Command, args []string) error {
			p := store.PeriodType(period)
			switch p {
			case store.PeriodDaily, store.PeriodWeekly, store.PeriodMonthly:
			default:
				return fmt.Errorf("invalid period %q (daily, weekly, monthly)", period)
			}

			end := time.Now().UTC()
			if asOf != "" {
				var err error
				end, err = time.Parse("2006-01-02", asOf)
				if err != nil {
					return fmt.Errorf("invalid --as-of date %q, expected YYYY-MM-DD", asOf)
				}
			}

			return withApp(func(a *app) error {
				snap, err := a.analyzer.BuildSnapshot(context.Background(), p, end)
				if err != nil {
					if errors.Is(err, trend.ErrInsufficientData) {
						return fmt.Errorf("no performance records in the %s period ending %s", p, end.Format("2006-01-02"))
					}
					return err
				}

				fmt.Printf("Snapshot %d (%s, %s)\n", snap.ID, snap.Period, snap.Date.Format("2006-01-02"))
				fmt.Printf("  Content items:       %d\n", snap.ContentCount)
				fmt.Printf("  Avg engagement rate: %s\n", formatPercent(snap.AvgEngagementRate))
				fmt.Printf("  Conversion rate:     %s\n", formatPercent(snap.ConversionRate))
				fmt.Printf("  Follower growth:     %.1f/day\n", snap.FollowerGrowthRate)
				fmt.Printf("  Revenue:             %.2f\n", snap.Revenue)
				if snap.TopFormat != "" {
					fmt.Printf("  Top format:          %s\n", snap.TopFormat)
				}
				if snap.TopAsset != "" {
					fmt.Printf("  Top asset:           %s\n", snap.TopAsset)
				}
				fmt.Printf("  Top posting hour:    %02d:00 UTC\n", snap.TopPostingHour)

				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&period, "period", "p", "daily", "snapshot period (daily, weekly, monthly)")
	cmd.Flags().StringVar(&asOf, "as-of", "", "period end date as YYYY-MM-DD (default now)")

	return cmd
}
