package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(newLearningsCmd())
}

func newLearningsCmd() *cobra.Command {
	var days int

	cmd := &cobra.Command{
		Use:   "learnings",
		Short: "Show what resolved experiments taught us",
		Long: `Summarize experiments resolved with a winner, newest window first.

Example:
  tuneloop learnings --days 30`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(a *app) error {
				since := time.Now().UTC().AddDate(0, 0, -days)

				learnings, err := a.engine.Learnings(context.Background(), since)
				if err != nil {
					return err
				}

				if len(learnings) == 0 {
					fmt.Printf("No experiments resolved with a winner in the last %d days.\n", days)
					return nil
				}

				for _, l := range learnings {
					fmt.Printf("%s (%s)\n", l.Name, l.CompletedAt.Format("2006-01-02"))
					fmt.Printf("  Variable: %s\n", l.Variable)
					fmt.Printf("  Winner:   %s, +%.1f%% at %.0f%% confidence\n",
						l.WinnerName, l.ImprovementPct, l.Confidence*100)
					fmt.Printf("  Change:   %s\n", l.WinnerConfig.String())
					fmt.Println()
				}

				return nil
			})
		},
	}

	cmd.Flags().IntVarP(&days, "days", "d", 30, "look-back window in days")

	return cmd
}
