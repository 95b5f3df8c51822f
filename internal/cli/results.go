package cli

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tuneloop/tuneloop/internal/stats"
	"github.com/tuneloop/tuneloop/internal/store"
)

var resultsCmd = &cobra.Command{
	Use:   "results <id>",
	Short: "Show detailed results for an experiment",
	Long:  `Show detailed results including per-variant rates and confidence intervals.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runResults,
}

func init() {
	rootCmd.AddCommand(resultsCmd)
}

func runResults(cmd *cobra.Command, args []string) error {
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid experiment id %q", args[0])
	}

	return withStore(func(s *store.SQLiteStore) error {
		ctx := context.Background()

		exp, err := s.GetExperiment(ctx, id)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("experiment %d not found", id)
			}
			return fmt.Errorf("failed to get experiment: %w", err)
		}

		variants, err := s.ListVariants(ctx, id)
		if err != nil {
			return fmt.Errorf("failed to load variants: %w", err)
		}

		// Print header
		fmt.Printf("EXPERIMENT: %s\n", exp.Name)
		fmt.Printf("VARIABLE: %s (metric: %s)\n", exp.Variable, exp.Metric)
		fmt.Printf("STATUS: %s\n", exp.Status)
		if exp.Hypothesis != "" {
			fmt.Printf("HYPOTHESIS: %s\n", exp.Hypothesis)
		}
		fmt.Printf("STARTED: %s\n", exp.StartedAt.Format("2006-01-02"))
		if exp.CompletedAt != nil {
			fmt.Printf("COMPLETED: %s\n", exp.CompletedAt.Format("2006-01-02"))
		}
		fmt.Println()

		// Print table header
		fmt.Println("VARIANT           IMPRESSIONS  SUCCESSES  RATE     95% CI")
		fmt.Println(strings.Repeat("─", 64))

		for _, v := range variants {
			indicator := ""
			if v.IsControl {
				indicator = " (control)"
			}
			if exp.WinningVariantID != nil && v.ID == *exp.WinningVariantID {
				indicator = " ← WINNER"
			}

			lower, upper := stats.WilsonInterval(v.Successes(exp.Metric), v.Impressions, 0.95)
			ciStr := fmt.Sprintf("[%.1f%%, %.1f%%]", lower*100, upper*100)
			if v.Impressions == 0 {
				ciStr = "N/A"
			}

			// Truncate name if too long
			name := v.Name
			if len(name) > 16 {
				name = name[:13] + "..."
			}

			fmt.Printf("%-16s  %-11d  %-9d  %-7s  %s%s\n",
				name,
				v.Impressions,
				v.Successes(exp.Metric),
				formatPercent(v.Rate(exp.Metric)),
				ciStr,
				indicator,
			)
		}

		fmt.Println()

		switch {
		case exp.Status == store.ExperimentCompleted && exp.WinningVariantID != nil:
			fmt.Printf("Resolved: %.1f%% confident, %.1f%% improvement over control\n",
				exp.ConfidenceLevel*100, exp.ImprovementPct)
		case exp.Status == store.ExperimentCompleted:
			fmt.Printf("Completed without a winner (best confidence %.1f%%)\n", exp.ConfidenceLevel*100)
		default:
			fmt.Println("Still collecting observations; run 'tuneloop cycle' to evaluate.")
		}

		return nil
	})
}
