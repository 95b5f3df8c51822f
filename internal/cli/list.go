package cli

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/tuneloop/tuneloop/internal/store"
)

var listStatus string

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List experiments",
	Long:  `List A/B experiments with their status and observation counts.`,
	RunE:  runList,
}

func init() {
	listCmd.Flags().StringVarP(&listStatus, "status", "s", "active", "filter by status (active, completed, paused, cancelled)")
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	return withStore(func(s *store.SQLiteStore) error {
		ctx := context.Background()

		experiments, err := s.ListExperiments(ctx, store.ExperimentStatus(listStatus))
		if err != nil {
			return fmt.Errorf("failed to list experiments: %w", err)
		}

		if len(experiments) == 0 {
			fmt.Printf("No %s experiments.\n", listStatus)
			return nil
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tVARIABLE\tMETRIC\tSTATUS\tVARIANTS\tIMPRESSIONS\tSTARTED")

		for _, exp := range experiments {
			variants, err := s.ListVariants(ctx, exp.ID)
			if err != nil {
				return fmt.Errorf("failed to load variants for experiment %d: %w", exp.ID, err)
			}

			var impressions int64
			for _, v := range variants {
				impressions += v.Impressions
			}

			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%d\t%d\t%s\n",
				exp.ID,
				exp.Name,
				exp.Variable,
				exp.Metric,
				strings.ToUpper(string(exp.Status)),
				len(variants),
				impressions,
				exp.StartedAt.Format("2006-01-02"),
			)
		}

		w.Flush()
		return nil
	})
}
