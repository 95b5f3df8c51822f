package cli

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(newHistoryCmd())
}

func newHistoryCmd() *cobra.Command {
	var days int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show the tuning audit trail",
		Long: `Show every applied, approved, and rejected proposal in the window.

Example:
  tuneloop history --days 7`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(a *app) error {
				since := time.Now().UTC().AddDate(0, 0, -days)

				entries, err := a.coord.History(context.Background(), since)
				if err != nil {
					return err
				}

				if len(entries) == 0 {
					fmt.Printf("No tuning decisions in the last %d days.\n", days)
					return nil
				}

				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "WHEN\tPROPOSAL\tTARGET\tOUTCOME\tCONFIDENCE\tREASON")

				for _, e := range entries {
					fmt.Fprintf(w, "%s\t%s\t%s/%s\t%s\t%.0f%%\t%s\n",
						e.CreatedAt.Format("2006-01-02 15:04"),
						shortID(e.ProposalID),
						e.Category,
						e.Parameter,
						e.Outcome,
						e.Confidence*100,
						e.Reason,
					)
				}

				w.Flush()
				return nil
			})
		},
	}

	cmd.Flags().IntVarP(&days, "days", "d", 30, "look-back window in days")

	return cmd
}
