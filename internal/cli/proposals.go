package cli

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/tuneloop/tuneloop/internal/store"
)

var proposalsStatus string

var proposalsCmd = &cobra.Command{
	Use:   "proposals",
	Short: "List tuning proposals",
	Long:  `List tuning proposals, pending ones by default.`,
	RunE:  runProposals,
}

func init() {
	proposalsCmd.Flags().StringVarP(&proposalsStatus, "status", "s", "pending", "filter by status (pending, applied, rejected, superseded)")
	rootCmd.AddCommand(proposalsCmd)
}

func runProposals(cmd *cobra.Command, args []string) error {
	return withStore(func(s *store.SQLiteStore) error {
		proposals, err := s.ListProposals(context.Background(), store.ProposalStatus(proposalsStatus))
		if err != nil {
			return fmt.Errorf("failed to list proposals: %w", err)
		}

		if len(proposals) == 0 {
			fmt.Printf("No %s proposals.\n", proposalsStatus)
			return nil
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSOURCE\tTARGET\tCHANGE\tCONFIDENCE\tCREATED")

		for _, p := range proposals {
			fmt.Fprintf(w, "%s\t%s\t%s/%s\t%s\t%.0f%%\t%s\n",
				shortID(p.ID),
				p.Source,
				p.Category,
				p.Parameter,
				p.Adjustment.String(),
				p.Confidence*100,
				p.CreatedAt.Format("2006-01-02"),
			)
		}

		w.Flush()

		fmt.Println()
		fmt.Println("Use 'tuneloop review' to approve or reject interactively,")
		fmt.Println("or 'tuneloop approve <id>' / 'tuneloop reject <id>' directly.")
		return nil
	})
}

// shortID trims a uuid to its first segment for display. Full IDs are
// still accepted everywhere an ID is taken as input.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
