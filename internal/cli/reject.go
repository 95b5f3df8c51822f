package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var rejectCmd = &cobra.Command{
	Use:   "reject <id>",
	Short: "Reject a pending proposal",
	Long: `Reject a pending tuning proposal. The decision is recorded in the
audit trail. The ID may be abbreviated to any unambiguous prefix.`,
	Args: cobra.ExactArgs(1),
	RunE: runReject,
}

func init() {
	rootCmd.AddCommand(rejectCmd)
}

func runReject(cmd *cobra.Command, args []string) error {
	return withApp(func(a *app) error {
		ctx := context.Background()

		id, err := resolveProposalID(ctx, a.store, args[0])
		if err != nil {
			return err
		}
		if err := a.coord.Reject(ctx, id); err != nil {
			return err
		}

		fmt.Printf("Rejected proposal %s\n", shortID(id))
		return nil
	})
}
