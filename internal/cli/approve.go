package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tuneloop/tuneloop/internal/store"
)

var approveCmd = &cobra.Command{
	Use:   "approve <id>",
	Short: "Approve a pending proposal",
	Long: `Approve a pending tuning proposal, applying it regardless of its
confidence. The ID may be abbreviated to any unambiguous prefix.`,
	Args: cobra.ExactArgs(1),
	RunE: runApprove,
}

func init() {
	rootCmd.AddCommand(approveCmd)
}

func runApprove(cmd *cobra.Command, args []string) error {
	return withApp(func(a *app) error {
		ctx := context.Background()

		id, err := resolveProposalID(ctx, a.store, args[0])
		if err != nil {
			return err
		}
		if err := a.coord.Approve(ctx, id); err != nil {
			return err
		}

		fmt.Printf("Approved and applied proposal %s\n", shortID(id))
		return nil
	})
}

// resolveProposalID expands an ID prefix against pending proposals.
func resolveProposalID(ctx context.Context, s store.Store, prefix string) (string, error) {
	pending, err := s.ListProposals(ctx, store.ProposalPending)
	if err != nil {
		return "", fmt.Errorf("failed to list proposals: %w", err)
	}

	var matches []string
	for _, p := range pending {
		if strings.HasPrefix(p.ID, prefix) {
			matches = append(matches, p.ID)
		}
	}

	switch len(matches) {
	case 0:
		return "", fmt.Errorf("no pending proposal matches %q", prefix)
	case 1:
		return matches[0], nil
	default:
		return "", fmt.Errorf("%d pending proposals match %q, use a longer prefix", len(matches), prefix)
	}
}
