package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"

	"github.com/tuneloop/tuneloop/internal/store"
)

var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Review pending proposals interactively",
	Long: `Walk through pending tuning proposals one at a time, approving or
rejecting each. Skipped proposals stay pending for the next review.`,
	RunE: runReview,
}

func init() {
	rootCmd.AddCommand(reviewCmd)
}

func runReview(cmd *cobra.Command, args []string) error {
	return withApp(func(a *app) error {
		ctx := context.Background()

		pending, err := a.coord.PendingProposals(ctx)
		if err != nil {
			return fmt.Errorf("failed to list proposals: %w", err)
		}
		if len(pending) == 0 {
			fmt.Println("Nothing awaiting review.")
			return nil
		}

		fmt.Printf("%d proposal(s) awaiting review\n\n", len(pending))

		for i, p := range pending {
			printProposal(i+1, len(pending), p)

			decision, err := promptDecision()
			if err != nil {
				return err
			}

			switch decision {
			case "approve":
				if err := a.coord.Approve(ctx, p.ID); err != nil {
					return err
				}
				fmt.Println("Applied.")
			case "reject":
				if err := a.coord.Reject(ctx, p.ID); err != nil {
					return err
				}
				fmt.Println("Rejected.")
			case "skip":
				fmt.Println("Left pending.")
			case "quit":
				fmt.Println("Stopping review; remaining proposals stay pending.")
				return nil
			}
			fmt.Println()
		}

		fmt.Println("Review complete.")
		return nil
	})
}

func printProposal(n, total int, p *store.Proposal) {
	fmt.Printf("[%d/%d] %s\n", n, total, shortID(p.ID))
	fmt.Printf("  Source:      %s\n", p.Source)
	fmt.Printf("  Target:      %s/%s\n", p.Category, p.Parameter)
	fmt.Printf("  Change:      %s\n", p.Adjustment.String())
	fmt.Printf("  Confidence:  %.0f%%\n", p.Confidence*100)
	fmt.Printf("  Impact:      %.1f\n", p.ImpactScore)
	if p.Description != "" {
		fmt.Printf("  Why:         %s\n", p.Description)
	}
}

func promptDecision() (string, error) {
	prompt := promptui.Select{
		Label: "Decision",
		Items: []string{"approve", "reject", "skip", "quit"},
		Size:  4,
	}

	_, choice, err := prompt.Run()
	if err != nil {
		if err == promptui.ErrInterrupt {
			os.Exit(0)
		}
		return "", err
	}
	return choice, nil
}
