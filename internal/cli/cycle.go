package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var cycleCmd = &cobra.Command{
	Use:   "cycle",
	Short: "Run one feedback cycle",
	Long: `Run one full feedback cycle: build the daily snapshot, evaluate active
experiments, gather tuning proposals, auto-apply the high-confidence ones,
and score system health.

Ctrl+C cancels between steps; an in-flight configuration apply always
finishes and is audited.`,
	RunE: runCycle,
}

func init() {
	rootCmd.AddCommand(cycleCmd)
}

func runCycle(cmd *cobra.Command, args []string) error {
	return withApp(func(a *app) error {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		res, err := a.coord.RunCycle(ctx)
		if err != nil {
			fmt.Println("Cycle cancelled.")
		}

		fmt.Printf("Experiments evaluated: %d\n", res.ExperimentsRun)
		fmt.Printf("Proposals applied:     %d\n", res.Applied)
		fmt.Printf("Proposals pending:     %d\n", res.Pending)
		fmt.Printf("Proposals superseded:  %d\n", res.Superseded)
		if res.HealthKnown {
			fmt.Printf("Health score:          %.1f/100\n", res.HealthScore)
		} else {
			fmt.Println("Health score:          no snapshot to score")
		}

		if len(res.Failures) > 0 {
			fmt.Println()
			fmt.Printf("%d source(s) failed and will be retried next cycle:\n", len(res.Failures))
			for _, f := range res.Failures {
				fmt.Printf("  %s: %v\n", f.Source, f.Err)
			}
		}

		return nil
	})
}
