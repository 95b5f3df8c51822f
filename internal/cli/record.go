package cli

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/tuneloop/tuneloop/internal/store"
)

func init() {
	rootCmd.AddCommand(newRecordCmd())
}

func newRecordCmd() *cobra.Command {
	var count int

	cmd := &cobra.Command{
		Use:   "record <variant-id> <event>",
		Short: "Record observations for a variant",
		Long: `Record one or more observations against an experiment variant.

Events: impression, click, engagement, conversion

Examples:
  tuneloop record 3 impression
  tuneloop record 3 conversion --count 5`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			variantID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid variant id %q", args[0])
			}
			event := store.EventType(args[1])
			if !store.ValidEvent(event) {
				return fmt.Errorf("unknown event %q (impression, click, engagement, conversion)", args[1])
			}
			if count < 1 {
				return fmt.Errorf("count must be positive, got %d", count)
			}

			return withApp(func(a *app) error {
				ctx := context.Background()
				for i := 0; i < count; i++ {
					if err := a.engine.RecordObservation(ctx, variantID, event); err != nil {
						return err
					}
				}
				fmt.Printf("Recorded %d %s observation(s) for variant %d\n", count, event, variantID)
				return nil
			})
		},
	}

	cmd.Flags().IntVarP(&count, "count", "n", 1, "number of observations to record")

	return cmd
}
