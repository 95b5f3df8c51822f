package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tuneloop/tuneloop/internal/experiment"
)

func init() {
	rootCmd.AddCommand(newCreateCmd())
}

func newCreateCmd() *cobra.Command {
	var (
		hypothesis string
		variable   string
		asset      string
		platform   string
		control    string
		treatments []string
	)

	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a new A/B experiment",
		Long: `Create a new A/B experiment with a control and one or more treatments.

Each variant is written as name=adjustment, where the adjustment is one of:
  timing:<platform>@<hour>       timing:twitter@19
  format:<format>:<delta>        format:video:+0.1
  threshold:<parameter>=<value>  threshold:min_insight_confidence=0.7

Examples:
  tuneloop create evening-slot --variable posting_time \
    --control "afternoon=timing:twitter@14" \
    --treatment "evening=timing:twitter@19"
  tuneloop create video-push --variable format --platform youtube \
    --control "current=format:video:0" \
    --treatment "boosted=format:video:+0.2"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]

			if control == "" || len(treatments) == 0 {
				return fmt.Errorf("need --control and at least one --treatment")
			}

			variants := make([]experiment.VariantSpec, 0, len(treatments)+1)

			spec, err := parseVariantSpec(control, true)
			if err != nil {
				return err
			}
			variants = append(variants, spec)

			for _, t := range treatments {
				spec, err := parseVariantSpec(t, false)
				if err != nil {
					return err
				}
				variants = append(variants, spec)
			}

			return withApp(func(a *app) error {
				ctx := context.Background()

				exp, err := a.engine.Create(ctx, experiment.CreateParams{
					Name:       name,
					Hypothesis: hypothesis,
					Variable:   variable,
					Asset:      asset,
					Platform:   platform,
					Variants:   variants,
				})
				if err != nil {
					if errors.Is(err, experiment.ErrConflict) {
						return fmt.Errorf("an active experiment already covers variable %q for this scope", variable)
					}
					if errors.Is(err, experiment.ErrCapacity) {
						return fmt.Errorf("too many active experiments, complete or cancel one first")
					}
					return fmt.Errorf("failed to create experiment: %w", err)
				}

				created, err := a.store.ListVariants(ctx, exp.ID)
				if err != nil {
					return fmt.Errorf("failed to load variants: %w", err)
				}

				fmt.Printf("Created experiment %d '%s' (metric: %s)\n", exp.ID, exp.Name, exp.Metric)
				for _, v := range created {
					role := "treatment"
					if v.IsControl {
						role = "control"
					}
					fmt.Printf("  %d: %s [%s] %s\n", v.ID, v.Name, role, v.Config.String())
				}

				return nil
			})
		},
	}

	cmd.Flags().StringVar(&hypothesis, "hypothesis", "", "what this experiment is expected to show")
	cmd.Flags().StringVar(&variable, "variable", "", "variable under test, e.g. posting_time, format, call_to_action (required)")
	cmd.Flags().StringVar(&asset, "asset", "", "asset scope (optional)")
	cmd.Flags().StringVar(&platform, "platform", "", "platform scope (optional)")
	cmd.Flags().StringVar(&control, "control", "", "control variant as name=adjustment (required)")
	cmd.Flags().StringArrayVar(&treatments, "treatment", nil, "treatment variant as name=adjustment (repeatable, required)")
	cmd.MarkFlagRequired("variable")
	cmd.MarkFlagRequired("control")
	cmd.MarkFlagRequired("treatment")

	return cmd
}

func parseVariantSpec(s string, isControl bool) (experiment.VariantSpec, error) {
	name, adjSpec, ok := strings.Cut(s, "=")
	if !ok {
		return experiment.VariantSpec{}, fmt.Errorf("invalid variant %q, expected name=adjustment", s)
	}
	adj, err := parseAdjustment(adjSpec)
	if err != nil {
		return experiment.VariantSpec{}, err
	}
	return experiment.VariantSpec{
		Name:      strings.TrimSpace(name),
		IsControl: isControl,
		Config:    adj,
	}, nil
}
