// Package experiment manages the lifecycle of A/B tests: creation with
// conflict and capacity guards, observation counting, and statistical
// resolution against the control arm.
package experiment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tuneloop/tuneloop/internal/stats"
	"github.com/tuneloop/tuneloop/internal/store"
)

var (
	// ErrConflict means an active experiment already covers the same
	// (variable, scope) combination.
	ErrConflict = errors.New("conflicting active experiment")

	// ErrCapacity means the concurrent-experiment cap is reached.
	ErrCapacity = errors.New("experiment capacity reached")
)

// Config carries the evaluation parameters.
type Config struct {
	SignificanceThreshold float64       // default 0.05
	MinSampleSize         int64         // impressions per variant, default 100
	MaxTestDuration       time.Duration // default 7 days
	MaxConcurrent         int           // default 5
}

type Engine struct {
	store store.Store
	cfg   Config
	log   *zap.Logger
	now   func() time.Time
}

func NewEngine(s store.Store, cfg Config, log *zap.Logger) *Engine {
	return &Engine{store: s, cfg: cfg, log: log, now: time.Now}
}

// VariantSpec describes one arm of a new experiment.
type VariantSpec struct {
	Name      string
	IsControl bool
	Config    store.Adjustment
}

// CreateParams describes a new experiment.
type CreateParams struct {
	Name       string
	Hypothesis string
	Variable   string
	Asset      string // optional scope
	Platform   string // optional scope
	Variants   []VariantSpec
}

// metricForVariable maps the tested variable onto the success metric an
// experiment is judged on.
func metricForVariable(variable string) store.Metric {
	switch variable {
	case "call_to_action", "discount", "offer":
		return store.MetricConversion
	case "headline", "link_placement":
		return store.MetricClick
	default:
		return store.MetricEngagement
	}
}

// Create starts a new active experiment. It fails with ErrCapacity when the
// concurrent cap is reached and ErrConflict when an active experiment already
// covers the same (variable, asset, platform).
func (e *Engine) Create(ctx context.Context, p CreateParams) (*store.Experiment, error) {
	if len(p.Variants) < 2 {
		return nil, fmt.Errorf("experiment needs a control and at least one treatment, got %d variants", len(p.Variants))
	}
	controls := 0
	for _, v := range p.Variants {
		if v.IsControl {
			controls++
		}
	}
	if controls != 1 {
		return nil, fmt.Errorf("experiment requires exactly one control variant, got %d", controls)
	}

	active, err := e.store.CountActiveExperiments(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count active experiments: %w", err)
	}
	if active >= e.cfg.MaxConcurrent {
		return nil, fmt.Errorf("%d active experiments (max %d): %w", active, e.cfg.MaxConcurrent, ErrCapacity)
	}

	if _, err := e.store.FindActiveExperiment(ctx, p.Variable, p.Asset, p.Platform); err == nil {
		return nil, fmt.Errorf("variable %q already under test for scope (%s, %s): %w",
			p.Variable, p.Asset, p.Platform, ErrConflict)
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("failed to check for conflicting experiment: %w", err)
	}

	variants := make([]*store.Variant, len(p.Variants))
	for i, spec := range p.Variants {
		variants[i] = &store.Variant{
			Name:      spec.Name,
			IsControl: spec.IsControl,
			Config:    spec.Config,
		}
	}

	exp := &store.Experiment{
		Name:       p.Name,
		Hypothesis: p.Hypothesis,
		Variable:   p.Variable,
		Metric:     metricForVariable(p.Variable),
		Asset:      p.Asset,
		Platform:   p.Platform,
		StartedAt:  e.now().UTC(),
	}

	created, err := e.store.CreateExperiment(ctx, exp, variants)
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, fmt.Errorf("variable %q already under test: %w", p.Variable, ErrConflict)
		}
		return nil, err
	}

	e.log.Info("experiment created",
		zap.Int64("id", created.ID),
		zap.String("name", created.Name),
		zap.String("variable", created.Variable),
		zap.Int("variants", len(variants)))

	return created, nil
}

// RecordObservation increments the matching counter on a variant. Called
// concurrently by the publishing pipeline; the increment is a single
// atomic UPDATE.
func (e *Engine) RecordObservation(ctx context.Context, variantID int64, event store.EventType) error {
	if !store.ValidEvent(event) {
		return fmt.Errorf("unknown event type %q", event)
	}
	if err := e.store.IncrementVariantCounter(ctx, variantID, event); err != nil {
		return fmt.Errorf("failed to record %s for variant %d: %w", event, variantID, err)
	}
	return nil
}

// Outcome is the result of evaluating an experiment.
type Outcome struct {
	Experiment     *store.Experiment
	Variants       []*store.Variant
	Winner         *store.Variant // nil when no winner (yet or ever)
	Confidence     float64
	ImprovementPct float64
	Completed      bool // experiment is in the completed state after this call
	Inconclusive   bool // completed without a winner
}

// Evaluate runs the z-test for one experiment and completes it when a winner
// clears the bar or the maximum duration has elapsed. Calling it on an
// already-completed experiment returns the stored result without re-running
// any statistics.
func (e *Engine) Evaluate(ctx context.Context, experimentID int64) (*Outcome, error) {
	exp, err := e.store.GetExperiment(ctx, experimentID)
	if err != nil {
		return nil, fmt.Errorf("failed to load experiment %d: %w", experimentID, err)
	}

	variants, err := e.store.ListVariants(ctx, experimentID)
	if err != nil {
		return nil, fmt.Errorf("failed to load variants for experiment %d: %w", experimentID, err)
	}

	out := &Outcome{Experiment: exp, Variants: variants}

	if exp.Status == store.ExperimentCompleted {
		out.Completed = true
		out.Confidence = exp.ConfidenceLevel
		out.ImprovementPct = exp.ImprovementPct
		if exp.WinningVariantID != nil {
			for _, v := range variants {
				if v.ID == *exp.WinningVariantID {
					out.Winner = v
				}
			}
		} else {
			out.Inconclusive = true
		}
		return out, nil
	}
	if exp.Status != store.ExperimentActive {
		return out, nil
	}

	var control *store.Variant
	for _, v := range variants {
		if v.IsControl {
			control = v
		}
	}
	if control == nil {
		return nil, fmt.Errorf("experiment %d has no control variant", experimentID)
	}

	// A winner requires every arm to be fully sampled.
	fullySampled := true
	for _, v := range variants {
		if v.Impressions < e.cfg.MinSampleSize {
			fullySampled = false
			break
		}
	}

	requiredConfidence := 1 - e.cfg.SignificanceThreshold
	controlRate := control.Rate(exp.Metric)

	var winner *store.Variant
	var bestImprovement, bestConfidence float64

	if fullySampled {
		for _, v := range variants {
			if v.IsControl {
				continue
			}

			_, confidence := stats.TwoProportionZTest(
				v.Successes(exp.Metric), v.Impressions,
				control.Successes(exp.Metric), control.Impressions,
			)
			if confidence > bestConfidence {
				bestConfidence = confidence
			}

			rate := v.Rate(exp.Metric)
			if confidence < requiredConfidence || rate <= controlRate {
				continue
			}

			improvement := 0.0
			if controlRate > 0 {
				improvement = (rate - controlRate) / controlRate * 100
			}

			// Tie-break on absolute improvement.
			if winner == nil || improvement > bestImprovement {
				winner = v
				bestImprovement = improvement
				out.Confidence = confidence
			}
		}
	}

	now := e.now().UTC()

	if winner != nil {
		if err := e.store.CompleteExperiment(ctx, experimentID, &winner.ID, out.Confidence, bestImprovement); err != nil {
			return nil, fmt.Errorf("failed to complete experiment %d: %w", experimentID, err)
		}
		out.Winner = winner
		out.ImprovementPct = bestImprovement
		out.Completed = true
		exp.Status = store.ExperimentCompleted
		exp.WinningVariantID = &winner.ID
		exp.ConfidenceLevel = out.Confidence
		exp.ImprovementPct = bestImprovement
		exp.CompletedAt = &now

		e.log.Info("experiment resolved",
			zap.Int64("id", experimentID),
			zap.String("winner", winner.Name),
			zap.Float64("confidence", out.Confidence),
			zap.Float64("improvement_pct", bestImprovement))
		return out, nil
	}

	if now.Sub(exp.StartedAt) > e.cfg.MaxTestDuration {
		// Max duration elapsed without significance. The inconclusive
		// completion is itself a signal: the variable is low-impact.
		if err := e.store.CompleteExperiment(ctx, experimentID, nil, bestConfidence, 0); err != nil {
			return nil, fmt.Errorf("failed to complete experiment %d: %w", experimentID, err)
		}
		out.Completed = true
		out.Inconclusive = true
		out.Confidence = bestConfidence
		exp.Status = store.ExperimentCompleted
		exp.ConfidenceLevel = bestConfidence
		exp.CompletedAt = &now

		e.log.Info("experiment completed without a winner",
			zap.Int64("id", experimentID),
			zap.Duration("age", now.Sub(exp.StartedAt)),
			zap.Float64("best_confidence", bestConfidence))
		return out, nil
	}

	out.Confidence = bestConfidence
	return out, nil
}

// EvaluateAll evaluates every active experiment, running independent
// evaluations concurrently. Cancellation is honored between experiments;
// a single evaluation never stops halfway.
func (e *Engine) EvaluateAll(ctx context.Context) ([]*Outcome, error) {
	active, err := e.store.ListExperiments(ctx, store.ExperimentActive)
	if err != nil {
		return nil, fmt.Errorf("failed to list active experiments: %w", err)
	}

	outcomes := make([]*Outcome, len(active))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)

	for i, exp := range active {
		i, exp := i, exp
		if err := gctx.Err(); err != nil {
			break
		}
		g.Go(func() error {
			out, err := e.Evaluate(gctx, exp.ID)
			if err != nil {
				return err
			}
			outcomes[i] = out
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	results := outcomes[:0:0]
	for _, out := range outcomes {
		if out != nil {
			results = append(results, out)
		}
	}
	return results, nil
}

// Learning summarizes a resolved experiment for downstream reporting.
type Learning struct {
	ExperimentID   int64
	Name           string
	Variable       string
	WinnerName     string
	WinnerConfig   store.Adjustment
	ImprovementPct float64
	Confidence     float64
	CompletedAt    time.Time
}

// Learnings returns the winners declared since the cutoff.
func (e *Engine) Learnings(ctx context.Context, since time.Time) ([]Learning, error) {
	completed, err := e.store.ListExperiments(ctx, store.ExperimentCompleted)
	if err != nil {
		return nil, fmt.Errorf("failed to list completed experiments: %w", err)
	}

	var learnings []Learning
	for _, exp := range completed {
		if exp.WinningVariantID == nil || exp.CompletedAt == nil || exp.CompletedAt.Before(since) {
			continue
		}

		winner, err := e.store.GetVariant(ctx, *exp.WinningVariantID)
		if err != nil {
			return nil, fmt.Errorf("failed to load winning variant for experiment %d: %w", exp.ID, err)
		}

		learnings = append(learnings, Learning{
			ExperimentID:   exp.ID,
			Name:           exp.Name,
			Variable:       exp.Variable,
			WinnerName:     winner.Name,
			WinnerConfig:   winner.Config,
			ImprovementPct: exp.ImprovementPct,
			Confidence:     exp.ConfidenceLevel,
			CompletedAt:    *exp.CompletedAt,
		})
	}
	return learnings, nil
}
