// Package advisor turns snapshot history and resolved experiments into
// discrete, confidence-scored tuning proposals.
package advisor

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tuneloop/tuneloop/internal/stats"
	"github.com/tuneloop/tuneloop/internal/store"
	"github.com/tuneloop/tuneloop/internal/trend"
)

const (
	SourceTrends      = "trend-analyzer"
	SourceExperiments = "experiment-engine"
)

// Config carries the proposal parameters.
type Config struct {
	MinConfidence float64 // proposals below this are discarded, default 0.5
	FlatThreshold float64 // passed through to trend classification
}

type Advisor struct {
	cfg Config
	log *zap.Logger
	now func() time.Time
}

func New(cfg Config, log *zap.Logger) *Advisor {
	return &Advisor{cfg: cfg, log: log, now: time.Now}
}

// trackedMetrics are the snapshot series the advisor watches, each with the
// adjustment it reaches for when the series declines.
var trackedMetrics = []trend.SnapshotMetric{
	trend.MetricEngagementRate,
	trend.MetricConversionRate,
	trend.MetricFollowerGrowth,
}

// ProposeFromTrends inspects snapshot history (newest first, as the store
// returns it) and emits a proposal for each tracked metric that has been
// declining for at least two consecutive periods. Proposals below the
// confidence floor are discarded. When two proposals would target the same
// (category, parameter), only the higher-confidence one survives.
func (a *Advisor) ProposeFromTrends(snapshots []*store.Snapshot) []*store.Proposal {
	if len(snapshots) < 3 {
		return nil
	}
	latest := snapshots[0]

	byTarget := map[string]*store.Proposal{}

	for _, metric := range trackedMetrics {
		series := trend.MetricSeries(snapshots, metric)

		values := make([]float64, len(series))
		for i, p := range series {
			values[i] = p.Value
		}
		t := stats.LinearTrend(values, a.cfg.FlatThreshold)
		if t.Direction != stats.TrendDeclining {
			continue
		}
		if !sustainedDecline(values) {
			continue
		}

		confidence := trendConfidence(t.NormalizedSlope, len(values))
		if confidence < a.cfg.MinConfidence {
			a.log.Debug("trend proposal below confidence floor",
				zap.String("metric", string(metric)),
				zap.Float64("confidence", confidence))
			continue
		}

		p := a.proposalForDecline(metric, latest, t, confidence)
		if p == nil {
			continue
		}

		target := p.Category + "/" + p.Parameter
		if existing, ok := byTarget[target]; !ok || p.Confidence > existing.Confidence {
			byTarget[target] = p
		}
	}

	proposals := make([]*store.Proposal, 0, len(byTarget))
	for _, p := range byTarget {
		proposals = append(proposals, p)
	}
	return proposals
}

// sustainedDecline requires the two most recent period-over-period deltas
// to both be negative, so a single bad day doesn't trigger a proposal.
func sustainedDecline(values []float64) bool {
	n := len(values)
	if n < 3 {
		return false
	}
	return values[n-1] < values[n-2] && values[n-2] < values[n-3]
}

// trendConfidence scales slope magnitude and sample size into [0,1].
// A 10%-per-period decline over a full week of snapshots saturates at 1.
func trendConfidence(normalizedSlope float64, samples int) float64 {
	magnitude := math.Min(1, math.Abs(normalizedSlope)*10)
	size := math.Min(1, float64(samples)/7)
	return magnitude * size
}

func (a *Advisor) proposalForDecline(metric trend.SnapshotMetric, latest *store.Snapshot, t stats.Trend, confidence float64) *store.Proposal {
	var adj store.Adjustment
	var description string

	switch metric {
	case trend.MetricEngagementRate:
		if latest.TopFormat == "" {
			return nil
		}
		adj = store.Adjustment{
			Kind:           store.AdjustFormatPriority,
			FormatPriority: &store.FormatPriority{Format: latest.TopFormat, WeightDelta: 0.1},
		}
		description = fmt.Sprintf(
			"engagement rate declining %.1f%% per period; weight scheduling toward the best-performing format %q",
			math.Abs(t.NormalizedSlope)*100, latest.TopFormat)

	case trend.MetricConversionRate:
		value := math.Min(1, latest.AvgInsightConfidence+0.05)
		adj = store.Adjustment{
			Kind:                store.AdjustConfidenceThreshold,
			ConfidenceThreshold: &store.ConfidenceThreshold{Parameter: "min_insight_confidence", Value: value},
		}
		description = fmt.Sprintf(
			"conversion rate declining %.1f%% per period; raise the insight confidence gate to %.2f",
			math.Abs(t.NormalizedSlope)*100, value)

	case trend.MetricFollowerGrowth:
		adj = store.Adjustment{
			Kind:        store.AdjustTimingShift,
			TimingShift: &store.TimingShift{Platform: "all", Hour: latest.TopPostingHour},
		}
		description = fmt.Sprintf(
			"follower growth declining %.1f%% per period; move the primary posting slot to the best hour (%02d:00 UTC)",
			math.Abs(t.NormalizedSlope)*100, latest.TopPostingHour)

	default:
		return nil
	}

	return &store.Proposal{
		ID:          uuid.NewString(),
		Source:      SourceTrends,
		Category:    adj.Category(),
		Parameter:   adj.Parameter(),
		Description: description,
		Adjustment:  adj,
		ImpactScore: math.Abs(t.NormalizedSlope) * 100,
		Confidence:  confidence,
		Status:      store.ProposalPending,
		CreatedAt:   a.now().UTC(),
	}
}

// ProposeFromExperiment emits exactly one proposal adopting the winning
// variant's configuration as the new default. Only valid for experiments
// resolved with a winner; the proposal inherits the experiment's
// statistical confidence.
func (a *Advisor) ProposeFromExperiment(exp *store.Experiment, winner *store.Variant) (*store.Proposal, error) {
	if exp.Status != store.ExperimentCompleted || exp.WinningVariantID == nil {
		return nil, fmt.Errorf("experiment %d has no declared winner", exp.ID)
	}
	if winner == nil || winner.ID != *exp.WinningVariantID {
		return nil, fmt.Errorf("variant does not match experiment %d's winner", exp.ID)
	}
	if err := winner.Config.Validate(); err != nil {
		return nil, fmt.Errorf("winning variant has invalid config: %w", err)
	}

	return &store.Proposal{
		ID:        uuid.NewString(),
		Source:    SourceExperiments,
		Category:  winner.Config.Category(),
		Parameter: winner.Config.Parameter(),
		Description: fmt.Sprintf(
			"experiment %q: variant %q beat control by %.1f%% at %.0f%% confidence; adopt its configuration as the default",
			exp.Name, winner.Name, exp.ImprovementPct, exp.ConfidenceLevel*100),
		Adjustment:  winner.Config,
		ImpactScore: exp.ImprovementPct,
		Confidence:  exp.ConfidenceLevel,
		Status:      store.ProposalPending,
		CreatedAt:   a.now().UTC(),
	}, nil
}
