// Package trend builds periodic performance snapshots and detects
// directional trends and statistical outliers in metric series.
package trend

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/tuneloop/tuneloop/internal/stats"
	"github.com/tuneloop/tuneloop/internal/store"
)

// ErrInsufficientData means there are no underlying records for the period.
// Recoverable: callers skip the source, they don't abort the cycle.
var ErrInsufficientData = errors.New("insufficient data")

// Config carries the analysis parameters.
type Config struct {
	AnomalyStdDevThreshold float64 // default 2.0
	AnomalyWindow          int     // trailing points, default 30
	FlatThreshold          float64 // normalized slope magnitude below this is flat
}

type Analyzer struct {
	store store.Store
	cfg   Config
	log   *zap.Logger
	now   func() time.Time
}

func NewAnalyzer(s store.Store, cfg Config, log *zap.Logger) *Analyzer {
	return &Analyzer{store: s, cfg: cfg, log: log, now: time.Now}
}

// BuildSnapshot aggregates raw performance records into a snapshot for the
// period ending at asOf. Returns the existing snapshot if one was already
// built for that (date, period); returns ErrInsufficientData when there are
// no records at all, in which case nothing is persisted.
func (a *Analyzer) BuildSnapshot(ctx context.Context, period store.PeriodType, asOf time.Time) (*store.Snapshot, error) {
	asOf = asOf.UTC()

	if existing, err := a.store.GetSnapshot(ctx, asOf, period); err == nil {
		a.log.Debug("snapshot already exists",
			zap.String("period", string(period)),
			zap.Time("date", asOf))
		return existing, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("failed to check for existing snapshot: %w", err)
	}

	start := asOf.Add(-period.Duration())
	records, err := a.store.QueryPerformanceRecords(ctx, start, asOf, store.RecordFilter{})
	if err != nil {
		return nil, fmt.Errorf("failed to query performance records: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("no performance records in [%s, %s): %w",
			start.Format(time.RFC3339), asOf.Format(time.RFC3339), ErrInsufficientData)
	}

	snap := aggregate(records, period, asOf)

	created, err := a.store.CreateSnapshot(ctx, snap)
	if err != nil {
		return nil, fmt.Errorf("failed to persist snapshot: %w", err)
	}

	a.log.Info("snapshot created",
		zap.String("period", string(period)),
		zap.Time("date", asOf),
		zap.Int("records", len(records)),
		zap.Float64("avg_engagement_rate", created.AvgEngagementRate))

	return created, nil
}

// aggregate rolls raw records up into a snapshot. Pure: no store access.
func aggregate(records []*store.PerformanceRecord, period store.PeriodType, asOf time.Time) *store.Snapshot {
	snap := &store.Snapshot{
		Date:         asOf,
		Period:       period,
		ContentCount: len(records),
	}

	var engagementSum, confidenceSum float64
	formatRates := map[string][]float64{}
	assetRates := map[string][]float64{}
	insightRates := map[string][]float64{}
	hourRates := map[int][]float64{}

	for _, r := range records {
		rate := r.EngagementRate()
		engagementSum += rate
		confidenceSum += r.InsightConfidence
		snap.TotalImpressions += r.Views
		snap.TotalClicks += r.Likes + r.Comments + r.Shares
		snap.NewConversions += int(r.Conversions)
		snap.Revenue += r.Revenue
		snap.NewFollowers += r.FollowerDelta

		if r.Format != "" {
			formatRates[r.Format] = append(formatRates[r.Format], rate)
		}
		if r.Asset != "" {
			assetRates[r.Asset] = append(assetRates[r.Asset], rate)
		}
		if r.InsightType != "" {
			insightRates[r.InsightType] = append(insightRates[r.InsightType], rate)
		}
		hourRates[r.PublishedAt.UTC().Hour()] = append(hourRates[r.PublishedAt.UTC().Hour()], rate)
	}

	n := float64(len(records))
	snap.AvgEngagementRate = engagementSum / n
	snap.AvgInsightConfidence = confidenceSum / n

	if snap.TotalImpressions > 0 {
		snap.ConversionRate = float64(snap.NewConversions) / float64(snap.TotalImpressions)
	}

	days := period.Duration().Hours() / 24
	snap.FollowerGrowthRate = float64(snap.NewFollowers) / days

	snap.TopFormat = bestKey(formatRates)
	snap.TopAsset = bestKey(assetRates)
	snap.TopInsightType = bestKey(insightRates)
	snap.TopPostingHour = bestHour(hourRates)

	// Realized accuracy: the share of high-confidence insights whose content
	// actually outperformed the period average.
	var highConf, accurate int
	for _, r := range records {
		if r.InsightConfidence >= 0.8 {
			highConf++
			if r.EngagementRate() >= snap.AvgEngagementRate {
				accurate++
			}
		}
	}
	if highConf > 0 {
		snap.InsightAccuracyRate = float64(accurate) / float64(highConf)
	}

	return snap
}

func bestKey(rates map[string][]float64) string {
	best := ""
	bestAvg := math.Inf(-1)
	for k, vals := range rates {
		if avg := stats.Mean(vals); avg > bestAvg || (avg == bestAvg && k < best) {
			best, bestAvg = k, avg
		}
	}
	return best
}

func bestHour(rates map[int][]float64) int {
	best := 0
	bestAvg := math.Inf(-1)
	for h, vals := range rates {
		if avg := stats.Mean(vals); avg > bestAvg || (avg == bestAvg && h < best) {
			best, bestAvg = h, avg
		}
	}
	return best
}

// Point is one (timestamp, value) sample of a metric series.
type Point struct {
	Time  time.Time
	Value float64
}

// Anomaly is a point whose deviation from the trailing-window mean exceeded
// the configured threshold.
type Anomaly struct {
	Time   time.Time
	Value  float64
	ZScore float64
}

// ComputeTrend fits an OLS regression over the ordered series and returns
// the direction plus the slope normalized by the series mean.
func (a *Analyzer) ComputeTrend(series []Point) stats.Trend {
	values := make([]float64, len(series))
	for i, p := range series {
		values[i] = p.Value
	}
	return stats.LinearTrend(values, a.cfg.FlatThreshold)
}

// DetectAnomalies flags points deviating from the trailing-window mean by
// more than the configured number of population standard deviations. The
// result is recomputed fresh on every call; there is no cursor state.
func (a *Analyzer) DetectAnomalies(series []Point) []Anomaly {
	window := a.cfg.AnomalyWindow
	if window <= 0 || window > len(series) {
		window = len(series)
	}

	tail := series[len(series)-window:]
	values := make([]float64, len(tail))
	for i, p := range tail {
		values[i] = p.Value
	}

	mean := stats.Mean(values)
	stddev := stats.StdDev(values)
	if stddev == 0 {
		return nil
	}

	var anomalies []Anomaly
	for _, p := range tail {
		z := (p.Value - mean) / stddev
		if math.Abs(z) > a.cfg.AnomalyStdDevThreshold {
			anomalies = append(anomalies, Anomaly{Time: p.Time, Value: p.Value, ZScore: z})
		}
	}
	return anomalies
}

// SnapshotMetric names a snapshot field that can be read as a time series.
type SnapshotMetric string

const (
	MetricEngagementRate SnapshotMetric = "engagement_rate"
	MetricConversionRate SnapshotMetric = "conversion_rate"
	MetricFollowerGrowth SnapshotMetric = "follower_growth_rate"
	MetricRevenue        SnapshotMetric = "revenue"
)

// MetricSeries extracts one metric from snapshots as an ordered series.
// Snapshots are expected newest-first (store order); the result is
// oldest-first, ready for trend fitting.
func MetricSeries(snapshots []*store.Snapshot, metric SnapshotMetric) []Point {
	series := make([]Point, 0, len(snapshots))
	for i := len(snapshots) - 1; i >= 0; i-- {
		s := snapshots[i]
		var v float64
		switch metric {
		case MetricConversionRate:
			v = s.ConversionRate
		case MetricFollowerGrowth:
			v = s.FollowerGrowthRate
		case MetricRevenue:
			v = s.Revenue
		default:
			v = s.AvgEngagementRate
		}
		series = append(series, Point{Time: s.Date, Value: v})
	}
	return series
}
