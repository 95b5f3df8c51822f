package store

import "time"

type ExperimentStatus string

const (
	ExperimentActive    ExperimentStatus = "active"
	ExperimentCompleted ExperimentStatus = "completed"
	ExperimentPaused    ExperimentStatus = "paused"
	ExperimentCancelled ExperimentStatus = "cancelled"
)

// Metric is the success metric an experiment is judged on.
type Metric string

const (
	MetricEngagement Metric = "engagement"
	MetricConversion Metric = "conversion"
	MetricClick      Metric = "click"
)

type Experiment struct {
	ID               int64
	Name             string
	Hypothesis       string
	Variable         string // posting_time, format, call_to_action, ...
	Metric           Metric
	Asset            string // optional scope filter
	Platform         string // optional scope filter
	Status           ExperimentStatus
	WinningVariantID *int64
	ConfidenceLevel  float64
	ImprovementPct   float64
	StartedAt        time.Time
	CompletedAt      *time.Time
}

type EventType string

const (
	EventImpression EventType = "impression"
	EventClick      EventType = "click"
	EventEngagement EventType = "engagement"
	EventConversion EventType = "conversion"
)

// ValidEvent reports whether e is one of the known counter events.
func ValidEvent(e EventType) bool {
	switch e {
	case EventImpression, EventClick, EventEngagement, EventConversion:
		return true
	}
	return false
}

type Variant struct {
	ID           int64
	ExperimentID int64
	Name         string
	IsControl    bool
	Config       Adjustment
	Impressions  int64
	Clicks       int64
	Engagements  int64
	Conversions  int64
	CreatedAt    time.Time
}

// Rate returns the variant's success rate for the given metric,
// computed on read rather than stored.
func (v *Variant) Rate(m Metric) float64 {
	if v.Impressions == 0 {
		return 0
	}
	return float64(v.Successes(m)) / float64(v.Impressions)
}

// Successes returns the raw success count for the given metric.
func (v *Variant) Successes(m Metric) int64 {
	switch m {
	case MetricConversion:
		return v.Conversions
	case MetricClick:
		return v.Clicks
	default:
		return v.Engagements
	}
}

type PeriodType string

const (
	PeriodDaily   PeriodType = "daily"
	PeriodWeekly  PeriodType = "weekly"
	PeriodMonthly PeriodType = "monthly"
)

// Duration returns the length of one period.
func (p PeriodType) Duration() time.Duration {
	switch p {
	case PeriodWeekly:
		return 7 * 24 * time.Hour
	case PeriodMonthly:
		return 30 * 24 * time.Hour
	default:
		return 24 * time.Hour
	}
}

// Snapshot is an immutable rollup of system performance for one period.
// One snapshot exists per (date, period type).
type Snapshot struct {
	ID     int64
	Date   time.Time // period end, stored at day granularity
	Period PeriodType

	// Content metrics.
	ContentCount      int
	AvgEngagementRate float64
	TotalImpressions  int64
	TotalClicks       int64

	// Audience metrics.
	NewFollowers       int
	FollowerGrowthRate float64

	// Monetization metrics.
	NewConversions int
	ConversionRate float64
	Revenue        float64

	// Best performing dimensions.
	TopFormat      string
	TopAsset       string
	TopInsightType string
	TopPostingHour int

	// AI insight quality.
	AvgInsightConfidence float64
	InsightAccuracyRate  float64

	// Health score cached alongside the snapshot it was derived from.
	HealthScore *float64

	CreatedAt time.Time
}

type ProposalStatus string

const (
	ProposalPending    ProposalStatus = "pending"
	ProposalApplied    ProposalStatus = "applied"
	ProposalRejected   ProposalStatus = "rejected"
	ProposalSuperseded ProposalStatus = "superseded"
)

// Proposal is a candidate configuration change produced by the advisor.
type Proposal struct {
	ID          string // uuid
	Source      string // which agent produced it
	Category    string // timing, format-priority, confidence-threshold
	Parameter   string // concrete target, e.g. "posting_hour/twitter"
	Description string
	Adjustment  Adjustment
	ImpactScore float64
	Confidence  float64 // [0,1]
	Status      ProposalStatus
	CreatedAt   time.Time
	AppliedAt   *time.Time
}

// PerformanceRecord is one raw row of published-content performance,
// written by the external publishing pipeline and read by the analyzer.
type PerformanceRecord struct {
	ID                int64
	PublishedAt       time.Time
	Platform          string
	Format            string
	Asset             string
	InsightType       string
	InsightConfidence float64
	Views             int64
	Likes             int64
	Comments          int64
	Shares            int64
	Conversions       int64
	Revenue           float64
	FollowerDelta     int
}

// EngagementRate is likes+comments+shares over views, computed on read.
func (r *PerformanceRecord) EngagementRate() float64 {
	if r.Views == 0 {
		return 0
	}
	return float64(r.Likes+r.Comments+r.Shares) / float64(r.Views)
}

// AgentLogEntry records one agent execution, used for the stability sub-score.
type AgentLogEntry struct {
	ID        int64
	Agent     string
	Action    string
	Status    string // "success" or "error"
	Error     string
	Duration  time.Duration
	Timestamp time.Time
}

// AuditEntry records an applied/rejected proposal for traceability.
// Write-only from the optimization core's perspective.
type AuditEntry struct {
	ID         int64
	ProposalID string
	Category   string
	Parameter  string
	Outcome    string // "applied", "approved", "rejected"
	Confidence float64
	Reason     string
	CreatedAt  time.Time
}
