package store

import (
	"context"
	"time"
)

// RecordFilter narrows a performance-record query. Zero values match all.
type RecordFilter struct {
	Platform string
	Format   string
	Asset    string
}

// Store is the narrow persistence contract the optimization core talks
// through. Nothing else in the system reaches the database directly.
type Store interface {
	// Experiment operations.
	CreateExperiment(ctx context.Context, exp *Experiment, variants []*Variant) (*Experiment, error)
	GetExperiment(ctx context.Context, id int64) (*Experiment, error)
	ListExperiments(ctx context.Context, status ExperimentStatus) ([]*Experiment, error)
	FindActiveExperiment(ctx context.Context, variable, asset, platform string) (*Experiment, error)
	CountActiveExperiments(ctx context.Context) (int, error)
	CompleteExperiment(ctx context.Context, id int64, winnerVariantID *int64, confidence, improvementPct float64) error
	UpdateExperimentStatus(ctx context.Context, id int64, status ExperimentStatus) error

	// Variant operations.
	GetVariant(ctx context.Context, id int64) (*Variant, error)
	ListVariants(ctx context.Context, experimentID int64) ([]*Variant, error)
	IncrementVariantCounter(ctx context.Context, variantID int64, event EventType) error

	// Raw performance records.
	InsertPerformanceRecord(ctx context.Context, rec *PerformanceRecord) error
	QueryPerformanceRecords(ctx context.Context, start, end time.Time, filter RecordFilter) ([]*PerformanceRecord, error)

	// Snapshot operations.
	CreateSnapshot(ctx context.Context, snap *Snapshot) (*Snapshot, error)
	GetSnapshot(ctx context.Context, date time.Time, period PeriodType) (*Snapshot, error)
	ListSnapshots(ctx context.Context, period PeriodType, limit int) ([]*Snapshot, error)
	SetSnapshotHealthScore(ctx context.Context, id int64, score float64) error

	// Proposal operations.
	CreateProposal(ctx context.Context, p *Proposal) error
	GetProposal(ctx context.Context, id string) (*Proposal, error)
	ListProposals(ctx context.Context, status ProposalStatus) ([]*Proposal, error)
	UpdateProposalStatus(ctx context.Context, id string, status ProposalStatus, appliedAt *time.Time) error

	// Agent execution logs.
	InsertAgentLog(ctx context.Context, entry *AgentLogEntry) error
	QueryAgentLogs(ctx context.Context, start, end time.Time) ([]*AgentLogEntry, error)

	// Audit trail.
	RecordAuditEntry(ctx context.Context, e *AuditEntry) error
	ListAuditEntries(ctx context.Context, since time.Time) ([]*AuditEntry, error)

	// Lifecycle.
	Close() error
}
