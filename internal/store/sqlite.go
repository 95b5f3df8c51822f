package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
)

const dateLayout = "2006-01-02"

type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS experiments (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL,
    hypothesis TEXT,
    variable TEXT NOT NULL,
    metric TEXT NOT NULL,
    asset TEXT NOT NULL DEFAULT '',
    platform TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL DEFAULT 'active',
    winning_variant_id INTEGER,
    confidence_level REAL NOT NULL DEFAULT 0,
    improvement_pct REAL NOT NULL DEFAULT 0,
    started_at INTEGER NOT NULL,
    completed_at INTEGER
);

CREATE INDEX IF NOT EXISTS idx_experiments_status ON experiments(status);
CREATE UNIQUE INDEX IF NOT EXISTS idx_experiments_active_scope
    ON experiments(variable, asset, platform) WHERE status = 'active';

CREATE TABLE IF NOT EXISTS variants (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    experiment_id INTEGER NOT NULL,
    name TEXT NOT NULL,
    is_control INTEGER NOT NULL DEFAULT 0,
    config TEXT NOT NULL,
    impressions INTEGER NOT NULL DEFAULT 0,
    clicks INTEGER NOT NULL DEFAULT 0,
    engagements INTEGER NOT NULL DEFAULT 0,
    conversions INTEGER NOT NULL DEFAULT 0,
    created_at INTEGER NOT NULL,
    FOREIGN KEY (experiment_id) REFERENCES experiments(id)
);

CREATE INDEX IF NOT EXISTS idx_variants_experiment ON variants(experiment_id);

CREATE TABLE IF NOT EXISTS performance_records (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    published_at INTEGER NOT NULL,
    platform TEXT NOT NULL DEFAULT '',
    format TEXT NOT NULL DEFAULT '',
    asset TEXT NOT NULL DEFAULT '',
    insight_type TEXT NOT NULL DEFAULT '',
    insight_confidence REAL NOT NULL DEFAULT 0,
    views INTEGER NOT NULL DEFAULT 0,
    likes INTEGER NOT NULL DEFAULT 0,
    comments INTEGER NOT NULL DEFAULT 0,
    shares INTEGER NOT NULL DEFAULT 0,
    conversions INTEGER NOT NULL DEFAULT 0,
    revenue REAL NOT NULL DEFAULT 0,
    follower_delta INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_records_published ON performance_records(published_at);

CREATE TABLE IF NOT EXISTS snapshots (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    snapshot_date TEXT NOT NULL,
    period_type TEXT NOT NULL,
    content_count INTEGER NOT NULL DEFAULT 0,
    avg_engagement_rate REAL NOT NULL DEFAULT 0,
    total_impressions INTEGER NOT NULL DEFAULT 0,
    total_clicks INTEGER NOT NULL DEFAULT 0,
    new_followers INTEGER NOT NULL DEFAULT 0,
    follower_growth_rate REAL NOT NULL DEFAULT 0,
    new_conversions INTEGER NOT NULL DEFAULT 0,
    conversion_rate REAL NOT NULL DEFAULT 0,
    revenue REAL NOT NULL DEFAULT 0,
    top_format TEXT NOT NULL DEFAULT '',
    top_asset TEXT NOT NULL DEFAULT '',
    top_insight_type TEXT NOT NULL DEFAULT '',
    top_posting_hour INTEGER NOT NULL DEFAULT 0,
    avg_insight_confidence REAL NOT NULL DEFAULT 0,
    insight_accuracy_rate REAL NOT NULL DEFAULT 0,
    health_score REAL,
    created_at INTEGER NOT NULL,
    UNIQUE(snapshot_date, period_type)
);

CREATE TABLE IF NOT EXISTS proposals (
    id TEXT PRIMARY KEY,
    source TEXT NOT NULL,
    category TEXT NOT NULL,
    parameter TEXT NOT NULL,
    description TEXT NOT NULL,
    adjustment TEXT NOT NULL,
    impact_score REAL NOT NULL DEFAULT 0,
    confidence REAL NOT NULL DEFAULT 0,
    status TEXT NOT NULL DEFAULT 'pending',
    created_at INTEGER NOT NULL,
    applied_at INTEGER
);

CREATE INDEX IF NOT EXISTS idx_proposals_status ON proposals(status);
CREATE UNIQUE INDEX IF NOT EXISTS idx_proposals_pending_target
    ON proposals(category, parameter) WHERE status = 'pending';

CREATE TABLE IF NOT EXISTS agent_logs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    agent TEXT NOT NULL,
    action TEXT NOT NULL,
    status TEXT NOT NULL,
    error TEXT NOT NULL DEFAULT '',
    duration_ms INTEGER NOT NULL DEFAULT 0,
    timestamp INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_agent_logs_timestamp ON agent_logs(timestamp);

CREATE TABLE IF NOT EXISTS audit_log (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    proposal_id TEXT NOT NULL,
    category TEXT NOT NULL,
    parameter TEXT NOT NULL,
    outcome TEXT NOT NULL,
    confidence REAL NOT NULL DEFAULT 0,
    reason TEXT NOT NULL DEFAULT '',
    created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_audit_created ON audit_log(created_at);
`

func Open(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable WAL mode
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// Apply schema
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// DB returns the underlying database connection for health checks
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

// isUniqueViolation matches SQLite's unique-constraint error text.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// --- Experiments ---

func (s *SQLiteStore) CreateExperiment(ctx context.Context, exp *Experiment, variants []*Variant) (*Experiment, error) {
	controls := 0
	for _, v := range variants {
		if v.IsControl {
			controls++
		}
		if err := v.Config.Validate(); err != nil {
			return nil, fmt.Errorf("invalid variant config for %q: %w", v.Name, err)
		}
	}
	if controls != 1 {
		return nil, fmt.Errorf("experiment requires exactly one control variant, got %d", controls)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := exp.StartedAt
	if now.IsZero() {
		now = time.Now().UTC()
	}

	result, err := tx.ExecContext(ctx,
		`INSERT INTO experiments (name, hypothesis, variable, metric, asset, platform, status, started_at)
		 VALUES (?, ?, ?, ?, ?, ?, 'active', ?)`,
		exp.Name, exp.Hypothesis, exp.Variable, string(exp.Metric), exp.Asset, exp.Platform, now.Unix(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("active experiment for (%s, %s, %s): %w", exp.Variable, exp.Asset, exp.Platform, ErrConflict)
		}
		return nil, fmt.Errorf("failed to insert experiment: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get last insert id: %w", err)
	}

	for _, v := range variants {
		configJSON, err := json.Marshal(v.Config)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal variant config: %w", err)
		}

		res, err := tx.ExecContext(ctx,
			`INSERT INTO variants (experiment_id, name, is_control, config, created_at)
			 VALUES (?, ?, ?, ?, ?)`,
			id, v.Name, boolToInt(v.IsControl), string(configJSON), now.Unix(),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to insert variant: %w", err)
		}
		v.ID, _ = res.LastInsertId()
		v.ExperimentID = id
		v.CreatedAt = time.Unix(now.Unix(), 0)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit experiment: %w", err)
	}

	created := *exp
	created.ID = id
	created.Status = ExperimentActive
	created.StartedAt = time.Unix(now.Unix(), 0)
	return &created, nil
}

const experimentColumns = `id, name, hypothesis, variable, metric, asset, platform, status,
	winning_variant_id, confidence_level, improvement_pct, started_at, completed_at`

func scanExperiment(row interface{ Scan(...any) error }) (*Experiment, error) {
	var exp Experiment
	var metric string
	var winner sql.NullInt64
	var startedAt int64
	var completedAt sql.NullInt64

	err := row.Scan(&exp.ID, &exp.Name, &exp.Hypothesis, &exp.Variable, &metric, &exp.Asset,
		&exp.Platform, &exp.Status, &winner, &exp.ConfidenceLevel, &exp.ImprovementPct,
		&startedAt, &completedAt)
	if err != nil {
		return nil, err
	}

	exp.Metric = Metric(metric)
	if winner.Valid {
		w := winner.Int64
		exp.WinningVariantID = &w
	}
	exp.StartedAt = time.Unix(startedAt, 0)
	if completedAt.Valid {
		t := time.Unix(completedAt.Int64, 0)
		exp.CompletedAt = &t
	}
	return &exp, nil
}

func (s *SQLiteStore) GetExperiment(ctx context.Context, id int64) (*Experiment, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+experimentColumns+` FROM experiments WHERE id = ?`, id)

	exp, err := scanExperiment(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get experiment: %w", err)
	}
	return exp, nil
}

func (s *SQLiteStore) ListExperiments(ctx context.Context, status ExperimentStatus) ([]*Experiment, error) {
	query := `SELECT ` + experimentColumns + ` FROM experiments`
	args := []any{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY started_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list experiments: %w", err)
	}
	defer rows.Close()

	var experiments []*Experiment
	for rows.Next() {
		exp, err := scanExperiment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan experiment: %w", err)
		}
		experiments = append(experiments, exp)
	}
	return experiments, rows.Err()
}

func (s *SQLiteStore) FindActiveExperiment(ctx context.Context, variable, asset, platform string) (*Experiment, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+experimentColumns+` FROM experiments
		 WHERE status = 'active' AND variable = ? AND asset = ? AND platform = ?`,
		variable, asset, platform)

	exp, err := scanExperiment(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find active experiment: %w", err)
	}
	return exp, nil
}

func (s *SQLiteStore) CountActiveExperiments(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM experiments WHERE status = 'active'`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count active experiments: %w", err)
	}
	return count, nil
}

func (s *SQLiteStore) CompleteExperiment(ctx context.Context, id int64, winnerVariantID *int64, confidence, improvementPct float64) error {
	now := time.Now().UTC().Unix()

	var result sql.Result
	var err error
	if winnerVariantID != nil {
		result, err = s.db.ExecContext(ctx,
			`UPDATE experiments SET status = 'completed', winning_variant_id = ?,
			 confidence_level = ?, improvement_pct = ?, completed_at = ?
			 WHERE id = ? AND status = 'active'`,
			*winnerVariantID, confidence, improvementPct, now, id)
	} else {
		result, err = s.db.ExecContext(ctx,
			`UPDATE experiments SET status = 'completed',
			 confidence_level = ?, improvement_pct = ?, completed_at = ?
			 WHERE id = ? AND status = 'active'`,
			confidence, improvementPct, now, id)
	}
	if err != nil {
		return fmt.Errorf("failed to complete experiment: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) UpdateExperimentStatus(ctx context.Context, id int64, status ExperimentStatus) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE experiments SET status = ? WHERE id = ?`, string(status), id)
	if err != nil {
		return fmt.Errorf("failed to update experiment status: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Variants ---

const variantColumns = `id, experiment_id, name, is_control, config,
	impressions, clicks, engagements, conversions, created_at`

func scanVariant(row interface{ Scan(...any) error }) (*Variant, error) {
	var v Variant
	var isControl int
	var configJSON string
	var createdAt int64

	err := row.Scan(&v.ID, &v.ExperimentID, &v.Name, &isControl, &configJSON,
		&v.Impressions, &v.Clicks, &v.Engagements, &v.Conversions, &createdAt)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(configJSON), &v.Config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal variant config: %w", err)
	}
	v.IsControl = isControl != 0
	v.CreatedAt = time.Unix(createdAt, 0)
	return &v, nil
}

func (s *SQLiteStore) GetVariant(ctx context.Context, id int64) (*Variant, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+variantColumns+` FROM variants WHERE id = ?`, id)

	v, err := scanVariant(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get variant: %w", err)
	}
	return v, nil
}

func (s *SQLiteStore) ListVariants(ctx context.Context, experimentID int64) ([]*Variant, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+variantColumns+` FROM variants WHERE experiment_id = ? ORDER BY id`,
		experimentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list variants: %w", err)
	}
	defer rows.Close()

	var variants []*Variant
	for rows.Next() {
		v, err := scanVariant(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan variant: %w", err)
		}
		variants = append(variants, v)
	}
	return variants, rows.Err()
}

// IncrementVariantCounter bumps one counter with a single UPDATE so concurrent
// observers never read-modify-write. Counters only ever go up.
func (s *SQLiteStore) IncrementVariantCounter(ctx context.Context, variantID int64, event EventType) error {
	var column string
	switch event {
	case EventImpression:
		column = "impressions"
	case EventClick:
		column = "clicks"
	case EventEngagement:
		column = "engagements"
	case EventConversion:
		column = "conversions"
	default:
		return fmt.Errorf("unknown event type %q", event)
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE variants SET `+column+` = `+column+` + 1 WHERE id = ?`, variantID)
	if err != nil {
		return fmt.Errorf("failed to increment %s: %w", column, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Performance records ---

func (s *SQLiteStore) InsertPerformanceRecord(ctx context.Context, rec *PerformanceRecord) error {
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO performance_records
		 (published_at, platform, format, asset, insight_type, insight_confidence,
		  views, likes, comments, shares, conversions, revenue, follower_delta)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.PublishedAt.Unix(), rec.Platform, rec.Format, rec.Asset, rec.InsightType,
		rec.InsightConfidence, rec.Views, rec.Likes, rec.Comments, rec.Shares,
		rec.Conversions, rec.Revenue, rec.FollowerDelta)
	if err != nil {
		return fmt.Errorf("failed to insert performance record: %w", err)
	}
	rec.ID, _ = result.LastInsertId()
	return nil
}

func (s *SQLiteStore) QueryPerformanceRecords(ctx context.Context, start, end time.Time, filter RecordFilter) ([]*PerformanceRecord, error) {
	query := `SELECT id, published_at, platform, format, asset, insight_type, insight_confidence,
		views, likes, comments, shares, conversions, revenue, follower_delta
		FROM performance_records WHERE published_at >= ? AND published_at < ?`
	args := []any{start.Unix(), end.Unix()}

	if filter.Platform != "" {
		query += ` AND platform = ?`
		args = append(args, filter.Platform)
	}
	if filter.Format != "" {
		query += ` AND format = ?`
		args = append(args, filter.Format)
	}
	if filter.Asset != "" {
		query += ` AND asset = ?`
		args = append(args, filter.Asset)
	}
	query += ` ORDER BY published_at`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query performance records: %w", err)
	}
	defer rows.Close()

	var records []*PerformanceRecord
	for rows.Next() {
		var rec PerformanceRecord
		var publishedAt int64
		err := rows.Scan(&rec.ID, &publishedAt, &rec.Platform, &rec.Format, &rec.Asset,
			&rec.InsightType, &rec.InsightConfidence, &rec.Views, &rec.Likes, &rec.Comments,
			&rec.Shares, &rec.Conversions, &rec.Revenue, &rec.FollowerDelta)
		if err != nil {
			return nil, fmt.Errorf("failed to scan performance record: %w", err)
		}
		rec.PublishedAt = time.Unix(publishedAt, 0)
		records = append(records, &rec)
	}
	return records, rows.Err()
}

// --- Snapshots ---

func (s *SQLiteStore) CreateSnapshot(ctx context.Context, snap *Snapshot) (*Snapshot, error) {
	now := time.Now().UTC()

	result, err := s.db.ExecContext(ctx,
		`INSERT INTO snapshots
		 (snapshot_date, period_type, content_count, avg_engagement_rate, total_impressions,
		  total_clicks, new_followers, follower_growth_rate, new_conversions, conversion_rate,
		  revenue, top_format, top_asset, top_insight_type, top_posting_hour,
		  avg_insight_confidence, insight_accuracy_rate, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		snap.Date.UTC().Format(dateLayout), string(snap.Period), snap.ContentCount,
		snap.AvgEngagementRate, snap.TotalImpressions, snap.TotalClicks, snap.NewFollowers,
		snap.FollowerGrowthRate, snap.NewConversions, snap.ConversionRate, snap.Revenue,
		snap.TopFormat, snap.TopAsset, snap.TopInsightType, snap.TopPostingHour,
		snap.AvgInsightConfidence, snap.InsightAccuracyRate, now.Unix())
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("snapshot for (%s, %s): %w",
				snap.Date.UTC().Format(dateLayout), snap.Period, ErrConflict)
		}
		return nil, fmt.Errorf("failed to insert snapshot: %w", err)
	}

	created := *snap
	created.ID, _ = result.LastInsertId()
	created.CreatedAt = time.Unix(now.Unix(), 0)
	return &created, nil
}

const snapshotColumns = `id, snapshot_date, period_type, content_count, avg_engagement_rate,
	total_impressions, total_clicks, new_followers, follower_growth_rate, new_conversions,
	conversion_rate, revenue, top_format, top_asset, top_insight_type, top_posting_hour,
	avg_insight_confidence, insight_accuracy_rate, health_score, created_at`

func scanSnapshot(row interface{ Scan(...any) error }) (*Snapshot, error) {
	var snap Snapshot
	var date string
	var health sql.NullFloat64
	var createdAt int64

	err := row.Scan(&snap.ID, &date, &snap.Period, &snap.ContentCount, &snap.AvgEngagementRate,
		&snap.TotalImpressions, &snap.TotalClicks, &snap.NewFollowers, &snap.FollowerGrowthRate,
		&snap.NewConversions, &snap.ConversionRate, &snap.Revenue, &snap.TopFormat,
		&snap.TopAsset, &snap.TopInsightType, &snap.TopPostingHour,
		&snap.AvgInsightConfidence, &snap.InsightAccuracyRate, &health, &createdAt)
	if err != nil {
		return nil, err
	}

	snap.Date, err = time.ParseInLocation(dateLayout, date, time.UTC)
	if err != nil {
		return nil, fmt.Errorf("failed to parse snapshot date: %w", err)
	}
	if health.Valid {
		h := health.Float64
		snap.HealthScore = &h
	}
	snap.CreatedAt = time.Unix(createdAt, 0)
	return &snap, nil
}

func (s *SQLiteStore) GetSnapshot(ctx context.Context, date time.Time, period PeriodType) (*Snapshot, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+snapshotColumns+` FROM snapshots WHERE snapshot_date = ? AND period_type = ?`,
		date.UTC().Format(dateLayout), string(period))

	snap, err := scanSnapshot(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get snapshot: %w", err)
	}
	return snap, nil
}

func (s *SQLiteStore) ListSnapshots(ctx context.Context, period PeriodType, limit int) ([]*Snapshot, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+snapshotColumns+` FROM snapshots WHERE period_type = ?
		 ORDER BY snapshot_date DESC LIMIT ?`,
		string(period), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	defer rows.Close()

	var snapshots []*Snapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		snapshots = append(snapshots, snap)
	}
	return snapshots, rows.Err()
}

func (s *SQLiteStore) SetSnapshotHealthScore(ctx context.Context, id int64, score float64) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE snapshots SET health_score = ? WHERE id = ?`, score, id)
	if err != nil {
		return fmt.Errorf("failed to set health score: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Proposals ---

func (s *SQLiteStore) CreateProposal(ctx context.Context, p *Proposal) error {
	if err := p.Adjustment.Validate(); err != nil {
		return fmt.Errorf("invalid proposal adjustment: %w", err)
	}

	adjustmentJSON, err := json.Marshal(p.Adjustment)
	if err != nil {
		return fmt.Errorf("failed to marshal adjustment: %w", err)
	}

	createdAt := p.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO proposals (id, source, category, parameter, description, adjustment,
		 impact_score, confidence, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, 'pending', ?)`,
		p.ID, p.Source, p.Category, p.Parameter, p.Description, string(adjustmentJSON),
		p.ImpactScore, p.Confidence, createdAt.Unix())
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("pending proposal for (%s, %s): %w", p.Category, p.Parameter, ErrConflict)
		}
		return fmt.Errorf("failed to insert proposal: %w", err)
	}

	p.Status = ProposalPending
	p.CreatedAt = time.Unix(createdAt.Unix(), 0)
	return nil
}

const proposalColumns = `id, source, category, parameter, description, adjustment,
	impact_score, confidence, status, created_at, applied_at`

func scanProposal(row interface{ Scan(...any) error }) (*Proposal, error) {
	var p Proposal
	var adjustmentJSON string
	var createdAt int64
	var appliedAt sql.NullInt64

	err := row.Scan(&p.ID, &p.Source, &p.Category, &p.Parameter, &p.Description,
		&adjustmentJSON, &p.ImpactScore, &p.Confidence, &p.Status, &createdAt, &appliedAt)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(adjustmentJSON), &p.Adjustment); err != nil {
		return nil, fmt.Errorf("failed to unmarshal adjustment: %w", err)
	}
	p.CreatedAt = time.Unix(createdAt, 0)
	if appliedAt.Valid {
		t := time.Unix(appliedAt.Int64, 0)
		p.AppliedAt = &t
	}
	return &p, nil
}

func (s *SQLiteStore) GetProposal(ctx context.Context, id string) (*Proposal, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+proposalColumns+` FROM proposals WHERE id = ?`, id)

	p, err := scanProposal(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get proposal: %w", err)
	}
	return p, nil
}

func (s *SQLiteStore) ListProposals(ctx context.Context, status ProposalStatus) ([]*Proposal, error) {
	query := `SELECT ` + proposalColumns + ` FROM proposals`
	args := []any{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list proposals: %w", err)
	}
	defer rows.Close()

	var proposals []*Proposal
	for rows.Next() {
		p, err := scanProposal(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan proposal: %w", err)
		}
		proposals = append(proposals, p)
	}
	return proposals, rows.Err()
}

func (s *SQLiteStore) UpdateProposalStatus(ctx context.Context, id string, status ProposalStatus, appliedAt *time.Time) error {
	var result sql.Result
	var err error
	if appliedAt != nil {
		result, err = s.db.ExecContext(ctx,
			`UPDATE proposals SET status = ?, applied_at = ? WHERE id = ?`,
			string(status), appliedAt.Unix(), id)
	} else {
		result, err = s.db.ExecContext(ctx,
			`UPDATE proposals SET status = ? WHERE id = ?`, string(status), id)
	}
	if err != nil {
		return fmt.Errorf("failed to update proposal status: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Agent logs ---

func (s *SQLiteStore) InsertAgentLog(ctx context.Context, entry *AgentLogEntry) error {
	ts := entry.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	result, err := s.db.ExecContext(ctx,
		`INSERT INTO agent_logs (agent, action, status, error, duration_ms, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		entry.Agent, entry.Action, entry.Status, entry.Error,
		entry.Duration.Milliseconds(), ts.Unix())
	if err != nil {
		return fmt.Errorf("failed to insert agent log: %w", err)
	}
	entry.ID, _ = result.LastInsertId()
	return nil
}

func (s *SQLiteStore) QueryAgentLogs(ctx context.Context, start, end time.Time) ([]*AgentLogEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, agent, action, status, error, duration_ms, timestamp
		 FROM agent_logs WHERE timestamp >= ? AND timestamp < ? ORDER BY timestamp`,
		start.Unix(), end.Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to query agent logs: %w", err)
	}
	defer rows.Close()

	var entries []*AgentLogEntry
	for rows.Next() {
		var e AgentLogEntry
		var durationMs, timestamp int64
		if err := rows.Scan(&e.ID, &e.Agent, &e.Action, &e.Status, &e.Error, &durationMs, &timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan agent log: %w", err)
		}
		e.Duration = time.Duration(durationMs) * time.Millisecond
		e.Timestamp = time.Unix(timestamp, 0)
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

// --- Audit trail ---

func (s *SQLiteStore) RecordAuditEntry(ctx context.Context, e *AuditEntry) error {
	createdAt := e.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	result, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_log (proposal_id, category, parameter, outcome, confidence, reason, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ProposalID, e.Category, e.Parameter, e.Outcome, e.Confidence, e.Reason, createdAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to record audit entry: %w", err)
	}
	e.ID, _ = result.LastInsertId()
	e.CreatedAt = time.Unix(createdAt.Unix(), 0)
	return nil
}

func (s *SQLiteStore) ListAuditEntries(ctx context.Context, since time.Time) ([]*AuditEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, proposal_id, category, parameter, outcome, confidence, reason, created_at
		 FROM audit_log WHERE created_at >= ? ORDER BY created_at DESC`,
		since.Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	defer rows.Close()

	var entries []*AuditEntry
	for rows.Next() {
		var e AuditEntry
		var createdAt int64
		if err := rows.Scan(&e.ID, &e.ProposalID, &e.Category, &e.Parameter, &e.Outcome,
			&e.Confidence, &e.Reason, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		e.CreatedAt = time.Unix(createdAt, 0)
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
