// Package coordinator orchestrates the feedback cycle: it gathers snapshots
// and experiment outcomes, merges the advisor's proposals against what is
// already pending, applies the high-confidence ones, and scores overall
// system health.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/tuneloop/tuneloop/internal/advisor"
	"github.com/tuneloop/tuneloop/internal/config"
	"github.com/tuneloop/tuneloop/internal/experiment"
	"github.com/tuneloop/tuneloop/internal/store"
	"github.com/tuneloop/tuneloop/internal/trend"
)

const agentName = "feedback-coordinator"

// snapshotHistory is how many daily snapshots feed trend proposals.
const snapshotHistory = 30

// Config carries the cycle parameters.
type Config struct {
	AutoApplyFloor    float64       // default 0.85
	MaxAutoApplies    int           // default 5
	ApplyTimeout      time.Duration // bound on one external config write
	RetryBackoff      time.Duration // wait before the single retry
	BaselineSnapshots int           // rolling baseline length for sub-scores
	HealthWeights     config.HealthWeights
}

// CycleFailure is a collaborator I/O failure that survived its retry. It is
// data, not an error return: the scheduler logs it and tries again next
// cycle without the host process ever seeing a panic.
type CycleFailure struct {
	Source string
	Err    error
}

// CycleResult is what one feedback cycle produced.
type CycleResult struct {
	HealthScore    float64
	HealthKnown    bool // false when no snapshot exists to score against
	Applied        int
	Pending        int
	Superseded     int
	ExperimentsRun int
	Failures       []CycleFailure
}

type Coordinator struct {
	store    store.Store
	engine   *experiment.Engine
	analyzer *trend.Analyzer
	advisor  *advisor.Advisor
	applier  ConfigApplier
	cfg      Config
	log      *zap.Logger
	now      func() time.Time
	sleep    func(time.Duration)
}

// New wires the coordinator with explicit collaborators. There are no
// package-level singletons; tests inject fakes freely.
func New(s store.Store, eng *experiment.Engine, an *trend.Analyzer, adv *advisor.Advisor, applier ConfigApplier, cfg Config, log *zap.Logger) *Coordinator {
	return &Coordinator{
		store:    s,
		engine:   eng,
		analyzer: an,
		advisor:  adv,
		applier:  applier,
		cfg:      cfg,
		log:      log,
		now:      time.Now,
		sleep:    time.Sleep,
	}
}

// RunCycle executes one full feedback cycle. A source that has no data is
// skipped; a collaborator that stays broken after one retry becomes a
// CycleFailure in the result. The returned error is non-nil only for
// cancellation.
func (c *Coordinator) RunCycle(ctx context.Context) (*CycleResult, error) {
	started := c.now().UTC()
	res := &CycleResult{}

	c.log.Info("feedback cycle starting")

	// Step 1: performance snapshot.
	snap := c.buildSnapshot(ctx, res)

	if err := ctx.Err(); err != nil {
		return res, err
	}

	// Step 2: experiment evaluation.
	outcomes := c.evaluateExperiments(ctx, res)
	res.ExperimentsRun = len(outcomes)

	if err := ctx.Err(); err != nil {
		return res, err
	}

	// Step 3: gather proposals from both sources.
	proposals := c.gatherProposals(ctx, outcomes, res)

	// Step 4: merge against pending, superseding older targets.
	c.mergeProposals(ctx, proposals, res)

	// Step 5: auto-apply what clears the bar, bounded per cycle.
	c.autoApply(ctx, res)

	// Step 6: health score from the freshest snapshot available.
	c.scoreHealth(ctx, snap, res)

	pending, err := c.store.ListProposals(ctx, store.ProposalPending)
	if err != nil {
		res.Failures = append(res.Failures, CycleFailure{Source: "store", Err: err})
	} else {
		res.Pending = len(pending)
	}

	c.logAgentRun(ctx, "run_cycle", started, nil)

	c.log.Info("feedback cycle complete",
		zap.Int("applied", res.Applied),
		zap.Int("pending", res.Pending),
		zap.Int("superseded", res.Superseded),
		zap.Int("failures", len(res.Failures)),
		zap.Bool("health_known", res.HealthKnown),
		zap.Float64("health_score", res.HealthScore))

	return res, nil
}

func (c *Coordinator) buildSnapshot(ctx context.Context, res *CycleResult) *store.Snapshot {
	started := c.now().UTC()

	snap, err := c.analyzer.BuildSnapshot(ctx, store.PeriodDaily, c.now())
	if err == nil {
		c.logAgentRun(ctx, "build_snapshot", started, nil)
		return snap
	}

	if errors.Is(err, trend.ErrInsufficientData) {
		// No data is not a failure; the cycle proceeds without this signal.
		c.log.Warn("skipping trend source", zap.Error(err))
		c.logAgentRun(ctx, "build_snapshot", started, nil)
		return nil
	}

	c.sleep(c.cfg.RetryBackoff)
	if snap, err = c.analyzer.BuildSnapshot(ctx, store.PeriodDaily, c.now()); err == nil {
		c.logAgentRun(ctx, "build_snapshot", started, nil)
		return snap
	}

	c.log.Error("snapshot build failed after retry", zap.Error(err))
	c.logAgentRun(ctx, "build_snapshot", started, err)
	res.Failures = append(res.Failures, CycleFailure{Source: "trend-analyzer", Err: err})
	return nil
}

func (c *Coordinator) evaluateExperiments(ctx context.Context, res *CycleResult) []*experiment.Outcome {
	started := c.now().UTC()

	outcomes, err := c.engine.EvaluateAll(ctx)
	if err == nil {
		c.logAgentRun(ctx, "evaluate_experiments", started, nil)
		return outcomes
	}
	if ctx.Err() != nil {
		return nil
	}

	c.sleep(c.cfg.RetryBackoff)
	if outcomes, err = c.engine.EvaluateAll(ctx); err == nil {
		c.logAgentRun(ctx, "evaluate_experiments", started, nil)
		return outcomes
	}

	c.log.Error("experiment evaluation failed after retry", zap.Error(err))
	c.logAgentRun(ctx, "evaluate_experiments", started, err)
	res.Failures = append(res.Failures, CycleFailure{Source: "experiment-engine", Err: err})
	return nil
}

func (c *Coordinator) gatherProposals(ctx context.Context, outcomes []*experiment.Outcome, res *CycleResult) []*store.Proposal {
	var proposals []*store.Proposal

	snapshots, err := c.store.ListSnapshots(ctx, store.PeriodDaily, snapshotHistory)
	if err != nil {
		res.Failures = append(res.Failures, CycleFailure{Source: "store", Err: err})
	} else {
		proposals = append(proposals, c.advisor.ProposeFromTrends(snapshots)...)
	}

	for _, out := range outcomes {
		if !out.Completed || out.Winner == nil {
			continue
		}
		p, err := c.advisor.ProposeFromExperiment(out.Experiment, out.Winner)
		if err != nil {
			c.log.Warn("skipping experiment proposal", zap.Int64("experiment", out.Experiment.ID), zap.Error(err))
			continue
		}
		proposals = append(proposals, p)
	}

	// Same-target conflicts across the two sources: higher confidence wins
	// within a single gathering pass.
	byTarget := map[string]*store.Proposal{}
	for _, p := range proposals {
		target := p.Category + "/" + p.Parameter
		if existing, ok := byTarget[target]; !ok || p.Confidence > existing.Confidence {
			byTarget[target] = p
		}
	}

	merged := make([]*store.Proposal, 0, len(byTarget))
	for _, p := range byTarget {
		merged = append(merged, p)
	}
	return merged
}

// mergeProposals persists new proposals, superseding any pending proposal
// that targets the same (category, parameter). The newer proposal always
// wins; the older one is never left pending alongside it.
func (c *Coordinator) mergeProposals(ctx context.Context, proposals []*store.Proposal, res *CycleResult) {
	if len(proposals) == 0 {
		return
	}

	pending, err := c.store.ListProposals(ctx, store.ProposalPending)
	if err != nil {
		res.Failures = append(res.Failures, CycleFailure{Source: "store", Err: err})
		return
	}

	pendingByTarget := map[string]*store.Proposal{}
	for _, p := range pending {
		pendingByTarget[p.Category+"/"+p.Parameter] = p
	}

	for _, p := range proposals {
		target := p.Category + "/" + p.Parameter
		if old, ok := pendingByTarget[target]; ok {
			if err := c.store.UpdateProposalStatus(ctx, old.ID, store.ProposalSuperseded, nil); err != nil {
				res.Failures = append(res.Failures, CycleFailure{Source: "store", Err: err})
				continue
			}
			res.Superseded++
			c.log.Info("proposal superseded",
				zap.String("old", old.ID),
				zap.String("new", p.ID),
				zap.String("target", target))
		}

		if err := c.store.CreateProposal(ctx, p); err != nil {
			res.Failures = append(res.Failures, CycleFailure{Source: "store", Err: err})
		}
	}
}

// autoApply applies pending proposals whose confidence clears the floor,
// at most MaxAutoApplies per cycle to bound the blast radius. An apply
// without a recorded audit entry is treated as not having happened.
func (c *Coordinator) autoApply(ctx context.Context, res *CycleResult) {
	pending, err := c.store.ListProposals(ctx, store.ProposalPending)
	if err != nil {
		res.Failures = append(res.Failures, CycleFailure{Source: "store", Err: err})
		return
	}

	// Highest confidence first.
	sort.Slice(pending, func(i, j int) bool {
		return pending[i].Confidence > pending[j].Confidence
	})

	for _, p := range pending {
		if res.Applied >= c.cfg.MaxAutoApplies {
			c.log.Info("auto-apply cap reached", zap.Int("cap", c.cfg.MaxAutoApplies))
			break
		}
		if p.Confidence < c.cfg.AutoApplyFloor {
			break // sorted, nothing below clears the floor
		}
		if ctx.Err() != nil {
			return
		}

		if err := c.applyProposal(ctx, p, "applied", "auto-applied: confidence above floor"); err != nil {
			res.Failures = append(res.Failures, CycleFailure{Source: "config-applier", Err: err})
			continue
		}
		res.Applied++
	}
}

// applyProposal performs the apply → audit → mark-applied sequence. Once
// started it runs to completion regardless of cycle cancellation, bounded
// by the apply timeout. Failure at any point leaves the proposal pending.
func (c *Coordinator) applyProposal(ctx context.Context, p *store.Proposal, outcome, reason string) error {
	applyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.ApplyTimeout)
	defer cancel()

	if err := c.applier.Apply(applyCtx, p.Adjustment); err != nil {
		c.sleep(c.cfg.RetryBackoff)
		if err = c.applier.Apply(applyCtx, p.Adjustment); err != nil {
			c.log.Error("config apply failed after retry",
				zap.String("proposal", p.ID), zap.Error(err))
			return fmt.Errorf("apply %s: %w", p.ID, err)
		}
	}

	// No silent configuration changes: the audit entry gates the status
	// transition. If it cannot be written, the proposal stays pending.
	entry := &store.AuditEntry{
		ProposalID: p.ID,
		Category:   p.Category,
		Parameter:  p.Parameter,
		Outcome:    outcome,
		Confidence: p.Confidence,
		Reason:     reason,
		CreatedAt:  c.now().UTC(),
	}
	if err := c.store.RecordAuditEntry(applyCtx, entry); err != nil {
		c.log.Error("audit write failed; proposal remains pending",
			zap.String("proposal", p.ID), zap.Error(err))
		return fmt.Errorf("audit %s: %w", p.ID, err)
	}

	appliedAt := c.now().UTC()
	if err := c.store.UpdateProposalStatus(applyCtx, p.ID, store.ProposalApplied, &appliedAt); err != nil {
		return fmt.Errorf("mark applied %s: %w", p.ID, err)
	}

	c.log.Info("proposal applied",
		zap.String("proposal", p.ID),
		zap.String("category", p.Category),
		zap.String("parameter", p.Parameter),
		zap.Float64("confidence", p.Confidence),
		zap.String("change", p.Adjustment.String()))
	return nil
}

func (c *Coordinator) scoreHealth(ctx context.Context, snap *store.Snapshot, res *CycleResult) {
	if snap == nil {
		// Fall back to the freshest stored snapshot; without any, the
		// previous score stays last-known-good and this cycle reports none.
		latest, err := c.store.ListSnapshots(ctx, store.PeriodDaily, 1)
		if err != nil || len(latest) == 0 {
			return
		}
		snap = latest[0]
	}

	baseline, err := c.store.ListSnapshots(ctx, store.PeriodDaily, c.cfg.BaselineSnapshots+1)
	if err != nil {
		res.Failures = append(res.Failures, CycleFailure{Source: "store", Err: err})
		return
	}
	// Exclude the scored snapshot itself from its baseline.
	history := make([]*store.Snapshot, 0, len(baseline))
	for _, s := range baseline {
		if s.ID != snap.ID {
			history = append(history, s)
		}
	}

	periodStart := snap.Date.Add(-snap.Period.Duration())
	logs, err := c.store.QueryAgentLogs(ctx, periodStart, snap.Date.Add(24*time.Hour))
	if err != nil {
		res.Failures = append(res.Failures, CycleFailure{Source: "store", Err: err})
		return
	}

	score := ComputeHealthScore(snap, history, logs, c.cfg.HealthWeights)
	res.HealthScore = score
	res.HealthKnown = true

	if err := c.store.SetSnapshotHealthScore(ctx, snap.ID, score); err != nil {
		res.Failures = append(res.Failures, CycleFailure{Source: "store", Err: err})
	}
}

// ComputeHealthScore is a pure function of the snapshot, its baseline
// history, the period's agent logs, and the configured weights. The result
// is always in [0,100].
func ComputeHealthScore(snap *store.Snapshot, history []*store.Snapshot, logs []*store.AgentLogEntry, w config.HealthWeights) float64 {
	engagement := ratioSubScore(snap.AvgEngagementRate, baselineMean(history, func(s *store.Snapshot) float64 {
		return s.AvgEngagementRate
	}))
	conversion := ratioSubScore(snap.ConversionRate, baselineMean(history, func(s *store.Snapshot) float64 {
		return s.ConversionRate
	}))
	stability := stabilitySubScore(logs)

	total := w.Engagement + w.Conversion + w.Stability
	score := (engagement*w.Engagement + conversion*w.Conversion + stability*w.Stability) / total
	return clamp(score, 0, 100)
}

func baselineMean(history []*store.Snapshot, value func(*store.Snapshot) float64) float64 {
	if len(history) == 0 {
		return 0
	}
	var sum float64
	for _, s := range history {
		sum += value(s)
	}
	return sum / float64(len(history))
}

// ratioSubScore maps "current vs baseline" to [0,100] with 50 meaning
// on-baseline and 100 meaning double the baseline or better.
func ratioSubScore(current, baseline float64) float64 {
	if baseline <= 0 {
		if current > 0 {
			return 100
		}
		return 50 // no signal either way
	}
	return clamp(current/baseline*50, 0, 100)
}

// stabilitySubScore is 100 minus the failure share of agent executions in
// the period. No executions means nothing failed.
func stabilitySubScore(logs []*store.AgentLogEntry) float64 {
	if len(logs) == 0 {
		return 100
	}
	failures := 0
	for _, l := range logs {
		if l.Status == "error" {
			failures++
		}
	}
	return clamp(100*(1-float64(failures)/float64(len(logs))), 0, 100)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// PendingProposals returns proposals awaiting human review.
func (c *Coordinator) PendingProposals(ctx context.Context) ([]*store.Proposal, error) {
	return c.store.ListProposals(ctx, store.ProposalPending)
}

// Approve manually applies a pending proposal regardless of its confidence.
func (c *Coordinator) Approve(ctx context.Context, id string) error {
	p, err := c.store.GetProposal(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to load proposal %s: %w", id, err)
	}
	if p.Status != store.ProposalPending {
		return fmt.Errorf("proposal %s is %s, only pending proposals can be approved", id, p.Status)
	}
	return c.applyProposal(ctx, p, "approved", "manually approved")
}

// Reject marks a pending proposal rejected and records the decision.
func (c *Coordinator) Reject(ctx context.Context, id string) error {
	p, err := c.store.GetProposal(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to load proposal %s: %w", id, err)
	}
	if p.Status != store.ProposalPending {
		return fmt.Errorf("proposal %s is %s, only pending proposals can be rejected", id, p.Status)
	}

	entry := &store.AuditEntry{
		ProposalID: p.ID,
		Category:   p.Category,
		Parameter:  p.Parameter,
		Outcome:    "rejected",
		Confidence: p.Confidence,
		Reason:     "manually rejected",
		CreatedAt:  c.now().UTC(),
	}
	if err := c.store.RecordAuditEntry(ctx, entry); err != nil {
		return fmt.Errorf("audit %s: %w", p.ID, err)
	}
	if err := c.store.UpdateProposalStatus(ctx, id, store.ProposalRejected, nil); err != nil {
		return fmt.Errorf("mark rejected %s: %w", id, err)
	}

	c.log.Info("proposal rejected", zap.String("proposal", id))
	return nil
}

// History returns the audit trail since the cutoff.
func (c *Coordinator) History(ctx context.Context, since time.Time) ([]*store.AuditEntry, error) {
	return c.store.ListAuditEntries(ctx, since)
}

// logAgentRun best-effort records one component execution; these rows feed
// the stability sub-score.
func (c *Coordinator) logAgentRun(ctx context.Context, action string, started time.Time, runErr error) {
	entry := &store.AgentLogEntry{
		Agent:     agentName,
		Action:    action,
		Status:    "success",
		Duration:  c.now().UTC().Sub(started),
		Timestamp: c.now().UTC(),
	}
	if runErr != nil {
		entry.Status = "error"
		entry.Error = runErr.Error()
	}
	if err := c.store.InsertAgentLog(context.WithoutCancel(ctx), entry); err != nil {
		c.log.Warn("failed to write agent log", zap.Error(err))
	}
}
