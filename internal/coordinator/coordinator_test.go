package coordinator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tuneloop/tuneloop/internal/advisor"
	"github.com/tuneloop/tuneloop/internal/config"
	"github.com/tuneloop/tuneloop/internal/experiment"
	"github.com/tuneloop/tuneloop/internal/store"
	"github.com/tuneloop/tuneloop/internal/testutil"
	"github.com/tuneloop/tuneloop/internal/trend"
)

func testWeights() config.HealthWeights {
	return config.HealthWeights{Engagement: 0.4, Conversion: 0.4, Stability: 0.2}
}

func newTestCoordinator(t *testing.T, s store.Store) *Coordinator {
	t.Helper()
	log := zap.NewNop()

	engine := experiment.NewEngine(s, experiment.Config{
		SignificanceThreshold: 0.05,
		MinSampleSize:         100,
		MaxTestDuration:       7 * 24 * time.Hour,
		MaxConcurrent:         5,
	}, log)
	analyzer := trend.NewAnalyzer(s, trend.Config{
		AnomalyStdDevThreshold: 2.0,
		AnomalyWindow:          30,
		FlatThreshold:          0.01,
	}, log)
	adv := advisor.New(advisor.Config{MinConfidence: 0.5, FlatThreshold: 0.01}, log)

	c := New(s, engine, analyzer, adv, &LogApplier{Log: log}, Config{
		AutoApplyFloor:    0.85,
		MaxAutoApplies:    5,
		ApplyTimeout:      5 * time.Second,
		RetryBackoff:      time.Millisecond,
		BaselineSnapshots: 7,
		HealthWeights:     testWeights(),
	}, log)
	c.sleep = func(time.Duration) {}
	return c
}

// seedDecliningHistory writes daily snapshots whose engagement rate shrinks
// 10% per day, newest ending yesterday.
func seedDecliningHistory(t *testing.T, s store.Store, days int) {
	t.Helper()
	ctx := context.Background()

	end := time.Now().UTC().AddDate(0, 0, -1)
	rate := 0.10
	for i := days - 1; i >= 0; i-- {
		_, err := s.CreateSnapshot(ctx, &store.Snapshot{
			Date:                 end.AddDate(0, 0, -i),
			Period:               store.PeriodDaily,
			ContentCount:         5,
			AvgEngagementRate:    rate * pow(0.9, days-1-i),
			TopFormat:            "video",
			TopPostingHour:       18,
			AvgInsightConfidence: 0.6,
		})
		if err != nil {
			t.Fatalf("failed to seed snapshot: %v", err)
		}
	}
}

func pow(base float64, exp int) float64 {
	v := 1.0
	for i := 0; i < exp; i++ {
		v *= base
	}
	return v
}

func pendingTimingProposal(confidence float64) *store.Proposal {
	return &store.Proposal{
		ID:        uuid.NewString(),
		Source:    advisor.SourceTrends,
		Category:  "timing",
		Parameter: "posting_hour/twitter",
		Adjustment: store.Adjustment{
			Kind:        store.AdjustTimingShift,
			TimingShift: &store.TimingShift{Platform: "twitter", Hour: 19},
		},
		Confidence: confidence,
		CreatedAt:  time.Now().UTC(),
	}
}

func TestRunCycle_DecliningTrendAutoApplies(t *testing.T) {
	s := testutil.SetupTestStore(t)
	c := newTestCoordinator(t, s)
	ctx := context.Background()

	seedDecliningHistory(t, s, 14)

	res, err := c.RunCycle(ctx)
	if err != nil {
		t.Fatalf("cycle failed: %v", err)
	}

	// No raw records today: the snapshot source is skipped, not failed.
	for _, f := range res.Failures {
		t.Errorf("unexpected failure from %s: %v", f.Source, f.Err)
	}

	// The 10%-per-day engagement decline is a maximal-confidence signal,
	// so the format boost applies without review.
	if res.Applied != 1 {
		t.Fatalf("got %d applied, want 1", res.Applied)
	}

	applied, err := s.ListProposals(ctx, store.ProposalApplied)
	if err != nil {
		t.Fatalf("failed to list proposals: %v", err)
	}
	if len(applied) != 1 {
		t.Fatalf("got %d applied proposals, want 1", len(applied))
	}
	p := applied[0]
	if p.Parameter != "format_weight/video" {
		t.Errorf("got parameter %s, want format_weight/video", p.Parameter)
	}
	if p.AppliedAt == nil {
		t.Error("applied_at not set")
	}

	// Every applied change is audited.
	audit, err := s.ListAuditEntries(ctx, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("failed to list audit entries: %v", err)
	}
	if len(audit) != 1 || audit[0].ProposalID != p.ID || audit[0].Outcome != "applied" {
		t.Errorf("audit trail wrong: %+v", audit)
	}

	if !res.HealthKnown {
		t.Error("expected a health score from the stored history")
	}
	if res.HealthScore < 0 || res.HealthScore > 100 {
		t.Errorf("health score %f outside [0,100]", res.HealthScore)
	}
}

func TestRunCycle_ExperimentWinnerBecomesProposal(t *testing.T) {
	s := testutil.SetupTestStore(t)
	c := newTestCoordinator(t, s)
	ctx := context.Background()

	exp, err := c.engine.Create(ctx, experiment.CreateParams{
		Name:     "evening-slot",
		Variable: "posting_time",
		Variants: []experiment.VariantSpec{
			{Name: "control", IsControl: true, Config: store.Adjustment{
				Kind:        store.AdjustTimingShift,
				TimingShift: &store.TimingShift{Platform: "twitter", Hour: 14},
			}},
			{Name: "evening", Config: store.Adjustment{
				Kind:        store.AdjustTimingShift,
				TimingShift: &store.TimingShift{Platform: "twitter", Hour: 19},
			}},
		},
	})
	if err != nil {
		t.Fatalf("failed to create experiment: %v", err)
	}

	variants, _ := s.ListVariants(ctx, exp.ID)
	for i := 0; i < 100; i++ {
		s.IncrementVariantCounter(ctx, variants[0].ID, store.EventImpression)
		s.IncrementVariantCounter(ctx, variants[1].ID, store.EventImpression)
	}
	for i := 0; i < 10; i++ {
		s.IncrementVariantCounter(ctx, variants[0].ID, store.EventEngagement)
	}
	for i := 0; i < 25; i++ {
		s.IncrementVariantCounter(ctx, variants[1].ID, store.EventEngagement)
	}

	res, err := c.RunCycle(ctx)
	if err != nil {
		t.Fatalf("cycle failed: %v", err)
	}

	if res.ExperimentsRun != 1 {
		t.Errorf("got %d experiments run, want 1", res.ExperimentsRun)
	}

	// The winner's confidence (~0.99) clears the auto-apply floor.
	if res.Applied != 1 {
		t.Fatalf("got %d applied, want 1", res.Applied)
	}

	applied, _ := s.ListProposals(ctx, store.ProposalApplied)
	if len(applied) != 1 {
		t.Fatalf("got %d applied proposals, want 1", len(applied))
	}
	if applied[0].Source != advisor.SourceExperiments {
		t.Errorf("got source %s, want %s", applied[0].Source, advisor.SourceExperiments)
	}
	if applied[0].Parameter != "posting_hour/twitter" {
		t.Errorf("got parameter %s, want posting_hour/twitter", applied[0].Parameter)
	}
}

func TestMergeProposals_SupersedesPendingTarget(t *testing.T) {
	s := testutil.SetupTestStore(t)
	c := newTestCoordinator(t, s)
	ctx := context.Background()

	old := pendingTimingProposal(0.6)
	if err := s.CreateProposal(ctx, old); err != nil {
		t.Fatalf("failed to create old proposal: %v", err)
	}

	res := &CycleResult{}
	newer := pendingTimingProposal(0.7)
	c.mergeProposals(ctx, []*store.Proposal{newer}, res)

	if len(res.Failures) != 0 {
		t.Fatalf("unexpected failures: %+v", res.Failures)
	}
	if res.Superseded != 1 {
		t.Errorf("got %d superseded, want 1", res.Superseded)
	}

	oldStored, _ := s.GetProposal(ctx, old.ID)
	if oldStored.Status != store.ProposalSuperseded {
		t.Errorf("old proposal is %s, want superseded", oldStored.Status)
	}
	newStored, _ := s.GetProposal(ctx, newer.ID)
	if newStored.Status != store.ProposalPending {
		t.Errorf("new proposal is %s, want pending", newStored.Status)
	}

	// Never two pending proposals for the same target.
	pending, _ := s.ListProposals(ctx, store.ProposalPending)
	if len(pending) != 1 {
		t.Errorf("got %d pending proposals for the target, want 1", len(pending))
	}
}

func TestAutoApply_RespectsFloorAndCap(t *testing.T) {
	s := testutil.SetupTestStore(t)
	c := newTestCoordinator(t, s)
	c.cfg.MaxAutoApplies = 2
	ctx := context.Background()

	confidences := []float64{0.95, 0.9, 0.88, 0.6}
	for i, conf := range confidences {
		p := &store.Proposal{
			ID:        uuid.NewString(),
			Source:    advisor.SourceTrends,
			Category:  "timing",
			Parameter: "posting_hour/platform-" + string(rune('a'+i)),
			Adjustment: store.Adjustment{
				Kind:        store.AdjustTimingShift,
				TimingShift: &store.TimingShift{Platform: "platform-" + string(rune('a'+i)), Hour: 9},
			},
			Confidence: conf,
			CreatedAt:  time.Now().UTC(),
		}
		if err := s.CreateProposal(ctx, p); err != nil {
			t.Fatalf("failed to create proposal: %v", err)
		}
	}

	res := &CycleResult{}
	c.autoApply(ctx, res)

	if res.Applied != 2 {
		t.Fatalf("got %d applied, want the cap of 2", res.Applied)
	}

	// The two highest-confidence proposals went first.
	applied, _ := s.ListProposals(ctx, store.ProposalApplied)
	for _, p := range applied {
		if p.Confidence < 0.9 {
			t.Errorf("applied %s at confidence %f before higher-confidence work", p.ID, p.Confidence)
		}
	}

	pending, _ := s.ListProposals(ctx, store.ProposalPending)
	if len(pending) != 2 {
		t.Errorf("got %d pending, want 2", len(pending))
	}
}

// recordsFailStore fails every raw-record query, simulating a broken
// metrics source that does not recover within a cycle.
type recordsFailStore struct {
	store.Store
	queries int
}

func (f *recordsFailStore) QueryPerformanceRecords(context.Context, time.Time, time.Time, store.RecordFilter) ([]*store.PerformanceRecord, error) {
	f.queries++
	return nil, errors.New("disk I/O error")
}

func TestRunCycle_BrokenSourceRetriedOnceThenReported(t *testing.T) {
	inner := testutil.SetupTestStore(t)
	s := &recordsFailStore{Store: inner}
	c := newTestCoordinator(t, s)

	res, err := c.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("a broken collaborator must not fail the cycle: %v", err)
	}

	// One initial attempt plus exactly one retry.
	if s.queries != 2 {
		t.Errorf("got %d query attempts, want 2", s.queries)
	}

	if len(res.Failures) != 1 {
		t.Fatalf("got %d failures, want 1: %+v", len(res.Failures), res.Failures)
	}
	f := res.Failures[0]
	if f.Source != "trend-analyzer" {
		t.Errorf("got failure source %s, want trend-analyzer", f.Source)
	}
	if f.Err == nil {
		t.Error("failure carries no error")
	}

	// The rest of the cycle still ran on what was available.
	if res.HealthKnown {
		t.Error("no snapshot could be built, health should be unknown")
	}
}

// auditFailStore fails every audit write to prove the status transition is
// gated on the audit trail.
type auditFailStore struct {
	store.Store
}

func (f *auditFailStore) RecordAuditEntry(context.Context, *store.AuditEntry) error {
	return errors.New("audit sink down")
}

func TestApplyProposal_AuditFailureLeavesPending(t *testing.T) {
	inner := testutil.SetupTestStore(t)
	s := &auditFailStore{Store: inner}
	c := newTestCoordinator(t, s)
	ctx := context.Background()

	p := pendingTimingProposal(0.9)
	if err := inner.CreateProposal(ctx, p); err != nil {
		t.Fatalf("failed to create proposal: %v", err)
	}

	err := c.applyProposal(ctx, p, "applied", "auto-applied")
	if err == nil {
		t.Fatal("expected the apply to fail on the audit write")
	}

	stored, _ := inner.GetProposal(ctx, p.ID)
	if stored.Status != store.ProposalPending {
		t.Errorf("got status %s, want pending after audit failure", stored.Status)
	}
	if stored.AppliedAt != nil {
		t.Error("applied_at set despite audit failure")
	}
}

func TestApproveAndReject(t *testing.T) {
	s := testutil.SetupTestStore(t)
	c := newTestCoordinator(t, s)
	ctx := context.Background()

	// Low confidence: auto-apply would never touch it, a human can.
	p := pendingTimingProposal(0.3)
	if err := s.CreateProposal(ctx, p); err != nil {
		t.Fatalf("failed to create proposal: %v", err)
	}

	if err := c.Approve(ctx, p.ID); err != nil {
		t.Fatalf("failed to approve: %v", err)
	}
	stored, _ := s.GetProposal(ctx, p.ID)
	if stored.Status != store.ProposalApplied {
		t.Errorf("got status %s, want applied", stored.Status)
	}

	// Approving again fails: it is no longer pending.
	if err := c.Approve(ctx, p.ID); err == nil {
		t.Error("expected error approving a non-pending proposal")
	}

	r := pendingTimingProposal(0.4)
	r.Parameter = "posting_hour/youtube"
	r.Adjustment.TimingShift.Platform = "youtube"
	if err := s.CreateProposal(ctx, r); err != nil {
		t.Fatalf("failed to create proposal: %v", err)
	}

	if err := c.Reject(ctx, r.ID); err != nil {
		t.Fatalf("failed to reject: %v", err)
	}
	stored, _ = s.GetProposal(ctx, r.ID)
	if stored.Status != store.ProposalRejected {
		t.Errorf("got status %s, want rejected", stored.Status)
	}

	audit, _ := c.History(ctx, time.Now().Add(-time.Hour))
	outcomes := map[string]string{}
	for _, e := range audit {
		outcomes[e.ProposalID] = e.Outcome
	}
	if outcomes[p.ID] != "approved" || outcomes[r.ID] != "rejected" {
		t.Errorf("audit outcomes wrong: %+v", outcomes)
	}
}

func TestComputeHealthScore(t *testing.T) {
	snap := &store.Snapshot{AvgEngagementRate: 0.10, ConversionRate: 0.02}

	onBaseline := []*store.Snapshot{
		{AvgEngagementRate: 0.10, ConversionRate: 0.02},
		{AvgEngagementRate: 0.10, ConversionRate: 0.02},
	}

	// On-baseline metrics score 50 each; no failures scores 100.
	got := ComputeHealthScore(snap, onBaseline, nil, testWeights())
	want := 0.4*50 + 0.4*50 + 0.2*100
	if got != want {
		t.Errorf("got %f, want %f", got, want)
	}

	// Deterministic for identical inputs.
	if again := ComputeHealthScore(snap, onBaseline, nil, testWeights()); again != got {
		t.Errorf("score not deterministic: %f then %f", got, again)
	}

	// Doubling the baseline rate maxes the sub-score and clamps at 100.
	hot := &store.Snapshot{AvgEngagementRate: 0.50, ConversionRate: 0.10}
	got = ComputeHealthScore(hot, onBaseline, nil, testWeights())
	if got != 100 {
		t.Errorf("got %f, want 100", got)
	}

	// Failures drag the stability share down.
	logs := []*store.AgentLogEntry{
		{Status: "success"},
		{Status: "error"},
		{Status: "error"},
		{Status: "success"},
	}
	got = ComputeHealthScore(snap, onBaseline, logs, testWeights())
	want = 0.4*50 + 0.4*50 + 0.2*50
	if got != want {
		t.Errorf("got %f with failures, want %f", got, want)
	}

	// No history at all: positive metrics read as above-baseline.
	got = ComputeHealthScore(snap, nil, nil, testWeights())
	if got != 100 {
		t.Errorf("got %f with no baseline, want 100", got)
	}

	// A dead system bottoms out at zero metric sub-scores.
	dead := &store.Snapshot{}
	allFail := []*store.AgentLogEntry{{Status: "error"}}
	got = ComputeHealthScore(dead, onBaseline, allFail, testWeights())
	if got != 0 {
		t.Errorf("got %f for a dead system, want 0", got)
	}
}

func TestRunCycle_EmptyStoreIsQuiet(t *testing.T) {
	s := testutil.SetupTestStore(t)
	c := newTestCoordinator(t, s)

	res, err := c.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("cycle failed: %v", err)
	}

	if len(res.Failures) != 0 {
		t.Errorf("unexpected failures on an empty store: %+v", res.Failures)
	}
	if res.Applied != 0 || res.Pending != 0 {
		t.Errorf("expected nothing to happen, got %+v", res)
	}
	if res.HealthKnown {
		t.Error("no snapshot exists, health should be unknown")
	}
}
