package experiment

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/tuneloop/tuneloop/internal/store"
	"github.com/tuneloop/tuneloop/internal/testutil"
)

func newTestEngine(t *testing.T) (*Engine, *store.SQLiteStore) {
	t.Helper()
	s := testutil.SetupTestStore(t)
	e := NewEngine(s, Config{
		SignificanceThreshold: 0.05,
		MinSampleSize:         100,
		MaxTestDuration:       7 * 24 * time.Hour,
		MaxConcurrent:         5,
	}, zap.NewNop())
	return e, s
}

func timingAdj(platform string, hour int) store.Adjustment {
	return store.Adjustment{
		Kind:        store.AdjustTimingShift,
		TimingShift: &store.TimingShift{Platform: platform, Hour: hour},
	}
}

func twoArmParams(name, variable string) CreateParams {
	return CreateParams{
		Name:     name,
		Variable: variable,
		Variants: []VariantSpec{
			{Name: "control", IsControl: true, Config: timingAdj("twitter", 14)},
			{Name: "treatment", Config: timingAdj("twitter", 19)},
		},
	}
}

func bump(t *testing.T, s *store.SQLiteStore, variantID int64, event store.EventType, n int) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < n; i++ {
		if err := s.IncrementVariantCounter(ctx, variantID, event); err != nil {
			t.Fatalf("failed to increment %s: %v", event, err)
		}
	}
}

func TestCreate_Validation(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := e.Create(ctx, CreateParams{
		Name:     "one-arm",
		Variable: "format",
		Variants: []VariantSpec{{Name: "only", IsControl: true, Config: timingAdj("twitter", 9)}},
	})
	if err == nil {
		t.Error("expected error for a single variant")
	}

	_, err = e.Create(ctx, CreateParams{
		Name:     "no-control",
		Variable: "format",
		Variants: []VariantSpec{
			{Name: "a", Config: timingAdj("twitter", 9)},
			{Name: "b", Config: timingAdj("twitter", 10)},
		},
	})
	if err == nil {
		t.Error("expected error with no control variant")
	}
}

func TestCreate_MetricForVariable(t *testing.T) {
	e, s := newTestEngine(t)
	ctx := context.Background()

	tests := []struct {
		variable string
		want     store.Metric
	}{
		{"call_to_action", store.MetricConversion},
		{"headline", store.MetricClick},
		{"posting_time", store.MetricEngagement},
	}

	for _, tt := range tests {
		exp, err := e.Create(ctx, twoArmParams(tt.variable+"-exp", tt.variable))
		if err != nil {
			t.Fatalf("failed to create experiment for %s: %v", tt.variable, err)
		}
		got, err := s.GetExperiment(ctx, exp.ID)
		if err != nil {
			t.Fatalf("failed to get experiment: %v", err)
		}
		if got.Metric != tt.want {
			t.Errorf("variable %s: got metric %s, want %s", tt.variable, got.Metric, tt.want)
		}
	}
}

func TestCreate_Conflict(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	if _, err := e.Create(ctx, twoArmParams("first", "posting_time")); err != nil {
		t.Fatalf("failed to create first experiment: %v", err)
	}

	_, err := e.Create(ctx, twoArmParams("second", "posting_time"))
	if !errors.Is(err, ErrConflict) {
		t.Errorf("got %v, want ErrConflict", err)
	}

	// A different scope for the same variable is allowed.
	p := twoArmParams("scoped", "posting_time")
	p.Platform = "youtube"
	if _, err := e.Create(ctx, p); err != nil {
		t.Errorf("unexpected error for scoped experiment: %v", err)
	}
}

func TestCreate_CapacityLimit(t *testing.T) {
	s := testutil.SetupTestStore(t)
	e := NewEngine(s, Config{
		SignificanceThreshold: 0.05,
		MinSampleSize:         100,
		MaxTestDuration:       7 * 24 * time.Hour,
		MaxConcurrent:         2,
	}, zap.NewNop())
	ctx := context.Background()

	if _, err := e.Create(ctx, twoArmParams("a", "posting_time")); err != nil {
		t.Fatalf("failed to create: %v", err)
	}
	if _, err := e.Create(ctx, twoArmParams("b", "format")); err != nil {
		t.Fatalf("failed to create: %v", err)
	}

	_, err := e.Create(ctx, twoArmParams("c", "call_to_action"))
	if !errors.Is(err, ErrCapacity) {
		t.Errorf("got %v, want ErrCapacity", err)
	}
}

func TestEvaluate_DeclaresWinner(t *testing.T) {
	e, s := newTestEngine(t)
	ctx := context.Background()

	exp, err := e.Create(ctx, twoArmParams("clear-winner", "posting_time"))
	if err != nil {
		t.Fatalf("failed to create experiment: %v", err)
	}
	variants, _ := s.ListVariants(ctx, exp.ID)
	control, treatment := variants[0], variants[1]

	// Control engages at 10%, treatment at 25%.
	bump(t, s, control.ID, store.EventImpression, 100)
	bump(t, s, control.ID, store.EventEngagement, 10)
	bump(t, s, treatment.ID, store.EventImpression, 100)
	bump(t, s, treatment.ID, store.EventEngagement, 25)

	out, err := e.Evaluate(ctx, exp.ID)
	if err != nil {
		t.Fatalf("failed to evaluate: %v", err)
	}

	if !out.Completed {
		t.Fatal("expected the experiment to complete")
	}
	if out.Winner == nil || out.Winner.ID != treatment.ID {
		t.Fatalf("expected treatment to win, got %+v", out.Winner)
	}
	if out.Confidence < 0.95 {
		t.Errorf("got confidence %f, want >= 0.95", out.Confidence)
	}
	if out.ImprovementPct < 149 || out.ImprovementPct > 151 {
		t.Errorf("got improvement %f%%, want about 150%%", out.ImprovementPct)
	}

	stored, _ := s.GetExperiment(ctx, exp.ID)
	if stored.Status != store.ExperimentCompleted {
		t.Errorf("got status %s, want completed", stored.Status)
	}
}

func TestEvaluate_NoWinnerForSmallDelta(t *testing.T) {
	e, s := newTestEngine(t)
	ctx := context.Background()

	exp, err := e.Create(ctx, twoArmParams("noise", "posting_time"))
	if err != nil {
		t.Fatalf("failed to create experiment: %v", err)
	}
	variants, _ := s.ListVariants(ctx, exp.ID)

	// 10% vs 12% over 100 impressions each is not significant.
	bump(t, s, variants[0].ID, store.EventImpression, 100)
	bump(t, s, variants[0].ID, store.EventEngagement, 10)
	bump(t, s, variants[1].ID, store.EventImpression, 100)
	bump(t, s, variants[1].ID, store.EventEngagement, 12)

	out, err := e.Evaluate(ctx, exp.ID)
	if err != nil {
		t.Fatalf("failed to evaluate: %v", err)
	}

	if out.Completed {
		t.Error("expected the experiment to stay active")
	}
	if out.Winner != nil {
		t.Errorf("expected no winner, got %s", out.Winner.Name)
	}

	stored, _ := s.GetExperiment(ctx, exp.ID)
	if stored.Status != store.ExperimentActive {
		t.Errorf("got status %s, want active", stored.Status)
	}
}

func TestEvaluate_RequiresFullSampling(t *testing.T) {
	e, s := newTestEngine(t)
	ctx := context.Background()

	exp, err := e.Create(ctx, twoArmParams("undersampled", "posting_time"))
	if err != nil {
		t.Fatalf("failed to create experiment: %v", err)
	}
	variants, _ := s.ListVariants(ctx, exp.ID)

	// A huge difference, but one arm is under the minimum sample size.
	bump(t, s, variants[0].ID, store.EventImpression, 100)
	bump(t, s, variants[0].ID, store.EventEngagement, 5)
	bump(t, s, variants[1].ID, store.EventImpression, 50)
	bump(t, s, variants[1].ID, store.EventEngagement, 40)

	out, err := e.Evaluate(ctx, exp.ID)
	if err != nil {
		t.Fatalf("failed to evaluate: %v", err)
	}
	if out.Completed || out.Winner != nil {
		t.Error("expected no resolution while undersampled")
	}
}

func TestEvaluate_Idempotent(t *testing.T) {
	e, s := newTestEngine(t)
	ctx := context.Background()

	exp, err := e.Create(ctx, twoArmParams("idempotent", "posting_time"))
	if err != nil {
		t.Fatalf("failed to create experiment: %v", err)
	}
	variants, _ := s.ListVariants(ctx, exp.ID)

	bump(t, s, variants[0].ID, store.EventImpression, 100)
	bump(t, s, variants[0].ID, store.EventEngagement, 10)
	bump(t, s, variants[1].ID, store.EventImpression, 100)
	bump(t, s, variants[1].ID, store.EventEngagement, 25)

	first, err := e.Evaluate(ctx, exp.ID)
	if err != nil {
		t.Fatalf("first evaluate failed: %v", err)
	}

	// More observations arrive after completion; the stored result holds.
	bump(t, s, variants[0].ID, store.EventEngagement, 80)

	second, err := e.Evaluate(ctx, exp.ID)
	if err != nil {
		t.Fatalf("second evaluate failed: %v", err)
	}

	if !second.Completed {
		t.Fatal("expected completed result")
	}
	if second.Winner == nil || second.Winner.ID != first.Winner.ID {
		t.Errorf("winner changed across evaluations")
	}
	if second.Confidence != first.Confidence || second.ImprovementPct != first.ImprovementPct {
		t.Errorf("stored result changed: first (%f, %f), second (%f, %f)",
			first.Confidence, first.ImprovementPct, second.Confidence, second.ImprovementPct)
	}
}

func TestEvaluate_DurationExpiry(t *testing.T) {
	e, s := newTestEngine(t)
	ctx := context.Background()

	exp, err := e.Create(ctx, twoArmParams("expired", "posting_time"))
	if err != nil {
		t.Fatalf("failed to create experiment: %v", err)
	}
	variants, _ := s.ListVariants(ctx, exp.ID)

	bump(t, s, variants[0].ID, store.EventImpression, 100)
	bump(t, s, variants[0].ID, store.EventEngagement, 10)
	bump(t, s, variants[1].ID, store.EventImpression, 100)
	bump(t, s, variants[1].ID, store.EventEngagement, 12)

	// Jump past the maximum duration.
	e.now = func() time.Time { return time.Now().Add(8 * 24 * time.Hour) }

	out, err := e.Evaluate(ctx, exp.ID)
	if err != nil {
		t.Fatalf("failed to evaluate: %v", err)
	}

	if !out.Completed || !out.Inconclusive {
		t.Errorf("expected inconclusive completion, got completed=%v inconclusive=%v",
			out.Completed, out.Inconclusive)
	}
	if out.Winner != nil {
		t.Errorf("expected no winner, got %s", out.Winner.Name)
	}

	stored, _ := s.GetExperiment(ctx, exp.ID)
	if stored.Status != store.ExperimentCompleted || stored.WinningVariantID != nil {
		t.Errorf("stored state wrong: status %s, winner %v", stored.Status, stored.WinningVariantID)
	}
}

func TestEvaluateAll(t *testing.T) {
	e, s := newTestEngine(t)
	ctx := context.Background()

	expA, err := e.Create(ctx, twoArmParams("a", "posting_time"))
	if err != nil {
		t.Fatalf("failed to create: %v", err)
	}
	if _, err := e.Create(ctx, twoArmParams("b", "format")); err != nil {
		t.Fatalf("failed to create: %v", err)
	}

	variants, _ := s.ListVariants(ctx, expA.ID)
	bump(t, s, variants[0].ID, store.EventImpression, 100)
	bump(t, s, variants[0].ID, store.EventEngagement, 10)
	bump(t, s, variants[1].ID, store.EventImpression, 100)
	bump(t, s, variants[1].ID, store.EventEngagement, 25)

	outcomes, err := e.EvaluateAll(ctx)
	if err != nil {
		t.Fatalf("failed to evaluate all: %v", err)
	}
	if len(outcomes) != 2 {
		t.Fatalf("got %d outcomes, want 2", len(outcomes))
	}

	completed := 0
	for _, out := range outcomes {
		if out.Completed {
			completed++
		}
	}
	if completed != 1 {
		t.Errorf("got %d completed experiments, want 1", completed)
	}
}

func TestLearnings(t *testing.T) {
	e, s := newTestEngine(t)
	ctx := context.Background()

	exp, err := e.Create(ctx, twoArmParams("lesson", "posting_time"))
	if err != nil {
		t.Fatalf("failed to create: %v", err)
	}
	variants, _ := s.ListVariants(ctx, exp.ID)
	bump(t, s, variants[0].ID, store.EventImpression, 100)
	bump(t, s, variants[0].ID, store.EventEngagement, 10)
	bump(t, s, variants[1].ID, store.EventImpression, 100)
	bump(t, s, variants[1].ID, store.EventEngagement, 25)

	if _, err := e.Evaluate(ctx, exp.ID); err != nil {
		t.Fatalf("failed to evaluate: %v", err)
	}

	learnings, err := e.Learnings(ctx, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("failed to list learnings: %v", err)
	}
	if len(learnings) != 1 {
		t.Fatalf("got %d learnings, want 1", len(learnings))
	}
	l := learnings[0]
	if l.WinnerName != "treatment" || l.Variable != "posting_time" {
		t.Errorf("learning mismatch: %+v", l)
	}

	// Nothing resolved after a future cutoff.
	learnings, _ = e.Learnings(ctx, time.Now().Add(time.Hour))
	if len(learnings) != 0 {
		t.Errorf("got %d learnings after future cutoff, want 0", len(learnings))
	}
}

func TestRecordObservation_UnknownEvent(t *testing.T) {
	e, _ := newTestEngine(t)

	if err := e.RecordObservation(context.Background(), 1, "view"); err == nil {
		t.Error("expected error for unknown event type")
	}
}
