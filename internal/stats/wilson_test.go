package stats_test

import (
	"math"
	"testing"

	"github.com/tuneloop/tuneloop/internal/stats"
)

func TestWilsonInterval_ContainsPointEstimate(t *testing.T) {
	lower, upper := stats.WilsonInterval(30, 100, 0.95)

	rate := 0.3
	if lower >= rate || upper <= rate {
		t.Errorf("expected interval [%f, %f] to contain %f", lower, upper, rate)
	}
}

func TestWilsonInterval_NarrowsWithSampleSize(t *testing.T) {
	smallLower, smallUpper := stats.WilsonInterval(30, 100, 0.95)
	largeLower, largeUpper := stats.WilsonInterval(300, 1000, 0.95)

	if largeUpper-largeLower >= smallUpper-smallLower {
		t.Errorf("expected a larger sample to narrow the interval: small width %f, large width %f",
			smallUpper-smallLower, largeUpper-largeLower)
	}
}

func TestWilsonInterval_ZeroTrials(t *testing.T) {
	lower, upper := stats.WilsonInterval(0, 0, 0.95)

	if lower != 0 || upper != 0 {
		t.Errorf("expected (0, 0) for zero trials, got (%f, %f)", lower, upper)
	}
}

func TestWilsonInterval_ClampedToUnit(t *testing.T) {
	lower, _ := stats.WilsonInterval(0, 10, 0.95)
	_, upper := stats.WilsonInterval(10, 10, 0.95)

	if lower < 0 {
		t.Errorf("lower bound below 0: %f", lower)
	}
	if upper > 1 {
		t.Errorf("upper bound above 1: %f", upper)
	}
}

func TestZScore_CommonLevels(t *testing.T) {
	tests := []struct {
		confidence float64
		want       float64
	}{
		{0.99, 2.576},
		{0.95, 1.96},
		{0.90, 1.645},
	}

	for _, tt := range tests {
		got := stats.ZScore(tt.confidence)
		if math.Abs(got-tt.want) > 0.001 {
			t.Errorf("ZScore(%f) = %f, want %f", tt.confidence, got, tt.want)
		}
	}
}

func TestZScore_ApproximationBelowTable(t *testing.T) {
	// Below the tabulated levels the Acklam approximation takes over.
	// The two-tailed z for 70% confidence is about 1.036.
	got := stats.ZScore(0.70)
	if math.Abs(got-1.036) > 0.01 {
		t.Errorf("ZScore(0.70) = %f, want about 1.036", got)
	}
}
