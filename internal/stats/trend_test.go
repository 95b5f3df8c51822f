package stats_test

import (
	"math"
	"testing"

	"github.com/tuneloop/tuneloop/internal/stats"
)

func TestLinearTrend_Declining(t *testing.T) {
	// 5% drop per step over two weeks.
	values := make([]float64, 14)
	v := 0.10
	for i := range values {
		values[i] = v
		v *= 0.95
	}

	trend := stats.LinearTrend(values, 0.01)

	if trend.Direction != stats.TrendDeclining {
		t.Errorf("got direction %s, want declining", trend.Direction)
	}
	if trend.Slope >= 0 {
		t.Errorf("expected negative slope, got %f", trend.Slope)
	}
	if trend.NormalizedSlope >= 0 {
		t.Errorf("expected negative normalized slope, got %f", trend.NormalizedSlope)
	}
}

func TestLinearTrend_Improving(t *testing.T) {
	values := []float64{1, 2, 3, 4, 5}

	trend := stats.LinearTrend(values, 0.01)

	if trend.Direction != stats.TrendImproving {
		t.Errorf("got direction %s, want improving", trend.Direction)
	}
	if math.Abs(trend.Slope-1) > 1e-9 {
		t.Errorf("got slope %f, want 1", trend.Slope)
	}
}

func TestLinearTrend_FlatBand(t *testing.T) {
	// A tiny wiggle on a large base stays inside the flat band.
	values := []float64{100, 100.01, 100, 100.02, 100.01}

	trend := stats.LinearTrend(values, 0.01)

	if trend.Direction != stats.TrendFlat {
		t.Errorf("got direction %s, want flat", trend.Direction)
	}
}

func TestLinearTrend_TooFewPoints(t *testing.T) {
	trend := stats.LinearTrend([]float64{5}, 0.01)

	if trend.Direction != stats.TrendFlat {
		t.Errorf("got direction %s, want flat for a single point", trend.Direction)
	}
	if trend.Slope != 0 {
		t.Errorf("got slope %f, want 0", trend.Slope)
	}
}

func TestLinearTrend_ZeroMean(t *testing.T) {
	// Mean of zero: normalized slope is defined as 0, direction stays flat.
	values := []float64{-1, 0, 1}
	values[0], values[2] = values[2], values[0] // declining raw slope

	trend := stats.LinearTrend(values, 0.01)

	if trend.NormalizedSlope != 0 {
		t.Errorf("got normalized slope %f, want 0 for zero-mean series", trend.NormalizedSlope)
	}
	if trend.Direction != stats.TrendFlat {
		t.Errorf("got direction %s, want flat", trend.Direction)
	}
}

func TestMean(t *testing.T) {
	if got := stats.Mean([]float64{1, 2, 3, 4}); got != 2.5 {
		t.Errorf("got %f, want 2.5", got)
	}
	if got := stats.Mean(nil); got != 0 {
		t.Errorf("got %f for empty slice, want 0", got)
	}
}

func TestStdDev(t *testing.T) {
	// Population stddev of {2, 4, 4, 4, 5, 5, 7, 9} is exactly 2.
	got := stats.StdDev([]float64{2, 4, 4, 4, 5, 5, 7, 9})
	if math.Abs(got-2) > 1e-9 {
		t.Errorf("got %f, want 2", got)
	}

	if got := stats.StdDev([]float64{5}); got != 0 {
		t.Errorf("got %f for single value, want 0", got)
	}
}
