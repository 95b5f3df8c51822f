package stats

import "math"

type TrendDirection string

const (
	TrendImproving TrendDirection = "improving"
	TrendDeclining TrendDirection = "declining"
	TrendFlat      TrendDirection = "flat"
)

// Trend is the result of an ordinary least-squares fit over an ordered
// series. NormalizedSlope is the per-step slope divided by the series mean,
// so a value of -0.05 reads as "declining about 5% of the average per step".
type Trend struct {
	Direction       TrendDirection
	Slope           float64
	NormalizedSlope float64
}

// LinearTrend fits y = a + b*x over the values (x = 0..n-1) and classifies
// the direction. Slopes whose normalized magnitude falls below flatThreshold
// are reported as flat rather than as a trend.
func LinearTrend(values []float64, flatThreshold float64) Trend {
	n := len(values)
	if n < 2 {
		return Trend{Direction: TrendFlat}
	}

	meanX := float64(n-1) / 2
	meanY := Mean(values)

	var num, den float64
	for i, y := range values {
		dx := float64(i) - meanX
		num += dx * (y - meanY)
		den += dx * dx
	}
	if den == 0 {
		return Trend{Direction: TrendFlat}
	}

	slope := num / den

	normalized := 0.0
	if meanY != 0 {
		normalized = slope / math.Abs(meanY)
	}

	direction := TrendFlat
	if math.Abs(normalized) >= flatThreshold {
		if slope > 0 {
			direction = TrendImproving
		} else {
			direction = TrendDeclining
		}
	}

	return Trend{Direction: direction, Slope: slope, NormalizedSlope: normalized}
}

// Mean returns the arithmetic mean, 0 for an empty slice.
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// StdDev returns the population standard deviation, 0 for fewer than
// two values.
func StdDev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	mean := Mean(values)
	var sumSq float64
	for _, v := range values {
		d := v - mean
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(len(values)))
}
