package stats

import "math"

// TwoProportionZTest runs a pooled two-proportion z-test and returns the
// z statistic together with the two-tailed confidence in [0,1] that the two
// underlying rates differ. A confidence of 0.95 corresponds to significance
// at the 0.05 level.
func TwoProportionZTest(aSuccesses, aTrials, bSuccesses, bTrials int64) (z, confidence float64) {
	if aTrials == 0 || bTrials == 0 {
		return 0, 0 // need data from both arms
	}

	pA := float64(aSuccesses) / float64(aTrials)
	pB := float64(bSuccesses) / float64(bTrials)

	// Pooled proportion under the null hypothesis (pA = pB)
	pooled := float64(aSuccesses+bSuccesses) / float64(aTrials+bTrials)

	// Standard error of the difference
	se := math.Sqrt(pooled * (1 - pooled) * (1/float64(aTrials) + 1/float64(bTrials)))
	if se == 0 {
		return 0, 0 // degenerate: all successes or all failures in both arms
	}

	z = (pA - pB) / se
	confidence = 2*NormalCDF(math.Abs(z)) - 1
	return z, confidence
}

// NormalCDF approximates the cumulative distribution function
// of the standard normal distribution
func NormalCDF(x float64) float64 {
	// Use the approximation from Abramowitz and Stegun
	// Handbook of Mathematical Functions, formula 7.1.26
	a1 := 0.254829592
	a2 := -0.284496736
	a3 := 1.421413741
	a4 := -1.453152027
	a5 := 1.061405429
	p := 0.3275911

	sign := 1.0
	if x < 0 {
		sign = -1.0
	}
	x = math.Abs(x) / math.Sqrt(2)

	t := 1.0 / (1.0 + p*x)
	y := 1.0 - (((((a5*t+a4)*t)+a3)*t+a2)*t+a1)*t*math.Exp(-x*x)

	return 0.5 * (1.0 + sign*y)
}
