package scorer

import "math"

// z95 is the normal quantile for a 95% two-sided interval.
const z95 = 1.959963984540054

// wilson returns the Wilson score interval for k successes out of n trials.
// With continuity=true the Newcombe continuity-corrected bounds are used,
// which widen the interval at small n instead of letting it collapse around
// the point estimate.
func wilson(k, n int, z float64, continuity bool) (lower, upper float64) {
	if n <= 0 {
		return 0, 0
	}
	p := float64(k) / float64(n)
	nf := float64(n)
	z2 := z * z

	if !continuity {
		denom := 1 + z2/nf
		center := (p + z2/(2*nf)) / denom
		margin := z * math.Sqrt(p*(1-p)/nf+z2/(4*nf*nf)) / denom
		return clamp01(center - margin), clamp01(center + margin)
	}

	// Continuity-corrected bounds (Newcombe 1998).
	if k == 0 {
		lower = 0
	} else {
		num := 2*nf*p + z2 - 1 - z*math.Sqrt(z2-2-1/nf+4*p*(nf*(1-p)+1))
		lower = clamp01(num / (2 * (nf + z2)))
	}
	if k == n {
		upper = 1
	} else {
		num := 2*nf*p + z2 + 1 + z*math.Sqrt(z2+2-1/nf+4*p*(nf*(1-p)-1))
		upper = clamp01(num / (2 * (nf + z2)))
	}
	return lower, upper
}

func clamp01(v float64) float64 {
	return math.Min(1, math.Max(0, v))
}

func clampScore(v float64) float64 {
	return math.Min(100, math.Max(0, v))
}
