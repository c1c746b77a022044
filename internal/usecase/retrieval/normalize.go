package retrieval

// degenerateRange is the spread below which a score set counts as all-equal.
const degenerateRange = 1e-9

// Normalize min-max scales xs into [0,1]. An all-equal (or single) set maps to zeros.
func Normalize(xs []float64) []float64 {
	out := make([]float64, len(xs))
	if len(xs) == 0 {
		return out
	}
	lo, hi := xs[0], xs[0]
	for _, x := range xs[1:] {
		lo = min(lo, x)
		hi = max(hi, x)
	}
	if hi-lo < degenerateRange {
		return out
	}
	for i, x := range xs {
		out[i] = (x - lo) / (hi - lo)
	}
	return out
}
