// Package evidence decides which judged candidates count as direct evidence,
// labels coverage and picks near misses when there is nothing to answer from.
package evidence

// Policy holds the display, evidence and near-miss thresholds.
type Policy struct {
	ShowK        int     // candidates considered by the cutoff
	MinKeep      int     // floor on displayed candidates when material exists
	AbsMin       float64 // fused-score floor
	DisplayMin   float64 // judge floor for display
	StrongMin    float64 // judge floor for direct evidence
	VetoMaxBelow float64 // veto: max judge below this
	VetoMeanMin  float64 // veto: mean judge below this
	VetoMinCount int     // veto: fewer strong scores than this
	NearMissMin  float64
	NearMissMax  int
	NearMissMinK int
	CoverageTopN int
	ConfTopN     int
}

// DefaultPolicy returns the production thresholds.
func DefaultPolicy() Policy {
	return Policy{
		ShowK:        18,
		MinKeep:      4,
		AbsMin:       0.30,
		DisplayMin:   0.45,
		StrongMin:    0.60,
		VetoMaxBelow: 0.35,
		VetoMeanMin:  0.45,
		VetoMinCount: 1,
		NearMissMin:  0.28,
		NearMissMax:  6,
		NearMissMinK: 3,
		CoverageTopN: 8,
		ConfTopN:     4,
	}
}
