package evidence

import (
	"fmt"
	"math"
	"sort"

	"github.com/kailas-cloud/bookrag/internal/domain/hit"
)

// Coverage summarizes how strong and well spread the evidence is.
type Coverage string

// Coverage labels.
const (
	CoverageHigh        Coverage = "HIGH"
	CoverageDistributed Coverage = "DISTRIBUTED"
	CoverageOK          Coverage = "OK"
	CoverageWeak        Coverage = "WEAK"
)

// NoCandidatesConfidence is reported when there is nothing to score.
const NoCandidatesConfidence = 0.1

// CutStats describes the cutoff.
type CutStats struct {
	Kept int    `json:"kept"`
	All  int    `json:"all"`
	Rule string `json:"rule"`
}

// Cut orders hits by fused score (ties by source, section, id) and keeps the
// top ShowK that clear AbsMin, never fewer than MinKeep when hits exist.
func (p Policy) Cut(hits []hit.Hit) ([]hit.Hit, CutStats) {
	if len(hits) == 0 {
		return nil, CutStats{Rule: "empty"}
	}
	sorted := make([]hit.Hit, len(hits))
	copy(sorted, hits)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Source != b.Source {
			return a.Source < b.Source
		}
		if a.Section != b.Section {
			return a.Section < b.Section
		}
		return a.ID < b.ID
	})

	top := sorted[:min(len(sorted), max(p.ShowK, p.MinKeep))]
	out := make([]hit.Hit, 0, len(top))
	for _, h := range top {
		if h.Score >= p.AbsMin || len(out) < p.MinKeep {
			out = append(out, h)
		}
	}
	return out, CutStats{
		Kept: len(out),
		All:  len(top),
		Rule: fmt.Sprintf("top_k_with_min_keep_abs_min=%.2f", p.AbsMin),
	}
}

// DisplayFilter keeps hits whose judge score reaches jmin and backfills from
// the rejected ones, in order, up to MinKeep. Without judging it is a no-op.
func (p Policy) DisplayFilter(hits []hit.Hit, jmin float64, useJudge bool) ([]hit.Hit, CutStats) {
	if !useJudge {
		return hits, CutStats{Kept: len(hits), All: len(hits), Rule: "disp:none"}
	}
	var pass, rest []hit.Hit
	for _, h := range hits {
		if h.Judge >= jmin {
			pass = append(pass, h)
		} else {
			rest = append(rest, h)
		}
	}
	if short := p.MinKeep - len(pass); short > 0 {
		pass = append(pass, rest[:min(short, len(rest))]...)
	}
	return pass, CutStats{
		Kept: len(pass),
		All:  len(hits),
		Rule: fmt.Sprintf("disp:judge01>=%.2f (min_keep=%d)", jmin, p.MinKeep),
	}
}

// Direct returns hits that share a term with the query and clear StrongMin
// on the judge score (judging active) or AbsMin on the fused score.
func (p Policy) Direct(hits []hit.Hit, terms Terms, useJudge bool) []hit.Hit {
	var out []hit.Hit
	for _, h := range hits {
		h.Overlap = terms.Overlap(h.Text)
		if h.Overlap < 1 {
			continue
		}
		strong := h.Score >= p.AbsMin
		if useJudge {
			strong = h.Judge >= p.StrongMin
		}
		if strong {
			out = append(out, h)
		}
	}
	return out
}

// CoverageStats are judge-score statistics over the leading hits.
type CoverageStats struct {
	Max         float64 `json:"max"`
	Min         float64 `json:"min"`
	Std         float64 `json:"std"`
	StrongCount int     `json:"strong_count"`
}

// Stats computes CoverageStats over the first CoverageTopN hits.
func (p Policy) Stats(hits []hit.Hit) CoverageStats {
	top := hits[:min(len(hits), p.CoverageTopN)]
	if len(top) == 0 {
		return CoverageStats{}
	}
	st := CoverageStats{Max: math.Inf(-1), Min: math.Inf(1)}
	var sum float64
	for _, h := range top {
		st.Max = math.Max(st.Max, h.Judge)
		st.Min = math.Min(st.Min, h.Judge)
		sum += h.Judge
		if h.Judge >= p.StrongMin {
			st.StrongCount++
		}
	}
	if len(top) > 1 {
		mean := sum / float64(len(top))
		var ss float64
		for _, h := range top {
			ss += (h.Judge - mean) * (h.Judge - mean)
		}
		st.Std = math.Sqrt(ss / float64(len(top)))
	}
	return st
}

// Label classifies the direct hits.
func (p Policy) Label(direct []hit.Hit) Coverage {
	if len(direct) == 0 {
		return CoverageWeak
	}
	st := p.Stats(direct)
	switch {
	case st.Max >= 0.80 && st.Std < 0.06:
		return CoverageHigh
	case st.StrongCount >= 2 && st.Std < 0.12:
		return CoverageDistributed
	default:
		return CoverageOK
	}
}

// Confidence is the mean judge score of the leading direct hits, or of the
// pool when there are none, clamped to [0,1].
func (p Policy) Confidence(direct, pool []hit.Hit) float64 {
	src := direct
	if len(src) == 0 {
		src = pool
	}
	if len(src) == 0 {
		return NoCandidatesConfidence
	}
	top := src[:min(len(src), p.ConfTopN)]
	var sum float64
	for _, h := range top {
		sum += h.Judge
	}
	return math.Max(0, math.Min(1, sum/float64(len(top))))
}

// VetoStats describe the judged pool behind a veto decision.
type VetoStats struct {
	Max         float64 `json:"max"`
	Mean        float64 `json:"mean"`
	StrongCount int     `json:"strong_count"`
}

// Veto flags "no evidence" when the judged pool is uniformly weak. It is
// advisory: callers report it and never let it override direct hits.
func (p Policy) Veto(judged []hit.Hit, judgedN int) (bool, VetoStats) {
	pool := judged[:min(len(judged), judgedN)]
	if len(pool) == 0 {
		return false, VetoStats{}
	}
	st := VetoStats{Max: math.Inf(-1)}
	var sum float64
	for _, h := range pool {
		st.Max = math.Max(st.Max, h.Judge)
		sum += h.Judge
		if h.Judge >= p.StrongMin {
			st.StrongCount++
		}
	}
	st.Mean = sum / float64(len(pool))
	veto := st.Max < p.VetoMaxBelow && st.Mean < p.VetoMeanMin && st.StrongCount < p.VetoMinCount
	return veto, st
}
