package evidence

import (
	"sort"

	"github.com/kailas-cloud/bookrag/internal/domain/hit"
)

// NearMissExplanation is attached to near misses picked when there is no
// direct evidence.
const NearMissExplanation = "Close but below judge/overlap threshold"

// NearMissMeta describes how near misses were selected.
type NearMissMeta struct {
	Threshold float64 `json:"threshold"`
	UsedJudge bool    `json:"used_judge"`
	Count     int     `json:"count"`
	Reason    string  `json:"reason,omitempty"`
}

// NearMiss is a candidate shown as a closest miss.
type NearMiss struct {
	hit.Hit
	Threshold float64
	UsedJudge bool
	Why       string
}

// View projects a near miss with its selection annotations.
func (n NearMiss) View() hit.View {
	v := hit.NewView(n.Hit)
	thr, used := n.Threshold, n.UsedJudge
	v.NearMissThreshold = &thr
	v.UsedJudge = &used
	v.Why = n.Why
	return v
}

// NearMissViews projects a slice of near misses.
func NearMissViews(nm []NearMiss) []hit.View {
	out := make([]hit.View, len(nm))
	for i, n := range nm {
		out[i] = n.View()
	}
	return out
}

// NearMisses returns overlapping hits above the near-miss floor (judge score
// with judging, AbsMin on the fused score without), best first, capped at
// NearMissMax.
func (p Policy) NearMisses(hits []hit.Hit, terms Terms, useJudge bool) ([]hit.Hit, NearMissMeta) {
	var out []hit.Hit
	for _, h := range hits {
		h.Overlap = terms.Overlap(h.Text)
		if h.Overlap < 1 {
			continue
		}
		near := h.Score >= p.AbsMin
		if useJudge {
			near = h.Judge >= p.NearMissMin
		}
		if near {
			out = append(out, h)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if useJudge {
			return out[i].JudgeRaw > out[j].JudgeRaw
		}
		return out[i].Score > out[j].Score
	})
	return out[:min(len(out), p.NearMissMax)], NearMissMeta{Threshold: p.NearMissMin, UsedJudge: useJudge}
}

type nmKey struct {
	id     string
	index  int
	source string
}

func keyOf(h hit.Hit) nmKey { return nmKey{h.ID, h.ChunkIndex, h.Source} }

// EnsureNearMisses tops up near misses from the pool: first overlapping hits
// by (overlap, score) up to NearMissMax, then, while still short of
// NearMissMinK, any remaining hits in pool order. Every result is annotated
// with meta and why.
func (p Policy) EnsureNearMisses(nm, pool []hit.Hit, terms Terms, meta NearMissMeta, why string) []NearMiss {
	out := append([]hit.Hit(nil), nm...)
	seen := make(map[nmKey]struct{}, len(out))
	for _, h := range out {
		seen[keyOf(h)] = struct{}{}
	}

	var extras []hit.Hit
	for _, h := range pool {
		if _, ok := seen[keyOf(h)]; ok {
			continue
		}
		h.Overlap = terms.Overlap(h.Text)
		if h.Overlap < 1 {
			continue
		}
		extras = append(extras, h)
	}
	sort.SliceStable(extras, func(i, j int) bool {
		if extras[i].Overlap != extras[j].Overlap {
			return extras[i].Overlap > extras[j].Overlap
		}
		return judgeOrScore(extras[i]) > judgeOrScore(extras[j])
	})
	for _, h := range extras {
		if len(out) >= p.NearMissMax {
			break
		}
		out = append(out, h)
		seen[keyOf(h)] = struct{}{}
	}

	for _, h := range pool {
		if len(out) >= p.NearMissMax || len(out) >= p.NearMissMinK {
			break
		}
		if _, ok := seen[keyOf(h)]; ok {
			continue
		}
		out = append(out, h)
		seen[keyOf(h)] = struct{}{}
	}

	out = out[:min(len(out), p.NearMissMax)]
	res := make([]NearMiss, len(out))
	for i, h := range out {
		res[i] = NearMiss{Hit: h, Threshold: meta.Threshold, UsedJudge: meta.UsedJudge, Why: why}
	}
	return res
}

func judgeOrScore(h hit.Hit) float64 {
	if h.Judge != 0 {
		return h.Judge
	}
	return h.Score
}

// ReasonComputeDisabled is recorded when the caller turned near misses off.
const ReasonComputeDisabled = "compute_near_miss_disabled"
