// Package result defines the query result contract and its diagnostics.
package result

import (
	"strings"

	"github.com/kailas-cloud/bookrag/internal/domain"
	"github.com/kailas-cloud/bookrag/internal/domain/hit"
	"github.com/kailas-cloud/bookrag/internal/domain/mode"
)

// Coverage summarizes how strong and well spread the evidence is.
type Coverage string

// Coverage labels.
const (
	High        Coverage = "HIGH"
	Distributed Coverage = "DISTRIBUTED"
	OK          Coverage = "OK"
	Weak        Coverage = "WEAK"
)

// Result is the single contract returned for every query, successful or not.
// When OK is false, Meta.Err is set and NoEvidence is true.
type Result struct {
	OK         bool       `json:"ok"`
	NoEvidence bool       `json:"no_evidence"`
	Answer     string     `json:"answer"`
	Hits       []hit.View `json:"hits"`
	NearMiss   []hit.View `json:"near_miss"`
	Coverage   Coverage   `json:"coverage"`
	Confidence float64    `json:"confidence"`
	Meta       Meta       `json:"meta"`
}

// Meta is the structured diagnostics record, one section per stage.
type Meta struct {
	EventID  string        `json:"event_id"`
	Query    QueryInfo     `json:"query"`
	Timings  Timings       `json:"timings"`
	Counts   Counts        `json:"counts"`
	Caps     Caps          `json:"caps"`
	Flags    Flags         `json:"flags"`
	Coverage CoverageStats `json:"coverage"`
	NearMiss *NearMissInfo `json:"near_miss,omitempty"`
	Clamp    ClampInfo     `json:"clamp"`
	ErrLLM   string        `json:"err_llm,omitempty"`
	Err      *ErrorInfo    `json:"err,omitempty"`
}

// QueryInfo records what was actually searched.
type QueryInfo struct {
	Original   string    `json:"original"`
	Rewritten  string    `json:"rewritten"`
	Expanded   string    `json:"expanded"`
	Expansions []string  `json:"expansions"`
	Mode       string    `json:"mode"`
	Sort       mode.Sort `json:"sort"`
	Requested  []string  `json:"pubs_requested"`
	Used       []string  `json:"pubs_used"`
}

// Timings are per-stage durations in milliseconds.
type Timings struct {
	Expand       float64 `json:"t_expand_ms"`
	Embed        float64 `json:"t_embed_ms"`
	Dense        float64 `json:"t_dense_ms"`
	Lex          float64 `json:"t_lex_ms"`
	Fuse         float64 `json:"t_fuse_ms"`
	Judge        float64 `json:"t_judge_ms"`
	JudgeCache   float64 `json:"t_judge_cache_ms"`
	JudgePredict float64 `json:"t_judge_pred_ms"`
	Decide       float64 `json:"t_decide_ms"`
	Assemble     float64 `json:"t_assemble_ms"`
	Total        float64 `json:"t_total_ms"`
}

// Counts are hit and cache counters.
type Counts struct {
	Dense            int `json:"dense_hits"`
	Lex              int `json:"lex_hits"`
	Candidates       int `json:"candidates"`
	Fused            int `json:"fused"`
	Cut              int `json:"cut"`
	Display          int `json:"display"`
	Direct           int `json:"direct"`
	NearMiss         int `json:"near_miss"`
	PubsUsed         int `json:"pubs_used"`
	JudgeCacheHits   int `json:"judge_cache_hits"`
	JudgeCacheMisses int `json:"judge_cache_misses"`
	EmbedCacheHits   int `json:"embed_cache_hits"`
	EmbedCacheMisses int `json:"embed_cache_misses"`
	FallbackRetries  int `json:"fallback_retries"`
	FallbackFailed   int `json:"fallback_failed"`
}

// Caps record the fetch widths requested and applied.
type Caps struct {
	KRequested   int  `json:"k_requested"`
	KApplied     int  `json:"k_applied"`
	KClamped     bool `json:"k_clamped"`
	MMRCap       int  `json:"mmr_cap"`
	FinalK       int  `json:"final_k"`
	DenseK       int  `json:"dense_k"`
	LexK         int  `json:"lex_k"`
	DenseClamped bool `json:"dense_k_clamped"`
	LexClamped   bool `json:"lex_k_clamped"`
}

// Flags are capability and decision flags.
type Flags struct {
	HasEmbedding  bool       `json:"has_embedding"`
	LexicalOnly   bool       `json:"lexical_only"`
	UseJudge      bool       `json:"use_judge"`
	JudgeMode     mode.Judge `json:"judge_mode"`
	JudgeKind     string     `json:"judge_kind"`
	JudgeOK       bool       `json:"judge_ok"`
	JudgeFallback bool       `json:"judge_fallback"`
	DisplayFilter bool       `json:"display_filter"`
	VetoApplied   bool       `json:"veto_applied"`
}

// CoverageStats are the judge score statistics behind the coverage label.
type CoverageStats struct {
	Max    float64 `json:"max"`
	Min    float64 `json:"min"`
	Std    float64 `json:"std"`
	Strong int     `json:"strong_count"`
}

// NearMissInfo describes how near-miss passages were selected.
type NearMissInfo struct {
	Threshold float64 `json:"threshold"`
	UsedJudge bool    `json:"used_judge"`
	Count     int     `json:"count"`
	MinK      int     `json:"min_k"`
	MaxK      int     `json:"max_k"`
	Reason    string  `json:"reason,omitempty"`
}

// ClampInfo reports whether assembled context or prompt text was truncated.
type ClampInfo struct {
	Context      bool `json:"ctx_clamped"`
	ContextChars int  `json:"ctx_chars"`
	Prompt       bool `json:"prompt_clamped"`
	PromptChars  int  `json:"prompt_chars"`
}

// ErrorInfo is the user-facing failure detail.
type ErrorInfo struct {
	Kind    domain.ErrorKind `json:"kind"`
	Where   string           `json:"where"`
	Message string           `json:"message"`
	ID      string           `json:"id"`
	Missing []string         `json:"missing,omitempty"`
}

// Failure builds the ok=false result for a structured query error.
func Failure(qe *domain.QueryError, meta Meta) Result {
	meta.Err = &ErrorInfo{
		Kind:    qe.Kind,
		Where:   qe.Where,
		Message: qe.Msg,
		ID:      qe.ID,
		Missing: qe.Missing,
	}
	return Result{
		OK:         false,
		NoEvidence: true,
		Hits:       []hit.View{},
		NearMiss:   []hit.View{},
		Coverage:   Weak,
		Meta:       meta,
	}
}

const abstainText = "Abstain: no direct evidence to answer confidently."

// Summary renders a short chat reply for the result.
func (r *Result) Summary() string {
	if !r.OK && r.Meta.Err != nil {
		return r.Meta.Err.Message
	}
	if r.NoEvidence || r.Coverage == Weak {
		return abstainText
	}
	if r.Answer != "" {
		return r.Answer
	}
	if len(r.Hits) == 0 {
		return "No relevant passages found."
	}
	parts := make([]string, 0, 3)
	for i := 0; i < len(r.Hits) && i < 3; i++ {
		h := r.Hits[i]
		title := h.Book
		if title == "" {
			title = "Unknown book"
		}
		if h.Section != "" {
			title += " - " + h.Section
		}
		parts = append(parts, title)
	}
	return "Sources: " + strings.Join(parts, "; ")
}
