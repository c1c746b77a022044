// Package hit defines the canonical candidate passage that flows through
// retrieval, fusion, judging and evidence selection.
package hit

import (
	"crypto/sha1" //nolint:gosec // content fingerprint, not security
	"encoding/hex"
	"path/filepath"
	"strings"
)

// textKeyPrefix is how many leading characters identify duplicate passages.
const textKeyPrefix = 200

// Hit is a candidate passage. Every field is always populated after fusion;
// stages copy and annotate values instead of sharing pointers.
type Hit struct {
	ID         string
	Publisher  string
	Source     string
	Book       string
	Section    string
	ChunkIndex int
	Text       string

	Dense     float64
	Lex       float64
	DenseNorm float64
	LexNorm   float64
	Score     float64

	Judge    float64
	JudgeRaw float64

	// Overlap counts query terms found in Text; set by evidence selection.
	Overlap int

	InDense bool
	InLex   bool
}

// BookTitle derives a display title from a source document path.
func BookTitle(source string) string {
	if source == "" {
		return ""
	}
	base := filepath.Base(source)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// TextKey fingerprints the first characters of the passage text.
func (h Hit) TextKey() string {
	t := h.Text
	if r := []rune(t); len(r) > textKeyPrefix {
		t = string(r[:textKeyPrefix])
	}
	sum := sha1.Sum([]byte(t)) //nolint:gosec // fingerprint
	return hex.EncodeToString(sum[:])
}

// BookKey is the (publisher, book, section) identity.
func (h Hit) BookKey() string {
	return h.Publisher + "\x00" + h.Book + "\x00" + h.Section
}

// SourceKey is the (source document, section) identity.
func (h Hit) SourceKey() string {
	return h.Source + "\x00" + h.Section
}

// View is the public shape of a hit in the query result.
type View struct {
	ID         string  `json:"id"`
	Publisher  string  `json:"pub"`
	Book       string  `json:"book"`
	Source     string  `json:"fp"`
	Section    string  `json:"sec"`
	ChunkIndex int     `json:"cidx"`
	Text       string  `json:"text"`
	Score      float64 `json:"score"`
	Dense      float64 `json:"dense"`
	Lex        float64 `json:"lex"`
	DenseNorm  float64 `json:"dense_n"`
	LexNorm    float64 `json:"lex_n"`
	Judge      float64 `json:"judge01"`
	JudgeRaw   float64 `json:"judge_raw"`

	Overlap           int      `json:"overlap,omitempty"`
	NearMissThreshold *float64 `json:"near_miss_threshold,omitempty"`
	UsedJudge         *bool    `json:"used_judge,omitempty"`
	Why               string   `json:"why,omitempty"`
}

// NewView projects a hit onto its public shape.
func NewView(h Hit) View {
	return View{
		ID:         h.ID,
		Publisher:  h.Publisher,
		Book:       h.Book,
		Source:     h.Source,
		Section:    h.Section,
		ChunkIndex: h.ChunkIndex,
		Text:       h.Text,
		Score:      h.Score,
		Dense:      h.Dense,
		Lex:        h.Lex,
		DenseNorm:  h.DenseNorm,
		LexNorm:    h.LexNorm,
		Judge:      h.Judge,
		JudgeRaw:   h.JudgeRaw,
		Overlap:    h.Overlap,
	}
}

// Views projects a slice of hits.
func Views(hs []Hit) []View {
	out := make([]View, len(hs))
	for i, h := range hs {
		out[i] = NewView(h)
	}
	return out
}
