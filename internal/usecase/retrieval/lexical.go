package retrieval

import (
	"context"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/kailas-cloud/bookrag/internal/domain/hit"
)

var (
	phraseRe = regexp.MustCompile(`"([^"]+)"|'([^']+)'`)
	tokenRe  = regexp.MustCompile(`[A-Za-z0-9]+`)

	ftsOperators = map[string]bool{"AND": true, "OR": true, "NOT": true, "NEAR": true}
)

// LexStats describes one lexical retrieval call.
type LexStats struct {
	KRequested int
	KApplied   int
	KClamped   bool
}

// SanitizeMatch turns free text into a safe FTS5 expression: quoted phrases
// become exact phrases, other alphanumeric tokens of two or more characters
// become terms, duplicates are dropped case-insensitively and everything is
// OR-ed. Returns "" when nothing searchable remains.
func SanitizeMatch(q string) string {
	q = strings.TrimSpace(q)
	if q == "" {
		return ""
	}

	var phrases []string
	var rest strings.Builder
	last := 0
	for _, m := range phraseRe.FindAllStringSubmatchIndex(q, -1) {
		rest.WriteString(q[last:m[0]])
		rest.WriteByte(' ')
		switch {
		case m[2] >= 0:
			phrases = append(phrases, q[m[2]:m[3]])
		case m[4] >= 0:
			phrases = append(phrases, q[m[4]:m[5]])
		}
		last = m[1]
	}
	rest.WriteString(q[last:])

	seen := make(map[string]struct{})
	var terms []string
	add := func(term, key string) {
		if _, ok := seen[key]; ok {
			return
		}
		seen[key] = struct{}{}
		terms = append(terms, term)
	}

	for _, tok := range ftsTokens(rest.String()) {
		if ftsOperators[tok] {
			// bare AND/OR/NOT/NEAR would be parsed as operators
			add(`"`+tok+`"`, strings.ToLower(tok))
			continue
		}
		add(tok, strings.ToLower(tok))
	}
	for _, p := range phrases {
		toks := ftsTokens(p)
		switch len(toks) {
		case 0:
		case 1:
			add(toks[0], strings.ToLower(toks[0]))
		default:
			text := strings.Join(toks, " ")
			add(`"`+strings.ReplaceAll(text, `"`, `""`)+`"`, strings.ToLower(text))
		}
	}
	return strings.Join(terms, " OR ")
}

func ftsTokens(s string) []string {
	var out []string
	for _, t := range tokenRe.FindAllString(s, -1) {
		if len(t) >= 2 {
			out = append(out, t)
		}
	}
	return out
}

// Lexical runs a BM25 full-text search on one publisher. BM25 is
// lower-is-better, so the lexical score is its negation. Failures are
// logged and yield no hits.
func (r *Retriever) Lexical(ctx context.Context, publisher, query string, k int) ([]hit.Hit, LexStats) {
	st := LexStats{KRequested: k, KApplied: clampK(k, r.cfg.LexFetchK)}
	st.KClamped = st.KApplied != st.KRequested

	_, store, ok := r.corpora.Corpus(publisher)
	if !ok {
		return nil, st
	}
	expr := SanitizeMatch(query)
	if expr == "" {
		return nil, st
	}

	matches, err := store.Match(ctx, expr, st.KApplied)
	if err != nil {
		r.logger.Warn("Lexical search failed",
			zap.String("publisher", publisher), zap.String("expr", expr), zap.Error(err))
		return nil, st
	}

	hits := make([]hit.Hit, len(matches))
	scores := make([]float64, len(matches))
	for i, m := range matches {
		h := fromChunk(publisher, m.Chunk)
		h.Lex = -m.BM25
		h.InLex = true
		hits[i] = h
		scores[i] = h.Lex
	}
	for i, n := range Normalize(scores) {
		hits[i].LexNorm = n
	}
	return hits, st
}
