// Package expand normalizes query phrasing and appends synonym terms before
// retrieval. Static synonyms always apply; embedding-similarity synonyms apply
// only when an embedding provider is configured.
package expand

import (
	"context"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/viant/vec/search"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/kailas-cloud/bookrag/internal/domain"
	"github.com/kailas-cloud/bookrag/internal/embedcache"
)

const (
	// DefaultTopK is the number of vocabulary neighbors considered per token (plus two).
	DefaultTopK = 3
	// DefaultMinScore is the cosine floor for embedding-similarity synonyms.
	DefaultMinScore = 0.65
	// DefaultVocabRetry is how long a failed vocabulary embed suppresses retries.
	DefaultVocabRetry = 30 * time.Second
	// TokenCacheSize bounds the private LRU of synonym token vectors.
	TokenCacheSize = 256
)

// Vectorizer is the subset of the caching embedder the expander needs.
type Vectorizer interface {
	Available() bool
	Model() string
	EmbedMany(ctx context.Context, texts []string, stats []*embedcache.Stats) [][]float32
}

// NewTokenVectorizer wraps provider in its own small LRU with no cache
// metrics. Single-word synonym embeds stay out of the query-vector cache
// and its hit/miss counters.
func NewTokenVectorizer(provider domain.Embedder, model string, logger *zap.Logger) *embedcache.Embedder {
	return embedcache.New(provider, model, embedcache.NewCache(TokenCacheSize), nil, logger)
}

// Rewrite records one phrasing rule that fired.
type Rewrite struct {
	Pattern     string `json:"pattern"`
	Replacement string `json:"rewrite"`
}

// Expansion is the expander's output for one query.
type Expansion struct {
	Original   string
	Rewritten  string
	Expanded   string
	Rewrites   []Rewrite
	Expansions []string
}

type rewriteRule struct {
	re   *regexp.Regexp
	repl string
}

var rewriteRules = []rewriteRule{
	{regexp.MustCompile(`(?i)\bwhat\s+is\b`), "definition of"},
	{regexp.MustCompile(`(?i)\bdefine\b`), "definition of"},
	{regexp.MustCompile(`(?i)\bmeaning\s+of\b`), "definition of"},
	{regexp.MustCompile(`(?i)\bhow\s+to\b`), "guide to"},
	{regexp.MustCompile(`(?i)\bvs\.?\b`), "versus"},
}

var synonyms = map[string][]string{
	"ai":  {"artificial intelligence"},
	"ml":  {"machine learning"},
	"nlp": {"natural language processing"},
	"llm": {"large language model", "large language models"},
	"rag": {"retrieval augmented generation", "retrieval-augmented generation"},
}

var tokenRe = regexp.MustCompile(`[A-Za-z0-9]+`)

// Tokens returns the lowercased alphanumeric runs of s.
func Tokens(s string) []string {
	raw := tokenRe.FindAllString(s, -1)
	out := make([]string, len(raw))
	for i, t := range raw {
		out[i] = strings.ToLower(t)
	}
	return out
}

// Vocabulary is the sorted union of synonym keys and their terms.
func Vocabulary() []string {
	set := make(map[string]struct{})
	for k, terms := range synonyms {
		set[k] = struct{}{}
		for _, t := range terms {
			set[t] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for t := range set {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

type vocabVec struct {
	term string
	vec  search.Float32s
}

// Expander rewrites and expands queries. Safe for concurrent use.
type Expander struct {
	vz         Vectorizer
	topK       int
	minScore   float32
	vocabRetry time.Duration
	logger     *zap.Logger

	group  singleflight.Group
	mu     sync.RWMutex
	vocab  map[string][]vocabVec // by embedding model
	failed map[string]time.Time  // last failed vocabulary embed, by model
}

// New creates an expander. vz may be nil, which disables vector synonyms.
func New(vz Vectorizer, logger *zap.Logger) *Expander {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Expander{
		vz:         vz,
		topK:       DefaultTopK,
		minScore:   DefaultMinScore,
		vocabRetry: DefaultVocabRetry,
		logger:     logger,
		vocab:      make(map[string][]vocabVec),
		failed:     make(map[string]time.Time),
	}
}

// Expand rewrites phrasing on the trimmed query, then appends static and
// vector synonyms of its tokens that the query does not already contain.
func (e *Expander) Expand(ctx context.Context, q string) Expansion {
	clean := strings.TrimSpace(q)
	out := Expansion{Original: clean}
	if clean == "" {
		return out
	}

	rewritten := clean
	for _, r := range rewriteRules {
		if r.re.MatchString(rewritten) {
			rewritten = r.re.ReplaceAllString(rewritten, r.repl)
			out.Rewrites = append(out.Rewrites, Rewrite{Pattern: r.re.String(), Replacement: r.repl})
		}
	}
	out.Rewritten = rewritten

	tokens := Tokens(clean)
	seen := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		seen[t] = struct{}{}
	}
	add := func(term string) {
		key := strings.ToLower(term)
		if _, ok := seen[key]; ok {
			return
		}
		seen[key] = struct{}{}
		out.Expansions = append(out.Expansions, term)
	}
	for _, t := range tokens {
		for _, syn := range synonyms[t] {
			add(syn)
		}
	}
	for _, syn := range e.vectorSynonyms(ctx, tokens) {
		add(syn)
	}

	out.Expanded = rewritten
	if len(out.Expansions) > 0 {
		out.Expanded = rewritten + " " + strings.Join(out.Expansions, " ")
	}
	return out
}

func (e *Expander) vectorSynonyms(ctx context.Context, tokens []string) []string {
	if e.vz == nil || !e.vz.Available() || len(tokens) == 0 {
		return nil
	}
	vocab := e.vocabVectors(ctx)
	if len(vocab) == 0 {
		return nil
	}

	type scored struct {
		term  string
		score float32
	}
	var out []string
	for _, v := range e.vz.EmbedMany(ctx, tokens, nil) {
		q := search.Float32s(v)
		if len(q) == 0 || q.Magnitude() <= 0 {
			continue
		}
		cands := make([]scored, 0, len(vocab))
		for _, w := range vocab {
			if len(w.vec) != len(q) {
				continue
			}
			cands = append(cands, scored{term: w.term, score: 1 - w.vec.CosineDistance(q)})
		}
		sort.Slice(cands, func(i, j int) bool {
			if cands[i].score != cands[j].score {
				return cands[i].score > cands[j].score
			}
			return cands[i].term > cands[j].term
		})
		for i, c := range cands {
			if i >= e.topK+2 {
				break
			}
			if c.score >= e.minScore {
				out = append(out, c.term)
			}
		}
	}
	return out
}

// vocabVectors returns the synonym vocabulary vectors for the current model.
// Concurrent first calls share one embed; a failure is remembered for
// vocabRetry so a down provider is not asked again on every query.
func (e *Expander) vocabVectors(ctx context.Context) []vocabVec {
	model := e.vz.Model()
	if v, ok := e.cachedVocab(model); ok {
		return v
	}
	res, _, _ := e.group.Do(model, func() (any, error) {
		if v, ok := e.cachedVocab(model); ok {
			return v, nil
		}
		return e.embedVocab(ctx, model), nil
	})
	return res.([]vocabVec)
}

// cachedVocab reports a settled result: built vectors, or nil inside the
// retry window after a failure.
func (e *Expander) cachedVocab(model string) ([]vocabVec, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if v, ok := e.vocab[model]; ok {
		return v, true
	}
	if at, ok := e.failed[model]; ok && time.Since(at) < e.vocabRetry {
		return nil, true
	}
	return nil, false
}

func (e *Expander) embedVocab(ctx context.Context, model string) []vocabVec {
	terms := Vocabulary()
	vecs := e.vz.EmbedMany(ctx, terms, nil)
	out := make([]vocabVec, 0, len(terms))
	for i, t := range terms {
		if i >= len(vecs) || len(vecs[i]) == 0 {
			continue
		}
		f := search.Float32s(vecs[i])
		if f.Magnitude() <= 0 {
			continue
		}
		out = append(out, vocabVec{term: t, vec: f})
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if len(out) == 0 {
		e.failed[model] = time.Now()
		e.logger.Warn("Synonym vocabulary embedding failed, vector synonyms disabled",
			zap.String("model", model), zap.Duration("retry_after", e.vocabRetry))
		return nil
	}
	delete(e.failed, model)
	e.vocab[model] = out
	return out
}
