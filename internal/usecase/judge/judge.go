// Package judge reranks fused candidates with a cross-encoder scorer or a
// deterministic proxy heuristic.
package judge

import (
	"context"
	"crypto/sha1" //nolint:gosec // content fingerprint, not security
	"encoding/hex"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/kailas-cloud/bookrag/internal/domain"
	"github.com/kailas-cloud/bookrag/internal/domain/hit"
)

// Mode selects how candidates are judged.
type Mode string

// Judge modes.
const (
	ModeReal  Mode = "real"
	ModeProxy Mode = "proxy"
	ModeOff   Mode = "off"
)

// ParseMode normalizes a mode name; anything unknown is proxy.
func ParseMode(s string) Mode {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeReal, ModeProxy, ModeOff:
		return m
	default:
		return ModeProxy
	}
}

// Kind names the judge that produced the scores.
type Kind string

// Judge kinds.
const (
	KindCrossEncoder Kind = "cross_encoder"
	KindProxy        Kind = "local_judge_v1"
	KindOff          Kind = "off"
)

const (
	// DefaultTopN bounds how many leading candidates the cross-encoder scores.
	DefaultTopN = 12
	// DefaultPassagePrefix is the passage length sent to the scorer.
	DefaultPassagePrefix = 1200

	hashTextPrefix = 800
)

// Scorer returns one raw relevance logit per passage for a query.
type Scorer interface {
	Score(ctx context.Context, query string, passages []string) ([]float64, error)
}

// Config tunes the real judge.
type Config struct {
	TopN          int
	PassagePrefix int
}

// Outcome is the judge result. Hits carry Judge in [0,1]; with a real
// scorer JudgeRaw keeps the logit.
type Outcome struct {
	Hits        []hit.Hit
	Kind        Kind
	Scored      bool
	Proxy       bool
	Judged      int
	CacheHits   int
	CacheMisses int
	TCache      time.Duration
	TPred       time.Duration
	Unavailable string
}

// Judge reranks candidates. The scorer may be nil, in which case real
// judging is unavailable.
type Judge struct {
	scorer     Scorer
	cache      *Cache
	cfg        Config
	cacheTotal *prometheus.CounterVec
	logger     *zap.Logger
}

// New creates a judge. cacheTotal ("result" label) may be nil.
func New(scorer Scorer, cache *Cache, cfg Config, cacheTotal *prometheus.CounterVec, logger *zap.Logger) *Judge {
	if cfg.TopN <= 0 {
		cfg.TopN = DefaultTopN
	}
	if cfg.PassagePrefix <= 0 {
		cfg.PassagePrefix = DefaultPassagePrefix
	}
	if cache == nil {
		cache = NewCache(DefaultCacheSize, DefaultCacheTTL)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Judge{scorer: scorer, cache: cache, cfg: cfg, cacheTotal: cacheTotal, logger: logger}
}

// Available reports whether real judging can run.
func (j *Judge) Available() bool { return j != nil && j.scorer != nil }

// Rerank judges hits according to mode. It returns an error wrapping
// domain.ErrJudgeUnavailable only for real mode, when no scorer is configured
// or scoring fails; the caller decides whether that is fatal.
func (j *Judge) Rerank(ctx context.Context, query string, hits []hit.Hit, mode Mode) (Outcome, error) {
	switch mode {
	case ModeOff:
		return Off(hits), nil
	case ModeReal:
		return j.real(ctx, query, hits)
	default:
		return Proxy(hits), nil
	}
}

// Off leaves order untouched and sets each judge score to the fused score.
func Off(hits []hit.Hit) Outcome {
	out := make([]hit.Hit, len(hits))
	for i, h := range hits {
		h.Judge = h.Score
		out[i] = h
	}
	return Outcome{Hits: out, Kind: KindOff}
}

// Proxy scores max(fused, 0.6*dense_n + 0.4*lex_n) and sorts by it.
func Proxy(hits []hit.Hit) Outcome {
	out := make([]hit.Hit, len(hits))
	for i, h := range hits {
		h.Judge = math.Max(h.Score, 0.6*h.DenseNorm+0.4*h.LexNorm)
		out[i] = h
	}
	sort.SliceStable(out, func(a, b int) bool { return out[a].Judge > out[b].Judge })
	return Outcome{Hits: out, Kind: KindProxy, Proxy: true, Judged: len(out), CacheMisses: len(out)}
}

func (j *Judge) real(ctx context.Context, query string, hits []hit.Hit) (Outcome, error) {
	if !j.Available() {
		return Outcome{Kind: KindCrossEncoder, Unavailable: "no cross-encoder configured"},
			fmt.Errorf("rerank: %w", domain.ErrJudgeUnavailable)
	}

	n := min(j.cfg.TopN, len(hits))
	top := make([]hit.Hit, n)
	copy(top, hits[:n])
	res := Outcome{Kind: KindCrossEncoder, Judged: n}

	raw := make([]float64, n)
	keys := make([]string, n)
	var missIdx []int
	var missText []string

	t0 := time.Now()
	for i, h := range top {
		keys[i] = CacheKey(query, ChunkHash(h))
		if s, ok := j.cache.Get(keys[i]); ok {
			raw[i] = s
			res.CacheHits++
			j.countCache("hit")
			continue
		}
		res.CacheMisses++
		j.countCache("miss")
		missIdx = append(missIdx, i)
		missText = append(missText, prefix(h.Text, j.cfg.PassagePrefix))
	}
	res.TCache = time.Since(t0)

	if len(missIdx) > 0 {
		t1 := time.Now()
		scores, err := j.scorer.Score(ctx, query, missText)
		res.TPred = time.Since(t1)
		if err == nil && len(scores) != len(missText) {
			err = fmt.Errorf("scorer returned %d scores for %d passages", len(scores), len(missText))
		}
		if err != nil {
			j.logger.Warn("Cross-encoder scoring failed", zap.Int("passages", len(missText)), zap.Error(err))
			res.Unavailable = domain.SafeMessage(err.Error())
			return res, fmt.Errorf("rerank: %w: %w", domain.ErrJudgeUnavailable, err)
		}
		for k, i := range missIdx {
			raw[i] = scores[k]
			j.cache.Put(keys[i], scores[k])
		}
	}

	for i := range top {
		top[i].JudgeRaw = raw[i]
		top[i].Judge = Sigmoid(raw[i])
	}
	sort.SliceStable(top, func(a, b int) bool { return top[a].JudgeRaw > top[b].JudgeRaw })

	res.Hits = make([]hit.Hit, 0, len(hits))
	res.Hits = append(res.Hits, top...)
	res.Hits = append(res.Hits, hits[n:]...)
	res.Scored = true
	return res, nil
}

func (j *Judge) countCache(result string) {
	if j.cacheTotal != nil {
		j.cacheTotal.WithLabelValues(result).Inc()
	}
}

// Sigmoid maps a logit to (0,1).
func Sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

// ChunkHash fingerprints a passage by its identity and the first 800
// characters of its text.
func ChunkHash(h hit.Hit) string {
	textSum := sha1.Sum([]byte(prefix(h.Text, hashTextPrefix))) //nolint:gosec // fingerprint
	payload := strings.Join([]string{
		h.ID,
		h.Source,
		strconv.Itoa(h.ChunkIndex),
		hex.EncodeToString(textSum[:]),
	}, "|")
	sum := sha1.Sum([]byte(payload)) //nolint:gosec // fingerprint
	return hex.EncodeToString(sum[:])
}

func prefix(s string, n int) string {
	if len(s) <= n {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
