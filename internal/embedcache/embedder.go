package embedcache

import (
	"context"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/kailas-cloud/bookrag/internal/domain"
)

// Stats accumulates cache outcomes for one query.
type Stats struct {
	Hits   int
	Misses int
}

func (s *Stats) record(hit bool) {
	if s == nil {
		return
	}
	if hit {
		s.Hits++
	} else {
		s.Misses++
	}
}

// Embedder wraps an optional provider with the vector cache.
// A nil provider yields empty vectors, which callers treat as "dense unavailable".
type Embedder struct {
	inner      domain.Embedder
	model      string
	cache      *Cache
	cacheTotal *prometheus.CounterVec
	group      singleflight.Group
	logger     *zap.Logger
}

// New creates a caching embedder.
// cacheTotal is a counter vec with label "result" ("hit"/"miss"), passed explicitly.
func New(
	inner domain.Embedder,
	model string,
	cache *Cache,
	cacheTotal *prometheus.CounterVec,
	logger *zap.Logger,
) *Embedder {
	if cache == nil {
		cache = NewCache(DefaultSize)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Embedder{
		inner:      inner,
		model:      model,
		cache:      cache,
		cacheTotal: cacheTotal,
		logger:     logger,
	}
}

// Available reports whether a provider is configured.
func (e *Embedder) Available() bool { return e != nil && e.inner != nil }

// Model is the identity folded into cache keys.
func (e *Embedder) Model() string { return e.model }

// EmbedOne returns the vector for text, or an empty vector when no provider is
// configured or the provider fails. Concurrent misses for the same text share
// one provider call.
func (e *Embedder) EmbedOne(ctx context.Context, text string, stats *Stats) []float32 {
	if !e.Available() {
		stats.record(false)
		return []float32{}
	}
	key := Key(e.model, text)
	if vec, ok := e.cache.Get(key); ok {
		e.count(stats, true)
		return vec
	}
	e.count(stats, false)

	v, err, _ := e.group.Do(key, func() (any, error) {
		res, err := e.inner.Embed(ctx, strings.TrimSpace(text))
		if err != nil {
			return nil, err //nolint:wrapcheck // logged below
		}
		e.cache.Put(key, res.Embedding)
		return res.Embedding, nil
	})
	if err != nil {
		e.logger.Warn("Query embedding failed, dense retrieval disabled for this query", zap.Error(err))
		return []float32{}
	}
	return cloneVec(v.([]float32))
}

// EmbedMany returns one vector per text, in order. Cached texts are served
// from memory and all misses go to the provider in a single batch call.
func (e *Embedder) EmbedMany(ctx context.Context, texts []string, stats []*Stats) [][]float32 {
	out := make([][]float32, len(texts))
	statAt := func(i int) *Stats {
		if i < len(stats) {
			return stats[i]
		}
		return nil
	}
	if !e.Available() {
		for i := range texts {
			statAt(i).record(false)
			out[i] = []float32{}
		}
		return out
	}

	var missIdx []int
	var missText []string
	for i, t := range texts {
		if vec, ok := e.cache.Get(Key(e.model, t)); ok {
			e.count(statAt(i), true)
			out[i] = vec
			continue
		}
		e.count(statAt(i), false)
		missIdx = append(missIdx, i)
		missText = append(missText, strings.TrimSpace(t))
	}
	if len(missIdx) == 0 {
		return out
	}

	vecs := e.batch(ctx, missText)
	for j, i := range missIdx {
		if j < len(vecs) && len(vecs[j]) > 0 {
			e.cache.Put(Key(e.model, texts[i]), vecs[j])
			out[i] = vecs[j]
		} else {
			out[i] = []float32{}
		}
	}
	return out
}

func (e *Embedder) batch(ctx context.Context, texts []string) [][]float32 {
	var (
		res domain.BatchEmbeddingResult
		err error
	)
	if be, ok := e.inner.(domain.BatchEmbedder); ok {
		res, err = be.BatchEmbed(ctx, texts)
	} else {
		res, err = domain.BatchFallback(ctx, e.inner, texts)
	}
	if err != nil {
		e.logger.Warn("Batch query embedding failed", zap.Int("texts", len(texts)), zap.Error(err))
		return nil
	}
	return res.Embeddings
}

func (e *Embedder) count(stats *Stats, hit bool) {
	stats.record(hit)
	if e.cacheTotal == nil {
		return
	}
	if hit {
		e.cacheTotal.WithLabelValues("hit").Inc()
	} else {
		e.cacheTotal.WithLabelValues("miss").Inc()
	}
}
