package retrieval

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/kailas-cloud/bookrag/internal/domain/hit"
	"github.com/kailas-cloud/bookrag/internal/metastore"
)

// DenseStats describes one dense retrieval call.
type DenseStats struct {
	KRequested      int
	KApplied        int
	KClamped        bool
	FallbackRetries int
	FallbackFailed  int
}

type scoredID struct {
	id    int64
	score float64
}

// Dense runs nearest-neighbor search on one publisher and joins the ids
// against its metadata. It fails closed: an empty vector, an unknown
// publisher, a dimension mismatch or a database error yield no hits.
func (r *Retriever) Dense(ctx context.Context, publisher string, vec []float32, k int) ([]hit.Hit, DenseStats) {
	st := DenseStats{KRequested: k, KApplied: clampK(k, r.cfg.DenseFetchK)}
	st.KClamped = st.KApplied != st.KRequested

	if len(vec) == 0 {
		return nil, st
	}
	ix, store, ok := r.corpora.Corpus(publisher)
	if !ok || ix.Dim() != len(vec) {
		return nil, st
	}
	log := r.logger.With(zap.String("publisher", publisher))

	neighbors, err := ix.Search(vec, st.KApplied)
	if err != nil {
		log.Warn("Dense search failed", zap.Error(err))
		return nil, st
	}

	pairs := make([]scoredID, 0, len(neighbors))
	seen := make(map[int64]struct{}, len(neighbors))
	for _, n := range neighbors {
		s := float64(n.Score)
		if n.ID < 0 || s < r.cfg.MinDenseScore {
			continue
		}
		if _, dup := seen[n.ID]; dup {
			continue
		}
		seen[n.ID] = struct{}{}
		pairs = append(pairs, scoredID{id: n.ID, score: s})
	}
	if len(pairs) == 0 {
		return nil, st
	}

	wanted := make([]int64, len(pairs))
	for i, p := range pairs {
		wanted[i] = p.id
	}
	rows, err := store.ChunksByRowIDs(ctx, wanted)
	if err != nil {
		log.Warn("Dense metadata lookup failed", zap.Error(err))
		return nil, st
	}

	var missing []int64
	for _, id := range wanted {
		if _, ok := rows[id]; !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		budget := r.cfg.FallbackRetryMax
		for i, id := range missing {
			if i >= budget {
				st.FallbackFailed += len(missing) - budget
				break
			}
			st.FallbackRetries++
			c, err := store.ChunkByRowID(ctx, id)
			switch {
			case errors.Is(err, metastore.ErrRowNotFound):
				st.FallbackFailed++
			case err != nil:
				log.Warn("Dense fallback lookup failed", zap.Int64("id", id), zap.Error(err))
				return nil, st
			default:
				rows[id] = c
			}
		}
		log.Debug("Dense ids missing from metadata",
			zap.Int("missing", len(missing)),
			zap.Int("retries", st.FallbackRetries),
			zap.Int("failed", st.FallbackFailed),
		)
	}

	hits := make([]hit.Hit, 0, len(pairs))
	for _, p := range pairs {
		c, ok := rows[p.id]
		if !ok {
			continue
		}
		h := fromChunk(publisher, c)
		h.Dense = p.score
		h.InDense = true
		hits = append(hits, h)
	}

	scores := make([]float64, len(hits))
	for i := range hits {
		scores[i] = hits[i].Dense
	}
	for i, n := range Normalize(scores) {
		hits[i].DenseNorm = n
	}
	return hits, st
}

func fromChunk(publisher string, c metastore.Chunk) hit.Hit {
	return hit.Hit{
		ID:         c.ID,
		Publisher:  publisher,
		Source:     c.Source,
		Book:       hit.BookTitle(c.Source),
		Section:    c.Section,
		ChunkIndex: c.Index,
		Text:       c.Text,
	}
}
