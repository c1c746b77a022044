package retrieval

import (
	"context"

	"github.com/kailas-cloud/bookrag/internal/metastore"
	"github.com/kailas-cloud/bookrag/internal/registry"
	"github.com/kailas-cloud/bookrag/internal/vectorindex"
)

// VectorIndex is the nearest-neighbor contract of one publisher.
type VectorIndex interface {
	Dim() int
	Search(query []float32, k int) ([]vectorindex.Neighbor, error)
}

// ChunkStore is the metadata and full-text contract of one publisher.
type ChunkStore interface {
	ChunksByRowIDs(ctx context.Context, ids []int64) (map[int64]metastore.Chunk, error)
	ChunkByRowID(ctx context.Context, id int64) (metastore.Chunk, error)
	Match(ctx context.Context, expr string, k int) ([]metastore.Match, error)
}

// Corpora resolves ready publishers. Unknown or not-ready names return ok=false.
type Corpora interface {
	Corpus(publisher string) (VectorIndex, ChunkStore, bool)
}

type engineCorpora struct {
	engine *registry.Engine
}

// FromEngine adapts the registry to Corpora.
func FromEngine(e *registry.Engine) Corpora {
	return engineCorpora{engine: e}
}

func (c engineCorpora) Corpus(publisher string) (VectorIndex, ChunkStore, bool) {
	p, ok := c.engine.Publisher(publisher)
	if !ok {
		return nil, nil, false
	}
	return p.Index, p.Store, true
}
