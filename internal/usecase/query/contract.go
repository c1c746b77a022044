package query

import (
	"context"

	"github.com/kailas-cloud/bookrag/internal/domain/hit"
	"github.com/kailas-cloud/bookrag/internal/embedcache"
	"github.com/kailas-cloud/bookrag/internal/metastore"
	"github.com/kailas-cloud/bookrag/internal/usecase/assemble"
	"github.com/kailas-cloud/bookrag/internal/usecase/expand"
	"github.com/kailas-cloud/bookrag/internal/usecase/judge"
	"github.com/kailas-cloud/bookrag/internal/usecase/retrieval"
)

// Catalog exposes the ready publishers.
type Catalog interface {
	Ready() []string
	IndexDim() int
	Window(ctx context.Context, publisher, source string, index, window int) ([]metastore.Chunk, error)
}

// Expander rewrites and expands the query text.
type Expander interface {
	Expand(ctx context.Context, q string) expand.Expansion
}

// Embedder produces query vectors. Empty vectors mean dense retrieval is off.
type Embedder interface {
	Available() bool
	EmbedOne(ctx context.Context, text string, stats *embedcache.Stats) []float32
	EmbedMany(ctx context.Context, texts []string, stats []*embedcache.Stats) [][]float32
}

// Retriever fuses dense and lexical candidates across publishers.
type Retriever interface {
	Fuse(ctx context.Context, req retrieval.FuseRequest) ([]hit.Hit, retrieval.FuseStats)
}

// Reranker judges candidates.
type Reranker interface {
	Rerank(ctx context.Context, query string, hits []hit.Hit, mode judge.Mode) (judge.Outcome, error)
}

// Composer turns the clamped prompt into an answer.
type Composer interface {
	Compose(ctx context.Context, prompt string, budget assemble.Budget) (string, error)
}

// RecentStore persists recently asked queries.
type RecentStore interface {
	Record(ctx context.Context, q string, pubs []string) error
	Recent(ctx context.Context, n int) ([]string, error)
}
