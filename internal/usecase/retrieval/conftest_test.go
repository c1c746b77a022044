package retrieval

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/kailas-cloud/bookrag/internal/metastore"
	"github.com/kailas-cloud/bookrag/internal/vectorindex"
)

// --- Mocks ---

type mockIndex struct {
	dim       int
	neighbors []vectorindex.Neighbor
	err       error
	lastK     int
}

func (m *mockIndex) Dim() int { return m.dim }

func (m *mockIndex) Search(_ []float32, k int) ([]vectorindex.Neighbor, error) {
	m.lastK = k
	if m.err != nil {
		return nil, m.err
	}
	if len(m.neighbors) > k {
		return m.neighbors[:k], nil
	}
	return m.neighbors, nil
}

type mockStore struct {
	rows        map[int64]metastore.Chunk
	fallback    map[int64]metastore.Chunk
	batchErr    error
	singleErr   error
	matches     []metastore.Match
	matchErr    error
	lastExpr    string
	singleCalls int
}

func (m *mockStore) ChunksByRowIDs(_ context.Context, ids []int64) (map[int64]metastore.Chunk, error) {
	if m.batchErr != nil {
		return nil, m.batchErr
	}
	out := make(map[int64]metastore.Chunk)
	for _, id := range ids {
		if c, ok := m.rows[id]; ok {
			out[id] = c
		}
	}
	return out, nil
}

func (m *mockStore) ChunkByRowID(_ context.Context, id int64) (metastore.Chunk, error) {
	m.singleCalls++
	if m.singleErr != nil {
		return metastore.Chunk{}, m.singleErr
	}
	if c, ok := m.fallback[id]; ok {
		return c, nil
	}
	return metastore.Chunk{}, metastore.ErrRowNotFound
}

func (m *mockStore) Match(_ context.Context, expr string, k int) ([]metastore.Match, error) {
	m.lastExpr = expr
	if m.matchErr != nil {
		return nil, m.matchErr
	}
	if len(m.matches) > k {
		return m.matches[:k], nil
	}
	return m.matches, nil
}

type mockCorpus struct {
	ix    *mockIndex
	store *mockStore
}

type mockCorpora map[string]mockCorpus

func (m mockCorpora) Corpus(pub string) (VectorIndex, ChunkStore, bool) {
	c, ok := m[pub]
	if !ok {
		return nil, nil, false
	}
	return c.ix, c.store, true
}

var errDB = errors.New("database is locked")

// chunk builds a chunk whose book, section and text are unique per id.
func chunk(pub string, id int64) metastore.Chunk {
	return metastore.Chunk{
		RowID:   id,
		ID:      fmt.Sprintf("%s-c%d", pub, id),
		Source:  fmt.Sprintf("books/%s-book%d.pdf", pub, id),
		Section: fmt.Sprintf("Section %d", id),
		Index:   int(id),
		Text:    fmt.Sprintf("%s passage %d about retrieval", pub, id),
	}
}

// denseCorpus returns n rows with descending similarity starting at top.
func denseCorpus(pub string, n int, top float32) mockCorpus {
	ix := &mockIndex{dim: 3}
	store := &mockStore{rows: map[int64]metastore.Chunk{}}
	for i := range n {
		id := int64(i + 1)
		ix.neighbors = append(ix.neighbors, vectorindex.Neighbor{ID: id, Score: top - float32(i)*0.01})
		store.rows[id] = chunk(pub, id)
	}
	return mockCorpus{ix: ix, store: store}
}

func newTestRetriever(c Corpora) *Retriever {
	return New(c, DefaultConfig(), zap.NewNop())
}
