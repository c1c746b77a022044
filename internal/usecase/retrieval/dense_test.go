package retrieval

import (
	"context"
	"testing"

	"go.uber.org/zap"

	"github.com/kailas-cloud/bookrag/internal/metastore"
	"github.com/kailas-cloud/bookrag/internal/vectorindex"
)

var qv = []float32{1, 0, 0}

func TestDense_FloorDedupeAndJoin(t *testing.T) {
	ix := &mockIndex{dim: 3, neighbors: []vectorindex.Neighbor{
		{ID: 1, Score: 0.9},
		{ID: -1, Score: 0.8},
		{ID: 1, Score: 0.7},
		{ID: 2, Score: 0.5},
		{ID: 3, Score: 0.1},
	}}
	store := &mockStore{rows: map[int64]metastore.Chunk{1: chunk("Manning", 1), 2: chunk("Manning", 2), 3: chunk("Manning", 3)}}
	r := newTestRetriever(mockCorpora{"Manning": {ix: ix, store: store}})

	hits, st := r.Dense(context.Background(), "Manning", qv, 30)
	if len(hits) != 2 {
		t.Fatalf("expected 2 hits after floor and dedupe, got %d", len(hits))
	}
	if hits[0].ID != "Manning-c1" || hits[1].ID != "Manning-c2" {
		t.Errorf("unexpected order: %s, %s", hits[0].ID, hits[1].ID)
	}
	if hits[0].DenseNorm != 1 || hits[1].DenseNorm != 0 || !hits[0].InDense {
		t.Errorf("unexpected normalization: %+v", hits)
	}
	if hits[1].Dense != 0.5 || hits[0].Publisher != "Manning" {
		t.Errorf("unexpected hit fields: %+v", hits[1])
	}
	if st.KApplied != 30 || st.KClamped || ix.lastK != 30 {
		t.Errorf("unexpected k stats %+v lastK=%d", st, ix.lastK)
	}
}

func TestDense_KClamp(t *testing.T) {
	tests := []struct {
		k       int
		applied int
		clamped bool
	}{
		{0, 1, true},
		{24, 24, false},
		{500, 60, true},
	}
	for _, tc := range tests {
		c := denseCorpus("Manning", 3, 0.9)
		r := newTestRetriever(mockCorpora{"Manning": c})
		_, st := r.Dense(context.Background(), "Manning", qv, tc.k)
		if st.KApplied != tc.applied || st.KClamped != tc.clamped {
			t.Errorf("k=%d: got %+v", tc.k, st)
		}
	}
}

func TestDense_FallbackLookups(t *testing.T) {
	ix := &mockIndex{dim: 3}
	store := &mockStore{rows: map[int64]metastore.Chunk{}, fallback: map[int64]metastore.Chunk{}}
	for i := int64(1); i <= 12; i++ {
		ix.neighbors = append(ix.neighbors, vectorindex.Neighbor{ID: i, Score: 0.9 - float32(i)*0.01})
	}
	// ids 1..2 join normally; 3..12 missing from the batch; 3..5 recoverable one by one
	store.rows[1], store.rows[2] = chunk("Manning", 1), chunk("Manning", 2)
	for i := int64(3); i <= 5; i++ {
		store.fallback[i] = chunk("Manning", i)
	}

	r := newTestRetriever(mockCorpora{"Manning": {ix: ix, store: store}})
	hits, st := r.Dense(context.Background(), "Manning", qv, 30)

	if st.FallbackRetries != 8 {
		t.Errorf("expected retries capped at 8, got %d", st.FallbackRetries)
	}
	// 5 retried misses + 2 beyond the budget
	if st.FallbackFailed != 7 {
		t.Errorf("expected 7 failed, got %d", st.FallbackFailed)
	}
	if store.singleCalls != 8 {
		t.Errorf("expected 8 single lookups, got %d", store.singleCalls)
	}
	if len(hits) != 5 {
		t.Errorf("expected 5 joined hits, got %d", len(hits))
	}
}

func TestDense_FailsClosed(t *testing.T) {
	base := func() mockCorpus { return denseCorpus("Manning", 3, 0.9) }
	tests := []struct {
		name   string
		pub    string
		vec    []float32
		mutate func(c mockCorpus)
	}{
		{"empty vector", "Manning", nil, func(mockCorpus) {}},
		{"unknown publisher", "Pearson", qv, func(mockCorpus) {}},
		{"dim mismatch", "Manning", []float32{1, 0}, func(mockCorpus) {}},
		{"search error", "Manning", qv, func(c mockCorpus) { c.ix.err = errDB }},
		{"batch join error", "Manning", qv, func(c mockCorpus) { c.store.batchErr = errDB }},
		{"all below floor", "Manning", qv, func(c mockCorpus) {
			for i := range c.ix.neighbors {
				c.ix.neighbors[i].Score = 0.05
			}
		}},
		{"fallback db error", "Manning", qv, func(c mockCorpus) {
			delete(c.store.rows, 2)
			c.store.singleErr = errDB
		}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c := base()
			tc.mutate(c)
			r := New(mockCorpora{"Manning": c}, DefaultConfig(), zap.NewNop())
			hits, _ := r.Dense(context.Background(), tc.pub, tc.vec, 10)
			if len(hits) != 0 {
				t.Errorf("expected no hits, got %d", len(hits))
			}
		})
	}
}
