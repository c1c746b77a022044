package retrieval

import (
	"context"
	"testing"

	"go.uber.org/zap"

	"github.com/kailas-cloud/bookrag/internal/metastore"
	"github.com/kailas-cloud/bookrag/internal/registry"
)

func TestFuse_OnDiskCorpus(t *testing.T) {
	root := t.TempDir()
	fx := registry.Fixture{
		Chunks: []metastore.Chunk{
			{RowID: 1, ID: "m1", Source: "books/Search Engines.pdf", Section: "Ranking", Index: 0,
				Text: "BM25 ranks documents by term frequency and inverse document frequency."},
			{RowID: 2, ID: "m2", Source: "books/Search Engines.pdf", Section: "Chunking", Index: 1,
				Text: "Chunking splits long documents into passages before embedding."},
			{RowID: 3, ID: "m3", Source: "books/Cooking.pdf", Section: "Bread", Index: 0,
				Text: "Knead the dough for ten minutes."},
		},
		Vectors: map[int64][]float32{
			1:  {1, 0, 0},
			2:  {0.8, 0.6, 0},
			3:  {0, 0, 1},
			99: {0.9, 0.1, 0},
		},
	}
	if err := registry.WriteFixture(root, "Manning", fx); err != nil {
		t.Fatalf("fixture: %v", err)
	}
	eng := registry.Build(context.Background(), registry.Config{
		Root:       root,
		Publishers: []string{"Manning"},
		EmbedDim:   3,
	}, nil, zap.NewNop())
	defer eng.Close()
	if len(eng.Ready()) != 1 {
		t.Fatalf("expected Manning ready, report: %+v", eng.Report())
	}

	r := New(FromEngine(eng), DefaultConfig(), zap.NewNop())
	hits, st := r.Fuse(context.Background(), FuseRequest{
		Query:      "chunking documents",
		Publishers: []string{"Manning", "OReilly"},
		Vector:     []float32{1, 0, 0},
		K:          10,
		MMRK:       20,
		DenseK:     30,
		LexK:       30,
	})

	if st.PubsUsed != 1 {
		t.Errorf("expected one usable publisher, got %d", st.PubsUsed)
	}
	// id 99 has a vector but no metadata row
	if st.FallbackRetries != 1 || st.FallbackFailed != 1 {
		t.Errorf("expected one failed fallback, got %+v", st)
	}
	if st.LexHits == 0 {
		t.Error("expected lexical hits from the full-text table")
	}
	for _, h := range hits {
		if h.ID == "m3" {
			t.Errorf("orthogonal passage m3 should fall below the dense floor and match no terms")
		}
		if h.Publisher != "Manning" || h.Book == "" {
			t.Errorf("unexpected hit identity %+v", h)
		}
	}
	if len(hits) == 0 || hits[0].ID != "m2" && hits[0].ID != "m1" {
		t.Fatalf("expected a search-engines passage first, got %v", ids(hits))
	}
}
