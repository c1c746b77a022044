package expand

import (
	"context"
	"slices"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/bookrag/internal/embedcache"
)

func TestExpand_Rewrites(t *testing.T) {
	tests := []struct {
		in        string
		rewritten string
		rules     int
	}{
		{"What is attention", "definition of attention", 1},
		{"define   tokenization", "definition of   tokenization", 1},
		{"meaning of entropy", "definition of entropy", 1},
		{"How to shard a database", "guide to shard a database", 1},
		{"BM25 vs. dense retrieval", "BM25 versus. dense retrieval", 1},
		{"BM25 vs dense", "BM25 versus dense", 1},
		{"postgres VS mysql", "postgres versus mysql", 1},
		{"what is the meaning of life", "definition of the definition of life", 2},
		{"whatis it", "whatis it", 0},
	}
	x := New(nil, zap.NewNop())
	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			got := x.Expand(context.Background(), "  "+tc.in+" ")
			if got.Rewritten != tc.rewritten {
				t.Errorf("rewritten = %q, want %q", got.Rewritten, tc.rewritten)
			}
			if len(got.Rewrites) != tc.rules {
				t.Errorf("expected %d rewrites, got %v", tc.rules, got.Rewrites)
			}
			if got.Original != tc.in {
				t.Errorf("expected trimmed original, got %q", got.Original)
			}
		})
	}
}

func TestExpand_StaticSynonyms(t *testing.T) {
	x := New(nil, zap.NewNop())

	got := x.Expand(context.Background(), "What is RAG with an LLM")
	want := []string{
		"retrieval augmented generation",
		"retrieval-augmented generation",
		"large language model",
		"large language models",
	}
	if !slices.Equal(got.Expansions, want) {
		t.Fatalf("expansions = %v, want %v", got.Expansions, want)
	}
	if got.Expanded != "definition of RAG with an LLM "+
		"retrieval augmented generation retrieval-augmented generation large language model large language models" {
		t.Errorf("unexpected expanded query %q", got.Expanded)
	}
}

func TestExpand_NoSynonymsKeepsRewritten(t *testing.T) {
	got := New(nil, zap.NewNop()).Expand(context.Background(), "ai ai")
	if len(got.Expansions) != 1 || got.Expansions[0] != "artificial intelligence" {
		t.Fatalf("expected one deduplicated expansion, got %v", got.Expansions)
	}

	got = New(nil, zap.NewNop()).Expand(context.Background(), "sharding")
	if got.Expanded != "sharding" || len(got.Expansions) != 0 {
		t.Errorf("expected passthrough, got %+v", got)
	}
}

func TestExpand_Empty(t *testing.T) {
	got := New(nil, zap.NewNop()).Expand(context.Background(), "   ")
	if got.Expanded != "" || got.Rewritten != "" || got.Expansions != nil {
		t.Errorf("expected empty expansion, got %+v", got)
	}
}

func TestExpand_VectorSynonyms(t *testing.T) {
	vecs := map[string][]float32{
		"chatbot":              {1, 0, 0},
		"transformers":         {0, 0, 1},
		"large language model": {0.9, 0.1, 0},
		"llm":                  {0.8, 0.2, 0},
		"machine learning":     {0, 1, 0},
	}
	vz := &mockVectorizer{model: "m1", vecs: vecs}
	x := New(vz, zap.NewNop())

	got := x.Expand(context.Background(), "chatbot transformers")
	// llm and the singular form are close to "chatbot"; nothing is close to "transformers"
	if !slices.Equal(got.Expansions, []string{"large language model", "llm"}) {
		t.Fatalf("unexpected vector synonyms %v", got.Expansions)
	}

	calls := vz.calls
	x.Expand(context.Background(), "chatbot")
	if vz.calls != calls+1 {
		t.Errorf("expected vocabulary vectors to be reused, calls %d -> %d", calls, vz.calls)
	}
}

func TestExpand_VectorSynonymsSkipStaticDuplicates(t *testing.T) {
	vz := &mockVectorizer{model: "m1", vecs: map[string][]float32{
		"ml":               {0, 1, 0},
		"machine learning": {0, 1, 0},
	}}
	got := New(vz, zap.NewNop()).Expand(context.Background(), "ml basics")

	if !slices.Equal(got.Expansions, []string{"machine learning"}) {
		t.Errorf("expected a single machine learning expansion, got %v", got.Expansions)
	}
}

func TestExpand_FailingVocabularySharedAcrossQueries(t *testing.T) {
	vz := &slowVectorizer{delay: 100 * time.Millisecond}
	x := New(vz, zap.NewNop())

	start := time.Now()
	var wg sync.WaitGroup
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got := x.Expand(context.Background(), "stress tips")
			if got.Expanded != "stress tips" {
				t.Errorf("expected passthrough, got %q", got.Expanded)
			}
		}()
	}
	wg.Wait()
	elapsed := time.Since(start)

	vocab, tokens := vz.counts()
	if vocab != 1 {
		t.Errorf("expected one shared vocabulary embed, got %d", vocab)
	}
	if tokens != 0 {
		t.Errorf("expected no token embeds without a vocabulary, got %d", tokens)
	}
	if elapsed >= 400*time.Millisecond {
		t.Errorf("expected concurrent queries not to queue, took %v", elapsed)
	}

	// the failure is remembered
	x.Expand(context.Background(), "stress tips")
	if vocab, _ := vz.counts(); vocab != 1 {
		t.Errorf("expected no retry inside the window, got %d vocabulary embeds", vocab)
	}
}

func TestExpand_FailingVocabularyRetriedAfterWindow(t *testing.T) {
	vz := &slowVectorizer{}
	x := New(vz, zap.NewNop())
	x.vocabRetry = 20 * time.Millisecond

	x.Expand(context.Background(), "stress")
	time.Sleep(40 * time.Millisecond)
	x.Expand(context.Background(), "stress")

	if vocab, _ := vz.counts(); vocab != 2 {
		t.Errorf("expected a retry after the window, got %d vocabulary embeds", vocab)
	}
}

func TestNewTokenVectorizer_SeparateFromQueryCache(t *testing.T) {
	provider := &mockProvider{}
	queryCache := embedcache.NewCache(8)
	queryEmbedder := embedcache.New(provider, "m1", queryCache, nil, zap.NewNop())
	x := New(NewTokenVectorizer(provider, "m1", zap.NewNop()), zap.NewNop())

	queryEmbedder.EmbedOne(context.Background(), "chatbot transformers", nil)
	x.Expand(context.Background(), "chatbot transformers")
	calls := provider.calls
	x.Expand(context.Background(), "chatbot transformers")

	if queryCache.Len() != 1 {
		t.Errorf("expected only the query vector in the query cache, got %d", queryCache.Len())
	}
	if provider.calls != calls {
		t.Errorf("expected token vectors reused from the token cache, calls %d -> %d", calls, provider.calls)
	}
}

func TestVocabulary_SortedUnion(t *testing.T) {
	v := Vocabulary()
	if !slices.IsSorted(v) {
		t.Fatal("expected sorted vocabulary")
	}
	if len(v) != 12 {
		t.Errorf("expected 12 terms, got %d: %v", len(v), v)
	}
	if !slices.Contains(v, "rag") || !slices.Contains(v, "retrieval-augmented generation") {
		t.Errorf("expected keys and terms, got %v", v)
	}
}
