package expand

import (
	"context"
	"sync"
	"time"

	"github.com/kailas-cloud/bookrag/internal/domain"
	"github.com/kailas-cloud/bookrag/internal/embedcache"
)

// --- Mocks ---

// mockVectorizer returns fixed vectors per text; unknown texts get an empty vector.
type mockVectorizer struct {
	model string
	vecs  map[string][]float32
	calls int
}

func (m *mockVectorizer) Available() bool { return true }

func (m *mockVectorizer) Model() string { return m.model }

func (m *mockVectorizer) EmbedMany(_ context.Context, texts []string, _ []*embedcache.Stats) [][]float32 {
	m.calls++
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if v, ok := m.vecs[t]; ok {
			out[i] = v
		} else {
			out[i] = []float32{}
		}
	}
	return out
}

// slowVectorizer stalls for delay and then returns empty vectors, like a
// provider that times out on every call.
type slowVectorizer struct {
	delay time.Duration

	mu         sync.Mutex
	vocabCalls int
	tokenCalls int
}

func (m *slowVectorizer) Available() bool { return true }

func (m *slowVectorizer) Model() string { return "slow" }

func (m *slowVectorizer) EmbedMany(_ context.Context, texts []string, _ []*embedcache.Stats) [][]float32 {
	m.mu.Lock()
	if len(texts) == len(Vocabulary()) {
		m.vocabCalls++
	} else {
		m.tokenCalls++
	}
	m.mu.Unlock()

	time.Sleep(m.delay)
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = []float32{}
	}
	return out
}

func (m *slowVectorizer) counts() (vocab, tokens int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.vocabCalls, m.tokenCalls
}

// mockProvider embeds every text as a distinct non-zero vector.
type mockProvider struct {
	mu    sync.Mutex
	calls int
}

func (m *mockProvider) Embed(_ context.Context, text string) (domain.EmbeddingResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	return domain.EmbeddingResult{Embedding: []float32{1, float32(len(text))}, TotalTokens: 1}, nil
}
