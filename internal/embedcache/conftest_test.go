package embedcache

import (
	"context"
	"errors"
	"sync"

	"github.com/kailas-cloud/bookrag/internal/domain"
)

// --- Mocks ---

// mockEmbedder returns a vector derived from text length so outputs are distinguishable.
type mockEmbedder struct {
	mu         sync.Mutex
	err        error
	calls      int
	batchCalls int
	batchSizes []int
}

func vecFor(text string) []float32 {
	return []float32{float32(len(text)), 1}
}

func (m *mockEmbedder) Embed(_ context.Context, text string) (domain.EmbeddingResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return domain.EmbeddingResult{}, m.err
	}
	return domain.EmbeddingResult{Embedding: vecFor(text), TotalTokens: 1}, nil
}

// mockBatchEmbedder adds a native batch call.
type mockBatchEmbedder struct {
	mockEmbedder
}

func (m *mockBatchEmbedder) BatchEmbed(_ context.Context, texts []string) (domain.BatchEmbeddingResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batchCalls++
	m.batchSizes = append(m.batchSizes, len(texts))
	if m.err != nil {
		return domain.BatchEmbeddingResult{}, m.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = vecFor(t)
	}
	return domain.BatchEmbeddingResult{Embeddings: out}, nil
}

var errProvider = errors.New("provider down")
