package judge

import (
	"context"
	"fmt"

	"github.com/kailas-cloud/bookrag/internal/domain/hit"
)

// --- Mocks ---

// mockScorer returns logits looked up by passage text, recording every call.
type mockScorer struct {
	logits map[string]float64
	err    error
	calls  int
	sizes  []int
}

func (m *mockScorer) Score(_ context.Context, _ string, passages []string) ([]float64, error) {
	m.calls++
	m.sizes = append(m.sizes, len(passages))
	if m.err != nil {
		return nil, m.err
	}
	out := make([]float64, len(passages))
	for i, p := range passages {
		out[i] = m.logits[p]
	}
	return out, nil
}

func passage(i int, score float64) hit.Hit {
	return hit.Hit{
		ID:         fmt.Sprintf("c%d", i),
		Publisher:  "Manning",
		Source:     "books/rag.pdf",
		Section:    fmt.Sprintf("s%d", i),
		ChunkIndex: i,
		Text:       fmt.Sprintf("passage %d", i),
		Score:      score,
	}
}
