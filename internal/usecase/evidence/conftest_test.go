package evidence

import (
	"fmt"

	"github.com/kailas-cloud/bookrag/internal/domain/hit"
)

// cand builds a hit with distinct identity fields.
func cand(i int, score, judge float64, text string) hit.Hit {
	return hit.Hit{
		ID:         fmt.Sprintf("c%d", i),
		Publisher:  "Manning",
		Source:     fmt.Sprintf("books/b%d.pdf", i),
		Section:    "s",
		ChunkIndex: i,
		Text:       text,
		Score:      score,
		Judge:      judge,
		JudgeRaw:   judge,
	}
}

func ids(hs []hit.Hit) []string {
	out := make([]string, len(hs))
	for i, h := range hs {
		out[i] = h.ID
	}
	return out
}
