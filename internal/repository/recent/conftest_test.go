package recent

import (
	"context"
	"time"
)

// --- Mocks ---

// mockZSet implements db.SortedSetStore in memory.
type mockZSet struct {
	scores    map[string]float64
	addErr    error
	rangeErr  error
	trimCalls [][2]int64
}

func newMockZSet() *mockZSet {
	return &mockZSet{scores: map[string]float64{}}
}

func (m *mockZSet) ZAdd(_ context.Context, _ string, score float64, member string) error {
	if m.addErr != nil {
		return m.addErr
	}
	m.scores[member] = score
	return nil
}

func (m *mockZSet) ZRevRange(_ context.Context, _ string, start, stop int64) ([]string, error) {
	if m.rangeErr != nil {
		return nil, m.rangeErr
	}
	ordered := m.ordered()
	var out []string
	for i := start; i <= stop && int(i) < len(ordered); i++ {
		out = append(out, ordered[i])
	}
	return out, nil
}

func (m *mockZSet) ZRemRangeByRank(_ context.Context, _ string, start, stop int64) error {
	m.trimCalls = append(m.trimCalls, [2]int64{start, stop})
	ordered := m.ordered()
	// stop is negative: keep the newest -stop-1 members
	keep := int(-stop - 1)
	for i := keep; i < len(ordered); i++ {
		delete(m.scores, ordered[i])
	}
	return nil
}

// ordered lists members newest first.
func (m *mockZSet) ordered() []string {
	out := make([]string, 0, len(m.scores))
	for k := range m.scores {
		out = append(out, k)
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && m.scores[out[j]] > m.scores[out[j-1]]; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

// tickingClock advances one second per call.
type tickingClock struct {
	t time.Time
}

func (c *tickingClock) now() time.Time {
	c.t = c.t.Add(time.Second)
	return c.t
}
