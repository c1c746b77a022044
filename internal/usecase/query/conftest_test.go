package query

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"github.com/kailas-cloud/bookrag/internal/domain/hit"
	"github.com/kailas-cloud/bookrag/internal/embedcache"
	"github.com/kailas-cloud/bookrag/internal/metastore"
	"github.com/kailas-cloud/bookrag/internal/telemetry"
	"github.com/kailas-cloud/bookrag/internal/usecase/assemble"
	"github.com/kailas-cloud/bookrag/internal/usecase/expand"
	"github.com/kailas-cloud/bookrag/internal/usecase/judge"
	"github.com/kailas-cloud/bookrag/internal/usecase/retrieval"
)

// --- Mocks ---

type mockCatalog struct {
	ready  []string
	dim    int
	chunks map[string][]metastore.Chunk
	err    map[string]error
}

func (m *mockCatalog) Ready() []string { return m.ready }
func (m *mockCatalog) IndexDim() int   { return m.dim }

func (m *mockCatalog) Window(_ context.Context, pub, source string, index, window int) ([]metastore.Chunk, error) {
	if err := m.err[pub]; err != nil {
		return nil, err
	}
	var out []metastore.Chunk
	for _, c := range m.chunks[pub] {
		if c.Source == source && c.Index >= index-window && c.Index <= index+window {
			out = append(out, c)
		}
	}
	return out, nil
}

type mockExpander struct {
	suffix string
	calls  int
}

func (m *mockExpander) Expand(_ context.Context, q string) expand.Expansion {
	m.calls++
	exp := expand.Expansion{Original: q, Rewritten: q, Expanded: q}
	if m.suffix != "" {
		exp.Expanded = q + " " + m.suffix
		exp.Expansions = []string{m.suffix}
	}
	return exp
}

type mockEmbedder struct {
	available bool
	vec       []float32
	oneCalls  int
	manyCalls int
	lastText  string
	lastMany  []string
}

func (m *mockEmbedder) Available() bool { return m.available }

func (m *mockEmbedder) EmbedOne(_ context.Context, text string, stats *embedcache.Stats) []float32 {
	m.oneCalls++
	m.lastText = text
	if stats != nil {
		stats.Misses++
	}
	if !m.available {
		return nil
	}
	return m.vec
}

func (m *mockEmbedder) EmbedMany(_ context.Context, texts []string, stats []*embedcache.Stats) [][]float32 {
	m.manyCalls++
	m.lastMany = texts
	out := make([][]float32, len(texts))
	for i := range texts {
		if stats[i] != nil {
			stats[i].Misses++
		}
		if m.available {
			out[i] = m.vec
		}
	}
	return out
}

type mockRetriever struct {
	hits  []hit.Hit
	stats retrieval.FuseStats
	panic bool
	calls int
	last  retrieval.FuseRequest
}

func (m *mockRetriever) Fuse(_ context.Context, req retrieval.FuseRequest) ([]hit.Hit, retrieval.FuseStats) {
	m.calls++
	m.last = req
	if m.panic {
		panic("index corrupted")
	}
	out := make([]hit.Hit, len(m.hits))
	copy(out, m.hits)
	return out, m.stats
}

// mockReranker scores real mode from a fixed table and delegates the other
// modes to the package helpers.
type mockReranker struct {
	scores    map[string]float64
	err       error
	calls     int
	lastQuery string
	lastMode  judge.Mode
}

func (m *mockReranker) Rerank(_ context.Context, q string, hits []hit.Hit, mode judge.Mode) (judge.Outcome, error) {
	m.calls++
	m.lastQuery = q
	m.lastMode = mode
	if m.err != nil {
		return judge.Outcome{Kind: judge.KindCrossEncoder}, m.err
	}
	switch mode {
	case judge.ModeOff:
		return judge.Off(hits), nil
	case judge.ModeProxy:
		return judge.Proxy(hits), nil
	}
	out := make([]hit.Hit, len(hits))
	for i, h := range hits {
		h.Judge = m.scores[h.ID]
		h.JudgeRaw = h.Judge
		out[i] = h
	}
	sort.SliceStable(out, func(a, b int) bool { return out[a].Judge > out[b].Judge })
	return judge.Outcome{Hits: out, Kind: judge.KindCrossEncoder, Scored: true, Judged: len(out)}, nil
}

type mockComposer struct {
	answer string
	err    error
	prompt string
	budget assemble.Budget
}

func (m *mockComposer) Compose(_ context.Context, prompt string, b assemble.Budget) (string, error) {
	m.prompt = prompt
	m.budget = b
	return m.answer, m.err
}

type mockRecent struct {
	recorded []string
	pubs     [][]string
	list     []string
	err      error
}

func (m *mockRecent) Record(_ context.Context, q string, pubs []string) error {
	m.recorded = append(m.recorded, q)
	m.pubs = append(m.pubs, pubs)
	return m.err
}

func (m *mockRecent) Recent(_ context.Context, n int) ([]string, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.list[:min(n, len(m.list))], nil
}

type mockSink struct {
	events []telemetry.Event
}

func (m *mockSink) Emit(_ context.Context, e telemetry.Event) { m.events = append(m.events, e) }

// --- Fixtures ---

type fixture struct {
	catalog   *mockCatalog
	expander  *mockExpander
	embedder  *mockEmbedder
	retriever *mockRetriever
	judge     *mockReranker
	composer  *mockComposer
	recent    *mockRecent
	sink      *mockSink
}

func newFixture() *fixture {
	return &fixture{
		catalog:   &mockCatalog{ready: []string{"oreilly", "manning"}, dim: 3},
		expander:  &mockExpander{},
		embedder:  &mockEmbedder{available: true, vec: []float32{1, 0, 0}},
		retriever: &mockRetriever{hits: corpusHits()},
		judge:     &mockReranker{},
		composer:  &mockComposer{answer: "Raft elects a leader."},
		recent:    &mockRecent{},
		sink:      &mockSink{},
	}
}

func (f *fixture) service(cfg Config) *Service {
	return New(Deps{
		Catalog:   f.catalog,
		Expander:  f.expander,
		Embedder:  f.embedder,
		Retriever: f.retriever,
		Judge:     f.judge,
		Composer:  f.composer,
		Recent:    f.recent,
		Sink:      f.sink,
	}, cfg, Metrics{}, zap.NewNop())
}

func passage(id, pub, text string, score float64) hit.Hit {
	return hit.Hit{
		ID:        id,
		Publisher: pub,
		Source:    "books/" + id + ".pdf",
		Book:      id,
		Section:   "Consensus",
		Text:      text,
		Score:     score,
		DenseNorm: score,
		LexNorm:   score,
		InDense:   true,
		InLex:     true,
	}
}

func corpusHits() []hit.Hit {
	return []hit.Hit{
		passage("c1", "oreilly", "Raft consensus elects a leader per term.", 0.7),
		passage("c2", "manning", "Consensus protocols replicate a log.", 0.5),
		passage("c3", "oreilly", "Raft followers redirect clients.", 0.4),
	}
}

func boolPtr(b bool) *bool { return &b }
