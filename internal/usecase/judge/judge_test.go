package judge

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"

	"github.com/kailas-cloud/bookrag/internal/domain"
	"github.com/kailas-cloud/bookrag/internal/domain/hit"
)

func TestParseMode(t *testing.T) {
	tests := map[string]Mode{
		"real":   ModeReal,
		" REAL ": ModeReal,
		"off":    ModeOff,
		"proxy":  ModeProxy,
		"":       ModeProxy,
		"llm":    ModeProxy,
	}
	for in, want := range tests {
		if got := ParseMode(in); got != want {
			t.Errorf("ParseMode(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestRerank_Off(t *testing.T) {
	hits := []hit.Hit{passage(1, 0.2), passage(2, 0.9)}
	j := New(nil, nil, Config{}, nil, zap.NewNop())

	out, err := j.Rerank(context.Background(), "q", hits, ModeOff)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Kind != KindOff || out.Scored || out.Proxy {
		t.Errorf("unexpected outcome %+v", out)
	}
	if out.Hits[0].ID != "c1" || out.Hits[0].Judge != 0.2 || out.Hits[1].Judge != 0.9 {
		t.Errorf("expected original order with judge = fused, got %+v", out.Hits)
	}
	if hits[0].Judge != 0 {
		t.Error("input hits must not be mutated")
	}
}

func TestRerank_Proxy(t *testing.T) {
	a := passage(1, 0.3)
	a.DenseNorm, a.LexNorm = 1, 0.5 // 0.8
	b := passage(2, 0.7)
	c := passage(3, 0.1)
	c.LexNorm = 1 // 0.4

	j := New(nil, nil, Config{}, nil, zap.NewNop())
	out, err := j.Rerank(context.Background(), "q", []hit.Hit{c, b, a}, ModeProxy)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Kind != KindProxy || !out.Proxy || out.Scored {
		t.Errorf("unexpected outcome %+v", out)
	}
	want := []string{"c1", "c2", "c3"}
	for i, h := range out.Hits {
		if h.ID != want[i] {
			t.Fatalf("order = %v, want %v", ids(out.Hits), want)
		}
	}
	if math.Abs(out.Hits[0].Judge-0.8) > 1e-9 || out.Hits[1].Judge != 0.7 {
		t.Errorf("unexpected proxy scores %+v", out.Hits)
	}
}

func TestRerank_RealUnavailable(t *testing.T) {
	j := New(nil, nil, Config{}, nil, zap.NewNop())
	out, err := j.Rerank(context.Background(), "q", []hit.Hit{passage(1, 0.5)}, ModeReal)
	if !errors.Is(err, domain.ErrJudgeUnavailable) {
		t.Fatalf("expected ErrJudgeUnavailable, got %v", err)
	}
	if out.Unavailable == "" {
		t.Error("expected unavailability reason")
	}
}

func TestRerank_RealScorerError(t *testing.T) {
	s := &mockScorer{err: errors.New("connection refused")}
	j := New(s, nil, Config{}, nil, zap.NewNop())

	out, err := j.Rerank(context.Background(), "q", []hit.Hit{passage(1, 0.5)}, ModeReal)
	if !errors.Is(err, domain.ErrJudgeUnavailable) {
		t.Fatalf("expected ErrJudgeUnavailable, got %v", err)
	}
	if !strings.Contains(out.Unavailable, "connection refused") {
		t.Errorf("expected scorer error in reason, got %q", out.Unavailable)
	}
}

func TestRerank_RealScoresTopNOnly(t *testing.T) {
	hits := make([]hit.Hit, 5)
	for i := range hits {
		hits[i] = passage(i+1, 0.5)
	}
	s := &mockScorer{logits: map[string]float64{
		"passage 1": -2,
		"passage 2": 0,
		"passage 3": 3,
		"passage 4": 10,
	}}
	j := New(s, nil, Config{TopN: 3}, nil, zap.NewNop())

	out, err := j.Rerank(context.Background(), "q", hits, ModeReal)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !out.Scored || out.Kind != KindCrossEncoder || out.Judged != 3 {
		t.Errorf("unexpected outcome %+v", out)
	}
	if got := strings.Join(ids(out.Hits), ","); got != "c3,c2,c1,c4,c5" {
		t.Errorf("expected judged slice resorted and tail kept, got %s", got)
	}
	if out.Hits[0].JudgeRaw != 3 || math.Abs(out.Hits[0].Judge-Sigmoid(3)) > 1e-12 {
		t.Errorf("unexpected judge scores %+v", out.Hits[0])
	}
	if out.Hits[1].Judge != 0.5 {
		t.Errorf("expected sigmoid(0)=0.5, got %v", out.Hits[1].Judge)
	}
	if out.Hits[3].Judge != 0 {
		t.Error("tail must stay unjudged")
	}
	if s.calls != 1 || s.sizes[0] != 3 {
		t.Errorf("expected one batched scorer call of 3, got %v", s.sizes)
	}
}

func TestRerank_RealCachesScores(t *testing.T) {
	hits := []hit.Hit{passage(1, 0.5), passage(2, 0.4)}
	s := &mockScorer{logits: map[string]float64{"passage 1": 1, "passage 2": 2}}
	counter := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "judge_cache_total"}, []string{"result"})
	j := New(s, NewCache(16, DefaultCacheTTL), Config{}, counter, zap.NewNop())

	first, err := j.Rerank(context.Background(), "q", hits, ModeReal)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := j.Rerank(context.Background(), "q", hits, ModeReal)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if s.calls != 1 {
		t.Errorf("expected scorer called once, got %d", s.calls)
	}
	if first.CacheMisses != 2 || first.CacheHits != 0 {
		t.Errorf("unexpected first cache stats %+v", first)
	}
	if second.CacheHits != 2 || second.CacheMisses != 0 {
		t.Errorf("unexpected second cache stats %+v", second)
	}
	for i := range first.Hits {
		if first.Hits[i].Judge != second.Hits[i].Judge {
			t.Errorf("expected identical scores, got %v vs %v", first.Hits[i].Judge, second.Hits[i].Judge)
		}
	}
	if got := testutil.ToFloat64(counter.WithLabelValues("hit")); got != 2 {
		t.Errorf("expected 2 hit increments, got %v", got)
	}

	// a different query does not reuse passage scores
	if _, err := j.Rerank(context.Background(), "other", hits, ModeReal); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.calls != 2 {
		t.Errorf("expected a second scorer call for a new query, got %d", s.calls)
	}
}

func TestChunkHash(t *testing.T) {
	a := passage(1, 0)
	b := a
	b.Text = a.Text + strings.Repeat("x", 900)
	c := b
	c.Text = b.Text + "tail beyond the hashed prefix"

	if ChunkHash(a) == ChunkHash(b) {
		t.Error("expected different text to change the hash")
	}
	if ChunkHash(b) != ChunkHash(c) {
		t.Error("expected text past the prefix to be ignored")
	}
	d := a
	d.ChunkIndex = 7
	if ChunkHash(a) == ChunkHash(d) {
		t.Error("expected chunk index to be part of the hash")
	}
}

func ids(hs []hit.Hit) []string {
	out := make([]string, len(hs))
	for i, h := range hs {
		out[i] = h.ID
	}
	return out
}
