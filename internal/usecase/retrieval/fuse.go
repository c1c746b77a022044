package retrieval

import (
	"context"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/kailas-cloud/bookrag/internal/domain/hit"
)

// FuseRequest selects publishers and fetch widths for one fusion pass.
type FuseRequest struct {
	Query      string
	Publishers []string
	Vector     []float32
	K          int
	MMRK       int
	DenseK     int
	LexK       int
}

// FuseStats aggregates per-publisher retrieval diagnostics.
type FuseStats struct {
	DenseHits       int
	LexHits         int
	PubsUsed        int
	Candidates      int
	KRequested      int
	KApplied        int
	KClamped        bool
	MMRCap          int
	DenseK          int
	LexK            int
	DenseClamped    bool
	LexClamped      bool
	FallbackRetries int
	FallbackFailed  int
	DenseTime       time.Duration
	LexTime         time.Duration
}

type pubResult struct {
	used      bool
	dense     []hit.Hit
	lex       []hit.Hit
	denseSt   DenseStats
	lexSt     LexStats
	denseTime time.Duration
	lexTime   time.Duration
}

// Fuse retrieves from every requested publisher concurrently, merges the dense
// and lexical rows of each publisher by chunk id, scores them with the
// weighted normalized scores and returns a deduplicated, diversity-capped
// list of at most min(K, MMRK) hits.
func (r *Retriever) Fuse(ctx context.Context, req FuseRequest) ([]hit.Hit, FuseStats) {
	st := FuseStats{
		KRequested: req.K,
		MMRCap:     req.MMRK,
		DenseK:     req.DenseK,
		LexK:       req.LexK,
	}
	st.KApplied = max(1, min(req.K, req.MMRK))
	st.KClamped = st.KApplied != st.KRequested
	useDense := len(req.Vector) > 0

	results := make([]pubResult, len(req.Publishers))
	g, gctx := errgroup.WithContext(ctx)
	for i, pub := range req.Publishers {
		if _, _, ok := r.corpora.Corpus(pub); !ok {
			continue
		}
		g.Go(func() error {
			results[i] = r.retrievePublisher(gctx, pub, req, useDense)
			return nil
		})
	}
	_ = g.Wait()

	var cands []hit.Hit
	for _, res := range results {
		if !res.used {
			continue
		}
		st.PubsUsed++
		st.DenseHits += len(res.dense)
		st.LexHits += len(res.lex)
		st.DenseTime += res.denseTime
		st.LexTime += res.lexTime
		st.FallbackRetries += res.denseSt.FallbackRetries
		st.FallbackFailed += res.denseSt.FallbackFailed
		st.DenseClamped = st.DenseClamped || res.denseSt.KClamped
		st.LexClamped = st.LexClamped || res.lexSt.KClamped
		cands = append(cands, merge(res.dense, res.lex, r.cfg.DenseWeight, r.cfg.LexWeight)...)
	}
	st.Candidates = len(cands)

	sort.SliceStable(cands, func(i, j int) bool { return cands[i].Score > cands[j].Score })
	return dedupe(cands, st.KApplied), st
}

func (r *Retriever) retrievePublisher(ctx context.Context, pub string, req FuseRequest, useDense bool) pubResult {
	ctx, span := r.tracer.Start(ctx, "retrieval.publisher",
		trace.WithAttributes(attribute.String("publisher", pub)))
	defer span.End()

	res := pubResult{used: true}
	var g errgroup.Group
	if useDense {
		g.Go(func() error {
			start := time.Now()
			res.dense, res.denseSt = r.Dense(ctx, pub, req.Vector, req.DenseK)
			res.denseTime = time.Since(start)
			return nil
		})
	}
	g.Go(func() error {
		start := time.Now()
		res.lex, res.lexSt = r.Lexical(ctx, pub, req.Query, req.LexK)
		res.lexTime = time.Since(start)
		return nil
	})
	_ = g.Wait()

	span.SetAttributes(
		attribute.Int("dense_hits", len(res.dense)),
		attribute.Int("lex_hits", len(res.lex)),
	)
	return res
}

// merge unions one publisher's channels by chunk id. Fields come from the
// first channel that has them; dense rows lead, then lexical-only rows.
func merge(dense, lex []hit.Hit, wDense, wLex float64) []hit.Hit {
	byID := make(map[string]int, len(dense)+len(lex))
	out := make([]hit.Hit, 0, len(dense)+len(lex))
	for _, h := range dense {
		if _, dup := byID[h.ID]; dup {
			continue
		}
		byID[h.ID] = len(out)
		out = append(out, h)
	}
	for _, l := range lex {
		i, ok := byID[l.ID]
		if !ok {
			byID[l.ID] = len(out)
			out = append(out, l)
			continue
		}
		d := &out[i]
		d.Lex, d.LexNorm, d.InLex = l.Lex, l.LexNorm, true
		if d.Text == "" {
			d.Text = l.Text
		}
		if d.Section == "" {
			d.Section = l.Section
		}
		if d.Source == "" {
			d.Source = l.Source
			d.Book = l.Book
		}
		if d.ChunkIndex < 0 {
			d.ChunkIndex = l.ChunkIndex
		}
	}
	for i := range out {
		out[i].Score = wDense*out[i].DenseNorm + wLex*out[i].LexNorm
	}
	return out
}

// dedupe greedily keeps hits in order, dropping any whose (publisher, book,
// section), (source, section) or text fingerprint was already taken, and
// capping each publisher at max(2, k/2).
func dedupe(cands []hit.Hit, k int) []hit.Hit {
	perPubCap := max(2, k/2)
	seen := make(map[string]struct{}, 3*len(cands))
	perPub := make(map[string]int)
	out := make([]hit.Hit, 0, k)

	for _, h := range cands {
		if len(out) >= k {
			break
		}
		sigs := [3]string{"b:" + h.BookKey(), "s:" + h.SourceKey(), "t:" + h.TextKey()}
		dup := false
		for _, s := range sigs {
			if _, ok := seen[s]; ok {
				dup = true
				break
			}
		}
		if dup || perPub[h.Publisher] >= perPubCap {
			continue
		}
		perPub[h.Publisher]++
		for _, s := range sigs {
			seen[s] = struct{}{}
		}
		out = append(out, h)
	}
	return out
}
