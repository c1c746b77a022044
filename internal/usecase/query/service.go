// Package query runs the retrieval pipeline for one question and returns the
// result contract with structured diagnostics.
package query

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/kailas-cloud/bookrag/internal/domain"
	"github.com/kailas-cloud/bookrag/internal/domain/hit"
	"github.com/kailas-cloud/bookrag/internal/domain/mode"
	"github.com/kailas-cloud/bookrag/internal/domain/result"
	"github.com/kailas-cloud/bookrag/internal/embedcache"
	"github.com/kailas-cloud/bookrag/internal/logger"
	"github.com/kailas-cloud/bookrag/internal/telemetry"
	"github.com/kailas-cloud/bookrag/internal/usecase/assemble"
	"github.com/kailas-cloud/bookrag/internal/usecase/evidence"
	"github.com/kailas-cloud/bookrag/internal/usecase/expand"
	"github.com/kailas-cloud/bookrag/internal/usecase/judge"
	"github.com/kailas-cloud/bookrag/internal/usecase/retrieval"
)

// Query outcomes reported to the query_total counter.
const (
	OutcomeAnswered  = "answered"
	OutcomeAbstained = "abstained"
	OutcomeError     = "error"
)

// Deps are the collaborators of the orchestrator. Composer and Sink default
// to PromptComposer and telemetry.Nop; Recent may be nil.
type Deps struct {
	Catalog   Catalog
	Expander  Expander
	Embedder  Embedder
	Retriever Retriever
	Judge     Reranker
	Composer  Composer
	Recent    RecentStore
	Sink      telemetry.Sink
}

// Metrics are optional collectors updated per query.
type Metrics struct {
	QueryTotal    *prometheus.CounterVec   // label "outcome"
	StageDuration *prometheus.HistogramVec // label "stage"
}

// Service orchestrates queries. It holds no per-query state and is safe for
// concurrent use.
type Service struct {
	deps    Deps
	cfg     Config
	metrics Metrics
	logger  *zap.Logger
	tracer  trace.Tracer
	newID   func() string
}

// New creates the orchestrator.
func New(deps Deps, cfg Config, m Metrics, logger *zap.Logger) *Service {
	if deps.Composer == nil {
		deps.Composer = PromptComposer{}
	}
	if deps.Sink == nil {
		deps.Sink = telemetry.Nop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultConfig()
	if len(cfg.Modes) == 0 {
		cfg.Modes = def.Modes
	}
	if cfg.JudgeMode == "" {
		cfg.JudgeMode = def.JudgeMode
	}
	if cfg.Policy == (evidence.Policy{}) {
		cfg.Policy = def.Policy
	}
	if cfg.PassageChars <= 0 {
		cfg.PassageChars = def.PassageChars
	}
	if cfg.SnippetChars <= 0 {
		cfg.SnippetChars = def.SnippetChars
	}
	return &Service{
		deps:    deps,
		cfg:     cfg,
		metrics: m,
		logger:  logger,
		tracer:  otel.Tracer("github.com/kailas-cloud/bookrag/internal/usecase/query"),
		newID:   uuid.NewString,
	}
}

// execution is the per-query state.
type execution struct {
	query    string
	opts     Options
	mode     Mode
	judge    judge.Mode
	useJudge bool
	explicit bool
	budget   assemble.Budget
	meta     result.Meta
	start    time.Time
	logger   *zap.Logger

	vetoDisabled  bool
	vetoWhenProxy bool
}

// prepared carries expansion and embedding computed ahead of the pipeline.
type prepared struct {
	exp     expand.Expansion
	vec     []float32
	stats   embedcache.Stats
	tExpand time.Duration
	tEmbed  time.Duration
}

// Run answers one query. It never returns a raw error: failures come back
// as ok=false results with a stable error id.
func (s *Service) Run(ctx context.Context, q string, opts Options) result.Result {
	return s.execute(ctx, q, opts, nil)
}

// RunBatch answers several queries with one embedding call. Embedding time
// is split evenly across the queries.
func (s *Service) RunBatch(ctx context.Context, queries []string, opts Options) []result.Result {
	if len(queries) == 0 {
		return nil
	}
	preps := make([]*prepared, len(queries))
	var (
		texts []string
		stats []*embedcache.Stats
		idx   []int
	)
	for i, q := range queries {
		p := &prepared{}
		q = strings.TrimSpace(q)
		start := time.Now()
		p.exp = s.deps.Expander.Expand(ctx, q)
		p.tExpand = time.Since(start)
		preps[i] = p
		if q == "" {
			continue
		}
		texts = append(texts, embedText(p.exp, q))
		stats = append(stats, &p.stats)
		idx = append(idx, i)
	}

	start := time.Now()
	vecs := s.deps.Embedder.EmbedMany(ctx, texts, stats)
	perQuery := time.Since(start) / time.Duration(len(queries))
	for j, i := range idx {
		if j < len(vecs) {
			preps[i].vec = vecs[j]
		}
	}

	out := make([]result.Result, len(queries))
	for i, q := range queries {
		preps[i].tEmbed = perQuery
		out[i] = s.execute(ctx, q, opts, preps[i])
	}
	return out
}

func (s *Service) execute(ctx context.Context, q string, opts Options, pre *prepared) (res result.Result) {
	ex := s.begin(q, opts)
	ctx, ex.logger = logger.With(ctx, s.logger,
		zap.String("event_id", ex.meta.EventID),
		zap.String("mode", ex.mode.Name),
	)
	ctx, span := s.tracer.Start(ctx, "query.run")
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			ex.logger.Error("Query pipeline panicked", zap.Any("panic", r), zap.Stack("stack"))
			res = s.fail(ctx, ex, domain.NewInternalError("query", fmt.Errorf("panic: %v", r)))
		}
	}()

	res, err := s.pipeline(ctx, ex, pre)
	if err != nil {
		var qe *domain.QueryError
		if !errors.As(err, &qe) {
			qe = domain.NewInternalError("query", err)
		}
		return s.fail(ctx, ex, qe)
	}
	return s.finish(ctx, ex, res)
}

func (s *Service) begin(q string, opts Options) *execution {
	m := s.cfg.mode(opts.Mode)
	named := strings.TrimSpace(opts.JudgeMode) != ""

	jm := s.cfg.JudgeMode
	if named {
		jm = judge.ParseMode(opts.JudgeMode)
	}
	useJudge := m.UseJudge
	if opts.UseJudge != nil {
		useJudge = *opts.UseJudge
	}
	useJudge = useJudge && !s.cfg.DisableJudge
	if !useJudge || jm == judge.ModeOff {
		useJudge = false
		jm = judge.ModeOff
	}

	pref := opts.Sort
	if pref == "" {
		pref = mode.Best
	}
	ex := &execution{
		query:    q,
		opts:     opts,
		mode:     m,
		judge:    jm,
		useJudge: useJudge,
		explicit: named && jm == judge.ModeReal,
		budget:   overlayBudget(m.Budget, opts.Budget),
		start:    time.Now(),
	}
	ex.opts.Sort = pref
	ex.meta = result.Meta{
		EventID: s.newID(),
		Query: result.QueryInfo{
			Original:   q,
			Expansions: []string{},
			Mode:       m.Name,
			Sort:       pref,
			Requested:  opts.Publishers,
		},
		Flags: result.Flags{
			UseJudge:  useJudge,
			JudgeMode: mode.Judge(jm),
		},
	}
	return ex
}

func (s *Service) pipeline(ctx context.Context, ex *execution, pre *prepared) (result.Result, error) {
	q := strings.TrimSpace(ex.query)
	if q == "" {
		return result.Result{}, domain.NewEmptyQueryError()
	}

	exp := s.expand(ctx, ex, q, pre)

	pubs, err := s.scope(ex)
	if err != nil {
		return result.Result{}, err
	}
	if s.deps.Recent != nil {
		if err := s.deps.Recent.Record(ctx, q, pubs); err != nil {
			ex.logger.Warn("Failed to record recent query", zap.Error(err))
		}
	}

	vec := s.embed(ctx, ex, embedText(exp, q), pre)
	fused := s.retrieve(ctx, ex, exp.Expanded, pubs, vec)

	start := time.Now()
	cut, _ := s.cfg.Policy.Cut(fused)
	ex.meta.Counts.Cut = len(cut)
	cutTime := time.Since(start)

	out, err := s.rerank(ctx, ex, q, cut)
	if err != nil {
		return result.Result{}, err
	}
	return s.decide(ctx, ex, q, out, cutTime), nil
}

func (s *Service) expand(ctx context.Context, ex *execution, q string, pre *prepared) expand.Expansion {
	var exp expand.Expansion
	if pre != nil {
		exp = pre.exp
		ex.meta.Timings.Expand = ms(pre.tExpand)
	} else {
		sctx, done := s.stage(ctx, "expand")
		exp = s.deps.Expander.Expand(sctx, q)
		ex.meta.Timings.Expand = ms(done())
	}
	if exp.Expanded == "" {
		exp.Expanded = q
	}
	if exp.Rewritten == "" {
		exp.Rewritten = exp.Expanded
	}
	ex.meta.Query.Rewritten = exp.Rewritten
	ex.meta.Query.Expanded = exp.Expanded
	if len(exp.Expansions) > 0 {
		ex.meta.Query.Expansions = exp.Expansions
	}
	return exp
}

// scope resolves the publishers to search. Requesting a publisher that is not
// ready fails the query rather than silently searching the rest.
func (s *Service) scope(ex *execution) ([]string, error) {
	ready := s.deps.Catalog.Ready()
	var requested []string
	for _, p := range ex.opts.Publishers {
		p = strings.TrimSpace(p)
		if p != "" && !slices.Contains(requested, p) {
			requested = append(requested, p)
		}
	}
	if len(requested) == 0 {
		requested = ready
	}
	ex.meta.Query.Requested = requested

	var missing []string
	for _, p := range requested {
		if !slices.Contains(ready, p) {
			missing = append(missing, p)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, domain.NewMissingCorporaError(missing)
	}
	if len(ready) == 0 {
		return nil, domain.NewNoCorpusError()
	}
	return requested, nil
}

func (s *Service) embed(ctx context.Context, ex *execution, text string, pre *prepared) []float32 {
	var (
		vec []float32
		st  embedcache.Stats
	)
	if pre != nil {
		vec, st = pre.vec, pre.stats
		ex.meta.Timings.Embed = ms(pre.tEmbed)
	} else {
		sctx, done := s.stage(ctx, "embed")
		vec = s.deps.Embedder.EmbedOne(sctx, text, &st)
		ex.meta.Timings.Embed = ms(done())
	}
	ex.meta.Counts.EmbedCacheHits = st.Hits
	ex.meta.Counts.EmbedCacheMisses = st.Misses
	ex.meta.Flags.HasEmbedding = s.deps.Embedder.Available()

	if dim := s.deps.Catalog.IndexDim(); len(vec) > 0 && dim > 0 && len(vec) != dim {
		ex.logger.Warn("Query vector width differs from the index, dense retrieval disabled",
			zap.Int("embed_dim", len(vec)),
			zap.Int("index_dim", dim),
		)
		vec = nil
	}
	ex.meta.Flags.LexicalOnly = len(vec) == 0
	return vec
}

func (s *Service) retrieve(ctx context.Context, ex *execution, text string, pubs []string, vec []float32) []hit.Hit {
	m := ex.mode
	sctx, done := s.stage(ctx, "retrieve")
	hits, st := s.deps.Retriever.Fuse(sctx, retrieval.FuseRequest{
		Query:      text,
		Publishers: pubs,
		Vector:     vec,
		K:          m.MMRK,
		MMRK:       m.MMRK,
		DenseK:     m.DenseK,
		LexK:       m.LexK,
	})
	total := ms(done())

	t := &ex.meta.Timings
	t.Dense = ms(st.DenseTime)
	t.Lex = ms(st.LexTime)
	t.Fuse = max(0, total-t.Dense-t.Lex)

	c := &ex.meta.Counts
	c.Dense = st.DenseHits
	c.Lex = st.LexHits
	c.Candidates = st.Candidates
	c.PubsUsed = st.PubsUsed
	c.FallbackRetries = st.FallbackRetries
	c.FallbackFailed = st.FallbackFailed

	ex.meta.Caps = result.Caps{
		KRequested:   st.KRequested,
		KApplied:     st.KApplied,
		KClamped:     st.KClamped,
		MMRCap:       st.MMRCap,
		FinalK:       m.FinalK,
		DenseK:       st.DenseK,
		LexK:         st.LexK,
		DenseClamped: st.DenseClamped,
		LexClamped:   st.LexClamped,
	}

	if m.FinalK > 0 && len(hits) > m.FinalK {
		hits = hits[:m.FinalK]
	}
	c.Fused = len(hits)
	return hits
}

// rerank judges the cut list. An unavailable real judge is fatal only when
// the request named real mode; a configured default falls back to proxy.
func (s *Service) rerank(ctx context.Context, ex *execution, q string, hits []hit.Hit) (judge.Outcome, error) {
	f := &ex.meta.Flags
	if !ex.useJudge {
		out := judge.Off(hits)
		f.JudgeKind = string(out.Kind)
		ex.vetoDisabled = true
		ex.vetoWhenProxy = true
		return out, nil
	}

	sctx, done := s.stage(ctx, "judge")
	out, err := s.deps.Judge.Rerank(sctx, q, hits, ex.judge)
	ex.meta.Timings.Judge = ms(done())
	if err != nil {
		if !errors.Is(err, domain.ErrJudgeUnavailable) {
			return judge.Outcome{}, fmt.Errorf("rerank: %w", err)
		}
		if ex.explicit {
			f.JudgeKind = string(judge.KindCrossEncoder)
			reason := out.Unavailable
			if reason == "" {
				reason = err.Error()
			}
			return judge.Outcome{}, domain.NewJudgeUnavailableError(reason)
		}
		ex.logger.Warn("Real judge unavailable, falling back to proxy", zap.Error(err))
		out = judge.Proxy(hits)
		f.JudgeFallback = true
	}

	f.JudgeKind = string(out.Kind)
	f.JudgeOK = out.Scored
	ex.meta.Counts.JudgeCacheHits = out.CacheHits
	ex.meta.Counts.JudgeCacheMisses = out.CacheMisses
	ex.meta.Timings.JudgeCache = ms(out.TCache)
	ex.meta.Timings.JudgePredict = ms(out.TPred)
	ex.vetoDisabled = out.Kind != judge.KindCrossEncoder
	ex.vetoWhenProxy = ex.judge == judge.ModeProxy || out.Proxy

	if out.Scored {
		veto, st := s.cfg.Policy.Veto(out.Hits, out.Judged)
		f.VetoApplied = veto
		if veto {
			ex.logger.Info("No-evidence veto raised",
				zap.Float64("judge_max", st.Max),
				zap.Float64("judge_mean", st.Mean),
			)
		}
	}
	return out, nil
}

func (s *Service) decide(
	ctx context.Context, ex *execution, q string, out judge.Outcome, cutTime time.Duration,
) result.Result {
	_, done := s.stage(ctx, "decide")
	p := s.cfg.Policy
	useJudge := out.Scored

	jmin := p.DisplayMin
	if ex.opts.JudgeMin != nil {
		jmin = *ex.opts.JudgeMin
	}
	display, _ := p.DisplayFilter(out.Hits, jmin, useJudge)
	terms := evidence.QueryTerms(ex.query)
	direct := p.Direct(display, terms, useJudge)

	ex.meta.Flags.DisplayFilter = useJudge
	ex.meta.Counts.Display = len(display)
	ex.meta.Counts.Direct = len(direct)

	basis := direct
	if len(basis) == 0 {
		basis = display
	}
	st := p.Stats(basis)
	ex.meta.Coverage = result.CoverageStats{Max: st.Max, Min: st.Min, Std: st.Std, Strong: st.StrongCount}

	res := result.Result{
		OK:       true,
		Coverage: result.Coverage(p.Label(direct)),
		NearMiss: []hit.View{},
	}
	if len(direct) > 0 {
		res.Confidence = p.Confidence(direct, nil)
		res.Hits = hit.Views(sortHits(direct, ex.opts.Sort))
		ex.meta.Timings.Decide = ms(cutTime + done())
		if ex.opts.UseLLM {
			res.Answer = s.answer(ctx, ex, q, direct)
		}
		return res
	}

	res.NoEvidence = true
	res.Confidence = p.Confidence(nil, display)
	res.Hits = hit.Views(sortHits(display, ex.opts.Sort))
	nm := s.nearMisses(ex, out.Hits, terms, useJudge)
	res.NearMiss = evidence.NearMissViews(nm)
	ex.meta.Counts.NearMiss = len(nm)
	ex.meta.Timings.Decide = ms(cutTime + done())
	return res
}

func (s *Service) nearMisses(ex *execution, judged []hit.Hit, terms evidence.Terms, useJudge bool) []evidence.NearMiss {
	p := s.cfg.Policy
	info := &result.NearMissInfo{
		Threshold: p.NearMissMin,
		UsedJudge: useJudge,
		MinK:      p.NearMissMinK,
		MaxK:      p.NearMissMax,
	}
	ex.meta.NearMiss = info
	if ex.opts.ComputeNearMiss != nil && !*ex.opts.ComputeNearMiss {
		info.Reason = evidence.ReasonComputeDisabled
		return nil
	}
	cand, meta := p.NearMisses(judged, terms, useJudge)
	nm := p.EnsureNearMisses(cand, judged, terms, meta, evidence.NearMissExplanation)
	info.Count = len(nm)
	return nm
}

// answer assembles the context and prompt for the direct hits and hands the
// prompt to the composer. Composer failures leave the answer empty.
func (s *Service) answer(ctx context.Context, ex *execution, q string, direct []hit.Hit) string {
	sctx, done := s.stage(ctx, "assemble")
	defer func() { ex.meta.Timings.Assemble = ms(done()) }()

	b := ex.budget
	text, cf := assemble.Context(direct, b.ContextChars, b.ContextTokens, s.cfg.PassageChars)
	prompt, pf := assemble.Clamp(assemble.Prompt(text, q), b.PromptChars, b.PromptTokens, assemble.PromptMarker)
	ex.meta.Clamp = result.ClampInfo{
		Context:      cf.Clamped(),
		ContextChars: utf8.RuneCountInString(text),
		Prompt:       pf.Clamped(),
		PromptChars:  utf8.RuneCountInString(prompt),
	}

	ans, err := s.deps.Composer.Compose(sctx, prompt, b)
	if err != nil {
		ex.meta.ErrLLM = domain.SafeMessage(err.Error())
		ex.logger.Warn("Answer composition failed", zap.Error(err))
		return ""
	}
	return ans
}

func (s *Service) fail(ctx context.Context, ex *execution, qe *domain.QueryError) result.Result {
	fields := []zap.Field{
		zap.String("kind", string(qe.Kind)),
		zap.String("where", qe.Where),
		zap.String("error_id", qe.ID),
		zap.Error(qe.Err),
	}
	if qe.Kind == domain.KindInternal {
		ex.logger.Error("Query failed", fields...)
	} else {
		ex.logger.Warn("Query rejected", fields...)
	}
	res := result.Failure(qe, ex.meta)
	ex.meta = res.Meta
	return s.finish(ctx, ex, res)
}

func (s *Service) finish(ctx context.Context, ex *execution, res result.Result) result.Result {
	ex.meta.Timings.Total = ms(time.Since(ex.start))
	ex.meta.Query.Used = usedPublishers(res.Hits, res.NearMiss)
	res.Meta = ex.meta

	outcome := OutcomeAnswered
	switch {
	case !res.OK:
		outcome = OutcomeError
	case res.NoEvidence:
		outcome = OutcomeAbstained
	}
	if s.metrics.QueryTotal != nil {
		s.metrics.QueryTotal.WithLabelValues(outcome).Inc()
	}
	s.emit(ctx, ex, res)

	ex.logger.Info("Query finished",
		zap.String("outcome", outcome),
		zap.Int("hits", len(res.Hits)),
		zap.Int("near_miss", len(res.NearMiss)),
		zap.String("coverage", string(res.Coverage)),
		zap.Float64("total_ms", ex.meta.Timings.Total),
	)
	return res
}

// emit hands the event to the sink; a misbehaving sink never fails the query.
func (s *Service) emit(ctx context.Context, ex *execution, res result.Result) {
	defer func() {
		if r := recover(); r != nil {
			ex.logger.Warn("Telemetry sink panicked", zap.Any("panic", r))
		}
	}()
	s.deps.Sink.Emit(ctx, s.event(ex, res))
}

func (s *Service) event(ex *execution, res result.Result) telemetry.Event {
	m := res.Meta
	e := telemetry.Event{
		TS:        ex.start,
		EventID:   m.EventID,
		Mode:      ex.mode.Name,
		Requested: m.Query.Requested,
		Used:      m.Query.Used,
		QueryLen:  utf8.RuneCountInString(strings.TrimSpace(ex.query)),
		Query:     m.Query,
		Counts:    m.Counts,
		Flags:     m.Flags,
		Timings:   m.Timings,
		Judge: telemetry.JudgeInfo{
			OK:                    m.Flags.JudgeOK,
			Kind:                  m.Flags.JudgeKind,
			Mode:                  string(ex.judge),
			CacheHits:             m.Counts.JudgeCacheHits,
			CacheMisses:           m.Counts.JudgeCacheMisses,
			VetoApplied:           m.Flags.VetoApplied,
			VetoDisabled:          ex.vetoDisabled,
			VetoDisabledWhenProxy: ex.vetoWhenProxy,
		},
		Coverage:   string(res.Coverage),
		NoEvidence: res.OK && res.NoEvidence,
		ErrLLM:     m.ErrLLM,
		Clamp:      m.Clamp,
	}
	if m.Err != nil {
		e.ErrorID = m.Err.ID
		e.ErrorKind = string(m.Err.Kind)
	}
	return e
}

// stage opens a span for one pipeline stage; the returned func ends it and
// reports the duration.
func (s *Service) stage(ctx context.Context, name string) (context.Context, func() time.Duration) {
	ctx, span := s.tracer.Start(ctx, "query."+name)
	start := time.Now()
	return ctx, func() time.Duration {
		d := time.Since(start)
		span.End()
		if s.metrics.StageDuration != nil {
			s.metrics.StageDuration.WithLabelValues(name).Observe(d.Seconds())
		}
		return d
	}
}

func embedText(exp expand.Expansion, q string) string {
	if exp.Expanded != "" {
		return exp.Expanded
	}
	return q
}

// sortHits applies the display preference as a stable reorder.
func sortHits(hs []hit.Hit, pref mode.Sort) []hit.Hit {
	out := slices.Clone(hs)
	switch pref {
	case mode.Semantic:
		sort.SliceStable(out, func(i, j int) bool { return out[i].DenseNorm > out[j].DenseNorm })
	case mode.Lexical:
		sort.SliceStable(out, func(i, j int) bool { return out[i].LexNorm > out[j].LexNorm })
	}
	return out
}

func usedPublishers(groups ...[]hit.View) []string {
	out := []string{}
	for _, g := range groups {
		for _, v := range g {
			if v.Publisher != "" && !slices.Contains(out, v.Publisher) {
				out = append(out, v.Publisher)
			}
		}
	}
	return out
}

func ms(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}
