package main

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/bookrag/internal/config"
	"github.com/kailas-cloud/bookrag/internal/db"
	dbRedis "github.com/kailas-cloud/bookrag/internal/db/redis"
	"github.com/kailas-cloud/bookrag/internal/domain"
	"github.com/kailas-cloud/bookrag/internal/embedcache"
	logpkg "github.com/kailas-cloud/bookrag/internal/logger"
	"github.com/kailas-cloud/bookrag/internal/metrics"
	"github.com/kailas-cloud/bookrag/internal/registry"
	"github.com/kailas-cloud/bookrag/internal/repository/embcache"
	"github.com/kailas-cloud/bookrag/internal/repository/recent"
	"github.com/kailas-cloud/bookrag/internal/telemetry"
	"github.com/kailas-cloud/bookrag/internal/transport/crossencoder"
	openaiEmb "github.com/kailas-cloud/bookrag/internal/transport/openai"
	"github.com/kailas-cloud/bookrag/internal/usecase/assemble"
	embeddinguc "github.com/kailas-cloud/bookrag/internal/usecase/embedding"
	"github.com/kailas-cloud/bookrag/internal/usecase/evidence"
	"github.com/kailas-cloud/bookrag/internal/usecase/expand"
	healthuc "github.com/kailas-cloud/bookrag/internal/usecase/health"
	"github.com/kailas-cloud/bookrag/internal/usecase/judge"
	"github.com/kailas-cloud/bookrag/internal/usecase/query"
	"github.com/kailas-cloud/bookrag/internal/usecase/retrieval"
)

const storeReadyTimeout = 5 * time.Second

// app is the composition root shared by every subcommand.
type app struct {
	cfg    config.Config
	env    string
	logger *zap.Logger
	engine *registry.Engine
	query  *query.Service
	health *healthuc.Service

	store db.Store
	sink  *telemetry.LogSink
}

// appOptions are command-line overrides applied on top of the config file.
type appOptions struct {
	disableJudge bool
}

func newApp(ctx context.Context, flags *rootFlags, opts appOptions) (*app, error) {
	cfg, err := config.Load(flags.env)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	level := cfg.Logging.Level
	if flags.logLevel != "" {
		level = flags.logLevel
	}
	logger, err := logpkg.NewLogger(flags.env, level)
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}

	metrics.RegisterEmbeddingMetrics()
	metrics.RegisterQueryMetrics()
	metrics.RegisterHTTPMetrics()

	a := &app{cfg: cfg, env: flags.env, logger: logger}

	a.openStore(ctx)
	provider := a.buildEmbedder()
	a.engine = registry.Build(ctx, registry.Config{
		Root:         cfg.Data.Root,
		Publishers:   cfg.Data.Publishers,
		EmbedDim:     cfg.Embedding.Dimensions,
		TextMax:      cfg.Retrieval.TextMax,
		ProbeTimeout: time.Duration(cfg.Embedding.ProbeTimeoutSec) * time.Second,
	}, provider, logger)
	if provider != nil && !a.engine.HasEmbedding() {
		provider = nil
	}
	for _, row := range a.engine.Report().Rows {
		metrics.SetPublisherReady(row.Publisher, row.Ready)
	}

	embedder := embedcache.New(
		provider, cfg.Embedding.Model,
		embedcache.NewCache(cfg.Embedding.CacheSize), metrics.EmbeddingCacheTotal, logger,
	)

	// Only a configured endpoint becomes a scorer; a nil *Client in the
	// interface would look available.
	var scorer judge.Scorer
	if c := crossencoder.New(crossencoder.Config{
		Endpoint: cfg.Judge.Endpoint,
		Timeout:  time.Duration(cfg.Judge.TimeoutSec) * time.Second,
		Logger:   logger,
	}); c != nil {
		scorer = c
	}
	judger := judge.New(
		scorer,
		judge.NewCache(cfg.Judge.CacheSize, time.Duration(cfg.Judge.CacheTTLSec)*time.Second),
		judge.Config{TopN: cfg.Judge.TopN, PassagePrefix: cfg.Judge.PassageChars},
		metrics.JudgeCacheTotal,
		logger,
	)

	deps := query.Deps{
		Catalog:  query.FromEngine(a.engine),
		Expander: expand.New(expand.NewTokenVectorizer(provider, cfg.Embedding.Model, logger), logger),
		Embedder: embedder,
		Retriever: retrieval.New(retrieval.FromEngine(a.engine), retrieval.Config{
			DenseFetchK:      cfg.Retrieval.DenseFetchK,
			LexFetchK:        cfg.Retrieval.LexFetchK,
			MinDenseScore:    cfg.Retrieval.MinDenseScore,
			DenseWeight:      cfg.Retrieval.DenseWeight,
			LexWeight:        cfg.Retrieval.LexWeight,
			FallbackRetryMax: cfg.Retrieval.FallbackRetryMax,
		}, logger),
		Judge: judger,
	}
	if rs := a.recentStore(); rs != nil {
		deps.Recent = rs
	}
	if cfg.Telemetry.Path != "" {
		sink, err := telemetry.NewFileSink(cfg.Telemetry.Path)
		if err != nil {
			logger.Warn("Telemetry disabled", zap.String("path", cfg.Telemetry.Path), zap.Error(err))
		} else {
			a.sink = sink
			deps.Sink = sink
		}
	}

	qcfg := queryConfig(cfg)
	qcfg.DisableJudge = opts.disableJudge
	a.query = query.New(deps, qcfg, query.Metrics{
		QueryTotal:    metrics.QueryTotal,
		StageDuration: metrics.StageDuration,
	}, logger)

	var embCheck healthuc.EmbeddingChecker
	if hc, ok := provider.(healthuc.EmbeddingChecker); ok {
		embCheck = hc
	}
	var recentCheck healthuc.Pinger
	if a.store != nil {
		recentCheck = a.store
	}
	a.health = healthuc.New(a.engine, embCheck, recentCheck)

	logger.Info("Engine ready",
		zap.Strings("ready", a.engine.Ready()),
		zap.Bool("dense", a.engine.HasEmbedding()),
		zap.Bool("real_judge", judger.Available()),
		zap.String("judge_mode", cfg.Judge.Mode),
		zap.String("recent_driver", cfg.Recent.Driver),
	)
	return a, nil
}

// openStore connects the Redis/Valkey store when recent.driver asks for it.
// The store backs the recent list and the shared embedding cache; both are
// conveniences, so an unreachable store is logged and left nil.
func (a *app) openStore(ctx context.Context) {
	rc := a.cfg.Recent
	if rc.Driver != "redis" && rc.Driver != "valkey" {
		return
	}
	store, err := dbRedis.NewStore(dbRedis.Config{
		Addrs:    rc.Addrs,
		Password: rc.Password,
	})
	if err != nil {
		a.logger.Warn("Redis store disabled", zap.String("driver", rc.Driver), zap.Error(err))
		return
	}
	if err := store.WaitForReady(ctx, storeReadyTimeout); err != nil {
		a.logger.Warn("Redis store not ready, disabled", zap.String("driver", rc.Driver), zap.Error(err))
		store.Close()
		return
	}
	a.store = store
}

// recentStore returns the configured recent-query store, or nil when disabled.
func (a *app) recentStore() query.RecentStore {
	rc := a.cfg.Recent
	switch {
	case rc.Driver == "file":
		return recent.NewFileStore(rc.Path, rc.Limit)
	case a.store != nil:
		return recent.NewRedisStore(a.store, rc.Key, rc.Limit)
	default:
		return nil
	}
}

func (a *app) Close() {
	if a.sink != nil {
		_ = a.sink.Close()
	}
	if a.store != nil {
		a.store.Close()
	}
	if err := a.engine.Close(); err != nil {
		a.logger.Warn("Failed to close corpora", zap.Error(err))
	}
	_ = a.logger.Sync()
}

// buildEmbedder assembles the provider chain:
// OpenAI -> Instrumented -> shared cache (when a store is open) -> Instruction.
// An empty model disables dense retrieval.
func (a *app) buildEmbedder() domain.Embedder {
	ec, logger := a.cfg.Embedding, a.logger
	if ec.Model == "" {
		logger.Info("No embedding model configured, serving lexical retrieval only")
		return nil
	}
	base := openaiEmb.NewEmbedder(&openaiEmb.Config{
		APIKey:     ec.APIKey,
		BaseURL:    ec.BaseURL,
		Model:      ec.Model,
		Dimensions: ec.Dimensions,
		Provider:   ec.Provider,
		Logger:     logger,
	})

	var embedder domain.Embedder = embeddinguc.NewInstrumentedEmbedder(
		base, ec.Provider, ec.Model, ec.Dimensions, logger,
	)
	if a.store != nil && ec.SharedCacheTTLSec > 0 {
		embedder = embcache.New(
			embedder, a.store, ec.Model,
			time.Duration(ec.SharedCacheTTLSec)*time.Second,
			metrics.SharedEmbeddingCacheTotal, logger,
		)
	}
	// Instruction prefix (outermost, so the cache key includes it)
	if ec.QueryInstruction != "" {
		embedder = domain.NewInstructionEmbedder(embedder, ec.QueryInstruction)
	}
	return embedder
}

// queryConfig maps the file configuration onto the orchestrator.
func queryConfig(cfg config.Config) query.Config {
	modes := make(map[string]query.Mode, len(cfg.Modes))
	for name, mc := range cfg.Modes {
		useJudge := true
		if mc.UseJudge != nil {
			useJudge = *mc.UseJudge
		}
		b := cfg.Budgets[name]
		modes[name] = query.Mode{
			Name:        name,
			Label:       mc.Label,
			Description: mc.Description,
			FinalK:      mc.FinalK,
			MMRK:        mc.MMRK,
			DenseK:      mc.DenseK,
			LexK:        mc.LexK,
			UseJudge:    useJudge,
			Budget: assemble.Budget{
				ContextChars:  b.ContextChars,
				ContextTokens: b.ContextTokens,
				PromptChars:   b.PromptChars,
				PromptTokens:  b.PromptTokens,
			},
		}
	}
	ev := cfg.Evidence
	p := evidence.DefaultPolicy()
	p.ShowK = ev.ShowK
	p.MinKeep = ev.MinKeep
	p.AbsMin = ev.AbsMin
	p.DisplayMin = ev.DisplayMin
	p.StrongMin = ev.StrongMin
	p.VetoMaxBelow = ev.VetoMaxMin
	p.VetoMeanMin = ev.VetoMeanMin
	p.VetoMinCount = ev.VetoMinCount
	p.NearMissMin = ev.NearMissMin
	p.NearMissMax = ev.NearMissMax
	p.NearMissMinK = ev.NearMissMinK

	return query.Config{
		Modes:        modes,
		JudgeMode:    judge.ParseMode(cfg.Judge.Mode),
		Policy:       p,
		PassageChars: ev.PassageChars,
		SnippetChars: cfg.Retrieval.SnippetChars,
	}
}
