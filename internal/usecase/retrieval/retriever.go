// Package retrieval runs dense and lexical search per publisher and fuses
// the two channels into one diversity-capped candidate list.
package retrieval

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Config holds fetch ceilings, floors and fusion weights.
type Config struct {
	DenseFetchK      int
	LexFetchK        int
	MinDenseScore    float64
	DenseWeight      float64
	LexWeight        float64
	FallbackRetryMax int
}

// DefaultConfig mirrors the shipped retrieval defaults.
func DefaultConfig() Config {
	return Config{
		DenseFetchK:      60,
		LexFetchK:        60,
		MinDenseScore:    0.18,
		DenseWeight:      0.65,
		LexWeight:        0.35,
		FallbackRetryMax: 8,
	}
}

// Retriever is stateless across queries apart from read-only corpora.
type Retriever struct {
	corpora Corpora
	cfg     Config
	logger  *zap.Logger
	tracer  trace.Tracer
}

// New creates a retriever.
func New(corpora Corpora, cfg Config, logger *zap.Logger) *Retriever {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultConfig()
	if cfg.DenseFetchK <= 0 {
		cfg.DenseFetchK = def.DenseFetchK
	}
	if cfg.LexFetchK <= 0 {
		cfg.LexFetchK = def.LexFetchK
	}
	if cfg.FallbackRetryMax < 0 {
		cfg.FallbackRetryMax = 0
	}
	return &Retriever{
		corpora: corpora,
		cfg:     cfg,
		logger:  logger,
		tracer:  otel.Tracer("github.com/kailas-cloud/bookrag/internal/usecase/retrieval"),
	}
}

// clampK bounds a requested fetch width to [1, ceiling].
func clampK(k, ceiling int) int {
	return max(1, min(k, ceiling))
}
