// Package telemetry emits one structured record per query.
package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/bookrag/internal/domain/result"
	"github.com/kailas-cloud/bookrag/internal/logger"
)

// JudgeInfo summarizes the judge stage of one query.
type JudgeInfo struct {
	OK                    bool   `json:"ok"`
	Kind                  string `json:"kind"`
	Mode                  string `json:"mode"`
	CacheHits             int    `json:"cache_hits"`
	CacheMisses           int    `json:"cache_misses"`
	VetoApplied           bool   `json:"veto_applied"`
	VetoDisabled          bool   `json:"veto_disabled"`
	VetoDisabledWhenProxy bool   `json:"veto_disabled_when_proxy"`
}

// Event is the per-query telemetry record.
type Event struct {
	TS         time.Time
	EventID    string
	Mode       string
	Requested  []string
	Used       []string
	QueryLen   int
	Query      result.QueryInfo
	Counts     result.Counts
	Flags      result.Flags
	Timings    result.Timings
	Judge      JudgeInfo
	Coverage   string
	NoEvidence bool
	ErrorID    string
	ErrorKind  string
	ErrLLM     string
	Clamp      result.ClampInfo
}

// Sink receives query events. Implementations must not fail the caller.
type Sink interface {
	Emit(ctx context.Context, e Event)
}

// Nop discards events.
type Nop struct{}

// Emit implements Sink.
func (Nop) Emit(context.Context, Event) {}

// LogSink writes events as JSON lines through a zap logger.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wraps an existing logger.
func NewLogSink(l *zap.Logger) *LogSink {
	if l == nil {
		l = zap.NewNop()
	}
	return &LogSink{logger: l}
}

// NewFileSink appends events to the file at path.
func NewFileSink(path string) (*LogSink, error) {
	l, err := logger.NewFileLogger(path)
	if err != nil {
		return nil, fmt.Errorf("open telemetry sink: %w", err)
	}
	return NewLogSink(l), nil
}

// Emit implements Sink.
func (s *LogSink) Emit(_ context.Context, e Event) {
	s.logger.Info("query",
		zap.Time("event_ts", e.TS),
		zap.String("event_id", e.EventID),
		zap.String("mode", e.Mode),
		zap.Strings("scope_requested", e.Requested),
		zap.Strings("scope_used", e.Used),
		zap.Int("qlen", e.QueryLen),
		zap.Any("query", e.Query),
		zap.Any("counts", e.Counts),
		zap.Any("flags", e.Flags),
		zap.Any("durations", e.Timings),
		zap.Any("judge", e.Judge),
		zap.String("coverage", e.Coverage),
		zap.Bool("no_evidence", e.NoEvidence),
		zap.String("error_id", e.ErrorID),
		zap.String("error_kind", e.ErrorKind),
		zap.String("llm_err", e.ErrLLM),
		zap.Any("clamp", e.Clamp),
	)
}

// Close flushes buffered records.
func (s *LogSink) Close() error {
	if err := s.logger.Sync(); err != nil {
		return fmt.Errorf("sync telemetry sink: %w", err)
	}
	return nil
}
