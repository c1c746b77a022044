package telemetry

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/kailas-cloud/bookrag/internal/domain/result"
)

func sampleEvent() Event {
	return Event{
		TS:        time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		EventID:   "ev-1",
		Mode:      "quick",
		Requested: []string{"Manning"},
		Used:      []string{"Manning"},
		QueryLen:  12,
		Query:     result.QueryInfo{Original: "what is bm25", Expanded: "what is bm25 okapi"},
		Counts:    result.Counts{Dense: 3, Lex: 4, Direct: 1},
		Judge:     JudgeInfo{OK: true, Kind: "cross_encoder", Mode: "real", CacheHits: 2},
		Coverage:  "OK",
	}
}

func TestLogSink_Fields(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	sink := NewLogSink(zap.New(core))

	sink.Emit(context.Background(), sampleEvent())

	if logs.Len() != 1 {
		t.Fatalf("expected 1 record, got %d", logs.Len())
	}
	fields := logs.All()[0].ContextMap()
	if fields["event_id"] != "ev-1" || fields["mode"] != "quick" {
		t.Errorf("unexpected fields: %v", fields)
	}
	if fields["no_evidence"] != false {
		t.Errorf("expected no_evidence=false, got %v", fields["no_evidence"])
	}
}

func TestFileSink_WritesJSONLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "queries.log")
	sink, err := NewFileSink(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sink.Emit(context.Background(), sampleEvent())
	sink.Emit(context.Background(), Event{EventID: "ev-2", ErrorID: "err-abc"})
	if err := sink.Close(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read sink: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	var rec struct {
		EventID string `json:"event_id"`
		Query   struct {
			Original string `json:"original"`
		} `json:"query"`
		Judge struct {
			Kind string `json:"kind"`
		} `json:"judge"`
	}
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rec.EventID != "ev-1" || rec.Query.Original != "what is bm25" || rec.Judge.Kind != "cross_encoder" {
		t.Errorf("unexpected record: %+v", rec)
	}
	if !strings.Contains(lines[1], `"error_id":"err-abc"`) {
		t.Errorf("expected error id in second record: %s", lines[1])
	}
}

func TestNop(_ *testing.T) {
	var s Sink = Nop{}
	s.Emit(context.Background(), sampleEvent())
}
