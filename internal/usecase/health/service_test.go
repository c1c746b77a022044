package health

import (
	"context"
	"errors"
	"slices"
	"testing"
)

// --- Mocks ---

type mockCorpora struct {
	ready []string
}

func (m *mockCorpora) Ready() []string { return m.ready }

type mockPinger struct {
	err error
}

func (m *mockPinger) Ping(_ context.Context) error { return m.err }

type mockEmbeddingChecker struct {
	err error
}

func (m *mockEmbeddingChecker) HealthCheck(_ context.Context) error { return m.err }

// --- Tests ---

func TestCheck_AllHealthy(t *testing.T) {
	svc := New(&mockCorpora{ready: []string{"manning", "oreilly"}}, &mockEmbeddingChecker{}, &mockPinger{})
	r := svc.Check(context.Background())

	if r.Status != Healthy {
		t.Errorf("expected %q, got %q", Healthy, r.Status)
	}
	for _, name := range []string{CheckCorpus, CheckEmbedding, CheckRecentStore} {
		if r.Checks[name] != CheckOK {
			t.Errorf("expected %s %q, got %q", name, CheckOK, r.Checks[name])
		}
	}
	if !slices.Equal(r.Publishers, []string{"manning", "oreilly"}) {
		t.Errorf("unexpected publishers %v", r.Publishers)
	}
}

func TestCheck_NoCorpus(t *testing.T) {
	svc := New(&mockCorpora{}, &mockEmbeddingChecker{}, nil)
	r := svc.Check(context.Background())

	if r.Status != Unhealthy {
		t.Errorf("expected %q, got %q", Unhealthy, r.Status)
	}
	if r.Checks[CheckCorpus] != CheckError {
		t.Errorf("expected corpus %q, got %q", CheckError, r.Checks[CheckCorpus])
	}
	if r.Publishers == nil || len(r.Publishers) != 0 {
		t.Errorf("expected empty publisher list, got %v", r.Publishers)
	}
}

func TestCheck_Degraded(t *testing.T) {
	tests := []struct {
		name      string
		embedding EmbeddingChecker
		recent    Pinger
		failed    string
	}{
		{
			name:      "embedding down",
			embedding: &mockEmbeddingChecker{err: errors.New("timeout")},
			recent:    &mockPinger{},
			failed:    CheckEmbedding,
		},
		{
			name:      "recent store down",
			embedding: &mockEmbeddingChecker{},
			recent:    &mockPinger{err: errors.New("conn refused")},
			failed:    CheckRecentStore,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			svc := New(&mockCorpora{ready: []string{"manning"}}, tc.embedding, tc.recent)
			r := svc.Check(context.Background())

			if r.Status != Degraded {
				t.Errorf("expected %q, got %q", Degraded, r.Status)
			}
			if r.Checks[tc.failed] != CheckError {
				t.Errorf("expected %s %q, got %q", tc.failed, CheckError, r.Checks[tc.failed])
			}
			if r.Checks[CheckCorpus] != CheckOK {
				t.Errorf("expected corpus %q, got %q", CheckOK, r.Checks[CheckCorpus])
			}
		})
	}
}

func TestCheck_OptionalChecksAbsent(t *testing.T) {
	svc := New(&mockCorpora{ready: []string{"manning"}}, nil, nil)
	r := svc.Check(context.Background())

	if r.Status != Healthy {
		t.Errorf("expected %q, got %q", Healthy, r.Status)
	}
	if _, ok := r.Checks[CheckEmbedding]; ok {
		t.Error("embedding check should be absent when embedding is nil")
	}
	if _, ok := r.Checks[CheckRecentStore]; ok {
		t.Error("recent_store check should be absent when no store is configured")
	}
}
