package health

import "context"

// Status represents the aggregated health status.
type Status string

const (
	// Healthy indicates all components are operational.
	Healthy Status = "ok"
	// Degraded indicates partial failure; queries still run.
	Degraded Status = "degraded"
	// Unhealthy indicates no corpus is loaded, so every query fails.
	Unhealthy Status = "error"
)

// CheckResult represents an individual component health check outcome.
type CheckResult string

const (
	// CheckOK indicates a passing health check.
	CheckOK CheckResult = "ok"
	// CheckError indicates a failing health check.
	CheckError CheckResult = "error"
)

// Check names.
const (
	CheckCorpus      = "corpus"
	CheckEmbedding   = "embedding"
	CheckRecentStore = "recent_store"
)

// Report aggregates health check results.
type Report struct {
	Status     Status
	Checks     map[string]CheckResult
	Publishers []string
}

// Service coordinates health checks.
type Service struct {
	corpora   CorpusLister
	embedding EmbeddingChecker
	recent    Pinger
}

// New creates a Service. embedding and recent can be nil.
func New(corpora CorpusLister, embedding EmbeddingChecker, recent Pinger) *Service {
	return &Service{corpora: corpora, embedding: embedding, recent: recent}
}

// Check runs health checks against all components.
func (s *Service) Check(ctx context.Context) Report {
	checks := make(map[string]CheckResult)

	ready := s.corpora.Ready()
	if len(ready) == 0 {
		checks[CheckCorpus] = CheckError
	} else {
		checks[CheckCorpus] = CheckOK
	}

	if s.embedding != nil {
		if err := s.embedding.HealthCheck(ctx); err != nil {
			checks[CheckEmbedding] = CheckError
		} else {
			checks[CheckEmbedding] = CheckOK
		}
	}

	if s.recent != nil {
		if err := s.recent.Ping(ctx); err != nil {
			checks[CheckRecentStore] = CheckError
		} else {
			checks[CheckRecentStore] = CheckOK
		}
	}

	status := Healthy
	for _, v := range checks {
		if v == CheckError {
			status = Degraded
			break
		}
	}
	if checks[CheckCorpus] == CheckError {
		status = Unhealthy
	}

	if ready == nil {
		ready = []string{}
	}
	return Report{Status: status, Checks: checks, Publishers: ready}
}
