package health

import "context"

// CorpusLister reports which publisher indexes are loaded.
type CorpusLister interface {
	Ready() []string
}

// Pinger checks a backing store, such as the recent-query store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// EmbeddingChecker checks embedding provider availability.
type EmbeddingChecker interface {
	HealthCheck(ctx context.Context) error
}
