package recent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kailas-cloud/bookrag/internal/db"
)

// DefaultKey is the sorted set holding the history.
const DefaultKey = "bookrag:recent"

// RedisStore keeps the history in a sorted set scored by record time.
// The member is the query text, so re-asking a query only bumps its score.
// Publisher scope is not persisted in this backend.
type RedisStore struct {
	store db.SortedSetStore
	key   string
	limit int
	now   func() time.Time
}

// NewRedisStore creates a sorted-set backed store.
func NewRedisStore(s db.SortedSetStore, key string, limit int) *RedisStore {
	if key == "" {
		key = DefaultKey
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &RedisStore{store: s, key: key, limit: limit, now: time.Now}
}

// Record adds q and trims the set to the configured limit.
func (s *RedisStore) Record(ctx context.Context, q string, _ []string) error {
	q = strings.TrimSpace(q)
	if q == "" {
		return nil
	}
	ts := float64(s.now().UnixNano()) / float64(time.Second)
	if err := s.store.ZAdd(ctx, s.key, ts, q); err != nil {
		return fmt.Errorf("record recent query: %w", err)
	}
	// keep ranks -limit..-1 (the newest), drop everything below
	if err := s.store.ZRemRangeByRank(ctx, s.key, 0, -int64(s.limit)-1); err != nil {
		return fmt.Errorf("trim recent queries: %w", err)
	}
	return nil
}

// Recent returns up to n most recent queries.
func (s *RedisStore) Recent(ctx context.Context, n int) ([]string, error) {
	if n <= 0 {
		n = DefaultCount
	}
	members, err := s.store.ZRevRange(ctx, s.key, 0, int64(n)-1)
	if err != nil {
		return nil, fmt.Errorf("list recent queries: %w", err)
	}
	return members, nil
}
