// Package db defines the storage contracts of the optional Redis/Valkey
// backend.
package db

import (
	"context"
	"time"
)

// Store is the database facade combining all sub-interfaces.
type Store interface {
	Pinger
	KeyValueStore
	SortedSetStore
	Close()
	WaitForReady(ctx context.Context, timeout time.Duration) error
}

// Pinger checks database connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// KeyValueStore provides expiring binary values.
type KeyValueStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	// GetMulti fetches keys in one round-trip; missing keys leave nil slots.
	GetMulti(ctx context.Context, keys []string) ([][]byte, error)
	// SetWithTTL stores value; a non-positive ttl keeps it without expiry.
	SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// SortedSetStore provides scored-member operations.
type SortedSetStore interface {
	ZAdd(ctx context.Context, key string, score float64, member string) error
	// ZRevRange returns members by descending score, ranks start..stop inclusive.
	ZRevRange(ctx context.Context, key string, start, stop int64) ([]string, error)
	ZRemRangeByRank(ctx context.Context, key string, start, stop int64) error
}
