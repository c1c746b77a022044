package redis

import (
	"context"

	"github.com/kailas-cloud/bookrag/internal/db"
)

// ZAdd sets the score of member, inserting it when absent.
func (s *Store) ZAdd(ctx context.Context, key string, score float64, member string) error {
	cmd := s.b().Zadd().Key(key).ScoreMember().ScoreMember(score, member).Build()
	if err := s.do(ctx, cmd).Error(); err != nil {
		return &db.Error{Op: db.OpZAdd, Err: err}
	}
	return nil
}

// ZRevRange returns members from highest to lowest score.
func (s *Store) ZRevRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	cmd := s.b().Zrevrange().Key(key).Start(start).Stop(stop).Build()
	members, err := s.do(ctx, cmd).AsStrSlice()
	if err != nil {
		return nil, &db.Error{Op: db.OpZRevRange, Err: err}
	}
	return members, nil
}

// ZRemRangeByRank removes members ranked start..stop by ascending score.
// Negative ranks count from the highest score.
func (s *Store) ZRemRangeByRank(ctx context.Context, key string, start, stop int64) error {
	cmd := s.b().Zremrangebyrank().Key(key).Start(start).Stop(stop).Build()
	if err := s.do(ctx, cmd).Error(); err != nil {
		return &db.Error{Op: db.OpZRemRangeByRank, Err: err}
	}
	return nil
}
