package redisclient

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// WindowStore counts hits in fixed windows with INCR and PEXPIRE, so every
// replica sees the same counters.
type WindowStore struct {
	rdb    redis.Cmdable
	prefix string
}

func NewWindowStore(rdb redis.Cmdable, prefix string) *WindowStore {
	if prefix == "" {
		prefix = "ratelimit"
	}
	return &WindowStore{rdb: rdb, prefix: prefix}
}

func (s *WindowStore) Incr(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	k := s.prefix + ":" + key

	var incr *redis.IntCmd
	var ttl *redis.DurationCmd
	_, err := s.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		incr = p.Incr(ctx, k)
		ttl = p.PTTL(ctx, k)
		return nil
	})
	if err != nil {
		return 0, 0, err
	}

	// a fresh key has no expiry yet
	left := ttl.Val()
	if left < 0 {
		if err := s.rdb.PExpire(ctx, k, window).Err(); err != nil {
			return 0, 0, err
		}
		left = window
	}
	return incr.Val(), left, nil
}
