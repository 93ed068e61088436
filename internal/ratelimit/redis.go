package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore is the shared-store variant of the sliding-window limiter, for
// deployments running more than one instance. Attempts are scored by unix
// nanoseconds in a sorted set per key; expired scores are trimmed on every
// access and the key expires with the window so idle keys vanish on their
// own.
type RedisStore struct {
	client *redis.Client
	limit  int
	window time.Duration
	prefix string
	now    func() time.Time
}

type RedisOption func(*RedisStore)

func WithRedisClock(now func() time.Time) RedisOption {
	return func(s *RedisStore) { s.now = now }
}

func NewRedisStore(client *redis.Client, limit int, window time.Duration, opts ...RedisOption) *RedisStore {
	if limit < 1 {
		limit = 10
	}
	if window <= 0 {
		window = 15 * time.Minute
	}
	s := &RedisStore{
		client: client,
		limit:  limit,
		window: window,
		prefix: "login_attempts:",
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStore) Allow(ctx context.Context, key string) (Decision, error) {
	now := s.now()
	redisKey := s.prefix + key
	cutoff := strconv.FormatInt(now.Add(-s.window).UnixNano(), 10)

	pipe := s.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, redisKey, "0", cutoff)
	countCmd := pipe.ZCard(ctx, redisKey)
	oldestCmd := pipe.ZRangeWithScores(ctx, redisKey, 0, 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return Decision{}, fmt.Errorf("rate limit check %q: %w", key, err)
	}

	count := int(countCmd.Val())
	if count >= s.limit {
		retry := s.window
		if oldest := oldestCmd.Val(); len(oldest) > 0 {
			oldestAt := time.Unix(0, int64(oldest[0].Score))
			retry = oldestAt.Add(s.window).Sub(now)
		}
		return Decision{Allowed: false, RetryAfter: retry}, nil
	}

	pipe = s.client.TxPipeline()
	pipe.ZAdd(ctx, redisKey, redis.Z{
		Score:  float64(now.UnixNano()),
		Member: strconv.FormatInt(now.UnixNano(), 10),
	})
	pipe.Expire(ctx, redisKey, s.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return Decision{}, fmt.Errorf("rate limit record %q: %w", key, err)
	}

	return Decision{Allowed: true, Remaining: s.limit - count - 1}, nil
}
