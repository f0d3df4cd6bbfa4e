package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps rate windows in Redis sorted sets, scored by the
// request timestamp in nanoseconds. Windows are then shared across all
// gateway instances serving the same identity.
type RedisStore struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(addr, password string, db int) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisStore{
		client:    client,
		keyPrefix: "estiguard:rl:",
	}, nil
}

func (s *RedisStore) Append(ctx context.Context, key string, ts time.Time) error {
	err := s.client.ZAdd(ctx, s.keyPrefix+key, redis.Z{
		Score:  float64(ts.UnixNano()),
		Member: ts.UnixNano(),
	}).Err()
	if err != nil {
		return fmt.Errorf("rate window zadd: %w", err)
	}
	return nil
}

// RangeSince prunes entries older than since and returns the remaining
// timestamps, in one pipeline so prune and read stay consistent.
func (s *RedisStore) RangeSince(ctx context.Context, key string, since time.Time) ([]time.Time, error) {
	redisKey := s.keyPrefix + key

	pipe := s.client.Pipeline()
	pipe.ZRemRangeByScore(ctx, redisKey, "0", fmt.Sprintf("(%d", since.UnixNano()))
	rangeCmd := pipe.ZRangeWithScores(ctx, redisKey, 0, -1)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("rate window pipeline: %w", err)
	}

	members := rangeCmd.Val()
	out := make([]time.Time, 0, len(members))
	for _, m := range members {
		out = append(out, time.Unix(0, int64(m.Score)))
	}
	return out, nil
}

// Admit runs prune, count, append, and expire in one pipeline, so two
// instances checking the same identity at once cannot both read a stale
// count and over-admit. The pessimistically added entry is removed again
// on rejection; a rejected request must not consume a window slot.
func (s *RedisStore) Admit(ctx context.Context, key string, since, now time.Time, limit int, ttl time.Duration) (AdmitResult, error) {
	redisKey := s.keyPrefix + key
	member := now.UnixNano()

	pipe := s.client.Pipeline()
	pipe.ZRemRangeByScore(ctx, redisKey, "0", fmt.Sprintf("(%d", since.UnixNano()))
	countCmd := pipe.ZCard(ctx, redisKey)
	pipe.ZAdd(ctx, redisKey, redis.Z{Score: float64(member), Member: member})
	oldestCmd := pipe.ZRangeWithScores(ctx, redisKey, 0, 0)
	pipe.Expire(ctx, redisKey, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return AdmitResult{}, fmt.Errorf("rate window admit pipeline: %w", err)
	}

	count := int(countCmd.Val()) // entries before ours was added
	if count >= limit {
		if err := s.client.ZRem(ctx, redisKey, member).Err(); err != nil {
			return AdmitResult{}, fmt.Errorf("rate window rollback: %w", err)
		}
		res := AdmitResult{Admitted: false, Count: count}
		if oldest := oldestCmd.Val(); len(oldest) > 0 {
			res.Oldest = time.Unix(0, int64(oldest[0].Score))
		}
		return res, nil
	}
	return AdmitResult{Admitted: true, Count: count + 1}, nil
}

func (s *RedisStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return s.client.Expire(ctx, s.keyPrefix+key, ttl).Err()
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.keyPrefix+key).Err()
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
