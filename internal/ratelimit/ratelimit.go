// Package ratelimit counts requests per key in a sliding time window.
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

type Limiter interface {
	// Allow records one hit for key at now and reports whether it is within the limit.
	Allow(ctx context.Context, key string, now time.Time) (bool, error)
}

type Memory struct {
	window time.Duration
	max    int

	mu    sync.Mutex
	hits  map[string][]time.Time
	sweep time.Time
}

func NewMemory(window time.Duration, max int) *Memory {
	return &Memory{window: window, max: max, hits: make(map[string][]time.Time)}
}

func (m *Memory) Allow(_ context.Context, key string, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := now.Add(-m.window)
	if now.Sub(m.sweep) > m.window {
		for k, ts := range m.hits {
			if len(ts) == 0 || !ts[len(ts)-1].After(cutoff) {
				delete(m.hits, k)
			}
		}
		m.sweep = now
	}

	bucket := m.hits[key]
	kept := bucket[:0]
	for _, ts := range bucket {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) >= m.max {
		m.hits[key] = kept
		return false, nil
	}
	m.hits[key] = append(kept, now)
	return true, nil
}

const redisKeyPrefix = "azq:rl:"

// Redis keeps one sorted set per key scored by hit time, shared by all replicas.
type Redis struct {
	rdb    *redis.Client
	log    *slog.Logger
	window time.Duration
	max    int
}

func NewRedis(rdb *redis.Client, window time.Duration, max int, logger *slog.Logger) *Redis {
	if logger == nil {
		logger = slog.Default()
	}
	return &Redis{rdb: rdb, log: logger, window: window, max: max}
}

// ConnectRedis parses a redis:// URL and pings the server.
func ConnectRedis(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return rdb, nil
}

func (r *Redis) Allow(ctx context.Context, key string, now time.Time) (bool, error) {
	k := redisKeyPrefix + key
	minScore := float64(now.Add(-r.window).UnixMicro())
	member := uuid.NewString()

	pipe := r.rdb.TxPipeline()
	pipe.ZRemRangeByScore(ctx, k, "-inf", fmt.Sprintf("(%f", minScore))
	pipe.ZAdd(ctx, k, redis.Z{Score: float64(now.UnixMicro()), Member: member})
	pipe.Expire(ctx, k, r.window+time.Second)
	count := pipe.ZCard(ctx, k)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("rate limit pipeline: %w", err)
	}
	n, err := count.Result()
	if err != nil {
		return false, err
	}
	if n > int64(r.max) {
		r.release(ctx, k, member)
		return false, nil
	}
	return true, nil
}

// release drops a rejected hit so it does not consume the window. A failure
// only costs capacity until the entry ages out.
func (r *Redis) release(ctx context.Context, key, member string) {
	if err := r.rdb.ZRem(ctx, key, member).Err(); err != nil {
		r.log.DebugContext(ctx, "rate limit release failed", "key", key, "err", err)
	}
}
