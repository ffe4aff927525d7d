package cache

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// Remote is the remote_keyvalue backend over Redis. Backend errors are
// logged and degrade to a miss; the run is never failed by its cache.
type Remote struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	logger *slog.Logger

	hits   atomic.Int64
	misses atomic.Int64
}

func NewRemote(url string, ttl time.Duration, logger *slog.Logger) (*Remote, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Remote{
		client: redis.NewClient(opts),
		prefix: "mgx:llm:",
		ttl:    ttl,
		logger: logger,
	}, nil
}

func (r *Remote) Lookup(ctx context.Context, key string) (string, bool) {
	val, err := r.client.Get(ctx, r.prefix+key).Result()
	if err != nil {
		if err != redis.Nil {
			r.logger.Warn("cache lookup degraded to miss", "err", err)
		}
		r.misses.Add(1)
		return "", false
	}
	r.hits.Add(1)
	return val, true
}

func (r *Remote) Store(ctx context.Context, key, payload string) {
	if err := r.client.Set(ctx, r.prefix+key, payload, r.ttl).Err(); err != nil {
		r.logger.Warn("cache store failed", "err", err)
	}
}

func (r *Remote) Warm(pairs map[string]string) {
	ctx := context.Background()
	pipe := r.client.Pipeline()
	for k, v := range pairs {
		pipe.Set(ctx, r.prefix+k, v, r.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		r.logger.Warn("cache warm failed", "err", err)
	}
}

func (r *Remote) Clear() {
	ctx := context.Background()
	iter := r.client.Scan(ctx, 0, r.prefix+"*", 0).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		r.logger.Warn("cache clear scan failed", "err", err)
		return
	}
	if len(keys) > 0 {
		if err := r.client.Del(ctx, keys...).Err(); err != nil {
			r.logger.Warn("cache clear failed", "err", err)
		}
	}
}

// Inspect reports hit/miss counters observed by this process. Size and
// evictions live server-side and are reported as zero.
func (r *Remote) Inspect() Stats {
	return Stats{Hits: r.hits.Load(), Misses: r.misses.Load()}
}
