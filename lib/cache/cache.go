package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"deadline/lib/logger"
	"deadline/lib/web"
)

var ErrMiss = errors.New("cache miss")

// Invalidator drops everything cached under any of the given tags.
type Invalidator interface {
	Invalidate(ctx context.Context, tags ...string) error
}

const (
	keyPrefix = "deadline:cache:"
	tagPrefix = "deadline:tag:"
)

// RedisTagCache stores payloads in Redis and indexes their keys by tag in
// Redis sets, so a tag can be invalidated without knowing its keys.
type RedisTagCache struct {
	client *redis.Client
	logger *logger.Logger
}

func NewRedisTagCache(client *redis.Client, log *logger.Logger) *RedisTagCache {
	return &RedisTagCache{client: client, logger: log}
}

func NewRedisTagCacheFromURL(url string, log *logger.Logger) (*RedisTagCache, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	return NewRedisTagCache(redis.NewClient(opts), log), nil
}

func (c *RedisTagCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisTagCache) Close() error {
	return c.client.Close()
}

func (c *RedisTagCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration, tags ...string) error {
	pipe := c.client.TxPipeline()
	pipe.Set(ctx, keyPrefix+key, value, ttl)
	for _, tag := range tags {
		pipe.SAdd(ctx, tagPrefix+tag, key)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// Get returns ErrMiss when the key is absent or expired.
func (c *RedisTagCache) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := c.client.Get(ctx, keyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrMiss
	}
	return b, err
}

func (c *RedisTagCache) Invalidate(ctx context.Context, tags ...string) error {
	var errs []error
	for _, tag := range tags {
		members, err := c.client.SMembers(ctx, tagPrefix+tag).Result()
		if err != nil {
			errs = append(errs, fmt.Errorf("read tag %s: %w", tag, err))
			continue
		}
		keys := make([]string, 0, len(members)+1)
		for _, m := range members {
			keys = append(keys, keyPrefix+m)
		}
		keys = append(keys, tagPrefix+tag)
		if err := c.client.Del(ctx, keys...).Err(); err != nil {
			errs = append(errs, fmt.Errorf("invalidate tag %s: %w", tag, err))
			continue
		}
		c.logger.Debug("Invalidated tag %s (%d keys)", tag, len(members))
	}
	return errors.Join(errs...)
}

// Revalidator asks the public site to drop its rendered pages for the tags.
type Revalidator struct {
	url     string
	secret  string
	fetcher *web.Fetcher
	logger  *logger.Logger
}

func NewRevalidator(url, secret string, fetcher *web.Fetcher, log *logger.Logger) *Revalidator {
	return &Revalidator{url: url, secret: secret, fetcher: fetcher, logger: log}
}

func (r *Revalidator) Invalidate(ctx context.Context, tags ...string) error {
	err := r.fetcher.PostJSON(ctx, r.url, map[string][]string{"tags": tags}, map[string]string{
		"x-revalidate-secret": r.secret,
	})
	if err != nil {
		return fmt.Errorf("revalidate %v: %w", tags, err)
	}
	r.logger.Info("Revalidated %v", tags)
	return nil
}

// Multi fans an invalidation out to every member. All members are tried
// even when one fails.
type Multi []Invalidator

func (m Multi) Invalidate(ctx context.Context, tags ...string) error {
	var errs []error
	for _, inv := range m {
		if err := inv.Invalidate(ctx, tags...); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
