package tools

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Fetcher is the content-extractor contract shared by every page source.
type Fetcher interface {
	Fetch(ctx context.Context, pageURL string) (string, error)
}

const pageCachePrefix = "deep-research:page:"

// CachedFetcher is a read-through Redis cache in front of another fetcher.
// Only non-empty page text is stored; Redis failures fall through to the
// wrapped fetcher.
type CachedFetcher struct {
	Next   Fetcher
	Redis  *redis.Client
	TTL    time.Duration
	Logger *slog.Logger
}

func NewCachedFetcher(next Fetcher, rdb *redis.Client, ttl time.Duration) *CachedFetcher {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &CachedFetcher{Next: next, Redis: rdb, TTL: ttl, Logger: slog.Default()}
}

// NewRedisClient parses a redis:// URL into a client.
func NewRedisClient(redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	return redis.NewClient(opts), nil
}

func (c *CachedFetcher) Fetch(ctx context.Context, pageURL string) (string, error) {
	key := pageCacheKey(pageURL)

	cached, err := c.Redis.Get(ctx, key).Result()
	switch {
	case err == nil && cached != "":
		c.Logger.Debug("Page cache hit", "url", pageURL)
		return cached, nil
	case err != nil && !errors.Is(err, redis.Nil):
		c.Logger.Warn("Page cache read failed", "url", pageURL, "error", err)
	}

	text, err := c.Next.Fetch(ctx, pageURL)
	if err != nil || text == "" {
		return text, err
	}

	if err := c.Redis.Set(ctx, key, text, c.TTL).Err(); err != nil {
		c.Logger.Warn("Page cache write failed", "url", pageURL, "error", err)
	}
	return text, nil
}

func pageCacheKey(pageURL string) string {
	sum := sha256.Sum256([]byte(pageURL))
	return pageCachePrefix + hex.EncodeToString(sum[:])
}
