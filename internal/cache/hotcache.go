// Package cache implements the Redis-backed hot cache and the cache-aside wrappers
// placed in front of conversation text generation and speech synthesis.
//
// Every backend failure is logged and treated as a miss or a no-op. A cache outage
// costs latency and upstream calls, never a failed request.
package cache

import (
	"context"
	"errors"
	"time"

	"github.com/book-expert/logger"
	"github.com/redis/go-redis/v9"
)

const (
	scanBatchSize = 100
)

// HotCache is a prefixed key/value view over a Redis client.
// A HotCache without a client behaves as an always-empty cache.
type HotCache struct {
	client redis.Cmdable
	prefix string
	log    *logger.Logger
}

// NewHotCache creates a HotCache. A nil client disables caching.
func NewHotCache(client redis.Cmdable, prefix string, log *logger.Logger) *HotCache {
	return &HotCache{client: client, prefix: prefix, log: log}
}

// Enabled reports whether a backend is configured.
func (c *HotCache) Enabled() bool {
	return c != nil && c.client != nil
}

// Get returns the value stored under key, or false on a miss or backend error.
func (c *HotCache) Get(ctx context.Context, key string) ([]byte, bool) {
	if !c.Enabled() {
		return nil, false
	}

	value, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.log.Warn("Hot cache get failed for %s: %v", key, err)
		}

		return nil, false
	}

	return value, true
}

// Set stores value under key with ttl. Failures are logged and swallowed.
func (c *HotCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	if !c.Enabled() {
		return
	}

	err := c.client.Set(ctx, c.prefix+key, value, ttl).Err()
	if err != nil {
		c.log.Warn("Hot cache set failed for %s: %v", key, err)
	}
}

// Delete removes key. Failures are logged and swallowed.
func (c *HotCache) Delete(ctx context.Context, key string) {
	if !c.Enabled() {
		return
	}

	err := c.client.Del(ctx, c.prefix+key).Err()
	if err != nil {
		c.log.Warn("Hot cache delete failed for %s: %v", key, err)
	}
}

// Clear deletes every key matching pattern (a Redis glob, relative to the prefix)
// using cursor-based SCAN, and returns the number of keys actually deleted.
// It returns 0 on any backend error.
func (c *HotCache) Clear(ctx context.Context, pattern string) int {
	if !c.Enabled() {
		return 0
	}

	var (
		deleted int64
		batch   = make([]string, 0, scanBatchSize)
	)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}

		count, err := c.client.Del(ctx, batch...).Result()
		if err != nil {
			return err
		}

		deleted += count
		batch = batch[:0]

		return nil
	}

	iter := c.client.Scan(ctx, 0, c.prefix+pattern, scanBatchSize).Iterator()
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) < scanBatchSize {
			continue
		}

		err := flush()
		if err != nil {
			c.log.Warn("Hot cache clear failed for pattern %s: %v", pattern, err)

			return 0
		}
	}

	err := iter.Err()
	if err == nil {
		err = flush()
	}

	if err != nil {
		c.log.Warn("Hot cache clear failed for pattern %s: %v", pattern, err)

		return 0
	}

	c.log.Info("Hot cache cleared %d keys matching %s", deleted, pattern)

	return int(deleted)
}

// GetMulti reads keys in one round trip. Missing keys are absent from the result.
// It returns an empty map on backend error.
func (c *HotCache) GetMulti(ctx context.Context, keys []string) map[string][]byte {
	result := make(map[string][]byte, len(keys))
	if !c.Enabled() || len(keys) == 0 {
		return result
	}

	prefixed := make([]string, len(keys))
	for i, key := range keys {
		prefixed[i] = c.prefix + key
	}

	values, err := c.client.MGet(ctx, prefixed...).Result()
	if err != nil {
		c.log.Warn("Hot cache multi-get failed for %d keys: %v", len(keys), err)

		return result
	}

	for i, value := range values {
		text, ok := value.(string)
		if !ok {
			continue
		}

		result[keys[i]] = []byte(text)
	}

	return result
}
