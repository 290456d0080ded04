// Package cache keeps the product listing in Redis between writes.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"shopadmin/internal/domain/catalog"
)

var _ catalog.ListingCache = (*RedisListingCache)(nil)

const defaultListingKey = "catalog:listing"

// RedisListingCache stores each listing page as a field of one hash, so a
// single DEL drops every page.
type RedisListingCache struct {
	client *redis.Client
	key    string
	ttl    time.Duration
	logger *zap.SugaredLogger
}

type listingEntry struct {
	Items []*catalog.ProductView `json:"items"`
	Total int                    `json:"total"`
}

// NewRedisClient connects and pings.
func NewRedisClient(addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

func NewRedisListingCache(client *redis.Client, ttl time.Duration, logger *zap.SugaredLogger) *RedisListingCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &RedisListingCache{client: client, key: defaultListingKey, ttl: ttl, logger: logger}
}

func pageField(p catalog.Page) string {
	return fmt.Sprintf("%d:%d", p.Limit, p.Offset)
}

// GetListing misses on any Redis or decoding error.
func (c *RedisListingCache) GetListing(ctx context.Context, page catalog.Page) ([]*catalog.ProductView, int, bool) {
	raw, err := c.client.HGet(ctx, c.key, pageField(page)).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warnw("listing cache read failed", "err", err)
		}
		return nil, 0, false
	}

	var e listingEntry
	if err := json.Unmarshal(raw, &e); err != nil {
		c.logger.Warnw("listing cache entry corrupt", "err", err)
		return nil, 0, false
	}
	return e.Items, e.Total, true
}

func (c *RedisListingCache) SetListing(ctx context.Context, page catalog.Page, list []*catalog.ProductView, total int) {
	raw, err := json.Marshal(listingEntry{Items: list, Total: total})
	if err != nil {
		c.logger.Warnw("listing cache encode failed", "err", err)
		return
	}

	pipe := c.client.TxPipeline()
	pipe.HSet(ctx, c.key, pageField(page), raw)
	pipe.Expire(ctx, c.key, c.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		c.logger.Warnw("listing cache write failed", "err", err)
	}
}

func (c *RedisListingCache) Invalidate(ctx context.Context) {
	if err := c.client.Del(ctx, c.key).Err(); err != nil {
		c.logger.Warnw("listing cache invalidate failed", "err", err)
	}
}
