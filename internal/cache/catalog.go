// Package cache holds the Redis read-through cache for catalog lookups.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aus-receiving/api/internal/database"
	"github.com/go-redis/redis/v8"
)

const keyPrefix = "catalog:"

// Connect parses a redis:// URL and verifies the server answers.
func Connect(ctx context.Context, redisURL string) (*redis.Client, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}

	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return rdb, nil
}

// Catalog caches catalog items as JSON under "catalog:<key>".
type Catalog struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewCatalog(rdb *redis.Client, ttl time.Duration) *Catalog {
	return &Catalog{rdb: rdb, ttl: ttl}
}

// Get returns the cached item and whether it was present.
func (c *Catalog) Get(ctx context.Context, key string) (database.CatalogItem, bool, error) {
	val, err := c.rdb.Get(ctx, keyPrefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return database.CatalogItem{}, false, nil
		}
		return database.CatalogItem{}, false, fmt.Errorf("get %s: %w", key, err)
	}

	var item database.CatalogItem
	if err := json.Unmarshal(val, &item); err != nil {
		return database.CatalogItem{}, false, fmt.Errorf("decode %s: %w", key, err)
	}
	return item, true, nil
}

func (c *Catalog) Set(ctx context.Context, key string, item database.CatalogItem) error {
	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return c.rdb.Set(ctx, keyPrefix+key, data, c.ttl).Err()
}

// Noop is used when no Redis URL is configured or Redis cannot be reached.
// Every Get is a miss.
type Noop struct{}

func (Noop) Get(context.Context, string) (database.CatalogItem, bool, error) {
	return database.CatalogItem{}, false, nil
}

func (Noop) Set(context.Context, string, database.CatalogItem) error { return nil }
