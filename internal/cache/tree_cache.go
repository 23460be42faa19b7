// Package cache keeps serialized book trees in redis so repeated tree reads
// skip the three-query load. The cache is strictly optional: a nil TreeCache
// is a valid no-op handle.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/inkfold/pilot/backend/internal/outline"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const defaultTTL = 5 * time.Minute

// TreeCacheConfig describes the cache connection.
type TreeCacheConfig struct {
	Addr   string
	TTL    time.Duration
	Logger *zap.Logger
}

// TreeCache stores book trees keyed by book id. All methods are safe on a nil
// receiver, so callers never branch on whether redis is configured.
type TreeCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewTreeCache connects to redis. An empty address yields a nil cache.
func NewTreeCache(cfg TreeCacheConfig) *TreeCache {
	if cfg.Addr == "" {
		return nil
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = defaultTTL
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.Addr})
	return &TreeCache{client: client, ttl: ttl, logger: logger}
}

// Get returns the cached tree, or ok=false on miss, nil cache, or any redis
// failure. Cache trouble never surfaces to the request path.
func (c *TreeCache) Get(ctx context.Context, bookID uint) (outline.BookTree, bool) {
	if c == nil {
		return outline.BookTree{}, false
	}
	payload, err := c.client.Get(ctx, treeKey(bookID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return outline.BookTree{}, false
	}
	if err != nil {
		c.logger.Warn("tree cache read failed", zap.Uint("book_id", bookID), zap.Error(err))
		return outline.BookTree{}, false
	}
	var tree outline.BookTree
	if err := json.Unmarshal(payload, &tree); err != nil {
		c.logger.Warn("tree cache payload corrupt", zap.Uint("book_id", bookID), zap.Error(err))
		return outline.BookTree{}, false
	}
	return tree, true
}

// Put stores the tree with the configured TTL.
func (c *TreeCache) Put(ctx context.Context, tree outline.BookTree) {
	if c == nil {
		return
	}
	payload, err := json.Marshal(tree)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, treeKey(tree.ID), payload, c.ttl).Err(); err != nil {
		c.logger.Warn("tree cache write failed", zap.Uint("book_id", tree.ID), zap.Error(err))
	}
}

// Invalidate drops a book's cached tree. Called after every outline mutation.
func (c *TreeCache) Invalidate(ctx context.Context, bookID uint) {
	if c == nil {
		return
	}
	if err := c.client.Del(ctx, treeKey(bookID)).Err(); err != nil {
		c.logger.Warn("tree cache invalidation failed", zap.Uint("book_id", bookID), zap.Error(err))
	}
}

// Close releases the redis connection.
func (c *TreeCache) Close() error {
	if c == nil {
		return nil
	}
	return c.client.Close()
}

func treeKey(bookID uint) string {
	return fmt.Sprintf("pilot:book_tree:%d", bookID)
}
