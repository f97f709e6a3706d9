package directory

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/shardmap/shardmap/internal/catalog"
	"github.com/shardmap/shardmap/pkg/logger"
)

// DefaultCacheTTL bounds how stale a cached key-to-node entry may get when
// an invalidation is lost.
const DefaultCacheTTL = 30 * time.Second

// Cache is a read-through cache for primary key lookups. Only the hot path,
// resolving a key to its owning node id, is cached; every directory mutation
// that can change the answer invalidates the entry. Cache failures degrade
// to index-store reads and are never surfaced to callers.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
	logger *logger.Logger
}

// NewCache creates a cache with the given TTL. A zero TTL selects
// DefaultCacheTTL.
func NewCache(client *redis.Client, ttl time.Duration, log *logger.Logger) *Cache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Cache{client: client, ttl: ttl, logger: log}
}

func (c *Cache) key(dim *catalog.PartitionDimension, key interface{}) (string, error) {
	formatted, err := dim.KeyType.FormatValue(key)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("dir:%s:pk:%s", dim.Name, formatted), nil
}

// GetNode returns the cached node id of a primary key, if present.
func (c *Cache) GetNode(ctx context.Context, dim *catalog.PartitionDimension, key interface{}) (int64, bool) {
	cacheKey, err := c.key(dim, key)
	if err != nil {
		return 0, false
	}
	nodeID, err := c.client.Get(ctx, cacheKey).Int64()
	if err == redis.Nil {
		return 0, false
	}
	if err != nil {
		c.logger.Warnf("Cache read failed for %s: %v", cacheKey, err)
		return 0, false
	}
	return nodeID, true
}

// PutNode stores the node id of a primary key.
func (c *Cache) PutNode(ctx context.Context, dim *catalog.PartitionDimension, key interface{}, nodeID int64) {
	cacheKey, err := c.key(dim, key)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, cacheKey, nodeID, c.ttl).Err(); err != nil {
		c.logger.Warnf("Cache write failed for %s: %v", cacheKey, err)
	}
}

// Invalidate drops the cached entry of a primary key.
func (c *Cache) Invalidate(ctx context.Context, dim *catalog.PartitionDimension, key interface{}) {
	cacheKey, err := c.key(dim, key)
	if err != nil {
		return
	}
	if err := c.client.Del(ctx, cacheKey).Err(); err != nil {
		c.logger.Warnf("Cache invalidation failed for %s: %v", cacheKey, err)
	}
}
