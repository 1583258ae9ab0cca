package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/resale-ledger/pkg/logger"
	"github.com/angelmondragon/resale-ledger/pkg/redis"
)

// Cache is the subset of the redis client used to memoize catalog lookups.
type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	CatalogKey(itemID string) string
}

type cachedRegistry struct {
	next  Registry
	cache Cache
	ttl   time.Duration
	logg  *logger.Logger
}

// NewCachedRegistry fronts a registry with redis. Costing policies are fixed
// at item creation, so entries only expire to bound memory. Cache faults are
// logged and the lookup falls through to next.
func NewCachedRegistry(next Registry, cache Cache, ttl time.Duration, logg *logger.Logger) Registry {
	if cache == nil {
		return next
	}
	return &cachedRegistry{next: next, cache: cache, ttl: ttl, logg: logg}
}

func (c *cachedRegistry) GetItem(ctx context.Context, itemID uuid.UUID) (*Item, error) {
	key := c.cache.CatalogKey(itemID.String())
	raw, err := c.cache.Get(ctx, key)
	switch {
	case err == nil:
		var item Item
		if jsonErr := json.Unmarshal([]byte(raw), &item); jsonErr == nil {
			return &item, nil
		}
		c.warn(ctx, key, "catalog cache entry unreadable")
	case !errors.Is(err, redis.Nil):
		c.warn(ctx, key, "catalog cache read failed")
	}

	item, err := c.next.GetItem(ctx, itemID)
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(item)
	if err == nil {
		if setErr := c.cache.Set(ctx, key, payload, c.ttl); setErr != nil {
			c.warn(ctx, key, "catalog cache write failed")
		}
	}
	return item, nil
}

func (c *cachedRegistry) warn(ctx context.Context, key, msg string) {
	if c.logg == nil {
		return
	}
	c.logg.Warn(c.logg.WithField(ctx, "cache_key", key), msg)
}
