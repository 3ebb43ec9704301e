package intake

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/shopflow/shopflow/outbox"
	"github.com/shopflow/shopflow/saga"
)

const catalogKey = "shopflow:products"

// ProductCache is a redis read-through cache for the catalog. A nil cache is
// valid and always misses; cache errors degrade to database reads.
type ProductCache struct {
	client *redis.Client
	ttl    time.Duration
	log    outbox.Logger
}

// NewProductCache wraps a redis client.
func NewProductCache(client *redis.Client, ttl time.Duration, log outbox.Logger) *ProductCache {
	if client == nil {
		panic("intake: nil redis client")
	}
	if log == nil {
		log = outbox.NopLogger{}
	}

	return &ProductCache{client: client, ttl: ttl, log: log}
}

// Get returns the cached catalog, reporting whether it was present.
func (c *ProductCache) Get(ctx context.Context) ([]saga.Product, bool) {
	if c == nil {
		return nil, false
	}

	body, err := c.client.Get(ctx, catalogKey).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.log.Warn("product cache read failed", "err", err)
		}

		return nil, false
	}

	var products []saga.Product
	if err := json.Unmarshal(body, &products); err != nil {
		c.log.Warn("product cache decode failed", "err", err)

		return nil, false
	}

	return products, true
}

// Set stores the catalog with the configured TTL. Best effort.
func (c *ProductCache) Set(ctx context.Context, products []saga.Product) {
	if c == nil {
		return
	}

	body, err := json.Marshal(products)
	if err != nil {
		c.log.Warn("product cache encode failed", "err", err)

		return
	}
	if err := c.client.Set(ctx, catalogKey, body, c.ttl).Err(); err != nil {
		c.log.Warn("product cache write failed", "err", err)
	}
}
