package quote

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fmogensen/investment-platform/internal/provider"
)

const redisKeyPrefix = "quotes:"

// RedisCache is the persisted cache tier. Redis errors are logged and treated
// as misses; the cache must never take down a fetch.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl}
}

func (c *RedisCache) Get(ctx context.Context, symbol string) (provider.Quote, bool) {
	if c.ttl <= 0 {
		return provider.Quote{}, false
	}
	b, err := c.client.Get(ctx, redisKeyPrefix+symbol).Bytes()
	if err != nil {
		if err != redis.Nil {
			log.Printf("redis cache get %s: %v", symbol, err)
		}
		return provider.Quote{}, false
	}
	var q provider.Quote
	if err := json.Unmarshal(b, &q); err != nil {
		log.Printf("redis cache decode %s: %v", symbol, err)
		return provider.Quote{}, false
	}
	return q, true
}

func (c *RedisCache) Put(ctx context.Context, symbol string, q provider.Quote) {
	if c.ttl <= 0 {
		return
	}
	b, err := json.Marshal(q)
	if err != nil {
		log.Printf("redis cache encode %s: %v", symbol, err)
		return
	}
	if err := c.client.Set(ctx, redisKeyPrefix+symbol, b, c.ttl).Err(); err != nil {
		log.Printf("redis cache put %s: %v", symbol, err)
	}
}
