package storage

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const stockKeyPrefix = "stock:"

// RedisCache is the read-side availability cache. Entries age out via TTL;
// the SQL ledger stays the only source of truth for stock.
type RedisCache struct {
	client *redis.Client
}

func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

func (r *RedisCache) GetStock(ctx context.Context, productID string) (int, bool, error) {
	qty, err := r.client.Get(ctx, stockKeyPrefix+productID).Int()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return qty, true, nil
}

func (r *RedisCache) SetStock(ctx context.Context, productID string, quantity int, ttl time.Duration) error {
	return r.client.Set(ctx, stockKeyPrefix+productID, quantity, ttl).Err()
}
