package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"

	"pharmapos/backend/internal/domain"
)

const receiptKeyPrefix = "pharmapos:receipt:"

type RedisReceiptCache struct {
	client *redis.Client
}

func NewRedisReceiptCache(addr string, password string, db int) *RedisReceiptCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisReceiptCache{client: client}
}

func (c *RedisReceiptCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisReceiptCache) Close() error {
	return c.client.Close()
}

func (c *RedisReceiptCache) Get(ctx context.Context, idempotencyKey string) (*domain.Sale, bool, error) {
	val, err := c.client.Get(ctx, receiptKey(idempotencyKey)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var sale domain.Sale
	if err := json.Unmarshal([]byte(val), &sale); err != nil {
		return nil, false, err
	}
	return &sale, true, nil
}

func (c *RedisReceiptCache) Set(ctx context.Context, idempotencyKey string, sale *domain.Sale, ttl time.Duration) error {
	if sale == nil || idempotencyKey == "" {
		return nil
	}
	payload, err := json.Marshal(sale)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, receiptKey(idempotencyKey), payload, ttl).Err()
}

func receiptKey(idempotencyKey string) string {
	return receiptKeyPrefix + idempotencyKey
}
