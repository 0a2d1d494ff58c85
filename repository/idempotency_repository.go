package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/yashrajoria/reservation-service/models"
)

// SettlementCache keeps settled orders by external order id so repeated
// webhook deliveries are answered without touching the orders collection.
// The orders collection stays the source of truth.
type SettlementCache interface {
	Get(ctx context.Context, externalOrderID string) (*models.Order, error)
	Put(ctx context.Context, order *models.Order) error
}

type RedisSettlementCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisSettlementCache(client *redis.Client, ttl time.Duration) *RedisSettlementCache {
	return &RedisSettlementCache{client: client, ttl: ttl}
}

func (c *RedisSettlementCache) key(externalOrderID string) string {
	return "idem:settle:" + externalOrderID
}

// Get returns nil, nil on a cache miss.
func (c *RedisSettlementCache) Get(ctx context.Context, externalOrderID string) (*models.Order, error) {
	data, err := c.client.Get(ctx, c.key(externalOrderID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var order models.Order
	if err := json.Unmarshal(data, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

func (c *RedisSettlementCache) Put(ctx context.Context, order *models.Order) error {
	data, err := json.Marshal(order)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.key(order.ExternalOrderID), data, c.ttl).Err()
}
