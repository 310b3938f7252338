package store

import (
	"context"
	"fmt"

	"driftsync/internal/config"
	"driftsync/internal/models"

	"github.com/redis/go-redis/v9"
)

const redisKey = "driftsync:" + StorageKey

// RedisStore keeps the pending set as a single blob. Suited to server-side
// deployments that drain queues on behalf of devices.
type RedisStore struct {
	client *redis.Client
	key    string
}

// NewRedisClient creates a Redis client from configuration.
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, key: redisKey}
}

func (r *RedisStore) Load(ctx context.Context) ([]models.PendingOperation, error) {
	if r.client == nil {
		return nil, fmt.Errorf("redis client is nil")
	}
	data, err := r.client.Get(ctx, r.key).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load pending operations from redis: %w", err)
	}
	return decodeOps(data)
}

func (r *RedisStore) Save(ctx context.Context, ops []models.PendingOperation) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	data, err := encodeOps(ops)
	if err != nil {
		return err
	}
	if err := r.client.Set(ctx, r.key, data, 0).Err(); err != nil {
		return fmt.Errorf("failed to save pending operations to redis: %w", err)
	}
	return nil
}

func (r *RedisStore) Clear(ctx context.Context) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	if err := r.client.Del(ctx, r.key).Err(); err != nil {
		return fmt.Errorf("failed to clear pending operations in redis: %w", err)
	}
	return nil
}

func (r *RedisStore) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

// Ping verifies the Redis connection.
func Ping(ctx context.Context, client *redis.Client) error {
	if _, err := client.Ping(ctx).Result(); err != nil {
		return fmt.Errorf("failed to ping redis: %w", err)
	}
	return nil
}
