package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/finbridge/venuegate/internal/config"
	"github.com/redis/go-redis/v9"
)

func NewRedisClient(cfg *config.Config) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}

// RedisReserver holds short-lived submission slots keyed by idempotency
// key so concurrent duplicate intents collapse before reaching Postgres.
// The reservation is advisory; the order store's conditional insert stays
// authoritative.
type RedisReserver struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

func NewRedisReserver(client *redis.Client, ttl time.Duration) *RedisReserver {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &RedisReserver{client: client, ttl: ttl, prefix: "idem"}
}

// Reserve reports whether the caller acquired the only live claim on key.
func (r *RedisReserver) Reserve(ctx context.Context, key string) (bool, error) {
	return r.client.SetNX(ctx, r.prefix+":"+key, time.Now().UTC().Format(time.RFC3339Nano), r.ttl).Result()
}

// Release frees a claim whose order never reached a venue, so a corrected
// retry is not held for the full window.
func (r *RedisReserver) Release(ctx context.Context, key string) {
	_ = r.client.Del(ctx, r.prefix+":"+key).Err()
}

// RedisUsageStore keeps per-broker daily usage in a hash that expires
// shortly after the day rolls over.
type RedisUsageStore struct {
	client *redis.Client
	prefix string
}

func NewRedisUsageStore(client *redis.Client) *RedisUsageStore {
	return &RedisUsageStore{client: client, prefix: "risk"}
}

func (r *RedisUsageStore) GetDailyUsage(ctx context.Context, brokerID string) (int, float64, error) {
	key := r.makeKey(brokerID)
	vals, err := r.client.HMGet(ctx, key, "orders", "volume").Result()
	if err != nil {
		return 0, 0, err
	}

	orders := 0
	volume := 0.0
	if s, ok := vals[0].(string); ok {
		fmt.Sscanf(s, "%d", &orders)
	}
	if s, ok := vals[1].(string); ok {
		fmt.Sscanf(s, "%f", &volume)
	}
	return orders, volume, nil
}

func (r *RedisUsageStore) AddDailyUsage(ctx context.Context, brokerID string, orders int, volume float64) error {
	key := r.makeKey(brokerID)
	pipe := r.client.TxPipeline()
	if orders != 0 {
		pipe.HIncrBy(ctx, key, "orders", int64(orders))
	}
	if volume != 0 {
		pipe.HIncrByFloat(ctx, key, "volume", volume)
	}
	pipe.Expire(ctx, key, 26*time.Hour)
	_, err := pipe.Exec(ctx)
	return err
}

func (r *RedisUsageStore) makeKey(brokerID string) string {
	date := time.Now().UTC().Format("2006-01-02")
	return fmt.Sprintf("%s:%s:%s", r.prefix, brokerID, date)
}
