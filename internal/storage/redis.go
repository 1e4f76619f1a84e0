package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrCacheMiss reports a key that is absent or expired.
var ErrCacheMiss = errors.New("cache miss")

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// RedisClientWrapper adapts go-redis to the RedisClient interface. It
// also satisfies the rate limiter's store client.
type RedisClientWrapper struct {
	rdb *redis.Client
}

// NewRedisClient connects and verifies the connection with a ping.
func NewRedisClient(cfg RedisConfig) (*RedisClientWrapper, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connecting to redis at %s:%d: %w", cfg.Host, cfg.Port, err)
	}
	return &RedisClientWrapper{rdb: rdb}, nil
}

func (r *RedisClientWrapper) Get(ctx context.Context, key string) (string, error) {
	val, err := r.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrCacheMiss
	}
	return val, err
}

func (r *RedisClientWrapper) Set(ctx context.Context, key string, value any, expiration time.Duration) error {
	return r.rdb.Set(ctx, key, value, expiration).Err()
}

func (r *RedisClientWrapper) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return r.rdb.Del(ctx, keys...).Err()
}

func (r *RedisClientWrapper) Keys(ctx context.Context, pattern string) ([]string, error) {
	return r.rdb.Keys(ctx, pattern).Result()
}

func (r *RedisClientWrapper) Incr(ctx context.Context, key string) (int64, error) {
	return r.rdb.Incr(ctx, key).Result()
}

func (r *RedisClientWrapper) Expire(ctx context.Context, key string, expiration time.Duration) error {
	return r.rdb.Expire(ctx, key, expiration).Err()
}

func (r *RedisClientWrapper) Ping(ctx context.Context) error {
	return r.rdb.Ping(ctx).Err()
}

func (r *RedisClientWrapper) Close() error {
	return r.rdb.Close()
}
