package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"roadbook/internal/config"
	"roadbook/internal/models"

	"github.com/redis/go-redis/v9"
)

const (
	itineraryKeyPrefix = "itinerary:"
	rateLimitKeyPrefix = "rate_limit:"
)

type RedisCacheRepository struct {
	client *redis.Client
}

// NewRedisClient создает новый клиент Redis на основе конфигурации
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	options := &redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	}

	return redis.NewClient(options)
}

func NewRedisCacheRepository(client *redis.Client) *RedisCacheRepository {
	return &RedisCacheRepository{client: client}
}

// GetItinerary returns nil without error on a cache miss.
func (r *RedisCacheRepository) GetItinerary(ctx context.Context, key string) (*models.Itinerary, error) {
	if r.client == nil {
		return nil, fmt.Errorf("redis client is nil")
	}
	val, err := r.client.Get(ctx, itineraryKeyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get itinerary from redis: %w", err)
	}

	var it models.Itinerary
	if err := json.Unmarshal(val, &it); err != nil {
		return nil, fmt.Errorf("failed to unmarshal itinerary: %w", err)
	}
	if it.SchemaVersion != models.ItinerarySchemaVersion {
		// устаревшая схема, считаем промахом
		return nil, nil
	}
	return &it, nil
}

func (r *RedisCacheRepository) SetItinerary(ctx context.Context, key string, it *models.Itinerary, ttl time.Duration) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	data, err := json.Marshal(it)
	if err != nil {
		return fmt.Errorf("failed to marshal itinerary: %w", err)
	}
	if err := r.client.Set(ctx, itineraryKeyPrefix+key, data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set itinerary in redis: %w", err)
	}
	return nil
}

func (r *RedisCacheRepository) DeleteItinerary(ctx context.Context, key string) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	if err := r.client.Del(ctx, itineraryKeyPrefix+key).Err(); err != nil {
		return fmt.Errorf("failed to delete itinerary from redis: %w", err)
	}
	return nil
}

// CheckRateLimit is a fixed-window counter keyed by caller.
func (r *RedisCacheRepository) CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	if r.client == nil {
		return false, fmt.Errorf("redis client is nil")
	}
	redisKey := rateLimitKeyPrefix + key
	count, err := r.client.Incr(ctx, redisKey).Result()
	if err != nil {
		return false, fmt.Errorf("failed to increment rate limit: %w", err)
	}

	if count == 1 {
		r.client.Expire(ctx, redisKey, window)
	}

	return count <= int64(limit), nil
}

// Ping проверяет соединение с Redis
func Ping(ctx context.Context, client *redis.Client) error {
	if _, err := client.Ping(ctx).Result(); err != nil {
		return fmt.Errorf("failed to ping Redis: %w", err)
	}
	return nil
}

// Close закрывает соединение с Redis
func Close(client *redis.Client) error {
	if client != nil {
		return client.Close()
	}
	return nil
}
