package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Dhoini/Membership-service/internal/domain"
	"github.com/Dhoini/Membership-service/pkg/logger"
	"github.com/redis/go-redis/v9"
)

const (
	// Префиксы ключей для различных типов данных
	subscriptionKeyPrefix = "subscription:"
	accessKeyPrefix       = "access:"

	// TTL для кэша
	defaultCacheTTL = 15 * time.Minute
	accessCacheTTL  = 5 * time.Minute
)

// RedisCacheRepository реализует кеширование для репозиториев с использованием Redis
type RedisCacheRepository struct {
	client *redis.Client
	log    *logger.Logger
}

// NewRedisCacheRepository создает новый экземпляр Redis репозитория
func NewRedisCacheRepository(redisAddr, redisPassword string, redisDB int, log *logger.Logger) (*RedisCacheRepository, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     redisAddr,
		Password: redisPassword,
		DB:       redisDB,
	})

	// Проверяем соединение с Redis
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		log.Errorw("Failed to connect to Redis", "error", err)
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	log.Infow("Connected to Redis successfully", "addr", redisAddr)
	return &RedisCacheRepository{
		client: client,
		log:    log,
	}, nil
}

// Close закрывает соединение с Redis
func (r *RedisCacheRepository) Close() error {
	return r.client.Close()
}

// CacheSubscription кеширует подписку в Redis
func (r *RedisCacheRepository) CacheSubscription(ctx context.Context, sub *domain.Subscription) error {
	key := fmt.Sprintf("%s%s", subscriptionKeyPrefix, sub.ID)

	data, err := json.Marshal(sub)
	if err != nil {
		r.log.Errorw("Failed to marshal subscription for caching", "error", err, "subscriptionID", sub.ID)
		return fmt.Errorf("failed to marshal subscription: %w", err)
	}

	if err := r.client.Set(ctx, key, data, defaultCacheTTL).Err(); err != nil {
		r.log.Errorw("Failed to cache subscription in Redis", "error", err, "subscriptionID", sub.ID)
		return fmt.Errorf("failed to cache subscription: %w", err)
	}

	return nil
}

// GetCachedSubscription получает подписку из кеша
func (r *RedisCacheRepository) GetCachedSubscription(ctx context.Context, id string) (*domain.Subscription, error) {
	key := fmt.Sprintf("%s%s", subscriptionKeyPrefix, id)

	data, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			// Ключ не найден в кеше
			return nil, nil
		}
		r.log.Errorw("Error getting subscription from Redis", "error", err, "subscriptionID", id)
		return nil, fmt.Errorf("failed to get subscription from cache: %w", err)
	}

	var sub domain.Subscription
	if err := json.Unmarshal(data, &sub); err != nil {
		r.log.Errorw("Failed to unmarshal cached subscription", "error", err, "subscriptionID", id)
		return nil, fmt.Errorf("failed to unmarshal cached subscription: %w", err)
	}

	return &sub, nil
}

// DeleteCachedSubscription удаляет подписку из кеша
func (r *RedisCacheRepository) DeleteCachedSubscription(ctx context.Context, id string) error {
	key := fmt.Sprintf("%s%s", subscriptionKeyPrefix, id)

	if err := r.client.Del(ctx, key).Err(); err != nil {
		r.log.Errorw("Failed to delete subscription from cache", "error", err, "subscriptionID", id)
		return fmt.Errorf("failed to delete subscription from cache: %w", err)
	}

	return nil
}

// CacheAccessSubscription кеширует подписку, по которой у пользователя есть доступ
func (r *RedisCacheRepository) CacheAccessSubscription(ctx context.Context, userID int64, sub *domain.Subscription) error {
	key := fmt.Sprintf("%s%d", accessKeyPrefix, userID)

	data, err := json.Marshal(sub)
	if err != nil {
		r.log.Errorw("Failed to marshal access subscription for caching", "error", err, "userID", userID)
		return fmt.Errorf("failed to marshal access subscription: %w", err)
	}

	if err := r.client.Set(ctx, key, data, accessCacheTTL).Err(); err != nil {
		r.log.Errorw("Failed to cache access subscription in Redis", "error", err, "userID", userID)
		return fmt.Errorf("failed to cache access subscription: %w", err)
	}

	return nil
}

// GetCachedAccessSubscription получает подписку с доступом из кеша
func (r *RedisCacheRepository) GetCachedAccessSubscription(ctx context.Context, userID int64) (*domain.Subscription, error) {
	key := fmt.Sprintf("%s%d", accessKeyPrefix, userID)

	data, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		r.log.Errorw("Error getting access subscription from Redis", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to get access subscription from cache: %w", err)
	}

	var sub domain.Subscription
	if err := json.Unmarshal(data, &sub); err != nil {
		r.log.Errorw("Failed to unmarshal cached access subscription", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to unmarshal cached access subscription: %w", err)
	}

	return &sub, nil
}

// InvalidateAccessCache удаляет кеш доступа пользователя.
// Вызывается при любой смене статуса подписки, чтобы доступ
// не пережил отмену дольше, чем на TTL.
func (r *RedisCacheRepository) InvalidateAccessCache(ctx context.Context, userID int64) error {
	key := fmt.Sprintf("%s%d", accessKeyPrefix, userID)

	if err := r.client.Del(ctx, key).Err(); err != nil {
		r.log.Errorw("Failed to invalidate access cache", "error", err, "userID", userID)
		return fmt.Errorf("failed to invalidate access cache: %w", err)
	}

	return nil
}
