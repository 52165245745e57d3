package repository

import (
	"context"
	"time"

	"github.com/Dhoini/Membership-service/internal/domain"
	"github.com/Dhoini/Membership-service/pkg/logger"
	"github.com/google/uuid"
)

// CachedSubscriptionRepository реализует SubscriptionRepository с кешированием.
// Кеш ускоряет только чтение: записи всегда идут в основное хранилище,
// а кеш после них инвалидируется.
type CachedSubscriptionRepository struct {
	repo  SubscriptionRepository
	cache *RedisCacheRepository
	log   *logger.Logger
}

// NewCachedSubscriptionRepository создает новый репозиторий с кешированием
func NewCachedSubscriptionRepository(
	repo SubscriptionRepository,
	cache *RedisCacheRepository,
	log *logger.Logger,
) SubscriptionRepository {
	return &CachedSubscriptionRepository{
		repo:  repo,
		cache: cache,
		log:   log,
	}
}

// Create сохраняет подписку в БД и кеширует ее
func (r *CachedSubscriptionRepository) Create(ctx context.Context, sub *domain.Subscription) error {
	if err := r.repo.Create(ctx, sub); err != nil {
		return err
	}

	if err := r.cache.CacheSubscription(ctx, sub); err != nil {
		r.log.Warnw("Failed to cache subscription after creation", "error", err, "subscriptionID", sub.ID)
		// Продолжаем выполнение, несмотря на ошибку кеширования
	}

	return nil
}

// GetByID получает подписку по ID (сначала из кеша, потом из БД)
func (r *CachedSubscriptionRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Subscription, error) {
	cachedSub, err := r.cache.GetCachedSubscription(ctx, id.String())
	if err != nil {
		r.log.Warnw("Error getting subscription from cache", "error", err, "subscriptionID", id)
		// Продолжаем выполнение при ошибке кеша
	}
	if cachedSub != nil {
		return cachedSub, nil
	}

	sub, err := r.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := r.cache.CacheSubscription(ctx, sub); err != nil {
		r.log.Warnw("Failed to cache subscription after fetching", "error", err, "subscriptionID", id)
	}

	return sub, nil
}

// FindByAnyKey ищет подписку по ключам события. Поиск по внешним ключам
// не кешируется: он происходит только при обработке вебхуков.
func (r *CachedSubscriptionRepository) FindByAnyKey(ctx context.Context, key LookupKey) (*domain.Subscription, error) {
	return r.repo.FindByAnyKey(ctx, key)
}

// Transition переводит подписку в новый статус и сбрасывает кеш
func (r *CachedSubscriptionRepository) Transition(ctx context.Context, id uuid.UUID, from []domain.SubscriptionStatus, to domain.SubscriptionStatus, fields TransitionFields) error {
	if err := r.repo.Transition(ctx, id, from, to, fields); err != nil {
		return err
	}

	if err := r.cache.DeleteCachedSubscription(ctx, id.String()); err != nil {
		r.log.Warnw("Failed to drop subscription cache after transition", "error", err, "subscriptionID", id)
	}

	// Статус изменился, кеш доступа владельца больше не достоверен
	if sub, err := r.repo.GetByID(ctx, id); err == nil {
		if err := r.cache.InvalidateAccessCache(ctx, sub.UserID); err != nil {
			r.log.Warnw("Failed to invalidate access cache after transition", "error", err, "userID", sub.UserID)
		}
	}

	return nil
}

// ActiveSubscriptionFor возвращает подписку с доступом (сначала из кеша, потом из БД)
func (r *CachedSubscriptionRepository) ActiveSubscriptionFor(ctx context.Context, userID int64) (*domain.Subscription, error) {
	cachedSub, err := r.cache.GetCachedAccessSubscription(ctx, userID)
	if err != nil {
		r.log.Warnw("Error getting access subscription from cache", "error", err, "userID", userID)
	}
	if cachedSub != nil && cachedSub.HasAccess(time.Now()) {
		return cachedSub, nil
	}

	sub, err := r.repo.ActiveSubscriptionFor(ctx, userID)
	if err != nil {
		return nil, err
	}

	if err := r.cache.CacheAccessSubscription(ctx, userID, sub); err != nil {
		r.log.Warnw("Failed to cache access subscription", "error", err, "userID", userID)
	}

	return sub, nil
}

// PendingOlderThan возвращает pending-подписки, созданные раньше cutoff
func (r *CachedSubscriptionRepository) PendingOlderThan(ctx context.Context, cutoff time.Time) ([]domain.Subscription, error) {
	return r.repo.PendingOlderThan(ctx, cutoff)
}

// ExpiringWithin возвращает активные подписки, истекающие до deadline
func (r *CachedSubscriptionRepository) ExpiringWithin(ctx context.Context, deadline time.Time) ([]domain.Subscription, error) {
	return r.repo.ExpiringWithin(ctx, deadline)
}

// ActiveExpiredBefore возвращает подписки с доступом, чей период закончился до now
func (r *CachedSubscriptionRepository) ActiveExpiredBefore(ctx context.Context, now time.Time) ([]domain.Subscription, error) {
	return r.repo.ActiveExpiredBefore(ctx, now)
}

// StampNudge фиксирует момент отправки напоминания
func (r *CachedSubscriptionRepository) StampNudge(ctx context.Context, id uuid.UUID, at time.Time) error {
	if err := r.repo.StampNudge(ctx, id, at); err != nil {
		return err
	}
	if err := r.cache.DeleteCachedSubscription(ctx, id.String()); err != nil {
		r.log.Warnw("Failed to drop subscription cache after nudge stamp", "error", err, "subscriptionID", id)
	}
	return nil
}

// StampWarning фиксирует момент отправки предупреждения
func (r *CachedSubscriptionRepository) StampWarning(ctx context.Context, id uuid.UUID, at time.Time) error {
	if err := r.repo.StampWarning(ctx, id, at); err != nil {
		return err
	}
	if err := r.cache.DeleteCachedSubscription(ctx, id.String()); err != nil {
		r.log.Warnw("Failed to drop subscription cache after warning stamp", "error", err, "subscriptionID", id)
	}
	return nil
}
