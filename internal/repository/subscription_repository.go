package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Dhoini/Membership-service/internal/domain"
	"github.com/Dhoini/Membership-service/pkg/logger"
	"github.com/google/uuid"
)

// LookupKey набор ключей, по которым событие провайдера можно
// привязать к подписке. Порядок поиска фиксирован: сначала ID подписки
// у провайдера, затем наш order_id, затем последняя pending-подписка
// пользователя.
type LookupKey struct {
	Provider               domain.Provider
	ProviderSubscriptionID string
	OrderID                string
	UserID                 int64
}

// TransitionFields поля, которые меняются вместе со статусом.
// nil означает "не трогать".
type TransitionFields struct {
	ActivatedAt            *time.Time
	ExpiresAt              *time.Time
	CancelledAt            *time.Time
	ProviderSubscriptionID *string
	Reconciled             *bool
}

// SubscriptionRepository хранилище подписок
type SubscriptionRepository interface {
	// Create сохраняет новую подписку
	Create(ctx context.Context, sub *domain.Subscription) error

	// GetByID возвращает подписку по внутреннему ID
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Subscription, error)

	// FindByAnyKey ищет подписку по ключам события в фиксированном порядке приоритета
	FindByAnyKey(ctx context.Context, key LookupKey) (*domain.Subscription, error)

	// Transition атомарно переводит подписку в новый статус, если текущий
	// статус входит в from. Если подписку успел перевести другой обработчик,
	// возвращает domain.ErrStaleTransition.
	Transition(ctx context.Context, id uuid.UUID, from []domain.SubscriptionStatus, to domain.SubscriptionStatus, fields TransitionFields) error

	// ActiveSubscriptionFor возвращает подписку пользователя, дающую доступ
	ActiveSubscriptionFor(ctx context.Context, userID int64) (*domain.Subscription, error)

	// PendingOlderThan возвращает pending-подписки, созданные раньше cutoff
	PendingOlderThan(ctx context.Context, cutoff time.Time) ([]domain.Subscription, error)

	// ExpiringWithin возвращает активные подписки, истекающие до deadline
	ExpiringWithin(ctx context.Context, deadline time.Time) ([]domain.Subscription, error)

	// ActiveExpiredBefore возвращает подписки с доступом, чей период закончился до now
	ActiveExpiredBefore(ctx context.Context, now time.Time) ([]domain.Subscription, error)

	// StampNudge фиксирует момент отправки напоминания о неоплаченном чекауте
	StampNudge(ctx context.Context, id uuid.UUID, at time.Time) error

	// StampWarning фиксирует момент отправки предупреждения об окончании периода
	StampWarning(ctx context.Context, id uuid.UUID, at time.Time) error
}

// memorySubscriptionRepo реализация SubscriptionRepository в памяти.
// Используется в тестах и при локальной разработке без Postgres.
type memorySubscriptionRepo struct {
	mu   sync.RWMutex
	subs map[uuid.UUID]*domain.Subscription
	log  *logger.Logger
}

// NewMemorySubscriptionRepository создает новый репозиторий подписок в памяти
func NewMemorySubscriptionRepository(log *logger.Logger) SubscriptionRepository {
	return &memorySubscriptionRepo{
		subs: make(map[uuid.UUID]*domain.Subscription),
		log:  log,
	}
}

// Create сохраняет новую подписку
func (r *memorySubscriptionRepo) Create(_ context.Context, sub *domain.Subscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if sub.OrderID != "" {
		for _, existing := range r.subs {
			if existing.OrderID == sub.OrderID {
				return domain.NewDuplicateError("subscription", "order_id", sub.OrderID)
			}
		}
	}

	now := time.Now()
	sub.CreatedAt = now
	sub.UpdatedAt = now

	cp := *sub
	r.subs[sub.ID] = &cp
	return nil
}

// GetByID возвращает подписку по внутреннему ID
func (r *memorySubscriptionRepo) GetByID(_ context.Context, id uuid.UUID) (*domain.Subscription, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sub, ok := r.subs[id]
	if !ok {
		return nil, domain.NewNotFoundError("subscription", id.String())
	}
	cp := *sub
	return &cp, nil
}

// FindByAnyKey ищет подписку по ключам события в порядке приоритета
func (r *memorySubscriptionRepo) FindByAnyKey(_ context.Context, key LookupKey) (*domain.Subscription, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if key.ProviderSubscriptionID != "" {
		for _, sub := range r.subs {
			if sub.Provider == key.Provider && sub.ProviderSubscriptionID == key.ProviderSubscriptionID {
				cp := *sub
				return &cp, nil
			}
		}
	}

	if key.OrderID != "" {
		for _, sub := range r.subs {
			if sub.OrderID == key.OrderID {
				cp := *sub
				return &cp, nil
			}
		}
	}

	if key.UserID != 0 {
		var candidates []*domain.Subscription
		for _, sub := range r.subs {
			if sub.UserID == key.UserID && sub.Provider == key.Provider && sub.Status == domain.SubscriptionStatusPending {
				candidates = append(candidates, sub)
			}
		}
		if len(candidates) > 0 {
			// Берем самую свежую pending-подписку
			sort.Slice(candidates, func(i, j int) bool {
				return candidates[i].CreatedAt.After(candidates[j].CreatedAt)
			})
			cp := *candidates[0]
			return &cp, nil
		}
	}

	return nil, domain.NewNotFoundError("subscription", "lookup")
}

// Transition атомарно переводит подписку в новый статус
func (r *memorySubscriptionRepo) Transition(_ context.Context, id uuid.UUID, from []domain.SubscriptionStatus, to domain.SubscriptionStatus, fields TransitionFields) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	sub, ok := r.subs[id]
	if !ok {
		return domain.NewNotFoundError("subscription", id.String())
	}

	allowed := false
	for _, s := range from {
		if sub.Status == s {
			allowed = true
			break
		}
	}
	if !allowed {
		return domain.ErrStaleTransition
	}

	sub.Status = to
	sub.UpdatedAt = time.Now()
	if fields.ActivatedAt != nil {
		sub.ActivatedAt = fields.ActivatedAt
	}
	if fields.ExpiresAt != nil {
		sub.ExpiresAt = fields.ExpiresAt
	}
	if fields.CancelledAt != nil {
		sub.CancelledAt = fields.CancelledAt
	}
	if fields.ProviderSubscriptionID != nil {
		sub.ProviderSubscriptionID = *fields.ProviderSubscriptionID
	}
	if fields.Reconciled != nil {
		sub.Reconciled = *fields.Reconciled
	}
	return nil
}

// ActiveSubscriptionFor возвращает подписку пользователя, дающую доступ
func (r *memorySubscriptionRepo) ActiveSubscriptionFor(_ context.Context, userID int64) (*domain.Subscription, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	now := time.Now()
	for _, sub := range r.subs {
		if sub.UserID == userID && sub.HasAccess(now) {
			cp := *sub
			return &cp, nil
		}
	}
	return nil, domain.NewNotFoundError("subscription", "active")
}

// PendingOlderThan возвращает pending-подписки, созданные раньше cutoff
func (r *memorySubscriptionRepo) PendingOlderThan(_ context.Context, cutoff time.Time) ([]domain.Subscription, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []domain.Subscription
	for _, sub := range r.subs {
		if sub.Status == domain.SubscriptionStatusPending && sub.CreatedAt.Before(cutoff) {
			out = append(out, *sub)
		}
	}
	return out, nil
}

// ExpiringWithin возвращает активные подписки, истекающие до deadline
func (r *memorySubscriptionRepo) ExpiringWithin(_ context.Context, deadline time.Time) ([]domain.Subscription, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	now := time.Now()
	var out []domain.Subscription
	for _, sub := range r.subs {
		if sub.Status != domain.SubscriptionStatusActive || sub.ExpiresAt == nil {
			continue
		}
		if sub.ExpiresAt.After(now) && sub.ExpiresAt.Before(deadline) {
			out = append(out, *sub)
		}
	}
	return out, nil
}

// ActiveExpiredBefore возвращает подписки с доступом, чей период закончился до now
func (r *memorySubscriptionRepo) ActiveExpiredBefore(_ context.Context, now time.Time) ([]domain.Subscription, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []domain.Subscription
	for _, sub := range r.subs {
		if sub.Status != domain.SubscriptionStatusActive && sub.Status != domain.SubscriptionStatusPastDue {
			continue
		}
		if sub.ExpiresAt != nil && sub.ExpiresAt.Before(now) {
			out = append(out, *sub)
		}
	}
	return out, nil
}

// StampNudge фиксирует момент отправки напоминания
func (r *memorySubscriptionRepo) StampNudge(_ context.Context, id uuid.UUID, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	sub, ok := r.subs[id]
	if !ok {
		return domain.NewNotFoundError("subscription", id.String())
	}
	sub.LastNudgeAt = &at
	sub.NudgeCount++
	sub.UpdatedAt = time.Now()
	return nil
}

// StampWarning фиксирует момент отправки предупреждения
func (r *memorySubscriptionRepo) StampWarning(_ context.Context, id uuid.UUID, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	sub, ok := r.subs[id]
	if !ok {
		return domain.NewNotFoundError("subscription", id.String())
	}
	sub.LastWarningAt = &at
	sub.UpdatedAt = time.Now()
	return nil
}
