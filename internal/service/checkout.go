package service

import (
	"context"
	"fmt"

	"github.com/Dhoini/Membership-service/internal/domain"
	"github.com/Dhoini/Membership-service/internal/metrics"
	"github.com/Dhoini/Membership-service/internal/repository"
	"github.com/Dhoini/Membership-service/pkg/logger"
	"github.com/google/uuid"
)

// PaymentProvider создает сессии оплаты у конкретного провайдера
type PaymentProvider interface {
	// Name возвращает имя провайдера
	Name() domain.Provider

	// CreateCheckout создает сессию оплаты и возвращает ссылку для пользователя.
	// orderID передается провайдеру и возвращается в его вебхуках.
	CreateCheckout(ctx context.Context, userID int64, orderID string) (string, error)

	// Cancel отменяет подписку на стороне провайдера
	Cancel(ctx context.Context, providerSubscriptionID string) error
}

// CheckoutService создает чекауты и pending-подписки под них
type CheckoutService struct {
	subs      repository.SubscriptionRepository
	users     repository.UserRepository
	providers map[domain.Provider]PaymentProvider
	metrics   metrics.SubscriptionMetrics
	amount    float64
	currency  string
	log       *logger.Logger
}

// NewCheckoutService создает новый сервис чекаутов
func NewCheckoutService(
	subs repository.SubscriptionRepository,
	users repository.UserRepository,
	providers []PaymentProvider,
	m metrics.SubscriptionMetrics,
	amount float64,
	currency string,
	log *logger.Logger,
) *CheckoutService {
	byName := make(map[domain.Provider]PaymentProvider, len(providers))
	for _, p := range providers {
		byName[p.Name()] = p
	}

	return &CheckoutService{
		subs:      subs,
		users:     users,
		providers: byName,
		metrics:   m,
		amount:    amount,
		currency:  currency,
		log:       log,
	}
}

// CreateCheckout создает сессию оплаты у провайдера и pending-подписку.
// Подписка пишется до обращения к провайдеру: если его вебхук придет
// раньше нашего ответа, согласованию уже будет что искать.
func (s *CheckoutService) CreateCheckout(ctx context.Context, user *domain.User, provider domain.Provider) (*domain.CheckoutResponse, error) {
	p, ok := s.providers[provider]
	if !ok {
		return nil, domain.ErrUnsupportedProvider
	}

	if err := s.users.Upsert(ctx, user); err != nil {
		return nil, fmt.Errorf("checkout: failed to save user: %w", err)
	}

	orderID := uuid.NewString()
	sub := &domain.Subscription{
		ID:       uuid.New(),
		UserID:   user.ID,
		Provider: provider,
		Status:   domain.SubscriptionStatusPending,
		OrderID:  orderID,
		Amount:   s.amount,
		Currency: s.currency,
	}

	if err := s.subs.Create(ctx, sub); err != nil {
		return nil, fmt.Errorf("checkout: failed to create pending subscription: %w", err)
	}

	link, err := p.CreateCheckout(ctx, user.ID, orderID)
	if err != nil {
		s.log.Errorw("Failed to create provider checkout", "error", err, "provider", provider, "userID", user.ID)
		// pending-подписку не откатываем: планировщик закроет ее сам
		return nil, fmt.Errorf("checkout: provider failed to create session: %w", err)
	}

	s.metrics.IncCheckoutCreated(string(provider))
	s.log.Infow("Checkout created", "provider", provider, "userID", user.ID, "orderID", orderID)

	return &domain.CheckoutResponse{
		OrderID:     orderID,
		PaymentLink: link,
	}, nil
}

// RequestCancellation запрашивает отмену подписки у ее провайдера.
// Локальный статус здесь не меняется: провайдер подтвердит отмену
// вебхуком, и она пройдет тем же путем согласования, что и остальные
// события.
func (s *CheckoutService) RequestCancellation(ctx context.Context, sub *domain.Subscription) error {
	p, ok := s.providers[sub.Provider]
	if !ok {
		return domain.ErrUnsupportedProvider
	}
	if sub.ProviderSubscriptionID == "" {
		// Провайдер еще не сообщил нам свой идентификатор подписки
		return domain.ErrInvalidTransition
	}

	if err := p.Cancel(ctx, sub.ProviderSubscriptionID); err != nil {
		s.log.Errorw("Failed to request cancellation at provider",
			"error", err, "provider", sub.Provider, "subscriptionID", sub.ID)
		return fmt.Errorf("checkout: provider failed to cancel subscription: %w", err)
	}

	s.log.Infow("Subscription cancellation requested",
		"provider", sub.Provider, "subscriptionID", sub.ID, "userID", sub.UserID)
	return nil
}

// PaymentLinks создает чекауты у всех настроенных провайдеров.
// Пользователь получает по ссылке на каждый способ оплаты.
func (s *CheckoutService) PaymentLinks(ctx context.Context, user *domain.User) (map[domain.Provider]*domain.CheckoutResponse, error) {
	links := make(map[domain.Provider]*domain.CheckoutResponse, len(s.providers))
	for name := range s.providers {
		resp, err := s.CreateCheckout(ctx, user, name)
		if err != nil {
			s.log.Errorw("Failed to create checkout for provider", "error", err, "provider", name, "userID", user.ID)
			continue
		}
		links[name] = resp
	}

	if len(links) == 0 {
		return nil, domain.ErrExternalServiceUnavailable
	}
	return links, nil
}
