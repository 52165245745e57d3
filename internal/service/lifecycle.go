package service

import (
	"context"
	"errors"
	"time"

	"github.com/Dhoini/Membership-service/internal/domain"
	"github.com/Dhoini/Membership-service/internal/metrics"
	"github.com/Dhoini/Membership-service/internal/repository"
	"github.com/Dhoini/Membership-service/pkg/logger"
	"github.com/google/uuid"
)

// allowedTransitions таблица разрешенных переходов статусов.
// Назад по жизненному циклу подписка не движется, единственное
// исключение - past_due -> active при успешном повторном списании.
var allowedTransitions = map[domain.SubscriptionStatus][]domain.SubscriptionStatus{
	domain.SubscriptionStatusPending: {
		domain.SubscriptionStatusActive,
		domain.SubscriptionStatusCancelled,
		domain.SubscriptionStatusExpired,
	},
	domain.SubscriptionStatusActive: {
		domain.SubscriptionStatusPastDue,
		domain.SubscriptionStatusCancelled,
		domain.SubscriptionStatusExpired,
	},
	domain.SubscriptionStatusPastDue: {
		domain.SubscriptionStatusActive,
		domain.SubscriptionStatusCancelled,
		domain.SubscriptionStatusExpired,
	},
	domain.SubscriptionStatusCancelled: {},
	domain.SubscriptionStatusExpired:   {},
}

// CanTransition проверяет, разрешен ли переход между статусами
func CanTransition(from, to domain.SubscriptionStatus) bool {
	for _, allowed := range allowedTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// sourcesFor возвращает все статусы, из которых разрешен переход в to
func sourcesFor(to domain.SubscriptionStatus) []domain.SubscriptionStatus {
	var out []domain.SubscriptionStatus
	for from, targets := range allowedTransitions {
		for _, t := range targets {
			if t == to {
				out = append(out, from)
				break
			}
		}
	}
	return out
}

// LifecycleService управляет жизненным циклом подписки.
// Каждая операция сначала фиксирует переход в хранилище и только потом
// рассылает уведомления и открывает или закрывает доступ к группе:
// упавшая отправка сообщения не должна откатить оплаченную подписку.
type LifecycleService struct {
	subs          repository.SubscriptionRepository
	notifier      Notifier
	group         GroupAccess
	audit         AuditPublisher
	metrics       metrics.SubscriptionMetrics
	log           *logger.Logger
	defaultPeriod time.Duration
}

// NewLifecycleService создает новый сервис жизненного цикла подписок
func NewLifecycleService(
	subs repository.SubscriptionRepository,
	notifier Notifier,
	group GroupAccess,
	audit AuditPublisher,
	m metrics.SubscriptionMetrics,
	defaultPeriod time.Duration,
	log *logger.Logger,
) *LifecycleService {
	return &LifecycleService{
		subs:          subs,
		notifier:      notifier,
		group:         group,
		audit:         audit,
		metrics:       m,
		log:           log,
		defaultPeriod: defaultPeriod,
	}
}

// Activate активирует подписку после подтвержденной оплаты.
// Повторная активация уже активной подписки - no-op.
func (s *LifecycleService) Activate(ctx context.Context, sub *domain.Subscription, event *domain.ProviderEvent) error {
	if sub.Status == domain.SubscriptionStatusActive {
		s.log.Debugw("Subscription already active, activation replay ignored", "subscriptionID", sub.ID)
		return nil
	}
	if sub.IsTerminal() {
		s.log.Warnw("Activation event for terminal subscription ignored",
			"subscriptionID", sub.ID, "status", sub.Status)
		return nil
	}

	now := time.Now()
	fields := repository.TransitionFields{}

	// activated_at выставляется один раз и больше не меняется
	activatedAt := now
	if sub.ActivatedAt != nil {
		activatedAt = *sub.ActivatedAt
	} else {
		fields.ActivatedAt = &activatedAt
	}

	expiresAt := activatedAt.Add(s.defaultPeriod)
	if event != nil && event.PeriodEnd != nil {
		expiresAt = *event.PeriodEnd
	}
	fields.ExpiresAt = &expiresAt

	if event != nil && event.ProviderSubscriptionID != "" && sub.ProviderSubscriptionID == "" {
		fields.ProviderSubscriptionID = &event.ProviderSubscriptionID
	}

	from := []domain.SubscriptionStatus{domain.SubscriptionStatusPending, domain.SubscriptionStatusPastDue}
	applied, err := s.transition(ctx, sub, from, domain.SubscriptionStatusActive, fields)
	if err != nil {
		return err
	}
	if !applied {
		return nil
	}

	s.notifyAsync(Notification{Kind: NotificationActivated, UserID: sub.UserID, Subscription: sub})
	s.grantAsync(sub.UserID)
	return nil
}

// Renew продлевает оплаченный период после очередного успешного списания.
// Для past_due это одновременно возврат в active.
func (s *LifecycleService) Renew(ctx context.Context, sub *domain.Subscription, event *domain.ProviderEvent) error {
	if sub.IsTerminal() {
		s.log.Warnw("Renewal event for terminal subscription ignored",
			"subscriptionID", sub.ID, "status", sub.Status)
		return nil
	}
	if sub.Status == domain.SubscriptionStatusPending {
		// Провайдер прислал продление раньше, чем мы обработали активацию
		return s.Activate(ctx, sub, event)
	}

	now := time.Now()
	var expiresAt time.Time
	switch {
	case event != nil && event.PeriodEnd != nil:
		expiresAt = *event.PeriodEnd
	case sub.ExpiresAt != nil && sub.ExpiresAt.After(now):
		expiresAt = sub.ExpiresAt.Add(s.defaultPeriod)
	default:
		expiresAt = now.Add(s.defaultPeriod)
	}

	fields := repository.TransitionFields{ExpiresAt: &expiresAt}

	// Провайдер мог перевести пользователя на новую подписку на своей
	// стороне, тогда ключ из события принимает текущая запись
	if event != nil && event.ProviderSubscriptionID != "" && event.ProviderSubscriptionID != sub.ProviderSubscriptionID {
		fields.ProviderSubscriptionID = &event.ProviderSubscriptionID
	}

	from := []domain.SubscriptionStatus{domain.SubscriptionStatusActive, domain.SubscriptionStatusPastDue}
	applied, err := s.transition(ctx, sub, from, domain.SubscriptionStatusActive, fields)
	if err != nil {
		return err
	}
	if !applied {
		return nil
	}

	s.notifyAsync(Notification{Kind: NotificationRenewed, UserID: sub.UserID, Subscription: sub})
	return nil
}

// MarkPastDue помечает подписку просроченной после неудачного списания.
// Доступ при этом сохраняется до конца оплаченного периода.
func (s *LifecycleService) MarkPastDue(ctx context.Context, sub *domain.Subscription) error {
	if sub.Status != domain.SubscriptionStatusActive {
		s.log.Debugw("Payment failure for non-active subscription ignored",
			"subscriptionID", sub.ID, "status", sub.Status)
		return nil
	}

	from := []domain.SubscriptionStatus{domain.SubscriptionStatusActive}
	applied, err := s.transition(ctx, sub, from, domain.SubscriptionStatusPastDue, repository.TransitionFields{})
	if err != nil {
		return err
	}
	if !applied {
		return nil
	}

	s.notifyAsync(Notification{Kind: NotificationPaymentFailed, UserID: sub.UserID, Subscription: sub})
	return nil
}

// Cancel отменяет подписку и немедленно закрывает доступ
func (s *LifecycleService) Cancel(ctx context.Context, sub *domain.Subscription) error {
	if sub.IsTerminal() {
		s.log.Debugw("Cancellation of terminal subscription ignored",
			"subscriptionID", sub.ID, "status", sub.Status)
		return nil
	}

	now := time.Now()
	fields := repository.TransitionFields{CancelledAt: &now}
	applied, err := s.transition(ctx, sub, sourcesFor(domain.SubscriptionStatusCancelled), domain.SubscriptionStatusCancelled, fields)
	if err != nil {
		return err
	}
	if !applied {
		return nil
	}

	s.notifyAsync(Notification{Kind: NotificationCancelled, UserID: sub.UserID, Subscription: sub})
	s.revokeAsync(sub.UserID)
	return nil
}

// Expire закрывает подписку по окончании оплаченного периода
func (s *LifecycleService) Expire(ctx context.Context, sub *domain.Subscription) error {
	if sub.IsTerminal() {
		return nil
	}

	applied, err := s.transition(ctx, sub, sourcesFor(domain.SubscriptionStatusExpired), domain.SubscriptionStatusExpired, repository.TransitionFields{})
	if err != nil {
		return err
	}
	if !applied {
		return nil
	}

	s.notifyAsync(Notification{Kind: NotificationExpired, UserID: sub.UserID, Subscription: sub})
	s.revokeAsync(sub.UserID)
	return nil
}

// CreateRecovered создает сразу активную подписку по вебхуку, для которого
// не нашлось чекаута. Такие подписки помечаются для последующего аудита.
func (s *LifecycleService) CreateRecovered(ctx context.Context, event *domain.ProviderEvent) (*domain.Subscription, error) {
	now := time.Now()
	expiresAt := now.Add(s.defaultPeriod)
	if event.PeriodEnd != nil {
		expiresAt = *event.PeriodEnd
	}

	sub := &domain.Subscription{
		ID:                     uuid.New(),
		UserID:                 event.UserID,
		Provider:               event.Provider,
		Status:                 domain.SubscriptionStatusActive,
		OrderID:                event.OrderID,
		ProviderSubscriptionID: event.ProviderSubscriptionID,
		Amount:                 event.Amount,
		Currency:               event.Currency,
		ActivatedAt:            &now,
		ExpiresAt:              &expiresAt,
		Reconciled:             true,
	}

	if err := s.subs.Create(ctx, sub); err != nil {
		return nil, err
	}

	s.log.Warnw("Subscription recovered from webhook without prior checkout",
		"subscriptionID", sub.ID, "userID", sub.UserID, "provider", sub.Provider, "eventID", event.EventID)
	s.metrics.IncReconciliationGap(string(event.Provider))

	if err := s.audit.PublishReconciliationGap(ctx, sub, event); err != nil {
		s.log.Errorw("Failed to publish reconciliation gap audit event", "error", err, "subscriptionID", sub.ID)
	}

	s.notifyAsync(Notification{Kind: NotificationActivated, UserID: sub.UserID, Subscription: sub})
	s.grantAsync(sub.UserID)
	return sub, nil
}

// transition выполняет переход в хранилище и публикует аудит-событие.
// Проигранную гонку (ErrStaleTransition) пересчитывает по свежему статусу:
// если другой обработчик уже привел подписку в целевой статус, переход
// завершается без ошибки, но с applied=false, и уведомления не шлются
// второй раз.
func (s *LifecycleService) transition(ctx context.Context, sub *domain.Subscription, from []domain.SubscriptionStatus, to domain.SubscriptionStatus, fields repository.TransitionFields) (applied bool, err error) {
	prev := sub.Status

	if err := s.subs.Transition(ctx, sub.ID, from, to, fields); err != nil {
		if errors.Is(err, domain.ErrStaleTransition) {
			fresh, getErr := s.subs.GetByID(ctx, sub.ID)
			if getErr == nil && fresh.Status == to {
				s.log.Debugw("Concurrent transition already reached target status",
					"subscriptionID", sub.ID, "status", to)
				*sub = *fresh
				return false, nil
			}
			s.log.Warnw("Subscription transition rejected, status changed concurrently",
				"subscriptionID", sub.ID, "from", prev, "to", to)
		}
		return false, err
	}

	fresh, getErr := s.subs.GetByID(ctx, sub.ID)
	if getErr == nil {
		*sub = *fresh
	}

	s.metrics.IncTransition(string(prev), string(to))
	if err := s.audit.PublishStatusChange(ctx, sub, prev, to); err != nil {
		s.log.Errorw("Failed to publish status change audit event", "error", err, "subscriptionID", sub.ID)
	}

	s.log.Infow("Subscription status changed",
		"subscriptionID", sub.ID, "userID", sub.UserID, "from", prev, "to", to)
	return true, nil
}

func (s *LifecycleService) notifyAsync(n Notification) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := s.notifier.Notify(ctx, n); err != nil {
			s.log.Errorw("Failed to deliver notification", "error", err, "kind", n.Kind, "userID", n.UserID)
		}
	}()
}

func (s *LifecycleService) grantAsync(userID int64) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := s.group.Grant(ctx, userID); err != nil {
			s.log.Errorw("Failed to open group access", "error", err, "userID", userID)
		}
	}()
}

func (s *LifecycleService) revokeAsync(userID int64) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := s.group.Revoke(ctx, userID); err != nil {
			s.log.Errorw("Failed to close group access", "error", err, "userID", userID)
		}
	}()
}
