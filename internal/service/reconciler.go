package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/Dhoini/Membership-service/internal/domain"
	"github.com/Dhoini/Membership-service/internal/metrics"
	"github.com/Dhoini/Membership-service/internal/repository"
	"github.com/Dhoini/Membership-service/pkg/logger"
)

// ReconcilerService приводит локальное состояние подписок в соответствие
// с событиями платежных провайдеров. Событие к этому моменту уже прошло
// проверку подписи, здесь решается только, к какой подписке оно относится
// и что с ней делать.
type ReconcilerService struct {
	subs      repository.SubscriptionRepository
	events    repository.EventLog
	lifecycle *LifecycleService
	metrics   metrics.SubscriptionMetrics
	log       *logger.Logger
}

// NewReconcilerService создает новый сервис согласования
func NewReconcilerService(
	subs repository.SubscriptionRepository,
	events repository.EventLog,
	lifecycle *LifecycleService,
	m metrics.SubscriptionMetrics,
	log *logger.Logger,
) *ReconcilerService {
	return &ReconcilerService{
		subs:      subs,
		events:    events,
		lifecycle: lifecycle,
		metrics:   m,
		log:       log,
	}
}

// Apply применяет событие провайдера к подпискам.
// Повтор уже обработанного события и события, не влияющие на жизненный
// цикл, завершаются без изменений. Событие без единого ключа привязки
// никогда не применяется наугад - возвращается ErrMissingCorrelation.
func (r *ReconcilerService) Apply(ctx context.Context, event *domain.ProviderEvent) error {
	if event.Kind == domain.EventKindIgnored {
		return nil
	}

	r.metrics.IncWebhookReceived(string(event.Provider), string(event.Kind))

	if !event.HasCorrelation() {
		r.metrics.IncWebhookRejected(string(event.Provider), "missing_correlation")
		r.log.Errorw("Provider event carries no correlation keys",
			"provider", event.Provider, "eventID", event.EventID, "kind", event.Kind)
		return domain.ErrMissingCorrelation
	}

	if err := r.events.MarkProcessed(ctx, event.Provider, event.EventID); err != nil {
		if errors.Is(err, domain.ErrEventAlreadyProcessed) {
			r.log.Infow("Provider event replay ignored",
				"provider", event.Provider, "eventID", event.EventID)
			return nil
		}
		return fmt.Errorf("reconciler: failed to mark event processed: %w", err)
	}

	if err := r.applyMarked(ctx, event); err != nil {
		// Отметка уже стоит, а переход не зафиксирован. Снимаем ее,
		// иначе повторная доставка будет проглочена как дубль и
		// оплаченное событие потеряется.
		if forgetErr := r.events.Forget(ctx, event.Provider, event.EventID); forgetErr != nil {
			r.log.Errorw("Failed to release event dedup record after error",
				"error", forgetErr, "provider", event.Provider, "eventID", event.EventID)
		}
		return err
	}
	return nil
}

// applyMarked привязывает уже отмеченное в журнале событие к подписке
// и применяет его
func (r *ReconcilerService) applyMarked(ctx context.Context, event *domain.ProviderEvent) error {
	sub, err := r.subs.FindByAnyKey(ctx, repository.LookupKey{
		Provider:               event.Provider,
		ProviderSubscriptionID: event.ProviderSubscriptionID,
		OrderID:                event.OrderID,
		UserID:                 event.UserID,
	})
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return r.applyToMissing(ctx, event)
		}
		return fmt.Errorf("reconciler: failed to look up subscription: %w", err)
	}

	switch event.Kind {
	case domain.EventKindActivation:
		return r.lifecycle.Activate(ctx, sub, event)
	case domain.EventKindRenewal:
		return r.lifecycle.Renew(ctx, sub, event)
	case domain.EventKindPaymentFailure:
		return r.lifecycle.MarkPastDue(ctx, sub)
	case domain.EventKindCancellation:
		return r.lifecycle.Cancel(ctx, sub)
	default:
		r.log.Warnw("Unknown provider event kind",
			"provider", event.Provider, "eventID", event.EventID, "kind", event.Kind)
		return nil
	}
}

// applyToMissing обрабатывает событие, для которого не нашлось подписки.
// Успешная оплата без чекаута означает, что мы потеряли свою запись:
// подписка восстанавливается по данным события. Отмена или неудачное
// списание без подписки менять нечего.
func (r *ReconcilerService) applyToMissing(ctx context.Context, event *domain.ProviderEvent) error {
	switch event.Kind {
	case domain.EventKindActivation, domain.EventKindRenewal:
		if event.UserID == 0 {
			// Без пользователя восстановить подписку некому
			r.metrics.IncWebhookRejected(string(event.Provider), "missing_correlation")
			r.log.Errorw("Cannot recover subscription: event has no user",
				"provider", event.Provider, "eventID", event.EventID)
			return domain.ErrMissingCorrelation
		}

		// Если у пользователя уже есть действующая подписка, незнакомый
		// ключ провайдера присваивается ей. Вторая активная подписка
		// на одного пользователя не создается никогда.
		existing, err := r.subs.ActiveSubscriptionFor(ctx, event.UserID)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("reconciler: failed to look up active subscription: %w", err)
		}
		if existing != nil {
			r.log.Warnw("Event with unknown provider keys matched user's current subscription",
				"provider", event.Provider, "eventID", event.EventID,
				"subscriptionID", existing.ID, "userID", event.UserID)
			return r.lifecycle.Renew(ctx, existing, event)
		}

		_, err = r.lifecycle.CreateRecovered(ctx, event)
		return err
	case domain.EventKindPaymentFailure, domain.EventKindCancellation:
		r.log.Warnw("Provider event for unknown subscription ignored",
			"provider", event.Provider, "eventID", event.EventID, "kind", event.Kind)
		return nil
	default:
		return nil
	}
}
