package domain

import "time"

// EventKind нормализованный тип события от платежного провайдера
type EventKind string

const (
	// EventKindActivation первая успешная оплата, подписку нужно активировать
	EventKindActivation EventKind = "activation"

	// EventKindRenewal успешное очередное списание, период нужно продлить
	EventKindRenewal EventKind = "renewal"

	// EventKindPaymentFailure списание не прошло
	EventKindPaymentFailure EventKind = "payment_failure"

	// EventKindCancellation подписка отменена на стороне провайдера
	EventKindCancellation EventKind = "cancellation"

	// EventKindIgnored событие не влияет на жизненный цикл подписки
	EventKindIgnored EventKind = "ignored"
)

// ProviderEvent событие провайдера, приведенное к общему виду.
// Оба провайдера транслируют свои вебхуки в эту структуру, дальше
// весь жизненный цикл работает только с ней.
type ProviderEvent struct {
	Provider               Provider  `json:"provider"`
	EventID                string    `json:"event_id"`
	Kind                   EventKind `json:"kind"`
	UserID                 int64     `json:"user_id,omitempty"`
	OrderID                string    `json:"order_id,omitempty"`
	ProviderSubscriptionID string    `json:"provider_subscription_id,omitempty"`
	Amount                 float64   `json:"amount,omitempty"`
	Currency               string    `json:"currency,omitempty"`
	PeriodEnd              *time.Time `json:"period_end,omitempty"`
	OccurredAt             time.Time `json:"occurred_at"`
}

// HasCorrelation сообщает, есть ли в событии хоть один ключ,
// по которому его можно привязать к подписке
func (e *ProviderEvent) HasCorrelation() bool {
	return e.ProviderSubscriptionID != "" || e.OrderID != "" || e.UserID != 0
}
