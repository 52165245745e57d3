package service

import (
	"context"

	"github.com/Dhoini/Membership-service/internal/domain"
)

// NotificationKind тип уведомления пользователю
type NotificationKind string

const (
	// NotificationActivated подписка оплачена, доступ открыт
	NotificationActivated NotificationKind = "activated"

	// NotificationRenewed очередное списание прошло, период продлен
	NotificationRenewed NotificationKind = "renewed"

	// NotificationPaymentFailed списание не прошло
	NotificationPaymentFailed NotificationKind = "payment_failed"

	// NotificationCancelled подписка отменена
	NotificationCancelled NotificationKind = "cancelled"

	// NotificationExpiringSoon оплаченный период скоро закончится
	NotificationExpiringSoon NotificationKind = "expiring_soon"

	// NotificationExpired период закончился, доступ закрыт
	NotificationExpired NotificationKind = "expired"

	// NotificationNudge напоминание о неоплаченном чекауте
	NotificationNudge NotificationKind = "nudge"
)

// Notification уведомление пользователю о смене состояния подписки
type Notification struct {
	Kind         NotificationKind
	UserID       int64
	Subscription *domain.Subscription
}

// Notifier отправляет уведомления пользователям.
// Ошибки доставки не влияют на жизненный цикл подписки: статус уже
// зафиксирован в хранилище к моменту отправки.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// GroupAccess управляет членством пользователя в закрытой группе
type GroupAccess interface {
	// Grant открывает пользователю вход в группу
	Grant(ctx context.Context, userID int64) error

	// Revoke удаляет пользователя из группы
	Revoke(ctx context.Context, userID int64) error
}

// AuditPublisher публикует аудит-события жизненного цикла подписок
type AuditPublisher interface {
	// PublishStatusChange публикует смену статуса подписки
	PublishStatusChange(ctx context.Context, sub *domain.Subscription, from, to domain.SubscriptionStatus) error

	// PublishReconciliationGap публикует факт создания подписки по вебхуку
	// без предшествующего чекаута
	PublishReconciliationGap(ctx context.Context, sub *domain.Subscription, event *domain.ProviderEvent) error
}

// NopNotifier заглушка Notifier
type NopNotifier struct{}

// Notify ничего не делает
func (NopNotifier) Notify(context.Context, Notification) error { return nil }

// NopGroupAccess заглушка GroupAccess
type NopGroupAccess struct{}

// Grant ничего не делает
func (NopGroupAccess) Grant(context.Context, int64) error { return nil }

// Revoke ничего не делает
func (NopGroupAccess) Revoke(context.Context, int64) error { return nil }

// NopAuditPublisher заглушка AuditPublisher
type NopAuditPublisher struct{}

// PublishStatusChange ничего не делает
func (NopAuditPublisher) PublishStatusChange(context.Context, *domain.Subscription, domain.SubscriptionStatus, domain.SubscriptionStatus) error {
	return nil
}

// PublishReconciliationGap ничего не делает
func (NopAuditPublisher) PublishReconciliationGap(context.Context, *domain.Subscription, *domain.ProviderEvent) error {
	return nil
}
