package domain

import (
	"time"

	"github.com/google/uuid"
)

// SubscriptionStatus статус подписки
type SubscriptionStatus string

const (
	// SubscriptionStatusPending чекаут создан, оплата еще не подтверждена
	SubscriptionStatusPending SubscriptionStatus = "pending"

	// SubscriptionStatusActive оплата подтверждена, доступ открыт
	SubscriptionStatusActive SubscriptionStatus = "active"

	// SubscriptionStatusPastDue очередное списание не прошло, доступ пока сохранен
	SubscriptionStatusPastDue SubscriptionStatus = "past_due"

	// SubscriptionStatusCancelled подписка отменена пользователем или провайдером
	SubscriptionStatusCancelled SubscriptionStatus = "cancelled"

	// SubscriptionStatusExpired оплаченный период закончился, доступ закрыт
	SubscriptionStatusExpired SubscriptionStatus = "expired"
)

// Provider платежный провайдер
type Provider string

const (
	ProviderStripe Provider = "stripe"
	ProviderPayPal Provider = "paypal"
)

// Subscription представляет собой модель подписки
type Subscription struct {
	ID                     uuid.UUID          `json:"id" db:"id"`
	UserID                 int64              `json:"user_id" db:"user_id"`
	Provider               Provider           `json:"provider" db:"provider"`
	Status                 SubscriptionStatus `json:"status" db:"status"`
	OrderID                string             `json:"order_id" db:"order_id"`
	ProviderSubscriptionID string             `json:"provider_subscription_id,omitempty" db:"provider_subscription_id"`
	Amount                 float64            `json:"amount" db:"amount"`
	Currency               string             `json:"currency" db:"currency"`
	ActivatedAt            *time.Time         `json:"activated_at,omitempty" db:"activated_at"`
	ExpiresAt              *time.Time         `json:"expires_at,omitempty" db:"expires_at"`
	CancelledAt            *time.Time         `json:"cancelled_at,omitempty" db:"cancelled_at"`
	LastNudgeAt            *time.Time         `json:"last_nudge_at,omitempty" db:"last_nudge_at"`
	NudgeCount             int                `json:"nudge_count" db:"nudge_count"`
	LastWarningAt          *time.Time         `json:"last_warning_at,omitempty" db:"last_warning_at"`
	Reconciled             bool               `json:"reconciled" db:"reconciled"`
	CreatedAt              time.Time          `json:"created_at" db:"created_at"`
	UpdatedAt              time.Time          `json:"updated_at" db:"updated_at"`
}

// HasAccess сообщает, дает ли подписка доступ в данный момент.
// Доступ есть у active и past_due, пока не истек оплаченный период.
func (s *Subscription) HasAccess(now time.Time) bool {
	if s.Status != SubscriptionStatusActive && s.Status != SubscriptionStatusPastDue {
		return false
	}
	if s.ExpiresAt == nil {
		return true
	}
	return now.Before(*s.ExpiresAt)
}

// IsTerminal сообщает, достигла ли подписка конечного статуса
func (s *Subscription) IsTerminal() bool {
	return s.Status == SubscriptionStatusCancelled || s.Status == SubscriptionStatusExpired
}

// CheckoutResponse ссылка на оплату для пользователя
type CheckoutResponse struct {
	OrderID     string `json:"order_id"`
	PaymentLink string `json:"payment_link"`
}
