package paypal

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Dhoini/Membership-service/internal/domain"
)

// Event вебхук-событие PayPal
type Event struct {
	ID         string          `json:"id"`
	EventType  string          `json:"event_type"`
	CreateTime time.Time       `json:"create_time"`
	Resource   json.RawMessage `json:"resource"`
}

// eventResource общие поля ресурсов, которые нас интересуют.
// У billing-событий ресурс - подписка, у платежных - продажа
// со ссылкой на подписку в billing_agreement_id.
type eventResource struct {
	ID                 string `json:"id"`
	CustomID           string `json:"custom_id"`
	Custom             string `json:"custom"`
	BillingAgreementID string `json:"billing_agreement_id"`
	Amount             *struct {
		Total    string `json:"total"`
		Currency string `json:"currency"`
	} `json:"amount"`
	BillingInfo *struct {
		NextBillingTime time.Time `json:"next_billing_time"`
		LastPayment     *struct {
			Amount *struct {
				Value        string `json:"value"`
				CurrencyCode string `json:"currency_code"`
			} `json:"amount"`
		} `json:"last_payment"`
	} `json:"billing_info"`
}

// WebhookVerifier проверяет подлинность вебхука PayPal.
// Вынесен в интерфейс ради тестов обработчика.
type WebhookVerifier interface {
	Verify(ctx context.Context, headers http.Header, body []byte) (*Event, error)
}

type verifyRequest struct {
	AuthAlgo         string          `json:"auth_algo"`
	CertURL          string          `json:"cert_url"`
	TransmissionID   string          `json:"transmission_id"`
	TransmissionSig  string          `json:"transmission_sig"`
	TransmissionTime string          `json:"transmission_time"`
	WebhookID        string          `json:"webhook_id"`
	WebhookEvent     json.RawMessage `json:"webhook_event"`
}

type verifyResponse struct {
	VerificationStatus string `json:"verification_status"`
}

// Verify проверяет подпись вебхука через API PayPal.
// PayPal не дает проверить подпись локально, поэтому каждый вебхук
// подтверждается обратным запросом к verify-webhook-signature.
func (c *Client) Verify(ctx context.Context, headers http.Header, body []byte) (*Event, error) {
	payload := verifyRequest{
		AuthAlgo:         headers.Get("Paypal-Auth-Algo"),
		CertURL:          headers.Get("Paypal-Cert-Url"),
		TransmissionID:   headers.Get("Paypal-Transmission-Id"),
		TransmissionSig:  headers.Get("Paypal-Transmission-Sig"),
		TransmissionTime: headers.Get("Paypal-Transmission-Time"),
		WebhookID:        c.cfg.WebhookID,
		WebhookEvent:     json.RawMessage(body),
	}

	var resp verifyResponse
	if err := c.doJSON(ctx, http.MethodPost, "/v1/notifications/verify-webhook-signature", payload, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrWebhookValidationFailed, err)
	}
	if resp.VerificationStatus != "SUCCESS" {
		return nil, domain.ErrWebhookValidationFailed
	}

	var event Event
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, fmt.Errorf("paypal: failed to parse webhook event: %w", err)
	}
	return &event, nil
}

// Translate приводит событие PayPal к общему виду.
// События, не влияющие на жизненный цикл подписки, получают Kind ignored.
func Translate(event *Event) (*domain.ProviderEvent, error) {
	out := &domain.ProviderEvent{
		Provider:   domain.ProviderPayPal,
		EventID:    event.ID,
		Kind:       domain.EventKindIgnored,
		OccurredAt: event.CreateTime,
	}

	var resource eventResource
	if len(event.Resource) > 0 {
		if err := json.Unmarshal(event.Resource, &resource); err != nil {
			return nil, fmt.Errorf("paypal: failed to parse event resource: %w", err)
		}
	}

	switch event.EventType {
	case "BILLING.SUBSCRIPTION.ACTIVATED":
		out.Kind = domain.EventKindActivation
		out.ProviderSubscriptionID = resource.ID
		if resource.BillingInfo != nil && !resource.BillingInfo.NextBillingTime.IsZero() {
			end := resource.BillingInfo.NextBillingTime
			out.PeriodEnd = &end
		}

	case "PAYMENT.SALE.COMPLETED":
		out.Kind = domain.EventKindRenewal
		out.ProviderSubscriptionID = resource.BillingAgreementID

	case "BILLING.SUBSCRIPTION.PAYMENT.FAILED":
		out.Kind = domain.EventKindPaymentFailure
		out.ProviderSubscriptionID = resource.ID

	case "BILLING.SUBSCRIPTION.CANCELLED", "BILLING.SUBSCRIPTION.EXPIRED", "BILLING.SUBSCRIPTION.SUSPENDED":
		out.Kind = domain.EventKindCancellation
		out.ProviderSubscriptionID = resource.ID
	}

	customID := resource.CustomID
	if customID == "" {
		customID = resource.Custom
	}
	if userID, orderID, ok := DecodeCustomID(customID); ok {
		out.UserID = userID
		out.OrderID = orderID
	}

	fillAmount(out, &resource)

	return out, nil
}

// fillAmount извлекает сумму платежа. У продаж она лежит в amount,
// у billing-подписок в billing_info.last_payment.
func fillAmount(out *domain.ProviderEvent, resource *eventResource) {
	switch {
	case resource.Amount != nil:
		if v, err := strconv.ParseFloat(resource.Amount.Total, 64); err == nil {
			out.Amount = v
			out.Currency = resource.Amount.Currency
		}
	case resource.BillingInfo != nil && resource.BillingInfo.LastPayment != nil && resource.BillingInfo.LastPayment.Amount != nil:
		if v, err := strconv.ParseFloat(resource.BillingInfo.LastPayment.Amount.Value, 64); err == nil {
			out.Amount = v
			out.Currency = resource.BillingInfo.LastPayment.Amount.CurrencyCode
		}
	}
}

// DecodeCustomID распаковывает ключи привязки из custom_id PayPal
func DecodeCustomID(customID string) (userID int64, orderID string, ok bool) {
	if customID == "" {
		return 0, "", false
	}

	parts := strings.SplitN(customID, ":", 2)
	userID, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, "", false
	}
	if len(parts) == 2 {
		orderID = parts[1]
	}
	return userID, orderID, true
}
