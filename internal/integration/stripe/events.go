package stripe

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/Dhoini/Membership-service/internal/domain"
	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/webhook"
)

// WebhookVerifier проверяет подпись вебхука и разбирает событие.
// Вынесен в интерфейс, чтобы обработчик можно было тестировать
// без настоящих подписей Stripe.
type WebhookVerifier interface {
	Verify(payload []byte, signature string) (stripe.Event, error)
}

// Verifier проверяет подписи вебхуков Stripe
type Verifier struct {
	secret string
}

// NewVerifier создает новый верификатор вебхуков
func NewVerifier(webhookSecret string) *Verifier {
	return &Verifier{secret: webhookSecret}
}

// Verify проверяет подпись и возвращает событие
func (v *Verifier) Verify(payload []byte, signature string) (stripe.Event, error) {
	event, err := webhook.ConstructEvent(payload, signature, v.secret)
	if err != nil {
		return stripe.Event{}, fmt.Errorf("%w: %v", domain.ErrWebhookValidationFailed, err)
	}
	return event, nil
}

// Translate приводит событие Stripe к общему виду.
// События, не влияющие на жизненный цикл подписки, получают Kind ignored.
func Translate(event stripe.Event) (*domain.ProviderEvent, error) {
	out := &domain.ProviderEvent{
		Provider:   domain.ProviderStripe,
		EventID:    event.ID,
		Kind:       domain.EventKindIgnored,
		OccurredAt: time.Unix(event.Created, 0),
	}

	switch event.Type {
	case "checkout.session.completed":
		var session stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			return nil, fmt.Errorf("stripe: failed to parse checkout session: %w", err)
		}
		out.Kind = domain.EventKindActivation
		out.OrderID = session.ClientReferenceID
		out.UserID = userIDFromMetadata(session.Metadata)
		if session.Subscription != nil {
			out.ProviderSubscriptionID = session.Subscription.ID
		}
		if session.AmountTotal > 0 {
			out.Amount = float64(session.AmountTotal) / 100
			out.Currency = string(session.Currency)
		}

	case "invoice.payment_succeeded":
		var invoice stripe.Invoice
		if err := json.Unmarshal(event.Data.Raw, &invoice); err != nil {
			return nil, fmt.Errorf("stripe: failed to parse invoice: %w", err)
		}
		switch invoice.BillingReason {
		case stripe.InvoiceBillingReasonSubscriptionCreate:
			out.Kind = domain.EventKindActivation
		case stripe.InvoiceBillingReasonSubscriptionCycle:
			out.Kind = domain.EventKindRenewal
		default:
			return out, nil
		}
		fillFromInvoice(out, &invoice)

	case "invoice.payment_failed":
		var invoice stripe.Invoice
		if err := json.Unmarshal(event.Data.Raw, &invoice); err != nil {
			return nil, fmt.Errorf("stripe: failed to parse invoice: %w", err)
		}
		out.Kind = domain.EventKindPaymentFailure
		fillFromInvoice(out, &invoice)

	case "customer.subscription.deleted":
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return nil, fmt.Errorf("stripe: failed to parse subscription: %w", err)
		}
		out.Kind = domain.EventKindCancellation
		out.ProviderSubscriptionID = sub.ID
		out.UserID = userIDFromMetadata(sub.Metadata)
		out.OrderID = sub.Metadata[metadataOrderIDKey]
	}

	return out, nil
}

// fillFromInvoice извлекает ключи привязки, сумму и конец оплаченного периода
func fillFromInvoice(out *domain.ProviderEvent, invoice *stripe.Invoice) {
	if invoice.Subscription != nil {
		out.ProviderSubscriptionID = invoice.Subscription.ID
	}
	// Stripe считает в минимальных единицах валюты
	amount := invoice.AmountPaid
	if amount == 0 {
		amount = invoice.AmountDue
	}
	if amount > 0 {
		out.Amount = float64(amount) / 100
		out.Currency = string(invoice.Currency)
	}
	if invoice.SubscriptionDetails != nil {
		out.UserID = userIDFromMetadata(invoice.SubscriptionDetails.Metadata)
		if out.OrderID == "" {
			out.OrderID = invoice.SubscriptionDetails.Metadata[metadataOrderIDKey]
		}
	}
	if invoice.Lines != nil && len(invoice.Lines.Data) > 0 {
		line := invoice.Lines.Data[0]
		if line.Period != nil && line.Period.End > 0 {
			end := time.Unix(line.Period.End, 0)
			out.PeriodEnd = &end
		}
	}
}

func userIDFromMetadata(meta map[string]string) int64 {
	raw, ok := meta[metadataUserIDKey]
	if !ok {
		return 0
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0
	}
	return id
}
