package paypal

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/Dhoini/Membership-service/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func paypalEvent(eventType, resource string) *Event {
	return &Event{
		ID:         "WH-TEST",
		EventType:  eventType,
		CreateTime: time.Now(),
		Resource:   json.RawMessage(resource),
	}
}

func TestTranslateSubscriptionActivated(t *testing.T) {
	event := paypalEvent("BILLING.SUBSCRIPTION.ACTIVATED", `{
		"id": "I-ABC123",
		"custom_id": "7:order-1",
		"billing_info": {
			"next_billing_time": "2026-10-01T00:00:00Z",
			"last_payment": {"amount": {"value": "9.99", "currency_code": "USD"}}
		}
	}`)

	got, err := Translate(event)
	require.NoError(t, err)
	assert.Equal(t, domain.ProviderPayPal, got.Provider)
	assert.Equal(t, domain.EventKindActivation, got.Kind)
	assert.Equal(t, "I-ABC123", got.ProviderSubscriptionID)
	assert.Equal(t, int64(7), got.UserID)
	assert.Equal(t, "order-1", got.OrderID)
	assert.Equal(t, 9.99, got.Amount)
	assert.Equal(t, "USD", got.Currency)
	require.NotNil(t, got.PeriodEnd)
	assert.Equal(t, time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC), got.PeriodEnd.UTC())
}

func TestTranslateSaleCompleted(t *testing.T) {
	event := paypalEvent("PAYMENT.SALE.COMPLETED", `{
		"id": "SALE-1",
		"billing_agreement_id": "I-ABC123",
		"custom": "7:order-1",
		"amount": {"total": "9.99", "currency": "USD"}
	}`)

	got, err := Translate(event)
	require.NoError(t, err)
	assert.Equal(t, domain.EventKindRenewal, got.Kind)
	assert.Equal(t, "I-ABC123", got.ProviderSubscriptionID)
	assert.Equal(t, int64(7), got.UserID)
	assert.Equal(t, "order-1", got.OrderID)
	assert.Equal(t, 9.99, got.Amount)
	assert.Equal(t, "USD", got.Currency)
}

func TestTranslatePaymentFailed(t *testing.T) {
	event := paypalEvent("BILLING.SUBSCRIPTION.PAYMENT.FAILED", `{"id": "I-ABC123"}`)

	got, err := Translate(event)
	require.NoError(t, err)
	assert.Equal(t, domain.EventKindPaymentFailure, got.Kind)
	assert.Equal(t, "I-ABC123", got.ProviderSubscriptionID)
}

func TestTranslateTerminalStates(t *testing.T) {
	for _, eventType := range []string{
		"BILLING.SUBSCRIPTION.CANCELLED",
		"BILLING.SUBSCRIPTION.EXPIRED",
		"BILLING.SUBSCRIPTION.SUSPENDED",
	} {
		got, err := Translate(paypalEvent(eventType, `{"id": "I-ABC123"}`))
		require.NoError(t, err, eventType)
		assert.Equal(t, domain.EventKindCancellation, got.Kind, eventType)
	}
}

func TestTranslateUnknownType(t *testing.T) {
	got, err := Translate(paypalEvent("CUSTOMER.DISPUTE.CREATED", `{"id": "D-1"}`))
	require.NoError(t, err)
	assert.Equal(t, domain.EventKindIgnored, got.Kind)
	assert.Equal(t, "WH-TEST", got.EventID)
}

func TestCustomIDRoundtrip(t *testing.T) {
	userID, orderID, ok := DecodeCustomID(EncodeCustomID(42, "order-9"))
	require.True(t, ok)
	assert.Equal(t, int64(42), userID)
	assert.Equal(t, "order-9", orderID)
}

func TestDecodeCustomID(t *testing.T) {
	_, _, ok := DecodeCustomID("")
	assert.False(t, ok)

	_, _, ok = DecodeCustomID("not-a-number:order-1")
	assert.False(t, ok)

	userID, orderID, ok := DecodeCustomID("7")
	require.True(t, ok)
	assert.Equal(t, int64(7), userID)
	assert.Empty(t, orderID)
}
