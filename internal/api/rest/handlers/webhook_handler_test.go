package handlers

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Dhoini/Membership-service/internal/domain"
	"github.com/Dhoini/Membership-service/internal/integration/paypal"
	"github.com/Dhoini/Membership-service/internal/metrics"
	"github.com/Dhoini/Membership-service/internal/repository"
	"github.com/Dhoini/Membership-service/internal/service"
	"github.com/Dhoini/Membership-service/pkg/logger"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	stripesdk "github.com/stripe/stripe-go/v78"
)

// stubStripeVerifier отдает заранее заготовленное событие вместо проверки подписи
type stubStripeVerifier struct {
	event stripesdk.Event
	err   error
}

func (s *stubStripeVerifier) Verify([]byte, string) (stripesdk.Event, error) {
	return s.event, s.err
}

type stubPayPalVerifier struct {
	event *paypal.Event
	err   error
}

func (s *stubPayPalVerifier) Verify(context.Context, http.Header, []byte) (*paypal.Event, error) {
	return s.event, s.err
}

type webhookEnv struct {
	subs    repository.SubscriptionRepository
	handler *WebhookHandler
	stripe  *stubStripeVerifier
	paypal  *stubPayPalVerifier
}

func newWebhookEnv() *webhookEnv {
	gin.SetMode(gin.TestMode)
	log := logger.New(logger.ERROR)
	m := metrics.NewSubscriptionMetrics(prometheus.NewRegistry(), log)

	subs := repository.NewMemorySubscriptionRepository(log)
	lifecycle := service.NewLifecycleService(
		subs, service.NopNotifier{}, service.NopGroupAccess{}, service.NopAuditPublisher{},
		m, 30*24*time.Hour, log,
	)
	reconciler := service.NewReconcilerService(subs, repository.NewMemoryEventLog(log), lifecycle, m, log)

	stripeVerifier := &stubStripeVerifier{}
	paypalVerifier := &stubPayPalVerifier{}

	return &webhookEnv{
		subs:    subs,
		handler: NewWebhookHandler(reconciler, stripeVerifier, paypalVerifier, m, log),
		stripe:  stripeVerifier,
		paypal:  paypalVerifier,
	}
}

func (e *webhookEnv) router() *gin.Engine {
	r := gin.New()
	r.POST("/webhooks/stripe", e.handler.HandleStripeWebhook)
	r.POST("/webhooks/paypal", e.handler.HandlePayPalWebhook)
	return r
}

func postWebhook(r *gin.Engine, path string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(`{}`))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestStripeWebhookMissingSignature(t *testing.T) {
	e := newWebhookEnv()

	w := postWebhook(e.router(), "/webhooks/stripe", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStripeWebhookBadSignature(t *testing.T) {
	e := newWebhookEnv()
	e.stripe.err = domain.ErrWebhookValidationFailed

	w := postWebhook(e.router(), "/webhooks/stripe", map[string]string{"Stripe-Signature": "t=1,v1=bad"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStripeWebhookActivatesSubscription(t *testing.T) {
	e := newWebhookEnv()
	ctx := context.Background()

	sub := &domain.Subscription{
		ID:       uuid.New(),
		UserID:   7,
		Provider: domain.ProviderStripe,
		Status:   domain.SubscriptionStatusPending,
		OrderID:  "order-1",
	}
	require.NoError(t, e.subs.Create(ctx, sub))

	e.stripe.event = stripesdk.Event{
		ID:      "evt_1",
		Type:    "checkout.session.completed",
		Created: time.Now().Unix(),
		Data:    &stripesdk.EventData{Raw: []byte(`{"client_reference_id": "order-1", "metadata": {"user_id": "7"}}`)},
	}

	w := postWebhook(e.router(), "/webhooks/stripe", map[string]string{"Stripe-Signature": "t=1,v1=ok"})
	assert.Equal(t, http.StatusOK, w.Code)

	got, err := e.subs.GetByID(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionStatusActive, got.Status)
}

func TestStripeWebhookWithoutCorrelationIsAcknowledged(t *testing.T) {
	e := newWebhookEnv()

	// Событие без единого ключа привязки: отвечаем 200,
	// чтобы провайдер не слал его бесконечно
	e.stripe.event = stripesdk.Event{
		ID:      "evt_1",
		Type:    "checkout.session.completed",
		Created: time.Now().Unix(),
		Data:    &stripesdk.EventData{Raw: []byte(`{}`)},
	}

	w := postWebhook(e.router(), "/webhooks/stripe", map[string]string{"Stripe-Signature": "t=1,v1=ok"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "ignored")
}

func TestPayPalWebhookBadSignature(t *testing.T) {
	e := newWebhookEnv()
	e.paypal.err = domain.ErrWebhookValidationFailed

	w := postWebhook(e.router(), "/webhooks/paypal", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPayPalWebhookCancelsSubscription(t *testing.T) {
	e := newWebhookEnv()
	ctx := context.Background()

	activated := time.Now().Add(-time.Hour)
	expires := time.Now().Add(24 * time.Hour)
	sub := &domain.Subscription{
		ID:                     uuid.New(),
		UserID:                 7,
		Provider:               domain.ProviderPayPal,
		Status:                 domain.SubscriptionStatusActive,
		OrderID:                "order-1",
		ProviderSubscriptionID: "I-ABC123",
		ActivatedAt:            &activated,
		ExpiresAt:              &expires,
	}
	require.NoError(t, e.subs.Create(ctx, sub))

	e.paypal.event = &paypal.Event{
		ID:         "WH-1",
		EventType:  "BILLING.SUBSCRIPTION.CANCELLED",
		CreateTime: time.Now(),
		Resource:   []byte(`{"id": "I-ABC123"}`),
	}

	w := postWebhook(e.router(), "/webhooks/paypal", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	got, err := e.subs.GetByID(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionStatusCancelled, got.Status)
}
