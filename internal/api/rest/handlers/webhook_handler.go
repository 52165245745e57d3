package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/Dhoini/Membership-service/internal/domain"
	"github.com/Dhoini/Membership-service/internal/integration/paypal"
	"github.com/Dhoini/Membership-service/internal/integration/stripe"
	"github.com/Dhoini/Membership-service/internal/metrics"
	"github.com/Dhoini/Membership-service/internal/service"
	"github.com/Dhoini/Membership-service/pkg/logger"
	"github.com/Dhoini/Membership-service/pkg/res"
	"github.com/gin-gonic/gin"
)

// Ограничение на размер тела запроса вебхука
const maxRequestBodySize = int64(65536)

// WebhookHandler принимает вебхуки платежных провайдеров.
// Непроверенная подпись - это 400 без обработки. Проверенное событие
// транслируется в общий вид и уходит в согласование.
type WebhookHandler struct {
	reconciler     *service.ReconcilerService
	stripeVerifier stripe.WebhookVerifier
	paypalVerifier paypal.WebhookVerifier
	metrics        metrics.SubscriptionMetrics
	log            *logger.Logger
}

// NewWebhookHandler создает новый обработчик вебхуков
func NewWebhookHandler(
	reconciler *service.ReconcilerService,
	stripeVerifier stripe.WebhookVerifier,
	paypalVerifier paypal.WebhookVerifier,
	m metrics.SubscriptionMetrics,
	log *logger.Logger,
) *WebhookHandler {
	return &WebhookHandler{
		reconciler:     reconciler,
		stripeVerifier: stripeVerifier,
		paypalVerifier: paypalVerifier,
		metrics:        m,
		log:            log,
	}
}

// readBody читает тело вебхука с ограничением размера
func (h *WebhookHandler) readBody(c *gin.Context) ([]byte, bool) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxRequestBodySize)
	payload, err := io.ReadAll(c.Request.Body)
	defer c.Request.Body.Close()

	if err != nil {
		h.log.Errorw("Failed to read webhook request body", "error", err)
		res.JsonResponse(c.Writer, res.ErrorResponse{Error: "Cannot read request body"}, http.StatusBadRequest)
		c.Abort()
		return nil, false
	}
	return payload, true
}

// HandleStripeWebhook принимает вебхуки Stripe
func (h *WebhookHandler) HandleStripeWebhook(c *gin.Context) {
	payload, ok := h.readBody(c)
	if !ok {
		return
	}

	sigHeader := c.GetHeader("Stripe-Signature")
	if sigHeader == "" {
		h.log.Warnw("Missing Stripe-Signature header")
		h.metrics.IncWebhookRejected(string(domain.ProviderStripe), "missing_signature")
		res.JsonResponse(c.Writer, res.ErrorResponse{Error: "Missing Stripe-Signature header"}, http.StatusBadRequest)
		c.Abort()
		return
	}

	stripeEvent, err := h.stripeVerifier.Verify(payload, sigHeader)
	if err != nil {
		h.log.Errorw("Stripe webhook signature verification failed", "error", err)
		h.metrics.IncWebhookRejected(string(domain.ProviderStripe), "bad_signature")
		res.JsonResponse(c.Writer, res.ErrorResponse{Error: "Webhook signature verification failed"}, http.StatusBadRequest)
		c.Abort()
		return
	}

	h.log.Infow("Received verified Stripe event", "eventID", stripeEvent.ID, "eventType", stripeEvent.Type)

	event, err := stripe.Translate(stripeEvent)
	if err != nil {
		h.log.Errorw("Failed to translate Stripe event", "error", err, "eventID", stripeEvent.ID)
		res.JsonResponse(c.Writer, res.ErrorResponse{Error: "Failed to parse event data"}, http.StatusBadRequest)
		c.Abort()
		return
	}

	h.apply(c, event)
}

// HandlePayPalWebhook принимает вебхуки PayPal
func (h *WebhookHandler) HandlePayPalWebhook(c *gin.Context) {
	payload, ok := h.readBody(c)
	if !ok {
		return
	}

	paypalEvent, err := h.paypalVerifier.Verify(c.Request.Context(), c.Request.Header, payload)
	if err != nil {
		h.log.Errorw("PayPal webhook verification failed", "error", err)
		h.metrics.IncWebhookRejected(string(domain.ProviderPayPal), "bad_signature")
		res.JsonResponse(c.Writer, res.ErrorResponse{Error: "Webhook verification failed"}, http.StatusBadRequest)
		c.Abort()
		return
	}

	h.log.Infow("Received verified PayPal event", "eventID", paypalEvent.ID, "eventType", paypalEvent.EventType)

	event, err := paypal.Translate(paypalEvent)
	if err != nil {
		h.log.Errorw("Failed to translate PayPal event", "error", err, "eventID", paypalEvent.ID)
		res.JsonResponse(c.Writer, res.ErrorResponse{Error: "Failed to parse event data"}, http.StatusBadRequest)
		c.Abort()
		return
	}

	h.apply(c, event)
}

// apply передает событие в согласование и отвечает провайдеру.
// Событие без ключей привязки подтверждается со статусом ignored:
// повторная доставка ничего не изменит, а факт уже зафиксирован
// в логах и метриках. Внутренняя ошибка - это 500, пусть провайдер
// пришлет событие еще раз.
func (h *WebhookHandler) apply(c *gin.Context, event *domain.ProviderEvent) {
	err := h.reconciler.Apply(c.Request.Context(), event)
	if err != nil {
		if errors.Is(err, domain.ErrMissingCorrelation) {
			c.JSON(http.StatusOK, gin.H{"status": "ignored"})
			return
		}
		h.log.Errorw("Error processing webhook event", "error", err,
			"provider", event.Provider, "eventID", event.EventID, "kind", event.Kind)
		res.JsonResponse(c.Writer, res.ErrorResponse{Error: "Internal server error processing webhook"}, http.StatusInternalServerError)
		c.Abort()
		return
	}

	c.Status(http.StatusOK)
}
