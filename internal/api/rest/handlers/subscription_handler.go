package handlers

import (
	"errors"
	"net/http"

	"github.com/Dhoini/Membership-service/internal/api/rest/middleware"
	"github.com/Dhoini/Membership-service/internal/domain"
	"github.com/Dhoini/Membership-service/internal/integration/telegram"
	"github.com/Dhoini/Membership-service/internal/service"
	"github.com/Dhoini/Membership-service/pkg/logger"
	"github.com/Dhoini/Membership-service/pkg/req"
	"github.com/Dhoini/Membership-service/pkg/res"
	"github.com/gin-gonic/gin"
)

// CheckoutRequest запрос на создание чекаута.
// Чекаут доступен до покупки, поэтому авторизация идет по initData,
// а не по токену участника.
type CheckoutRequest struct {
	InitData string `json:"init_data" validate:"required"`
	Provider string `json:"provider" validate:"omitempty,oneof=stripe paypal"`
}

// CheckoutResponse ссылки на оплату по провайдерам
type CheckoutResponse struct {
	Links map[string]string `json:"links"`
}

// StatusResponse текущее состояние подписки пользователя
type StatusResponse struct {
	HasAccess    bool                 `json:"has_access"`
	Subscription *domain.Subscription `json:"subscription,omitempty"`
}

// SubscriptionHandler обрабатывает запросы чекаутов и статуса подписки
type SubscriptionHandler struct {
	checkout *service.CheckoutService
	access   *service.AccessService
	botToken string
	log      *logger.Logger
}

// NewSubscriptionHandler создает новый обработчик подписок
func NewSubscriptionHandler(checkout *service.CheckoutService, access *service.AccessService, botToken string, log *logger.Logger) *SubscriptionHandler {
	return &SubscriptionHandler{
		checkout: checkout,
		access:   access,
		botToken: botToken,
		log:      log,
	}
}

// CreateCheckout создает сессию оплаты и возвращает ссылки.
// Без провайдера в запросе создаются чекауты у всех провайдеров.
func (h *SubscriptionHandler) CreateCheckout(c *gin.Context) {
	var w http.ResponseWriter = c.Writer
	body, err := req.HandleBody[CheckoutRequest](&w, c.Request, h.log)
	if err != nil {
		c.Abort()
		return
	}

	user, err := telegram.VerifyInitData(body.InitData, h.botToken)
	if err != nil {
		res.JsonResponse(c.Writer, res.ErrorResponse{Error: "Invalid init data"}, http.StatusUnauthorized)
		c.Abort()
		return
	}

	ctx := c.Request.Context()
	links := make(map[string]string)

	if body.Provider != "" {
		resp, err := h.checkout.CreateCheckout(ctx, user, domain.Provider(body.Provider))
		if err != nil {
			h.writeCheckoutError(c, err, user.ID)
			return
		}
		links[body.Provider] = resp.PaymentLink
	} else {
		all, err := h.checkout.PaymentLinks(ctx, user)
		if err != nil {
			h.writeCheckoutError(c, err, user.ID)
			return
		}
		for provider, resp := range all {
			links[string(provider)] = resp.PaymentLink
		}
	}

	res.JsonResponse(c.Writer, CheckoutResponse{Links: links}, http.StatusOK)
}

func (h *SubscriptionHandler) writeCheckoutError(c *gin.Context, err error, userID int64) {
	switch {
	case errors.Is(err, domain.ErrUnsupportedProvider):
		res.JsonResponse(c.Writer, res.ErrorResponse{Error: "Unsupported payment provider"}, http.StatusBadRequest)
	case errors.Is(err, domain.ErrExternalServiceUnavailable):
		res.JsonResponse(c.Writer, res.ErrorResponse{Error: "Payment providers are unavailable"}, http.StatusBadGateway)
	default:
		h.log.Errorw("Failed to create checkout", "error", err, "userID", userID)
		res.JsonResponse(c.Writer, res.ErrorResponse{Error: "Internal server error"}, http.StatusInternalServerError)
	}
	c.Abort()
}

// CancelSubscription запрашивает отмену подписки у провайдера.
// Локальный статус сменится, когда провайдер пришлет вебхук об отмене.
func (h *SubscriptionHandler) CancelSubscription(c *gin.Context) {
	userID := middleware.UserID(c)
	ctx := c.Request.Context()

	_, sub, err := h.access.HasAccess(ctx, userID)
	if err != nil {
		h.log.Errorw("Failed to look up subscription for cancellation", "error", err, "userID", userID)
		res.JsonResponse(c.Writer, res.ErrorResponse{Error: "Internal server error"}, http.StatusInternalServerError)
		c.Abort()
		return
	}
	if sub == nil {
		res.JsonResponse(c.Writer, res.ErrorResponse{Error: "No active subscription"}, http.StatusNotFound)
		c.Abort()
		return
	}

	if err := h.checkout.RequestCancellation(ctx, sub); err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidTransition):
			res.JsonResponse(c.Writer, res.ErrorResponse{Error: "Subscription is not cancellable yet"}, http.StatusConflict)
		case errors.Is(err, domain.ErrUnsupportedProvider):
			res.JsonResponse(c.Writer, res.ErrorResponse{Error: "Unsupported payment provider"}, http.StatusConflict)
		default:
			res.JsonResponse(c.Writer, res.ErrorResponse{Error: "Payment provider is unavailable"}, http.StatusBadGateway)
		}
		c.Abort()
		return
	}

	res.JsonResponse(c.Writer, map[string]string{"status": "cancellation_requested"}, http.StatusAccepted)
}

// GetStatus возвращает текущее состояние подписки пользователя
func (h *SubscriptionHandler) GetStatus(c *gin.Context) {
	userID := middleware.UserID(c)

	hasAccess, sub, err := h.access.HasAccess(c.Request.Context(), userID)
	if err != nil {
		h.log.Errorw("Failed to check subscription status", "error", err, "userID", userID)
		res.JsonResponse(c.Writer, res.ErrorResponse{Error: "Internal server error"}, http.StatusInternalServerError)
		c.Abort()
		return
	}

	res.JsonResponse(c.Writer, StatusResponse{
		HasAccess:    hasAccess,
		Subscription: sub,
	}, http.StatusOK)
}
