package rest

import (
	"github.com/Dhoini/Membership-service/internal/api/rest/handlers"
	"github.com/Dhoini/Membership-service/internal/api/rest/middleware"
	"github.com/Dhoini/Membership-service/pkg/logger"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handlers обработчики, подключаемые к роутеру
type Handlers struct {
	Auth         *handlers.AuthHandler
	Subscription *handlers.SubscriptionHandler
	Webhook      *handlers.WebhookHandler
}

// SetupRouter настраивает маршрутизатор Gin с маршрутами и middleware
func SetupRouter(h Handlers, authMiddleware gin.HandlerFunc, log *logger.Logger, registry *prometheus.Registry) *gin.Engine {
	r := gin.New()

	// Подключение middleware
	r.Use(middleware.LoggerMiddleware(log))
	r.Use(gin.Recovery())

	// Endpoint для проверки работоспособности сервиса
	r.GET("/health", handlers.HealthCheck)

	// Prometheus метрики
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	v1 := r.Group("/api/v1")
	{
		// Аутентификация и чекаут открыты до покупки, их защищает initData
		v1.POST("/auth/telegram", h.Auth.Authenticate)
		v1.POST("/checkout", h.Subscription.CreateCheckout)

		// Состояние подписки доступно только по токену участника
		protected := v1.Group("/subscription")
		protected.Use(authMiddleware)
		{
			protected.GET("", h.Subscription.GetStatus)
			protected.DELETE("", h.Subscription.CancelSubscription)
		}
	}

	// Вебхуки на корневом уровне роутера
	webhooks := r.Group("/webhooks")
	{
		webhooks.POST("/stripe", h.Webhook.HandleStripeWebhook)
		webhooks.POST("/paypal", h.Webhook.HandlePayPalWebhook)
	}

	return r
}
