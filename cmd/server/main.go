package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Dhoini/Membership-service/config"
	"github.com/Dhoini/Membership-service/internal/api/rest"
	"github.com/Dhoini/Membership-service/internal/api/rest/handlers"
	"github.com/Dhoini/Membership-service/internal/api/rest/middleware"
	"github.com/Dhoini/Membership-service/internal/integration/paypal"
	"github.com/Dhoini/Membership-service/internal/integration/stripe"
	"github.com/Dhoini/Membership-service/internal/integration/telegram"
	"github.com/Dhoini/Membership-service/internal/kafka"
	"github.com/Dhoini/Membership-service/internal/kafka/producer"
	"github.com/Dhoini/Membership-service/internal/metrics"
	"github.com/Dhoini/Membership-service/internal/repository"
	"github.com/Dhoini/Membership-service/internal/repository/postgres"
	"github.com/Dhoini/Membership-service/internal/service"
	"github.com/Dhoini/Membership-service/pkg/logger"
	"github.com/IBM/sarama"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
)

var log *logger.Logger

func init() {
	// Загружаем переменные окружения
	if err := godotenv.Load(); err != nil {
		// Пропускаем ошибку, если .env файл не найден
	}

	// Инициализация логгера
	logLevel := logger.INFO
	if os.Getenv("DEBUG") == "true" {
		logLevel = logger.DEBUG
	}
	log = logger.New(logLevel)
}

func main() {
	// Загрузка конфигурации
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load configuration: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Инициализация Prometheus
	promRegistry := prometheus.NewRegistry()
	subMetrics := metrics.NewSubscriptionMetrics(promRegistry, log)
	systemMetrics := metrics.NewSystemMetrics(promRegistry, log)

	// Запускаем сбор системных метрик
	systemMetrics.StartRecording(15 * time.Second)
	defer systemMetrics.Stop()

	// Подключение к базе данных
	db, err := postgres.NewConnection(ctx, cfg.Database.GetDSN(), log)
	if err != nil {
		log.Fatal("Failed to connect to database: %v", err)
	}
	defer db.Close()

	var subs repository.SubscriptionRepository = repository.NewPostgresSubscriptionRepository(db, log)
	users := repository.NewPostgresUserRepository(db, log)
	eventLog := repository.NewPostgresEventLog(db, log)

	// Кеширование доступа через Redis
	if cfg.Redis.Enabled {
		cache, err := repository.NewRedisCacheRepository(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, log)
		if err != nil {
			log.Fatal("Failed to connect to Redis: %v", err)
		}
		defer cache.Close()
		subs = repository.NewCachedSubscriptionRepository(subs, cache, log)
	}

	// Аудит-события в Kafka
	var audit service.AuditPublisher = service.NopAuditPublisher{}
	if cfg.Kafka.Enabled {
		kafkaConfig := kafka.NewConfig(cfg.Kafka.Brokers)
		saramaConfig := kafka.NewSaramaConfig(kafkaConfig)

		kafkaProducer, err := sarama.NewSyncProducer(kafkaConfig.Brokers, saramaConfig)
		if err != nil {
			log.Fatal("Failed to create Kafka producer: %v", err)
		}

		subProducer := producer.NewKafkaSubscriptionProducer(kafkaProducer, log)
		defer subProducer.Close()
		audit = subProducer
	}

	// Telegram: уведомления и управление группой
	tgClient := telegram.NewClient(telegram.Config{
		BotToken:    cfg.Telegram.BotToken,
		GroupChatID: cfg.Telegram.GroupChatID,
		AppURL:      cfg.Telegram.AppURL,
	}, log)

	// Платежные провайдеры
	stripeClient := stripe.NewClient(stripe.Config{
		APIKey:    cfg.Stripe.APIKey,
		PriceID:   cfg.Stripe.PriceID,
		ReturnURL: cfg.Stripe.ReturnURL,
		CancelURL: cfg.Stripe.CancelURL,
	}, log)
	paypalClient := paypal.NewClient(paypal.Config{
		ClientID:     cfg.PayPal.ClientID,
		ClientSecret: cfg.PayPal.ClientSecret,
		WebhookID:    cfg.PayPal.WebhookID,
		PlanID:       cfg.PayPal.PlanID,
		APIBase:      cfg.PayPal.APIBase,
		ReturnURL:    cfg.PayPal.ReturnURL,
		CancelURL:    cfg.PayPal.CancelURL,
	}, log)

	// Сервисы
	lifecycle := service.NewLifecycleService(subs, tgClient, tgClient, audit, subMetrics, cfg.Billing.Period, log)
	reconciler := service.NewReconcilerService(subs, eventLog, lifecycle, subMetrics, log)
	checkout := service.NewCheckoutService(subs, users,
		[]service.PaymentProvider{stripeClient, paypalClient},
		subMetrics, cfg.Billing.Amount, cfg.Billing.Currency, log)
	access := service.NewAccessService(subs, cfg.Auth.JWTSecret, cfg.Auth.TokenTTL, cfg.Telegram.AdminIDs, log)

	// Фоновый планировщик
	scheduler := service.NewScheduler(subs, lifecycle, tgClient, subMetrics, service.SchedulerOptions{
		Interval:        cfg.Scheduler.Interval,
		NudgeMinAge:     cfg.Scheduler.NudgeMinAge,
		NudgeCooldown:   cfg.Scheduler.NudgeCooldown,
		WarningWindow:   cfg.Scheduler.WarningWindow,
		WarningCooldown: cfg.Scheduler.WarningCooldown,
	}, log)
	scheduler.Start()
	defer scheduler.Stop()

	// Установка режима Gin
	if os.Getenv("GIN_MODE") == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	// Настройка маршрутизатора
	router := rest.SetupRouter(rest.Handlers{
		Auth:         handlers.NewAuthHandler(access, users, cfg.Telegram.BotToken, log),
		Subscription: handlers.NewSubscriptionHandler(checkout, access, cfg.Telegram.BotToken, log),
		Webhook: handlers.NewWebhookHandler(reconciler,
			stripe.NewVerifier(cfg.Stripe.WebhookSecret), paypalClient, subMetrics, log),
	}, middleware.AuthMiddleware(access, log), log, promRegistry)

	// Создание и запуск HTTP сервера
	server := rest.NewServer(router, cfg, log)

	go func() {
		if err := server.Start(); err != nil {
			log.Fatal("Server error: %v", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownTimeout := time.Duration(cfg.Server.ShutdownTimeout) * time.Second
	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()

	if err := server.Shutdown(ctxShutdown); err != nil {
		log.Fatal("Server forced to shutdown: %v", err)
	}

	log.Info("Server stopped gracefully")
}
