package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config структура конфигурации приложения
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Kafka     KafkaConfig
	Logging   LoggingConfig
	Stripe    StripeConfig
	PayPal    PayPalConfig
	Telegram  TelegramConfig
	Auth      AuthConfig
	Scheduler SchedulerConfig
	Billing   BillingConfig
}

// ServerConfig конфигурация HTTP сервера
type ServerConfig struct {
	Port            string
	ReadTimeout     int
	WriteTimeout    int
	ShutdownTimeout int
}

// DatabaseConfig конфигурация базы данных
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// RedisConfig конфигурация Redis (кеш проверок доступа)
type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
}

// KafkaConfig конфигурация Kafka (аудит-события подписок)
type KafkaConfig struct {
	Enabled bool
	Brokers []string
}

// LoggingConfig конфигурация логгера
type LoggingConfig struct {
	Level string
}

// StripeConfig конфигурация Stripe
type StripeConfig struct {
	APIKey        string
	WebhookSecret string
	PriceID       string
	ReturnURL     string
	CancelURL     string
}

// PayPalConfig конфигурация PayPal
type PayPalConfig struct {
	ClientID     string
	ClientSecret string
	WebhookID    string
	PlanID       string
	APIBase      string
	ReturnURL    string
	CancelURL    string
}

// TelegramConfig конфигурация Telegram-бота и закрытой группы
type TelegramConfig struct {
	BotToken    string
	GroupChatID string
	AppURL      string
	AdminIDs    []int64
}

// AuthConfig конфигурация выдачи токенов доступа
type AuthConfig struct {
	JWTSecret string
	TokenTTL  time.Duration
}

// SchedulerConfig пороги и интервалы фонового планировщика
type SchedulerConfig struct {
	Interval        time.Duration // период между запусками
	NudgeMinAge     time.Duration // минимальный возраст pending-подписки для напоминания
	NudgeCooldown   time.Duration // пауза между напоминаниями одной подписке
	WarningWindow   time.Duration // за сколько до окончания предупреждаем
	WarningCooldown time.Duration // пауза между предупреждениями одной подписке
}

// BillingConfig параметры подписки по умолчанию
type BillingConfig struct {
	Period   time.Duration // длительность оплаченного периода, если провайдер не прислал свою
	Amount   float64
	Currency string
}

// GetDSN возвращает строку подключения к базе данных
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// Load загружает конфигурацию из переменных окружения
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:            getEnv("PORT", "8080"),
			ReadTimeout:     getEnvAsInt("SERVER_READ_TIMEOUT", 15),
			WriteTimeout:    getEnvAsInt("SERVER_WRITE_TIMEOUT", 15),
			ShutdownTimeout: getEnvAsInt("SERVER_SHUTDOWN_TIMEOUT", 30),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			Database: getEnv("DB_NAME", "membership_service"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Enabled:  getEnvAsBool("REDIS_ENABLED", false),
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Kafka: KafkaConfig{
			Enabled: getEnvAsBool("KAFKA_ENABLED", false),
			Brokers: getEnvAsSlice("KAFKA_BROKERS", []string{"localhost:9092"}),
		},
		Logging: LoggingConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Stripe: StripeConfig{
			APIKey:        getEnv("STRIPE_API_KEY", ""),
			WebhookSecret: getEnv("STRIPE_WEBHOOK_SECRET", ""),
			PriceID:       getEnv("STRIPE_PRICE_ID", ""),
			ReturnURL:     getEnv("STRIPE_RETURN_URL", ""),
			CancelURL:     getEnv("STRIPE_CANCEL_URL", ""),
		},
		PayPal: PayPalConfig{
			ClientID:     getEnv("PAYPAL_CLIENT_ID", ""),
			ClientSecret: getEnv("PAYPAL_CLIENT_SECRET", ""),
			WebhookID:    getEnv("PAYPAL_WEBHOOK_ID", ""),
			PlanID:       getEnv("PAYPAL_PLAN_ID", ""),
			APIBase:      getEnv("PAYPAL_API_BASE", "https://api-m.sandbox.paypal.com"),
			ReturnURL:    getEnv("PAYPAL_RETURN_URL", ""),
			CancelURL:    getEnv("PAYPAL_CANCEL_URL", ""),
		},
		Telegram: TelegramConfig{
			BotToken:    getEnv("BOT_TOKEN", ""),
			GroupChatID: getEnv("CLOSED_GROUP_CHAT_ID", ""),
			AppURL:      getEnv("APP_URL", ""),
			AdminIDs:    getEnvAsInt64Slice("ADMIN_IDS", nil),
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("JWT_SECRET", "devsecret"),
			TokenTTL:  getEnvAsDuration("JWT_TTL", 7*24*time.Hour),
		},
		Scheduler: SchedulerConfig{
			Interval:        getEnvAsDuration("SCHEDULER_INTERVAL", time.Hour),
			NudgeMinAge:     getEnvAsDuration("NUDGE_MIN_AGE", 3*time.Hour),
			NudgeCooldown:   getEnvAsDuration("NUDGE_COOLDOWN", 24*time.Hour),
			WarningWindow:   getEnvAsDuration("WARNING_WINDOW", 72*time.Hour),
			WarningCooldown: getEnvAsDuration("WARNING_COOLDOWN", 24*time.Hour),
		},
		Billing: BillingConfig{
			Period:   getEnvAsDuration("SUBSCRIPTION_PERIOD", 30*24*time.Hour),
			Amount:   getEnvAsFloat("SUBSCRIPTION_PRICE", 10.00),
			Currency: getEnv("SUBSCRIPTION_CURRENCY", "EUR"),
		},
	}

	return cfg, nil
}

// getEnv получает значение переменной окружения или возвращает значение по умолчанию
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// getEnvAsInt получает значение переменной окружения как int или возвращает значение по умолчанию
func getEnvAsInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvAsBool получает значение переменной окружения как bool или возвращает значение по умолчанию
func getEnvAsBool(key string, defaultValue bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// getEnvAsFloat получает значение переменной окружения как float64 или возвращает значение по умолчанию
func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value, exists := os.LookupEnv(key); exists {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

// getEnvAsDuration получает значение переменной окружения как time.Duration или возвращает значение по умолчанию
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// getEnvAsSlice получает значение переменной окружения как список строк через запятую
func getEnvAsSlice(key string, defaultValue []string) []string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		parts := strings.Split(value, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts
	}
	return defaultValue
}

// getEnvAsInt64Slice получает значение переменной окружения как список int64 через запятую
func getEnvAsInt64Slice(key string, defaultValue []int64) []int64 {
	value, exists := os.LookupEnv(key)
	if !exists || value == "" {
		return defaultValue
	}

	var ids []int64
	for _, part := range strings.Split(value, ",") {
		id, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids
}
