package metrics

import (
	"time"

	"github.com/Dhoini/Membership-service/pkg/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// SubscriptionMetrics интерфейс для метрик жизненного цикла подписок
type SubscriptionMetrics interface {
	IncCheckoutCreated(provider string)
	IncWebhookReceived(provider string, kind string)
	IncWebhookRejected(provider string, reason string)
	IncTransition(from string, to string)
	IncReconciliationGap(provider string)
	ObserveSchedulerPass(pass string, duration time.Duration)
	IncSchedulerAction(action string)
}

type subscriptionMetrics struct {
	log                *logger.Logger
	checkoutsCreated   *prometheus.CounterVec
	webhooksReceived   *prometheus.CounterVec
	webhooksRejected   *prometheus.CounterVec
	transitions        *prometheus.CounterVec
	reconciliationGaps *prometheus.CounterVec
	schedulerPass      *prometheus.HistogramVec
	schedulerActions   *prometheus.CounterVec
}

// NewSubscriptionMetrics создает новые метрики подписок
func NewSubscriptionMetrics(registry *prometheus.Registry, log *logger.Logger) SubscriptionMetrics {
	checkoutsCreated := promauto.With(registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "checkouts_created_total",
			Help: "The total number of created checkout sessions",
		},
		[]string{"provider"},
	)

	webhooksReceived := promauto.With(registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhooks_received_total",
			Help: "The total number of received provider webhooks by kind",
		},
		[]string{"provider", "kind"},
	)

	webhooksRejected := promauto.With(registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhooks_rejected_total",
			Help: "The total number of rejected provider webhooks by reason",
		},
		[]string{"provider", "reason"},
	)

	transitions := promauto.With(registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "subscription_transitions_total",
			Help: "The total number of subscription status transitions",
		},
		[]string{"from", "to"},
	)

	reconciliationGaps := promauto.With(registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "reconciliation_gaps_total",
			Help: "The total number of subscriptions created from webhooks without a prior checkout",
		},
		[]string{"provider"},
	)

	schedulerPass := promauto.With(registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "scheduler_pass_duration_seconds",
			Help:    "Duration of background scheduler passes",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"pass"},
	)

	schedulerActions := promauto.With(registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "scheduler_actions_total",
			Help: "The total number of actions taken by the background scheduler",
		},
		[]string{"action"},
	)

	return &subscriptionMetrics{
		log:                log,
		checkoutsCreated:   checkoutsCreated,
		webhooksReceived:   webhooksReceived,
		webhooksRejected:   webhooksRejected,
		transitions:        transitions,
		reconciliationGaps: reconciliationGaps,
		schedulerPass:      schedulerPass,
		schedulerActions:   schedulerActions,
	}
}

// IncCheckoutCreated увеличивает счетчик созданных чекаутов
func (m *subscriptionMetrics) IncCheckoutCreated(provider string) {
	m.checkoutsCreated.WithLabelValues(provider).Inc()
}

// IncWebhookReceived увеличивает счетчик принятых вебхуков
func (m *subscriptionMetrics) IncWebhookReceived(provider string, kind string) {
	m.webhooksReceived.WithLabelValues(provider, kind).Inc()
}

// IncWebhookRejected увеличивает счетчик отклоненных вебхуков
func (m *subscriptionMetrics) IncWebhookRejected(provider string, reason string) {
	m.webhooksRejected.WithLabelValues(provider, reason).Inc()
}

// IncTransition увеличивает счетчик переходов статусов
func (m *subscriptionMetrics) IncTransition(from string, to string) {
	m.transitions.WithLabelValues(from, to).Inc()
}

// IncReconciliationGap увеличивает счетчик подписок, созданных без чекаута
func (m *subscriptionMetrics) IncReconciliationGap(provider string) {
	m.reconciliationGaps.WithLabelValues(provider).Inc()
}

// ObserveSchedulerPass записывает длительность прохода планировщика
func (m *subscriptionMetrics) ObserveSchedulerPass(pass string, duration time.Duration) {
	m.schedulerPass.WithLabelValues(pass).Observe(duration.Seconds())
}

// IncSchedulerAction увеличивает счетчик действий планировщика
func (m *subscriptionMetrics) IncSchedulerAction(action string) {
	m.schedulerActions.WithLabelValues(action).Inc()
}
