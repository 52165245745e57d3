package producer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Dhoini/Membership-service/internal/domain"
	"github.com/Dhoini/Membership-service/pkg/logger"
	"github.com/IBM/sarama"
)

const (
	TopicStatusChanged     = "subscription.status_changed"
	TopicReconciliationGap = "subscription.reconciliation_gap"
)

// StatusChangeEvent аудит-событие смены статуса подписки
type StatusChangeEvent struct {
	SubscriptionID string                    `json:"subscription_id"`
	UserID         int64                     `json:"user_id"`
	Provider       domain.Provider           `json:"provider"`
	From           domain.SubscriptionStatus `json:"from"`
	To             domain.SubscriptionStatus `json:"to"`
	ExpiresAt      *time.Time                `json:"expires_at,omitempty"`
	Timestamp      time.Time                 `json:"timestamp"`
}

// ReconciliationGapEvent аудит-событие подписки, восстановленной по вебхуку
type ReconciliationGapEvent struct {
	SubscriptionID         string          `json:"subscription_id"`
	UserID                 int64           `json:"user_id"`
	Provider               domain.Provider `json:"provider"`
	ProviderEventID        string          `json:"provider_event_id"`
	ProviderSubscriptionID string          `json:"provider_subscription_id,omitempty"`
	OrderID                string          `json:"order_id,omitempty"`
	Timestamp              time.Time       `json:"timestamp"`
}

// SubscriptionProducer публикует аудит-события подписок в Kafka
type SubscriptionProducer interface {
	PublishStatusChange(ctx context.Context, sub *domain.Subscription, from, to domain.SubscriptionStatus) error
	PublishReconciliationGap(ctx context.Context, sub *domain.Subscription, event *domain.ProviderEvent) error
	Close() error
}

type kafkaSubscriptionProducer struct {
	producer sarama.SyncProducer
	log      *logger.Logger
}

// NewKafkaSubscriptionProducer создает новый продюсер аудит-событий подписок
func NewKafkaSubscriptionProducer(producer sarama.SyncProducer, log *logger.Logger) SubscriptionProducer {
	return &kafkaSubscriptionProducer{
		producer: producer,
		log:      log,
	}
}

// PublishStatusChange публикует событие смены статуса подписки
func (p *kafkaSubscriptionProducer) PublishStatusChange(_ context.Context, sub *domain.Subscription, from, to domain.SubscriptionStatus) error {
	event := StatusChangeEvent{
		SubscriptionID: sub.ID.String(),
		UserID:         sub.UserID,
		Provider:       sub.Provider,
		From:           from,
		To:             to,
		ExpiresAt:      sub.ExpiresAt,
		Timestamp:      time.Now(),
	}
	return p.publishEvent(TopicStatusChanged, sub.ID.String(), event)
}

// PublishReconciliationGap публикует событие восстановления подписки по вебхуку
func (p *kafkaSubscriptionProducer) PublishReconciliationGap(_ context.Context, sub *domain.Subscription, providerEvent *domain.ProviderEvent) error {
	event := ReconciliationGapEvent{
		SubscriptionID:         sub.ID.String(),
		UserID:                 sub.UserID,
		Provider:               sub.Provider,
		ProviderEventID:        providerEvent.EventID,
		ProviderSubscriptionID: sub.ProviderSubscriptionID,
		OrderID:                sub.OrderID,
		Timestamp:              time.Now(),
	}
	return p.publishEvent(TopicReconciliationGap, sub.ID.String(), event)
}

// publishEvent публикует событие в Kafka
func (p *kafkaSubscriptionProducer) publishEvent(topic, key string, event interface{}) error {
	messageValue, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal subscription event: %w", err)
	}

	message := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(messageValue),
		Headers: []sarama.RecordHeader{
			{
				Key:   []byte("event_type"),
				Value: []byte(topic),
			},
		},
		Timestamp: time.Now(),
	}

	partition, offset, err := p.producer.SendMessage(message)
	if err != nil {
		return fmt.Errorf("failed to publish subscription event: %w", err)
	}

	p.log.Debugw("Published subscription event", "topic", topic, "partition", partition, "offset", offset)
	return nil
}

// Close закрывает продюсер
func (p *kafkaSubscriptionProducer) Close() error {
	return p.producer.Close()
}
