package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/IBM/sarama"

	"github.com/Dhoini/Billing-microservice/internal/domain"
	"github.com/Dhoini/Billing-microservice/pkg/logger"
)

const headerEventType = "event_type"

// InvitationEventType - значение заголовка event_type для приглашений
const InvitationEventType = "billing.member.invitation"

// BillingProducer публикует события биллинга и приглашения участников
type BillingProducer struct {
	producer        sarama.SyncProducer
	eventsTopic     string
	invitationTopic string
	log             *logger.Logger
}

// NewSyncProducer подключается к брокерам
func NewSyncProducer(cfg *Config, log *logger.Logger) (sarama.SyncProducer, error) {
	if len(cfg.Brokers) == 0 {
		log.Errorw("Kafka brokers list is empty in config, cannot create producer")
		return nil, errors.New("kafka brokers are not configured")
	}
	producer, err := sarama.NewSyncProducer(cfg.Brokers, NewSaramaConfig(cfg))
	if err != nil {
		log.Errorw("Failed to create Kafka producer", "brokers", cfg.Brokers, "error", err)
		return nil, fmt.Errorf("kafka: create producer: %w", err)
	}
	log.Infow("Kafka producer initialized", "brokers", cfg.Brokers)
	return producer, nil
}

// NewBillingProducer создает продюсер поверх готового SyncProducer
func NewBillingProducer(producer sarama.SyncProducer, cfg *Config, log *logger.Logger) *BillingProducer {
	return &BillingProducer{
		producer:        producer,
		eventsTopic:     cfg.EventsTopic,
		invitationTopic: cfg.InvitationTopic,
		log:             log.With("component", "kafka_producer"),
	}
}

// PublishBillingEvent публикует событие биллинга с ключом company_id
func (p *BillingProducer) PublishBillingEvent(ctx context.Context, event domain.BillingEvent) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	return p.send(ctx, p.eventsTopic, event.CompanyID, string(event.Type), event)
}

// SendInvitation публикует приглашение для сервиса рассылки
func (p *BillingProducer) SendInvitation(ctx context.Context, inv domain.Invitation) error {
	return p.send(ctx, p.invitationTopic, inv.CompanyID, InvitationEventType, inv)
}

func (p *BillingProducer) send(ctx context.Context, topic, key, eventType string, payload any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	value, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("kafka: failed to marshal %s: %w", eventType, err)
	}

	message := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(value),
		Headers: []sarama.RecordHeader{
			{Key: []byte(headerEventType), Value: []byte(eventType)},
		},
		Timestamp: time.Now(),
	}

	partition, offset, err := p.producer.SendMessage(message)
	if err != nil {
		p.log.Errorw("Failed to write message to Kafka", "topic", topic, "eventType", eventType, "error", err)
		return fmt.Errorf("kafka: failed to publish %s: %w", eventType, err)
	}

	p.log.Debugw("Published message to Kafka", "topic", topic, "eventType", eventType,
		"partition", partition, "offset", offset)
	return nil
}

// Close закрывает продюсер
func (p *BillingProducer) Close() error {
	p.log.Infow("Closing Kafka producer...")
	if err := p.producer.Close(); err != nil {
		p.log.Errorw("Failed to close Kafka producer", "error", err)
		return fmt.Errorf("kafka: failed to close producer: %w", err)
	}
	return nil
}
